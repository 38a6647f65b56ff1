package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// validate performs comprehensive validation of the configuration.
// Returns an error describing the first validation failure found.
func validate(config *Config) error {
	if err := ValidateEmby(&config.Emby); err != nil {
		return fmt.Errorf("emby config: %w", err)
	}

	if err := validatePoller(&config.Poller); err != nil {
		return fmt.Errorf("poller config: %w", err)
	}

	if err := validateStorage(&config.Storage); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := validateServer(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := validateLogging(&config.Logging); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// ValidateEmby checks the settings needed before any request is attempted.
// A missing URL or token wraps ErrConfigurationMissing.
func ValidateEmby(config *EmbyConfig) error {
	if config.ServerURL == "" {
		return fmt.Errorf("server_url is required: %w", ErrConfigurationMissing)
	}

	if !strings.HasPrefix(config.ServerURL, "http://") && !strings.HasPrefix(config.ServerURL, "https://") {
		return fmt.Errorf("server_url must start with http:// or https://")
	}

	if config.APIKey == "" {
		return fmt.Errorf("api_key is required: %w", ErrConfigurationMissing)
	}

	if config.TokenHeader == "" {
		return fmt.Errorf("token_header cannot be empty")
	}

	if strings.ContainsAny(config.TokenHeader, " :\t\r\n") {
		return fmt.Errorf("token_header %q is not a valid header name", config.TokenHeader)
	}

	if config.Timeout < time.Second || config.Timeout > 5*time.Minute {
		return fmt.Errorf("timeout must be between 1s and 5m")
	}

	if config.RateLimit < 0 {
		return fmt.Errorf("rate_limit cannot be negative")
	}

	if config.RateLimit > 0 && config.RateBurst <= 0 {
		return fmt.Errorf("rate_burst must be positive when rate_limit is set")
	}

	return nil
}

// validatePoller validates polling intervals.
func validatePoller(config *PollerConfig) error {
	if !config.Enabled {
		return nil
	}

	if config.Interval < time.Second {
		return fmt.Errorf("interval must be at least 1s")
	}

	if config.InventoryInterval < time.Minute {
		return fmt.Errorf("inventory_interval must be at least 1m")
	}

	return nil
}

// validateStorage validates the storage directory and its permissions.
func validateStorage(config *StorageConfig) error {
	if config.Directory == "" {
		return fmt.Errorf("directory is required")
	}

	if err := os.MkdirAll(config.Directory, 0755); err != nil {
		return fmt.Errorf("cannot create storage directory %s: %w", config.Directory, err)
	}

	testFile := filepath.Join(config.Directory, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		return fmt.Errorf("storage directory %s is not writable: %w", config.Directory, err)
	}
	os.Remove(testFile)

	return nil
}

// validateServer validates HTTP server configuration.
func validateServer(config *ServerConfig) error {
	if !config.Enabled {
		return nil
	}

	if config.Port <= 0 || config.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}

	if config.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}

	return nil
}

// validateLogging validates logging configuration.
func validateLogging(config *LoggingConfig) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, config.Level) {
		return fmt.Errorf("level must be one of: %s", strings.Join(validLevels, ", "))
	}

	validFormats := []string{"json", "text"}
	if !contains(validFormats, config.Format) {
		return fmt.Errorf("format must be one of: %s", strings.Join(validFormats, ", "))
	}

	if config.File != "" {
		logDir := filepath.Dir(config.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return fmt.Errorf("cannot create log directory %s: %w", logDir, err)
		}
	}

	return nil
}

// contains checks if a slice contains a specific string.
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
