// Package config provides configuration management for go-emby-bridge.
// It uses koanf to layer struct defaults, an optional YAML file and
// environment variables, then validates the result.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ErrConfigurationMissing is returned when a setting required to reach the
// Emby server (URL or API token) is empty.
var ErrConfigurationMissing = errors.New("configuration missing")

// Config holds the complete configuration for the go-emby-bridge application.
type Config struct {
	Emby    EmbyConfig    `koanf:"emby"`
	Poller  PollerConfig  `koanf:"poller"`
	Storage StorageConfig `koanf:"storage"`
	Server  ServerConfig  `koanf:"server"`
	Logging LoggingConfig `koanf:"logging"`
}

// EmbyConfig contains Emby server connection and authentication settings.
type EmbyConfig struct {
	ServerURL string `koanf:"server_url"`
	APIKey    string `koanf:"api_key"`
	// TokenHeader is the request header carrying APIKey. Emby and Jellyfin
	// both accept X-Emby-Token; some proxies expect X-MediaBrowser-Token.
	TokenHeader    string        `koanf:"token_header"`
	Timeout        time.Duration `koanf:"timeout"`
	VerifySSL      bool          `koanf:"verify_ssl"`
	ServerName     string        `koanf:"server_name"`
	ClientName     string        `koanf:"client_name"`
	DeviceID       string        `koanf:"device_id"`
	RateLimit      float64       `koanf:"rate_limit"`
	RateBurst      int           `koanf:"rate_burst"`
	CircuitBreaker bool          `koanf:"circuit_breaker"`
}

// PollerConfig controls the activity and inventory polling loops.
type PollerConfig struct {
	Enabled           bool          `koanf:"enabled"`
	Interval          time.Duration `koanf:"interval"`
	InventoryInterval time.Duration `koanf:"inventory_interval"`
}

// StorageConfig defines where snapshots are persisted and exported.
type StorageConfig struct {
	Directory  string `koanf:"directory"`
	ExportPath string `koanf:"export_path"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Enabled           bool          `koanf:"enabled"`
	Port              int           `koanf:"port"`
	Host              string        `koanf:"host"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	EnableCompression bool          `koanf:"enable_compression"`
	AllowedOrigins    []string      `koanf:"allowed_origins"`
}

// LoggingConfig defines logging behavior and output format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	File   string `koanf:"file"`
}

// Default returns the configuration used before any file or environment
// variable is applied.
func Default() *Config {
	return &Config{
		Emby: EmbyConfig{
			ServerURL:      "http://localhost:8096",
			TokenHeader:    "X-Emby-Token",
			Timeout:        30 * time.Second,
			VerifySSL:      true,
			ServerName:     "Emby Server",
			ClientName:     "go-emby-bridge",
			DeviceID:       "go-emby-bridge",
			RateLimit:      10,
			RateBurst:      5,
			CircuitBreaker: true,
		},
		Poller: PollerConfig{
			Enabled:           true,
			Interval:          10 * time.Second,
			InventoryInterval: time.Hour,
		},
		Storage: StorageConfig{
			Directory: "./data",
		},
		Server: ServerConfig{
			Enabled:        true,
			Port:           8181,
			Host:           "0.0.0.0",
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at configPath
// (skipped when configPath is empty) and the environment, in that order.
// Returns a validated Config or an error if loading/validation fails.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// envKeys maps recognized environment variables to koanf paths. The EMBY_*
// names are the ones operators already export for the Emby tooling.
var envKeys = map[string]string{
	"EMBY_URL":                   "emby.server_url",
	"EMBY_SERVER_URL":            "emby.server_url",
	"EMBY_API_KEY":               "emby.api_key",
	"EMBY_TOKEN_HEADER":          "emby.token_header",
	"EMBY_TIMEOUT":               "emby.timeout",
	"EMBY_SSL_VERIFY":            "emby.verify_ssl",
	"EMBY_VERIFY_SSL":            "emby.verify_ssl",
	"EMBY_SERVER_NAME":           "emby.server_name",
	"EMBY_RATE_LIMIT":            "emby.rate_limit",
	"EMBY_CIRCUIT_BREAKER":       "emby.circuit_breaker",
	"BRIDGE_POLL_INTERVAL":       "poller.interval",
	"BRIDGE_INVENTORY_INTERVAL":  "poller.inventory_interval",
	"BRIDGE_POLLER_ENABLED":      "poller.enabled",
	"BRIDGE_STORAGE_DIR":         "storage.directory",
	"BRIDGE_EXPORT_PATH":         "storage.export_path",
	"BRIDGE_SERVER_ENABLED":      "server.enabled",
	"BRIDGE_SERVER_HOST":         "server.host",
	"BRIDGE_SERVER_PORT":         "server.port",
	"BRIDGE_LOG_LEVEL":           "logging.level",
	"BRIDGE_LOG_FORMAT":          "logging.format",
	"BRIDGE_LOG_FILE":            "logging.file",
	"BRIDGE_ALLOWED_ORIGINS":     "server.allowed_origins",
	"BRIDGE_ENABLE_COMPRESSION":  "server.enable_compression",
}

// envTransform maps an environment variable to its koanf path and value.
// Unknown variables return an empty key, which koanf ignores.
func envTransform(key, value string) (string, interface{}) {
	path, ok := envKeys[key]
	if !ok {
		return "", nil
	}

	switch path {
	case "emby.timeout":
		// Bare integers are seconds.
		if secs, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return path, time.Duration(secs) * time.Second
		}
	case "emby.verify_ssl", "emby.circuit_breaker", "poller.enabled", "server.enabled", "server.enable_compression":
		return path, strings.EqualFold(strings.TrimSpace(value), "true")
	case "server.allowed_origins":
		return path, strings.Split(value, ",")
	}

	return path, value
}

// GetLogLevel converts the string log level to slog.Level.
// Returns slog.LevelInfo for invalid or unknown levels.
func (c *LoggingConfig) GetLogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Address returns the host:port the HTTP server listens on.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
