package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/natefinch/atomic"
	"github.com/schollz/progressbar/v3"

	"github.com/opd-ai/go-emby-bridge/internal/canonical"
)

// Export is the document written by ExportInventory.
type Export struct {
	GeneratedAt time.Time                 `json:"generated_at"`
	Server      *canonical.ServerIdentity `json:"server,omitempty"`
	Users       []canonical.User          `json:"users"`
	Libraries   []canonical.Library       `json:"libraries"`
	Activity    canonical.Activity        `json:"activity"`
}

// ExportResult describes a written export file.
type ExportResult struct {
	Path     string `json:"path"`
	Size     int64  `json:"size_bytes"`
	Checksum string `json:"sha256"`
}

// Exporter writes export documents atomically. When progress is non-nil a
// byte progress bar is drawn to it while the file is written.
type Exporter struct {
	logger   *slog.Logger
	progress io.Writer
}

// NewExporter creates an exporter. Pass a nil progress writer to disable
// the progress bar.
func NewExporter(logger *slog.Logger, progress io.Writer) *Exporter {
	return &Exporter{
		logger:   logger,
		progress: progress,
	}
}

// ExportInventory writes export to path. A reader never observes a partial
// file: the data goes to a temporary file that is renamed into place.
func (e *Exporter) ExportInventory(path string, export *Export) (*ExportResult, error) {
	if export.Users == nil {
		export.Users = []canonical.User{}
	}
	if export.Libraries == nil {
		export.Libraries = []canonical.Library{}
	}
	if export.Activity.Sessions == nil {
		export.Activity = canonical.EmptyActivity()
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal export: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	hasher := sha256.New()
	var reader io.Reader = io.TeeReader(bytes.NewReader(data), hasher)

	if e.progress != nil {
		bar := progressbar.NewOptions64(int64(len(data)),
			progressbar.OptionSetWriter(e.progress),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetDescription(fmt.Sprintf("Writing %s", filepath.Base(path))),
		)
		reader = io.TeeReader(reader, bar)
	}

	if err := atomic.WriteFile(path, reader); err != nil {
		return nil, fmt.Errorf("atomic write failed for %s: %w", path, err)
	}

	result := &ExportResult{
		Path:     path,
		Size:     int64(len(data)),
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}

	e.logger.Info("Inventory exported",
		"path", path,
		"users", len(export.Users),
		"libraries", len(export.Libraries),
		"stream_count", export.Activity.StreamCount,
		"size_bytes", result.Size)

	return result, nil
}

// ReadExport loads an export file written by ExportInventory.
func ReadExport(path string) (*Export, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read export: %w", err)
	}

	var export Export
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("failed to unmarshal export: %w", err)
	}
	return &export, nil
}
