// Command go-emby-bridge polls an Emby server and serves its sessions,
// users and libraries in the canonical activity schema.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/opd-ai/go-emby-bridge/internal/bridge"
	"github.com/opd-ai/go-emby-bridge/internal/emby"
	"github.com/opd-ai/go-emby-bridge/internal/server"
	"github.com/opd-ai/go-emby-bridge/internal/storage"
	"github.com/opd-ai/go-emby-bridge/pkg/config"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	once := flag.Bool("once", false, "print the current activity as JSON and exit")
	exportPath := flag.String("export", "", "sync inventory and activity, write them to this file and exit")
	progress := flag.Bool("progress", false, "show a progress bar while exporting")
	check := flag.Bool("check", false, "check connectivity and server identity, then exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, config.ErrConfigurationMissing) {
			fmt.Fprintln(os.Stderr, "Set EMBY_URL and EMBY_API_KEY or provide them in the config file.")
		}
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog, err := newLogger(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := emby.New(&cfg.Emby, logger)
	if err != nil {
		logger.Error("Failed to create Emby client", "error", err)
		os.Exit(1)
	}
	b := bridge.New(client, logger, bridge.WithServerName(cfg.Emby.ServerName))

	switch {
	case *check:
		err = runCheck(ctx, b, os.Stdout)
	case *once:
		err = runOnce(ctx, b, os.Stdout)
	case *exportPath != "":
		var bar io.Writer
		if *progress {
			bar = os.Stderr
		}
		err = runExport(ctx, b, storage.NewExporter(logger, bar), *exportPath, os.Stdout)
	default:
		err = runDaemon(ctx, cfg, b, logger)
	}

	if err != nil {
		logger.Error("Exiting with error", "error", err)
		stop()
		closeLog()
		os.Exit(1)
	}
}

// newLogger builds the slog logger described by cfg. The returned function
// closes the log file, if one was opened.
func newLogger(cfg *config.LoggingConfig) (*slog.Logger, func(), error) {
	var out io.Writer = os.Stdout
	closer := func() {}

	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		out = f
		closer = func() { f.Close() }
	}

	opts := &slog.HandlerOptions{Level: cfg.GetLogLevel()}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	return slog.New(handler).With("service", "go-emby-bridge", "version", version), closer, nil
}

func runOnce(ctx context.Context, b *bridge.Bridge, out io.Writer) error {
	return writeJSON(out, b.CurrentActivity(ctx))
}

func runCheck(ctx context.Context, b *bridge.Bridge, out io.Writer) error {
	if err := b.Ping(ctx); err != nil {
		return fmt.Errorf("emby server unreachable: %w", err)
	}

	identity, err := b.ServerIdentity(ctx)
	if err != nil {
		return err
	}

	name, err := b.ServerFriendlyName(ctx)
	if err != nil {
		slog.Warn("Failed to get server name", "error", err)
	}

	return writeJSON(out, map[string]interface{}{
		"status":        "ok",
		"server":        identity,
		"friendly_name": name,
	})
}

func runExport(ctx context.Context, b *bridge.Bridge, exporter *storage.Exporter, path string, out io.Writer) error {
	inv, err := b.SyncInventory(ctx)
	if err != nil {
		return err
	}

	export := &storage.Export{
		GeneratedAt: time.Now().UTC(),
		Users:       inv.Users,
		Libraries:   inv.Libraries,
		Activity:    b.CurrentActivity(ctx),
	}

	if identity, err := b.ServerIdentity(ctx); err == nil {
		export.Server = identity
	} else {
		slog.Warn("Exporting without server identity", "error", err)
	}

	result, err := exporter.ExportInventory(path, export)
	if err != nil {
		return err
	}
	return writeJSON(out, result)
}

func runDaemon(ctx context.Context, cfg *config.Config, b *bridge.Bridge, logger *slog.Logger) error {
	store, err := storage.NewManager(&cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := b.Ping(ctx); err != nil {
		logger.Warn("Emby server is not answering yet", "error", err)
	}

	poller := bridge.NewPoller(b, store, &cfg.Poller, logger)

	var srv *server.Server
	if cfg.Server.Enabled {
		server.Version = version
		srv = server.New(&cfg.Server, b, store, logger)
		poller.AddPublisher(srv.Hub())
	}

	if cfg.Poller.Enabled {
		if err := poller.Start(ctx); err != nil {
			return err
		}
		defer poller.Stop()
	}

	if cfg.Storage.ExportPath != "" {
		go exportLoop(ctx, store, storage.NewExporter(logger, nil), cfg.Storage.ExportPath, cfg.Poller.InventoryInterval, logger)
	}

	logger.Info("Bridge running",
		"emby_url", cfg.Emby.ServerURL,
		"poller", cfg.Poller.Enabled,
		"http", cfg.Server.Enabled)

	if srv != nil {
		return srv.Start(ctx)
	}

	<-ctx.Done()
	return nil
}

// exportLoop periodically writes the last synchronized state to path.
func exportLoop(ctx context.Context, store *storage.Manager, exporter *storage.Exporter, path string, every time.Duration, logger *slog.Logger) {
	if every <= 0 {
		every = time.Hour
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := exportFromStore(store, exporter, path); err != nil {
				logger.Error("Scheduled export failed", "path", path, "error", err)
			}
		}
	}
}

// exportFromStore writes an export built from persisted records only.
func exportFromStore(store *storage.Manager, exporter *storage.Exporter, path string) (*storage.ExportResult, error) {
	users, err := store.ListUsers()
	if err != nil {
		return nil, err
	}
	libraries, err := store.ListLibraries()
	if err != nil {
		return nil, err
	}

	export := &storage.Export{
		GeneratedAt: time.Now().UTC(),
		Users:       users,
		Libraries:   libraries,
	}
	if snapshot, err := store.LatestActivity(); err == nil {
		export.Activity = snapshot.Activity
	}
	if identity, err := store.Identity(); err == nil {
		export.Server = identity
	}

	return exporter.ExportInventory(path, export)
}

func writeJSON(out io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
