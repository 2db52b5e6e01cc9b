package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dhofer/chargesync/internal/api"
	"github.com/dhofer/chargesync/internal/config"
	"github.com/dhofer/chargesync/internal/gateway"
	"github.com/dhofer/chargesync/internal/push"
	"github.com/dhofer/chargesync/internal/store"
)

func main() {
	// Parse command-line flags
	configFile := flag.String("config", "", "Path to configuration file (TOML)")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logger
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	slog.Info("starting chargesync push service", "config_file", *configFile)

	// Log configuration summary
	slog.Info("store configuration",
		"driver", cfg.Store.Driver,
		"dsn", cfg.Store.DSN)
	slog.Info("gateway configuration",
		"base_url", cfg.Gateway.BaseURL,
		"request_timeout", cfg.Gateway.RequestTimeout)
	if cfg.HTTP.Enabled {
		slog.Info("admin api enabled",
			"address", cfg.HTTP.Address,
			"port", cfg.HTTP.Port)
	}

	// Open the local inventory store
	db, err := store.OpenWithConfig(cfg.Store)
	if err != nil {
		slog.Error("failed to open store", "error", err, "dsn", cfg.Store.DSN)
		os.Exit(1)
	}
	defer db.Close()

	// Create the gateway client
	gw, err := gateway.NewHTTPClient(cfg.Gateway, logger)
	if err != nil {
		slog.Error("failed to create gateway client", "error", err)
		os.Exit(1)
	}

	// Create the push adapter
	adapter, err := push.NewAdapter(cfg.Push, gw, nil, logger)
	if err != nil {
		slog.Error("failed to create push adapter", "error", err)
		os.Exit(1)
	}
	defer adapter.Close()

	// Persist push outcomes as they complete
	events := adapter.Subscribe()
	go recordEvents(db, events, logger)

	// Queue the known inventory; the first data flush dispatches it as a
	// full load.
	stations, err := db.ListStations()
	if err != nil {
		slog.Error("failed to load local inventory", "error", err)
		os.Exit(1)
	}
	if len(stations) > 0 {
		res, err := adapter.SetStations(context.Background(), push.Enqueue, stations)
		if err != nil {
			slog.Error("failed to queue inventory", "error", err)
			os.Exit(1)
		}
		slog.Info("local inventory queued",
			"station_count", len(stations),
			"result", res.Code.String())
	}

	// Start the admin API
	var apiServer *api.Server
	if cfg.HTTP.Enabled {
		apiServer = api.NewServer(adapter, db, logger)
		go func() {
			if err := apiServer.Start(cfg.HTTP.Address, cfg.HTTP.Port); err != nil {
				slog.Error("admin api stopped", "error", err)
			}
		}()
	}

	slog.Info("chargesync is running")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down gracefully")

	// Flush once more so queued changes are not silently lost
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if res := adapter.Flush(shutdownCtx); res.Code == push.CodeError {
		slog.Warn("final data flush failed",
			"failed_count", len(res.FailedItems))
	}
	if res := adapter.FlushStatus(shutdownCtx); res.Code == push.CodeError {
		slog.Warn("final status flush failed",
			"failed_count", len(res.FailedItems))
	}

	if apiServer != nil {
		if err := apiServer.Stop(shutdownCtx); err != nil {
			slog.Error("admin api shutdown failed", "error", err)
		}
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// recordEvents drains the adapter's event channel and appends completed
// push outcomes to the push log. Request events and outcomes without a
// result carry nothing worth persisting.
func recordEvents(db *store.DB, events <-chan push.Event, logger *slog.Logger) {
	for ev := range events {
		if ev.Type != push.EventResponse || ev.Result == nil {
			continue
		}

		if err := db.AppendPushLog(string(ev.Operation), ev.Result); err != nil {
			logger.Error("failed to append push log",
				"operation", ev.Operation,
				"call_id", ev.CallID,
				"error", err)
		}
	}
}
