// Package main implements the Sherlock HTTP API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ekkoscope/sherlock/engine/sherlock"
	"github.com/ekkoscope/sherlock/pkg/config"
	"github.com/ekkoscope/sherlock/pkg/logging"
	"github.com/ekkoscope/sherlock/pkg/metrics"
	"github.com/ekkoscope/sherlock/pkg/natsutil"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()

	// --- NATS (optional: scan-completed events) ---
	var events natsutil.Publisher
	nc, err := nats.Connect(cfg.NATS.URL, nats.Name("sherlock-api"))
	if err != nil {
		logger.Warn("nats unavailable, scan events disabled", "url", cfg.NATS.URL, "err", err)
	} else {
		defer nc.Drain()
		events = nc
	}

	// --- Engine ---
	eng, err := sherlock.Open(ctx, cfg, sherlock.OpenOptions{Logger: logger, Metrics: reg, Events: events})
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer eng.Close(context.Background())

	// --- HTTP server ---
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      newRouter(eng, logger, reg, cfg.Server.CORSOrigin),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "addr", srv.Addr, "knowledge_store", eng.Capability().Enabled())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
