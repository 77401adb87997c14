package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/finchops/finch/internal/activity"
	"github.com/finchops/finch/internal/archive"
	"github.com/finchops/finch/internal/bus"
	"github.com/finchops/finch/internal/config"
	"github.com/finchops/finch/internal/detect"
	"github.com/finchops/finch/internal/lock"
	"github.com/finchops/finch/internal/notify"
	"github.com/finchops/finch/internal/relay"
	"github.com/finchops/finch/internal/server"
	"github.com/finchops/finch/internal/store"
	"github.com/finchops/finch/internal/store/memory"
	"github.com/finchops/finch/internal/store/postgres"
	"github.com/finchops/finch/internal/workflow"
)

// openStore picks the backing store from configuration. With a database URL
// we get Postgres and its cluster-wide job locks; without one we fall back
// to the in-memory store and a process-local lock, which is only suitable
// for a single instance.
func openStore(cfg *config.Config, logger *slog.Logger) (store.Store, lock.Locker, error) {
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using postgres store")
		return pg, pg, nil
	}
	logger.Warn("FINCH_DATABASE_URL not set, using in-memory store")
	return memory.New(), lock.NewMemory(), nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the event engine and its HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		st, locker, err := openStore(cfg, logger)
		if err != nil {
			return err
		}

		// Build the subscriber set. Order here does not matter; every
		// subscriber gets its own queue and worker.
		subscribers := []bus.Subscriber{
			activity.New(st, logger),
			notify.New(st, logger),
			workflow.New(st, logger, workflow.Actions(st, logger)),
		}

		var natsRelay *relay.NATS
		if cfg.NATSURL != "" {
			natsRelay, err = relay.New(cfg.NATSURL)
			if err != nil {
				st.Close()
				return err
			}
			subscribers = append(subscribers, natsRelay)
			logger.Info("relay enabled", "nats_url", cfg.NATSURL)
		} else {
			logger.Info("relay disabled (FINCH_NATS_URL not set)")
		}

		eventBus := bus.New(logger, subscribers)

		// Periodic detectors, each gated by a named cluster lock.
		now := time.Now
		jobs := []detect.Job{
			{
				Detector: detect.NewOverdueInvoices(st, eventBus, now),
				Interval: cfg.OverdueInterval,
				MaxHold:  cfg.LockMaxHold,
				MinHold:  cfg.LockMinHold,
			},
			{
				Detector: detect.NewExpiringContracts(st, eventBus, now),
				Interval: cfg.ContractInterval,
				MaxHold:  cfg.LockMaxHold,
				MinHold:  cfg.LockMinHold,
			},
			{
				Detector: detect.NewLowStock(st, eventBus),
				Interval: cfg.StockInterval,
				MaxHold:  cfg.LockMaxHold,
				MinHold:  cfg.LockMinHold,
			},
			{
				Detector: detect.NewCleanup(st, logger, cfg.NotificationRetention, now),
				Interval: cfg.CleanupInterval,
				MaxHold:  cfg.LockMaxHold,
				MinHold:  cfg.LockMinHold,
			},
		}
		detectScheduler := detect.NewScheduler(locker, jobs, logger)
		detectScheduler.Start()
		logger.Info("detectors started", "jobs", len(jobs))

		// Activity archive, if an S3 destination is configured.
		var archiveScheduler *archive.Scheduler
		if cfg.ArchiveS3Bucket != "" {
			dest, err := archive.NewS3Destination(
				context.Background(),
				cfg.ArchiveS3Bucket,
				cfg.ArchiveS3Prefix,
				cfg.ArchiveS3Region,
				cfg.ArchiveS3Endpoint,
			)
			if err != nil {
				logger.Error("failed to create S3 archive destination", "err", err)
			} else {
				archiveScheduler = archive.NewScheduler(st, []archive.Destination{dest}, cfg.ArchiveInterval, logger)
				archiveScheduler.Start()
				logger.Info("archive scheduler started", "bucket", cfg.ArchiveS3Bucket, "interval", cfg.ArchiveInterval)
			}
		}

		httpServer := &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: server.New(st, logger).NewHTTPHandler(),
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		logger.Info("finchd started", "http_addr", cfg.HTTPAddr)

		// Wait for SIGINT or SIGTERM.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		// Stop producers first so the bus drains, then the bus, then
		// everything downstream.
		detectScheduler.Stop()
		logger.Info("detectors stopped")

		if archiveScheduler != nil {
			archiveScheduler.Stop()
			logger.Info("archive scheduler stopped")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		eventBus.Close()
		logger.Info("event bus drained")

		if natsRelay != nil {
			if err := natsRelay.Close(); err != nil {
				logger.Error("error closing relay", "err", err)
			}
		}
		if err := st.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}
