package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"tally/internal/amqp"
	"tally/internal/config"
	applog "tally/internal/log"
	"tally/internal/storage"
	"tally/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.Config{Level: applog.LevelFromEnv(), Component: "tally-worker"})
	applog.SetDefault(logger)

	logger.Info("Starting tally-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	w := worker.NewReconcileWorker(repo)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	// Audit message consumer. Optional, the periodic sweep covers lost
	// messages anyway.
	if cfg.AMQPURL != "" {
		g.Go(func() error {
			err := amqp.ConsumeWithReconnect(ctx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, func(msg *amqp.LedgerAuditMessage) error {
				return w.HandleAuditMessage(ctx, msg)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		logger.Info("AMQP disabled - running sweeps only")
	}

	// Run one sweep of each kind on startup, then on their tickers.
	if _, err := w.ReconcileAll(ctx); err != nil {
		logger.Error("Initial reconcile sweep failed", "error", err)
	}
	if _, err := w.MarkOverdue(ctx, time.Now()); err != nil {
		logger.Error("Initial overdue sweep failed", "error", err)
	}

	g.Go(func() error {
		ticker := time.NewTicker(cfg.ReconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if corrected, err := w.ReconcileAll(ctx); err != nil {
					logger.Error("Reconcile sweep failed", "error", err)
				} else if corrected > 0 {
					logger.Warn("Reconcile sweep corrected drift", "counterparties", corrected)
				}
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.OverdueInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-ticker.C:
				if _, err := w.MarkOverdue(ctx, now); err != nil {
					logger.Error("Overdue sweep failed", "error", err)
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		logger.Error("Worker exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
}
