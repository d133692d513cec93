package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"saldo/internal/config"
	"saldo/internal/log"
	"saldo/internal/services"
	"saldo/internal/storage"
)

// rolloverConcurrency caps how many users roll over at once; each user's
// cascade holds its own lock so there is no point stacking more workers.
const rolloverConcurrency = 4

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := log.New(log.DefaultConfig()).WithComponent(log.ComponentScheduler)
	log.SetDefault(logger)

	logger.Info("Starting rollover-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", log.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	engine := services.NewRecalculator(repo, repo, repo, logger, cfg.ProjectionMonths)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rollover := func() {
		runCtx, runCancel := context.WithTimeout(ctx, 30*time.Minute)
		defer runCancel()

		if err := rolloverAllUsers(runCtx, repo, engine, cfg.ProjectionMonths, logger); err != nil {
			logger.Error("Monthly rollover failed", log.FieldError, err)
			return
		}
		logger.Info("Monthly rollover complete")
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.RolloverSpec, rollover); err != nil {
		logger.Error("Invalid rollover cron spec", log.FieldError, err, "spec", cfg.RolloverSpec)
		os.Exit(1)
	}

	// Run once on startup so a worker deployed mid-month catches up missed
	// horizon extensions immediately.
	logger.Info("Running initial rollover pass...")
	rollover()

	scheduler.Start()
	logger.Info("Rollover scheduler started", "spec", cfg.RolloverSpec)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	logger.Info("Shutting down rollover-worker...")
	cancel()

	stopCtx := scheduler.Stop()
	select {
	case <-stopCtx.Done():
		logger.Info("Rollover-worker shutdown complete")
	case <-time.After(30 * time.Second):
		logger.Warn("Shutdown timeout reached")
	}
}

// rolloverAllUsers extends every known user's projection horizon from the
// current month. Users are independent, so failures are collected per user
// and do not stop the others.
func rolloverAllUsers(ctx context.Context, users services.UserDirectory, engine *services.Recalculator, monthsAhead int, logger *log.Logger) error {
	ids, err := users.ListUserIDs(ctx)
	if err != nil {
		return err
	}
	logger.Info("Rolling over users", "user_count", len(ids), log.FieldMonthsAhead, monthsAhead)

	var g errgroup.Group
	g.SetLimit(rolloverConcurrency)
	for _, userID := range ids {
		g.Go(func() error {
			if err := engine.ExtendHorizon(ctx, userID, monthsAhead); err != nil {
				logger.Error("User rollover failed", log.FieldUserID, userID, log.FieldError, err)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
