package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/finance-backup/internal/app"
	"github.com/dvloznov/finance-backup/internal/config"
	"github.com/dvloznov/finance-backup/internal/jobs"
	"github.com/dvloznov/finance-backup/internal/jobs/inmemory"
	"github.com/dvloznov/finance-backup/internal/logger"
)

// The worker runs scheduled integrity checks and backups without the HTTP
// API.
func main() {
	configPath := flag.String("config", os.Getenv("FINANCE_CONFIG"), "Path to YAML config file (or set FINANCE_CONFIG env)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger
	log := app.Logger(cfg)

	backupEvery, err := config.ParseBackupInterval(cfg.Schedule.BackupInterval)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid backup interval")
	}

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire backup service")
	}
	defer a.Close()

	// Initialize job store and queue
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, jobStore)

	log.Info().Msg("Starting worker service")

	// Start consuming jobs
	if err := jobQueue.Start(ctx, jobs.NewHandler(a.Orchestrator)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	// Take a baseline reading so the first scheduled check can detect loss.
	if err := jobQueue.Publish(ctx, &jobs.MaintenanceJob{Type: jobs.JobTypeIntegrityCheck, Trigger: jobs.TriggerSchedule}); err != nil {
		log.Error().Err(err).Msg("Failed to queue baseline integrity check")
	}

	go jobs.NewScheduler(jobQueue, cfg.Schedule.CheckInterval, backupEvery).Run(ctx)

	log.Info().Msg("Worker service started, waiting for jobs...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	// Cancel context to stop the scheduler
	cancel()

	log.Info().Msg("Worker service exited")
}
