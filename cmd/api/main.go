package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dvloznov/finance-backup/internal/api/handlers"
	"github.com/dvloznov/finance-backup/internal/app"
	"github.com/dvloznov/finance-backup/internal/config"
	"github.com/dvloznov/finance-backup/internal/jobs"
	"github.com/dvloznov/finance-backup/internal/jobs/inmemory"
	"github.com/dvloznov/finance-backup/internal/logger"
)

func main() {
	// Parse command-line flags
	var (
		configPath = flag.String("config", os.Getenv("FINANCE_CONFIG"), "Path to YAML config file (or set FINANCE_CONFIG env)")
		port       = flag.Int("port", 0, "HTTP server port (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *port != 0 {
		cfg.HTTP.Port = *port
	}

	// Initialize logger
	log := app.Logger(cfg)
	ctx := logger.WithContext(context.Background(), log)

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire backup service")
	}
	defer a.Close()

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, jobStore)

	// Start worker in background to process jobs
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if err := jobQueue.Start(workerCtx, jobs.NewHandler(a.Orchestrator)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job worker")
	}

	if cfg.Schedule.Enabled {
		backupEvery, err := config.ParseBackupInterval(cfg.Schedule.BackupInterval)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid backup interval")
		}
		go jobs.NewScheduler(jobQueue, cfg.Schedule.CheckInterval, backupEvery).Run(workerCtx)
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		Ledger:  handlers.NewLedgerHandler(a.Orchestrator, log),
		Jobs:    handlers.NewJobsHandler(jobStore, jobQueue, log),
		Metrics: a.Metrics.Handler(),
		Log:     log,
	})

	// Create HTTP server
	addr := ":" + strconv.Itoa(cfg.HTTP.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}
