package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arxiv-stars/config"
	"arxiv-stars/services"
	"arxiv-stars/storage"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	// Datenbank
	store, err := storage.Open(cfg, logging)
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer store.Close()
	logging.Info("Successfully connected to database.", zap.String("driver", cfg.DBDriver))

	logging.Info("Running database auto-migration...")
	if err := store.Migrate(context.Background()); err != nil {
		logging.Fatal("Auto-migration failed", zap.Error(err))
	}

	// Provider und Pipeline
	gen, err := services.NewGenerator(cfg, logging)
	if err != nil {
		logging.Fatal("Generator setup failed", zap.Error(err))
	}
	logging.Info("Active generator loaded", zap.String("provider", gen.Name()))
	pipeline := services.NewPipeline(cfg, logging, store, gen)

	router := newRouter(store, pipeline, logging)

	// Täglicher Lauf
	cronScheduler := cron.New()
	_, err = cronScheduler.AddFunc(cfg.CronSchedule, func() {
		logging.Info("Running scheduled pipeline job...")
		summary, err := pipeline.Run(context.Background(), services.RunOptions{})
		if errors.Is(err, services.ErrRunInProgress) {
			logging.Warn("Skipping scheduled run, previous run still active.")
			return
		}
		if err != nil {
			logging.Error("Cron job failed", zap.String("run_id", summary.RunID), zap.Error(err))
			return
		}
		logging.Info("Cron job completed",
			zap.String("run_id", summary.RunID),
			zap.Int("discovered", summary.Discovered),
			zap.Int("stars_written", summary.StarsWritten))
	})
	if err != nil {
		logging.Fatal("Invalid cron schedule", zap.String("schedule", cfg.CronSchedule), zap.Error(err))
	}
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal("Failed to run server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info("Shutting down...")

	<-cronScheduler.Stop().Done()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.Error("Server shutdown failed", zap.Error(err))
	}
}
