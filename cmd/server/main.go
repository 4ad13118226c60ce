// Package main is the entry point of the allocator HTTP service.
// It serves portfolio optimization and risk analytics over stored or inline return series.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/allocator/internal/config"
	"github.com/aristath/allocator/internal/database"
	"github.com/aristath/allocator/internal/modules/returns"
	"github.com/aristath/allocator/internal/reliability"
	"github.com/aristath/allocator/internal/scheduler"
	"github.com/aristath/allocator/internal/server"
	"github.com/aristath/allocator/pkg/logger"
)

func main() {
	// Load configuration first to get log level
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("data_dir", cfg.DataDir).
		Str("frequency", cfg.Engine.Frequency).
		Float64("alpha", cfg.Engine.Alpha).
		Msg("Starting allocator")

	db, err := database.New(database.Config{
		Path:    cfg.DatabasePath(),
		Profile: database.ProfileStandard,
		Name:    "returns",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open dataset database")
	}
	// Closing flushes the WAL
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate dataset database")
	}

	datasets := returns.NewCache(returns.NewStore(db.Conn(), log), log)
	backups := reliability.NewBackupService(db, cfg.BackupDir(), log)

	sched := scheduler.New(log)
	if cfg.Backup.Enabled(cfg.Backup.Schedule) {
		if err := sched.AddJob(cfg.Backup.Schedule, reliability.NewBackupJob(backups, cfg.Backup.RetentionDays, log)); err != nil {
			log.Fatal().Err(err).Str("schedule", cfg.Backup.Schedule).Msg("Invalid backup schedule")
		}
	}
	if cfg.Backup.Enabled(cfg.Backup.MaintenanceSchedule) {
		if err := sched.AddJob(cfg.Backup.MaintenanceSchedule, reliability.NewMaintenanceJob(db, cfg.DataDir, log)); err != nil {
			log.Fatal().Err(err).Str("schedule", cfg.Backup.MaintenanceSchedule).Msg("Invalid maintenance schedule")
		}
	}
	sched.Start()

	srv := server.New(server.Config{
		Log:      log,
		DB:       db,
		Datasets: datasets,
		Backups:  backups,
		Config:   cfg,
		Port:     cfg.Port,
		DevMode:  cfg.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Lets a running backup finish before the database closes
	sched.Stop()

	// In-flight optimizations get 10 seconds to finish
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
