package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fuomag9/server-uptime/internal/api"
	"github.com/fuomag9/server-uptime/internal/config"
	"github.com/fuomag9/server-uptime/internal/database"
	"github.com/fuomag9/server-uptime/internal/jobs"
	"github.com/fuomag9/server-uptime/internal/logger"
	"github.com/fuomag9/server-uptime/internal/store"
	"github.com/fuomag9/server-uptime/internal/watchtower"
)

func main() {
	queue := flag.String("queue", "test_uptime_queue", "queue to consume heartbeats from")
	flag.Parse()

	cfg := config.Load()

	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer log.Sync()

	// Initialize database
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal("failed to get database connection", zap.Error(err))
	}
	defer sqlDB.Close()

	// Run migrations
	if err := database.RunMigrations(cfg.Database); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	st := store.New(db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Background jobs
	scheduler := jobs.NewScheduler(st, cfg.Location, log)
	scheduler.Start()
	defer scheduler.Stop()

	// Status API
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.APIPort),
		Handler:      api.NewRouter(st, cfg.Location),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("status API listening", zap.Int("port", cfg.APIPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("status API failed", zap.Error(err))
		}
	}()

	// Consume until interrupted
	w := watchtower.New(cfg, *queue, st, log)
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("watchtower failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("status API forced to shut down", zap.Error(err))
	}

	log.Info("watchtower exited")
}
