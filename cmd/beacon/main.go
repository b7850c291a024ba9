package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fuomag9/server-uptime/internal/beacon"
	"github.com/fuomag9/server-uptime/internal/config"
	"github.com/fuomag9/server-uptime/internal/logger"
)

func main() {
	queue := flag.String("queue", "test_uptime_queue", "queue that holds this server's heartbeats")
	serverName := flag.String("server-name", "TEST-UPTIME-SERVER-NAME", "name uniquely identifying this server (defaults to the queue name when empty)")
	flag.Parse()

	cfg := config.Load()

	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := beacon.New(cfg, *queue, *serverName, log)
	if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("beacon failed", zap.Error(err))
	}

	log.Info("beacon exited")
}
