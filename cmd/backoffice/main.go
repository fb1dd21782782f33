package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/Freeeeeet/tutor_backoffice/internal/app"
	"github.com/Freeeeeet/tutor_backoffice/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := app.NewLogger(cfg.Environment)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Sugar().Fatalw("Failed to start application", "error", err)
	}

	a.Start(ctx)

	logger.Sugar().Infow("Scheduling backoffice started",
		"environment", cfg.Environment,
		"sweep_interval", cfg.SweepInterval.String())

	<-ctx.Done()

	a.Stop()
}
