// Package main runs the price oracle daemon: the public price API with its
// websocket stream, and the operational plane for health, metrics, and audit.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/openfeeds/rate-layer/internal/app"
	"github.com/openfeeds/rate-layer/internal/config"
	"github.com/openfeeds/rate-layer/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	// A local .env is a development convenience; absence is fine.
	_ = godotenv.Load()

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFromPath(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Error("initialise oracle")
		os.Exit(1)
	}

	if err := application.Run(ctx); err != nil {
		log.WithError(err).Error("oracle terminated")
		os.Exit(1)
	}
	log.Info("oracle stopped")
}
