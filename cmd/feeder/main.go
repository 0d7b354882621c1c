// Package main runs the feeder client: it polls upstream JSON price APIs on a
// schedule and submits each sweep to the oracle as one batch.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/openfeeds/rate-layer/internal/config"
	"github.com/openfeeds/rate-layer/internal/feeder"
	"github.com/openfeeds/rate-layer/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	once := flag.Bool("once", false, "run a single poll and exit")
	flag.Parse()

	// A local .env is a development convenience; absence is fine.
	_ = godotenv.Load()

	var (
		cfg *config.FeederConfig
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFeederFromPath(*configPath)
	} else {
		cfg, err = config.LoadFeeder()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: "stdout",
	})

	client, err := feeder.New(cfg, log)
	if err != nil {
		log.WithError(err).Error("initialise feeder")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *once {
		if _, err := client.Poll(ctx); err != nil {
			log.WithError(err).Error("poll failed")
			os.Exit(1)
		}
		return
	}

	if err := client.Start(ctx); err != nil {
		log.WithError(err).Error("start feeder")
		os.Exit(1)
	}
	<-ctx.Done()

	// Longer than the per-poll timeout so an in-flight poll can finish.
	stopCtx, cancel := context.WithTimeout(context.Background(), 35*time.Second)
	defer cancel()
	if err := client.Stop(stopCtx); err != nil {
		log.WithError(err).Error("stop feeder")
		os.Exit(1)
	}
	log.Info("feeder stopped")
}
