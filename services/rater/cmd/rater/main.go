package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-envconfig"

	"mlreg/internal/oracle"
	"mlreg/pkg/bus"
	"mlreg/pkg/telemetry"
	"mlreg/services/rater"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cfg, err := rater.LoadConfig(ctx, envconfig.OsLookuper())
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	logger := telemetry.NewLogger("mlreg-rater", cfg.LogLevel, cfg.LogFormat)
	log.Logger = logger

	scorer, err := oracle.NewExecOracle(cfg.Command, logger)
	if err != nil {
		log.Fatal().Err(err).Msg("init scorer")
	}

	b, err := bus.New(cfg.NATSURL, nats.Name("mlreg-rater"))
	if err != nil {
		log.Fatal().Err(err).Msg("connect nats")
	}
	defer b.Close()

	worker, err := rater.NewWorker(b, scorer, cfg, logger)
	if err != nil {
		log.Fatal().Err(err).Msg("init worker")
	}

	if err := worker.Run(ctx); err != nil {
		log.Error().Err(err).Msg("rater stopped")
	}
}
