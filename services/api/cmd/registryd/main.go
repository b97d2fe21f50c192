package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"mlreg/internal/app"
	"mlreg/internal/config"
	"mlreg/pkg/telemetry"
	"mlreg/services/api"
)

const serviceName = "mlreg-registryd"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	logger := telemetry.NewLogger(serviceName, cfg.LogLevel, cfg.LogFormat)
	log.Logger = logger

	shutdownTelemetry, requestLogger, err := telemetry.Init(ctx, serviceName, cfg.OTLPEndpoint, logger)
	if err != nil {
		log.Fatal().Err(err).Msg("init telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	registry, err := app.Build(ctx, cfg, logger, app.Options{})
	if err != nil {
		log.Fatal().Err(err).Msg("build registry")
	}
	defer registry.Close()

	if err := registry.SeedAdmin(ctx); err != nil {
		log.Fatal().Err(err).Msg("seed admin")
	}

	handlers, err := api.New(api.Options{
		Auth:               registry.Auth,
		Registry:           registry.Registry,
		Reset:              registry.Reset,
		Gatherer:           registry.Gatherer,
		Logger:             logger,
		AllowedOrigins:     cfg.AllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		RequestTimeout:     cfg.RaterTimeout + 15*time.Second,
		Middleware:         []func(http.Handler) http.Handler{requestLogger},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("init api")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlers.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Msg("starting registryd")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return registry.CleanupTokens(gctx, cfg.TokenCleanupInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("registryd stopped")
	}
}
