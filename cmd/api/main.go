package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/example/ec-fulfillment/internal/app"
	"github.com/example/ec-fulfillment/internal/config"
	"github.com/example/ec-fulfillment/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Caller: cfg.Logging.Caller})
	log := logging.Component("api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire services")
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("close failed")
		}
	}()

	if err := a.Rebuild(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to rebuild read models")
	}

	role := app.Role{HTTP: true}
	// A memory read store is only kept current by this process.
	if cfg.Kafka.Enabled && cfg.EventStore.ReadStore == "memory" {
		role.Projector = true
	}
	// The in-process queue is only reachable from this process.
	if cfg.Jobs.Backend == "memory" {
		role.Worker = true
		role.Scheduler = true
		log.Warn().Msg("memory job backend: running worker and scheduler in the api process")
	}

	log.Info().Int("port", cfg.Server.Port).Msg("fulfillment api starting")
	if err := a.Run(ctx, "fulfillment-api", role); err != nil {
		log.Error().Err(err).Msg("api stopped with error")
		return
	}
	log.Info().Msg("api stopped")
}
