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
	log := logging.Component("projector")

	if !cfg.Kafka.Enabled {
		log.Fatal().Msg("the projector consumes the domain event topic; set kafka.enabled")
	}
	if cfg.EventStore.ReadStore != "postgres" {
		log.Fatal().Msg("a standalone projector needs event_store.read_store=postgres")
	}

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

	log.Info().
		Strs("brokers", cfg.Kafka.Brokers).
		Str("topic", cfg.Kafka.Topic).
		Str("group", cfg.Kafka.ConsumerGroup).
		Msg("projector starting")
	if err := a.Run(ctx, "fulfillment-projector", app.Role{Projector: true}); err != nil {
		log.Error().Err(err).Msg("projector stopped with error")
		return
	}
	log.Info().Msg("projector stopped")
}
