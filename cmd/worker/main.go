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
	log := logging.Component("worker")

	if cfg.Jobs.Backend == "memory" {
		log.Fatal().Msg("jobs.backend=memory only works inside the api process; set jobs.backend=kafka")
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

	if err := a.Rebuild(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to rebuild read models")
	}

	log.Info().
		Strs("brokers", cfg.Kafka.Brokers).
		Str("topic_prefix", cfg.Jobs.TopicPrefix).
		Str("group", cfg.Jobs.ConsumerGroup).
		Bool("scheduler", cfg.Scheduler.Enabled).
		Msg("fulfillment worker starting")
	if err := a.Run(ctx, "fulfillment-worker", app.Role{Worker: true, Scheduler: true}); err != nil {
		log.Error().Err(err).Msg("worker stopped with error")
		return
	}
	log.Info().Msg("worker stopped")
}
