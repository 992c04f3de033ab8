package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/example/ec-fulfillment/internal/infrastructure/kafka"
	"github.com/example/ec-fulfillment/internal/jobs"
	"github.com/example/ec-fulfillment/internal/logging"
	"github.com/example/ec-fulfillment/internal/scheduler"
	"github.com/example/ec-fulfillment/internal/supervisor"
)

// Role selects the long-running services of a binary.
type Role struct {
	HTTP      bool
	Worker    bool
	Scheduler bool
	// Projector consumes the domain event topic into the read store.
	Projector bool
}

// Tree builds the supervisor tree for role.
func (a *App) Tree(ctx context.Context, name string, role Role) (*supervisor.Tree, error) {
	cfg := a.Config
	tree := supervisor.NewTree(name, supervisor.TreeConfig{ShutdownTimeout: cfg.Server.ShutdownTimeout * 2})

	if role.Projector {
		if !cfg.Kafka.Enabled {
			return nil, errors.New("projector role needs kafka.enabled")
		}
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.ConsumerGroup)
		a.closers = append(a.closers, consumer.Close)
		tree.AddMessagingService(supervisor.NewFuncService(consumer.String(), func(ctx context.Context) error {
			return consumer.Consume(ctx, a.Projector.HandleEvent)
		}))
	}

	if role.Worker {
		keys, closeKeys, err := jobs.NewKeyStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closeKeys)
		worker := jobs.NewWorker(cfg.Jobs, a.backend, a.backend.Publisher, keys, logging.NewWatermillLogger(logging.Component("watermill")))
		a.RegisterJobs(worker)
		tree.AddMessagingService(worker)
	}

	if role.Scheduler && cfg.Scheduler.Enabled {
		s, err := scheduler.New(scheduler.DefaultEntries(cfg.Scheduler), cfg.Scheduler.Timezone, a.Jobs)
		if err != nil {
			return nil, fmt.Errorf("build scheduler: %w", err)
		}
		tree.AddMessagingService(s)
	}

	if role.HTTP {
		server := &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      a.Router(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
		tree.AddAPIService(supervisor.NewHTTPService(server, cfg.Server.ShutdownTimeout))
	}
	return tree, nil
}

// Run serves role until ctx is cancelled.
func (a *App) Run(ctx context.Context, name string, role Role) error {
	tree, err := a.Tree(ctx, name, role)
	if err != nil {
		return err
	}

	a.log.Info().
		Bool("http", role.HTTP).
		Bool("worker", role.Worker).
		Bool("scheduler", role.Scheduler && a.Config.Scheduler.Enabled).
		Bool("projector", role.Projector).
		Msg("starting supervisor tree")

	runErr := tree.Serve(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	if runErr != nil {
		a.log.Error().Err(runErr).Msg("supervisor tree stopped")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		a.log.Warn().Str("service", svc.Name).Msg("service failed to stop")
	}
	return runErr
}
