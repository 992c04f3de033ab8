// Package app assembles the fulfillment services from configuration. Every
// binary builds one App and runs the services its role needs under a
// supervisor tree.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"slices"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/example/ec-fulfillment/internal/api"
	"github.com/example/ec-fulfillment/internal/config"
	"github.com/example/ec-fulfillment/internal/domain/inventory"
	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/domain/product"
	"github.com/example/ec-fulfillment/internal/fulfillment"
	"github.com/example/ec-fulfillment/internal/infrastructure/kafka"
	"github.com/example/ec-fulfillment/internal/infrastructure/store"
	"github.com/example/ec-fulfillment/internal/jobs"
	"github.com/example/ec-fulfillment/internal/logging"
	"github.com/example/ec-fulfillment/internal/logistics"
	"github.com/example/ec-fulfillment/internal/notification"
	"github.com/example/ec-fulfillment/internal/projection"
	"github.com/example/ec-fulfillment/internal/reconciliation"
	"github.com/rs/zerolog"
)

// App holds the wired services. Fields are exported for the binaries and
// for tests that drive the services directly.
type App struct {
	Config *config.Config

	Events    store.EventStoreInterface
	Reads     store.ReadStoreInterface
	Projector *projection.Projector

	Catalog       *product.Service
	Ledger        *inventory.Service
	Orders        *order.Service
	Carrier       logistics.Provider
	Notifications *notification.Service
	Orchestrator  *fulfillment.Orchestrator
	Reconciler    *reconciliation.Worker
	Jobs          *jobs.Client

	backend *jobs.Backend
	db      *sql.DB
	closers []func() error
	log     zerolog.Logger
}

// New builds every service. The caller must Close the App.
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{Config: cfg, log: logging.Component("app")}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if a.Reads, err = a.readStore(ctx); err != nil {
		return nil, err
	}

	var publisher store.Publisher
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		a.closers = append(a.closers, producer.Close)
		publisher = producer
	} else {
		// Appends publish outside the store lock, so inline projection can
		// still see versions out of order and needs the store for gap fill.
		publisher = store.PublisherFunc(func(ctx context.Context, key string, event any) error {
			return a.Projector.Publish(ctx, key, event)
		})
	}

	if a.Events, err = a.eventStore(ctx, publisher); err != nil {
		return nil, err
	}
	a.Projector = projection.NewProjector(a.Reads, a.Events)

	a.Catalog = product.NewService(a.Events)
	a.Ledger = inventory.NewService(a.Events)
	a.Orders = order.NewService(a.Events, order.WithMaxDeliveryAttempts(cfg.Orders.MaxDeliveryAttempts))
	a.Carrier = logistics.NewFromConfig(cfg.Logistics)
	a.Notifications = notification.NewService(notification.DispatcherFromConfig(cfg.Notification), a.Reads)

	a.backend, err = jobs.NewBackend(cfg, logging.NewWatermillLogger(logging.Component("watermill")))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.backend.Close)
	a.Jobs = jobs.NewClient(a.backend.Publisher, cfg.Jobs.TopicPrefix)

	a.Orchestrator = fulfillment.New(a.Orders, a.Ledger, a.Catalog, a.Carrier, a.Reads, a.Jobs, fulfillment.ConfigFrom(cfg.Logistics))
	a.Reconciler = reconciliation.New(a.Ledger, a.Catalog, a.Reads, a.Jobs, cfg.Inventory, cfg.Notification.AdminEmails)

	a.log.Info().
		Str("event_store", cfg.EventStore.Backend).
		Str("read_store", cfg.EventStore.ReadStore).
		Str("jobs", cfg.Jobs.Backend).
		Bool("kafka", cfg.Kafka.Enabled).
		Str("carrier", a.Carrier.Name()).
		Msg("services wired")
	return a, nil
}

func (a *App) postgres(ctx context.Context) (*sql.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := store.ConnectPostgres(ctx, a.Config.Database.URL, a.Config.Database.MaxOpenConns, a.Config.Database.MaxIdleConns)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	a.closers = append(a.closers, db.Close)
	if a.Config.Database.Migrate {
		if err := store.Migrate(ctx, db); err != nil {
			return nil, err
		}
	}
	a.db = db
	a.log.Info().Msg("connected to postgres")
	return db, nil
}

func (a *App) readStore(ctx context.Context) (store.ReadStoreInterface, error) {
	if a.Config.EventStore.ReadStore != "postgres" {
		return store.NewReadStore(), nil
	}
	db, err := a.postgres(ctx)
	if err != nil {
		return nil, err
	}
	return store.NewPostgresReadStore(db), nil
}

func (a *App) eventStore(ctx context.Context, publisher store.Publisher) (store.EventStoreInterface, error) {
	switch a.Config.EventStore.Backend {
	case "postgres":
		db, err := a.postgres(ctx)
		if err != nil {
			return nil, err
		}
		return store.NewPostgresEventStore(db, publisher), nil
	case "dynamodb":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return store.NewDynamoEventStore(dynamodb.NewFromConfig(awsCfg), a.Config.EventStore.DynamoTable, a.Config.EventStore.DynamoSnapshotTable), nil
	default:
		return store.NewEventStore(publisher), nil
	}
}

// Rebuild replays stored order events into an in-memory read store. It is
// a no-op for the Postgres read store, which the projector keeps current.
func (a *App) Rebuild(ctx context.Context) error {
	if a.Config.EventStore.ReadStore == "postgres" {
		return nil
	}
	_, err := a.Projector.Replay(ctx, a.Events)
	return err
}

// Router returns the admin API.
func (a *App) Router() http.Handler {
	handlers := api.NewHandlers(api.Deps{
		Catalog:       a.Catalog,
		Ledger:        a.Ledger,
		Orders:        a.Orders,
		Orchestrator:  a.Orchestrator,
		ReadModels:    a.Reads,
		Reconciler:    a.Reconciler,
		Notifications: a.Notifications,
	})
	return api.NewRouter(handlers, api.RouterConfig{RateLimit: a.Config.Server.RateLimit})
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for _, c := range slices.Backward(a.closers) {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
