package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/example/ec-fulfillment/internal/config"
	"github.com/example/ec-fulfillment/internal/logging"
	"github.com/example/ec-fulfillment/internal/metrics"
	"github.com/rs/zerolog"
)

const metadataAttempt = "job_attempt"

// HandlerFunc runs one job. A returned error triggers a retry.
type HandlerFunc func(ctx context.Context, env Envelope) error

// SubscriberSource hands out a subscriber per worker run.
type SubscriberSource interface {
	Subscriber() (message.Subscriber, error)
}

// Worker consumes job topics through a watermill router. Each Serve call
// builds a fresh router so the worker can be restarted by a supervisor.
type Worker struct {
	cfg      config.JobsConfig
	source   SubscriberSource
	poison   message.Publisher
	keys     KeyStore
	logger   watermill.LoggerAdapter
	log      zerolog.Logger
	handlers map[Type]HandlerFunc

	readyOnce sync.Once
	ready     chan struct{}
}

func NewWorker(cfg config.JobsConfig, source SubscriberSource, poison message.Publisher, keys KeyStore, logger watermill.LoggerAdapter) *Worker {
	if logger == nil {
		logger = logging.NewWatermillLogger(logging.Component("watermill"))
	}
	if keys == nil {
		keys = NewMemoryKeyStore(cfg.IdempotencyTTL)
	}
	return &Worker{
		cfg:      cfg,
		source:   source,
		poison:   poison,
		keys:     keys,
		logger:   logger,
		log:      logging.Component("worker"),
		handlers: make(map[Type]HandlerFunc),
		ready:    make(chan struct{}),
	}
}

// Handle registers h for t. Registrations after the first Serve take effect
// on the next restart.
func (w *Worker) Handle(t Type, h HandlerFunc) {
	w.handlers[t] = h
}

// Ready is closed once the first router is consuming.
func (w *Worker) Ready() <-chan struct{} {
	return w.ready
}

// Serve runs the router until ctx is cancelled.
func (w *Worker) Serve(ctx context.Context) error {
	if len(w.handlers) == 0 {
		return errors.New("worker has no job handlers")
	}

	router, err := w.newRouter()
	if err != nil {
		return err
	}
	sub, err := w.source.Subscriber()
	if err != nil {
		return err
	}
	for t, h := range w.handlers {
		router.AddConsumerHandler(string(t), Topic(w.cfg.TopicPrefix, t), sub, w.wrap(t, h))
	}

	go func() {
		select {
		case <-router.Running():
			w.readyOnce.Do(func() { close(w.ready) })
		case <-ctx.Done():
		}
	}()

	w.log.Info().Int("handlers", len(w.handlers)).Str("topic_prefix", w.cfg.TopicPrefix).Msg("job worker starting")
	if err := router.Run(ctx); err != nil {
		return fmt.Errorf("job router: %w", err)
	}
	return ctx.Err()
}

func (w *Worker) String() string { return "job-worker" }

// newRouter wires middleware outermost first: failures that survive every
// retry go to the poison topic, and panics become retryable errors.
func (w *Worker) newRouter() (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 30 * time.Second}, w.logger)
	if err != nil {
		return nil, fmt.Errorf("create job router: %w", err)
	}

	if w.poison != nil && w.cfg.PoisonTopic != "" {
		poisonQueue, err := middleware.PoisonQueue(w.poison, w.cfg.PoisonTopic)
		if err != nil {
			return nil, fmt.Errorf("create poison queue middleware: %w", err)
		}
		router.AddMiddleware(poisonQueue)
	}

	retry := middleware.Retry{
		MaxRetries:      w.cfg.MaxRetries,
		InitialInterval: w.cfg.InitialInterval,
		MaxInterval:     w.cfg.MaxInterval,
		Multiplier:      w.cfg.Multiplier,
		Logger:          w.logger,
	}
	router.AddMiddleware(retry.Middleware, middleware.Recoverer)
	return router, nil
}

func (w *Worker) wrap(t Type, h HandlerFunc) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		attempt, _ := strconv.Atoi(msg.Metadata.Get(metadataAttempt))
		attempt++
		msg.Metadata.Set(metadataAttempt, strconv.Itoa(attempt))

		var env Envelope
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			metrics.JobsProcessed.WithLabelValues(string(t), "error").Inc()
			return fmt.Errorf("decode %s envelope: %w", t, err)
		}
		env.Attempt = attempt

		log := w.log.With().Str("job_id", env.ID).Str("type", string(t)).Int("attempt", attempt).Logger()
		ctx := msg.Context()

		if env.IdempotencyKey != "" {
			done, err := w.keys.Completed(ctx, env.IdempotencyKey)
			if err != nil {
				log.Warn().Err(err).Msg("idempotency check failed, running job")
			} else if done {
				metrics.JobsProcessed.WithLabelValues(string(t), "duplicate").Inc()
				log.Info().Str("key", env.IdempotencyKey).Msg("job already completed, skipping")
				return nil
			}
		}

		if w.cfg.HandlerTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, w.cfg.HandlerTimeout)
			defer cancel()
		}

		start := time.Now()
		err := h(ctx, env)
		metrics.JobDuration.WithLabelValues(string(t)).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.JobsProcessed.WithLabelValues(string(t), "error").Inc()
			log.Warn().Err(err).Msg("job failed")
			return err
		}
		metrics.JobsProcessed.WithLabelValues(string(t), "ok").Inc()

		if env.IdempotencyKey != "" {
			if err := w.keys.MarkCompleted(context.WithoutCancel(ctx), env.IdempotencyKey); err != nil {
				log.Warn().Err(err).Msg("failed to mark job completed")
			}
		}
		log.Debug().Dur("took", time.Since(start)).Msg("job done")
		return nil
	}
}
