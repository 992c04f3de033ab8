package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/example/ec-fulfillment/internal/config"
	"github.com/redis/go-redis/v9"
)

// Backend provides the publisher jobs are enqueued on and fresh subscribers
// for each worker run.
type Backend struct {
	Publisher     message.Publisher
	newSubscriber func() (message.Subscriber, error)
	close         func() error
}

// Subscriber returns a subscriber for one worker run. The router closes it
// on shutdown.
func (b *Backend) Subscriber() (message.Subscriber, error) {
	return b.newSubscriber()
}

func (b *Backend) Close() error {
	return b.close()
}

// NewBackend builds the backend named by cfg.Jobs.Backend.
func NewBackend(cfg *config.Config, logger watermill.LoggerAdapter) (*Backend, error) {
	switch cfg.Jobs.Backend {
	case "", "memory":
		return NewMemoryBackend(logger), nil
	case "kafka":
		return NewKafkaBackend(cfg.Kafka.Brokers, cfg.Jobs.ConsumerGroup, logger)
	default:
		return nil, fmt.Errorf("unknown jobs backend %q", cfg.Jobs.Backend)
	}
}

// NewMemoryBackend runs the queue in process. Jobs published while no
// worker is subscribed are dropped.
func NewMemoryBackend(logger watermill.LoggerAdapter) *Backend {
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, logger)
	return &Backend{
		Publisher: pubSub,
		newSubscriber: func() (message.Subscriber, error) {
			return sharedSubscriber{pubSub}, nil
		},
		close: pubSub.Close,
	}
}

// sharedSubscriber keeps the in-process pub/sub open across worker restarts.
type sharedSubscriber struct {
	message.Subscriber
}

func (sharedSubscriber) Close() error { return nil }

func NewKafkaBackend(brokers []string, consumerGroup string, logger watermill.LoggerAdapter) (*Backend, error) {
	publisher, err := kafka.NewPublisher(kafka.PublisherConfig{
		Brokers:   brokers,
		Marshaler: kafka.DefaultMarshaler{},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create kafka job publisher: %w", err)
	}

	return &Backend{
		Publisher: publisher,
		newSubscriber: func() (message.Subscriber, error) {
			saramaCfg := kafka.DefaultSaramaSubscriberConfig()
			saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
			saramaCfg.ClientID = "fulfillment-worker"

			sub, err := kafka.NewSubscriber(kafka.SubscriberConfig{
				Brokers:               brokers,
				Unmarshaler:           kafka.DefaultMarshaler{},
				OverwriteSaramaConfig: saramaCfg,
				ConsumerGroup:         consumerGroup,
			}, logger)
			if err != nil {
				return nil, fmt.Errorf("create kafka job subscriber: %w", err)
			}
			return sub, nil
		},
		close: publisher.Close,
	}, nil
}

// NewKeyStore returns the Redis key store when Redis is enabled and
// reachable, else the in-memory one.
func NewKeyStore(ctx context.Context, cfg *config.Config) (KeyStore, func() error, error) {
	if !cfg.Redis.Enabled {
		return NewMemoryKeyStore(cfg.Jobs.IdempotencyTTL), func() error { return nil }, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
	}
	return NewRedisKeyStore(client, "jobs:done:", cfg.Jobs.IdempotencyTTL), client.Close, nil
}
