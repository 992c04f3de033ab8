package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/example/ec-fulfillment/internal/logging"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type MessageHandler func(ctx context.Context, key, value []byte) error

// Consumer reads a topic in a consumer group. Offsets are committed after
// the handler returns, so a crash replays the uncommitted tail.
type Consumer struct {
	reader *kafka.Reader
	name   string
	log    zerolog.Logger
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
		MaxWait:  time.Second,
	})
	return &Consumer{
		reader: reader,
		name:   "kafka-consumer:" + groupID,
		log:    logging.Component("kafka").With().Str("topic", topic).Str("group", groupID).Logger(),
	}
}

// Consume blocks until ctx is cancelled. Handler errors are logged and the
// message is committed anyway; the projector ignores stale versions, so a
// later event or a replay heals the read model.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("reader closed: %w", err)
			}
			c.log.Warn().Err(err).Msg("fetch message failed")
			continue
		}

		if err := handler(ctx, msg.Key, msg.Value); err != nil {
			c.log.Error().Err(err).
				Str("key", string(msg.Key)).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("handle message failed")
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

func (c *Consumer) String() string { return c.name }

func (c *Consumer) Close() error {
	return c.reader.Close()
}
