package events

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// Handler processes one message payload.
type Handler func(ctx context.Context, payload []byte) error

type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerConfig holds Kafka consumer configuration.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Consumer reads storage notifications from a Kafka topic. Each message is
// committed before it is handled, so a crash mid-handling never replays it.
type Consumer struct {
	reader  fetcher
	handle  Handler
	topic   string
	backoff time.Duration
}

// NewConsumer creates a consumer group reader for cfg.Topic.
func NewConsumer(cfg ConsumerConfig, handle Handler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		Dialer: &kafka.Dialer{
			Timeout:   10 * time.Second,
			DualStack: true,
		},
	})

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Str("groupId", cfg.GroupID).
		Msg("Kafka storage consumer initialized")

	return &Consumer{reader: reader, handle: handle, topic: cfg.Topic, backoff: time.Second}
}

// Run consumes until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Str("topic", c.topic).Msg("Kafka read error")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			// Unhandled rather than risk a replayed submission.
			log.Error().
				Err(err).
				Str("topic", c.topic).
				Int64("offset", msg.Offset).
				Msg("Kafka commit failed, message not handled")
			continue
		}

		if err := c.handle(ctx, msg.Value); err != nil {
			log.Error().
				Err(err).
				Str("topic", c.topic).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("Storage notification handling failed")
		}
	}
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
