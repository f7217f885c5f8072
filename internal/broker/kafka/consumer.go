package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/PinBox/internal/broker/messages"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler gets the raw key and value of one message. A non-nil error stops
// consumption without committing the message.
type Handler func(key, value []byte) error

type Consumer struct {
	r messageReader
}

// NewConsumer joins groupID on topic. A group seen for the first time starts
// from the oldest retained message so history is backfilled.
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		StartOffset:       kafka.FirstOffset,
		MaxWait:           time.Second,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return &Consumer{
		r: kafka.NewReader(cfg),
	}
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{r: r}
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

func (c *Consumer) Consume(ctx context.Context, handler Handler) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "fetch message")
		}
		if err := handler(msg.Key, msg.Value); err != nil {
			// коммитим только обработанное, иначе событие пропадёт из истории
			return errors.Wrapf(err, "handle message at offset %d", msg.Offset)
		}
		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return errors.Wrap(err, "commit message")
		}
	}
}

// ConsumeLocationResolved decodes location.resolved events. Payloads that are
// not valid JSON are logged and committed so they do not block the partition.
func (c *Consumer) ConsumeLocationResolved(ctx context.Context, handle func(ctx context.Context, msg messages.LocationResolved) error) error {
	return c.Consume(ctx, func(key, value []byte) error {
		var msg messages.LocationResolved
		if err := json.Unmarshal(value, &msg); err != nil {
			slog.Warn("skip malformed location.resolved", "key", string(key), "error", err.Error())
			return nil
		}
		return handle(ctx, msg)
	})
}
