package kafka

import (
	"context"
	"encoding/json"

	"github.com/BearBump/PinBox/internal/broker/messages"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

const TopicLocationResolved = "location.resolved"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Producer struct {
	w     messageWriter
	close func() error
}

func NewProducer(brokers []string) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &Producer{w: w, close: w.Close}
}

func newProducerWithWriter(w messageWriter) *Producer {
	return &Producer{w: w}
}

func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	if err := p.w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	}); err != nil {
		return errors.Wrap(err, "kafka publish")
	}
	return nil
}

func (p *Producer) Close() error {
	if p.close == nil {
		return nil
	}
	return p.close()
}

// LocationPublisher sends location.resolved events keyed by session, so one
// session's events stay ordered within a partition.
type LocationPublisher struct {
	p     *Producer
	topic string
}

func NewLocationPublisher(p *Producer, topic string) *LocationPublisher {
	if topic == "" {
		topic = TopicLocationResolved
	}
	return &LocationPublisher{p: p, topic: topic}
}

func (l *LocationPublisher) PublishResolved(ctx context.Context, msg messages.LocationResolved) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal location.resolved")
	}
	return l.p.Publish(ctx, l.topic, []byte(msg.SessionID), b)
}
