package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/insider-one/notification-dispatcher/internal/config"
	"github.com/insider-one/notification-dispatcher/internal/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Envelope is the wire format of a forwarded event
type Envelope struct {
	Type        domain.EventType `json:"type"`
	AggregateID string           `json:"aggregate_id"`
	OccurredAt  time.Time        `json:"occurred_at"`
	Payload     domain.Event     `json:"payload"`
}

// KafkaForwarder writes every event it handles to a Kafka topic, keyed by
// aggregate id so events of one notification share a partition. The bus
// delivers asynchronously, so consumers must not rely on their order.
type KafkaForwarder struct {
	writer messageWriter
	topic  string
}

// NewKafkaForwarder creates a forwarder for the configured brokers
func NewKafkaForwarder(cfg config.KafkaConfig) *KafkaForwarder {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaForwarder{writer: writer, topic: cfg.Topic}
}

// Handle is a Handler that forwards the event
func (f *KafkaForwarder) Handle(ctx context.Context, event domain.Event) error {
	msg, err := newMessage(event)
	if err != nil {
		return err
	}
	if err := f.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to forward %s event to %s: %w", event.EventType(), f.topic, err)
	}
	return nil
}

// Close flushes pending messages
func (f *KafkaForwarder) Close() error {
	return f.writer.Close()
}

func newMessage(event domain.Event) (kafka.Message, error) {
	data, err := json.Marshal(Envelope{
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		OccurredAt:  event.OccurredAt(),
		Payload:     event,
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}

	return kafka.Message{
		Key:   []byte(event.AggregateID()),
		Value: data,
		Time:  event.OccurredAt(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType())},
		},
	}, nil
}
