// Package kafka publishes finalized messages to the sink topic for
// downstream consumers (search indexers, notification fan-out).
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/civicwatch/disruption-ingest/internal/domain"
)

// Publisher produces finalized messages to a Kafka topic.
type Publisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewPublisher creates a producer for the sink topic.
func NewPublisher(brokers []string, topic string, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Publisher{writer: w, logger: logger}
}

// Publish serializes one finalized message and writes it, keyed by message
// id so re-publications of the same message land in the same partition.
func (p *Publisher) Publish(ctx context.Context, msg *domain.Message) error {
	record, err := serializeMessage(msg)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("publish message %s: %w", msg.ID, err)
	}
	p.logger.Debug("message published", "message_id", msg.ID, "slug", msg.Slug)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

func serializeMessage(msg *domain.Message) (kafkago.Message, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize message %s: %w", msg.ID, err)
	}

	headers := []kafkago.Header{
		{Key: "locality", Value: []byte(msg.Locality)},
		{Key: "slug", Value: []byte(msg.Slug)},
	}
	if msg.FinalizedAt != nil {
		headers = append(headers, kafkago.Header{
			Key:   "finalized_at",
			Value: []byte(msg.FinalizedAt.Format(time.RFC3339)),
		})
	}

	return kafkago.Message{
		Key:     []byte(msg.ID),
		Value:   data,
		Headers: headers,
	}, nil
}
