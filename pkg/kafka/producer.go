package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/config"
)

// Header names set on every published message.
const (
	HeaderEventType   = "event-type"
	HeaderContentType = "content-type"
)

// Event is the unit of data published to Kafka. Key picks the partition, so
// events sharing a key (a model label, for ingestion events) stay ordered.
// Value is JSON-encoded. Type and Time are optional and travel as the
// event-type header and the message timestamp.
type Event struct {
	Key   string
	Type  string
	Value any
	Time  time.Time
}

// Producer publishes batches of JSON-encoded events to one topic.
type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewProducer creates a Producer for topic. Ingestion events feed analytics
// only, so a write is acknowledged by the partition leader alone.
func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    batchSize,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireOne,
	}
	return &Producer{
		writer: w,
		logger: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

// PublishBatch writes events in one call. Nothing is written if any value
// fails to encode.
func (p *Producer) PublishBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	messages, err := encode(events)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		p.logger.Error("failed to publish batch",
			"count", len(messages),
			"error", err,
		)
		return fmt.Errorf("publishing batch to kafka: %w", err)
	}
	p.logger.Debug("batch published", "count", len(messages))
	return nil
}

func encode(events []Event) ([]kafka.Message, error) {
	messages := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		value, err := json.Marshal(event.Value)
		if err != nil {
			return nil, fmt.Errorf("marshaling event value for key %q: %w", event.Key, err)
		}
		headers := []kafka.Header{{Key: HeaderContentType, Value: []byte("application/json")}}
		if event.Type != "" {
			headers = append(headers, kafka.Header{Key: HeaderEventType, Value: []byte(event.Type)})
		}
		messages = append(messages, kafka.Message{
			Key:     []byte(event.Key),
			Value:   value,
			Headers: headers,
			Time:    event.Time,
		})
	}
	return messages, nil
}

// Close flushes pending writes and closes the underlying Kafka writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
