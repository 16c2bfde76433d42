package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/errors"
)

// Event is the unit of data published to the channel. Key is used for
// partition hashing. Value is JSON-serialised unless it is already a []byte.
type Event struct {
	Key     string
	Value   any
	Headers map[string]string
}

// MessageWriter is the subset of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...Message) error
	Close() error
}

// Producer publishes events to a single topic.
type Producer struct {
	writer MessageWriter
	topic  string
	logger *slog.Logger
	closed atomic.Bool
}

// NewProducer creates a Producer for the given topic. Writes are synchronous
// and wait for all in-sync replicas.
func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		MaxAttempts:            3,
		WriteTimeout:           cfg.PublishTimeout,
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		AllowAutoTopicCreation: false,
	}
	return NewProducerWithWriter(w, topic)
}

// NewProducerWithWriter wires a Producer to an existing writer.
func NewProducerWithWriter(w MessageWriter, topic string) *Producer {
	return &Producer{
		writer: w,
		topic:  topic,
		logger: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

// Topic returns the topic this producer writes to.
func (p *Producer) Topic() string { return p.topic }

// Publish serialises a single event and writes it synchronously.
func (p *Producer) Publish(ctx context.Context, event Event) error {
	return p.PublishBatch(ctx, []Event{event})
}

// PublishBatch writes multiple events in a single write call. Either the
// whole batch is handed to the channel or an error wrapping
// apperrors.ErrChannelUnavailable is returned.
func (p *Producer) PublishBatch(ctx context.Context, events []Event) error {
	if p.closed.Load() {
		return fmt.Errorf("%w: producer for %s is closed", apperrors.ErrChannelUnavailable, p.topic)
	}
	messages := make([]Message, 0, len(events))
	for _, event := range events {
		msg, err := encode(event)
		if err != nil {
			return err
		}
		messages = append(messages, msg)
	}
	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		p.logger.Error("failed to publish",
			"count", len(messages),
			"error", err,
		)
		return fmt.Errorf("%w: publishing to %s: %v", apperrors.ErrChannelUnavailable, p.topic, err)
	}
	p.logger.Debug("published", "count", len(messages))
	return nil
}

// Close flushes pending writes and closes the underlying writer.
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.writer.Close()
}

func encode(event Event) (Message, error) {
	var value []byte
	switch v := event.Value.(type) {
	case []byte:
		value = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return Message{}, fmt.Errorf("marshaling event value: %w", err)
		}
		value = b
	}
	msg := Message{
		Key:   []byte(event.Key),
		Value: value,
	}
	for k, v := range event.Headers {
		msg.Headers = append(msg.Headers, Header{Key: k, Value: []byte(v)})
	}
	return msg, nil
}
