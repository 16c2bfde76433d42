// Package kafka provides the message channel: a producer and an
// at-least-once consumer backed by segmentio/kafka-go. The producer
// serialises events as JSON; the consumer hands each message to a
// MessageHandler and commits it only once the handler succeeds.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/resilience"
)

// Message is a single record read from or written to a topic.
type Message = kafka.Message

// Header is a message header.
type Header = kafka.Header

// MessageHandler is invoked for each fetched message. A nil return acks the
// message; any error leaves it uncommitted and it is handed over again.
type MessageHandler func(ctx context.Context, msg Message) error

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (Message, error)
	CommitMessages(ctx context.Context, msgs ...Message) error
	Close() error
}

const commitTimeout = 5 * time.Second

// Consumer reads messages from a topic and dispatches them to a
// MessageHandler.
type Consumer struct {
	reader  MessageReader
	topic   string
	logger  *slog.Logger
	handler MessageHandler
	backoff resilience.RetryConfig

	closeOnce sync.Once
	closeErr  error
}

// NewConsumer creates a group Consumer for the given topic. A fresh group
// starts from the oldest retained message so nothing published before the
// first start is lost.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          topic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0,
	})
	return NewConsumerWithReader(r, topic, handler)
}

// NewConsumerWithReader wires a Consumer to an existing reader.
func NewConsumerWithReader(r MessageReader, topic string, handler MessageHandler) *Consumer {
	return &Consumer{
		reader:  r,
		topic:   topic,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic),
		handler: handler,
		backoff: resilience.RetryConfig{
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     10 * time.Second,
		},
	}
}

// SetBackoff overrides the delays used between fetch failures and between
// redeliveries of a failing message.
func (c *Consumer) SetBackoff(cfg resilience.RetryConfig) {
	c.backoff = cfg
}

// Start enters the consume loop and blocks until ctx is cancelled or the
// channel fails in a way that cannot be retried. In the first case it
// returns nil; in the second the error wraps apperrors.ErrConsumerFatal.
// The reader is closed before Start returns.
func (c *Consumer) Start(ctx context.Context) error {
	defer c.Close()
	c.logger.Info("consumer started")

	fetchFailures := 0
	for {
		if ctx.Err() != nil {
			c.logger.Info("consumer stopping", "reason", ctx.Err())
			return nil
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			if IsFatal(err) {
				c.logger.Error("channel failed permanently", "error", err)
				return fmt.Errorf("%w: fetching from %s: %v", apperrors.ErrConsumerFatal, c.topic, err)
			}
			fetchFailures++
			delay := resilience.Backoff(fetchFailures, c.backoff)
			c.logger.Warn("failed to fetch message", "error", err, "failures", fetchFailures, "next_delay", delay)
			if !sleep(ctx, delay) {
				return nil
			}
			continue
		}
		fetchFailures = 0

		c.logger.Debug("message received",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
			"value_size", len(msg.Value),
		)
		if !c.handle(ctx, msg) {
			c.logger.Info("consumer stopping with message unacknowledged",
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
			return nil
		}

		// The handler's work is done; the ack must not be lost to a shutdown
		// that raced it.
		commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
		err = c.reader.CommitMessages(commitCtx, msg)
		cancel()
		if err != nil {
			if IsFatal(err) {
				return fmt.Errorf("%w: committing offset %d: %v", apperrors.ErrConsumerFatal, msg.Offset, err)
			}
			c.logger.Error("failed to commit message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// handle runs the handler until it succeeds. It reports false if ctx ended
// first, in which case the message has not been acknowledged.
func (c *Consumer) handle(ctx context.Context, msg Message) bool {
	for attempt := 1; ; attempt++ {
		err := c.handler(ctx, msg)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		delay := resilience.Backoff(attempt, c.backoff)
		c.logger.Error("failed to process message, redelivering",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"attempt", attempt,
			"next_delay", delay,
			"error", err,
		)
		if !sleep(ctx, delay) {
			return false
		}
	}
}

// Close closes the underlying reader. It is safe to call more than once.
func (c *Consumer) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.reader.Close()
	})
	return c.closeErr
}

// IsFatal reports whether err from the channel cannot be cured by retrying:
// a closed reader or a non-temporary protocol error.
func IsFatal(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var kerr kafka.Error
	if errors.As(err, &kerr) {
		return !kerr.Temporary()
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// DecodeJSON is a generic helper that unmarshals a message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding message: %w", err)
	}
	return result, nil
}
