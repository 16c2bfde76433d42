package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/resilience"
)

// EnsureTopics declares each topic on the cluster. A topic that already
// exists is left untouched, so calling this on every start is safe.
func EnsureTopics(ctx context.Context, cfg config.KafkaConfig, topics ...string) error {
	logger := slog.Default().With("component", "kafka-admin")

	conn, err := dialAny(ctx, cfg.Brokers)
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("%w: locating controller: %v", apperrors.ErrChannelUnavailable, err)
	}
	addr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	cconn, err := kafka.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: dialing controller %s: %v", apperrors.ErrChannelUnavailable, addr, err)
	}
	defer cconn.Close()

	partitions := cfg.Partitions
	if partitions < 1 {
		partitions = 1
	}
	replication := cfg.ReplicationFactor
	if replication < 1 {
		replication = 1
	}
	for _, topic := range topics {
		if topic == "" {
			continue
		}
		err := cconn.CreateTopics(kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     partitions,
			ReplicationFactor: replication,
		})
		switch {
		case err == nil:
			logger.Info("topic created", "topic", topic, "partitions", partitions)
		case errors.Is(err, kafka.TopicAlreadyExists):
			logger.Debug("topic already exists", "topic", topic)
		default:
			return fmt.Errorf("%w: creating topic %s: %v", apperrors.ErrChannelUnavailable, topic, err)
		}
	}
	return nil
}

// AwaitTopics runs EnsureTopics until it succeeds, backing off between
// attempts while the channel is unavailable. backoff.MaxAttempts is ignored;
// only ctx ends the wait, in which case the returned error wraps ctx.Err().
func AwaitTopics(ctx context.Context, cfg config.KafkaConfig, backoff resilience.RetryConfig, topics ...string) error {
	backoff.MaxAttempts = math.MaxInt
	return resilience.Retry(ctx, "declare topics", backoff, func() error {
		return EnsureTopics(ctx, cfg, topics...)
	})
}

// Ping reports whether any broker accepts a connection.
func Ping(ctx context.Context, cfg config.KafkaConfig) error {
	conn, err := dialAny(ctx, cfg.Brokers)
	if err != nil {
		return err
	}
	return conn.Close()
}

func dialAny(ctx context.Context, brokers []string) (*kafka.Conn, error) {
	var lastErr error
	for _, broker := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no brokers configured")
	}
	return nil, fmt.Errorf("%w: %v", apperrors.ErrChannelUnavailable, lastErr)
}
