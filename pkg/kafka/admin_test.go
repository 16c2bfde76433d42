package kafka_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/kafka"
)

// Nothing listens on port 1, so dials are refused immediately.
var deadBroker = config.KafkaConfig{Brokers: []string{"127.0.0.1:1"}}

func TestEnsureTopicsUnreachableBroker(t *testing.T) {
	err := kafka.EnsureTopics(context.Background(), deadBroker, topic)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrChannelUnavailable)
}

func TestAwaitTopicsKeepsRetryingUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var retries atomic.Int32
	backoff := fastBackoff
	backoff.MaxAttempts = 1
	backoff.OnRetry = func(int, error) {
		if retries.Add(1) == 3 {
			cancel()
		}
	}

	err := kafka.AwaitTopics(ctx, deadBroker, backoff, topic)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, retries.Load(), int32(3))
}
