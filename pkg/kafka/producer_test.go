package kafka_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/kafka/kafkatest"
)

func TestProducerPublishBatchPreservesOrder(t *testing.T) {
	b := kafkatest.NewBroker()
	p := kafka.NewProducerWithWriter(b.Writer(topic), topic)

	err := p.PublishBatch(context.Background(), []kafka.Event{
		{Key: topic, Value: map[string]string{"title": "one"}},
		{Key: topic, Value: map[string]string{"title": "two"}, Headers: map[string]string{"x-reason": "test"}},
	})
	require.NoError(t, err)

	msgs := b.Messages(topic)
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{"title":"one"}`, string(msgs[0].Value))
	assert.JSONEq(t, `{"title":"two"}`, string(msgs[1].Value))
	assert.Equal(t, int64(1), msgs[1].Offset)
	require.Len(t, msgs[1].Headers, 1)
	assert.Equal(t, "x-reason", msgs[1].Headers[0].Key)
}

func TestProducerRawBytesArePassedThrough(t *testing.T) {
	b := kafkatest.NewBroker()
	p := kafka.NewProducerWithWriter(b.Writer(topic), topic)

	require.NoError(t, p.Publish(context.Background(), kafka.Event{Value: []byte("{broken")}))
	assert.Equal(t, "{broken", string(b.Messages(topic)[0].Value))
}

func TestProducerWriteFailureIsChannelUnavailable(t *testing.T) {
	b := kafkatest.NewBroker()
	b.FailWrites(errors.New("broker down"))
	p := kafka.NewProducerWithWriter(b.Writer(topic), topic)

	err := p.Publish(context.Background(), kafka.Event{Key: topic, Value: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrChannelUnavailable)
	assert.Empty(t, b.Messages(topic))
}

func TestProducerClosed(t *testing.T) {
	b := kafkatest.NewBroker()
	p := kafka.NewProducerWithWriter(b.Writer(topic), topic)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	err := p.Publish(context.Background(), kafka.Event{Key: topic, Value: "x"})
	assert.ErrorIs(t, err, apperrors.ErrChannelUnavailable)
}
