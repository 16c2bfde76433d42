package deadletter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/kafka/kafkatest"
)

const dlq = "blog_queue.dlq"

func entry(offset int64) Entry {
	return Entry{
		Topic:    "blog_queue",
		Offset:   offset,
		Key:      []byte("blog_queue"),
		Payload:  []byte(`{"title":"x"}`),
		Reason:   "index unavailable",
		Attempts: 5,
		FailedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestTopicSinkRepublishesWithHeaders(t *testing.T) {
	b := kafkatest.NewBroker()
	sink := NewTopicSink(kafka.NewProducerWithWriter(b.Writer(dlq), dlq))

	require.NoError(t, sink.Record(context.Background(), entry(7)))

	msgs := b.Messages(dlq)
	require.Len(t, msgs, 1)
	assert.Equal(t, `{"title":"x"}`, string(msgs[0].Value))
	headers := map[string]string{}
	for _, h := range msgs[0].Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "blog_queue/0/7", headers[HeaderEntryID])
	assert.Equal(t, "blog_queue", headers[HeaderSourceTopic])
	assert.Equal(t, "0", headers[HeaderSourcePartition])
	assert.Equal(t, "7", headers[HeaderSourceOffset])
	assert.Equal(t, "5", headers[HeaderAttempts])
	assert.Equal(t, "2024-01-02T03:04:05Z", headers[HeaderFailedAt])
}

func TestTopicSinkRecordsEachMessageOnce(t *testing.T) {
	b := kafkatest.NewBroker()
	sink := NewTopicSink(kafka.NewProducerWithWriter(b.Writer(dlq), dlq))

	require.NoError(t, sink.Record(context.Background(), entry(1)))
	require.NoError(t, sink.Record(context.Background(), entry(1)))
	require.NoError(t, sink.Record(context.Background(), entry(2)))
	assert.Len(t, b.Messages(dlq), 2)
}

func TestTopicSinkRepublishesAfterRestartWithSameID(t *testing.T) {
	b := kafkatest.NewBroker()
	before := NewTopicSink(kafka.NewProducerWithWriter(b.Writer(dlq), dlq))
	require.NoError(t, before.Record(context.Background(), entry(3)))

	// A new process has an empty skip list.
	after := NewTopicSink(kafka.NewProducerWithWriter(b.Writer(dlq), dlq))
	require.NoError(t, after.Record(context.Background(), entry(3)))

	msgs := b.Messages(dlq)
	require.Len(t, msgs, 2)
	ids := map[string]int{}
	for _, m := range msgs {
		for _, h := range m.Headers {
			if h.Key == HeaderEntryID {
				ids[string(h.Value)]++
			}
		}
	}
	assert.Equal(t, map[string]int{"blog_queue/0/3": 2}, ids)
}

func TestTopicSinkFailureIsRetryable(t *testing.T) {
	b := kafkatest.NewBroker()
	sink := NewTopicSink(kafka.NewProducerWithWriter(b.Writer(dlq), dlq))

	b.FailWrites(errors.New("down"))
	assert.Error(t, sink.Record(context.Background(), entry(1)))
	b.FailWrites(nil)
	require.NoError(t, sink.Record(context.Background(), entry(1)))
	assert.Len(t, b.Messages(dlq), 1)
}

type recordingSink struct {
	entries []Entry
	err     error
}

func (r *recordingSink) Record(ctx context.Context, e Entry) error {
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, e)
	return nil
}

func TestChainAttemptsEverySink(t *testing.T) {
	failing := &recordingSink{err: errors.New("db down")}
	ok := &recordingSink{}

	err := Chain{failing, ok}.Record(context.Background(), entry(3))
	assert.Error(t, err)
	assert.Len(t, ok.entries, 1)

	assert.NoError(t, Chain{ok}.Record(context.Background(), entry(4)))
}
