package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/deadletter"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/index"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/index/blevestore"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/kafka/kafkatest"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/resilience"
)

const (
	queue = "blog_queue"
	group = "content-indexer"
)

var fastConfig = Config{
	MaxAttempts:    3,
	InitialBackoff: time.Millisecond,
	MaxBackoff:     5 * time.Millisecond,
	WriteTimeout:   time.Second,
}

// flakyWriter fails the first failures calls to Index with err, then
// delegates to the wrapped writer.
type flakyWriter struct {
	mu       sync.Mutex
	next     index.Writer
	failures int
	err      error
	calls    int
	titles   []string
}

func (f *flakyWriter) Index(ctx context.Context, doc index.Document) (string, error) {
	f.mu.Lock()
	f.calls++
	if f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		f.mu.Unlock()
		return "", f.err
	}
	f.titles = append(f.titles, doc.Title)
	f.mu.Unlock()
	return f.next.Index(ctx, doc)
}

func (f *flakyWriter) Bulk(ctx context.Context, docs []index.Document) error {
	return f.next.Bulk(ctx, docs)
}

func (f *flakyWriter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// stallingWriter holds its first Index call until release is closed.
type stallingWriter struct {
	next    index.Writer
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newStallingWriter(next index.Writer) *stallingWriter {
	return &stallingWriter{next: next, entered: make(chan struct{}), release: make(chan struct{})}
}

func (w *stallingWriter) Index(ctx context.Context, doc index.Document) (string, error) {
	w.once.Do(func() {
		close(w.entered)
		<-w.release
	})
	return w.next.Index(ctx, doc)
}

func (w *stallingWriter) Bulk(ctx context.Context, docs []index.Document) error {
	return w.next.Bulk(ctx, docs)
}

type memorySink struct {
	mu      sync.Mutex
	entries map[int64]deadletter.Entry
	fail    error
	tries   int
}

func newMemorySink() *memorySink {
	return &memorySink{entries: make(map[int64]deadletter.Entry)}
}

func (s *memorySink) Record(ctx context.Context, e deadletter.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tries++
	if s.fail != nil {
		return s.fail
	}
	if _, ok := s.entries[e.Offset]; !ok {
		s.entries[e.Offset] = e
	}
	return nil
}

func (s *memorySink) setFail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *memorySink) snapshot() map[int64]deadletter.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]deadletter.Entry, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

func (s *memorySink) attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tries
}

func openStore(t *testing.T) *blevestore.Store {
	t.Helper()
	s, err := blevestore.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newQueuePublisher(t *testing.T, b *kafkatest.Broker) *publisher.Publisher {
	t.Helper()
	p, err := publisher.New(kafka.NewProducerWithWriter(b.Writer(queue), queue), nil, publisher.Config{
		Queue:    queue,
		BulkMode: config.BulkModeQueue,
	}, metrics.New(prometheus.NewRegistry()))
	require.NoError(t, err)
	return p
}

func publishRaw(t *testing.T, b *kafkatest.Broker, values ...string) {
	t.Helper()
	p := kafka.NewProducerWithWriter(b.Writer(queue), queue)
	for _, v := range values {
		require.NoError(t, p.Publish(context.Background(), kafka.Event{Key: queue, Value: []byte(v)}))
	}
}

func start(t *testing.T, b *kafkatest.Broker, h *Handler) (stop func()) {
	t.Helper()
	c := kafka.NewConsumerWithReader(b.Reader(queue, group), queue, h.Handle)
	c.SetBackoff(resilience.RetryConfig{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Fatal("consumer did not stop")
		}
	}
}

func committed(b *kafkatest.Broker, n int64) func() bool {
	return func() bool { return b.Committed(queue, group) == n }
}

func TestSubmittedContentBecomesSearchable(t *testing.T) {
	b := kafkatest.NewBroker()
	store := openStore(t)
	m := metrics.New(prometheus.NewRegistry())
	stop := start(t, b, NewHandler(store, newMemorySink(), fastConfig, m))
	defer stop()

	_, err := newQueuePublisher(t, b).Submit(context.Background(),
		ingestion.ContentInput{Title: "T1", Text: "hello world", Author: "A"}, "alice")
	require.NoError(t, err)

	require.Eventually(t, committed(b, 1), 3*time.Second, 5*time.Millisecond)
	docs, err := store.Search(context.Background(), index.Query{Term: "hello"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "T1", docs[0].Title)
	assert.Equal(t, "alice", docs[0].User)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesConsumedTotal.WithLabelValues("indexed")))
}

func TestTransientFailuresAreRetried(t *testing.T) {
	b := kafkatest.NewBroker()
	store := openStore(t)
	w := &flakyWriter{next: store, failures: 2, err: apperrors.ErrIndexUnavailable}
	sink := newMemorySink()
	m := metrics.New(prometheus.NewRegistry())
	stop := start(t, b, NewHandler(w, sink, fastConfig, m))
	defer stop()

	_, err := newQueuePublisher(t, b).Submit(context.Background(),
		ingestion.ContentInput{Title: "T1", Text: "hello world", Author: "A"}, "alice")
	require.NoError(t, err)

	require.Eventually(t, committed(b, 1), 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, w.Calls())
	assert.Empty(t, sink.snapshot())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.IndexRetriesTotal))

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestExhaustedMessageIsDeadLetteredOnce(t *testing.T) {
	b := kafkatest.NewBroker()
	store := openStore(t)
	w := &flakyWriter{next: store, failures: 3, err: apperrors.ErrIndexUnavailable}
	sink := newMemorySink()
	m := metrics.New(prometheus.NewRegistry())
	stop := start(t, b, NewHandler(w, sink, fastConfig, m))
	defer stop()

	p := newQueuePublisher(t, b)
	_, err := p.SubmitBulk(context.Background(), []ingestion.ContentInput{
		{Title: "doomed", Text: "x", Author: "A"},
		{Title: "fine", Text: "y", Author: "A"},
	}, "alice")
	require.NoError(t, err)

	require.Eventually(t, committed(b, 2), 3*time.Second, 5*time.Millisecond)
	entries := sink.snapshot()
	require.Len(t, entries, 1)
	dl := entries[0]
	assert.Equal(t, queue, dl.Topic)
	assert.Equal(t, 3, dl.Attempts)
	assert.Contains(t, string(dl.Payload), `"title":"doomed"`)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeadLettersTotal.WithLabelValues("exhausted")))

	docs, err := store.Search(context.Background(), index.Query{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "fine", docs[0].Title)
}

func TestMalformedMessageIsDeadLetteredWithoutIndexing(t *testing.T) {
	b := kafkatest.NewBroker()
	w := &flakyWriter{next: openStore(t)}
	sink := newMemorySink()
	m := metrics.New(prometheus.NewRegistry())
	stop := start(t, b, NewHandler(w, sink, fastConfig, m))
	defer stop()

	publishRaw(t, b, `{not json`, `{"title":"bad date","text":"x","author":"A","date":"yesterday"}`)

	require.Eventually(t, committed(b, 2), 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, w.Calls())
	entries := sink.snapshot()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, 1, e.Attempts)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DeadLettersTotal.WithLabelValues("permanent")))
}

func TestPermanentIndexErrorSkipsRetries(t *testing.T) {
	b := kafkatest.NewBroker()
	w := &flakyWriter{next: openStore(t), failures: -1, err: apperrors.Permanent(errors.New("mapping rejected"))}
	sink := newMemorySink()
	m := metrics.New(prometheus.NewRegistry())
	stop := start(t, b, NewHandler(w, sink, fastConfig, m))
	defer stop()

	_, err := newQueuePublisher(t, b).Submit(context.Background(),
		ingestion.ContentInput{Title: "T1", Text: "hello", Author: "A"}, "alice")
	require.NoError(t, err)

	require.Eventually(t, committed(b, 1), 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, w.Calls())
	require.Len(t, sink.snapshot(), 1)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.IndexRetriesTotal))
}

func TestDeadLetterFailureLeavesMessageOnQueue(t *testing.T) {
	b := kafkatest.NewBroker()
	sink := newMemorySink()
	sink.setFail(errors.New("postgres down"))
	stop := start(t, b, NewHandler(&flakyWriter{next: openStore(t)}, sink, fastConfig, metrics.New(prometheus.NewRegistry())))
	defer stop()

	publishRaw(t, b, `{not json`)

	require.Eventually(t, func() bool { return sink.attempts() >= 3 }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(0), b.Committed(queue, group))
	assert.Empty(t, sink.snapshot())

	sink.setFail(nil)
	require.Eventually(t, committed(b, 1), 3*time.Second, 5*time.Millisecond)
	assert.Len(t, sink.snapshot(), 1)
}

func TestMessagesAreIndexedInPublishOrder(t *testing.T) {
	b := kafkatest.NewBroker()
	store := openStore(t)
	w := &flakyWriter{next: store}
	stop := start(t, b, NewHandler(w, newMemorySink(), fastConfig, metrics.New(prometheus.NewRegistry())))
	defer stop()

	p := newQueuePublisher(t, b)
	titles := []string{"first", "second", "third", "fourth"}
	for _, title := range titles {
		_, err := p.Submit(context.Background(), ingestion.ContentInput{Title: title, Text: "t", Author: "A"}, "alice")
		require.NoError(t, err)
	}

	require.Eventually(t, committed(b, 4), 3*time.Second, 5*time.Millisecond)
	docs, err := store.Search(context.Background(), index.Query{})
	require.NoError(t, err)
	require.Len(t, docs, len(titles))
	for i, d := range docs {
		assert.Equal(t, titles[i], d.Title)
		assert.Equal(t, int64(i), d.Seq)
	}
}

func TestRestartDeliversEverythingAtLeastOnce(t *testing.T) {
	b := kafkatest.NewBroker()
	store := openStore(t)
	p := newQueuePublisher(t, b)

	stop := start(t, b, NewHandler(store, newMemorySink(), fastConfig, metrics.New(prometheus.NewRegistry())))
	for i := 0; i < 5; i++ {
		_, err := p.Submit(context.Background(), ingestion.ContentInput{Title: "before", Text: "t", Author: "A"}, "alice")
		require.NoError(t, err)
	}
	stop()

	for i := 0; i < 5; i++ {
		_, err := p.Submit(context.Background(), ingestion.ContentInput{Title: "after", Text: "t", Author: "A"}, "alice")
		require.NoError(t, err)
	}
	stop = start(t, b, NewHandler(store, newMemorySink(), fastConfig, metrics.New(prometheus.NewRegistry())))
	defer stop()

	require.Eventually(t, committed(b, 10), 3*time.Second, 5*time.Millisecond)
	docs, err := store.Search(context.Background(), index.Query{})
	require.NoError(t, err)
	seen := make(map[int64]bool)
	for _, d := range docs {
		seen[d.Seq] = true
	}
	for seq := int64(0); seq < 10; seq++ {
		assert.True(t, seen[seq], "message %d was never indexed", seq)
	}
}

func TestShutdownDuringBackoffDoesNotDeadLetter(t *testing.T) {
	b := kafkatest.NewBroker()
	w := &flakyWriter{next: openStore(t), failures: -1, err: apperrors.ErrIndexUnavailable}
	sink := newMemorySink()
	cfg := fastConfig
	cfg.MaxAttempts = 5
	cfg.InitialBackoff = time.Hour
	cfg.MaxBackoff = time.Hour
	stop := start(t, b, NewHandler(w, sink, cfg, metrics.New(prometheus.NewRegistry())))

	publishRaw(t, b, `{"title":"T1","text":"hello","author":"A","date":"2024-05-17 06:04:05"}`)
	require.Eventually(t, func() bool { return w.Calls() == 1 }, 3*time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, int64(0), b.Committed(queue, group))
	assert.Empty(t, sink.snapshot())
}

func TestChannelLossDuringIndexWriteRedeliversAfterRestart(t *testing.T) {
	b := kafkatest.NewBroker()
	store := openStore(t)
	w := newStallingWriter(store)
	m := metrics.New(prometheus.NewRegistry())

	reader := b.Reader(queue, group)
	c := kafka.NewConsumerWithReader(reader, queue, NewHandler(w, newMemorySink(), fastConfig, m).Handle)
	done := make(chan error, 1)
	go func() { done <- c.Start(context.Background()) }()

	publishRaw(t, b, `{"title":"T1","text":"hello world","author":"A","date":"2024-05-17 06:04:05"}`)
	select {
	case <-w.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("index write never started")
	}

	// The connection drops while the write is in flight, so the ack cannot
	// be committed.
	require.NoError(t, reader.Close())
	close(w.release)

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrConsumerFatal)
	case <-time.After(3 * time.Second):
		t.Fatal("consumer did not stop after losing the channel")
	}
	assert.Equal(t, int64(0), b.Committed(queue, group))

	stop := start(t, b, NewHandler(store, newMemorySink(), fastConfig, m))
	defer stop()
	publishRaw(t, b, `{"title":"T2","text":"unrelated","author":"B","date":"2024-05-18 06:04:05"}`)

	require.Eventually(t, committed(b, 2), 3*time.Second, 5*time.Millisecond)

	hits, err := store.Search(context.Background(), index.Query{Term: "hello"})
	require.NoError(t, err)
	require.Len(t, hits, 2, "the redelivered message is indexed again")
	for _, d := range hits {
		assert.Equal(t, "T1", d.Title)
		assert.Equal(t, int64(0), d.Seq)
	}

	others, err := store.Search(context.Background(), index.Query{Term: "unrelated"})
	require.NoError(t, err)
	require.Len(t, others, 1)
	assert.Equal(t, "T2", others[0].Title)
	assert.Equal(t, int64(1), others[0].Seq)
}
