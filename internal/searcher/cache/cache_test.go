package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/index"
)

type fakeBackend struct {
	mu      sync.Mutex
	data    map[string][]byte
	err     error
	flushed int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{data: make(map[string][]byte)}
}

func (f *fakeBackend) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.data[key]
	if !ok {
		return nil, goredis.Nil
	}
	return v, nil
}

func (f *fakeBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.data[key] = value
	return nil
}

func (f *fakeBackend) FlushByPattern(ctx context.Context, pattern string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := int64(len(f.data))
	f.data = make(map[string][]byte)
	f.flushed++
	return n, nil
}

var (
	helloKey = Key{Kind: "search", Term: "hello", Limit: 100}
	t1       = []index.Summary{{Title: "T1", Date: "2024-05-17 06:04:05"}}
)

func TestLocalOnlyCache(t *testing.T) {
	c := New(nil, Config{TTL: time.Minute})
	ctx := context.Background()

	_, ok := c.Get(ctx, helloKey)
	assert.False(t, ok)

	c.Set(ctx, helloKey, t1)
	got, ok := c.Get(ctx, helloKey)
	require.True(t, ok)
	assert.Equal(t, t1, got)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.LocalEntries)
	assert.False(t, stats.SharedBackend)
}

func TestSharedBackendStoresJSON(t *testing.T) {
	backend := newFakeBackend()
	c := New(backend, Config{TTL: time.Minute})
	ctx := context.Background()

	c.Set(ctx, helloKey, t1)
	assert.Len(t, backend.data, 1)
	assert.Equal(t, 0, c.Stats().LocalEntries)

	got, ok := c.Get(ctx, helloKey)
	require.True(t, ok)
	assert.Equal(t, t1, got)
}

func TestBackendOutageFallsBackToLocal(t *testing.T) {
	backend := newFakeBackend()
	backend.err = errors.New("connection refused")
	c := New(backend, Config{TTL: time.Minute})
	ctx := context.Background()

	c.Set(ctx, helloKey, t1)
	got, ok := c.Get(ctx, helloKey)
	require.True(t, ok)
	assert.Equal(t, t1, got)
	assert.Equal(t, int64(2), c.Stats().BackendErrors)
}

func TestKeyNormalisesTermCaseAndSpacing(t *testing.T) {
	a := buildKey(Key{Kind: "search", Term: "Hello  World", Limit: 10})
	b := buildKey(Key{Kind: "search", Term: "hello world", Limit: 10})
	assert.Equal(t, a, b)

	ranged := buildKey(Key{Kind: "search", Term: "hello world", Start: "2024-01-01 00:00:00", End: "2024-01-31 23:59:59", Limit: 10})
	assert.NotEqual(t, a, ranged)
	assert.NotEqual(t, a, buildKey(Key{Kind: "list", Term: "hello world", Limit: 10}))
}

func TestGetOrComputeCollapsesConcurrentMisses(t *testing.T) {
	c := New(newFakeBackend(), Config{TTL: time.Minute})
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([][]index.Summary, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, _, err := c.GetOrCompute(context.Background(), helloKey, func(context.Context) ([]index.Summary, error) {
				calls.Add(1)
				<-release
				return t1, nil
			})
			assert.NoError(t, err)
			results[i] = got
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, t1, r)
	}

	_, hit, err := c.GetOrCompute(context.Background(), helloKey, func(context.Context) ([]index.Summary, error) {
		t.Fatal("cached result should be used")
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestGetOrComputeDoesNotCacheErrors(t *testing.T) {
	c := New(nil, Config{TTL: time.Minute})
	boom := errors.New("index down")
	_, _, err := c.GetOrCompute(context.Background(), helloKey, func(context.Context) ([]index.Summary, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	got, hit, err := c.GetOrCompute(context.Background(), helloKey, func(context.Context) ([]index.Summary, error) { return t1, nil })
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, t1, got)
}

func TestInvalidateClearsBothTiers(t *testing.T) {
	backend := newFakeBackend()
	c := New(backend, Config{TTL: time.Minute})
	ctx := context.Background()
	c.Set(ctx, helloKey, t1)
	c.local.Add("content:query:stale", t1)

	n, err := c.Invalidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 1, backend.flushed)
	_, ok := c.Get(ctx, helloKey)
	assert.False(t, ok)
}

func TestGetOrComputeSurvivesLeaderCancellation(t *testing.T) {
	c := New(nil, Config{TTL: time.Minute})
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(ctx context.Context) ([]index.Summary, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return t1, nil
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderDone := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(leaderCtx, helloKey, compute)
		leaderDone <- err
	}()
	<-started

	cancelLeader()
	select {
	case err := <-leaderDone:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	type outcome struct {
		got []index.Summary
		err error
	}
	followerDone := make(chan outcome, 1)
	go func() {
		got, _, err := c.GetOrCompute(context.Background(), helloKey, compute)
		followerDone <- outcome{got, err}
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case res := <-followerDone:
		require.NoError(t, res.err)
		assert.Equal(t, t1, res.got)
	case <-time.After(3 * time.Second):
		t.Fatal("follower never got a result")
	}
	assert.Equal(t, int32(1), calls.Load())

	cached, ok := c.Get(context.Background(), helloKey)
	require.True(t, ok)
	assert.Equal(t, t1, cached)
}
