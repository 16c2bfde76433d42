package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowRefillsOverWindow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := New(ctx, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("alice", 3), "request %d", i)
	}
	assert.False(t, l.Allow("alice", 3))
	assert.True(t, l.Allow("bob", 3), "buckets are per key")

	now = now.Add(20 * time.Second)
	assert.True(t, l.Allow("alice", 3))
	assert.False(t, l.Allow("alice", 3))

	l.Reset("alice")
	assert.True(t, l.Allow("alice", 3))
}
