// Package cache memoises query results. Redis is the shared tier; when it
// is not configured or a call to it fails, an in-process expirable LRU
// takes over so a Redis outage degrades latency, not availability.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/index"
	pkgredis "github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/redis"
)

const keyPrefix = "content:query:"

// Backend is the shared cache tier. *pkgredis.Client implements it.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Key identifies one query. Start and End are the raw bound strings the
// caller sent, after the both-or-neither rule has been applied.
type Key struct {
	Kind  string
	Term  string
	Start string
	End   string
	Limit int
}

type Config struct {
	TTL       time.Duration
	LocalSize int
	LocalTTL  time.Duration
	// ComputeTimeout bounds a shared computation in GetOrCompute. It runs
	// detached from any one caller's context.
	ComputeTimeout time.Duration
}

type Stats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	BackendErrors int64 `json:"backend_errors"`
	LocalEntries  int   `json:"local_entries"`
	SharedBackend bool  `json:"shared_backend"`
}

type QueryCache struct {
	backend Backend
	local   *expirable.LRU[string, []index.Summary]
	ttl     time.Duration
	group   singleflight.Group
	logger  *slog.Logger

	computeTimeout time.Duration

	hits          atomic.Int64
	misses        atomic.Int64
	backendErrors atomic.Int64
}

// New builds a cache. backend may be nil, in which case only the local tier
// is used.
func New(backend Backend, cfg Config) *QueryCache {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.LocalSize <= 0 {
		cfg.LocalSize = 1024
	}
	if cfg.LocalTTL <= 0 {
		cfg.LocalTTL = cfg.TTL
	}
	if cfg.ComputeTimeout <= 0 {
		cfg.ComputeTimeout = 10 * time.Second
	}
	return &QueryCache{
		backend: backend,
		local:   expirable.NewLRU[string, []index.Summary](cfg.LocalSize, nil, cfg.LocalTTL),
		ttl:     cfg.TTL,
		logger:  slog.Default().With("component", "query-cache"),

		computeTimeout: cfg.ComputeTimeout,
	}
}

func (c *QueryCache) Get(ctx context.Context, k Key) ([]index.Summary, bool) {
	result, ok := c.lookup(ctx, buildKey(k))
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return result, ok
}

func (c *QueryCache) lookup(ctx context.Context, key string) ([]index.Summary, bool) {
	if c.backend != nil {
		data, err := c.backend.Get(ctx, key)
		switch {
		case err == nil:
			var result []index.Summary
			if err := json.Unmarshal(data, &result); err != nil {
				c.logger.Error("cache unmarshal failed", "key", key, "error", err)
				break
			}
			return result, true
		case pkgredis.IsNilError(err):
			return nil, false
		default:
			c.backendErrors.Add(1)
			c.logger.Warn("cache backend get failed, using local tier", "key", key, "error", err)
		}
	}
	return c.local.Get(key)
}

func (c *QueryCache) Set(ctx context.Context, k Key, result []index.Summary) {
	key := buildKey(k)
	if c.backend != nil {
		data, err := json.Marshal(result)
		if err != nil {
			c.logger.Error("cache marshal failed", "key", key, "error", err)
			return
		}
		err = c.backend.Set(ctx, key, data, c.ttl)
		if err == nil {
			return
		}
		c.backendErrors.Add(1)
		c.logger.Warn("cache backend set failed, using local tier", "key", key, "error", err)
	}
	c.local.Add(key, result)
}

// GetOrCompute returns the cached result for k, or runs compute once per key
// across concurrent callers and caches what it returns. The bool reports a
// cache hit.
//
// compute receives a context detached from ctx and bounded by
// ComputeTimeout, so one caller going away does not fail the others sharing
// the computation. A caller whose ctx ends stops waiting with ctx.Err().
func (c *QueryCache) GetOrCompute(ctx context.Context, k Key, compute func(ctx context.Context) ([]index.Summary, error)) ([]index.Summary, bool, error) {
	if result, ok := c.Get(ctx, k); ok {
		return result, true, nil
	}
	key := buildKey(k)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.computeTimeout)
		defer cancel()
		if result, ok := c.lookup(flightCtx, key); ok {
			return result, nil
		}
		result, err := compute(flightCtx)
		if err != nil {
			return nil, err
		}
		c.Set(flightCtx, k, result)
		return result, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.([]index.Summary), false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Invalidate drops every cached query from both tiers.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	dropped := int64(c.local.Len())
	c.local.Purge()
	if c.backend == nil {
		return dropped, nil
	}
	deleted, err := c.backend.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return dropped, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted+dropped)
	return deleted + dropped, nil
}

func (c *QueryCache) Stats() Stats {
	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		BackendErrors: c.backendErrors.Load(),
		LocalEntries:  c.local.Len(),
		SharedBackend: c.backend != nil,
	}
}

func buildKey(k Key) string {
	term := strings.Join(strings.Fields(strings.ToLower(k.Term)), " ")
	raw := fmt.Sprintf("%s|%s|%s|%s|%d", k.Kind, term, k.Start, k.End, k.Limit)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
