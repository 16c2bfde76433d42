// Package query answers list and search requests against the index, with
// an optional result cache in front.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/index"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/searcher/cache"
	apperrors "github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/metrics"
)

const (
	KindList   = "list"
	KindSearch = "search"
)

const dateOnlyLayout = "2006-01-02"

// Result carries summaries plus how they were served.
type Result struct {
	Summaries []index.Summary
	CacheHit  bool
}

type Service struct {
	searcher index.Searcher
	cache    *cache.QueryCache
	pageSize int
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a Service. qc may be nil to disable caching.
func New(searcher index.Searcher, qc *cache.QueryCache, pageSize int, m *metrics.Metrics) *Service {
	if pageSize <= 0 {
		pageSize = index.DefaultLimit
	}
	return &Service{
		searcher: searcher,
		cache:    qc,
		pageSize: pageSize,
		metrics:  m,
		logger:   slog.Default().With("component", "query-service"),
	}
}

// List returns the title/date projection of up to one page of documents in
// index order.
func (s *Service) List(ctx context.Context) (Result, error) {
	return s.run(ctx, cache.Key{Kind: KindList, Limit: s.pageSize}, index.Query{Limit: s.pageSize})
}

// Search matches term against document text. The date filter applies only
// when both startDate and endDate are non-empty; a lone bound is ignored.
// Bounds are "YYYY-MM-DD HH:MM:SS" or "YYYY-MM-DD"; a date-only end bound
// covers that whole day.
func (s *Service) Search(ctx context.Context, term, startDate, endDate string) (Result, error) {
	q := index.Query{Term: term, Limit: s.pageSize}
	key := cache.Key{Kind: KindSearch, Term: term, Limit: s.pageSize}
	if startDate != "" && endDate != "" {
		start, err := ParseBound(startDate, false)
		if err != nil {
			s.count(KindSearch, "invalid")
			return Result{}, err
		}
		end, err := ParseBound(endDate, true)
		if err != nil {
			s.count(KindSearch, "invalid")
			return Result{}, err
		}
		if end.Before(start) {
			s.count(KindSearch, "invalid")
			return Result{}, fmt.Errorf("%w: end_date is before start_date", apperrors.ErrInvalidInput)
		}
		q.Start, q.End = &start, &end
		key.Start, key.End = index.FormatDate(start), index.FormatDate(end)
	}
	return s.run(ctx, key, q)
}

func (s *Service) run(ctx context.Context, key cache.Key, q index.Query) (Result, error) {
	start := time.Now()
	fetch := func(ctx context.Context) ([]index.Summary, error) {
		docs, err := s.searcher.Search(ctx, q)
		if err != nil {
			return nil, err
		}
		out := make([]index.Summary, 0, len(docs))
		for _, d := range docs {
			out = append(out, d.Summarize())
		}
		return out, nil
	}

	var (
		summaries []index.Summary
		hit       bool
		err       error
	)
	if s.cache != nil {
		summaries, hit, err = s.cache.GetOrCompute(ctx, key, fetch)
	} else {
		summaries, err = fetch(ctx)
	}
	if err != nil {
		s.count(key.Kind, "error")
		return Result{}, fmt.Errorf("%s query: %w", key.Kind, err)
	}

	status := "miss"
	if hit {
		status = "hit"
		s.metrics.CacheHitsTotal.Inc()
	} else if s.cache != nil {
		s.metrics.CacheMissesTotal.Inc()
	} else {
		status = "disabled"
	}
	s.metrics.SearchLatency.WithLabelValues(status).Observe(time.Since(start).Seconds())
	s.metrics.SearchResultsCount.Observe(float64(len(summaries)))
	s.count(key.Kind, "ok")
	s.logger.Debug("query served", "kind", key.Kind, "term", key.Term, "results", len(summaries), "cache", status)
	return Result{Summaries: summaries, CacheHit: hit}, nil
}

func (s *Service) count(kind, result string) {
	s.metrics.SearchQueriesTotal.WithLabelValues(kind, result).Inc()
}

// ParseBound parses a date bound. A date-only value is midnight UTC, or the
// last second of that day when endOfDay is set.
func ParseBound(v string, endOfDay bool) (time.Time, error) {
	if t, err := index.ParseDate(v); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(dateOnlyLayout, v, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD or YYYY-MM-DD HH:MM:SS", apperrors.ErrInvalidInput, v)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Second)
	}
	return t, nil
}
