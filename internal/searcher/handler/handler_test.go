package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/index"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/index/blevestore"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/searcher/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/metrics"
)

func setup(t *testing.T, searcher index.Searcher) http.Handler {
	t.Helper()
	qc := cache.New(nil, cache.Config{TTL: time.Minute})
	svc := query.New(searcher, qc, 100, metrics.New(prometheus.NewRegistry()))
	mux := http.NewServeMux()
	New(svc, qc).Register(mux)
	return mux
}

func seeded(t *testing.T) *blevestore.Store {
	t.Helper()
	s, err := blevestore.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	_, err = s.Index(context.Background(), index.Document{
		Title: "T1", Text: "hello world", Author: "A",
		Date: time.Date(2024, 5, 17, 6, 4, 5, 0, time.UTC),
	})
	require.NoError(t, err)
	return s
}

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestListContent(t *testing.T) {
	h := setup(t, seeded(t))
	rec := get(h, "/api/v1/content")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"title":"T1","date":"2024-05-17 06:04:05"}]`, rec.Body.String())
}

func TestSearchByPathTerm(t *testing.T) {
	h := setup(t, seeded(t))

	rec := get(h, "/api/v1/search/hello")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"title":"T1","date":"2024-05-17 06:04:05"}]`, rec.Body.String())
	assert.Equal(t, "miss", rec.Header().Get(CacheHeader))

	rec = get(h, "/api/v1/search/hello")
	assert.Equal(t, "hit", rec.Header().Get(CacheHeader))

	rec = get(h, "/api/v1/search/goodbye")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestSearchWithDateRange(t *testing.T) {
	h := setup(t, seeded(t))

	rec := get(h, "/api/v1/search/hello?start_date=2024-05-18&end_date=2024-05-20")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = get(h, "/api/v1/search/hello?start_date=2024-05-17&end_date=2024-05-17")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"title":"T1","date":"2024-05-17 06:04:05"}]`, rec.Body.String())
}

func TestSearchRejectsBadDates(t *testing.T) {
	h := setup(t, seeded(t))
	rec := get(h, "/api/v1/search/hello?start_date=yesterday&end_date=2024-05-20")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "yesterday")
}

type downSearcher struct{}

func (downSearcher) Search(ctx context.Context, q index.Query) ([]index.Document, error) {
	return nil, fmt.Errorf("%w: dial tcp 10.0.0.7:9200: connection refused", apperrors.ErrIndexUnavailable)
}

func (downSearcher) Count(ctx context.Context) (uint64, error) { return 0, nil }

func TestIndexOutageHidesDetail(t *testing.T) {
	h := setup(t, downSearcher{})
	rec := get(h, "/api/v1/content")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"index unavailable"}`, rec.Body.String())
}

func TestCacheStatsAndInvalidate(t *testing.T) {
	h := setup(t, seeded(t))
	get(h, "/api/v1/search/hello")
	get(h, "/api/v1/search/hello")

	rec := get(h, "/api/v1/cache/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1.0, stats["hits"])
	assert.Equal(t, 1.0, stats["misses"])
	assert.Equal(t, "50.0%", stats["hit_rate"])

	del := httptest.NewRecorder()
	h.ServeHTTP(del, httptest.NewRequest(http.MethodDelete, "/api/v1/cache", nil))
	assert.Equal(t, http.StatusOK, del.Code)

	rec = get(h, "/api/v1/search/hello")
	assert.Equal(t, "miss", rec.Header().Get(CacheHeader))
}

func TestCacheRoutesWithoutCache(t *testing.T) {
	svc := query.New(seeded(t), nil, 100, metrics.New(prometheus.NewRegistry()))
	mux := http.NewServeMux()
	New(svc, nil).Register(mux)

	rec := get(mux, "/api/v1/cache/stats")
	assert.JSONEq(t, `{"status":"disabled"}`, rec.Body.String())

	del := httptest.NewRecorder()
	mux.ServeHTTP(del, httptest.NewRequest(http.MethodDelete, "/api/v1/cache", nil))
	assert.Equal(t, http.StatusServiceUnavailable, del.Code)
}
