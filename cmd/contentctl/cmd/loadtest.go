package cmd

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
)

var (
	loadSearchURL   string
	loadIngestURL   string
	loadToken       string
	loadWorkers     int
	loadDuration    time.Duration
	loadSubmitEvery int
)

var defaultTerms = []string{
	"hello", "queue", "index", "search", "content",
	"pipeline", "kafka", "bleve", "cache", "dead letter",
}

var loadTestCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Drive the query gateway, optionally mixing in submissions",
	Long: `Run concurrent workers against GET /api/v1/search/{term} for a fixed
duration and report latency percentiles, cache hit ratio and status codes.
With --submit-every N, every Nth request per worker is a POST to the
ingestion gateway instead, authenticated with --token.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if loadSubmitEvery > 0 && loadToken == "" {
			return fmt.Errorf("--token is required with --submit-every")
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "search:      %s\n", loadSearchURL)
		fmt.Fprintf(out, "workers:     %d\n", loadWorkers)
		fmt.Fprintf(out, "duration:    %s\n\n", loadDuration)

		ctx, cancel := context.WithTimeout(cmd.Context(), loadDuration)
		defer cancel()
		stats := runLoad(ctx, newLoadClient(loadWorkers))
		stats.report(out, loadDuration)
		if stats.total.Load() == 0 {
			return fmt.Errorf("no requests completed; is the service running?")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loadTestCmd)

	loadTestCmd.Flags().StringVar(&loadSearchURL, "search-url", "http://localhost:8081", "base URL of the search service")
	loadTestCmd.Flags().StringVar(&loadIngestURL, "ingest-url", "http://localhost:8080", "base URL of the ingestion service")
	loadTestCmd.Flags().StringVar(&loadToken, "token", "", "bearer token for submissions")
	loadTestCmd.Flags().IntVar(&loadWorkers, "workers", 10, "concurrent workers")
	loadTestCmd.Flags().DurationVar(&loadDuration, "duration", 30*time.Second, "test duration")
	loadTestCmd.Flags().IntVar(&loadSubmitEvery, "submit-every", 0, "make every Nth request a submission; 0 disables")
}

type loadStats struct {
	total     atomic.Int64
	success   atomic.Int64
	errors    atomic.Int64
	cacheHits atomic.Int64
	submits   atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
	codes     map[int]int64
}

func newLoadStats() *loadStats {
	return &loadStats{
		latencies: make([]time.Duration, 0, 100000),
		codes:     make(map[int]int64),
	}
}

func (s *loadStats) record(d time.Duration, resp *http.Response, err error) {
	s.total.Add(1)
	if err != nil {
		s.errors.Add(1)
		return
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.success.Add(1)
	} else {
		s.errors.Add(1)
	}
	if resp.Header.Get("X-Cache") == "hit" {
		s.cacheHits.Add(1)
	}
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.codes[resp.StatusCode]++
	s.mu.Unlock()
}

func newLoadClient(workers int) *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        workers * 2,
			MaxIdleConnsPerHost: workers * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

func runLoad(ctx context.Context, client *http.Client) *loadStats {
	stats := newLoadStats()
	var wg sync.WaitGroup
	for w := 0; w < loadWorkers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := worker; ctx.Err() == nil; i++ {
				req, err := nextRequest(ctx, worker, i)
				if err != nil {
					stats.record(0, nil, err)
					return
				}
				start := time.Now()
				resp, err := client.Do(req)
				d := time.Since(start)
				if err != nil {
					if ctx.Err() == nil {
						stats.record(d, nil, err)
					}
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				stats.record(d, resp, nil)
				if req.Method == http.MethodPost {
					stats.submits.Add(1)
				}
			}
		}(w)
	}
	wg.Wait()
	return stats
}

func nextRequest(ctx context.Context, worker, i int) (*http.Request, error) {
	if loadSubmitEvery > 0 && i%loadSubmitEvery == 0 {
		body := fmt.Sprintf(`{"title":"load %d-%d","text":"%s","author":"loadtest"}`,
			worker, i, defaultTerms[i%len(defaultTerms)])
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, loadIngestURL+"/api/v1/content", strings.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+loadToken)
		return req, nil
	}
	term := url.PathEscape(defaultTerms[i%len(defaultTerms)])
	return http.NewRequestWithContext(ctx, http.MethodGet, loadSearchURL+"/api/v1/search/"+term, nil)
}

func (s *loadStats) report(w io.Writer, duration time.Duration) {
	total := s.total.Load()
	fmt.Fprintln(w, "=== Results ===")
	fmt.Fprintf(w, "requests:    %d\n", total)
	fmt.Fprintf(w, "successful:  %d\n", s.success.Load())
	fmt.Fprintf(w, "errors:      %d\n", s.errors.Load())
	fmt.Fprintf(w, "submissions: %d\n", s.submits.Load())
	if total > 0 {
		fmt.Fprintf(w, "error rate:  %.2f%%\n", float64(s.errors.Load())/float64(total)*100)
		fmt.Fprintf(w, "cache hits:  %.2f%%\n", float64(s.cacheHits.Load())/float64(total)*100)
		fmt.Fprintf(w, "req/sec:     %.2f\n", float64(total)/duration.Seconds())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.latencies) > 0 {
		sorted := append([]time.Duration(nil), s.latencies...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		var sum time.Duration
		for _, l := range sorted {
			sum += l
		}
		fmt.Fprintln(w, "\n=== Latency ===")
		fmt.Fprintf(w, "min: %s\n", sorted[0])
		fmt.Fprintf(w, "avg: %s\n", sum/time.Duration(len(sorted)))
		for _, p := range []float64{50, 90, 95, 99} {
			fmt.Fprintf(w, "p%.0f: %s\n", p, percentile(sorted, p))
		}
		fmt.Fprintf(w, "max: %s\n", sorted[len(sorted)-1])
	}

	codes := make([]int, 0, len(s.codes))
	for code := range s.codes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	fmt.Fprintln(w, "\n=== Status codes ===")
	for _, code := range codes {
		fmt.Fprintf(w, "  %d: %d\n", code, s.codes[code])
	}
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
