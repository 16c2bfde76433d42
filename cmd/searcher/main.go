// Command searcher serves the query API: GET /api/v1/content lists indexed
// content and GET /api/v1/search/{term} runs a text search with an
// optional date range. Results are cached in Redis when it is reachable and
// in process otherwise.
//
// Usage:
//
//	go run ./cmd/searcher [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	indexclient "github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/index/client"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	if err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load env files: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup("searcher", cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service", "port", cfg.Server.Port, "page_size", cfg.Search.PageSize)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("search service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	m := metrics.New(nil)
	checker := health.NewChecker()

	store := indexclient.New(cfg.Index.URL(), cfg.Index.RequestTimeout)
	defer store.Close()
	checker.Register("index", health.FromPing(store.Ping, true))

	cacheCfg := cache.Config{
		TTL:       cfg.Redis.CacheTTL,
		LocalSize: cfg.Search.LocalCacheSize,
		LocalTTL:  cfg.Search.LocalCacheTTL,

		ComputeTimeout: cfg.Index.RequestTimeout,
	}
	var qc *cache.QueryCache
	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, caching in process only", "error", err)
		qc = cache.New(nil, cacheCfg)
		redisErr := err
		checker.Register("redis", health.FromPing(func(context.Context) error { return redisErr }, false))
	} else {
		defer redisClient.Close()
		qc = cache.New(redisClient, cacheCfg)
		checker.Register("redis", health.FromPing(redisClient.Ping, false))
		slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	svc := query.New(store, qc, cfg.Search.PageSize, m)
	mux := http.NewServeMux()
	handler.New(svc, qc).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: middleware.Chain(mux,
			middleware.RequestID,
			middleware.Metrics(m),
			middleware.CORS(cfg.Server.AllowOrigins),
			middleware.Timeout(cfg.Server.WriteTimeout),
		),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("search service listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
