// Command ingestion starts the content ingestion HTTP service.
//
// The service accepts content via POST /api/v1/content and
// POST /api/v1/content/bulk, stamps each item with the caller and the
// submission time, and publishes it to the content queue for the indexer.
// Callers authenticate with a JWT or an API key.
//
// Usage:
//
//	go run ./cmd/ingestion [-config configs/development.yaml]
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
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/auth"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/auth/jwtauth"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/auth/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/index"
	indexclient "github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/index/client"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/resilience"
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
	logger.Setup("ingestion", cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting ingestion service", "port", cfg.Server.Port, "bulk_mode", cfg.Ingestion.BulkMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("ingestion service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("ingestion service stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	m := metrics.New(nil)
	checker := health.NewChecker()

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.ContentQueue)
	defer producer.Close()
	checker.Register("kafka", health.FromPing(func(ctx context.Context) error {
		return kafka.Ping(ctx, cfg.Kafka)
	}, true))

	var direct index.Writer
	if cfg.Ingestion.BulkMode == config.BulkModeDirect {
		ic := indexclient.New(cfg.Index.URL(), cfg.Index.RequestTimeout)
		defer ic.Close()
		direct = ic
		checker.Register("index", health.FromPing(ic.Ping, true))
	}

	verifier, closeVerifier, err := newVerifier(ctx, cfg, checker)
	if err != nil {
		return err
	}
	defer closeVerifier()

	pub, err := publisher.New(producer, direct, publisher.Config{
		Queue:          cfg.Kafka.Topics.ContentQueue,
		BulkMode:       cfg.Ingestion.BulkMode,
		PublishTimeout: cfg.Kafka.PublishTimeout,
		Breaker: resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.Ingestion.BreakerFailureThreshold,
			ResetTimeout:     cfg.Ingestion.BreakerResetTimeout,
		},
	}, m)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	handler.New(pub, m).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	limiter := ratelimit.New(ctx, cfg.Auth.RateWindow)
	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: middleware.Chain(mux,
			middleware.RequestID,
			middleware.Metrics(m),
			middleware.CORS(cfg.Server.AllowOrigins),
			auth.Authenticate(verifier, m),
			auth.RateLimit(limiter, cfg.Auth.RateLimit, m),
			middleware.Timeout(cfg.Server.WriteTimeout),
		),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}
	g.Go(func() error {
		// Submissions answer 503 until the queue exists.
		backoff := resilience.RetryConfig{InitialDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second}
		if err := kafka.AwaitTopics(gctx, cfg.Kafka, backoff, cfg.Kafka.Topics.ContentQueue); err != nil {
			if gctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("declaring content queue: %w", err)
		}
		slog.Info("content queue ready", "topic", cfg.Kafka.Topics.ContentQueue)
		return nil
	})
	g.Go(func() error {
		slog.Info("ingestion service listening", "addr", server.Addr)
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

// newVerifier builds the credential verifier for cfg.Auth.Mode. The returned
// func releases whatever the verifier holds open.
func newVerifier(ctx context.Context, cfg *config.Config, checker *health.Checker) (auth.Verifier, func(), error) {
	switch cfg.Auth.Mode {
	case config.AuthModeAPIKey:
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		if err := db.Migrate(ctx, apikey.Schema); err != nil {
			db.Close()
			return nil, nil, err
		}
		checker.Register("postgres", health.FromPing(db.Ping, true))
		slog.Info("api key authentication enabled")
		return apikey.NewStore(db.DB), func() { db.Close() }, nil
	default:
		slog.Info("jwt authentication enabled", "issuer", cfg.Auth.JWTIssuer)
		return jwtauth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience), func() {}, nil
	}
}
