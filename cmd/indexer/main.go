// Command indexer consumes the content queue and writes each item to the
// index. It is the only writer that establishes document order, so exactly
// one instance should run per queue partition.
//
// Messages that fail permanently, or exhaust their retries, are republished
// to the dead-letter topic and, when PostgreSQL is enabled, recorded in the
// dead_letters table. The process exits non-zero if the channel fails
// permanently so a supervisor can restart it.
//
// Usage:
//
//	go run ./cmd/indexer [-config configs/development.yaml]
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

	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/deadletter"
	indexclient "github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/index/client"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/metrics"
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
	logger.Setup("indexer", cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting indexer service",
		"topic", cfg.Kafka.Topics.ContentQueue,
		"group", cfg.Kafka.ConsumerGroup,
		"max_attempts", cfg.Indexer.MaxAttempts,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("indexer service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("indexer service stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	m := metrics.New(nil)
	checker := health.NewChecker()

	topics := cfg.Kafka.Topics
	checker.Register("kafka", health.FromPing(func(ctx context.Context) error {
		return kafka.Ping(ctx, cfg.Kafka)
	}, true))

	store := indexclient.New(cfg.Index.URL(), cfg.Index.RequestTimeout)
	defer store.Close()
	checker.Register("index", health.FromPing(store.Ping, true))

	dlqProducer := kafka.NewProducer(cfg.Kafka, topics.DeadLetter)
	defer dlqProducer.Close()
	sinks := deadletter.Chain{deadletter.NewTopicSink(dlqProducer)}
	if cfg.Postgres.Enabled {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(ctx, deadletter.Schema); err != nil {
			return err
		}
		sinks = append(sinks, deadletter.NewPostgresStore(db.DB))
		checker.Register("postgres", health.FromPing(db.Ping, true))
	}

	h := consumer.NewHandler(store, sinks, consumer.Config{
		MaxAttempts:    cfg.Indexer.MaxAttempts,
		InitialBackoff: cfg.Indexer.InitialBackoff,
		MaxBackoff:     cfg.Indexer.MaxBackoff,
		WriteTimeout:   cfg.Indexer.WriteTimeout,
	}, m)
	backoff := resilience.RetryConfig{
		InitialDelay: cfg.Indexer.InitialBackoff,
		MaxDelay:     cfg.Indexer.MaxBackoff,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	if cfg.Metrics.Enabled {
		mux.Handle("GET /metrics", metrics.Handler())
	}
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// The broker may come up after us; keep declaring until it does or
		// the process is told to stop.
		if err := kafka.AwaitTopics(gctx, cfg.Kafka, backoff, topics.ContentQueue, topics.DeadLetter); err != nil {
			if gctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("declaring topics: %w", err)
		}
		c := kafka.NewConsumer(cfg.Kafka, topics.ContentQueue, h.Handle)
		c.SetBackoff(backoff)
		// A fatal channel error ends the group; a signal ends it cleanly.
		return c.Start(gctx)
	})
	g.Go(func() error {
		slog.Info("health server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
