// Command indexd owns the on-disk bleve index and serves it over HTTP on
// index.port. The indexer writes through it and the search and ingestion
// services read through it, so only one process ever opens the index files.
//
// Usage:
//
//	go run ./cmd/indexd [-config configs/development.yaml]
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
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/index/blevestore"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/index/server"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/middleware"
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
	logger.Setup("indexd", cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("index service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("index service stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	path := filepath.Join(cfg.Index.DataDir, cfg.Index.Name+".bleve")
	store, err := blevestore.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("closing index", "error", err)
		}
	}()
	count, _ := store.Count(ctx)
	slog.Info("index opened", "path", path, "documents", count)

	m := metrics.New(nil)
	mux := server.New(store).Routes()
	if cfg.Metrics.Enabled {
		mux.Handle("GET /metrics", metrics.Handler())
	}
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Index.Port),
		Handler:      middleware.Chain(mux, middleware.RequestID, middleware.Metrics(m)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("index service listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
