// Package publisher stamps accepted content with its submission time and
// submitter and hands it to the message channel. Publishing is the only
// side effect: callers get their answer before anything is indexed.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/index"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/resilience"
)

// Producer is the part of *kafka.Producer the publisher needs.
type Producer interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

type Config struct {
	// Queue is the queue name; it doubles as the partition key so every
	// item lands on one partition in publish order.
	Queue          string
	BulkMode       string
	PublishTimeout time.Duration
	Breaker        resilience.CircuitBreakerConfig
}

// Publisher publishes ContentItems built from validated input.
type Publisher struct {
	producer Producer
	direct   index.Writer
	cfg      Config
	breaker  *resilience.CircuitBreaker
	metrics  *metrics.Metrics
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a Publisher. direct is only used when cfg.BulkMode is
// config.BulkModeDirect and may be nil otherwise.
func New(producer Producer, direct index.Writer, cfg Config, m *metrics.Metrics) (*Publisher, error) {
	if cfg.BulkMode == "" {
		cfg.BulkMode = config.BulkModeQueue
	}
	if cfg.BulkMode == config.BulkModeDirect && direct == nil {
		return nil, fmt.Errorf("bulk mode %q needs an index writer", config.BulkModeDirect)
	}
	breakerCfg := cfg.Breaker
	breakerCfg.OnStateChange = func(name string, from, to resilience.State) {
		m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
	}
	p := &Publisher{
		producer: producer,
		direct:   direct,
		cfg:      cfg,
		breaker:  resilience.NewCircuitBreaker("publish:"+cfg.Queue, breakerCfg),
		metrics:  m,
		now:      time.Now,
		logger:   slog.Default().With("component", "publisher", "queue", cfg.Queue),
	}
	p.logger.Info("publisher ready", "bulk_mode", cfg.BulkMode)
	return p, nil
}

// SetClock replaces the time source used for stamping.
func (p *Publisher) SetClock(now func() time.Time) { p.now = now }

// Submit publishes one item exactly once. Duplicate submissions are not
// detected and produce duplicate documents.
func (p *Publisher) Submit(ctx context.Context, in ingestion.ContentInput, user string) (ingestion.ContentItem, error) {
	item := p.stamp(in, user)
	if err := p.publish(ctx, []ingestion.ContentItem{item}); err != nil {
		p.metrics.ContentSubmittedTotal.WithLabelValues("single", "unavailable").Inc()
		return ingestion.ContentItem{}, err
	}
	p.metrics.ContentSubmittedTotal.WithLabelValues("single", "accepted").Inc()
	return item, nil
}

// SubmitBulk publishes every item in order through the queue, all stamped
// with the same date. In direct mode the items skip the queue and are
// written to the index in one batch instead; that path is faster but a
// failure loses the batch rather than redelivering it.
func (p *Publisher) SubmitBulk(ctx context.Context, in []ingestion.ContentInput, user string) ([]ingestion.ContentItem, error) {
	now := p.now()
	items := make([]ingestion.ContentItem, 0, len(in))
	for _, c := range in {
		items = append(items, p.stampAt(c, user, now))
	}

	var err error
	if p.cfg.BulkMode == config.BulkModeDirect {
		err = p.writeDirect(ctx, items)
	} else {
		err = p.publish(ctx, items)
	}
	if err != nil {
		p.metrics.ContentSubmittedTotal.WithLabelValues("bulk", "unavailable").Inc()
		return nil, err
	}
	p.metrics.ContentSubmittedTotal.WithLabelValues("bulk", "accepted").Inc()
	return items, nil
}

func (p *Publisher) stamp(in ingestion.ContentInput, user string) ingestion.ContentItem {
	return p.stampAt(in, user, p.now())
}

func (p *Publisher) stampAt(in ingestion.ContentInput, user string, at time.Time) ingestion.ContentItem {
	return ingestion.ContentItem{
		Title:  in.Title,
		Text:   in.Text,
		Author: in.Author,
		Date:   index.FormatDate(at),
		User:   user,
	}
}

func (p *Publisher) publish(ctx context.Context, items []ingestion.ContentItem) error {
	events := make([]kafka.Event, 0, len(items))
	for _, item := range items {
		events = append(events, kafka.Event{Key: p.cfg.Queue, Value: item})
	}
	if p.cfg.PublishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.PublishTimeout)
		defer cancel()
	}

	err := p.breaker.Execute(func() error {
		return p.producer.PublishBatch(ctx, events)
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			p.logger.Warn("publish rejected, channel circuit open", "count", len(items))
		} else {
			p.logger.Error("publish failed", "count", len(items), "error", err)
		}
		return &apperrors.AppError{
			Err:        fmt.Errorf("%w: %w", apperrors.ErrChannelUnavailable, err),
			Message:    "message channel unavailable",
			StatusCode: http.StatusServiceUnavailable,
		}
	}
	p.metrics.ContentPublishedTotal.Add(float64(len(items)))
	p.logger.Debug("content published", "count", len(items))
	return nil
}

func (p *Publisher) writeDirect(ctx context.Context, items []ingestion.ContentItem) error {
	docs := make([]index.Document, 0, len(items))
	for _, item := range items {
		doc, err := item.Document(0)
		if err != nil {
			return fmt.Errorf("%w: %v", apperrors.ErrInternal, err)
		}
		docs = append(docs, doc)
	}
	if err := p.direct.Bulk(ctx, docs); err != nil {
		p.logger.Error("direct bulk index failed", "count", len(docs), "error", err)
		return &apperrors.AppError{
			Err:        fmt.Errorf("%w: %w", apperrors.ErrIndexUnavailable, err),
			Message:    "index unavailable",
			StatusCode: http.StatusServiceUnavailable,
		}
	}
	p.logger.Info("bulk written directly to index", "count", len(docs))
	return nil
}
