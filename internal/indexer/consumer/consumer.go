// Package consumer turns queue messages into index documents. It owns the
// per-message failure policy: bounded retries for transient index errors,
// and the dead-letter path for messages that cannot or will not index.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/deadletter"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/index"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/tracing"
)

type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// WriteTimeout bounds each index attempt and each dead-letter write.
	// Both run detached from shutdown so an in-flight write can finish.
	WriteTimeout time.Duration
}

// Handler indexes one queue message per call. It is a kafka.MessageHandler:
// returning nil acks the message, returning an error leaves it on the queue.
type Handler struct {
	writer  index.Writer
	sink    deadletter.Sink
	cfg     Config
	metrics *metrics.Metrics
	now     func() time.Time
	logger  *slog.Logger
}

func NewHandler(w index.Writer, sink deadletter.Sink, cfg Config, m *metrics.Metrics) *Handler {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Handler{
		writer:  w,
		sink:    sink,
		cfg:     cfg,
		metrics: m,
		now:     time.Now,
		logger:  slog.Default().With("component", "index-consumer"),
	}
}

// Handle decodes msg and indexes it. A message that fails permanently, or
// transiently MaxAttempts times, is recorded in the dead-letter sink and
// acked. If the sink write fails, or shutdown interrupts the retries, the
// error is returned and the message is redelivered later.
func (h *Handler) Handle(ctx context.Context, msg kafka.Message) (err error) {
	log := h.logger.With("partition", msg.Partition, "offset", msg.Offset)
	ctx, span := tracing.Start(ctx, "consume", fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset))
	defer func() {
		span.End(err)
		span.Emit(ctx, log)
	}()

	attempts := 0
	_, stage := tracing.Stage(ctx, "decode")
	doc, err := decode(msg)
	stage.End(err)
	if err == nil {
		_, stage = tracing.Stage(ctx, "index")
		err = h.index(ctx, doc, &attempts)
		stage.SetAttr("attempts", attempts)
		stage.End(err)
		if err == nil {
			h.metrics.MessagesConsumedTotal.WithLabelValues("indexed").Inc()
			log.Info("document indexed", "title", doc.Title, "attempts", attempts)
			return nil
		}
		var re *resilience.RetryError
		if !errors.As(err, &re) {
			log.Warn("indexing interrupted, leaving message for redelivery", "attempts", attempts, "error", err)
			return err
		}
	}

	reason := "exhausted"
	if apperrors.IsPermanent(err) {
		reason = "permanent"
	}
	if attempts == 0 {
		attempts = 1
	}
	entry := deadletter.Entry{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Payload:   msg.Value,
		Reason:    err.Error(),
		Attempts:  attempts,
		FailedAt:  h.now().UTC(),
	}
	_, stage = tracing.Stage(ctx, "deadletter")
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.cfg.WriteTimeout)
	defer cancel()
	rerr := h.sink.Record(recordCtx, entry)
	stage.End(rerr)
	if rerr != nil {
		h.metrics.MessagesConsumedTotal.WithLabelValues("failed").Inc()
		log.Error("dead-letter write failed, leaving message for redelivery", "error", rerr, "cause", err)
		return fmt.Errorf("recording dead letter: %w", rerr)
	}
	h.metrics.DeadLettersTotal.WithLabelValues(reason).Inc()
	h.metrics.MessagesConsumedTotal.WithLabelValues("dead_lettered").Inc()
	log.Warn("message dead-lettered", "reason", reason, "attempts", attempts, "error", err)
	return nil
}

func (h *Handler) index(ctx context.Context, doc index.Document, attempts *int) error {
	cfg := resilience.RetryConfig{
		MaxAttempts:  h.cfg.MaxAttempts,
		InitialDelay: h.cfg.InitialBackoff,
		MaxDelay:     h.cfg.MaxBackoff,
		OnRetry: func(int, error) {
			h.metrics.IndexRetriesTotal.Inc()
		},
	}
	return resilience.Retry(ctx, "index document", cfg, func() error {
		*attempts++
		start := time.Now()
		err := resilience.WithTimeout(context.WithoutCancel(ctx), h.cfg.WriteTimeout, "index write", func(ctx context.Context) error {
			_, err := h.writer.Index(ctx, doc)
			return err
		})
		h.metrics.IndexWriteDuration.Observe(time.Since(start).Seconds())
		return err
	})
}

// decode maps the queue payload onto a document. Any failure here is
// permanent: the same bytes will never decode.
func decode(msg kafka.Message) (index.Document, error) {
	item, err := kafka.DecodeJSON[ingestion.ContentItem](msg.Value)
	if err != nil {
		return index.Document{}, apperrors.Permanent(fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err))
	}
	doc, err := item.Document(msg.Offset)
	if err != nil {
		return index.Document{}, apperrors.Permanent(fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err))
	}
	return doc, nil
}
