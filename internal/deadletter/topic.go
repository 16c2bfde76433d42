package deadletter

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/kafka"
)

// Headers set on republished messages.
const (
	HeaderEntryID         = "x-dead-letter-id"
	HeaderSourceTopic     = "x-dead-letter-topic"
	HeaderSourcePartition = "x-dead-letter-partition"
	HeaderSourceOffset    = "x-dead-letter-offset"
	HeaderReason          = "x-dead-letter-reason"
	HeaderAttempts        = "x-dead-letter-attempts"
	HeaderFailedAt        = "x-dead-letter-failed-at"
)

// Publisher is the part of *kafka.Producer TopicSink needs.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// TopicSink republishes the original payload to a dead-letter topic with
// the failure described in headers. Entries already published by this
// process are skipped, which covers redelivery after a later sink in a
// Chain failed.
//
// The skip list is in memory only. If the process dies after publishing but
// before the source message is committed, the entry is published again on
// restart, so the topic on its own is at-least-once. Readers that need each
// entry once dedupe on HeaderEntryID; PostgresStore enforces it with a
// unique key.
type TopicSink struct {
	pub    Publisher
	seen   *lru.Cache[string, struct{}]
	logger *slog.Logger
}

func NewTopicSink(pub Publisher) *TopicSink {
	seen, _ := lru.New[string, struct{}](4096)
	return &TopicSink{
		pub:    pub,
		seen:   seen,
		logger: slog.Default().With("component", "deadletter-topic"),
	}
}

func (s *TopicSink) Record(ctx context.Context, e Entry) error {
	if s.seen.Contains(e.id()) {
		return nil
	}
	err := s.pub.Publish(ctx, kafka.Event{
		Key:   string(e.Key),
		Value: e.Payload,
		Headers: map[string]string{
			HeaderEntryID:         e.id(),
			HeaderSourceTopic:     e.Topic,
			HeaderSourcePartition: strconv.Itoa(e.Partition),
			HeaderSourceOffset:    strconv.FormatInt(e.Offset, 10),
			HeaderReason:          e.Reason,
			HeaderAttempts:        strconv.Itoa(e.Attempts),
			HeaderFailedAt:        e.FailedAt.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return err
	}
	s.seen.Add(e.id(), struct{}{})
	s.logger.Info("message dead-lettered", "entry", e.id(), "reason", e.Reason)
	return nil
}
