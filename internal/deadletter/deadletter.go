// Package deadletter records queue messages the indexing consumer gave up
// on, so they leave the active queue without being lost.
package deadletter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Entry is one dead-lettered message. (Topic, Partition, Offset) identifies
// it; sinks record each identity at most once.
type Entry struct {
	Topic     string    `json:"topic"`
	Partition int       `json:"partition"`
	Offset    int64     `json:"offset"`
	Key       []byte    `json:"key,omitempty"`
	Payload   []byte    `json:"payload"`
	Reason    string    `json:"reason"`
	Attempts  int       `json:"attempts"`
	FailedAt  time.Time `json:"failed_at"`
}

func (e Entry) id() string {
	return fmt.Sprintf("%s/%d/%d", e.Topic, e.Partition, e.Offset)
}

// Sink stores dead-lettered messages. Record must be safe to repeat for the
// same entry.
type Sink interface {
	Record(ctx context.Context, e Entry) error
}

// Chain records to every sink in order and fails if any of them fails.
// Every sink is attempted even after an earlier one fails.
type Chain []Sink

func (c Chain) Record(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range c {
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
