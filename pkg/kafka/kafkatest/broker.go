// Package kafkatest provides an in-memory broker whose readers and writers
// satisfy kafka.MessageReader and kafka.MessageWriter. Each topic is a single
// partition; committed offsets are kept per consumer group and survive
// reader restarts.
package kafkatest

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/kafka"
)

type Broker struct {
	mu        sync.Mutex
	logs      map[string][]kafka.Message
	committed map[string]int64
	notify    chan struct{}
	writeErr  error
}

func NewBroker() *Broker {
	return &Broker{
		logs:      make(map[string][]kafka.Message),
		committed: make(map[string]int64),
		notify:    make(chan struct{}),
	}
}

// FailWrites makes every subsequent write return err. Pass nil to recover.
func (b *Broker) FailWrites(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writeErr = err
}

// Messages returns a copy of the topic's log.
func (b *Broker) Messages(topic string) []kafka.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]kafka.Message(nil), b.logs[topic]...)
}

// Committed returns the group's next offset to read on topic.
func (b *Broker) Committed(topic, group string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.committed[groupKey(topic, group)]
}

func (b *Broker) Writer(topic string) *Writer {
	return &Writer{broker: b, topic: topic}
}

// Reader returns a group reader positioned at the group's committed offset.
func (b *Broker) Reader(topic, group string) *Reader {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &Reader{
		broker: b,
		topic:  topic,
		group:  group,
		next:   b.committed[groupKey(topic, group)],
		closed: make(chan struct{}),
	}
}

func (b *Broker) append(topic string, msgs []kafka.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writeErr != nil {
		return b.writeErr
	}
	now := time.Now()
	for _, m := range msgs {
		m.Topic = topic
		m.Partition = 0
		m.Offset = int64(len(b.logs[topic]))
		m.Time = now
		b.logs[topic] = append(b.logs[topic], m)
	}
	close(b.notify)
	b.notify = make(chan struct{})
	return nil
}

func groupKey(topic, group string) string {
	return group + "/" + topic
}

type Writer struct {
	broker *Broker
	topic  string
}

func (w *Writer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return w.broker.append(w.topic, msgs)
}

func (w *Writer) Close() error { return nil }

type Reader struct {
	broker    *Broker
	topic     string
	group     string
	next      int64
	fetchErrs []error
	closed    chan struct{}
	closeOnce sync.Once
}

// FailFetches queues errors to be returned by the next FetchMessage calls,
// one per call, before any message is delivered.
func (r *Reader) FailFetches(errs ...error) {
	r.broker.mu.Lock()
	defer r.broker.mu.Unlock()
	r.fetchErrs = append(r.fetchErrs, errs...)
}

// FetchMessage blocks until a message past the reader's position is
// available. A closed reader returns io.EOF.
func (r *Reader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	for {
		select {
		case <-r.closed:
			return kafka.Message{}, io.EOF
		default:
		}

		b := r.broker
		b.mu.Lock()
		if len(r.fetchErrs) > 0 {
			err := r.fetchErrs[0]
			r.fetchErrs = r.fetchErrs[1:]
			b.mu.Unlock()
			return kafka.Message{}, err
		}
		log := b.logs[r.topic]
		if r.next < int64(len(log)) {
			msg := log[r.next]
			r.next++
			b.mu.Unlock()
			return msg, nil
		}
		wait := b.notify
		b.mu.Unlock()

		select {
		case <-wait:
		case <-r.closed:
			return kafka.Message{}, io.EOF
		case <-ctx.Done():
			return kafka.Message{}, ctx.Err()
		}
	}
}

// CommitMessages advances the group's committed offset past each message.
func (r *Reader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	select {
	case <-r.closed:
		return io.ErrClosedPipe
	default:
	}
	b := r.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	key := groupKey(r.topic, r.group)
	for _, m := range msgs {
		if m.Offset+1 > b.committed[key] {
			b.committed[key] = m.Offset + 1
		}
	}
	return nil
}

func (r *Reader) Close() error {
	r.closeOnce.Do(func() { close(r.closed) })
	return nil
}
