// Package tracing records how long each stage of a unit of work takes. A
// root span is opened per message or request, stages hang off it as
// children, and the finished tree is written to slog as one record per
// span.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type contextKey struct{}

type Span struct {
	Name     string
	TraceID  string
	Start    time.Time
	Duration time.Duration
	Err      error

	mu       sync.Mutex
	attrs    []any
	children []*Span
}

// Start opens a root span identified by traceID.
func Start(ctx context.Context, name, traceID string) (context.Context, *Span) {
	s := &Span{Name: name, TraceID: traceID, Start: time.Now()}
	return context.WithValue(ctx, contextKey{}, s), s
}

// Stage opens a child of the span in ctx. Without a parent the stage is a
// detached root with an empty trace ID; it still times but is never emitted.
func Stage(ctx context.Context, name string) (context.Context, *Span) {
	s := &Span{Name: name, Start: time.Now()}
	if parent := FromContext(ctx); parent != nil {
		s.TraceID = parent.TraceID
		parent.mu.Lock()
		parent.children = append(parent.children, s)
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, contextKey{}, s), s
}

func FromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(contextKey{}).(*Span)
	return s
}

// End fixes the span's duration and outcome. Calling End twice keeps the
// first result.
func (s *Span) End(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Duration != 0 {
		return
	}
	s.Duration = time.Since(s.Start)
	if s.Duration == 0 {
		s.Duration = time.Nanosecond
	}
	s.Err = err
}

func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, key, value)
	s.mu.Unlock()
}

func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Span(nil), s.children...)
}

// Emit writes the span and its stages at debug level, parents first.
func (s *Span) Emit(ctx context.Context, log *slog.Logger) {
	if !log.Enabled(ctx, slog.LevelDebug) {
		return
	}
	s.emit(ctx, log, s.Name)
}

func (s *Span) emit(ctx context.Context, log *slog.Logger, path string) {
	s.mu.Lock()
	args := []any{
		"trace_id", s.TraceID,
		"span", path,
		"duration_ms", float64(s.Duration.Microseconds()) / 1000,
	}
	if s.Err != nil {
		args = append(args, "error", s.Err)
	}
	args = append(args, s.attrs...)
	children := append([]*Span(nil), s.children...)
	s.mu.Unlock()

	log.DebugContext(ctx, "span", args...)
	for _, c := range children {
		c.emit(ctx, log, path+"/"+c.Name)
	}
}
