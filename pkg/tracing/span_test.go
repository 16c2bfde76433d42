package tracing

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStagesInheritTraceID(t *testing.T) {
	ctx, root := Start(context.Background(), "consume", "content-queue/0/7")
	_, decode := Stage(ctx, "decode")
	decode.End(nil)
	_, write := Stage(ctx, "index")
	write.End(errors.New("boom"))
	root.End(nil)

	children := root.Children()
	require.Len(t, children, 2)
	assert.Equal(t, "content-queue/0/7", children[0].TraceID)
	assert.Equal(t, "index", children[1].Name)
	assert.EqualError(t, children[1].Err, "boom")
	assert.Positive(t, root.Duration)
}

func TestStageWithoutParent(t *testing.T) {
	ctx, s := Stage(context.Background(), "orphan")
	assert.Empty(t, s.TraceID)
	assert.Same(t, s, FromContext(ctx))
}

func TestEndKeepsFirstResult(t *testing.T) {
	_, s := Start(context.Background(), "op", "t1")
	s.End(errors.New("first"))
	s.End(nil)
	assert.EqualError(t, s.Err, "first")
}

func TestEmit(t *testing.T) {
	ctx, root := Start(context.Background(), "consume", "t1")
	root.SetAttr("offset", int64(3))
	_, child := Stage(ctx, "index")
	child.End(nil)
	root.End(nil)

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	root.Emit(context.Background(), log)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "span=consume")
	assert.Contains(t, lines[0], "offset=3")
	assert.Contains(t, lines[1], "span=consume/index")

	buf.Reset()
	quiet := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	root.Emit(context.Background(), quiet)
	assert.Empty(t, buf.String())
}
