package utils

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

type failingHandler struct {
	slog.Handler
}

func (failingHandler) Handle(context.Context, slog.Record) error {
	return errors.New("disk full")
}

func TestMultiLogHandler_Levels(t *testing.T) {
	var debug, warn bytes.Buffer
	logger := slog.New(NewMultiLogHandler(
		slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&warn, &slog.HandlerOptions{Level: slog.LevelWarn}),
	))

	logger.Debug("detail")
	logger.Warn("problem")

	assert.Contains(t, debug.String(), "detail")
	assert.Contains(t, debug.String(), "problem")
	assert.NotContains(t, warn.String(), "detail")
	assert.Contains(t, warn.String(), "problem")
}

func TestMultiLogHandler_Enabled(t *testing.T) {
	h := NewMultiLogHandler(
		slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}),
	)
	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
	assert.False(t, NewMultiLogHandler().Enabled(context.Background(), slog.LevelError))
}

func TestMultiLogHandler_AttrsAndGroups(t *testing.T) {
	var a, b bytes.Buffer
	logger := slog.New(NewMultiLogHandler(
		slog.NewTextHandler(&a, nil),
		slog.NewTextHandler(&b, nil),
	)).With("component", "index").WithGroup("op")

	logger.Info("saved", "path", "a.pdf")

	for _, out := range []string{a.String(), b.String()} {
		assert.Contains(t, out, "component=index")
		assert.Contains(t, out, "op.path=a.pdf")
	}
}

func TestMultiLogHandler_ErrorDoesNotStopOthers(t *testing.T) {
	var out bytes.Buffer
	ok := slog.NewTextHandler(&out, nil)
	h := NewMultiLogHandler(failingHandler{ok}, ok)

	logger := slog.New(h)
	logger.Info("still written")

	assert.Contains(t, out.String(), "still written")
}
