package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allIDs() context.Context {
	ctx := WithRunID(context.Background(), "run-1")
	ctx = WithCompanyID(ctx, "co-2")
	return WithRequestID(ctx, "req-3")
}

func TestContextKeys(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RunID(ctx))
	assert.Empty(t, CompanyID(ctx))
	assert.Empty(t, RequestID(ctx))

	ctx = allIDs()
	assert.Equal(t, "run-1", RunID(ctx))
	assert.Equal(t, "co-2", CompanyID(ctx))
	assert.Equal(t, "req-3", RequestID(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	LogWith(allIDs(), logger).Info("test message")

	out := buf.String()
	assert.Contains(t, out, "run_id=run-1")
	assert.Contains(t, out, "company_id=co-2")
	assert.Contains(t, out, "request_id=req-3")
	assert.Contains(t, out, "test message")
}

func TestLogWith_PartialContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	LogWith(WithRunID(context.Background(), "run-only"), logger).Info("partial")

	out := buf.String()
	assert.Contains(t, out, "run_id=run-only")
	assert.NotContains(t, out, "company_id")
	assert.NotContains(t, out, "request_id")
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))

	logger.InfoContext(allIDs(), "auto inject")
	out := buf.String()
	assert.Contains(t, out, `"run_id":"run-1"`)
	assert.Contains(t, out, `"company_id":"co-2"`)
	assert.Contains(t, out, `"request_id":"req-3"`)

	buf.Reset()
	logger.InfoContext(context.Background(), "bare log")
	assert.NotContains(t, buf.String(), "run_id")
	assert.Contains(t, buf.String(), "bare log")
}

func TestCorrelationHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	handler := NewCorrelationHandler(slog.NewJSONHandler(&buf, nil))

	slog.New(handler.WithAttrs([]slog.Attr{slog.String("component", "engine")})).
		InfoContext(WithRunID(context.Background(), "run-attr"), "with attrs")
	assert.Contains(t, buf.String(), `"run_id":"run-attr"`)
	assert.Contains(t, buf.String(), `"component":"engine"`)

	buf.Reset()
	slog.New(handler.WithGroup("panel")).
		InfoContext(WithRequestID(context.Background(), "req-grp"), "grouped", "key", "val")
	assert.Contains(t, buf.String(), "req-grp")
	assert.Contains(t, buf.String(), "grouped")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, slog.LevelWarn, "text").InfoContext(allIDs(), "hidden")
	assert.Empty(t, buf.String())

	New(&buf, slog.LevelInfo, "text").InfoContext(allIDs(), "shown")
	assert.Contains(t, buf.String(), "run_id=run-1")

	buf.Reset()
	New(&buf, slog.LevelInfo, "json").Info("structured")
	assert.Contains(t, buf.String(), `"msg":"structured"`)
}
