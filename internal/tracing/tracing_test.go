package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTraceIDUnique(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	assert.NotEmpty(t, id1)
	assert.NotEqual(t, id1, id2)
}

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithSessionName(ctx, "demo")
	ctx = WithProvider(ctx, "bedrock")

	tc := FromContext(ctx)
	assert.Equal(t, "trace-1", tc.TraceID)
	assert.Equal(t, "req-1", tc.RequestID)
	assert.Equal(t, "demo", tc.SessionName)
	assert.Equal(t, "bedrock", tc.Provider)

	assert.Equal(t, "", GetTraceID(context.Background()))
}

func TestNewRequestContextKeepsTraceID(t *testing.T) {
	ctx := NewRequestContext(WithTraceID(context.Background(), "keep"))
	assert.Equal(t, "keep", GetTraceID(ctx))
	assert.NotEmpty(t, GetRequestID(ctx))

	fresh := NewRequestContext(context.Background())
	assert.NotEmpty(t, GetTraceID(fresh))
}

func TestDetachKeepsValuesDropsCancel(t *testing.T) {
	parent, cancel := context.WithCancel(WithSessionName(context.Background(), "demo"))
	cancel()

	detached := Detach(parent)
	assert.NoError(t, detached.Err())
	assert.Equal(t, "demo", GetSessionName(detached))
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithSessionName(WithTraceID(context.Background(), "trace-1"), "demo")
	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "trace-1", entry["trace_id"])
	assert.Equal(t, "demo", entry["session"])
	assert.NotContains(t, entry, "provider")
}

func TestStartSpanSetsTraceID(t *testing.T) {
	require.NoError(t, InitOpenTelemetry("multichat-test"))

	ctx, span := StartSpan(context.Background(), "test.span")
	defer span.End()

	assert.NotEmpty(t, GetTraceID(ctx))
}

func TestFailSpanReturnsError(t *testing.T) {
	_, span := StartSpan(context.Background(), "test.fail")
	defer span.End()

	assert.NoError(t, FailSpan(span, nil))
	err := assert.AnError
	assert.Equal(t, err, FailSpan(span, err))
}
