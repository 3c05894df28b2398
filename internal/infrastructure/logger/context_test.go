package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromContext_DefaultsToNop(t *testing.T) {
	l := FromContext(context.Background())
	require.NotNil(t, l)
	assert.False(t, l.Core().Enabled(zapcore.ErrorLevel))
}

func TestContextValues(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithSessionID(ctx, "sess-1")
	ctx = WithUserID(ctx, 42)

	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Equal(t, "sess-1", GetSessionID(ctx))
	assert.Equal(t, int64(42), GetUserID(ctx))

	assert.Empty(t, GetRequestID(context.Background()))
	assert.Zero(t, GetUserID(context.Background()))
}

func TestL_EnrichesWithCorrelationFields(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})

	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)
	ctx = WithContext(ctx, zap.New(core))
	ctx = WithSessionID(ctx, "sess-1")
	ctx = WithUserID(ctx, 42)

	L(ctx).Info("hello")

	require.Equal(t, 1, recorded.Len())
	fields := recorded.All()[0].ContextMap()
	assert.Equal(t, traceID.String(), fields["trace_id"])
	assert.Equal(t, spanID.String(), fields["span_id"])
	assert.Equal(t, "sess-1", fields["session_id"])
	assert.Equal(t, "42", fields["user_id"])
	assert.NotContains(t, fields, "request_id")
}

func TestEnrich_NilLogger(t *testing.T) {
	assert.NotNil(t, Enrich(context.Background(), nil))
}
