package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/bordereau/console/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestNewConsoleMetrics_NilMeter(t *testing.T) {
	m, err := telemetry.NewConsoleMetrics(nil)
	assert.ErrorIs(t, err, telemetry.ErrMeterNil)
	assert.Nil(t, m)
}

func TestConsoleMetrics_Record(t *testing.T) {
	reader, provider := newManualMeter(t)
	m, err := telemetry.NewConsoleMetrics(provider.Meter("console"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordReload(ctx, telemetry.OutcomeSuccess, 20*time.Millisecond)
	m.RecordReload(ctx, telemetry.OutcomeFailure, 5*time.Millisecond)
	m.RecordReload(ctx, telemetry.OutcomeCleared, 0)
	m.RecordPushMessage(ctx, "memory", "entity")
	m.RecordPushMessage(ctx, "memory", "status")
	m.RecordToast(ctx)
	m.RecordStatusMerge(ctx, true)
	m.RecordStatusMerge(ctx, false)
	m.StreamOpened(ctx)
	m.StreamOpened(ctx)
	m.StreamClosed(ctx)
	m.SessionOpened(ctx)

	assert.Equal(t, int64(3), sumOf(t, reader, "console_permission_reloads_total"))
	assert.Equal(t, int64(1), sumOf(t, reader, "console_permission_reloads_total",
		telemetry.AttrOutcome.String(telemetry.OutcomeFailure)))
	assert.Equal(t, int64(2), sumOf(t, reader, "console_push_messages_total"))
	assert.Equal(t, int64(1), sumOf(t, reader, "console_push_messages_total",
		attribute.String("transport", "memory"), attribute.String("event.kind", "entity")))
	assert.Equal(t, int64(1), sumOf(t, reader, "console_toasts_total"))
	assert.Equal(t, int64(1), sumOf(t, reader, "console_status_merges_total",
		telemetry.AttrOutcome.String("skipped")))
	assert.Equal(t, int64(1), sumOf(t, reader, "console_sse_streams"))
	assert.Equal(t, int64(1), sumOf(t, reader, "console_sessions"))
}

func TestConsoleMetrics_NilReceiver(t *testing.T) {
	var m *telemetry.ConsoleMetrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordReload(ctx, telemetry.OutcomeSuccess, time.Second)
		m.RecordPushMessage(ctx, "pusher", "both")
		m.RecordToast(ctx)
		m.RecordStatusMerge(ctx, true)
		m.StreamOpened(ctx)
		m.StreamClosed(ctx)
		m.SessionOpened(ctx)
		m.SessionClosed(ctx)
	})
}
