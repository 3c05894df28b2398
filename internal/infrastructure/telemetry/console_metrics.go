package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// ErrMeterNil is returned when a metrics set is built without a meter.
var ErrMeterNil = errors.New("telemetry: meter cannot be nil")

// Reload outcomes reported on console_permission_reloads_total.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeCleared   = "cleared"
	OutcomeDiscarded = "discarded"
)

// ConsoleMetrics holds the gateway's own instruments. A nil *ConsoleMetrics
// is valid and records nothing, so components can take it as optional.
type ConsoleMetrics struct {
	reloads        *Counter
	reloadDuration *Histogram
	pushMessages   *Counter
	toasts         *Counter
	statusMerges   *Counter
	streams        *UpDownCounter
	sessions       *UpDownCounter
}

// NewConsoleMetrics registers the gateway instruments on meter.
func NewConsoleMetrics(meter metric.Meter) (*ConsoleMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}

	m := &ConsoleMetrics{}
	var err error

	if m.reloads, err = NewCounter(meter,
		"console_permission_reloads_total",
		"Permission store reloads by outcome",
		"{reloads}",
	); err != nil {
		return nil, err
	}

	if m.reloadDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "console_permission_reload_duration_seconds",
		Description: "Time spent fetching permissions from the core backend",
		Unit:        "s",
		Boundaries:  RemoteDurationBuckets,
	}); err != nil {
		return nil, err
	}

	if m.pushMessages, err = NewCounter(meter,
		"console_push_messages_total",
		"Push notifications handled by realtime synchronizers",
		"{messages}",
	); err != nil {
		return nil, err
	}

	if m.toasts, err = NewCounter(meter,
		"console_toasts_total",
		"Assignment toasts delivered to operators",
		"{toasts}",
	); err != nil {
		return nil, err
	}

	if m.statusMerges, err = NewCounter(meter,
		"console_status_merges_total",
		"Status snapshots merged into the query cache, by outcome",
		"{merges}",
	); err != nil {
		return nil, err
	}

	if m.streams, err = NewUpDownCounter(meter,
		"console_sse_streams",
		"Open server-sent event streams",
		"{streams}",
	); err != nil {
		return nil, err
	}

	if m.sessions, err = NewUpDownCounter(meter,
		"console_sessions",
		"Live browser sessions",
		"{sessions}",
	); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordReload counts one settled reload. d is zero for reloads that did not
// reach the network.
func (m *ConsoleMetrics) RecordReload(ctx context.Context, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.reloads.Inc(ctx, AttrOutcome.String(outcome))
	if d > 0 {
		m.reloadDuration.RecordDuration(ctx, d, AttrOutcome.String(outcome))
	}
}

// RecordPushMessage counts one delivered push message. kind is "status",
// "entity", "both" or "empty".
func (m *ConsoleMetrics) RecordPushMessage(ctx context.Context, transport, kind string) {
	if m == nil {
		return
	}
	m.pushMessages.Inc(ctx, AttrTransport.String(transport), AttrEventKind.String(kind))
}

// RecordToast counts one toast raised for an operator.
func (m *ConsoleMetrics) RecordToast(ctx context.Context) {
	if m == nil {
		return
	}
	m.toasts.Inc(ctx)
}

// RecordStatusMerge counts a status merge; merged is false when no cached
// record existed.
func (m *ConsoleMetrics) RecordStatusMerge(ctx context.Context, merged bool) {
	if m == nil {
		return
	}
	outcome := "merged"
	if !merged {
		outcome = "skipped"
	}
	m.statusMerges.Inc(ctx, AttrOutcome.String(outcome))
}

// StreamOpened and StreamClosed track live SSE connections.
func (m *ConsoleMetrics) StreamOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.streams.Add(ctx, 1)
}

func (m *ConsoleMetrics) StreamClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.streams.Add(ctx, -1)
}

// SessionOpened and SessionClosed track sessions held by the manager.
func (m *ConsoleMetrics) SessionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessions.Add(ctx, 1)
}

func (m *ConsoleMetrics) SessionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessions.Add(ctx, -1)
}
