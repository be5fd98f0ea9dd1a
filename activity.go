package connect

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityAttemptStarted     ActivityEventType = "connect.attempt.started"
	ActivityAttemptResolved    ActivityEventType = "connect.attempt.resolved"
	ActivityConnectionCreated  ActivityEventType = "connect.connection.created"
	ActivityConnectionRemoved  ActivityEventType = "connect.connection.removed"
	ActivityIncompleteCleared  ActivityEventType = "connect.incomplete.cleared"
	ActivityExchangeFailed     ActivityEventType = "connect.exchange.failed"
	ActivityPartialConnection  ActivityEventType = "connect.connection.partial"
	ActivityCallbackDelivered  ActivityEventType = "connect.callback.delivered"
	ActivityMarkerConsumed     ActivityEventType = "connect.marker.consumed"
	ActivityReconcileCompleted ActivityEventType = "connect.reconcile.completed"
)

// ActivityEvent captures audit-friendly information about a connection action.
type ActivityEvent struct {
	EventType  ActivityEventType `json:"event_type"`
	UserID     string            `json:"user_id,omitempty"`
	PlatformID string            `json:"platform_id,omitempty"`
	State      string            `json:"state,omitempty"`
	Status     AttemptStatus     `json:"status,omitempty"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

// NormalizeActivitySink returns s or a sink that drops every event.
func NormalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// RecordActivity sends event to sink and logs failures instead of
// returning them; activity never blocks the connection flow.
func RecordActivity(ctx context.Context, sink ActivitySink, logger Logger, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	if event.State != "" {
		event.State = ShortState(event.State)
	}
	if err := NormalizeActivitySink(sink).Record(ctx, event); err != nil {
		NormalizeLogger(logger).Warn("activity sink failed", "event", event.EventType, "error", err)
	}
}
