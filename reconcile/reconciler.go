package reconcile

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/goliatone/go-connect"
)

// StatusSource returns the authoritative connection list.
type StatusSource interface {
	ConnectionStatus(ctx context.Context) ([]connect.ConnectionRecord, error)
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(r *Reconciler) {
		if clock != nil {
			r.now = clock
		}
	}
}

// WithInterval sets the Run period.
func WithInterval(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger connect.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithActivitySink records completed refreshes.
func WithActivitySink(sink connect.ActivitySink) Option {
	return func(r *Reconciler) {
		r.sink = connect.NormalizeActivitySink(sink)
	}
}

// WithRefreshObserver is told the outcome and latency of every refresh.
func WithRefreshObserver(fn func(err error, took time.Duration)) Option {
	return func(r *Reconciler) {
		if fn != nil {
			r.observe = fn
		}
	}
}

// Reconciler pulls the authoritative status into a View.
type Reconciler struct {
	source   StatusSource
	view     *View
	now      func() time.Time
	interval time.Duration
	logger   connect.Logger
	sink     connect.ActivitySink
	observe  func(error, time.Duration)
	count    atomic.Int64
}

// New creates a Reconciler feeding view from source.
func New(source StatusSource, view *View, opts ...Option) *Reconciler {
	r := &Reconciler{
		source:   source,
		view:     view,
		now:      time.Now,
		interval: connect.DefaultReconcileInterval,
		logger:   connect.DefaultLogger(),
		sink:     connect.NormalizeActivitySink(nil),
		observe:  func(error, time.Duration) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// View returns the view being fed.
func (r *Reconciler) View() *View {
	return r.view
}

// Refreshes returns how many refreshes were started.
func (r *Reconciler) Refreshes() int64 {
	return r.count.Load()
}

// Refresh fetches the status once and applies it. On failure the view
// keeps its previous state.
func (r *Reconciler) Refresh(ctx context.Context) ([]connect.ConnectionRecord, error) {
	r.count.Add(1)
	startedAt := r.now()
	records, err := r.source.ConnectionStatus(ctx)
	r.observe(err, r.now().Sub(startedAt))
	if err != nil {
		r.logger.Warn("connection status refresh failed", "error", err)
		return nil, err
	}

	if !r.view.Replace(records, startedAt) {
		r.logger.Debug("ignored out of order status snapshot", "started_at", startedAt)
		return records, nil
	}

	connect.RecordActivity(ctx, r.sink, r.logger, connect.ActivityEvent{
		EventType:  connect.ActivityReconcileCompleted,
		Metadata:   map[string]any{"records": len(records)},
		OccurredAt: r.now(),
	})
	return records, nil
}

// Run refreshes every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_, _ = r.Refresh(ctx)
		}
	}
}
