package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/goliatone/go-connect"
	"github.com/goliatone/go-connect/backend"
	"github.com/goliatone/go-connect/messenger"
	"github.com/goliatone/go-connect/reconcile"
	"github.com/goliatone/go-connect/session"
	"github.com/goliatone/go-connect/transport"
)

const (
	ReasonTimeout      = "timeout"
	ReasonPopupClosed  = "popup_closed"
	ReasonCancelled    = "cancelled"
	ReasonSuperseded   = "superseded"
	ReasonNavigatedOut = "navigated_away"
)

// Observer is told about attempt lifecycle milestones. The metrics
// package provides the prometheus implementation.
type Observer interface {
	AttemptStarted(platformID string, mode transport.Mode)
	AttemptResolved(platformID string, status connect.AttemptStatus, took time.Duration)
}

type nopObserver struct{}

func (nopObserver) AttemptStarted(string, transport.Mode)                        {}
func (nopObserver) AttemptResolved(string, connect.AttemptStatus, time.Duration) {}

// Dependencies are the collaborators an Initiator drives.
type Dependencies struct {
	Config     connect.Config
	Registry   *connect.Registry
	Backend    backend.API
	Store      *session.Store
	Selector   *transport.Selector
	Messenger  *messenger.Messenger
	Reconciler *reconcile.Reconciler
}

// Option customizes an Initiator.
type Option func(*Initiator)

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(i *Initiator) {
		if clock != nil {
			i.now = clock
		}
	}
}

// WithScheduler replaces the timer used for attempt expiry and the popup
// close grace.
func WithScheduler(schedule connect.Scheduler) Option {
	return func(i *Initiator) {
		if schedule != nil {
			i.schedule = schedule
		}
	}
}

// WithExecutor controls how post resolution refreshes run. The default
// runs them on a new goroutine.
func WithExecutor(exec func(func())) Option {
	return func(i *Initiator) {
		if exec != nil {
			i.exec = exec
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger connect.Logger) Option {
	return func(i *Initiator) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithActivitySink records attempt lifecycle events.
func WithActivitySink(sink connect.ActivitySink) Option {
	return func(i *Initiator) {
		i.sink = connect.NormalizeActivitySink(sink)
	}
}

// WithObserver sets the lifecycle observer.
func WithObserver(o Observer) Option {
	return func(i *Initiator) {
		if o != nil {
			i.observer = o
		}
	}
}

// Initiator starts authorization attempts from the connection screen.
type Initiator struct {
	deps     Dependencies
	now      func() time.Time
	schedule connect.Scheduler
	exec     func(func())
	logger   connect.Logger
	sink     connect.ActivitySink
	observer Observer

	mu     sync.Mutex
	live   map[string]*Attempt
	issued *expirable.LRU[string, struct{}]
}

// NewInitiator validates deps and builds an Initiator.
func NewInitiator(deps Dependencies, opts ...Option) (*Initiator, error) {
	switch {
	case deps.Registry == nil:
		return nil, fmt.Errorf("%w: registry is required", connect.ErrInvalidConfig)
	case deps.Backend == nil:
		return nil, fmt.Errorf("%w: backend is required", connect.ErrInvalidConfig)
	case deps.Store == nil:
		return nil, fmt.Errorf("%w: session store is required", connect.ErrInvalidConfig)
	case deps.Selector == nil:
		return nil, fmt.Errorf("%w: transport selector is required", connect.ErrInvalidConfig)
	case deps.Messenger == nil:
		return nil, fmt.Errorf("%w: messenger is required", connect.ErrInvalidConfig)
	case deps.Reconciler == nil:
		return nil, fmt.Errorf("%w: reconciler is required", connect.ErrInvalidConfig)
	}
	deps.Config.ApplyDefaults()

	i := &Initiator{
		deps:     deps,
		now:      time.Now,
		schedule: connect.AfterFunc,
		exec:     func(f func()) { go f() },
		logger:   connect.DefaultLogger(),
		sink:     connect.NormalizeActivitySink(nil),
		observer: nopObserver{},
		live:     map[string]*Attempt{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(i)
		}
	}
	i.issued = expirable.NewLRU[string, struct{}](1024, nil, 24*time.Hour)
	return i, nil
}

// Live returns the live attempt for platformID, if any.
func (i *Initiator) Live(platformID string) (*Attempt, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	a, ok := i.live[platformID]
	return a, ok
}

// Begin starts an authorization attempt for platformID. Backend failures
// and disabled platforms are returned before anything is persisted. A
// live attempt for the same platform is cancelled first.
func (i *Initiator) Begin(ctx context.Context, platformID string) (*Attempt, error) {
	if _, err := i.deps.Registry.Enabled(platformID); err != nil {
		return nil, err
	}

	if err := i.deps.Backend.ClearIncomplete(ctx, platformID); err != nil {
		i.logger.Warn("clear incomplete failed", "platform_id", platformID, "error", err)
	} else {
		connect.RecordActivity(ctx, i.sink, i.logger, connect.ActivityEvent{
			EventType:  connect.ActivityIncompleteCleared,
			PlatformID: platformID,
			OccurredAt: i.now(),
		})
	}

	auth, err := i.deps.Backend.AuthorizationURL(ctx, platformID)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, connect.WrapError(connect.ErrAttemptNotLive, ctx.Err(), map[string]any{
			"platform": platformID,
		})
	}

	if !i.claim(auth.State) {
		return nil, connect.WrapError(connect.ErrStateReused, nil, map[string]any{
			"platform": platformID,
			"reason":   "state_reused",
		})
	}

	createdAt := i.now()
	expiresAt := createdAt.Add(i.deps.Config.AttemptTTL)
	if !auth.ExpiresAt.IsZero() && auth.ExpiresAt.Before(expiresAt) {
		expiresAt = auth.ExpiresAt
	}
	record := connect.AuthorizationAttempt{
		State:          auth.State,
		PlatformID:     platformID,
		CreatedAt:      createdAt,
		RedirectTarget: i.deps.Config.RedirectTarget(platformID),
		ExpiresAt:      expiresAt,
	}
	if err := i.deps.Store.Save(ctx, record); err != nil {
		return nil, err
	}

	if prev, ok := i.Live(platformID); ok {
		prev.resolve(connect.AttemptResolvedError, ReasonSuperseded)
	}

	a := newAttempt(context.WithoutCancel(ctx), i, record)
	i.track(a)

	a.handle = i.deps.Selector.Open(auth.URL, transport.WithCloseWatcher(a.popupClosed))
	opened := connect.AttemptTransportOpened
	if !a.handle.Opened() {
		opened = connect.AttemptTransportBlockedFallback
	}
	if err := a.advance(opened, string(a.handle.Mode)); err != nil {
		return a, nil
	}
	if err := a.advance(connect.AttemptAwaitingCallback, ""); err != nil {
		return a, nil
	}

	a.subscribe(i.deps.Messenger)
	a.armExpiry(expiresAt.Sub(createdAt))

	i.observer.AttemptStarted(platformID, a.handle.Mode)
	connect.RecordActivity(ctx, i.sink, i.logger, connect.ActivityEvent{
		EventType:  connect.ActivityAttemptStarted,
		PlatformID: platformID,
		State:      record.State,
		Status:     a.Status(),
		Metadata:   map[string]any{"mode": string(a.handle.Mode)},
		OccurredAt: createdAt,
	})
	i.logger.Info("authorization attempt started",
		"platform_id", platformID,
		"state", connect.ShortState(record.State),
		"mode", a.handle.Mode,
	)
	return a, nil
}

// CancelAll resolves every live attempt with reason.
func (i *Initiator) CancelAll(reason string) {
	i.mu.Lock()
	attempts := make([]*Attempt, 0, len(i.live))
	for _, a := range i.live {
		attempts = append(attempts, a)
	}
	i.mu.Unlock()

	for _, a := range attempts {
		a.resolve(connect.AttemptResolvedError, reason)
	}
}

func (i *Initiator) claim(state string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.issued.Contains(state) {
		return false
	}
	i.issued.Add(state, struct{}{})
	return true
}

func (i *Initiator) track(a *Attempt) {
	i.mu.Lock()
	i.live[a.PlatformID()] = a
	i.mu.Unlock()
}

func (i *Initiator) untrack(a *Attempt) {
	i.mu.Lock()
	if i.live[a.PlatformID()] == a {
		delete(i.live, a.PlatformID())
	}
	i.mu.Unlock()
}
