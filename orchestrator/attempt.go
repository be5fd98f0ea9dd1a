package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-connect"
	"github.com/goliatone/go-connect/messenger"
	"github.com/goliatone/go-connect/transport"
)

// Outcome is the terminal result of an attempt.
type Outcome struct {
	Status connect.AttemptStatus
	Reason string
}

// Succeeded reports whether the attempt connected the platform.
func (o Outcome) Succeeded() bool {
	return o.Status == connect.AttemptResolvedSuccess
}

// Attempt is the handle returned by Initiator.Begin. Its message
// subscription and timers live exactly as long as the attempt.
type Attempt struct {
	init    *Initiator
	record  connect.AuthorizationAttempt
	machine *connect.AttemptMachine
	ctx     context.Context
	handle  *transport.Handle

	mu         sync.Mutex
	sub        *messenger.Subscription
	stopExpiry func() bool
	stopGrace  func() bool
	outcome    Outcome
	done       chan struct{}
}

func newAttempt(ctx context.Context, i *Initiator, record connect.AuthorizationAttempt) *Attempt {
	return &Attempt{
		init:    i,
		record:  record,
		ctx:     ctx,
		machine: connect.NewAttemptMachine(connect.WithMachineClock(i.now)),
		done:    make(chan struct{}),
	}
}

// State returns the attempt state token.
func (a *Attempt) State() string { return a.record.State }

// PlatformID returns the platform being connected.
func (a *Attempt) PlatformID() string { return a.record.PlatformID }

// Record returns the persisted attempt.
func (a *Attempt) Record() connect.AuthorizationAttempt { return a.record }

// Mode returns how the authorization page was presented.
func (a *Attempt) Mode() transport.Mode {
	if a.handle == nil {
		return ""
	}
	return a.handle.Mode
}

// Status returns the current lifecycle status.
func (a *Attempt) Status() connect.AttemptStatus { return a.machine.Status() }

// History returns the transitions taken so far.
func (a *Attempt) History() []connect.Transition { return a.machine.History() }

// Done is closed once the attempt reaches a terminal status.
func (a *Attempt) Done() <-chan struct{} { return a.done }

// Outcome returns the terminal result. It is zero until Done is closed.
func (a *Attempt) Outcome() Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.outcome
}

// Cancel abandons the attempt. Results arriving later are ignored.
func (a *Attempt) Cancel() bool {
	return a.resolve(connect.AttemptResolvedError, ReasonCancelled)
}

func (a *Attempt) advance(status connect.AttemptStatus, reason string) error {
	return a.machine.Transition(status, reason)
}

func (a *Attempt) subscribe(m *messenger.Messenger) {
	sub := m.OnMessage(a.handleMessage)
	a.mu.Lock()
	if a.machine.Status().Terminal() {
		a.mu.Unlock()
		sub.Close()
		return
	}
	a.sub = sub
	a.mu.Unlock()
}

func (a *Attempt) armExpiry(ttl time.Duration) {
	stop := a.init.schedule(ttl, func() {
		a.resolve(connect.AttemptExpired, ReasonTimeout)
	})
	a.mu.Lock()
	a.stopExpiry = stop
	a.mu.Unlock()
}

func (a *Attempt) handleMessage(msg messenger.Message) {
	if msg.PlatformID != a.record.PlatformID {
		return
	}
	if msg.State != "" && msg.State != a.record.State {
		return
	}
	if msg.Succeeded() {
		a.resolve(connect.AttemptResolvedSuccess, "")
		return
	}
	a.resolve(connect.AttemptResolvedError, msg.Reason)
}

// popupClosed waits one more poll before failing so that a result posted
// just before the callback window closed itself still wins.
func (a *Attempt) popupClosed() {
	stop := a.init.schedule(a.init.deps.Config.Popup.PollInterval, func() {
		a.resolve(connect.AttemptResolvedError, ReasonPopupClosed)
	})
	a.mu.Lock()
	a.stopGrace = stop
	a.mu.Unlock()
}

// resolve moves the attempt to a terminal status exactly once and runs
// the cleanup that every terminal status shares.
func (a *Attempt) resolve(status connect.AttemptStatus, reason string) bool {
	if err := a.machine.Transition(status, reason); err != nil {
		return false
	}
	i := a.init

	a.mu.Lock()
	a.outcome = Outcome{Status: status, Reason: reason}
	sub, stopExpiry, stopGrace := a.sub, a.stopExpiry, a.stopGrace
	a.sub, a.stopExpiry, a.stopGrace = nil, nil, nil
	a.mu.Unlock()

	sub.Close()
	if stopExpiry != nil {
		stopExpiry()
	}
	if stopGrace != nil {
		stopGrace()
	}
	if a.handle != nil {
		a.handle.Stop()
	}
	i.untrack(a)

	if status == connect.AttemptResolvedSuccess {
		i.deps.Reconciler.View().MarkOptimistic(a.record.PlatformID, a.record.State)
	}
	if err := i.deps.Store.Clear(a.ctx, a.record.State); err != nil {
		i.logger.Warn("attempt cleanup incomplete", "state", connect.ShortState(a.record.State), "error", err)
	}

	ctx := a.ctx
	i.exec(func() {
		_, _ = i.deps.Reconciler.Refresh(ctx)
	})

	took := i.now().Sub(a.record.CreatedAt)
	i.observer.AttemptResolved(a.record.PlatformID, status, took)
	connect.RecordActivity(ctx, i.sink, i.logger, connect.ActivityEvent{
		EventType:  connect.ActivityAttemptResolved,
		PlatformID: a.record.PlatformID,
		State:      a.record.State,
		Status:     status,
		Metadata:   map[string]any{"reason": reason, "duration_ms": took.Milliseconds()},
		OccurredAt: i.now(),
	})
	i.logger.Info("authorization attempt resolved",
		"platform_id", a.record.PlatformID,
		"state", connect.ShortState(a.record.State),
		"status", status,
		"reason", reason,
	)

	close(a.done)
	return true
}
