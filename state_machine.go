package connect

import (
	"fmt"
	"sync"
	"time"
)

// AttemptStatus is the lifecycle status of an authorization attempt.
type AttemptStatus string

const (
	AttemptInitiated                AttemptStatus = "INITIATED"
	AttemptTransportOpened          AttemptStatus = "TRANSPORT_OPENED"
	AttemptTransportBlockedFallback AttemptStatus = "TRANSPORT_BLOCKED_FALLBACK"
	AttemptAwaitingCallback         AttemptStatus = "AWAITING_CALLBACK"
	AttemptResolvedSuccess          AttemptStatus = "RESOLVED_SUCCESS"
	AttemptResolvedError            AttemptStatus = "RESOLVED_ERROR"
	AttemptExpired                  AttemptStatus = "EXPIRED"
)

// Terminal reports whether no further transition is possible.
func (s AttemptStatus) Terminal() bool {
	switch s {
	case AttemptResolvedSuccess, AttemptResolvedError, AttemptExpired:
		return true
	}
	return false
}

// Transition records one status change.
type Transition struct {
	From   AttemptStatus
	To     AttemptStatus
	Reason string
	At     time.Time
}

// TransitionHook runs after a transition has been applied.
type TransitionHook func(t Transition)

// MachineOption customizes an AttemptMachine.
type MachineOption func(*AttemptMachine)

// WithMachineClock injects a custom clock (useful for tests).
func WithMachineClock(clock func() time.Time) MachineOption {
	return func(m *AttemptMachine) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithTransitionHook adds a hook executed after each successful transition.
func WithTransitionHook(h TransitionHook) MachineOption {
	return func(m *AttemptMachine) {
		if h != nil {
			m.hooks = append(m.hooks, h)
		}
	}
}

// AttemptMachine guards the attempt lifecycle. Terminal statuses are
// reached at most once and never left.
type AttemptMachine struct {
	mu          sync.Mutex
	status      AttemptStatus
	transitions map[AttemptStatus]map[AttemptStatus]struct{}
	history     []Transition
	hooks       []TransitionHook
	now         func() time.Time
}

// NewAttemptMachine returns a machine in the INITIATED status.
func NewAttemptMachine(opts ...MachineOption) *AttemptMachine {
	m := &AttemptMachine{
		status:      AttemptInitiated,
		transitions: defaultAttemptTransitions(),
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Status returns the current status.
func (m *AttemptMachine) Status() AttemptStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// History returns a copy of the applied transitions.
func (m *AttemptMachine) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Transition(nil), m.history...)
}

// Transition moves the machine to target. It fails when the current
// status is terminal or the edge is not part of the lifecycle graph.
func (m *AttemptMachine) Transition(target AttemptStatus, reason string) error {
	m.mu.Lock()
	from := m.status
	if from.Terminal() {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTerminalState, from)
	}
	if !m.allowed(from, target) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, target)
	}
	t := Transition{From: from, To: target, Reason: reason, At: m.now()}
	m.status = target
	m.history = append(m.history, t)
	hooks := append([]TransitionHook(nil), m.hooks...)
	m.mu.Unlock()

	for _, h := range hooks {
		h(t)
	}
	return nil
}

func (m *AttemptMachine) allowed(from, to AttemptStatus) bool {
	targets, ok := m.transitions[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

func defaultAttemptTransitions() map[AttemptStatus]map[AttemptStatus]struct{} {
	return map[AttemptStatus]map[AttemptStatus]struct{}{
		AttemptInitiated: {
			AttemptTransportOpened:          {},
			AttemptTransportBlockedFallback: {},
			AttemptResolvedError:            {},
		},
		AttemptTransportOpened: {
			AttemptAwaitingCallback: {},
			AttemptResolvedError:    {},
		},
		AttemptTransportBlockedFallback: {
			AttemptAwaitingCallback: {},
			AttemptResolvedError:    {},
		},
		AttemptAwaitingCallback: {
			AttemptResolvedSuccess: {},
			AttemptResolvedError:   {},
			AttemptExpired:         {},
		},
	}
}
