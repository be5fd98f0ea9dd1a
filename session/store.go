package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-connect"
)

// ChannelObserver is told about every failed channel operation.
type ChannelObserver func(channel, op string, err error)

// Option customizes a Store.
type Option func(*Store)

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithLogger overrides the logger used for degraded channels.
func WithLogger(logger connect.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithChannelObserver registers a callback for channel failures.
func WithChannelObserver(observer ChannelObserver) Option {
	return func(s *Store) {
		if observer != nil {
			s.observer = observer
		}
	}
}

// Store keeps authorization attempts recoverable through several
// redundant channels. Reads try channels in order and take the first
// valid entry; writes go to every channel and only fail when all do.
type Store struct {
	channels []Channel
	now      func() time.Time
	logger   connect.Logger
	observer ChannelObserver
}

// NewStore creates a store over channels, tried in the given order.
func NewStore(channels []Channel, opts ...Option) *Store {
	s := &Store{
		now:      time.Now,
		logger:   connect.DefaultLogger(),
		observer: func(string, string, error) {},
	}
	for _, ch := range channels {
		if ch != nil {
			s.channels = append(s.channels, ch)
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// NewDefaultStore wires the three standard channels: per state entries
// in tab, the well-known latest entry in tab and a signed copy in slot.
// A nil tab or slot drops the matching channels.
func NewDefaultStore(tab KV, slot Slot, codec *SlotCodec, opts ...Option) *Store {
	var channels []Channel
	if tab != nil {
		channels = append(channels, NewStateKeyedChannel(tab), NewWellKnownChannel(tab, ""))
	}
	if slot != nil {
		channels = append(channels, NewSlotChannel(slot, codec))
	}
	return NewStore(channels, opts...)
}

// Channels returns the channel names in read order.
func (s *Store) Channels() []string {
	names := make([]string, 0, len(s.channels))
	for _, ch := range s.channels {
		names = append(names, ch.Name())
	}
	return names
}

// Save writes attempt to every channel.
func (s *Store) Save(ctx context.Context, attempt connect.AuthorizationAttempt) error {
	if attempt.State == "" || attempt.PlatformID == "" {
		return fmt.Errorf("%w: attempt needs state and platform", connect.ErrInvalidState)
	}

	var errs []error
	written := 0
	for _, ch := range s.channels {
		if err := ch.Save(ctx, attempt); err != nil {
			s.fail(ch, "save", attempt.State, err)
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
			continue
		}
		written++
	}

	if written == 0 {
		return connect.WrapError(connect.ErrChannelUnavailable, errors.Join(errs...), map[string]any{
			"platform": attempt.PlatformID,
		})
	}
	if len(errs) > 0 {
		s.logger.Warn("attempt saved with degraded channels",
			"state", connect.ShortState(attempt.State),
			"written", written,
			"failed", len(errs),
		)
	}
	return nil
}

// Load returns the attempt for state from the first channel holding a
// valid copy. Expired attempts are cleared from every channel and
// reported as not found.
func (s *Store) Load(ctx context.Context, state string) (connect.AuthorizationAttempt, error) {
	if state == "" {
		return connect.AuthorizationAttempt{}, fmt.Errorf("%w: empty state", connect.ErrInvalidState)
	}

	for _, ch := range s.channels {
		a, ok, err := ch.Load(ctx, state)
		if err != nil {
			s.fail(ch, "load", state, err)
			continue
		}
		if !ok || a.State != state {
			continue
		}
		if a.Expired(s.now()) {
			_ = s.Clear(ctx, state)
			return connect.AuthorizationAttempt{}, notFound("state_expired")
		}
		return a, nil
	}
	return connect.AuthorizationAttempt{}, notFound("state_not_recovered")
}

// Latest returns the most recent unexpired attempt without knowing its
// state. It is the recovery path for callbacks that lost the state.
func (s *Store) Latest(ctx context.Context) (connect.AuthorizationAttempt, error) {
	for _, ch := range s.channels {
		a, ok, err := ch.Latest(ctx)
		if err != nil {
			s.fail(ch, "latest", "", err)
			continue
		}
		if !ok {
			continue
		}
		if a.Expired(s.now()) {
			_ = s.Clear(ctx, a.State)
			continue
		}
		return a, nil
	}
	return connect.AuthorizationAttempt{}, notFound("state_not_recovered")
}

// Clear removes state from every channel. Failures are logged and
// returned joined; the remaining channels are still cleared.
func (s *Store) Clear(ctx context.Context, state string) error {
	if state == "" {
		return nil
	}
	var errs []error
	for _, ch := range s.channels {
		if err := ch.Clear(ctx, state); err != nil {
			s.fail(ch, "clear", state, err)
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *Store) fail(ch Channel, op, state string, err error) {
	s.logger.Warn("session channel failed",
		"channel", ch.Name(),
		"op", op,
		"state", connect.ShortState(state),
		"error", err,
	)
	s.observer(ch.Name(), op, err)
}

func notFound(reason string) error {
	return connect.WrapError(connect.ErrAttemptNotFound, nil, map[string]any{"reason": reason})
}
