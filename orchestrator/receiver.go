package orchestrator

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-connect"
	"github.com/goliatone/go-connect/backend"
	"github.com/goliatone/go-connect/messenger"
	"github.com/goliatone/go-connect/session"
)

const (
	ReasonStateMismatch = "state_platform_mismatch"
	ReasonMissingCode   = "missing_code"
)

// Delivery is how the callback window reported its result.
type Delivery string

const (
	DeliveryMessage  Delivery = "message"
	DeliveryRedirect Delivery = "redirect"
	// DeliveryClosed means no platform was known, so the popup closed
	// itself and the opener resolves the attempt from the close.
	DeliveryClosed Delivery = "closed"
)

// CallbackWindow is the window the provider redirected back to.
type CallbackWindow interface {
	// Opener returns the window that opened this one, or nil.
	Opener() messenger.Target
	Navigate(url string)
	Close()
}

// Exchanger trades an authorization code for connection records.
type Exchanger interface {
	Exchange(ctx context.Context, req backend.ExchangeRequest) (*backend.ExchangeResult, error)
}

// CallbackResult describes what the receiver did.
type CallbackResult struct {
	PlatformID string
	State      string
	Success    bool
	Reason     string
	Delivery   Delivery
	Exchange   *backend.ExchangeResult
}

// ReceiverOption customizes a Receiver.
type ReceiverOption func(*Receiver)

// WithReceiverLogger overrides the logger.
func WithReceiverLogger(logger connect.Logger) ReceiverOption {
	return func(r *Receiver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithReceiverActivitySink records callback deliveries.
func WithReceiverActivitySink(sink connect.ActivitySink) ReceiverOption {
	return func(r *Receiver) {
		r.sink = connect.NormalizeActivitySink(sink)
	}
}

// WithReceiverClock injects a custom clock (useful for tests).
func WithReceiverClock(clock func() time.Time) ReceiverOption {
	return func(r *Receiver) {
		if clock != nil {
			r.now = clock
		}
	}
}

// Receiver handles the provider redirect inside the callback window.
type Receiver struct {
	cfg       connect.Config
	registry  *connect.Registry
	store     *session.Store
	exchanger Exchanger
	messenger *messenger.Messenger
	logger    connect.Logger
	sink      connect.ActivitySink
	now       func() time.Time
}

// NewReceiver builds a Receiver.
func NewReceiver(cfg connect.Config, registry *connect.Registry, store *session.Store, exchanger Exchanger, m *messenger.Messenger, opts ...ReceiverOption) *Receiver {
	cfg.ApplyDefaults()
	r := &Receiver{
		cfg:       cfg,
		registry:  registry,
		store:     store,
		exchanger: exchanger,
		messenger: m,
		logger:    connect.DefaultLogger(),
		sink:      connect.NormalizeActivitySink(nil),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Handle processes callbackURL. The outcome, success or failure, is
// always reported to the opener or through a connection marker, and the
// attempt is always cleared. The returned error is only set when the
// result could not be delivered at all.
func (r *Receiver) Handle(ctx context.Context, win CallbackWindow, callbackURL string) (*CallbackResult, error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return nil, fmt.Errorf("%w: callback url: %v", connect.ErrInvalidState, err)
	}
	q := u.Query()
	pathPlatform := r.platformFromPath(u.Path)

	result := r.resolve(ctx, pathPlatform, q)
	if result.State != "" {
		if err := r.store.Clear(ctx, result.State); err != nil {
			r.logger.Warn("callback cleanup incomplete", "state", connect.ShortState(result.State), "error", err)
		}
	}

	return result, r.deliver(ctx, win, result)
}

func (r *Receiver) resolve(ctx context.Context, pathPlatform string, q url.Values) *CallbackResult {
	state := q.Get("state")
	result := &CallbackResult{PlatformID: pathPlatform, State: state}

	var (
		attempt connect.AuthorizationAttempt
		err     error
	)
	if state != "" {
		attempt, err = r.store.Load(ctx, state)
	} else {
		attempt, err = r.store.Latest(ctx)
	}
	if err != nil {
		return r.fail(result, connect.ErrorReason(err))
	}
	switch {
	case pathPlatform == "":
		result.PlatformID = attempt.PlatformID
	case pathPlatform != attempt.PlatformID:
		// a blindly recovered attempt for another platform is left alone
		return r.fail(result, ReasonStateMismatch)
	}
	result.State = attempt.State

	if providerErr := q.Get("error"); providerErr != "" {
		return r.fail(result, providerErr)
	}
	code := q.Get("code")
	if code == "" {
		return r.fail(result, ReasonMissingCode)
	}

	exchanged, err := r.exchanger.Exchange(ctx, backend.ExchangeRequest{
		PlatformID: attempt.PlatformID,
		Code:       code,
		State:      attempt.State,
	})
	if err != nil {
		r.logger.Warn("code exchange failed", "platform_id", attempt.PlatformID, "error", err)
		return r.fail(result, connect.ErrorReason(err))
	}

	result.Success = true
	result.Exchange = exchanged
	if exchanged.Partial() {
		r.logger.Warn("some accounts could not be connected",
			"platform_id", attempt.PlatformID,
			"connected", len(exchanged.Records),
			"failed", len(exchanged.Failed),
		)
	}
	return result
}

func (r *Receiver) fail(result *CallbackResult, reason string) *CallbackResult {
	result.Success = false
	result.Reason = reason
	return result
}

func (r *Receiver) deliver(ctx context.Context, win CallbackWindow, result *CallbackResult) error {
	defer func() {
		connect.RecordActivity(ctx, r.sink, r.logger, connect.ActivityEvent{
			EventType:  connect.ActivityCallbackDelivered,
			PlatformID: result.PlatformID,
			State:      result.State,
			Metadata: map[string]any{
				"success":  result.Success,
				"reason":   result.Reason,
				"delivery": string(result.Delivery),
			},
			OccurredAt: r.now(),
		})
	}()

	opener := win.Opener()
	if opener != nil && result.PlatformID == "" {
		r.logger.Warn("callback names no platform, closing popup", "reason", result.Reason)
		result.Delivery = DeliveryClosed
		win.Close()
		return nil
	}

	if opener != nil {
		msg := messenger.Success(result.PlatformID, result.State)
		if !result.Success {
			msg = messenger.Failure(result.PlatformID, result.State, result.Reason)
		}
		err := r.messenger.Send(opener, msg, r.cfg.AppOrigin)
		if err == nil {
			result.Delivery = DeliveryMessage
			win.Close()
			return nil
		}
		r.logger.Warn("opener message failed, navigating instead", "platform_id", result.PlatformID, "error", err)
	}

	target := r.cfg.ConnectionsURL()
	if result.PlatformID != "" {
		marked, err := AppendMarker(target, result.PlatformID, result.Success)
		if err != nil {
			return err
		}
		target = marked
	}
	result.Delivery = DeliveryRedirect
	win.Navigate(target)
	return nil
}

// platformFromPath returns the registered platform named by the last
// segment of a callback path, or "" when the path names none.
func (r *Receiver) platformFromPath(path string) string {
	prefix := strings.TrimRight(r.cfg.CallbackPath, "/") + "/"
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	id, err := url.PathUnescape(strings.Trim(strings.TrimPrefix(path, prefix), "/"))
	if err != nil || !r.registry.Has(id) {
		return ""
	}
	return id
}
