package messenger

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/goliatone/go-connect"
)

// Target is a window that can receive posted messages, typically the
// opener of a callback popup.
type Target interface {
	PostMessage(data []byte, targetOrigin string) error
}

// Event is an inbound message as delivered by the user agent.
type Event struct {
	Origin string
	Data   []byte
}

// Handler receives validated messages.
type Handler func(Message)

// DropReason explains why an inbound event was not delivered.
type DropReason string

const (
	DropUntrustedOrigin DropReason = "untrusted_origin"
	DropMalformed       DropReason = "malformed"
	DropDuplicate       DropReason = "duplicate"
)

// Option customizes a Messenger.
type Option func(*Messenger)

// WithLogger overrides the logger.
func WithLogger(logger connect.Logger) Option {
	return func(m *Messenger) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithDedupeWindow sets how long delivered messages are remembered for
// duplicate suppression.
func WithDedupeWindow(window time.Duration) Option {
	return func(m *Messenger) {
		if window > 0 {
			m.dedupeWindow = window
		}
	}
}

// WithDropObserver registers a callback for dropped events.
func WithDropObserver(fn func(DropReason)) Option {
	return func(m *Messenger) {
		if fn != nil {
			m.onDrop = fn
		}
	}
}

// Messenger sends results to an explicit trusted origin and filters
// inbound events by an origin allow-list.
type Messenger struct {
	mu           sync.RWMutex
	allowed      map[string]struct{}
	handlers     map[uint64]Handler
	next         uint64
	seen         *expirable.LRU[string, struct{}]
	dedupeWindow time.Duration
	logger       connect.Logger
	onDrop       func(DropReason)
}

// New creates a Messenger trusting allowedOrigins. Wildcards are rejected.
func New(allowedOrigins []string, opts ...Option) (*Messenger, error) {
	m := &Messenger{
		allowed:      map[string]struct{}{},
		handlers:     map[uint64]Handler{},
		dedupeWindow: 10 * time.Minute,
		logger:       connect.DefaultLogger(),
		onDrop:       func(DropReason) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	for _, origin := range allowedOrigins {
		normalized, err := NormalizeOrigin(origin)
		if err != nil {
			return nil, err
		}
		m.allowed[normalized] = struct{}{}
	}
	if len(m.allowed) == 0 {
		return nil, fmt.Errorf("%w: at least one trusted origin is required", connect.ErrUntrustedOrigin)
	}

	m.seen = expirable.NewLRU[string, struct{}](512, nil, m.dedupeWindow)
	return m, nil
}

// Send posts msg to target restricted to targetOrigin.
func (m *Messenger) Send(target Target, msg Message, targetOrigin string) error {
	origin, err := NormalizeOrigin(targetOrigin)
	if err != nil {
		return err
	}
	if target == nil {
		return fmt.Errorf("%w: no target window", connect.ErrInvalidMessage)
	}
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	return target.PostMessage(data, origin)
}

// OnMessage subscribes h to validated inbound messages.
func (m *Messenger) OnMessage(h Handler) *Subscription {
	m.mu.Lock()
	id := m.next
	m.next++
	m.handlers[id] = h
	m.mu.Unlock()

	return &Subscription{cancel: func() {
		m.mu.Lock()
		delete(m.handlers, id)
		m.mu.Unlock()
	}}
}

// Subscribers returns the number of live subscriptions.
func (m *Messenger) Subscribers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers)
}

// Dispatch delivers an inbound event. It reports whether any handler saw it.
// Events from untrusted origins, malformed payloads and duplicates are dropped.
func (m *Messenger) Dispatch(ev Event) bool {
	origin, err := NormalizeOrigin(ev.Origin)
	if err != nil || !m.trusted(origin) {
		m.drop(DropUntrustedOrigin, "origin", ev.Origin)
		return false
	}

	msg, err := Decode(ev.Data)
	if err != nil {
		m.drop(DropMalformed, "error", err)
		return false
	}

	m.mu.Lock()
	if m.seen.Contains(msg.Key()) {
		m.mu.Unlock()
		m.drop(DropDuplicate, "platform", msg.PlatformID, "state", connect.ShortState(msg.State))
		return false
	}
	m.seen.Add(msg.Key(), struct{}{})
	handlers := make([]Handler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
	return len(handlers) > 0
}

func (m *Messenger) trusted(origin string) bool {
	_, ok := m.allowed[origin]
	return ok
}

func (m *Messenger) drop(reason DropReason, args ...any) {
	m.logger.Debug("message dropped", append([]any{"reason", reason}, args...)...)
	m.onDrop(reason)
}

// Subscription removes a handler when closed.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

// NormalizeOrigin reduces origin to scheme://host[:port] in lower case
// and rejects wildcards.
func NormalizeOrigin(origin string) (string, error) {
	origin = strings.TrimSpace(origin)
	if origin == "" || origin == "*" {
		return "", fmt.Errorf("%w: %q", connect.ErrUntrustedOrigin, origin)
	}
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q", connect.ErrUntrustedOrigin, origin)
	}
	if u.Path != "" && u.Path != "/" {
		return "", fmt.Errorf("%w: origin has a path: %q", connect.ErrUntrustedOrigin, origin)
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), nil
}
