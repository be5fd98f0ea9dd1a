package orchestrator_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-connect"
	"github.com/goliatone/go-connect/backend"
	"github.com/goliatone/go-connect/internal/fakeclock"
	"github.com/goliatone/go-connect/messenger"
	"github.com/goliatone/go-connect/orchestrator"
	"github.com/goliatone/go-connect/reconcile"
	"github.com/goliatone/go-connect/session"
	"github.com/goliatone/go-connect/transport"
	"github.com/stretchr/testify/require"
)

const appOrigin = "https://app.example.com"

type stubBackend struct {
	mu sync.Mutex

	states      []string
	issued      int
	authErr     error
	onAuth      func()
	clearErr    error
	statusErr   error
	exchangeErr error
	records     []connect.ConnectionRecord

	cleared      []string
	exchanged    []backend.ExchangeRequest
	disconnected []string
	statusCalls  int
}

func (b *stubBackend) AuthorizationURL(_ context.Context, platformID string) (*backend.AuthorizationURL, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.onAuth != nil {
		b.onAuth()
	}
	if b.authErr != nil {
		return nil, b.authErr
	}
	state := fmt.Sprintf("state-%s-%d", platformID, b.issued)
	if b.issued < len(b.states) {
		state = b.states[b.issued]
	}
	b.issued++
	return &backend.AuthorizationURL{
		URL:   "https://provider.example.com/authorize?state=" + state,
		State: state,
	}, nil
}

func (b *stubBackend) ConnectionStatus(context.Context) ([]connect.ConnectionRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statusCalls++
	if b.statusErr != nil {
		return nil, b.statusErr
	}
	return append([]connect.ConnectionRecord(nil), b.records...), nil
}

func (b *stubBackend) Disconnect(_ context.Context, platformID, recordID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnected = append(b.disconnected, recordID)
	kept := b.records[:0]
	for _, r := range b.records {
		if r.ID != recordID {
			kept = append(kept, r)
		}
	}
	b.records = kept
	return nil
}

func (b *stubBackend) ClearIncomplete(_ context.Context, platformID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleared = append(b.cleared, platformID)
	return b.clearErr
}

func (b *stubBackend) Exchange(_ context.Context, req backend.ExchangeRequest) (*backend.ExchangeResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exchanged = append(b.exchanged, req)
	if b.exchangeErr != nil {
		return nil, b.exchangeErr
	}
	rec := connect.ConnectionRecord{
		ID:                 "rec-" + req.PlatformID,
		PlatformID:         req.PlatformID,
		ExternalAccountRef: "acct-" + req.PlatformID,
		SiteCount:          1,
	}
	b.records = append(b.records, rec)
	return &backend.ExchangeResult{Records: []connect.ConnectionRecord{rec}}, nil
}

func (b *stubBackend) setRecords(records ...connect.ConnectionRecord) {
	b.mu.Lock()
	b.records = records
	b.mu.Unlock()
}

type fakePopup struct{ closed bool }

func (p *fakePopup) Closed() bool { return p.closed }
func (p *fakePopup) Close()       { p.closed = true }

type fakeWindow struct {
	block     bool
	popup     *fakePopup
	navigated []string
}

func (w *fakeWindow) Open(url, name, features string) transport.Popup {
	if w.block {
		return nil
	}
	w.popup = &fakePopup{}
	return w.popup
}

func (w *fakeWindow) Navigate(url string) {
	w.navigated = append(w.navigated, url)
}

// openerTarget delivers posted messages to the opener's messenger as a
// browser would, stamped with the callback window's origin.
type openerTarget struct {
	m      *messenger.Messenger
	origin string
	posted int
}

func (o *openerTarget) PostMessage(data []byte, targetOrigin string) error {
	o.posted++
	if targetOrigin != appOrigin {
		return fmt.Errorf("unexpected target origin %q", targetOrigin)
	}
	o.m.Dispatch(messenger.Event{Origin: o.origin, Data: data})
	return nil
}

type callbackWindow struct {
	opener    *openerTarget
	navigated []string
	closed    bool
}

func (w *callbackWindow) Opener() messenger.Target {
	if w.opener == nil {
		return nil
	}
	return w.opener
}

func (w *callbackWindow) Navigate(url string) { w.navigated = append(w.navigated, url) }
func (w *callbackWindow) Close()              { w.closed = true }

type harness struct {
	t           *testing.T
	clock       *fakeclock.Clock
	cfg         connect.Config
	registry    *connect.Registry
	api         *stubBackend
	store       *session.Store
	window      *fakeWindow
	messenger   *messenger.Messenger
	view        *reconcile.View
	reconciler  *reconcile.Reconciler
	initiator   *orchestrator.Initiator
	receiver    *orchestrator.Receiver
	connections *orchestrator.Connections
	opener      *openerTarget
	history     []string
	refreshes   int
	events      []connect.ActivityEvent
}

type harnessOption func(*harness)

func sharing(other *harness) harnessOption {
	return func(h *harness) {
		h.clock = other.clock
		h.api = other.api
		h.store = other.store
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{t: t}
	for _, opt := range opts {
		opt(h)
	}
	if h.clock == nil {
		h.clock = fakeclock.New(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	}
	if h.api == nil {
		h.api = &stubBackend{}
	}
	if h.store == nil {
		h.store = session.NewDefaultStore(
			session.NewMemoryKV(64, time.Hour),
			&session.MemorySlot{},
			session.NewSlotCodec([]byte("slot-signing-key-for-tests-0001")),
			session.WithClock(h.clock.Now),
		)
	}

	h.cfg = connect.Config{
		AppOrigin:         appOrigin,
		TrustedOrigins:    []string{appOrigin},
		AttemptTTL:        3 * time.Minute,
		ReconcileInterval: 30 * time.Second,
	}
	h.cfg.ApplyDefaults()
	h.registry = connect.MustRegistry(connect.DefaultPlatforms()...)
	h.window = &fakeWindow{}

	var err error
	h.messenger, err = messenger.New(h.cfg.TrustedOrigins)
	require.NoError(t, err)

	h.view = reconcile.NewView(
		reconcile.WithViewClock(h.clock.Now),
		reconcile.WithOptimisticWindow(h.cfg.ReconcileInterval),
	)
	h.reconciler = reconcile.New(h.api, h.view, reconcile.WithClock(h.clock.Now))

	sink := connect.ActivitySinkFunc(func(_ context.Context, e connect.ActivityEvent) error {
		h.events = append(h.events, e)
		return nil
	})

	selector := transport.NewSelector(h.window,
		transport.WithScheduler(h.clock.AfterFunc),
		transport.WithPollInterval(h.cfg.Popup.PollInterval),
		transport.WithCheckDelay(h.cfg.Popup.CheckDelay),
	)
	h.initiator, err = orchestrator.NewInitiator(orchestrator.Dependencies{
		Config:     h.cfg,
		Registry:   h.registry,
		Backend:    h.api,
		Store:      h.store,
		Selector:   selector,
		Messenger:  h.messenger,
		Reconciler: h.reconciler,
	},
		orchestrator.WithClock(h.clock.Now),
		orchestrator.WithScheduler(h.clock.AfterFunc),
		orchestrator.WithExecutor(func(f func()) {
			h.refreshes++
			f()
		}),
		orchestrator.WithActivitySink(sink),
	)
	require.NoError(t, err)

	h.receiver = orchestrator.NewReceiver(h.cfg, h.registry, h.store, h.api, h.messenger,
		orchestrator.WithReceiverClock(h.clock.Now),
		orchestrator.WithReceiverActivitySink(sink),
	)
	h.connections = orchestrator.NewConnections(h.initiator, orchestrator.HistoryFunc(func(url string) {
		h.history = append(h.history, url)
	}))
	h.opener = &openerTarget{m: h.messenger, origin: appOrigin}
	return h
}

func (h *harness) callbackURL(a *orchestrator.Attempt, query string) string {
	return a.Record().RedirectTarget + "?" + query
}

func (h *harness) done(a *orchestrator.Attempt) bool {
	select {
	case <-a.Done():
		return true
	default:
		return false
	}
}

func (h *harness) eventTypes() []connect.ActivityEventType {
	out := make([]connect.ActivityEventType, 0, len(h.events))
	for _, e := range h.events {
		out = append(out, e.EventType)
	}
	return out
}
