package connector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-connect"
	"github.com/goliatone/go-connect/backend"
	"github.com/google/uuid"
)

// ExchangeObserver is told how each code exchange ended.
type ExchangeObserver func(platformID, outcome string, took time.Duration)

// Service is the connector backend: it issues authorization URLs,
// exchanges codes and stores one connection per external account.
type Service struct {
	registry *connect.Registry
	adapters *AdapterSet
	repo     ConnectionRepository
	states   StateCodec
	ledger   StateLedger
	ttl      time.Duration
	scopes   map[string][]string
	now      func() time.Time
	newID    func() string
	logger   connect.Logger
	sink     connect.ActivitySink
	observe  ExchangeObserver
}

// Option customizes a Service.
type Option func(*Service)

// WithLedger replaces the in-memory state ledger.
func WithLedger(ledger StateLedger) Option {
	return func(s *Service) {
		if ledger != nil {
			s.ledger = ledger
		}
	}
}

// WithClock sets the clock used for state expiry and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator sets the connection id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithStateTTL sets how long an issued state stays redeemable.
func WithStateTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithPlatformScopes adds scopes requested per platform id.
func WithPlatformScopes(scopes map[string][]string) Option {
	return func(s *Service) {
		for id, list := range scopes {
			s.scopes[id] = append(s.scopes[id], list...)
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger connect.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithActivitySink sets the sink for connection lifecycle events.
func WithActivitySink(sink connect.ActivitySink) Option {
	return func(s *Service) {
		s.sink = sink
	}
}

// WithExchangeObserver sets a callback invoked after each exchange.
func WithExchangeObserver(fn ExchangeObserver) Option {
	return func(s *Service) {
		s.observe = fn
	}
}

// NewService wires a Service. states is required; every other
// collaborator besides repo has a default.
func NewService(registry *connect.Registry, adapters *AdapterSet, repo ConnectionRepository, states StateCodec, opts ...Option) (*Service, error) {
	if registry == nil || adapters == nil || repo == nil || states == nil {
		return nil, connect.WrapError(connect.ErrInvalidConfig, nil, map[string]any{
			"reason": "connector service requires registry, adapters, repository and state codec",
		})
	}
	s := &Service{
		registry: registry,
		adapters: adapters,
		repo:     repo,
		states:   states,
		ttl:      connect.DefaultAttemptTTL,
		scopes:   map[string][]string{},
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
		logger:   connect.DefaultLogger(),
		observe:  func(string, string, time.Duration) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.ledger == nil {
		s.ledger = NewMemoryStateLedger(0, s.ttl, s.now)
	}
	return s, nil
}

// Platforms returns the registry descriptors in display order.
func (s *Service) Platforms() []connect.PlatformDescriptor {
	return s.registry.List()
}

// AuthorizationURL issues a fresh state for userID and returns the
// provider consent URL carrying it. Every call issues a new state.
func (s *Service) AuthorizationURL(ctx context.Context, userID, platformID string) (*backend.AuthorizationURL, error) {
	if userID == "" {
		return nil, connect.ErrUnauthenticated
	}
	if _, err := s.registry.Enabled(platformID); err != nil {
		return nil, err
	}
	adapter, ok := s.adapters.Get(platformID)
	if !ok {
		return nil, connect.WrapError(ErrAdapterMissing, nil, map[string]any{"platform": platformID})
	}

	verifier, err := generateCodeVerifier()
	if err != nil {
		return nil, err
	}
	now := s.now()
	state := &ConnectState{
		PlatformID:   platformID,
		UserID:       userID,
		CodeVerifier: verifier,
		IssuedAt:     now.Unix(),
		ExpiresAt:    now.Add(s.ttl).Unix(),
	}
	token, err := s.states.Encode(state)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.Issue(ctx, state.Nonce, state.Expiry()); err != nil {
		return nil, connect.WrapError(connect.ErrBackendUnavailable, err, map[string]any{"reason": "state_ledger"})
	}

	url := adapter.BuildAuthRequest(token,
		WithScopes(s.scopes[platformID]...),
		WithPKCE(computeCodeChallenge(verifier), "S256"),
	)
	s.logger.Debug("authorization url issued", "platform_id", platformID, "user_id", userID, "state", connect.ShortState(token))

	return &backend.AuthorizationURL{URL: url, State: token, ExpiresAt: state.Expiry()}, nil
}

// Exchange redeems the code of a callback. The state must be valid,
// unexpired, issued to userID for the same platform and unused.
// Credentials are stored pending first; every account that is stored
// successfully is kept even when others fail.
func (s *Service) Exchange(ctx context.Context, userID string, req backend.ExchangeRequest) (result *backend.ExchangeResult, err error) {
	started := s.now()
	defer func() {
		outcome := "success"
		switch {
		case err != nil:
			outcome = "error"
		case result.Partial():
			outcome = "partial"
		}
		s.observe(req.PlatformID, outcome, s.now().Sub(started))
		if err != nil {
			connect.RecordActivity(ctx, s.sink, s.logger, connect.ActivityEvent{
				EventType:  connect.ActivityExchangeFailed,
				UserID:     userID,
				PlatformID: req.PlatformID,
				State:      req.State,
				Metadata:   map[string]any{"reason": connect.ErrorReason(err)},
				OccurredAt: s.now(),
			})
		}
	}()

	if userID == "" {
		return nil, connect.ErrUnauthenticated
	}
	if _, err := s.registry.Enabled(req.PlatformID); err != nil {
		return nil, err
	}
	adapter, ok := s.adapters.Get(req.PlatformID)
	if !ok {
		return nil, connect.WrapError(ErrAdapterMissing, nil, map[string]any{"platform": req.PlatformID})
	}
	if req.Code == "" {
		return nil, connect.WrapError(connect.ErrExchangeFailed, nil, map[string]any{"reason": "missing_code"})
	}

	state, err := s.states.Decode(req.State)
	if err != nil {
		return nil, err
	}
	if state.PlatformID != req.PlatformID {
		return nil, connect.WrapError(connect.ErrInvalidState, nil, map[string]any{"reason": "state_platform_mismatch"})
	}
	if state.UserID != userID {
		return nil, connect.WrapError(connect.ErrInvalidState, nil, map[string]any{"reason": "state_user_mismatch"})
	}
	fresh, err := s.ledger.Consume(ctx, state.Nonce)
	if err != nil {
		return nil, connect.WrapError(connect.ErrBackendUnavailable, err, map[string]any{"reason": "state_ledger"})
	}
	if !fresh {
		return nil, connect.WrapError(connect.ErrStateReused, nil, map[string]any{"reason": "state_reused"})
	}

	token, err := adapter.Exchange(ctx, req.Code, WithCodeVerifier(state.CodeVerifier))
	if err != nil {
		return nil, WrapProviderError(connect.ErrExchangeFailed, req.PlatformID, "exchange", err)
	}

	now := s.now()
	pending, err := s.repo.Upsert(ctx, s.connection(userID, req.PlatformID, "pending:"+state.Nonce, StatusPending, token, now))
	if err != nil {
		return nil, connect.WrapError(ErrStorage, err, map[string]any{"reason": "storage_failed"})
	}

	grant, err := adapter.ParseCallbackResult(ctx, token)
	if err != nil {
		s.logger.Warn("account lookup failed, credentials left pending",
			"platform_id", req.PlatformID, "connection_id", pending.ID, "error", err)
		return nil, WrapProviderError(ErrAccountLookup, req.PlatformID, "accounts", err)
	}

	result = &backend.ExchangeResult{Records: []connect.ConnectionRecord{}}
	for _, f := range grant.Failed {
		result.Failed = append(result.Failed, backend.FailedAccount(f))
	}
	for _, acct := range grant.Accounts {
		conn := s.connection(userID, req.PlatformID, acct.ExternalAccountRef, StatusActive, token, now)
		conn.DisplayName = acct.DisplayName
		conn.SiteCount = acct.SiteCount
		conn.Metadata = acct.Metadata

		stored, uerr := s.repo.Upsert(ctx, conn)
		if uerr != nil {
			s.logger.Error("store connection failed", "platform_id", req.PlatformID, "account", acct.ExternalAccountRef, "error", uerr)
			result.Failed = append(result.Failed, backend.FailedAccount{
				ExternalAccountRef: acct.ExternalAccountRef,
				Reason:             "storage_failed",
			})
			continue
		}
		result.Records = append(result.Records, stored.Record())
		connect.RecordActivity(ctx, s.sink, s.logger, connect.ActivityEvent{
			EventType:  connect.ActivityConnectionCreated,
			UserID:     userID,
			PlatformID: req.PlatformID,
			Metadata: map[string]any{
				"record_id":            stored.ID,
				"external_account_ref": stored.ExternalAccountRef,
			},
			OccurredAt: now,
		})
	}

	if derr := s.repo.Delete(ctx, pending.ID); derr != nil {
		s.logger.Warn("pending connection not removed", "connection_id", pending.ID, "error", derr)
	}

	if len(result.Records) == 0 {
		reason := "no_accounts"
		if len(result.Failed) > 0 {
			reason = "accounts_failed"
		}
		return nil, connect.WrapError(connect.ErrExchangeFailed, nil, map[string]any{
			"reason": reason,
			"failed": len(result.Failed),
		})
	}

	if result.Partial() {
		connect.RecordActivity(ctx, s.sink, s.logger, connect.ActivityEvent{
			EventType:  connect.ActivityPartialConnection,
			UserID:     userID,
			PlatformID: req.PlatformID,
			Metadata: map[string]any{
				"stored": len(result.Records),
				"failed": len(result.Failed),
			},
			OccurredAt: now,
		})
	}

	s.logger.Info("connection exchange completed",
		"platform_id", req.PlatformID, "user_id", userID,
		"records", len(result.Records), "failed", len(result.Failed))
	return result, nil
}

// ConnectionStatus lists the active connections of userID.
func (s *Service) ConnectionStatus(ctx context.Context, userID string) ([]connect.ConnectionRecord, error) {
	if userID == "" {
		return nil, connect.ErrUnauthenticated
	}
	conns, err := s.repo.ListByUser(ctx, userID, StatusActive)
	if err != nil {
		return nil, connect.WrapError(ErrStorage, err, nil)
	}
	out := make([]connect.ConnectionRecord, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.Record())
	}
	return out, nil
}

// Disconnect removes a connection owned by userID.
func (s *Service) Disconnect(ctx context.Context, userID, platformID, recordID string) error {
	if userID == "" {
		return connect.ErrUnauthenticated
	}
	if !s.registry.Has(platformID) {
		return fmt.Errorf("%w: %s", connect.ErrPlatformNotFound, platformID)
	}
	conn, err := s.repo.FindByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, connect.ErrConnectionNotFound) || connect.HasTextCode(err, connect.TextCodeConnectionNotFound) {
			return err
		}
		return connect.WrapError(ErrStorage, err, nil)
	}
	// other users' rows are reported as missing
	if conn.UserID != userID || conn.PlatformID != platformID {
		return connect.WrapError(connect.ErrConnectionNotFound, nil, map[string]any{"record_id": recordID})
	}
	if err := s.repo.Delete(ctx, recordID); err != nil {
		return connect.WrapError(ErrStorage, err, nil)
	}

	connect.RecordActivity(ctx, s.sink, s.logger, connect.ActivityEvent{
		EventType:  connect.ActivityConnectionRemoved,
		UserID:     userID,
		PlatformID: platformID,
		Metadata:   map[string]any{"record_id": recordID},
		OccurredAt: s.now(),
	})
	return nil
}

// ClearIncomplete drops credentials of userID for platformID that never
// finished processing. It is safe to call when there are none.
func (s *Service) ClearIncomplete(ctx context.Context, userID, platformID string) error {
	if userID == "" {
		return connect.ErrUnauthenticated
	}
	if !s.registry.Has(platformID) {
		return fmt.Errorf("%w: %s", connect.ErrPlatformNotFound, platformID)
	}
	n, err := s.repo.DeleteByStatus(ctx, userID, platformID, StatusPending)
	if err != nil {
		return connect.WrapError(ErrStorage, err, nil)
	}
	if n > 0 {
		connect.RecordActivity(ctx, s.sink, s.logger, connect.ActivityEvent{
			EventType:  connect.ActivityIncompleteCleared,
			UserID:     userID,
			PlatformID: platformID,
			Metadata:   map[string]any{"removed": n},
			OccurredAt: s.now(),
		})
	}
	return nil
}

func (s *Service) connection(userID, platformID, ref string, status ConnectionStatus, token *Token, now time.Time) *Connection {
	conn := &Connection{
		ID:                 s.newID(),
		UserID:             userID,
		PlatformID:         platformID,
		ExternalAccountRef: ref,
		Status:             status,
		ConnectedAt:        now,
		UpdatedAt:          now,
	}
	if token != nil {
		conn.AccessToken = token.AccessToken
		conn.RefreshToken = token.RefreshToken
		conn.Scopes = append([]string(nil), token.Scopes...)
		if !token.ExpiresAt.IsZero() {
			exp := token.ExpiresAt
			conn.TokenExpiresAt = &exp
		}
	}
	return conn
}
