package connector

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/goliatone/go-connect"
)

// PlatformAdapter hides the OAuth and account listing details of one
// external platform from the service.
type PlatformAdapter interface {
	// PlatformID returns the registry id the adapter serves.
	PlatformID() string

	// BuildAuthRequest returns the provider consent URL carrying state.
	BuildAuthRequest(state string, opts ...AuthRequestOption) string

	// Exchange trades an authorization code for a token.
	Exchange(ctx context.Context, code string, opts ...ExchangeOption) (*Token, error)

	// ParseCallbackResult lists the external accounts the token grants
	// access to. Accounts that could not be described are returned in
	// Failed rather than failing the whole grant.
	ParseCallbackResult(ctx context.Context, token *Token) (*CallbackResult, error)
}

// AuthRequestOption configures the authorization URL.
type AuthRequestOption func(*authRequestConfig)

// WithScopes adds scopes to the auth request.
func WithScopes(scopes ...string) AuthRequestOption {
	return func(c *authRequestConfig) {
		c.scopes = append(c.scopes, scopes...)
	}
}

// WithPKCE sets the code challenge and its method.
func WithPKCE(codeChallenge, method string) AuthRequestOption {
	return func(c *authRequestConfig) {
		c.codeChallenge = codeChallenge
		c.codeChallengeMethod = method
	}
}

// WithPrompt sets the prompt parameter (e.g. "consent").
func WithPrompt(prompt string) AuthRequestOption {
	return func(c *authRequestConfig) {
		c.prompt = prompt
	}
}

// ExchangeOption configures the token exchange.
type ExchangeOption func(*exchangeConfig)

// WithCodeVerifier sets the PKCE verifier sent with the exchange.
func WithCodeVerifier(verifier string) ExchangeOption {
	return func(c *exchangeConfig) {
		c.codeVerifier = verifier
	}
}

type authRequestConfig struct {
	scopes              []string
	codeChallenge       string
	codeChallengeMethod string
	prompt              string
}

type exchangeConfig struct {
	codeVerifier string
}

// AuthRequestConfig is the resolved form of AuthRequestOption values.
type AuthRequestConfig struct {
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod string
	Prompt              string
}

// ExchangeConfig is the resolved form of ExchangeOption values.
type ExchangeConfig struct {
	CodeVerifier string
}

// ApplyAuthRequestOptions resolves opts on top of the adapter's default scopes.
func ApplyAuthRequestOptions(scopes []string, opts ...AuthRequestOption) AuthRequestConfig {
	cfg := authRequestConfig{scopes: append([]string(nil), scopes...)}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return AuthRequestConfig{
		Scopes:              dedupe(cfg.scopes),
		CodeChallenge:       cfg.codeChallenge,
		CodeChallengeMethod: cfg.codeChallengeMethod,
		Prompt:              cfg.prompt,
	}
}

// ApplyExchangeOptions resolves opts.
func ApplyExchangeOptions(opts ...ExchangeOption) ExchangeConfig {
	cfg := exchangeConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return ExchangeConfig{CodeVerifier: cfg.codeVerifier}
}

// Token is an OAuth2 token response. It never leaves the server.
type Token struct {
	AccessToken  string
	TokenType    string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       []string
	Raw          map[string]any
}

// Account is one external account reachable with a token.
type Account struct {
	ExternalAccountRef string
	DisplayName        string
	SiteCount          int
	Metadata           map[string]any
}

// FailedAccount is an account the adapter saw but could not describe or
// the service could not store.
type FailedAccount struct {
	ExternalAccountRef string
	Reason             string
}

// CallbackResult is what a grant gave access to.
type CallbackResult struct {
	Accounts []Account
	Failed   []FailedAccount
}

// AdapterSet indexes adapters by platform id.
type AdapterSet struct {
	adapters map[string]PlatformAdapter
}

// NewAdapterSet indexes adapters and checks each one against registry.
// Adapters for unknown platforms and duplicates are rejected.
func NewAdapterSet(registry *connect.Registry, adapters ...PlatformAdapter) (*AdapterSet, error) {
	set := &AdapterSet{adapters: map[string]PlatformAdapter{}}
	for _, a := range adapters {
		if a == nil {
			continue
		}
		id := a.PlatformID()
		if registry != nil && !registry.Has(id) {
			return nil, fmt.Errorf("%w: adapter for %s", connect.ErrPlatformNotFound, id)
		}
		if _, ok := set.adapters[id]; ok {
			return nil, fmt.Errorf("%w: adapter for %s", connect.ErrDuplicatePlatform, id)
		}
		set.adapters[id] = a
	}
	return set, nil
}

// Get returns the adapter serving platformID.
func (s *AdapterSet) Get(platformID string) (PlatformAdapter, bool) {
	if s == nil {
		return nil, false
	}
	a, ok := s.adapters[platformID]
	return a, ok
}

// IDs returns the platform ids with an adapter, sorted.
func (s *AdapterSet) IDs() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.adapters))
	for id := range s.adapters {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
