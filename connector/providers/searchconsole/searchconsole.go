// Package searchconsole connects Google Search Console properties. One
// grant can reach many properties; each becomes its own connection.
package searchconsole

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-connect"
	"github.com/goliatone/go-connect/connector"
)

const (
	defaultAuthURL  = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultTokenURL = "https://oauth2.googleapis.com/token"
	defaultSitesURL = "https://www.googleapis.com/webmasters/v3/sites"

	providerName = "google"
)

// Config holds Google OAuth client settings.
type Config struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       []string

	AuthURL  string
	TokenURL string
	SitesURL string

	HTTPClient *http.Client
	Now        func() time.Time
}

// DefaultScopes returns the read-only Search Console scope.
func DefaultScopes() []string {
	return []string{"https://www.googleapis.com/auth/webmasters.readonly"}
}

// Adapter implements connector.PlatformAdapter for Search Console.
type Adapter struct {
	config     Config
	httpClient *http.Client
}

var _ connector.PlatformAdapter = (*Adapter)(nil)

// New creates an adapter, filling endpoint defaults.
func New(cfg Config) *Adapter {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes()
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.SitesURL == "" {
		cfg.SitesURL = defaultSitesURL
	}
	return &Adapter{config: cfg, httpClient: connector.NewHTTPClient(cfg.HTTPClient)}
}

func (a *Adapter) PlatformID() string {
	return connect.PlatformSearchAnalytics
}

// BuildAuthRequest asks for offline access so the grant outlives the session.
func (a *Adapter) BuildAuthRequest(state string, opts ...connector.AuthRequestOption) string {
	cfg := connector.ApplyAuthRequestOptions(a.config.Scopes, opts...)

	params := url.Values{
		"client_id":              {a.config.ClientID},
		"redirect_uri":           {a.config.CallbackURL},
		"response_type":          {"code"},
		"scope":                  {strings.Join(cfg.Scopes, " ")},
		"state":                  {state},
		"access_type":            {"offline"},
		"include_granted_scopes": {"true"},
	}
	if cfg.CodeChallenge != "" {
		method := cfg.CodeChallengeMethod
		if method == "" {
			method = "S256"
		}
		params.Set("code_challenge", cfg.CodeChallenge)
		params.Set("code_challenge_method", method)
	}
	prompt := cfg.Prompt
	if prompt == "" {
		// without consent Google omits the refresh token on reconnect
		prompt = "consent"
	}
	params.Set("prompt", prompt)

	return connector.AuthURL(a.config.AuthURL, params)
}

func (a *Adapter) Exchange(ctx context.Context, code string, opts ...connector.ExchangeOption) (*connector.Token, error) {
	cfg := connector.ApplyExchangeOptions(opts...)
	params := url.Values{
		"client_id":     {a.config.ClientID},
		"client_secret": {a.config.ClientSecret},
		"code":          {code},
		"redirect_uri":  {a.config.CallbackURL},
		"grant_type":    {"authorization_code"},
	}
	if cfg.CodeVerifier != "" {
		params.Set("code_verifier", cfg.CodeVerifier)
	}
	return connector.RequestToken(ctx, a.httpClient, connector.TokenRequest{
		Provider: providerName,
		URL:      a.config.TokenURL,
		Params:   params,
		Now:      a.config.Now,
	})
}

type siteEntry struct {
	SiteURL         string `json:"siteUrl"`
	PermissionLevel string `json:"permissionLevel"`
}

// ParseCallbackResult lists the properties visible to the grant.
// Unverified properties cannot be queried and are reported as failed.
func (a *Adapter) ParseCallbackResult(ctx context.Context, token *connector.Token) (*connector.CallbackResult, error) {
	var body struct {
		SiteEntry []siteEntry `json:"siteEntry"`
	}
	if err := connector.GetJSON(ctx, a.httpClient, providerName, "sites", a.config.SitesURL, token, &body); err != nil {
		return nil, err
	}

	sort.Slice(body.SiteEntry, func(i, j int) bool {
		return body.SiteEntry[i].SiteURL < body.SiteEntry[j].SiteURL
	})

	result := &connector.CallbackResult{}
	for _, site := range body.SiteEntry {
		if site.SiteURL == "" {
			continue
		}
		if site.PermissionLevel == "siteUnverifiedUser" {
			result.Failed = append(result.Failed, connector.FailedAccount{
				ExternalAccountRef: site.SiteURL,
				Reason:             "site_unverified",
			})
			continue
		}
		result.Accounts = append(result.Accounts, connector.Account{
			ExternalAccountRef: site.SiteURL,
			DisplayName:        displayName(site.SiteURL),
			SiteCount:          1,
			Metadata:           map[string]any{"permission_level": site.PermissionLevel},
		})
	}
	return result, nil
}

// displayName turns "sc-domain:example.com" and "https://example.com/"
// into "example.com".
func displayName(siteURL string) string {
	if rest, ok := strings.CutPrefix(siteURL, "sc-domain:"); ok {
		return rest
	}
	if u, err := url.Parse(siteURL); err == nil && u.Host != "" {
		return u.Host + strings.TrimRight(u.Path, "/")
	}
	return siteURL
}
