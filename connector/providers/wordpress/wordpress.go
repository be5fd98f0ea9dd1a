// Package wordpress connects WordPress.com and Jetpack sites.
package wordpress

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-connect"
	"github.com/goliatone/go-connect/connector"
)

const (
	defaultAuthURL  = "https://public-api.wordpress.com/oauth2/authorize"
	defaultTokenURL = "https://public-api.wordpress.com/oauth2/token"
	defaultSitesURL = "https://public-api.wordpress.com/rest/v1.1/me/sites"

	providerName = "wordpress"
)

// Config holds WordPress.com OAuth client settings.
type Config struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	// Scopes defaults to a single blog grant; "global" grants every site.
	Scopes []string

	AuthURL  string
	TokenURL string
	SitesURL string

	HTTPClient *http.Client
	Now        func() time.Time
}

// Adapter implements connector.PlatformAdapter for WordPress.com.
type Adapter struct {
	config     Config
	httpClient *http.Client
}

var _ connector.PlatformAdapter = (*Adapter)(nil)

// New creates an adapter, filling endpoint defaults.
func New(cfg Config) *Adapter {
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
	return connect.PlatformCMS
}

// BuildAuthRequest ignores PKCE options; WordPress.com does not support them.
func (a *Adapter) BuildAuthRequest(state string, opts ...connector.AuthRequestOption) string {
	cfg := connector.ApplyAuthRequestOptions(a.config.Scopes, opts...)
	params := url.Values{
		"client_id":     {a.config.ClientID},
		"redirect_uri":  {a.config.CallbackURL},
		"response_type": {"code"},
		"state":         {state},
	}
	if len(cfg.Scopes) > 0 {
		params.Set("scope", strings.Join(cfg.Scopes, " "))
	}
	return connector.AuthURL(a.config.AuthURL, params)
}

func (a *Adapter) Exchange(ctx context.Context, code string, _ ...connector.ExchangeOption) (*connector.Token, error) {
	return connector.RequestToken(ctx, a.httpClient, connector.TokenRequest{
		Provider: providerName,
		URL:      a.config.TokenURL,
		Params: url.Values{
			"client_id":     {a.config.ClientID},
			"client_secret": {a.config.ClientSecret},
			"code":          {code},
			"redirect_uri":  {a.config.CallbackURL},
			"grant_type":    {"authorization_code"},
		},
		Now: a.config.Now,
	})
}

type site struct {
	ID   int64  `json:"ID"`
	Name string `json:"name"`
	URL  string `json:"URL"`
}

// ParseCallbackResult uses the blog named in the token response when the
// grant is for a single blog, otherwise lists every site of the user.
func (a *Adapter) ParseCallbackResult(ctx context.Context, token *connector.Token) (*connector.CallbackResult, error) {
	if token == nil {
		return nil, &connector.ProviderError{Provider: providerName, Operation: "sites", Code: "missing_token"}
	}

	if blogID := rawString(token.Raw, "blog_id"); blogID != "" && blogID != "0" {
		blogURL := rawString(token.Raw, "blog_url")
		return &connector.CallbackResult{Accounts: []connector.Account{{
			ExternalAccountRef: blogID,
			DisplayName:        hostOf(blogURL),
			SiteCount:          1,
			Metadata:           map[string]any{"blog_url": blogURL},
		}}}, nil
	}

	var body struct {
		Sites []site `json:"sites"`
	}
	if err := connector.GetJSON(ctx, a.httpClient, providerName, "sites", a.config.SitesURL, token, &body); err != nil {
		return nil, err
	}

	result := &connector.CallbackResult{}
	for _, s := range body.Sites {
		if s.ID == 0 {
			result.Failed = append(result.Failed, connector.FailedAccount{
				ExternalAccountRef: s.URL,
				Reason:             "missing_site_id",
			})
			continue
		}
		name := s.Name
		if name == "" {
			name = hostOf(s.URL)
		}
		result.Accounts = append(result.Accounts, connector.Account{
			ExternalAccountRef: fmt.Sprintf("%d", s.ID),
			DisplayName:        name,
			SiteCount:          1,
			Metadata:           map[string]any{"blog_url": s.URL},
		})
	}
	return result, nil
}

// rawString reads a token response field that may be a string or a number.
func rawString(raw map[string]any, key string) string {
	switch v := raw[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	}
	return ""
}

func hostOf(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return u.Host
	}
	return raw
}
