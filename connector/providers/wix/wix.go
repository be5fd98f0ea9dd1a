// Package wix connects a Wix site through the app install flow. A grant
// covers exactly the site the app was installed on.
package wix

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/goliatone/go-connect"
	"github.com/goliatone/go-connect/connector"
)

const (
	defaultAuthURL     = "https://www.wix.com/installer/install"
	defaultTokenURL    = "https://www.wixapis.com/oauth/access"
	defaultInstanceURL = "https://www.wixapis.com/apps/v1/instance"

	providerName = "wix"
)

// Config holds the Wix app credentials.
type Config struct {
	AppID       string
	AppSecret   string
	CallbackURL string

	AuthURL     string
	TokenURL    string
	InstanceURL string

	HTTPClient *http.Client
	Now        func() time.Time
}

// Adapter implements connector.PlatformAdapter for Wix.
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
	if cfg.InstanceURL == "" {
		cfg.InstanceURL = defaultInstanceURL
	}
	return &Adapter{config: cfg, httpClient: connector.NewHTTPClient(cfg.HTTPClient)}
}

func (a *Adapter) PlatformID() string {
	return connect.PlatformSiteBuilder
}

// BuildAuthRequest returns the install URL. Permissions are configured on
// the app itself, so scope options are ignored.
func (a *Adapter) BuildAuthRequest(state string, _ ...connector.AuthRequestOption) string {
	return connector.AuthURL(a.config.AuthURL, url.Values{
		"appId":       {a.config.AppID},
		"redirectUrl": {a.config.CallbackURL},
		"state":       {state},
	})
}

func (a *Adapter) Exchange(ctx context.Context, code string, _ ...connector.ExchangeOption) (*connector.Token, error) {
	return connector.RequestToken(ctx, a.httpClient, connector.TokenRequest{
		Provider: providerName,
		URL:      a.config.TokenURL,
		JSONBody: true,
		Params: url.Values{
			"grant_type":    {"authorization_code"},
			"client_id":     {a.config.AppID},
			"client_secret": {a.config.AppSecret},
			"code":          {code},
		},
		Now: a.config.Now,
	})
}

type instanceResponse struct {
	Instance struct {
		InstanceID string `json:"instanceId"`
	} `json:"instance"`
	Site struct {
		SiteID          string `json:"siteId"`
		SiteDisplayName string `json:"siteDisplayName"`
		URL             string `json:"url"`
	} `json:"site"`
}

// ParseCallbackResult reads the site the app instance belongs to.
func (a *Adapter) ParseCallbackResult(ctx context.Context, token *connector.Token) (*connector.CallbackResult, error) {
	var body instanceResponse
	if err := connector.GetJSON(ctx, a.httpClient, providerName, "instance", a.config.InstanceURL, token, &body); err != nil {
		return nil, err
	}
	if body.Site.SiteID == "" {
		return &connector.CallbackResult{Failed: []connector.FailedAccount{{
			ExternalAccountRef: body.Instance.InstanceID,
			Reason:             "site_not_published",
		}}}, nil
	}

	name := body.Site.SiteDisplayName
	if name == "" {
		name = body.Site.URL
	}
	return &connector.CallbackResult{Accounts: []connector.Account{{
		ExternalAccountRef: body.Site.SiteID,
		DisplayName:        name,
		SiteCount:          1,
		Metadata: map[string]any{
			"instance_id": body.Instance.InstanceID,
			"site_url":    body.Site.URL,
		},
	}}}, nil
}
