package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-connect"
)

// AuthorizationURL is the backend's answer to an authorization request.
type AuthorizationURL struct {
	URL       string    `json:"url"`
	State     string    `json:"state"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// ExchangeRequest carries the callback parameters to the backend.
type ExchangeRequest struct {
	PlatformID string `json:"platformId"`
	Code       string `json:"code"`
	State      string `json:"state"`
}

// FailedAccount describes an external account that could not be stored
// during a multi-account exchange.
type FailedAccount struct {
	ExternalAccountRef string `json:"externalAccountRef"`
	Reason             string `json:"reason"`
}

// ExchangeResult lists the records created by an exchange. Failed is
// non-empty when only part of a multi-account grant was stored.
type ExchangeResult struct {
	Records []connect.ConnectionRecord `json:"records"`
	Failed  []FailedAccount            `json:"failed,omitempty"`
}

// Partial reports whether some accounts were stored and some failed.
func (r *ExchangeResult) Partial() bool {
	return r != nil && len(r.Records) > 0 && len(r.Failed) > 0
}

// API is the connector backend as seen by the browser side.
type API interface {
	AuthorizationURL(ctx context.Context, platformID string) (*AuthorizationURL, error)
	ConnectionStatus(ctx context.Context) ([]connect.ConnectionRecord, error)
	Disconnect(ctx context.Context, platformID, recordID string) error
	ClearIncomplete(ctx context.Context, platformID string) error
	Exchange(ctx context.Context, req ExchangeRequest) (*ExchangeResult, error)
}

// RequestEditor mutates outgoing requests, e.g. to attach a session.
type RequestEditor func(req *http.Request) error

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRequestEditor adds an editor run before every request.
func WithRequestEditor(fn RequestEditor) Option {
	return func(c *Client) {
		if fn != nil {
			c.editors = append(c.editors, fn)
		}
	}
}

// WithBearerToken authenticates every request with token.
func WithBearerToken(token string) Option {
	return WithRequestEditor(func(req *http.Request) error {
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	})
}

// WithLogger overrides the logger.
func WithLogger(logger connect.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client calls the connector backend over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	editors []RequestEditor
	logger  connect.Logger
}

// New creates a Client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  connect.DefaultLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

var _ API = (*Client)(nil)

// AuthorizationURL implements API.
func (c *Client) AuthorizationURL(ctx context.Context, platformID string) (*AuthorizationURL, error) {
	var out AuthorizationURL
	q := url.Values{"platform": {platformID}}
	if err := c.do(ctx, http.MethodGet, "/connections/authorization-url?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	if out.URL == "" || out.State == "" {
		return nil, connect.WrapError(connect.ErrBackendUnavailable, nil, map[string]any{
			"reason": "incomplete_authorization_url",
		})
	}
	return &out, nil
}

// ConnectionStatus implements API.
func (c *Client) ConnectionStatus(ctx context.Context) ([]connect.ConnectionRecord, error) {
	var out struct {
		Connections []connect.ConnectionRecord `json:"connections"`
	}
	if err := c.do(ctx, http.MethodGet, "/connections/status", nil, &out); err != nil {
		return nil, err
	}
	return out.Connections, nil
}

// Disconnect implements API.
func (c *Client) Disconnect(ctx context.Context, platformID, recordID string) error {
	body := map[string]string{"platformId": platformID, "recordId": recordID}
	return c.do(ctx, http.MethodPost, "/connections/disconnect", body, nil)
}

// ClearIncomplete implements API.
func (c *Client) ClearIncomplete(ctx context.Context, platformID string) error {
	body := map[string]string{"platformId": platformID}
	return c.do(ctx, http.MethodPost, "/connections/clear-incomplete", body, nil)
}

// Exchange implements API. Rejections by the backend are reported as
// ErrExchangeFailed carrying the backend's reason.
func (c *Client) Exchange(ctx context.Context, req ExchangeRequest) (*ExchangeResult, error) {
	var out ExchangeResult
	if err := c.do(ctx, http.MethodPost, "/connections/exchange", req, &out); err != nil {
		var apiErr *APIError
		if asAPIError(err, &apiErr) && apiErr.Status < http.StatusInternalServerError {
			return nil, connect.WrapError(connect.ErrExchangeFailed, err, map[string]any{
				"reason":   apiErr.Reason(),
				"platform": req.PlatformID,
			})
		}
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, edit := range c.editors {
		if err := edit(req); err != nil {
			return err
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return connect.WrapError(connect.ErrBackendUnavailable, err, map[string]any{"path": path})
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return connect.WrapError(connect.ErrBackendUnavailable, err, map[string]any{"path": path})
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := parseAPIError(resp.StatusCode, payload)
		c.logger.Warn("connector backend request failed", "path", path, "status", resp.StatusCode, "code", apiErr.TextCode)
		if resp.StatusCode >= http.StatusInternalServerError {
			return connect.WrapError(connect.ErrBackendUnavailable, apiErr, map[string]any{"path": path, "status": resp.StatusCode})
		}
		return apiErr
	}

	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return connect.WrapError(connect.ErrBackendUnavailable, fmt.Errorf("decode %s: %w", path, err), nil)
	}
	return nil
}
