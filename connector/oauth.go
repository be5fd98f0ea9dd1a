package connector

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
)

// DefaultHTTPTimeout bounds provider calls made with the default client.
const DefaultHTTPTimeout = 10 * time.Second

// NewHTTPClient returns client or a client with DefaultHTTPTimeout.
func NewHTTPClient(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return &http.Client{Timeout: DefaultHTTPTimeout}
}

// TokenRequest describes an authorization code or refresh grant.
type TokenRequest struct {
	Provider string
	URL      string
	Params   url.Values
	// JSONBody sends Params as a JSON object instead of a form.
	JSONBody bool
	Now      func() time.Time
}

// RequestToken posts req and decodes a standard OAuth2 token response.
// Provider specific fields stay available in Token.Raw.
func RequestToken(ctx context.Context, client *http.Client, req TokenRequest) (*Token, error) {
	var (
		body        io.Reader
		contentType string
	)
	if req.JSONBody {
		flat := make(map[string]string, len(req.Params))
		for k := range req.Params {
			flat[k] = req.Params.Get(k)
		}
		raw, err := json.Marshal(flat)
		if err != nil {
			return nil, err
		}
		body, contentType = bytes.NewReader(raw), "application/json"
	} else {
		body, contentType = strings.NewReader(req.Params.Encode()), "application/x-www-form-urlencoded"
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := NewHTTPClient(client).Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Provider: req.Provider, Operation: "exchange", Code: "provider_unreachable", Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: req.Provider, Operation: "exchange", Status: resp.StatusCode, Err: err}
	}

	var tr tokenResponse
	if err := json.Unmarshal(payload, &tr); err != nil {
		code, desc := parseErrorBody(payload)
		if code == "" {
			code = "invalid_response"
		}
		return nil, &ProviderError{Provider: req.Provider, Operation: "exchange", Status: resp.StatusCode, Code: code, Description: desc, Err: err}
	}
	if resp.StatusCode != http.StatusOK || tr.Error != "" {
		code, desc := tr.Error, tr.ErrorDesc
		if code == "" && desc == "" {
			code, desc = parseErrorBody(payload)
		}
		return nil, &ProviderError{Provider: req.Provider, Operation: "exchange", Status: resp.StatusCode, Code: code, Description: desc}
	}
	if tr.AccessToken == "" {
		return nil, &ProviderError{Provider: req.Provider, Operation: "exchange", Status: resp.StatusCode, Code: "missing_access_token"}
	}

	raw := map[string]any{}
	_ = json.Unmarshal(payload, &raw)
	delete(raw, "access_token")
	delete(raw, "refresh_token")

	now := time.Now
	if req.Now != nil {
		now = req.Now
	}
	token := &Token{
		AccessToken:  tr.AccessToken,
		TokenType:    tr.TokenType,
		RefreshToken: tr.RefreshToken,
		Scopes:       strings.Fields(strings.ReplaceAll(tr.Scope, ",", " ")),
		Raw:          raw,
	}
	if tr.ExpiresIn > 0 {
		token.ExpiresAt = now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return token, nil
}

// GetJSON performs an authorized GET and decodes the response into out.
// Non-2xx answers come back as *ProviderError.
func GetJSON(ctx context.Context, client *http.Client, provider, operation, endpoint string, token *Token, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if token != nil {
		tokenType := token.TokenType
		if tokenType == "" || strings.EqualFold(tokenType, "bearer") {
			tokenType = "Bearer"
		}
		req.Header.Set("Authorization", tokenType+" "+token.AccessToken)
	}

	resp, err := NewHTTPClient(client).Do(req)
	if err != nil {
		return &ProviderError{Provider: provider, Operation: operation, Code: "provider_unreachable", Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ProviderError{Provider: provider, Operation: operation, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code, desc := parseErrorBody(payload)
		return &ProviderError{Provider: provider, Operation: operation, Status: resp.StatusCode, Code: code, Description: desc}
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &ProviderError{Provider: provider, Operation: operation, Status: resp.StatusCode, Code: "invalid_response", Err: err}
	}
	return nil
}

// AuthURL joins base and params, keeping any query already on base.
func AuthURL(base string, params url.Values) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + params.Encode()
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
	Error        string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}

// parseErrorBody understands the plain OAuth2 error shape and the nested
// {"error": {"code", "message", "status"}} shape used by Google APIs.
func parseErrorBody(body []byte) (string, string) {
	var plain struct {
		Error string `json:"error"`
		Desc  string `json:"error_description"`
		Msg   string `json:"message"`
	}
	if err := json.Unmarshal(body, &plain); err == nil && (plain.Error != "" || plain.Desc != "") {
		desc := plain.Desc
		if desc == "" {
			desc = plain.Msg
		}
		return plain.Error, desc
	}

	var nested struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &nested); err == nil && (nested.Error.Message != "" || nested.Error.Status != "") {
		code := nested.Error.Status
		if code == "" && nested.Error.Code != 0 {
			code = fmt.Sprintf("%d", nested.Error.Code)
		}
		return code, nested.Error.Message
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return "", msg
}
