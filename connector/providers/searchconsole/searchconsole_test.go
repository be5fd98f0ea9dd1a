package searchconsole

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/goliatone/go-connect/connector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapterBuildAuthRequest(t *testing.T) {
	adapter := New(Config{
		ClientID:    "client-id",
		CallbackURL: "https://app.example.com/oauth/callback/search-analytics",
	})

	authURL := adapter.BuildAuthRequest("state-token",
		connector.WithPKCE("challenge", "S256"),
		connector.WithScopes("openid"),
	)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	query := parsed.Query()
	assert.Equal(t, "accounts.google.com", parsed.Host)
	assert.Equal(t, "client-id", query.Get("client_id"))
	assert.Equal(t, "https://app.example.com/oauth/callback/search-analytics", query.Get("redirect_uri"))
	assert.Equal(t, "state-token", query.Get("state"))
	assert.Equal(t, "offline", query.Get("access_type"))
	assert.Equal(t, "consent", query.Get("prompt"))
	assert.Equal(t, "challenge", query.Get("code_challenge"))
	assert.Equal(t, "https://www.googleapis.com/auth/webmasters.readonly openid", query.Get("scope"))
}

func TestAdapterExchangeAndSites(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/token":
			body, err := io.ReadAll(r.Body)
			assert.NoError(t, err)
			values, err := url.ParseQuery(string(body))
			assert.NoError(t, err)
			assert.Equal(t, "authorization_code", values.Get("grant_type"))
			assert.Equal(t, "auth-code", values.Get("code"))
			assert.Equal(t, "verifier", values.Get("code_verifier"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "token",
				"token_type":    "Bearer",
				"expires_in":    3600,
				"refresh_token": "refresh",
				"scope":         "https://www.googleapis.com/auth/webmasters.readonly",
			})
		case "/sites":
			assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"siteEntry": []map[string]string{
					{"siteUrl": "sc-domain:shop.example", "permissionLevel": "siteOwner"},
					{"siteUrl": "https://blog.example/", "permissionLevel": "siteFullUser"},
					{"siteUrl": "https://old.example/", "permissionLevel": "siteUnverifiedUser"},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	adapter := New(Config{
		ClientID:     "client-id",
		ClientSecret: "secret",
		TokenURL:     server.URL + "/token",
		SitesURL:     server.URL + "/sites",
		HTTPClient:   server.Client(),
		Now:          func() time.Time { return now },
	})

	token, err := adapter.Exchange(context.Background(), "auth-code", connector.WithCodeVerifier("verifier"))
	require.NoError(t, err)
	assert.Equal(t, "token", token.AccessToken)
	assert.Equal(t, "refresh", token.RefreshToken)
	assert.Equal(t, now.Add(time.Hour), token.ExpiresAt)
	assert.NotContains(t, token.Raw, "access_token")

	result, err := adapter.ParseCallbackResult(context.Background(), token)
	require.NoError(t, err)
	require.Len(t, result.Accounts, 2)
	assert.Equal(t, "https://blog.example/", result.Accounts[0].ExternalAccountRef)
	assert.Equal(t, "blog.example", result.Accounts[0].DisplayName)
	assert.Equal(t, "shop.example", result.Accounts[1].DisplayName)
	assert.Equal(t, []connector.FailedAccount{{ExternalAccountRef: "https://old.example/", Reason: "site_unverified"}}, result.Failed)
}

func TestAdapterExchangeProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":             "invalid_grant",
			"error_description": "Bad Request",
		})
	}))
	t.Cleanup(server.Close)

	adapter := New(Config{TokenURL: server.URL, HTTPClient: server.Client()})
	_, err := adapter.Exchange(context.Background(), "bad")
	require.Error(t, err)

	var perr *connector.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "google", perr.Provider)
	assert.Equal(t, http.StatusBadRequest, perr.Status)
	assert.Equal(t, "invalid_grant", perr.Reason())
}

func TestAdapterSitesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": 403, "message": "insufficient scope", "status": "PERMISSION_DENIED"},
		})
	}))
	t.Cleanup(server.Close)

	adapter := New(Config{SitesURL: server.URL, HTTPClient: server.Client()})
	_, err := adapter.ParseCallbackResult(context.Background(), &connector.Token{AccessToken: "t"})

	var perr *connector.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "PERMISSION_DENIED", perr.Code)
	assert.Equal(t, "sites", perr.Operation)
}
