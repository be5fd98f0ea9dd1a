package wordpress

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/goliatone/go-connect/connector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapterBuildAuthRequestIgnoresPKCE(t *testing.T) {
	adapter := New(Config{ClientID: "42", CallbackURL: "https://app.example.com/oauth/callback/cms"})

	parsed, err := url.Parse(adapter.BuildAuthRequest("s", connector.WithPKCE("challenge", "S256")))
	require.NoError(t, err)
	query := parsed.Query()
	assert.Equal(t, "public-api.wordpress.com", parsed.Host)
	assert.Equal(t, "42", query.Get("client_id"))
	assert.Equal(t, "s", query.Get("state"))
	assert.Empty(t, query.Get("code_challenge"))
	assert.Empty(t, query.Get("scope"))
}

func TestAdapterSingleBlogGrant(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "code-1", r.PostForm.Get("code"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "token",
			"token_type":   "bearer",
			"blog_id":      "123456",
			"blog_url":     "https://journal.example.blog",
			"scope":        "",
		})
	}))
	t.Cleanup(server.Close)

	adapter := New(Config{TokenURL: server.URL, HTTPClient: server.Client()})
	token, err := adapter.Exchange(context.Background(), "code-1")
	require.NoError(t, err)

	result, err := adapter.ParseCallbackResult(context.Background(), token)
	require.NoError(t, err)
	require.Len(t, result.Accounts, 1)
	assert.Equal(t, "123456", result.Accounts[0].ExternalAccountRef)
	assert.Equal(t, "journal.example.blog", result.Accounts[0].DisplayName)
}

func TestAdapterGlobalGrantListsSites(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sites": []map[string]any{
				{"ID": 1, "name": "Recipes", "URL": "https://recipes.example"},
				{"ID": 2, "name": "", "URL": "https://notes.example"},
				{"ID": 0, "URL": "https://broken.example"},
			},
		})
	}))
	t.Cleanup(server.Close)

	adapter := New(Config{SitesURL: server.URL, HTTPClient: server.Client()})
	result, err := adapter.ParseCallbackResult(context.Background(), &connector.Token{
		AccessToken: "token",
		TokenType:   "bearer",
		Raw:         map[string]any{"blog_id": float64(0)},
	})
	require.NoError(t, err)
	require.Len(t, result.Accounts, 2)
	assert.Equal(t, "1", result.Accounts[0].ExternalAccountRef)
	assert.Equal(t, "Recipes", result.Accounts[0].DisplayName)
	assert.Equal(t, "notes.example", result.Accounts[1].DisplayName)
	assert.Equal(t, []connector.FailedAccount{{ExternalAccountRef: "https://broken.example", Reason: "missing_site_id"}}, result.Failed)
}
