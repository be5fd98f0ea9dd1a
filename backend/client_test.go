package backend_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goliatone/go-connect"
	"github.com/goliatone/go-connect/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientAuthorizationURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/connections/authorization-url", r.URL.Path)
		assert.Equal(t, "cms", r.URL.Query().Get("platform"))
		assert.Equal(t, "Bearer session-token", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"url":   "https://public-api.wordpress.com/oauth2/authorize?state=abc",
			"state": "abc",
		})
	}))
	defer server.Close()

	client := backend.New(server.URL+"/api/", backend.WithBearerToken("session-token"))
	out, err := client.AuthorizationURL(context.Background(), "cms")
	require.NoError(t, err)
	assert.Equal(t, "abc", out.State)
	assert.Contains(t, out.URL, "state=abc")
}

func TestClientAuthorizationURLRejectsIncompleteAnswer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"url": "https://x"})
	}))
	defer server.Close()

	_, err := backend.New(server.URL).AuthorizationURL(context.Background(), "cms")
	require.Error(t, err)
	assert.True(t, connect.HasTextCode(err, connect.TextCodeBackendUnavailable))
}

func TestClientConnectionStatus(t *testing.T) {
	connected := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"connections": []connect.ConnectionRecord{{
				ID:                 "rec-1",
				PlatformID:         "search-analytics",
				ExternalAccountRef: "sc-domain:example.com",
				ConnectedAt:        connected,
				SiteCount:          2,
			}},
		})
	}))
	defer server.Close()

	records, err := backend.New(server.URL).ConnectionStatus(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "search-analytics", records[0].PlatformID)
	assert.Equal(t, 2, records[0].SiteCount)
	assert.True(t, connected.Equal(records[0].ConnectedAt))
}

func TestClientExchangeRejectionCarriesReason(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req backend.ExchangeRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "code-1", req.Code)
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":     "oauth state already used",
			"text_code": connect.TextCodeStateReused,
		})
	}))
	defer server.Close()

	_, err := backend.New(server.URL).Exchange(context.Background(), backend.ExchangeRequest{
		PlatformID: "cms", Code: "code-1", State: "s1",
	})
	require.Error(t, err)
	assert.True(t, connect.HasTextCode(err, connect.TextCodeExchangeFailed))
	assert.Equal(t, connect.TextCodeStateReused, connect.ErrorReason(err))
}

func TestClientServerErrorIsBackendUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	err := backend.New(server.URL).ClearIncomplete(context.Background(), "cms")
	require.Error(t, err)
	assert.True(t, connect.HasTextCode(err, connect.TextCodeBackendUnavailable))

	var apiErr *backend.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "boom", apiErr.Message)
}

func TestClientUnreachableBackend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := backend.New(url).ConnectionStatus(context.Background())
	require.Error(t, err)
	assert.True(t, connect.HasTextCode(err, connect.TextCodeBackendUnavailable))
}

func TestExchangeResultPartial(t *testing.T) {
	assert.False(t, (*backend.ExchangeResult)(nil).Partial())
	assert.True(t, (&backend.ExchangeResult{
		Records: []connect.ConnectionRecord{{ID: "a"}},
		Failed:  []backend.FailedAccount{{ExternalAccountRef: "b", Reason: "quota"}},
	}).Partial())
}
