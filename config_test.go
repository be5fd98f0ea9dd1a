package connect_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goliatone/go-connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestLoadConfigFromYAMLWithDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "connect.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app_origin: https://app.example.com/
attempt_ttl: 5m
popup:
  width: 800
platforms:
  social:
    enabled: true
    client_id: social-client
`), 0o600))

	cfg, err := connect.LoadConfig(context.Background(), path,
		connect.WithoutExternalSources(),
		connect.WithLookupEnv(envMap(nil)),
	)
	require.NoError(t, err)

	assert.Equal(t, "https://app.example.com", cfg.AppOrigin)
	assert.Equal(t, "https://app.example.com/api", cfg.APIBaseURL)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.TrustedOrigins)
	assert.Equal(t, 5*time.Minute, cfg.AttemptTTL)
	assert.Equal(t, connect.DefaultReconcileInterval, cfg.ReconcileInterval)
	assert.Equal(t, 800, cfg.Popup.Width)
	assert.Equal(t, connect.DefaultPopupHeight, cfg.Popup.Height)
	assert.Equal(t, connect.DefaultPopupCheckDelay, cfg.Popup.CheckDelay)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, map[string]bool{"social": true}, cfg.EnabledOverrides())
	assert.Equal(t, "https://app.example.com/oauth/callback/cms", cfg.RedirectTarget("cms"))
	assert.Equal(t, "https://app.example.com/settings/connections", cfg.ConnectionsURL())
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	cfg, err := connect.LoadConfig(context.Background(), "",
		connect.WithoutExternalSources(),
		connect.WithLookupEnv(envMap(map[string]string{
			"CONNECT_APP_ORIGIN":                          "https://app.example.com",
			"CONNECT_TRUSTED_ORIGINS":                     "https://app.example.com, https://admin.example.com",
			"CONNECT_ATTEMPT_TTL":                         "90s",
			"CONNECT_PLATFORM_SEARCH_ANALYTICS_CLIENT_ID": "gsc-client",
			"CONNECT_PLATFORM_CMS_ENABLED":                "false",
		})),
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.TrustedOrigins)
	assert.Equal(t, 90*time.Second, cfg.AttemptTTL)
	assert.Equal(t, "gsc-client", cfg.Platforms["search-analytics"].ClientID)
	assert.Equal(t, map[string]bool{"cms": false}, cfg.EnabledOverrides())
}

func TestLoadConfigRejectsWildcardOrigin(t *testing.T) {
	_, err := connect.LoadConfig(context.Background(), "",
		connect.WithoutExternalSources(),
		connect.WithLookupEnv(envMap(map[string]string{
			"CONNECT_APP_ORIGIN":      "https://app.example.com",
			"CONNECT_TRUSTED_ORIGINS": "*",
		})),
	)
	require.Error(t, err)
	assert.True(t, connect.HasTextCode(err, connect.TextCodeInvalidConfig))
}

func TestLoadConfigRejectsBadDuration(t *testing.T) {
	_, err := connect.LoadConfig(context.Background(), "",
		connect.WithoutExternalSources(),
		connect.WithLookupEnv(envMap(map[string]string{
			"CONNECT_APP_ORIGIN":  "https://app.example.com",
			"CONNECT_ATTEMPT_TTL": "soon",
		})),
	)
	require.Error(t, err)
	assert.True(t, connect.HasTextCode(err, connect.TextCodeInvalidConfig))
}

func TestConfigValidateStateKeys(t *testing.T) {
	cfg := &connect.Config{AppOrigin: "https://app.example.com"}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	cfg.State.EncryptionKey = "too-short"
	assert.Error(t, cfg.Validate())

	cfg.State.EncryptionKey = "0123456789abcdef0123456789abcdef"
	assert.NoError(t, cfg.Validate())
}
