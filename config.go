package connect

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAttemptTTL        = 3 * time.Minute
	DefaultReconcileInterval = 30 * time.Second
	DefaultPopupWidth        = 600
	DefaultPopupHeight       = 700
	DefaultPopupCheckDelay   = 2 * time.Second
	DefaultPopupPollInterval = 500 * time.Millisecond
	DefaultConnectionsPath   = "/settings/connections"
	DefaultCallbackPath      = "/oauth/callback"
	DefaultListenAddr        = ":8080"
	DefaultAMQPExchange      = "connect.activity"

	envPrefix = "CONNECT_"
)

// Config holds the application wide settings for both the browser side
// orchestrator and the connector backend.
type Config struct {
	AppOrigin         string                    `yaml:"app_origin"`
	APIBaseURL        string                    `yaml:"api_base_url"`
	ConnectionsPath   string                    `yaml:"connections_path"`
	CallbackPath      string                    `yaml:"callback_path"`
	TrustedOrigins    []string                  `yaml:"trusted_origins"`
	AttemptTTL        time.Duration             `yaml:"attempt_ttl"`
	ReconcileInterval time.Duration             `yaml:"reconcile_interval"`
	Popup             PopupConfig               `yaml:"popup"`
	State             StateConfig               `yaml:"state"`
	Database          DatabaseConfig            `yaml:"database"`
	RedisURL          string                    `yaml:"redis_url"`
	AMQPURL           string                    `yaml:"amqp_url"`
	AMQPExchange      string                    `yaml:"amqp_exchange"`
	ListenAddr        string                    `yaml:"listen_addr"`
	SessionKey        string                    `yaml:"session_key"`
	SessionSecret     string                    `yaml:"session_secret"`
	Platforms         map[string]PlatformConfig `yaml:"platforms"`
}

// PopupConfig sizes and monitors the authorization popup.
type PopupConfig struct {
	Width        int           `yaml:"width"`
	Height       int           `yaml:"height"`
	CheckDelay   time.Duration `yaml:"check_delay"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// StateConfig holds the keys protecting OAuth state values.
type StateConfig struct {
	EncryptionKey  string `yaml:"encryption_key"`
	HMACKey        string `yaml:"hmac_key"`
	SlotSigningKey string `yaml:"slot_signing_key"`
}

// DatabaseConfig selects the connection store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// PlatformConfig carries per platform OAuth client settings.
type PlatformConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Enabled      *bool    `yaml:"enabled"`
	Scopes       []string `yaml:"scopes"`
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
	APIBaseURL   string   `yaml:"api_base_url"`
}

// ConfigOption customizes LoadConfig.
type ConfigOption func(*configLoader)

type configLoader struct {
	envFile   string
	lookupEnv func(string) (string, bool)
	secrets   bool
	logger    Logger
}

// WithEnvFile sets the dotenv file loaded before reading the environment.
func WithEnvFile(path string) ConfigOption {
	return func(l *configLoader) {
		l.envFile = path
	}
}

// WithLookupEnv replaces os.LookupEnv (useful for tests).
func WithLookupEnv(lookup func(string) (string, bool)) ConfigOption {
	return func(l *configLoader) {
		if lookup != nil {
			l.lookupEnv = lookup
		}
	}
}

// WithoutExternalSources skips AWS Secrets Manager and dotenv loading.
func WithoutExternalSources() ConfigOption {
	return func(l *configLoader) {
		l.secrets = false
		l.envFile = ""
	}
}

// WithConfigLogger sets the logger used while loading.
func WithConfigLogger(logger Logger) ConfigOption {
	return func(l *configLoader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// LoadConfig resolves configuration from, in order: AWS Secrets Manager
// (when a secret id is set), a dotenv file, the YAML file at path and
// finally CONNECT_* environment overrides.
func LoadConfig(ctx context.Context, path string, opts ...ConfigOption) (*Config, error) {
	l := &configLoader{
		envFile:   ".env",
		lookupEnv: os.LookupEnv,
		secrets:   true,
		logger:    defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}

	if l.secrets {
		if err := loadAWSSecretsIntoEnv(ctx, l.logger); err != nil {
			l.logger.Warn("skipping aws secrets manager", "error", err)
		}
	}
	if l.envFile != "" {
		loadDotEnv(l.envFile, l.logger)
	}

	cfg := &Config{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, WrapError(ErrInvalidConfig, err, map[string]any{"path": path})
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, WrapError(ErrInvalidConfig, err, map[string]any{"path": path})
		}
	}

	if err := cfg.applyEnv(l.lookupEnv); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	c.AppOrigin = strings.TrimRight(c.AppOrigin, "/")
	if c.APIBaseURL == "" && c.AppOrigin != "" {
		c.APIBaseURL = c.AppOrigin + "/api"
	}
	if c.ConnectionsPath == "" {
		c.ConnectionsPath = DefaultConnectionsPath
	}
	if c.CallbackPath == "" {
		c.CallbackPath = DefaultCallbackPath
	}
	if len(c.TrustedOrigins) == 0 && c.AppOrigin != "" {
		c.TrustedOrigins = []string{c.AppOrigin}
	}
	if c.AttemptTTL <= 0 {
		c.AttemptTTL = DefaultAttemptTTL
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = DefaultReconcileInterval
	}
	if c.Popup.Width <= 0 {
		c.Popup.Width = DefaultPopupWidth
	}
	if c.Popup.Height <= 0 {
		c.Popup.Height = DefaultPopupHeight
	}
	if c.Popup.CheckDelay <= 0 {
		c.Popup.CheckDelay = DefaultPopupCheckDelay
	}
	if c.Popup.PollInterval <= 0 {
		c.Popup.PollInterval = DefaultPopupPollInterval
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = "file::memory:?cache=shared"
	}
	if c.AMQPExchange == "" {
		c.AMQPExchange = DefaultAMQPExchange
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.SessionKey == "" {
		c.SessionKey = "user"
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.AppOrigin, validation.Required, is.URL),
		validation.Field(&c.APIBaseURL, validation.Required, is.URL),
		validation.Field(&c.TrustedOrigins, validation.Required, validation.By(originsRule)),
		validation.Field(&c.AttemptTTL, validation.Required),
		validation.Field(&c.ReconcileInterval, validation.Required),
		validation.Field(&c.SessionSecret, validation.Length(16, 0)),
		validation.Field(&c.State),
		validation.Field(&c.Database),
	)
	if err != nil {
		return WrapError(ErrInvalidConfig, err, nil)
	}
	return nil
}

// Validate implements validation.Validatable.
func (s StateConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.EncryptionKey, validation.By(aesKeyRule)),
		validation.Field(&s.HMACKey, validation.Length(16, 0)),
		validation.Field(&s.SlotSigningKey, validation.Length(16, 0)),
	)
}

// Validate implements validation.Validatable.
func (d DatabaseConfig) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Driver, validation.Required, validation.In("sqlite", "postgres")),
		validation.Field(&d.DSN, validation.Required),
	)
}

// RedirectTarget returns the callback URL registered with a platform.
// Each platform gets its own path so the callback window can tell which
// platform answered even when the attempt cannot be recovered.
func (c Config) RedirectTarget(platformID string) string {
	return c.AppOrigin + strings.TrimRight(c.CallbackPath, "/") + "/" + url.PathEscape(platformID)
}

// ConnectionsURL returns the absolute URL of the connection screen.
func (c Config) ConnectionsURL() string {
	return c.AppOrigin + c.ConnectionsPath
}

// EnabledOverrides returns the per platform enabled flags set in config.
func (c Config) EnabledOverrides() map[string]bool {
	out := map[string]bool{}
	for id, p := range c.Platforms {
		if p.Enabled != nil {
			out[id] = *p.Enabled
		}
	}
	return out
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(envPrefix + key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return WrapError(ErrInvalidConfig, err, map[string]any{"key": envPrefix + key})
		}
		*dst = d
		return nil
	}

	str("APP_ORIGIN", &c.AppOrigin)
	str("API_BASE_URL", &c.APIBaseURL)
	str("CONNECTIONS_PATH", &c.ConnectionsPath)
	str("CALLBACK_PATH", &c.CallbackPath)
	str("STATE_ENCRYPTION_KEY", &c.State.EncryptionKey)
	str("STATE_HMAC_KEY", &c.State.HMACKey)
	str("SLOT_SIGNING_KEY", &c.State.SlotSigningKey)
	str("DATABASE_DRIVER", &c.Database.Driver)
	str("DATABASE_DSN", &c.Database.DSN)
	str("REDIS_URL", &c.RedisURL)
	str("AMQP_URL", &c.AMQPURL)
	str("AMQP_EXCHANGE", &c.AMQPExchange)
	str("LISTEN_ADDR", &c.ListenAddr)
	str("SESSION_KEY", &c.SessionKey)
	str("SESSION_SECRET", &c.SessionSecret)

	if v, ok := lookup(envPrefix + "TRUSTED_ORIGINS"); ok && v != "" {
		c.TrustedOrigins = splitList(v)
	}
	if err := dur("ATTEMPT_TTL", &c.AttemptTTL); err != nil {
		return err
	}
	if err := dur("RECONCILE_INTERVAL", &c.ReconcileInterval); err != nil {
		return err
	}
	if err := dur("POPUP_CHECK_DELAY", &c.Popup.CheckDelay); err != nil {
		return err
	}
	if err := dur("POPUP_POLL_INTERVAL", &c.Popup.PollInterval); err != nil {
		return err
	}

	ids := make([]string, 0, len(c.Platforms))
	for id := range c.Platforms {
		ids = append(ids, id)
	}
	for _, d := range DefaultPlatforms() {
		if _, ok := c.Platforms[d.ID]; !ok {
			ids = append(ids, d.ID)
		}
	}
	for _, id := range ids {
		p := c.Platforms[id]
		key := "PLATFORM_" + envKey(id) + "_"
		changed := false
		if v, ok := lookup(envPrefix + key + "CLIENT_ID"); ok && v != "" {
			p.ClientID, changed = v, true
		}
		if v, ok := lookup(envPrefix + key + "CLIENT_SECRET"); ok && v != "" {
			p.ClientSecret, changed = v, true
		}
		if v, ok := lookup(envPrefix + key + "ENABLED"); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return WrapError(ErrInvalidConfig, err, map[string]any{"key": envPrefix + key + "ENABLED"})
			}
			p.Enabled, changed = &b, true
		}
		if changed {
			if c.Platforms == nil {
				c.Platforms = map[string]PlatformConfig{}
			}
			c.Platforms[id] = p
		}
	}
	return nil
}

func envKey(id string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(id))
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func originsRule(value any) error {
	origins, _ := value.([]string)
	for _, origin := range origins {
		if err := checkOrigin(origin); err != nil {
			return fmt.Errorf("%s: %w", origin, err)
		}
	}
	return nil
}

func checkOrigin(origin string) error {
	if origin == "*" {
		return fmt.Errorf("wildcard origin is not allowed")
	}
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("origin must be scheme://host[:port]")
	}
	if u.Path != "" && u.Path != "/" {
		return fmt.Errorf("origin must not contain a path")
	}
	return nil
}

func aesKeyRule(value any) error {
	key, _ := value.(string)
	switch len(key) {
	case 0, 16, 24, 32:
		return nil
	}
	return fmt.Errorf("must be 16, 24 or 32 bytes")
}
