package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/goliatone/go-connect"
)

const (
	// KeyPrefix namespaces per state entries in a KV.
	KeyPrefix = "connect:attempt:"
	// LatestKey is the well-known key holding the most recent attempt.
	LatestKey = "connect:attempt:latest"
)

// KV is a string key/value surface scoped to one tab or one user agent.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Slot is a single opaque string that survives top-level navigation of
// the window it belongs to. Other code may write to it too.
type Slot interface {
	Read() (string, error)
	Write(value string) error
}

// Channel is one persistence path for attempts. Channels are redundant:
// any of them may be missing or cleared by the user agent.
type Channel interface {
	Name() string
	Save(ctx context.Context, attempt connect.AuthorizationAttempt) error
	Load(ctx context.Context, state string) (connect.AuthorizationAttempt, bool, error)
	Latest(ctx context.Context) (connect.AuthorizationAttempt, bool, error)
	Clear(ctx context.Context, state string) error
}

// record is the stored payload. The state is repeated inside it so a
// value copied under the wrong key is detected.
type record struct {
	State          string    `json:"state"`
	PlatformID     string    `json:"platformId"`
	CreatedAt      time.Time `json:"createdAt"`
	RedirectTarget string    `json:"redirectTarget"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

func toRecord(a connect.AuthorizationAttempt) record {
	return record{
		State:          a.State,
		PlatformID:     a.PlatformID,
		CreatedAt:      a.CreatedAt,
		RedirectTarget: a.RedirectTarget,
		ExpiresAt:      a.ExpiresAt,
	}
}

func (r record) attempt() connect.AuthorizationAttempt {
	return connect.AuthorizationAttempt{
		State:          r.State,
		PlatformID:     r.PlatformID,
		CreatedAt:      r.CreatedAt,
		RedirectTarget: r.RedirectTarget,
		ExpiresAt:      r.ExpiresAt,
	}
}

func (r record) valid() bool {
	return r.State != "" && r.PlatformID != ""
}

func encodeRecord(a connect.AuthorizationAttempt) (string, error) {
	raw, err := json.Marshal(toRecord(a))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// decodeRecord never fails loudly: anything unreadable is treated as absent.
func decodeRecord(raw string) (connect.AuthorizationAttempt, bool) {
	if raw == "" {
		return connect.AuthorizationAttempt{}, false
	}
	var r record
	if err := json.Unmarshal([]byte(raw), &r); err != nil || !r.valid() {
		return connect.AuthorizationAttempt{}, false
	}
	return r.attempt(), true
}

func ttlUntil(a connect.AuthorizationAttempt, now time.Time) time.Duration {
	if a.ExpiresAt.IsZero() {
		return 0
	}
	ttl := a.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return time.Second
	}
	return ttl
}
