package connector

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/goliatone/go-connect"
)

// StateCodec turns a ConnectState into the opaque state parameter and back.
type StateCodec interface {
	Encode(state *ConnectState) (string, error)
	Decode(token string) (*ConnectState, error)
}

// ConnectState is carried through the provider inside the state parameter.
type ConnectState struct {
	Nonce        string `json:"n"`
	PlatformID   string `json:"p"`
	UserID       string `json:"u"`
	CodeVerifier string `json:"cv,omitempty"`
	IssuedAt     int64  `json:"iat"`
	ExpiresAt    int64  `json:"exp"`
}

// Expiry returns ExpiresAt as a time.
func (s *ConnectState) Expiry() time.Time {
	return time.Unix(s.ExpiresAt, 0)
}

// EncryptedStateManager seals the state with AES-GCM and signs the sealed
// bytes with HMAC-SHA256, so the token is opaque and tamper evident.
type EncryptedStateManager struct {
	encryptionKey []byte
	hmacKey       []byte
	ttl           time.Duration
	now           func() time.Time
}

// StateManagerOption customizes an EncryptedStateManager.
type StateManagerOption func(*EncryptedStateManager)

// WithStateClock sets the clock used for issue and expiry checks.
func WithStateClock(now func() time.Time) StateManagerOption {
	return func(sm *EncryptedStateManager) {
		if now != nil {
			sm.now = now
		}
	}
}

// NewEncryptedStateManager creates a state manager. encryptionKey must be
// 16, 24 or 32 bytes.
func NewEncryptedStateManager(encryptionKey, hmacKey []byte, ttl time.Duration, opts ...StateManagerOption) (*EncryptedStateManager, error) {
	switch len(encryptionKey) {
	case 16, 24, 32:
	default:
		return nil, connect.WrapError(connect.ErrInvalidConfig, nil, map[string]any{
			"reason": "state encryption key must be 16, 24 or 32 bytes",
		})
	}
	if len(hmacKey) == 0 {
		return nil, connect.WrapError(connect.ErrInvalidConfig, nil, map[string]any{
			"reason": "state hmac key required",
		})
	}
	if ttl <= 0 {
		ttl = connect.DefaultAttemptTTL
	}
	sm := &EncryptedStateManager{
		encryptionKey: encryptionKey,
		hmacKey:       hmacKey,
		ttl:           ttl,
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}
	return sm, nil
}

// TTL returns the lifetime given to new states.
func (sm *EncryptedStateManager) TTL() time.Duration {
	return sm.ttl
}

// Encode fills in missing nonce and timestamps, then seals and signs state.
func (sm *EncryptedStateManager) Encode(state *ConnectState) (string, error) {
	if state == nil {
		return "", connect.ErrInvalidState
	}

	now := sm.now()
	if state.IssuedAt == 0 {
		state.IssuedAt = now.Unix()
	}
	if state.ExpiresAt == 0 {
		state.ExpiresAt = now.Add(sm.ttl).Unix()
	}
	if state.Nonce == "" {
		nonce, err := randomToken(16)
		if err != nil {
			return "", err
		}
		state.Nonce = nonce
	}

	plaintext, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("marshal state: %w", err)
	}

	gcm, err := sm.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, nil)

	out := append(sm.sign(sealed), sealed...)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Decode verifies and opens token. Tampered or unreadable tokens return
// ErrInvalidState, expired ones ErrStateExpired.
func (sm *EncryptedStateManager) Decode(token string) (*ConnectState, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(data) < sha256.Size {
		return nil, connect.WrapError(connect.ErrInvalidState, err, map[string]any{"reason": "state_malformed"})
	}

	signature, sealed := data[:sha256.Size], data[sha256.Size:]
	if !hmac.Equal(signature, sm.sign(sealed)) {
		return nil, connect.WrapError(connect.ErrInvalidState, nil, map[string]any{"reason": "state_signature"})
	}

	gcm, err := sm.aead()
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, connect.WrapError(connect.ErrInvalidState, nil, map[string]any{"reason": "state_malformed"})
	}

	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, connect.WrapError(connect.ErrInvalidState, err, map[string]any{"reason": "state_malformed"})
	}

	var state ConnectState
	if err := json.Unmarshal(plaintext, &state); err != nil {
		return nil, connect.WrapError(connect.ErrInvalidState, err, map[string]any{"reason": "state_malformed"})
	}

	if sm.now().Unix() > state.ExpiresAt {
		return nil, connect.WrapError(connect.ErrStateExpired, nil, map[string]any{
			"reason":   "state_expired",
			"platform": state.PlatformID,
		})
	}
	return &state, nil
}

func (sm *EncryptedStateManager) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(sm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

func (sm *EncryptedStateManager) sign(data []byte) []byte {
	mac := hmac.New(sha256.New, sm.hmacKey)
	mac.Write(data)
	return mac.Sum(nil)
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func generateCodeVerifier() (string, error) {
	return randomToken(32)
}

func computeCodeChallenge(verifier string) string {
	h := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h[:])
}
