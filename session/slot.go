package session

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/goliatone/go-connect"
)

const slotPrefix = "connect.v1:"

// MemorySlot is a Slot held in process memory.
type MemorySlot struct {
	mu    sync.Mutex
	value string
}

func (s *MemorySlot) Read() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, nil
}

func (s *MemorySlot) Write(value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = value
	return nil
}

// SlotCodec signs the attempt written into a Slot as a compact HS256
// token so values planted by other scripts are rejected on read.
type SlotCodec struct {
	key []byte
}

// NewSlotCodec creates a codec. An empty key yields a random per process
// key, which only works while the slot lives in the same process.
func NewSlotCodec(key []byte) *SlotCodec {
	if len(key) == 0 {
		key = make([]byte, 32)
		_, _ = rand.Read(key)
	}
	return &SlotCodec{key: key}
}

// slotClaims keeps nanosecond times alongside the second resolution
// registered claims so a slot-only load equals what was saved.
type slotClaims struct {
	PlatformID     string `json:"pid"`
	RedirectTarget string `json:"rdt,omitempty"`
	CreatedAtNs    int64  `json:"cns"`
	ExpiresAtNs    int64  `json:"ens,omitempty"`
	jwt.RegisteredClaims
}

// Encode returns the slot value for attempt.
func (c *SlotCodec) Encode(a connect.AuthorizationAttempt) (string, error) {
	claims := slotClaims{
		PlatformID:     a.PlatformID,
		RedirectTarget: a.RedirectTarget,
		CreatedAtNs:    a.CreatedAt.UnixNano(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       a.State,
			IssuedAt: jwt.NewNumericDate(a.CreatedAt),
		},
	}
	if !a.ExpiresAt.IsZero() {
		claims.ExpiresAtNs = a.ExpiresAt.UnixNano()
		claims.ExpiresAt = jwt.NewNumericDate(a.ExpiresAt)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", err
	}
	return slotPrefix + signed, nil
}

// Decode parses a slot value. Foreign, truncated or forged values are
// reported as absent. Expiry is left to the caller.
func (c *SlotCodec) Decode(raw string) (connect.AuthorizationAttempt, bool) {
	if !strings.HasPrefix(raw, slotPrefix) {
		return connect.AuthorizationAttempt{}, false
	}

	claims := &slotClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimPrefix(raw, slotPrefix), claims,
		func(*jwt.Token) (any, error) { return c.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil || claims.ID == "" || claims.PlatformID == "" {
		return connect.AuthorizationAttempt{}, false
	}

	a := connect.AuthorizationAttempt{
		State:          claims.ID,
		PlatformID:     claims.PlatformID,
		RedirectTarget: claims.RedirectTarget,
		CreatedAt:      time.Unix(0, claims.CreatedAtNs).UTC(),
	}
	if claims.ExpiresAtNs != 0 {
		a.ExpiresAt = time.Unix(0, claims.ExpiresAtNs).UTC()
	}
	return a, true
}

// Owns reports whether raw was written by a SlotCodec.
func (c *SlotCodec) Owns(raw string) bool {
	return strings.HasPrefix(raw, slotPrefix)
}
