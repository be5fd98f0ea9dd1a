package session

import (
	"context"
	"time"

	"github.com/goliatone/go-connect"
)

// StateKeyedChannel stores one entry per state under KeyPrefix+state.
type StateKeyedChannel struct {
	kv  KV
	now func() time.Time
}

// NewStateKeyedChannel creates the primary channel.
func NewStateKeyedChannel(kv KV) *StateKeyedChannel {
	return &StateKeyedChannel{kv: kv, now: time.Now}
}

func (c *StateKeyedChannel) Name() string { return "state_keyed" }

func (c *StateKeyedChannel) Save(ctx context.Context, a connect.AuthorizationAttempt) error {
	raw, err := encodeRecord(a)
	if err != nil {
		return err
	}
	return c.kv.Set(ctx, KeyPrefix+a.State, raw, ttlUntil(a, c.now()))
}

func (c *StateKeyedChannel) Load(ctx context.Context, state string) (connect.AuthorizationAttempt, bool, error) {
	raw, ok, err := c.kv.Get(ctx, KeyPrefix+state)
	if err != nil || !ok {
		return connect.AuthorizationAttempt{}, false, err
	}
	a, ok := decodeRecord(raw)
	return a, ok, nil
}

// Latest is not supported by a state keyed channel.
func (c *StateKeyedChannel) Latest(context.Context) (connect.AuthorizationAttempt, bool, error) {
	return connect.AuthorizationAttempt{}, false, nil
}

func (c *StateKeyedChannel) Clear(ctx context.Context, state string) error {
	return c.kv.Delete(ctx, KeyPrefix+state)
}

// WellKnownChannel keeps only the most recent attempt under a fixed key.
// It is what makes blind recovery possible when a callback arrives
// without its state.
type WellKnownChannel struct {
	kv  KV
	key string
	now func() time.Time
}

// NewWellKnownChannel creates the channel. An empty key uses LatestKey.
func NewWellKnownChannel(kv KV, key string) *WellKnownChannel {
	if key == "" {
		key = LatestKey
	}
	return &WellKnownChannel{kv: kv, key: key, now: time.Now}
}

func (c *WellKnownChannel) Name() string { return "well_known" }

func (c *WellKnownChannel) Save(ctx context.Context, a connect.AuthorizationAttempt) error {
	raw, err := encodeRecord(a)
	if err != nil {
		return err
	}
	return c.kv.Set(ctx, c.key, raw, ttlUntil(a, c.now()))
}

func (c *WellKnownChannel) Load(ctx context.Context, state string) (connect.AuthorizationAttempt, bool, error) {
	a, ok, err := c.Latest(ctx)
	if err != nil || !ok || a.State != state {
		return connect.AuthorizationAttempt{}, false, err
	}
	return a, true, nil
}

func (c *WellKnownChannel) Latest(ctx context.Context) (connect.AuthorizationAttempt, bool, error) {
	raw, ok, err := c.kv.Get(ctx, c.key)
	if err != nil || !ok {
		return connect.AuthorizationAttempt{}, false, err
	}
	a, ok := decodeRecord(raw)
	return a, ok, nil
}

// Clear removes the entry only when it belongs to state, so a newer
// attempt for another platform is left intact.
func (c *WellKnownChannel) Clear(ctx context.Context, state string) error {
	raw, ok, err := c.kv.Get(ctx, c.key)
	if err != nil || !ok {
		return err
	}
	if a, decoded := decodeRecord(raw); decoded && a.State != state {
		return nil
	}
	return c.kv.Delete(ctx, c.key)
}

// SlotChannel writes the latest attempt into a navigation-surviving Slot.
type SlotChannel struct {
	slot  Slot
	codec *SlotCodec
}

// NewSlotChannel creates the fallback channel.
func NewSlotChannel(slot Slot, codec *SlotCodec) *SlotChannel {
	if codec == nil {
		codec = NewSlotCodec(nil)
	}
	return &SlotChannel{slot: slot, codec: codec}
}

func (c *SlotChannel) Name() string { return "slot" }

func (c *SlotChannel) Save(_ context.Context, a connect.AuthorizationAttempt) error {
	raw, err := c.codec.Encode(a)
	if err != nil {
		return err
	}
	return c.slot.Write(raw)
}

func (c *SlotChannel) Load(ctx context.Context, state string) (connect.AuthorizationAttempt, bool, error) {
	a, ok, err := c.Latest(ctx)
	if err != nil || !ok || a.State != state {
		return connect.AuthorizationAttempt{}, false, err
	}
	return a, true, nil
}

func (c *SlotChannel) Latest(context.Context) (connect.AuthorizationAttempt, bool, error) {
	raw, err := c.slot.Read()
	if err != nil {
		return connect.AuthorizationAttempt{}, false, err
	}
	a, ok := c.codec.Decode(raw)
	return a, ok, nil
}

// Clear empties the slot when it holds state. Content written by other
// code is never touched.
func (c *SlotChannel) Clear(_ context.Context, state string) error {
	raw, err := c.slot.Read()
	if err != nil {
		return err
	}
	if !c.codec.Owns(raw) {
		return nil
	}
	if a, ok := c.codec.Decode(raw); ok && a.State != state {
		return nil
	}
	return c.slot.Write("")
}
