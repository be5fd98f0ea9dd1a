package messenger_test

import (
	"encoding/json"
	"testing"

	"github.com/goliatone/go-connect"
	"github.com/goliatone/go-connect/messenger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTarget struct {
	data    [][]byte
	origins []string
}

func (r *recordingTarget) PostMessage(data []byte, origin string) error {
	r.data = append(r.data, data)
	r.origins = append(r.origins, origin)
	return nil
}

func newMessenger(t *testing.T, opts ...messenger.Option) *messenger.Messenger {
	t.Helper()
	m, err := messenger.New([]string{"https://app.example.com"}, opts...)
	require.NoError(t, err)
	return m
}

func encode(t *testing.T, msg messenger.Message) []byte {
	t.Helper()
	data, err := messenger.Encode(msg)
	require.NoError(t, err)
	return data
}

func TestNewRejectsWildcardAndEmptyOrigins(t *testing.T) {
	_, err := messenger.New([]string{"*"})
	assert.ErrorIs(t, err, connect.ErrUntrustedOrigin)

	_, err = messenger.New(nil)
	assert.ErrorIs(t, err, connect.ErrUntrustedOrigin)
}

func TestSendUsesExplicitOrigin(t *testing.T) {
	m := newMessenger(t)
	target := &recordingTarget{}

	require.NoError(t, m.Send(target, messenger.Success("cms", "s1"), "https://APP.example.com/"))
	require.Len(t, target.data, 1)
	assert.Equal(t, "https://app.example.com", target.origins[0])

	var payload map[string]any
	require.NoError(t, json.Unmarshal(target.data[0], &payload))
	assert.Equal(t, "AUTH_SUCCESS", payload["type"])
	assert.Equal(t, "cms", payload["platformId"])

	err := m.Send(target, messenger.Success("cms", "s1"), "*")
	assert.ErrorIs(t, err, connect.ErrUntrustedOrigin)
	assert.Len(t, target.data, 1)
}

func TestDispatchFiltersOriginsAndPayloads(t *testing.T) {
	var drops []messenger.DropReason
	m := newMessenger(t, messenger.WithDropObserver(func(r messenger.DropReason) { drops = append(drops, r) }))

	var got []messenger.Message
	sub := m.OnMessage(func(msg messenger.Message) { got = append(got, msg) })
	defer sub.Close()

	assert.False(t, m.Dispatch(messenger.Event{Origin: "https://evil.example.com", Data: encode(t, messenger.Success("cms", "s1"))}))
	assert.False(t, m.Dispatch(messenger.Event{Origin: "https://app.example.com", Data: []byte(`{"type":"HELLO","platformId":"cms"}`)}))
	assert.False(t, m.Dispatch(messenger.Event{Origin: "https://app.example.com", Data: []byte(`not json`)}))
	assert.False(t, m.Dispatch(messenger.Event{Origin: "https://app.example.com", Data: []byte(`{"type":"AUTH_SUCCESS","platformId":"cms"}`)}))
	assert.True(t, m.Dispatch(messenger.Event{Origin: "https://app.example.com", Data: encode(t, messenger.Failure("cms", "s1", "access_denied"))}))

	require.Len(t, got, 1)
	assert.Equal(t, messenger.TypeAuthError, got[0].Type)
	assert.Equal(t, "access_denied", got[0].Reason)
	assert.Equal(t, []messenger.DropReason{
		messenger.DropUntrustedOrigin,
		messenger.DropMalformed,
		messenger.DropMalformed,
		messenger.DropMalformed,
	}, drops)
}

func TestDispatchSuppressesDuplicates(t *testing.T) {
	m := newMessenger(t)
	calls := 0
	m.OnMessage(func(messenger.Message) { calls++ })

	ev := messenger.Event{Origin: "https://app.example.com", Data: encode(t, messenger.Success("cms", "s1"))}
	assert.True(t, m.Dispatch(ev))
	assert.False(t, m.Dispatch(ev))
	assert.Equal(t, 1, calls)

	assert.True(t, m.Dispatch(messenger.Event{Origin: "https://app.example.com", Data: encode(t, messenger.Success("cms", "s2"))}))
	assert.Equal(t, 2, calls)
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	m := newMessenger(t)
	sub := m.OnMessage(func(messenger.Message) {})
	other := m.OnMessage(func(messenger.Message) {})
	require.Equal(t, 2, m.Subscribers())

	sub.Close()
	sub.Close()
	assert.Equal(t, 1, m.Subscribers())

	other.Close()
	assert.Equal(t, 0, m.Subscribers())
}

func TestMessageValidate(t *testing.T) {
	assert.NoError(t, messenger.Success("cms", "s1").Validate())
	assert.ErrorIs(t, messenger.Success("cms", "").Validate(), connect.ErrInvalidMessage)
	assert.NoError(t, messenger.Failure("cms", "", "state_invalid").Validate())
	assert.Error(t, messenger.Message{Type: messenger.TypeAuthSuccess}.Validate())
	assert.Error(t, messenger.Message{Type: messenger.TypeAuthError, PlatformID: "cms"}.Validate())
	assert.Equal(t, "unknown_error", messenger.Failure("cms", "s", "").Reason)

	_, err := messenger.Encode(messenger.Message{Type: "NOPE", PlatformID: "cms"})
	assert.ErrorIs(t, err, connect.ErrInvalidMessage)
}

func TestNormalizeOrigin(t *testing.T) {
	origin, err := messenger.NormalizeOrigin("HTTPS://App.Example.com:8443")
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com:8443", origin)

	_, err = messenger.NormalizeOrigin("https://app.example.com/path")
	assert.Error(t, err)
	_, err = messenger.NormalizeOrigin("")
	assert.Error(t, err)
}
