// Package activitymap flattens connect activity events into the record
// published to downstream consumers.
package activitymap

import (
	"maps"
	"strings"
	"time"

	"github.com/goliatone/go-connect"
)

const (
	MetadataKeyPlatform = "platform_id"
	MetadataKeyStatus   = "status"
	MetadataKeyState    = "state"
	// MetadataKeyRecord names the connection record an event concerns.
	MetadataKeyRecord = "record_id"
)

const (
	Channel = "connect"

	ObjectAttempt       = "attempt"
	ObjectConnection    = "connection"
	ObjectConnectionSet = "connection_set"

	// SystemActor is used for events not tied to a user.
	SystemActor = "system"
)

// Normalized is the published shape of one activity event.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Normalize maps event to its published shape. Attempt lifecycle events
// are keyed by platform, connection events by record when one is named.
func Normalize(event connect.ActivityEvent) Normalized {
	actor := strings.TrimSpace(event.UserID)
	if actor == "" {
		actor = SystemActor
	}

	at := event.OccurredAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	objectType, objectID := subject(event)
	return Normalized{
		ActorID:    actor,
		Verb:       string(event.EventType),
		ObjectType: objectType,
		ObjectID:   objectID,
		Channel:    Channel,
		Metadata:   metadata(event),
		OccurredAt: at,
	}
}

func subject(event connect.ActivityEvent) (string, string) {
	platform := strings.TrimSpace(event.PlatformID)

	switch event.EventType {
	case connect.ActivityAttemptStarted,
		connect.ActivityAttemptResolved,
		connect.ActivityCallbackDelivered,
		connect.ActivityMarkerConsumed:
		return ObjectAttempt, platform
	case connect.ActivityReconcileCompleted:
		return ObjectConnectionSet, platform
	}

	if id, ok := event.Metadata[MetadataKeyRecord].(string); ok && strings.TrimSpace(id) != "" {
		return ObjectConnection, strings.TrimSpace(id)
	}
	return ObjectConnection, platform
}

// metadata copies the event metadata and fills the standard keys the
// caller did not set.
func metadata(event connect.ActivityEvent) map[string]any {
	out := maps.Clone(event.Metadata)
	if out == nil {
		out = map[string]any{}
	}

	for key, value := range map[string]string{
		MetadataKeyPlatform: strings.TrimSpace(event.PlatformID),
		MetadataKeyStatus:   string(event.Status),
		MetadataKeyState:    connect.ShortState(event.State),
	} {
		if _, set := out[key]; !set && value != "" {
			out[key] = value
		}
	}

	if len(out) == 0 {
		return nil
	}
	return out
}
