package activitymap_test

import (
	"testing"
	"time"

	"github.com/goliatone/go-connect"
	"github.com/goliatone/go-connect/activitymap"
)

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)
	event := connect.ActivityEvent{
		EventType:  connect.ActivityConnectionRemoved,
		UserID:     "user-100",
		PlatformID: connect.PlatformCMS,
		Metadata: map[string]any{
			activitymap.MetadataKeyRecord: "conn-7",
		},
		OccurredAt: ts,
	}

	out := activitymap.Normalize(event)

	if out.ActorID != "user-100" {
		t.Fatalf("expected actor_id user-100, got %q", out.ActorID)
	}
	if out.Verb != string(connect.ActivityConnectionRemoved) {
		t.Fatalf("expected verb %q, got %q", connect.ActivityConnectionRemoved, out.Verb)
	}
	if out.ObjectType != "connection" {
		t.Fatalf("expected object_type connection, got %q", out.ObjectType)
	}
	if out.ObjectID != "conn-7" {
		t.Fatalf("expected object_id conn-7, got %q", out.ObjectID)
	}
	if out.Channel != "connect" {
		t.Fatalf("expected channel connect, got %q", out.Channel)
	}
	if !out.OccurredAt.Equal(ts) {
		t.Fatalf("expected occurred_at %v, got %v", ts, out.OccurredAt)
	}
	if out.Metadata[activitymap.MetadataKeyPlatform] != connect.PlatformCMS {
		t.Fatalf("expected metadata platform_id cms, got %#v", out.Metadata[activitymap.MetadataKeyPlatform])
	}

	if len(event.Metadata) != 1 {
		t.Fatalf("expected source metadata to remain unchanged, got %+v", event.Metadata)
	}
}

func TestNormalizeAttemptEvent(t *testing.T) {
	t.Parallel()

	out := activitymap.Normalize(connect.ActivityEvent{
		EventType:  connect.ActivityAttemptResolved,
		UserID:     "user-1",
		PlatformID: connect.PlatformSearchAnalytics,
		State:      "0123456789abcdef",
		Status:     connect.AttemptResolvedError,
	})

	if out.ObjectID != connect.PlatformSearchAnalytics {
		t.Fatalf("expected object_id to fall back to the platform, got %q", out.ObjectID)
	}
	if out.Metadata[activitymap.MetadataKeyStatus] != string(connect.AttemptResolvedError) {
		t.Fatalf("expected metadata status, got %#v", out.Metadata[activitymap.MetadataKeyStatus])
	}
	if out.Metadata[activitymap.MetadataKeyState] != "01234567..." {
		t.Fatalf("expected shortened state, got %#v", out.Metadata[activitymap.MetadataKeyState])
	}
	if out.OccurredAt.IsZero() {
		t.Fatalf("expected occurred_at to be set when input is zero")
	}
}

func TestNormalizeKeepsCallerMetadata(t *testing.T) {
	t.Parallel()

	event := connect.ActivityEvent{
		EventType:  connect.ActivityExchangeFailed,
		UserID:     "user-200",
		PlatformID: connect.PlatformSiteBuilder,
		Metadata: map[string]any{
			"reason":                        "state_reused",
			activitymap.MetadataKeyPlatform: "existing",
		},
	}

	out := activitymap.Normalize(event)

	if out.ObjectType != activitymap.ObjectConnection {
		t.Fatalf("expected object_type connection, got %q", out.ObjectType)
	}
	if out.ObjectID != connect.PlatformSiteBuilder {
		t.Fatalf("expected object_id site-builder, got %q", out.ObjectID)
	}
	if out.Metadata[activitymap.MetadataKeyPlatform] != "existing" {
		t.Fatalf("expected existing platform_id preserved, got %#v", out.Metadata[activitymap.MetadataKeyPlatform])
	}
	if out.Metadata["reason"] != "state_reused" {
		t.Fatalf("expected reason preserved, got %#v", out.Metadata["reason"])
	}
}

func TestNormalizeSubjectByEventType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		event      connect.ActivityEvent
		objectType string
		objectID   string
		actor      string
	}{
		{
			name:       "attempt events are keyed by platform",
			event:      connect.ActivityEvent{EventType: connect.ActivityCallbackDelivered, PlatformID: "cms", Metadata: map[string]any{activitymap.MetadataKeyRecord: "rec-1"}},
			objectType: activitymap.ObjectAttempt,
			objectID:   "cms",
			actor:      activitymap.SystemActor,
		},
		{
			name:       "reconcile is about the whole set",
			event:      connect.ActivityEvent{EventType: connect.ActivityReconcileCompleted, UserID: "user-2"},
			objectType: activitymap.ObjectConnectionSet,
			actor:      "user-2",
		},
		{
			name:       "connection events prefer the record",
			event:      connect.ActivityEvent{EventType: connect.ActivityConnectionCreated, UserID: "  ", PlatformID: "cms", Metadata: map[string]any{activitymap.MetadataKeyRecord: "rec-9"}},
			objectType: activitymap.ObjectConnection,
			objectID:   "rec-9",
			actor:      activitymap.SystemActor,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			out := activitymap.Normalize(tc.event)
			if out.ObjectType != tc.objectType {
				t.Fatalf("expected object_type %q, got %q", tc.objectType, out.ObjectType)
			}
			if out.ObjectID != tc.objectID {
				t.Fatalf("expected object_id %q, got %q", tc.objectID, out.ObjectID)
			}
			if out.ActorID != tc.actor {
				t.Fatalf("expected actor_id %q, got %q", tc.actor, out.ActorID)
			}
			if out.Channel != activitymap.Channel {
				t.Fatalf("expected channel %q, got %q", activitymap.Channel, out.Channel)
			}
		})
	}
}
