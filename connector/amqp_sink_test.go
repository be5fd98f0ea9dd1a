package connector

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/goliatone/go-connect"
	"github.com/goliatone/go-connect/activitymap"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

func (p *recordingPublisher) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	p.exchange = exchange
	p.key = key
	p.msg = msg
	return nil
}

func TestAMQPActivitySinkPublishesEvent(t *testing.T) {
	pub := &recordingPublisher{}
	sink := NewAMQPActivitySink(pub, "")
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	err := sink.Record(context.Background(), connect.ActivityEvent{
		EventType:  connect.ActivityConnectionCreated,
		UserID:     "user-1",
		PlatformID: connect.PlatformCMS,
		OccurredAt: at,
	})
	require.NoError(t, err)

	assert.Equal(t, connect.DefaultAMQPExchange, pub.exchange)
	assert.Equal(t, string(connect.ActivityConnectionCreated), pub.key)
	assert.Equal(t, "application/json", pub.msg.ContentType)
	assert.Equal(t, at, pub.msg.Timestamp)
	assert.NotEmpty(t, pub.msg.MessageId)

	var decoded activitymap.Normalized
	require.NoError(t, json.Unmarshal(pub.msg.Body, &decoded))
	assert.Equal(t, "user-1", decoded.ActorID)
	assert.Equal(t, string(connect.ActivityConnectionCreated), decoded.Verb)
	assert.Equal(t, connect.PlatformCMS, decoded.ObjectID)
	assert.Equal(t, connect.PlatformCMS, decoded.Metadata[activitymap.MetadataKeyPlatform])
}
