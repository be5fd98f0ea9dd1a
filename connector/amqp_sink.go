package connector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/goliatone/go-connect"
	"github.com/goliatone/go-connect/activitymap"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the part of *amqp.Channel the sink needs.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPActivitySink publishes activity events to a topic exchange as
// activitymap.Normalized JSON. The routing key is the event type, e.g.
// "connect.connection.created".
type AMQPActivitySink struct {
	publisher Publisher
	exchange  string
	appID     string
}

var _ connect.ActivitySink = (*AMQPActivitySink)(nil)

// NewAMQPActivitySink publishes through publisher to exchange.
func NewAMQPActivitySink(publisher Publisher, exchange string) *AMQPActivitySink {
	if exchange == "" {
		exchange = connect.DefaultAMQPExchange
	}
	return &AMQPActivitySink{publisher: publisher, exchange: exchange, appID: "connectd"}
}

// DialAMQPActivitySink connects to url, declares a durable topic exchange
// and returns a sink plus a function closing the connection.
func DialAMQPActivitySink(url, exchange string) (*AMQPActivitySink, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("amqp channel: %w", err)
	}
	sink := NewAMQPActivitySink(ch, exchange)
	if err := ch.ExchangeDeclare(sink.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("amqp declare %s: %w", sink.exchange, err)
	}
	closer := func() error {
		_ = ch.Close()
		return conn.Close()
	}
	return sink, closer, nil
}

// Record implements connect.ActivitySink.
func (s *AMQPActivitySink) Record(ctx context.Context, event connect.ActivityEvent) error {
	normalized := activitymap.Normalize(event)
	body, err := json.Marshal(normalized)
	if err != nil {
		return err
	}
	return s.publisher.PublishWithContext(ctx, s.exchange, string(event.EventType), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    normalized.OccurredAt,
		AppId:        s.appID,
		Body:         body,
	})
}
