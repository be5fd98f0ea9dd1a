package metrics

import (
	"time"

	"github.com/goliatone/go-connect"
	"github.com/goliatone/go-connect/connector"
	"github.com/goliatone/go-connect/messenger"
	"github.com/goliatone/go-connect/orchestrator"
	"github.com/goliatone/go-connect/session"
	"github.com/goliatone/go-connect/transport"
)

// AttemptObserver records attempt lifecycle milestones.
type AttemptObserver struct{}

var _ orchestrator.Observer = AttemptObserver{}

func (AttemptObserver) AttemptStarted(platformID string, mode transport.Mode) {
	AttemptsStarted.WithLabelValues(platformID, string(mode)).Inc()
}

func (AttemptObserver) AttemptResolved(platformID string, status connect.AttemptStatus, took time.Duration) {
	AttemptsResolved.WithLabelValues(platformID, string(status)).Inc()
	AttemptDuration.WithLabelValues(platformID).Observe(took.Seconds())
}

// ObserveTransportMode is a transport.WithModeObserver callback.
func ObserveTransportMode(mode transport.Mode) {
	TransportOpens.WithLabelValues(string(mode)).Inc()
}

// ObserveDrop is a messenger.WithDropObserver callback.
func ObserveDrop(reason messenger.DropReason) {
	MessagesDropped.WithLabelValues(string(reason)).Inc()
}

// ObserveChannelFailure is a session.ChannelObserver.
var ObserveChannelFailure session.ChannelObserver = func(channel, op string, _ error) {
	ChannelFailures.WithLabelValues(channel, op).Inc()
}

// ObserveRefresh is a reconcile.WithRefreshObserver callback.
func ObserveRefresh(err error, took time.Duration) {
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	Reconciliations.WithLabelValues(result).Inc()
	ReconcileDuration.Observe(took.Seconds())
}

// ObserveExchange is a connector.ExchangeObserver.
var ObserveExchange connector.ExchangeObserver = func(platformID, outcome string, took time.Duration) {
	Exchanges.WithLabelValues(platformID, outcome).Inc()
	ExchangeDuration.WithLabelValues(platformID).Observe(took.Seconds())
}
