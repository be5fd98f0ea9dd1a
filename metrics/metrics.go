// Package metrics exposes prometheus collectors for the connection flow
// and observer adapters that feed them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Attempt metrics
var (
	AttemptsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameAttemptsStarted,
			Help: HelpTextAttemptsStarted,
		},
		[]string{LabelPlatform, LabelMode},
	)

	AttemptsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameAttemptsResolved,
			Help: HelpTextAttemptsResolved,
		},
		[]string{LabelPlatform, LabelStatus},
	)

	AttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    MetricNameAttemptDuration,
			Help:    HelpTextAttemptDuration,
			Buckets: AttemptDurationBuckets,
		},
		[]string{LabelPlatform},
	)
)

// Window and channel metrics
var (
	TransportOpens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameTransportOpens,
			Help: HelpTextTransportOpens,
		},
		[]string{LabelMode},
	)

	MessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameMessagesDropped,
			Help: HelpTextMessagesDropped,
		},
		[]string{LabelReason},
	)

	ChannelFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameChannelFailures,
			Help: HelpTextChannelFailures,
		},
		[]string{LabelChannel, LabelOperation},
	)
)

// Reconciliation metrics
var (
	Reconciliations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameReconciliations,
			Help: HelpTextReconciliations,
		},
		[]string{LabelResult},
	)

	ReconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    MetricNameReconcileDuration,
			Help:    HelpTextReconcileDuration,
			Buckets: LatencyBuckets,
		},
	)
)

// Backend metrics
var (
	Exchanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameExchanges,
			Help: HelpTextExchanges,
		},
		[]string{LabelPlatform, LabelOutcome},
	)

	ExchangeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    MetricNameExchangeDuration,
			Help:    HelpTextExchangeDuration,
			Buckets: LatencyBuckets,
		},
		[]string{LabelPlatform},
	)
)
