package metrics

// Metric names
const (
	MetricNameAttemptsStarted   = "connect_attempts_started_total"
	MetricNameAttemptsResolved  = "connect_attempts_resolved_total"
	MetricNameAttemptDuration   = "connect_attempt_duration_seconds"
	MetricNameTransportOpens    = "connect_transport_opens_total"
	MetricNameMessagesDropped   = "connect_messages_dropped_total"
	MetricNameChannelFailures   = "connect_channel_failures_total"
	MetricNameReconciliations   = "connect_reconciliations_total"
	MetricNameReconcileDuration = "connect_reconcile_duration_seconds"
	MetricNameExchanges         = "connect_exchanges_total"
	MetricNameExchangeDuration  = "connect_exchange_duration_seconds"
)

// Help texts
const (
	HelpTextAttemptsStarted   = "Connection attempts started, by platform and transport mode"
	HelpTextAttemptsResolved  = "Connection attempts resolved, by platform and status"
	HelpTextAttemptDuration   = "Time from attempt start to resolution"
	HelpTextTransportOpens    = "Authorization windows opened, by mode"
	HelpTextMessagesDropped   = "Inbound window messages dropped, by reason"
	HelpTextChannelFailures   = "Failed attempt channel operations, by channel and operation"
	HelpTextReconciliations   = "Connection list refreshes, by result"
	HelpTextReconcileDuration = "Latency of connection list refreshes"
	HelpTextExchanges         = "Authorization code exchanges, by platform and outcome"
	HelpTextExchangeDuration  = "Latency of authorization code exchanges"
)

// Labels
const (
	LabelPlatform  = "platform"
	LabelMode      = "mode"
	LabelStatus    = "status"
	LabelReason    = "reason"
	LabelChannel   = "channel"
	LabelOperation = "operation"
	LabelResult    = "result"
	LabelOutcome   = "outcome"
)

// Result label values
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	// AttemptDurationBuckets spans a quick popup grant up to the attempt TTL.
	AttemptDurationBuckets = []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 180, 300}
	LatencyBuckets         = []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
)
