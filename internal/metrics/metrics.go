package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomwatch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roomwatch_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)

	// Transport metrics
	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomwatch_messages_received_total",
			Help: "Total number of telemetry messages received",
		},
		[]string{"transport"},
	)

	ParseErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomwatch_parse_errors_total",
			Help: "Total number of telemetry messages dropped as malformed",
		},
		[]string{"reason"},
	)

	// Queue metrics
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "roomwatch_queue_depth",
			Help: "Current number of buffered items per pool",
		},
		[]string{"pool"},
	)

	QueueDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomwatch_queue_dropped_total",
			Help: "Items dropped by backpressure policy",
		},
		[]string{"pool", "reason"}, // reason: drop_oldest, timeout
	)

	// Coordinator metrics
	ReadingsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomwatch_readings_processed_total",
			Help: "Total number of readings taken through the alert pipeline",
		},
		[]string{"outcome"}, // outcome: completed, degraded, invalid
	)

	ProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "roomwatch_processing_duration_seconds",
			Help:    "Time taken to process one reading",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	RulesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomwatch_rules_skipped_total",
			Help: "Rules skipped because of configuration errors",
		},
	)

	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomwatch_alerts_total",
			Help: "Alert decisions by status",
		},
		[]string{"kind", "status"}, // kind: custom, system; status: fired, suppressed
	)

	SinkFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomwatch_sink_failures_total",
			Help: "Failures writing to downstream sinks",
		},
		[]string{"sink"}, // sink: rules, recorder, telemetry, feed, contacts
	)

	// Notification metrics
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomwatch_notifications_total",
			Help: "Notification attempts by channel and status",
		},
		[]string{"channel", "status"}, // status: succeeded, failed, rate_limited
	)

	NotificationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roomwatch_notification_duration_seconds",
			Help:    "Time taken per channel delivery attempt",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		},
		[]string{"channel"},
	)

	// Kafka alert feed metrics
	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomwatch_kafka_publish_total",
			Help: "Total number of alert events published to Kafka",
		},
		[]string{"status"},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomwatch_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
