package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Call lifecycle and signaling metrics
var (
	// Lifecycle metrics
	CallsInitiatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_initiated_total",
		Help: "Total number of calls initiated",
	}, []string{"call_type"})

	CallOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_operations_total",
		Help: "Total number of call lifecycle operations",
	}, []string{"operation", "status"}) // operation: accept, reject, cancel, leave, end

	CallsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "calls_active",
		Help: "Current number of calls in RINGING or ACTIVE status",
	})

	CallRecordWriteConflictTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_record_write_conflict_total",
		Help: "Total number of versioned call-record writes retried on conflict",
	})

	// Media provider metrics
	MediaProviderRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "media_provider_request_duration_seconds",
		Help:    "Latency of media session provider calls",
		Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"operation"}) // "create_meeting", "create_attendee", "delete_meeting"

	MediaProviderErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_provider_errors_total",
		Help: "Total number of failed media session provider calls",
	}, []string{"operation"})

	// Notification fan-out metrics
	NotificationsDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_notifications_delivered_total",
		Help: "Total number of lifecycle notifications delivered",
	}, []string{"event_type", "transport"}) // transport: "live", "broadcast"

	NotificationsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_notifications_dropped_total",
		Help: "Total number of lifecycle notifications that could not be delivered",
	}, []string{"event_type"})

	// Signaling gateway metrics
	SignalingConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signaling_connections",
		Help: "Current number of live signaling connections",
	})

	SignalingEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaling_events_total",
		Help: "Total number of client signaling events processed",
	}, []string{"event", "status"}) // status: "ok", "error"

	SignalingSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signaling_sessions_active",
		Help: "Current number of ephemeral signaling sessions",
	})
)
