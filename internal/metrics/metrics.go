// Package metrics provides Prometheus metrics for the signaling service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveRooms tracks rooms currently materialized in the registry.
	ActiveRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signaling_active_rooms",
			Help: "Number of rooms currently held in memory",
		},
	)

	// ConnectedParticipants tracks joined participants across all rooms.
	ConnectedParticipants = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signaling_connected_participants",
			Help: "Number of participants currently joined to a room",
		},
	)

	// RoomsClosed counts room closures by reason.
	RoomsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signaling_rooms_closed_total",
			Help: "Total number of rooms closed",
		},
		[]string{"reason"},
	)

	// CallsStarted counts accepted calls by call type.
	CallsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signaling_calls_started_total",
			Help: "Total number of accepted calls",
		},
		[]string{"call_type"},
	)

	// CallsEnded counts finished ring or call phases by outcome.
	CallsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signaling_calls_ended_total",
			Help: "Total number of ended calls by outcome",
		},
		[]string{"outcome"},
	)

	// CallDuration observes call durations as persisted.
	CallDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "signaling_call_duration_seconds",
			Help:    "Duration of completed calls",
			Buckets: []float64{5, 15, 30, 60, 300, 900, 1800, 3600, 10800},
		},
	)

	// Frames counts inbound signaling frames by type.
	Frames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signaling_frames_total",
			Help: "Total number of inbound signaling frames",
		},
		[]string{"type"},
	)

	// DroppedFrames counts inbound frames dropped by reason.
	DroppedFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signaling_dropped_frames_total",
			Help: "Total number of dropped inbound frames",
		},
		[]string{"reason"},
	)

	// StoreErrors counts persistence failures by operation.
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signaling_store_errors_total",
			Help: "Total number of session store failures",
		},
		[]string{"op"},
	)

	// ICEProviderErrors counts relay credential provider failures.
	ICEProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signaling_ice_provider_errors_total",
			Help: "Total number of relay credential provider failures",
		},
		[]string{"provider"},
	)

	// ObserverEventsDropped counts observer events not delivered to a slow subscriber.
	ObserverEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signaling_observer_events_dropped_total",
			Help: "Total number of observer events dropped",
		},
		[]string{"sink"},
	)

	// HTTPRequests counts HTTP requests by route and status.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signaling_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPDuration observes HTTP handler latency.
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signaling_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordCallEnded records the outcome and, for completed calls, the duration.
func RecordCallEnded(outcome string, duration *float64) {
	CallsEnded.WithLabelValues(outcome).Inc()
	if duration != nil {
		CallDuration.Observe(*duration)
	}
}
