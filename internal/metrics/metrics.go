package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "booking_api_request_duration_seconds",
			Help:    "HTTP request duration by route and status",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "route", "status"},
	)

	// Booking
	BookingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_reservations_created_total",
			Help: "Reservation create attempts by result",
		},
		[]string{"result"},
	)

	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_reservation_transitions_total",
			Help: "Reservation status transitions by target status and result",
		},
		[]string{"status", "result"},
	)

	StorageRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "booking_storage_retries_total",
			Help: "Read operations retried after a transient storage failure",
		},
	)

	// Real-time delivery
	StreamConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "booking_stream_connections",
			Help: "Open event stream connections by role",
		},
		[]string{"role"},
	)

	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_events_delivered_total",
			Help: "Event deliveries per recipient key by outcome (live, remote, pending, dropped)",
		},
		[]string{"outcome"},
	)

	PendingDrained = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "booking_pending_events_drained_total",
			Help: "Backlogged events replayed to reconnecting clients",
		},
	)

	PendingCorrupt = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "booking_pending_events_corrupt_total",
			Help: "Backlog entries discarded because they could not be decoded",
		},
	)

	HeartbeatEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "booking_stream_heartbeat_evictions_total",
			Help: "Connections closed for inactivity",
		},
	)

	// Notifications
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_notifications_total",
			Help: "Outbound notifications by template and result",
		},
		[]string{"template", "result"},
	)

	NotificationBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "booking_notification_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// Outcomes recorded on EventsDelivered.
const (
	OutcomeLive    = "live"
	OutcomePending = "pending"
	OutcomeDropped = "dropped"
	OutcomeRemote  = "remote"
)

func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}

// RecordBooking counts a create attempt. result is "created" or the error kind.
func RecordBooking(result string) {
	BookingsTotal.WithLabelValues(result).Inc()
}

func RecordTransition(status string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	TransitionsTotal.WithLabelValues(status, result).Inc()
}

func RecordDelivery(outcome string) {
	EventsDelivered.WithLabelValues(outcome).Inc()
}

func RecordNotification(template string, err error) {
	result := "sent"
	if err != nil {
		result = "failed"
	}
	NotificationsTotal.WithLabelValues(template, result).Inc()
}
