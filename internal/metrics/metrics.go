package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "evreg"

var (
	registrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "registrations_total",
		Help:      "Registration attempts by outcome",
	}, []string{"outcome"})

	cancellationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cancellations_total",
		Help:      "Cancellation attempts by outcome",
	}, []string{"outcome"})

	checkInsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkins_total",
		Help:      "Check-in attempts by outcome",
	}, []string{"outcome"})

	seatCounterClampedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "seat_counter_clamped_total",
		Help:      "Cancellations that found the seat counter already at zero",
	})

	notificationFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notification_failures_total",
		Help:      "Notifications that could not be delivered",
	}, []string{"kind"})

	statusSweepUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "status_sweep_updates_total",
		Help:      "Event status changes written by the sweep",
	}, []string{"status"})

	rateLimiterErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limiter_errors_total",
		Help:      "Limiter calls that failed and let the request through",
	})

	statusSweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "status_sweep_duration_seconds",
		Help:      "Duration of one status sweep",
		Buckets:   prometheus.DefBuckets,
	})
)

func Registration(outcome string)         { registrationsTotal.WithLabelValues(outcome).Inc() }
func Cancellation(outcome string)         { cancellationsTotal.WithLabelValues(outcome).Inc() }
func CheckIn(outcome string)              { checkInsTotal.WithLabelValues(outcome).Inc() }
func SeatCounterClamped()                 { seatCounterClampedTotal.Inc() }
func NotificationFailed(kind string)      { notificationFailuresTotal.WithLabelValues(kind).Inc() }
func StatusSwept(status string)           { statusSweepUpdatesTotal.WithLabelValues(status).Inc() }
func StatusSweepDuration(seconds float64) { statusSweepDuration.Observe(seconds) }
func RateLimiterFailed()                  { rateLimiterErrorsTotal.Inc() }
