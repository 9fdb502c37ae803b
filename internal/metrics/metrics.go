package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fitpass"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint and status class.",
		},
		[]string{"endpoint", "status"},
	)

	ordersCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Payment order intents created by listing kind.",
		},
		[]string{"kind"},
	)

	paymentVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_verifications_total",
			Help:      "Payment proof verifications by result.",
		},
		[]string{"result"},
	)

	bookingsMaterialized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_materialized_total",
			Help:      "Bookings committed after a verified payment.",
		},
		[]string{"kind"},
	)

	bookingRevenue = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_revenue_minor_total",
			Help:      "Booking amounts in minor currency units split by party.",
		},
		[]string{"party"},
	)

	codeCollisions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_code_collisions_total",
			Help:      "Booking code collisions retried during materialization.",
		},
	)

	reconciliations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliations_total",
			Help:      "Paid orders that could not be fulfilled.",
		},
		[]string{"reason"},
	)

	checkIns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkins_total",
			Help:      "Pass check-in attempts by result.",
		},
		[]string{"result"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Booking notifications by channel and result.",
		},
		[]string{"channel", "result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			ordersCreated,
			paymentVerifications,
			bookingsMaterialized,
			bookingRevenue,
			codeCollisions,
			reconciliations,
			checkIns,
			notifications,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint, status string) {
	httpRequests.WithLabelValues(endpoint, status).Inc()
}

func IncOrderCreated(kind string) {
	ordersCreated.WithLabelValues(kind).Inc()
}

// IncPaymentVerification records "ok" or "forged".
func IncPaymentVerification(result string) {
	paymentVerifications.WithLabelValues(result).Inc()
}

// ObserveBooking counts a committed booking and its fee split.
func ObserveBooking(kind string, platformFeeMinor, ownerPayoutMinor int64) {
	bookingsMaterialized.WithLabelValues(kind).Inc()
	bookingRevenue.WithLabelValues("platform").Add(float64(platformFeeMinor))
	bookingRevenue.WithLabelValues("owner").Add(float64(ownerPayoutMinor))
}

func IncCodeCollision() {
	codeCollisions.Inc()
}

func IncReconciliation(reason string) {
	reconciliations.WithLabelValues(reason).Inc()
}

func IncCheckIn(result string) {
	checkIns.WithLabelValues(result).Inc()
}

func IncNotification(channel, result string) {
	notifications.WithLabelValues(channel, result).Inc()
}
