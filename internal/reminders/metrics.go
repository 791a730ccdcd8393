package reminders

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the reminder system.
type Metrics struct {
	// RemindersSentTotal counts digest sends by outcome and digest type.
	RemindersSentTotal *prometheus.CounterVec

	// BookingsListed is the number of bookings in the last digest, by kind.
	BookingsListed *prometheus.GaugeVec

	// ReminderSendDuration is the time to deliver one digest to one chat.
	ReminderSendDuration prometheus.Histogram

	// ReminderRetries is the total number of retry attempts.
	ReminderRetries prometheus.Counter

	// RateLimitWaits counts sends that had to wait for the local limiter.
	RateLimitWaits prometheus.Counter
}

// NewMetrics creates reminder metrics and registers them with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RemindersSentTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reminders_sent_total",
				Help:      "Total number of reminder digests sent",
			},
			[]string{"status", "digest_type"},
		),

		BookingsListed: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "reminders_bookings_listed",
				Help:      "Bookings listed in the last reminder digest",
			},
			[]string{"kind"},
		),

		ReminderSendDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reminder_send_duration_seconds",
				Help:      "Time to send a reminder",
				Buckets:   []float64{.01, .05, .1, .5, 1, 2, 5},
			},
		),

		ReminderRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reminder_retries_total",
				Help:      "Total number of retry attempts",
			},
		),

		RateLimitWaits: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_waits_total",
				Help:      "Total number of rate limit waits",
			},
		),
	}
}

func (m *Metrics) incSent(status string, t DigestType) {
	if m == nil {
		return
	}
	m.RemindersSentTotal.WithLabelValues(status, string(t)).Inc()
}

func (m *Metrics) setListed(due, overdue int) {
	if m == nil {
		return
	}
	m.BookingsListed.WithLabelValues("due").Set(float64(due))
	m.BookingsListed.WithLabelValues("overdue").Set(float64(overdue))
}

func (m *Metrics) observeSend(seconds float64) {
	if m == nil {
		return
	}
	m.ReminderSendDuration.Observe(seconds)
}

func (m *Metrics) incRetries() {
	if m == nil {
		return
	}
	m.ReminderRetries.Inc()
}

func (m *Metrics) incRateLimitWaits() {
	if m == nil {
		return
	}
	m.RateLimitWaits.Inc()
}
