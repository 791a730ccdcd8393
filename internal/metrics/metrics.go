package metrics

import (
	"context"
	"strconv"
	"sync"

	"velosta/internal/events"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "velosta"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Count of API requests by handler.",
		},
		[]string{"handler"},
	)

	httpResponses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_responses_total",
			Help:      "Count of API responses by handler and status code.",
		},
		[]string{"handler", "code"},
	)

	bookingEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_events_total",
			Help:      "Count of booking lifecycle events by type.",
		},
		[]string{"type"},
	)

	bookingConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_conflicts_total",
			Help:      "Count of booking proposals rejected for overlapping an existing reservation.",
		},
	)

	autoAdjustments = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_auto_adjustments_total",
			Help:      "Count of bookings accepted after shifting to the next available date.",
		},
	)

	paymentsCollected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_collected_total",
			Help:      "Sum of additional payments collected at return, in currency units.",
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpResponses,
			bookingEvents,
			bookingConflicts,
			autoAdjustments,
			paymentsCollected,
		)
	})
}

func IncHTTP(handler string) {
	httpRequests.WithLabelValues(handler).Inc()
}

func IncHTTPResponse(handler string, code int) {
	httpResponses.WithLabelValues(handler, strconv.Itoa(code)).Inc()
}

func IncConflict() {
	bookingConflicts.Inc()
}

func IncAutoAdjusted() {
	autoAdjustments.Inc()
}

// HandleEvent counts booking lifecycle events. It has the events.Handler signature.
func HandleEvent(_ context.Context, e events.Event) error {
	bookingEvents.WithLabelValues(string(e.Type)).Inc()
	if e.Type == events.BookingReturned && e.Payment > 0 {
		paymentsCollected.Add(float64(e.Payment))
	}
	return nil
}

// Subscribe attaches HandleEvent to every booking event on bus.
func Subscribe(bus *events.Bus) {
	bus.Subscribe(HandleEvent,
		events.BookingCreated,
		events.BookingUpdated,
		events.BookingReturned,
		events.BookingDeleted,
	)
}
