package events

import (
	"context"
	"sync"
	"time"

	"velosta/internal/model"

	"github.com/rs/zerolog"
)

// Type names a booking lifecycle event.
type Type string

const (
	BookingCreated  Type = "booking.created"
	BookingUpdated  Type = "booking.updated"
	BookingReturned Type = "booking.returned"
	BookingDeleted  Type = "booking.deleted"
)

// Event represents a lightweight domain event.
type Event struct {
	Type    Type
	Booking model.Booking
	// Payment is the amount collected with this event, if any.
	Payment   int64
	CreatedAt time.Time
}

// Handler reacts to an event.
type Handler func(ctx context.Context, event Event) error

// Bus provides in-process pub/sub for events.
type Bus struct {
	subscribers map[Type][]Handler
	mu          sync.RWMutex
	logger      zerolog.Logger
}

// NewBus constructs an empty bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[Type][]Handler),
		logger:      logger.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a handler for the given event types.
func (b *Bus) Subscribe(handler Handler, types ...Type) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range types {
		b.subscribers[t] = append(b.subscribers[t], handler)
	}
}

// Publish notifies subscribers of the event type.
// Handlers run synchronously; a failing handler is logged and does not stop the rest.
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			b.logger.Warn().Err(err).
				Str("type", string(event.Type)).
				Str("booking_id", event.Booking.ID).
				Msg("event handler failed")
		}
	}
}
