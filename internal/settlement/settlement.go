// Package settlement closes bookings when the bike comes back.
package settlement

import (
	"context"
	"fmt"

	"velosta/internal/events"
	"velosta/internal/model"

	"github.com/rs/zerolog"
)

// Store loads and closes bookings on the backend.
type Store interface {
	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	ReturnBooking(ctx context.Context, id string, additionalPayment int64) (*model.Booking, error)
}

// Publisher receives booking lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, event events.Event)
}

// Service marks bookings returned.
type Service struct {
	store  Store
	events Publisher
	logger zerolog.Logger
}

// New creates a settlement Service. pub may be nil.
func New(store Store, pub Publisher, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		events: pub,
		logger: logger.With().Str("component", "settlement").Logger(),
	}
}

// MarkReturned records additionalPayment and closes the booking.
// The payment must not be negative and must not exceed the outstanding balance.
// Settling a booking twice fails with a validation error and changes nothing.
func (s *Service) MarkReturned(ctx context.Context, id string, additionalPayment int64) (*model.Booking, error) {
	if additionalPayment < 0 {
		return nil, model.NewValidationError("additionalPayment", "must not be negative")
	}

	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	if b.Status == model.BookingReturned {
		return nil, model.NewValidationError("status", model.ReasonAlreadyReturned)
	}
	if balance := b.Balance(); additionalPayment > balance {
		return nil, model.NewValidationError("additionalPayment",
			fmt.Sprintf("exceeds outstanding balance of %d", balance))
	}

	returned, err := s.store.ReturnBooking(ctx, id, additionalPayment)
	if err != nil {
		return nil, fmt.Errorf("return booking: %w", err)
	}

	s.logger.Info().
		Str("booking_id", returned.ID).
		Str("bike_id", returned.BikeID).
		Int64("payment", additionalPayment).
		Int64("paid", returned.PaidAmount).
		Msg("booking returned")

	if s.events != nil {
		s.events.Publish(ctx, events.Event{
			Type:    events.BookingReturned,
			Booking: *returned,
			Payment: additionalPayment,
		})
	}
	return returned, nil
}
