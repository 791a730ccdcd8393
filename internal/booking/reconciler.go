// Package booking validates booking proposals against bike availability and
// persists the accepted ones.
package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"velosta/internal/availability"
	"velosta/internal/events"
	"velosta/internal/model"
	"velosta/internal/phone"
	"velosta/internal/pricing"

	"github.com/rs/zerolog"
)

// DefaultMaxAdjustAttempts bounds how many times ProposeWithAdjust shifts a window.
const DefaultMaxAdjustAttempts = 10

// Bikes resolves bikes by id.
type Bikes interface {
	GetBike(ctx context.Context, id string) (*model.Bike, error)
}

// Store is the backend booking collection. CreateBooking and UpdateBooking
// must reject overlapping windows with a *model.ConflictError.
type Store interface {
	ListBookings(ctx context.Context, filter model.BookingFilter) ([]model.Booking, error)
	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	CreateBooking(ctx context.Context, b *model.Booking) (*model.Booking, error)
	UpdateBooking(ctx context.Context, b *model.Booking) (*model.Booking, error)
}

// Publisher receives booking lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, event events.Event)
}

// Candidate is a booking proposal as entered by staff.
type Candidate struct {
	BikeID       string
	CustomerName string
	Phone        string
	StartDate    time.Time
	EndDate      time.Time
	// TotalAmount overrides the computed price when set.
	TotalAmount *int64
	// PaidAmount defaults to zero on create and to the stored payment on edit.
	PaidAmount *int64
	Notes      string
}

// Window returns the requested interval.
func (c Candidate) Window() model.Window {
	return model.Window{Start: c.StartDate, End: c.EndDate}
}

// Adjustment reports the outcome of ProposeWithAdjust.
type Adjustment struct {
	Booking   *model.Booking
	Requested model.Window
	Adjusted  bool
	Attempts  int
}

// Reconciler owns the booking proposal workflow.
type Reconciler struct {
	bikes     Bikes
	store     Store
	resolver  *availability.Resolver
	phones    *phone.Normalizer
	pricing   pricing.Calculator
	events    Publisher
	now       func() time.Time
	maxAdjust int
	logger    zerolog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithPublisher sends lifecycle events to p.
func WithPublisher(p Publisher) Option {
	return func(r *Reconciler) { r.events = p }
}

// WithMaxAdjustAttempts bounds ProposeWithAdjust.
func WithMaxAdjustAttempts(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.maxAdjust = n
		}
	}
}

// New creates a Reconciler.
func New(bikes Bikes, store Store, phones *phone.Normalizer, logger zerolog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		bikes:     bikes,
		store:     store,
		phones:    phones,
		now:       time.Now,
		maxAdjust: DefaultMaxAdjustAttempts,
		logger:    logger.With().Str("component", "reconciler").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.resolver = availability.NewResolver(store, availability.WithClock(r.now))
	return r
}

// Check validates c and runs the overlap check without persisting anything.
// It returns the booking that Propose would create.
func (r *Reconciler) Check(ctx context.Context, c Candidate) (*model.Booking, error) {
	b, err := r.prepare(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := r.checkOverlap(ctx, b, ""); err != nil {
		return nil, err
	}
	return b, nil
}

// Propose validates c, checks it against the bike's reservations and persists it.
// It returns *model.ValidationError, *model.NotFoundError or *model.ConflictError
// for rejected proposals.
func (r *Reconciler) Propose(ctx context.Context, c Candidate) (*model.Booking, error) {
	b, err := r.Check(ctx, c)
	if err != nil {
		return nil, err
	}

	created, err := r.store.CreateBooking(ctx, b)
	if err != nil {
		if cErr, ok := model.IsConflict(err); ok {
			r.logger.Warn().
				Str("bike_id", b.BikeID).
				Time("next_available", cErr.NextAvailableDate).
				Msg("backend rejected booking as overlapping")
			return nil, cErr
		}
		return nil, fmt.Errorf("create booking: %w", err)
	}

	r.logger.Info().
		Str("booking_id", created.ID).
		Str("bike_id", created.BikeID).
		Time("start", created.StartDate).
		Time("end", created.EndDate).
		Int64("total", created.TotalAmount).
		Msg("booking created")

	r.publish(ctx, events.BookingCreated, created)
	return created, nil
}

// ProposeWithAdjust proposes c and, on conflict, re-proposes from the suggested
// next available date keeping the requested duration. The total follows the new
// dates unless c overrides it.
func (r *Reconciler) ProposeWithAdjust(ctx context.Context, c Candidate) (*Adjustment, error) {
	draft := NewDraft(c)
	result := &Adjustment{Requested: c.Window()}

	for result.Attempts < r.maxAdjust {
		result.Attempts++
		b, err := r.Propose(ctx, draft.Candidate())
		if err == nil {
			result.Booking = b
			return result, nil
		}

		cErr, ok := model.IsConflict(err)
		if !ok || cErr.NextAvailableDate.IsZero() || !cErr.NextAvailableDate.After(draft.Window().Start) {
			return nil, err
		}

		shifted := draft.ShiftTo(cErr.NextAvailableDate)
		result.Adjusted = true
		r.logger.Debug().
			Str("bike_id", c.BikeID).
			Time("start", shifted.Start).
			Time("end", shifted.End).
			Int("attempt", result.Attempts).
			Msg("shifting proposal to next available date")
	}

	return nil, fmt.Errorf("no free window after %d attempts", result.Attempts)
}

// Edit replaces the terms of an existing booking. The overlap check ignores the
// booking's own reservation. The total is recomputed when the bike or dates
// change unless c overrides it. A nil PaidAmount keeps the collected payment.
func (r *Reconciler) Edit(ctx context.Context, id string, c Candidate) (*model.Booking, error) {
	existing, err := r.store.GetBooking(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	if !existing.IsOpen() {
		return nil, model.NewValidationError("status", "returned bookings cannot be edited")
	}

	sameTerms := c.BikeID == existing.BikeID &&
		c.StartDate.Equal(existing.StartDate) &&
		c.EndDate.Equal(existing.EndDate)
	if sameTerms && c.TotalAmount == nil {
		total := existing.TotalAmount
		c.TotalAmount = &total
	}
	if c.PaidAmount == nil {
		paid := existing.PaidAmount
		c.PaidAmount = &paid
	}

	b, err := r.prepare(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := r.checkOverlap(ctx, b, id); err != nil {
		return nil, err
	}

	b.ID = existing.ID
	b.CreatedAt = existing.CreatedAt
	b.Version = existing.Version

	updated, err := r.store.UpdateBooking(ctx, b)
	if err != nil {
		if cErr, ok := model.IsConflict(err); ok {
			return nil, cErr
		}
		return nil, fmt.Errorf("update booking: %w", err)
	}

	r.logger.Info().
		Str("booking_id", updated.ID).
		Str("bike_id", updated.BikeID).
		Msg("booking updated")

	r.publish(ctx, events.BookingUpdated, updated)
	return updated, nil
}

// prepare validates c in order and builds the booking to persist.
func (r *Reconciler) prepare(ctx context.Context, c Candidate) (*model.Booking, error) {
	name := strings.TrimSpace(c.CustomerName)
	if name == "" {
		return nil, model.NewValidationError("customerName", "is required")
	}

	normalized, err := r.phones.Normalize(c.Phone)
	if err != nil {
		return nil, model.NewValidationError("phone", err.Error())
	}

	bike, err := r.bikes.GetBike(ctx, c.BikeID)
	if err != nil {
		return nil, fmt.Errorf("resolve bike: %w", err)
	}
	if bike.InMaintenance() {
		return nil, model.NewValidationError("bikeId", "bike is under maintenance")
	}

	w, err := normalizeWindow(c.StartDate, c.EndDate)
	if err != nil {
		return nil, err
	}

	total := r.pricing.Quote(bike, w).Total
	if c.TotalAmount != nil {
		total = *c.TotalAmount
	}
	if total <= 0 {
		return nil, model.NewValidationError("totalAmount", "must be greater than 0")
	}
	var paid int64
	if c.PaidAmount != nil {
		paid = *c.PaidAmount
	}
	if paid < 0 {
		return nil, model.NewValidationError("paidAmount", "must not be negative")
	}
	if paid > total {
		return nil, model.NewValidationError("paidAmount", "must not exceed totalAmount")
	}

	now := r.now()
	return &model.Booking{
		BikeID:       bike.ID,
		BikeName:     bike.Name,
		CustomerName: name,
		Phone:        normalized,
		StartDate:    w.Start,
		EndDate:      w.End,
		TotalAmount:  total,
		PaidAmount:   paid,
		Status:       model.StatusForStart(w.Start, now),
		Notes:        strings.TrimSpace(c.Notes),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (r *Reconciler) checkOverlap(ctx context.Context, b *model.Booking, excludeID string) error {
	open, err := r.resolver.OpenBookings(ctx, b.BikeID)
	if err != nil {
		return err
	}
	if hit := availability.FindConflict(open, b.Window(), excludeID); hit != nil {
		return &model.ConflictError{NextAvailableDate: hit.EndDate, Booking: hit}
	}
	return nil
}

func (r *Reconciler) publish(ctx context.Context, t events.Type, b *model.Booking) {
	if r.events == nil {
		return
	}
	r.events.Publish(ctx, events.Event{Type: t, Booking: *b})
}

// normalizeWindow rejects reversed windows and stretches an empty window to
// the one day it is billed for.
func normalizeWindow(start, end time.Time) (model.Window, error) {
	if start.IsZero() {
		return model.Window{}, model.NewValidationError("startDate", "is required")
	}
	if end.IsZero() {
		return model.Window{}, model.NewValidationError("endDate", "is required")
	}
	if end.Before(start) {
		return model.Window{}, model.NewValidationError("endDate", "must not be before startDate")
	}
	if end.Equal(start) {
		end = start.Add(model.Day)
	}
	return model.Window{Start: start, End: end}, nil
}
