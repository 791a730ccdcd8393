// Package availability decides whether a bike is free now and which
// reservation stands in the way of a requested window.
package availability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"velosta/internal/model"
)

// BookingLister lists bookings held by the backend.
type BookingLister interface {
	ListBookings(ctx context.Context, filter model.BookingFilter) ([]model.Booking, error)
}

// Resolver computes availability snapshots from the backend booking list.
type Resolver struct {
	bookings BookingLister
	now      func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a Resolver over bookings.
func NewResolver(bookings BookingLister, opts ...Option) *Resolver {
	r := &Resolver{bookings: bookings, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Now returns the resolver clock.
func (r *Resolver) Now() time.Time {
	return r.now()
}

// Resolve returns the snapshot for bikeID as of now.
func (r *Resolver) Resolve(ctx context.Context, bikeID string) (model.AvailabilitySnapshot, error) {
	return r.ResolveAt(ctx, bikeID, r.now())
}

// ResolveAt returns the snapshot for bikeID as of asOf.
func (r *Resolver) ResolveAt(ctx context.Context, bikeID string, asOf time.Time) (model.AvailabilitySnapshot, error) {
	open, err := r.OpenBookings(ctx, bikeID)
	if err != nil {
		return model.AvailabilitySnapshot{}, err
	}
	return Snapshot(bikeID, open, asOf), nil
}

// OpenBookings fetches the ACTIVE and UPCOMING bookings of a bike sorted by start.
func (r *Resolver) OpenBookings(ctx context.Context, bikeID string) ([]model.Booking, error) {
	list, err := r.bookings.ListBookings(ctx, model.BookingFilter{
		BikeID:   bikeID,
		Statuses: model.OpenStatuses,
	})
	if err != nil {
		return nil, fmt.Errorf("list bookings for bike %s: %w", bikeID, err)
	}

	open := make([]model.Booking, 0, len(list))
	for i := range list {
		// Backends may ignore filters; never trust them for correctness.
		if list[i].BikeID != bikeID || !list[i].IsOpen() {
			continue
		}
		open = append(open, list[i])
	}
	sort.SliceStable(open, func(i, j int) bool {
		return open[i].StartDate.Before(open[j].StartDate)
	})
	return open, nil
}

// Snapshot computes availability at asOf from a bike's open bookings.
// When several bookings contain asOf the one ending last is reported, which
// gives the most conservative next available date.
func Snapshot(bikeID string, open []model.Booking, asOf time.Time) model.AvailabilitySnapshot {
	var current *model.Booking
	for i := range open {
		b := &open[i]
		if !b.IsOpen() || !b.Contains(asOf) {
			continue
		}
		if current == nil || b.EndDate.After(current.EndDate) {
			current = b
		}
	}
	if current == nil {
		return model.Free(bikeID, asOf)
	}
	held := *current
	return model.Occupied(bikeID, &held, asOf)
}

// FindConflict returns the open booking that collides with w, ignoring the
// booking with id excludeID. Among several collisions the one ending last wins.
func FindConflict(open []model.Booking, w model.Window, excludeID string) *model.Booking {
	var hit *model.Booking
	for i := range open {
		b := &open[i]
		if !b.IsOpen() || (excludeID != "" && b.ID == excludeID) {
			continue
		}
		if !w.Overlaps(b.Window()) {
			continue
		}
		if hit == nil || b.EndDate.After(hit.EndDate) {
			hit = b
		}
	}
	if hit == nil {
		return nil
	}
	found := *hit
	return &found
}
