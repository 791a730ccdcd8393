package model

import (
	"time"
)

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingUpcoming BookingStatus = "UPCOMING"
	BookingActive   BookingStatus = "ACTIVE"
	BookingReturned BookingStatus = "RETURNED"
)

// Valid reports whether s is a known booking status.
func (s BookingStatus) Valid() bool {
	switch s {
	case BookingUpcoming, BookingActive, BookingReturned:
		return true
	}
	return false
}

// OpenStatuses are the statuses that still hold a reservation on a bike.
var OpenStatuses = []BookingStatus{BookingActive, BookingUpcoming}

// Day is the pricing and scheduling unit.
const Day = 24 * time.Hour

// Window is the half-open interval [Start, End) a booking occupies on a bike.
type Window struct {
	Start time.Time `json:"startDate"`
	End   time.Time `json:"endDate"`
}

// Duration returns the raw length of the window.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Overlaps reports whether two windows intersect.
// Two intervals [A, B) and [C, D) overlap if A < D && C < B, so back-to-back
// windows do not overlap.
func (w Window) Overlaps(other Window) bool {
	return w.Start.Before(other.End) && other.Start.Before(w.End)
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// ShiftTo moves the window to start at start, keeping its duration.
func (w Window) ShiftTo(start time.Time) Window {
	return Window{Start: start, End: start.Add(w.Duration())}
}

// Booking represents a bike rental.
type Booking struct {
	ID           string        `json:"id"`
	BikeID       string        `json:"bikeId"`
	BikeName     string        `json:"bikeName,omitempty"`
	CustomerName string        `json:"customerName"`
	Phone        string        `json:"phone"`
	StartDate    time.Time     `json:"startDate"`
	EndDate      time.Time     `json:"endDate"`
	TotalAmount  int64         `json:"totalAmount"`
	PaidAmount   int64         `json:"paidAmount"`
	Status       BookingStatus `json:"status"`
	Notes        string        `json:"notes,omitempty"`
	ReturnedAt   *time.Time    `json:"returnedAt,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
	Version      int64         `json:"version"`
}

// Window returns the interval occupied by the booking.
func (b *Booking) Window() Window {
	return Window{Start: b.StartDate, End: b.EndDate}
}

// OverlapsWith checks if this booking overlaps with another booking.
func (b *Booking) OverlapsWith(other *Booking) bool {
	return b.Window().Overlaps(other.Window())
}

// Contains reports whether the booking window covers t.
func (b *Booking) Contains(t time.Time) bool {
	return b.Window().Contains(t)
}

// IsOpen reports whether the booking still reserves its bike.
func (b *Booking) IsOpen() bool {
	return b.Status != BookingReturned
}

// Balance is the amount still owed.
func (b *Booking) Balance() int64 {
	if b.PaidAmount >= b.TotalAmount {
		return 0
	}
	return b.TotalAmount - b.PaidAmount
}

// StatusAt derives the status of an open booking relative to now.
// Returned bookings stay returned.
func (b *Booking) StatusAt(now time.Time) BookingStatus {
	if b.Status == BookingReturned {
		return BookingReturned
	}
	return StatusForStart(b.StartDate, now)
}

// IsOverdue reports whether an open booking has passed its end without a return.
func (b *Booking) IsOverdue(now time.Time) bool {
	return b.IsOpen() && !now.Before(b.EndDate)
}

// StatusForStart returns UPCOMING for a window starting after now, ACTIVE otherwise.
func StatusForStart(start, now time.Time) BookingStatus {
	if start.After(now) {
		return BookingUpcoming
	}
	return BookingActive
}

// CeilDays converts a duration to whole days, rounding up.
func CeilDays(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	days := int(d / Day)
	if d%Day != 0 {
		days++
	}
	return days
}

// BookingFilter narrows a booking listing. Zero values match everything.
type BookingFilter struct {
	BikeID   string
	Statuses []BookingStatus
}

// Matches reports whether b passes the filter.
func (f BookingFilter) Matches(b *Booking) bool {
	if f.BikeID != "" && b.BikeID != f.BikeID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if b.Status == s {
			return true
		}
	}
	return false
}
