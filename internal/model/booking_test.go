package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// Helper function to create a date
func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func window(start, end time.Time) Window {
	return Window{Start: start, End: end}
}

func TestWindow_Overlaps(t *testing.T) {
	base := window(day(2025, 1, 1), day(2025, 1, 5))

	tests := []struct {
		name     string
		other    Window
		expected bool
	}{
		{"identical", base, true},
		{"starts inside", window(day(2025, 1, 3), day(2025, 1, 6)), true},
		{"ends inside", window(day(2024, 12, 30), day(2025, 1, 2)), true},
		{"encloses", window(day(2024, 12, 1), day(2025, 2, 1)), true},
		{"enclosed", window(day(2025, 1, 2), day(2025, 1, 3)), true},
		{"back-to-back after", window(day(2025, 1, 5), day(2025, 1, 8)), false},
		{"back-to-back before", window(day(2024, 12, 28), day(2025, 1, 1)), false},
		{"disjoint", window(day(2025, 2, 1), day(2025, 2, 3)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, base.Overlaps(tt.other))
			assert.Equal(t, tt.expected, tt.other.Overlaps(base), "overlap must be symmetric")
		})
	}
}

func TestWindow_Contains(t *testing.T) {
	w := window(day(2025, 1, 1), day(2025, 1, 5))

	assert.True(t, w.Contains(day(2025, 1, 1)), "start is inclusive")
	assert.True(t, w.Contains(day(2025, 1, 4).Add(23*time.Hour)))
	assert.False(t, w.Contains(day(2025, 1, 5)), "end is exclusive")
	assert.False(t, w.Contains(day(2024, 12, 31)))
}

func TestWindow_ShiftTo(t *testing.T) {
	w := window(day(2025, 1, 3), day(2025, 1, 6))
	shifted := w.ShiftTo(day(2025, 1, 5))

	assert.Equal(t, day(2025, 1, 5), shifted.Start)
	assert.Equal(t, day(2025, 1, 8), shifted.End)
	assert.Equal(t, w.Duration(), shifted.Duration())
}

func TestBooking_StatusAt(t *testing.T) {
	now := day(2025, 1, 3)

	tests := []struct {
		name     string
		booking  Booking
		expected BookingStatus
	}{
		{
			name:     "future start is upcoming",
			booking:  Booking{StartDate: day(2025, 1, 10), EndDate: day(2025, 1, 12), Status: BookingUpcoming},
			expected: BookingUpcoming,
		},
		{
			name:     "started upcoming becomes active",
			booking:  Booking{StartDate: day(2025, 1, 1), EndDate: day(2025, 1, 5), Status: BookingUpcoming},
			expected: BookingActive,
		},
		{
			name:     "start equal to now is active",
			booking:  Booking{StartDate: now, EndDate: day(2025, 1, 5), Status: BookingUpcoming},
			expected: BookingActive,
		},
		{
			name:     "returned stays returned",
			booking:  Booking{StartDate: day(2025, 1, 10), EndDate: day(2025, 1, 12), Status: BookingReturned},
			expected: BookingReturned,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.booking.StatusAt(now))
		})
	}
}

func TestBooking_IsOverdue(t *testing.T) {
	b := Booking{StartDate: day(2025, 1, 1), EndDate: day(2025, 1, 3), Status: BookingActive}

	assert.False(t, b.IsOverdue(day(2025, 1, 2)))
	assert.True(t, b.IsOverdue(day(2025, 1, 3)))

	b.Status = BookingReturned
	assert.False(t, b.IsOverdue(day(2025, 1, 4)))
}

func TestBooking_Balance(t *testing.T) {
	assert.Equal(t, int64(400), (&Booking{TotalAmount: 1000, PaidAmount: 600}).Balance())
	assert.Equal(t, int64(0), (&Booking{TotalAmount: 1000, PaidAmount: 1000}).Balance())
}

func TestCeilDays(t *testing.T) {
	tests := []struct {
		in       time.Duration
		expected int
	}{
		{0, 0},
		{-time.Hour, 0},
		{time.Minute, 1},
		{Day, 1},
		{Day + time.Second, 2},
		{3 * Day, 3},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, CeilDays(tt.in), tt.in.String())
	}
}

func TestOccupied(t *testing.T) {
	current := &Booking{ID: "b1", StartDate: day(2025, 1, 1), EndDate: day(2025, 1, 5)}
	asOf := day(2025, 1, 2).Add(12 * time.Hour)

	snap := Occupied("bike-1", current, asOf)

	assert.False(t, snap.IsAvailableNow)
	assert.Equal(t, current, snap.CurrentBooking)
	if assert.NotNil(t, snap.NextAvailableDate) {
		assert.Equal(t, day(2025, 1, 5), *snap.NextAvailableDate)
	}
	if assert.NotNil(t, snap.ReturnInDays) {
		assert.Equal(t, 3, *snap.ReturnInDays)
	}
}
