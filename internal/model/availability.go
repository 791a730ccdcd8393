package model

import "time"

// AvailabilitySnapshot is a point-in-time availability computation for one bike.
// It is never persisted.
type AvailabilitySnapshot struct {
	BikeID            string     `json:"bikeId"`
	IsAvailableNow    bool       `json:"isAvailableNow"`
	CurrentBooking    *Booking   `json:"currentBooking,omitempty"`
	NextAvailableDate *time.Time `json:"nextAvailableDate,omitempty"`
	ReturnInDays      *int       `json:"returnInDays,omitempty"`
	AsOf              time.Time  `json:"asOf"`
}

// Occupied builds the snapshot of a bike held by current until its end.
func Occupied(bikeID string, current *Booking, asOf time.Time) AvailabilitySnapshot {
	next := current.EndDate
	days := CeilDays(next.Sub(asOf))
	return AvailabilitySnapshot{
		BikeID:            bikeID,
		IsAvailableNow:    false,
		CurrentBooking:    current,
		NextAvailableDate: &next,
		ReturnInDays:      &days,
		AsOf:              asOf,
	}
}

// Free builds the snapshot of a bike nobody holds at asOf.
func Free(bikeID string, asOf time.Time) AvailabilitySnapshot {
	return AvailabilitySnapshot{BikeID: bikeID, IsAvailableNow: true, AsOf: asOf}
}
