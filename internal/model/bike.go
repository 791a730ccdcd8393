package model

import "time"

// BikeStatus is the coarse fleet status of a bike.
type BikeStatus string

const (
	BikeAvailable   BikeStatus = "AVAILABLE"
	BikeRented      BikeStatus = "RENTED"
	BikeMaintenance BikeStatus = "MAINTENANCE"
)

// Valid reports whether s is a known bike status.
func (s BikeStatus) Valid() bool {
	switch s {
	case BikeAvailable, BikeRented, BikeMaintenance:
		return true
	}
	return false
}

// Bike represents a rentable bike in the fleet.
type Bike struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	RegistrationNumber string     `json:"registrationNumber"`
	DailyRate          int64      `json:"dailyRate"`
	// Status is owned by the backend. RENTED is derived from an ACTIVE booking
	// whose window contains now and is never written by clients.
	Status    BikeStatus `json:"status"`
	CreatedAt time.Time  `json:"createdAt,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt,omitempty"`
}

// InMaintenance reports whether the bike is taken out of service.
func (b *Bike) InMaintenance() bool {
	return b.Status == BikeMaintenance
}
