package api

import (
	"net/http"
	"time"

	"velosta/internal/booking"
	"velosta/internal/model"
	"velosta/internal/pricing"
)

// DashboardResponse summarizes the fleet and open bookings.
type DashboardResponse struct {
	TotalBikes         int       `json:"totalBikes"`
	AvailableBikes     int       `json:"availableBikes"`
	RentedBikes        int       `json:"rentedBikes"`
	MaintenanceBikes   int       `json:"maintenanceBikes"`
	ActiveBookings     int       `json:"activeBookings"`
	UpcomingBookings   int       `json:"upcomingBookings"`
	OverdueReturns     int       `json:"overdueReturns"`
	OutstandingBalance int64     `json:"outstandingBalance"`
	Currency           string    `json:"currency"`
	AsOf               time.Time `json:"asOf"`
}

// QuoteResponse is a priced window for a bike.
type QuoteResponse struct {
	pricing.Quote
	BikeID     string    `json:"bikeId"`
	StartDate  time.Time `json:"startDate"`
	EndDate    time.Time `json:"endDate"`
	Overridden bool      `json:"overridden"`
	Currency   string    `json:"currency"`
}

// GET /api/dashboard
func (s *HTTPServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	counts, err := s.deps.Catalog.CountByStatus(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	open, err := s.deps.Backend.ListBookings(r.Context(), model.BookingFilter{Statuses: model.OpenStatuses})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	now := s.deps.Resolver.Now()
	resp := DashboardResponse{
		AvailableBikes:   counts[model.BikeAvailable],
		RentedBikes:      counts[model.BikeRented],
		MaintenanceBikes: counts[model.BikeMaintenance],
		Currency:         s.cfg.Currency,
		AsOf:             now,
	}
	resp.TotalBikes = resp.AvailableBikes + resp.RentedBikes + resp.MaintenanceBikes

	for i := range open {
		b := &open[i]
		switch b.StatusAt(now) {
		case model.BookingActive:
			resp.ActiveBookings++
		case model.BookingUpcoming:
			resp.UpcomingBookings++
		}
		if b.IsOverdue(now) {
			resp.OverdueReturns++
		}
		resp.OutstandingBalance += b.Balance()
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /api/quote
func (s *HTTPServer) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := s.decode(w, r, &req, false); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if req.EndDate.Before(req.StartDate) {
		s.writeDomainError(w, r, model.NewValidationError("endDate", "must not be before startDate"))
		return
	}

	bike, err := s.deps.Directory.GetBike(r.Context(), req.BikeID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	draft := booking.NewDraft(booking.Candidate{
		BikeID:      bike.ID,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		TotalAmount: req.TotalAmount,
	})
	draft.SetBike(bike)

	writeJSON(w, http.StatusOK, QuoteResponse{
		Quote:      draft.Quote(),
		BikeID:     bike.ID,
		StartDate:  req.StartDate,
		EndDate:    req.EndDate,
		Overridden: req.TotalAmount != nil,
		Currency:   s.cfg.Currency,
	})
}
