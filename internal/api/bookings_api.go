package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"velosta/internal/events"
	"velosta/internal/export"
	"velosta/internal/metrics"
	"velosta/internal/model"
)

const maxPageSize = 200

// createBookingResponse is the created booking plus what auto-adjust did to it.
type createBookingResponse struct {
	*model.Booking
	Adjusted  bool          `json:"adjusted,omitempty"`
	Requested *model.Window `json:"requestedWindow,omitempty"`
	Attempts  int           `json:"attempts,omitempty"`
}

func (s *HTTPServer) bookingFilter(r *http.Request) (model.BookingFilter, error) {
	q := r.URL.Query()
	statuses, err := parseStatuses(q.Get("status"))
	if err != nil {
		return model.BookingFilter{}, err
	}
	return model.BookingFilter{BikeID: q.Get("bikeId"), Statuses: statuses}, nil
}

// GET /api/bookings?status=active,upcoming&bikeId=...
func (s *HTTPServer) handleListBookings(w http.ResponseWriter, r *http.Request) {
	filter, err := s.bookingFilter(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	bookings, err := s.deps.Backend.ListBookings(r.Context(), filter)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if bookings == nil {
		bookings = []model.Booking{}
	}

	q := r.URL.Query()
	if q.Get("pageSize") == "" {
		writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
		return
	}
	page, size, err := pageParams(q.Get("page"), q.Get("pageSize"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	pages := (len(bookings) + size - 1) / size
	start := min(page*size, len(bookings))
	end := min(start+size, len(bookings))
	writeJSON(w, http.StatusOK, map[string]any{
		"bookings": bookings[start:end],
		"page":     page,
		"pages":    pages,
		"total":    len(bookings),
	})
}

// pageParams parses a zero-based page and a page size capped at maxPageSize.
func pageParams(rawPage, rawSize string) (page, size int, err error) {
	size, err = strconv.Atoi(rawSize)
	if err != nil || size < 1 || size > maxPageSize {
		return 0, 0, model.NewValidationError("pageSize", fmt.Sprintf("must be between 1 and %d", maxPageSize))
	}
	if rawPage == "" {
		return 0, size, nil
	}
	page, err = strconv.Atoi(rawPage)
	if err != nil || page < 0 {
		return 0, 0, model.NewValidationError("page", "must be a non-negative integer")
	}
	return page, size, nil
}

// GET /api/bookings/{id}
func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := s.deps.Backend.GetBooking(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// POST /api/bookings[?autoAdjust=true]
func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req bookingRequest
	if err := s.decode(w, r, &req, false); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	if r.URL.Query().Get("autoAdjust") != "true" {
		b, err := s.deps.Reconciler.Propose(r.Context(), req.candidate())
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, createBookingResponse{Booking: b})
		return
	}

	adj, err := s.deps.Reconciler.ProposeWithAdjust(r.Context(), req.candidate())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	resp := createBookingResponse{Booking: adj.Booking, Adjusted: adj.Adjusted}
	if adj.Adjusted {
		metrics.IncAutoAdjusted()
		requested := adj.Requested
		resp.Requested = &requested
		resp.Attempts = adj.Attempts
	}
	writeJSON(w, http.StatusCreated, resp)
}

// POST /api/bookings/check validates a proposal without saving it.
func (s *HTTPServer) handleCheckBooking(w http.ResponseWriter, r *http.Request) {
	var req bookingRequest
	if err := s.decode(w, r, &req, false); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	b, err := s.deps.Reconciler.Check(r.Context(), req.candidate())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// PUT /api/bookings/{id}
func (s *HTTPServer) handleUpdateBooking(w http.ResponseWriter, r *http.Request) {
	var req bookingRequest
	if err := s.decode(w, r, &req, false); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	b, err := s.deps.Reconciler.Edit(r.Context(), r.PathValue("id"), req.candidate())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// PATCH /api/bookings/{id}/returned
func (s *HTTPServer) handleReturnBooking(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if err := s.decode(w, r, &req, true); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	b, err := s.deps.Settlement.MarkReturned(r.Context(), r.PathValue("id"), req.AdditionalPayment)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// DELETE /api/bookings/{id}
func (s *HTTPServer) handleDeleteBooking(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	b, err := s.deps.Backend.GetBooking(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if err := s.deps.Backend.DeleteBooking(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.log.Info().Str("booking_id", id).Str("bike_id", b.BikeID).Msg("booking deleted")
	if s.deps.Events != nil {
		s.deps.Events.Publish(r.Context(), events.Event{Type: events.BookingDeleted, Booking: *b})
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/bookings/export?status=...
func (s *HTTPServer) handleExportBookings(w http.ResponseWriter, r *http.Request) {
	filter, err := s.bookingFilter(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	bookings, err := s.deps.Backend.ListBookings(r.Context(), filter)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	// Nothing reaches the client until the workbook is complete.
	var buf bytes.Buffer
	opts := export.Options{Location: s.cfg.Location, Currency: s.cfg.Currency}
	if err := s.exportBookings(&buf, bookings, opts); err != nil {
		s.log.Error().Err(err).Int("bookings", len(bookings)).Msg("export bookings")
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	name := fmt.Sprintf("bookings_%s.xlsx", time.Now().In(s.cfg.Location).Format("20060102"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		s.log.Warn().Err(err).Msg("write export")
	}
}
