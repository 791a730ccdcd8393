package api

import (
	"net/http"
)

// GET /api/bikes
func (s *HTTPServer) handleListBikes(w http.ResponseWriter, r *http.Request) {
	bikes, err := s.deps.Catalog.GetBikes(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bikes": bikes})
}

// GET /api/bikes/{id}
func (s *HTTPServer) handleGetBike(w http.ResponseWriter, r *http.Request) {
	bike, err := s.deps.Catalog.GetBike(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bike)
}

// POST /api/bikes
func (s *HTTPServer) handleCreateBike(w http.ResponseWriter, r *http.Request) {
	var req bikeRequest
	if err := s.decode(w, r, &req, false); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	bike, err := s.deps.Backend.CreateBike(r.Context(), req.bike())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.log.Info().Str("bike_id", bike.ID).Str("name", bike.Name).Msg("bike added")
	writeJSON(w, http.StatusCreated, bike)
}

// PUT /api/bikes/{id}
func (s *HTTPServer) handleUpdateBike(w http.ResponseWriter, r *http.Request) {
	var req bikeRequest
	if err := s.decode(w, r, &req, false); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	b := req.bike()
	b.ID = r.PathValue("id")
	bike, err := s.deps.Backend.UpdateBike(r.Context(), b)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bike)
}

// DELETE /api/bikes/{id}
func (s *HTTPServer) handleDeleteBike(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Backend.DeleteBike(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.log.Info().Str("bike_id", id).Msg("bike deleted")
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/bikes/{id}/availability
func (s *HTTPServer) handleBikeAvailability(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.deps.Directory.GetBike(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	snap, err := s.deps.Resolver.Resolve(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// PATCH /api/bikes/{id}/maintenance
func (s *HTTPServer) handleToggleMaintenance(w http.ResponseWriter, r *http.Request) {
	bike, err := s.deps.Backend.ToggleMaintenance(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.log.Info().Str("bike_id", bike.ID).Str("status", string(bike.Status)).Msg("maintenance toggled")
	writeJSON(w, http.StatusOK, bike)
}

// PATCH /api/bikes/{id}/status
func (s *HTTPServer) handleSetBikeStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := s.decode(w, r, &req, false); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	bike, err := s.deps.Backend.SetBikeStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bike)
}
