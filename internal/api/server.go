// Package api serves the booking REST API used by the vendor app and by
// remote velosta instances.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"velosta/internal/availability"
	"velosta/internal/booking"
	"velosta/internal/database"
	"velosta/internal/directory"
	"velosta/internal/export"
	"velosta/internal/metrics"
	"velosta/internal/model"
	"velosta/internal/settlement"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Backend is the collaborator that owns bikes and bookings.
type Backend interface {
	ListBikes(ctx context.Context) ([]model.Bike, error)
	GetBike(ctx context.Context, id string) (*model.Bike, error)
	CreateBike(ctx context.Context, b *model.Bike) (*model.Bike, error)
	UpdateBike(ctx context.Context, b *model.Bike) (*model.Bike, error)
	ToggleMaintenance(ctx context.Context, id string) (*model.Bike, error)
	SetBikeStatus(ctx context.Context, id string, status model.BikeStatus) (*model.Bike, error)
	DeleteBike(ctx context.Context, id string) error

	ListBookings(ctx context.Context, filter model.BookingFilter) ([]model.Booking, error)
	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	DeleteBooking(ctx context.Context, id string) error

	Ping(ctx context.Context) error
}

// Config holds the listener and presentation settings.
type Config struct {
	Port     int
	APIKey   string
	APIExtra string
	Currency string
	Location *time.Location
}

// Deps are the services behind the handlers.
type Deps struct {
	Backend Backend
	// Directory answers pricing and availability questions and must read
	// bikes fresh. Catalog serves listing reads and may sit on a cache; it
	// defaults to Directory.
	Directory  *directory.Directory
	Catalog    *directory.Directory
	Resolver   *availability.Resolver
	Reconciler *booking.Reconciler
	Settlement *settlement.Service
	Events     booking.Publisher
	// Ready lists extra readiness checks such as redis.
	Ready map[string]func(ctx context.Context) error
}

// HTTPServer exposes bikes and bookings over HTTP.
type HTTPServer struct {
	cfg      Config
	deps     Deps
	validate *validator.Validate
	server   *http.Server
	log      zerolog.Logger

	exportBookings func(io.Writer, []model.Booking, export.Options) error
}

// NewHTTPServer builds the server and its routes.
func NewHTTPServer(cfg Config, deps Deps, logger zerolog.Logger) *HTTPServer {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if deps.Catalog == nil {
		deps.Catalog = deps.Directory
	}
	s := &HTTPServer{
		cfg:      cfg,
		deps:     deps,
		validate: newValidator(),
		log:      logger.With().Str("component", "api").Logger(),

		exportBookings: export.Bookings,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	s.route(mux, "GET /api/bikes", "list_bikes", s.handleListBikes)
	s.route(mux, "POST /api/bikes", "create_bike", s.handleCreateBike)
	s.route(mux, "GET /api/bikes/{id}", "get_bike", s.handleGetBike)
	s.route(mux, "PUT /api/bikes/{id}", "update_bike", s.handleUpdateBike)
	s.route(mux, "DELETE /api/bikes/{id}", "delete_bike", s.handleDeleteBike)
	s.route(mux, "GET /api/bikes/{id}/availability", "bike_availability", s.handleBikeAvailability)
	s.route(mux, "PATCH /api/bikes/{id}/maintenance", "toggle_maintenance", s.handleToggleMaintenance)
	s.route(mux, "PATCH /api/bikes/{id}/status", "set_bike_status", s.handleSetBikeStatus)

	s.route(mux, "GET /api/bookings", "list_bookings", s.handleListBookings)
	s.route(mux, "POST /api/bookings", "create_booking", s.handleCreateBooking)
	s.route(mux, "POST /api/bookings/check", "check_booking", s.handleCheckBooking)
	s.route(mux, "GET /api/bookings/export", "export_bookings", s.handleExportBookings)
	s.route(mux, "GET /api/bookings/{id}", "get_booking", s.handleGetBooking)
	s.route(mux, "PUT /api/bookings/{id}", "update_booking", s.handleUpdateBooking)
	s.route(mux, "DELETE /api/bookings/{id}", "delete_booking", s.handleDeleteBooking)
	s.route(mux, "PATCH /api/bookings/{id}/returned", "return_booking", s.handleReturnBooking)

	s.route(mux, "GET /api/dashboard", "dashboard", s.handleDashboard)
	s.route(mux, "POST /api/quote", "quote", s.handleQuote)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return s
}

// Handler returns the root handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until ctx is done.
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.server.Addr).Msg("api server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// route registers an authenticated, instrumented handler.
func (s *HTTPServer) route(mux *http.ServeMux, pattern, name string, h http.HandlerFunc) {
	mux.Handle(pattern, s.instrument(name, s.requireAPIKey(h)))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *HTTPServer) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.IncHTTP(name)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		metrics.IncHTTPResponse(name, rec.status)
		s.log.Debug().
			Str("handler", name).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

func (s *HTTPServer) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey != "" && !secretEqual(r.Header.Get("x-api-key"), s.cfg.APIKey) {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		if s.cfg.APIExtra != "" && !secretEqual(r.Header.Get("x-api-extra"), s.cfg.APIExtra) {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secretEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.deps.Backend.Ping(ctx); err != nil {
		s.log.Warn().Err(err).Msg("backend not ready")
		writeError(w, http.StatusServiceUnavailable, "backend not ready")
		return
	}
	for name, check := range s.deps.Ready {
		if err := check(ctx); err != nil {
			s.log.Warn().Err(err).Str("check", name).Msg("dependency not ready")
			writeError(w, http.StatusServiceUnavailable, name+" not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// errorResponse is the JSON error body. Conflicts carry the blocking booking.
type errorResponse struct {
	Error             string         `json:"error"`
	Field             string         `json:"field,omitempty"`
	NextAvailableDate *time.Time     `json:"nextAvailableDate,omitempty"`
	ReturnInDays      *int           `json:"returnInDays,omitempty"`
	CurrentBooking    *model.Booking `json:"currentBooking,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeDomainError maps collaborator and core errors to status codes.
func (s *HTTPServer) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	if vErr, ok := model.IsValidation(err); ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: vErr.Error(), Field: vErr.Field})
		return
	}
	if nfErr, ok := model.IsNotFound(err); ok {
		writeError(w, http.StatusNotFound, nfErr.Error())
		return
	}
	if cErr, ok := model.IsConflict(err); ok {
		metrics.IncConflict()
		body := errorResponse{Error: cErr.Error(), CurrentBooking: cErr.Booking}
		if !cErr.NextAvailableDate.IsZero() {
			next := cErr.NextAvailableDate
			days := model.CeilDays(next.Sub(time.Now()))
			body.NextAvailableDate = &next
			body.ReturnInDays = &days
		}
		writeJSON(w, http.StatusConflict, body)
		return
	}
	if errors.Is(err, database.ErrConcurrentModification) {
		writeError(w, http.StatusConflict, "booking was modified concurrently; reload and retry")
		return
	}
	if errors.Is(err, database.ErrBikeInUse) {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "bike has bookings", Field: "id"})
		return
	}
	if tErr, ok := model.IsTransport(err); ok {
		s.log.Error().Err(tErr).Str("path", r.URL.Path).Msg("backend unavailable")
		writeError(w, http.StatusBadGateway, "backend unavailable")
		return
	}

	s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}
