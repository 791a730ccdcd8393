package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"velosta/internal/booking"
	"velosta/internal/model"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

// bookingRequest is the body of POST and PUT /api/bookings.
// Field order follows the order proposals are validated in.
type bookingRequest struct {
	CustomerName string    `json:"customerName" validate:"required,max=120"`
	Phone        string    `json:"phone" validate:"required,max=32"`
	BikeID       string    `json:"bikeId" validate:"required"`
	StartDate    time.Time `json:"startDate" validate:"required"`
	EndDate      time.Time `json:"endDate" validate:"required"`
	TotalAmount  *int64    `json:"totalAmount,omitempty"`
	PaidAmount   *int64    `json:"paidAmount,omitempty"`
	Notes        string    `json:"notes,omitempty" validate:"max=1000"`
	// Version is sent by remote instances and ignored; the stored version wins.
	Version int64 `json:"version,omitempty"`
}

func (r *bookingRequest) candidate() booking.Candidate {
	return booking.Candidate{
		BikeID:       r.BikeID,
		CustomerName: r.CustomerName,
		Phone:        r.Phone,
		StartDate:    r.StartDate,
		EndDate:      r.EndDate,
		TotalAmount:  r.TotalAmount,
		PaidAmount:   r.PaidAmount,
		Notes:        r.Notes,
	}
}

// bikeRequest is the body of POST and PUT /api/bikes.
type bikeRequest struct {
	ID                 string           `json:"id,omitempty" validate:"max=64"`
	Name               string           `json:"name" validate:"required,max=120"`
	RegistrationNumber string           `json:"registrationNumber" validate:"max=20"`
	DailyRate          int64            `json:"dailyRate" validate:"gt=0"`
	Status             model.BikeStatus `json:"status,omitempty" validate:"omitempty,oneof=AVAILABLE RENTED MAINTENANCE"`
	// Timestamps are echoed back by clients that send a bike they read.
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

func (r *bikeRequest) bike() *model.Bike {
	status := r.Status
	// RENTED is derived; a client echoing it back means no change.
	if status == model.BikeRented {
		status = ""
	}
	return &model.Bike{
		ID:                 r.ID,
		Name:               r.Name,
		RegistrationNumber: r.RegistrationNumber,
		DailyRate:          r.DailyRate,
		Status:             status,
	}
}

type statusRequest struct {
	Status model.BikeStatus `json:"status" validate:"required,oneof=AVAILABLE MAINTENANCE"`
}

type returnRequest struct {
	AdditionalPayment int64 `json:"additionalPayment"`
}

type quoteRequest struct {
	BikeID      string    `json:"bikeId" validate:"required"`
	StartDate   time.Time `json:"startDate" validate:"required"`
	EndDate     time.Time `json:"endDate" validate:"required"`
	TotalAmount *int64    `json:"totalAmount,omitempty"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it. Empty bodies are
// allowed when allowEmpty is set.
func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			return model.NewValidationError("body", "invalid JSON body")
		}
	}
	return s.check(dst)
}

// check runs struct validation and reports the first failing field.
func (s *HTTPServer) check(dst any) error {
	err := s.validate.Struct(dst)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return model.NewValidationError(fe.Field(), describe(fe))
	}
	return fmt.Errorf("validate request: %w", err)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "gt":
		return "must be greater than " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	}
	return "failed " + fe.Tag() + " check"
}

// parseStatuses reads a comma separated status list, case-insensitive.
func parseStatuses(raw string) ([]model.BookingStatus, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []model.BookingStatus
	for _, part := range strings.Split(raw, ",") {
		st := model.BookingStatus(strings.ToUpper(strings.TrimSpace(part)))
		if st == "" {
			continue
		}
		if !st.Valid() {
			return nil, model.NewValidationError("status", fmt.Sprintf("unknown status %q", part))
		}
		out = append(out, st)
	}
	return out, nil
}
