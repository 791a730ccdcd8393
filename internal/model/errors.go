package model

import (
	"errors"
	"fmt"
	"time"
)

// ReasonAlreadyReturned is the validation reason for settling a returned booking twice.
const ReasonAlreadyReturned = "already returned"

// ValidationError reports malformed input on a single field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation checks if the error is a ValidationError.
func IsValidation(err error) (*ValidationError, bool) {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return vErr, true
	}
	return nil, false
}

// ConflictError reports that a requested window collides with an existing reservation.
// Booking may be nil when the backend rejected the write without naming the holder.
type ConflictError struct {
	NextAvailableDate time.Time
	Booking           *Booking
}

func (e *ConflictError) Error() string {
	if e.NextAvailableDate.IsZero() {
		return "bike not available for the requested dates"
	}
	return fmt.Sprintf("bike not available until %s", e.NextAvailableDate.Format(time.RFC3339))
}

// IsConflict checks if the error is a ConflictError.
func IsConflict(err error) (*ConflictError, bool) {
	var cErr *ConflictError
	if errors.As(err, &cErr) {
		return cErr, true
	}
	return nil, false
}

// NotFoundError reports a missing bike or booking.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// BikeNotFound builds the NotFoundError for a bike id.
func BikeNotFound(id string) *NotFoundError {
	return &NotFoundError{Kind: "bike", ID: id}
}

// BookingNotFound builds the NotFoundError for a booking id.
func BookingNotFound(id string) *NotFoundError {
	return &NotFoundError{Kind: "booking", ID: id}
}

// IsNotFound checks if the error is a NotFoundError.
func IsNotFound(err error) (*NotFoundError, bool) {
	var nfErr *NotFoundError
	if errors.As(err, &nfErr) {
		return nfErr, true
	}
	return nil, false
}

// TransportError reports an unreachable backend or a response that could not be used.
// StatusCode is zero when no response was received.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport %s: http %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport checks if the error is a TransportError.
func IsTransport(err error) (*TransportError, bool) {
	var tErr *TransportError
	if errors.As(err, &tErr) {
		return tErr, true
	}
	return nil, false
}
