package reminders

import (
	"context"
	"fmt"

	"velosta/internal/model"

	"github.com/rs/zerolog"
)

// DigestType names the kind of reminder a send belongs to.
type DigestType string

const (
	DigestDue     DigestType = "due"
	DigestOverdue DigestType = "overdue"
	DigestMixed   DigestType = "due_and_overdue"
)

// BookingLister provides the bookings reminders are computed from.
type BookingLister interface {
	ListBookings(ctx context.Context, filter model.BookingFilter) ([]model.Booking, error)
}

// Notifier delivers a message to one staff chat.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

// Logger is the logging interface used by the reminder system.
type Logger interface {
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Debug(msg string, fields ...interface{})
}

// ZerologLogger adapts a zerolog.Logger to Logger. Fields are key/value pairs.
type ZerologLogger struct {
	L zerolog.Logger
}

func (z ZerologLogger) Info(msg string, fields ...interface{}) {
	withFields(z.L.Info(), fields).Msg(msg)
}

func (z ZerologLogger) Error(msg string, fields ...interface{}) {
	withFields(z.L.Error(), fields).Msg(msg)
}

func (z ZerologLogger) Debug(msg string, fields ...interface{}) {
	withFields(z.L.Debug(), fields).Msg(msg)
}

func withFields(e *zerolog.Event, fields []interface{}) *zerolog.Event {
	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprint(fields[i])
		if err, ok := fields[i+1].(error); ok {
			e = e.AnErr(key, err)
			continue
		}
		e = e.Interface(key, fields[i+1])
	}
	return e
}
