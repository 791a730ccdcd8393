package notify

import (
	"fmt"
	"strings"
	"time"

	"velosta/internal/events"
	"velosta/internal/model"
	"velosta/internal/phone"
)

const dateLayout = "02 Jan 15:04"

// Formatter renders bookings as short staff messages.
type Formatter struct {
	phones   *phone.Normalizer
	currency string
	loc      *time.Location
}

// NewFormatter renders amounts with currencySymbol and times in loc.
func NewFormatter(phones *phone.Normalizer, currencySymbol string, loc *time.Location) *Formatter {
	if loc == nil {
		loc = time.Local
	}
	return &Formatter{phones: phones, currency: currencySymbol, loc: loc}
}

// Money renders an amount with the currency symbol.
func (f *Formatter) Money(v int64) string {
	return f.currency + fmt.Sprint(v)
}

// Line renders one booking on a single line.
func (f *Formatter) Line(b *model.Booking) string {
	bike := b.BikeName
	if bike == "" {
		bike = b.BikeID
	}
	line := fmt.Sprintf("%s: %s, %s, %s to %s",
		bike, b.CustomerName, f.phone(b.Phone),
		b.StartDate.In(f.loc).Format(dateLayout), b.EndDate.In(f.loc).Format(dateLayout))
	if bal := b.Balance(); bal > 0 {
		line += ", balance " + f.Money(bal)
	}
	return line
}

// Event renders a booking lifecycle event. Unknown types render as "".
func (f *Formatter) Event(e events.Event) string {
	b := &e.Booking
	switch e.Type {
	case events.BookingCreated:
		return fmt.Sprintf("New booking (%s)\n%s\nTotal %s, paid %s",
			strings.ToLower(string(b.Status)), f.Line(b), f.Money(b.TotalAmount), f.Money(b.PaidAmount))
	case events.BookingReturned:
		msg := "Returned\n" + f.Line(b)
		if e.Payment > 0 {
			msg += "\nCollected " + f.Money(e.Payment)
		}
		return msg
	case events.BookingDeleted:
		return "Booking deleted\n" + f.Line(b)
	}
	return ""
}

// Digest renders the daily list of returns due soon and overdue.
func (f *Formatter) Digest(due, overdue []model.Booking, within time.Duration) string {
	var sb strings.Builder
	if len(overdue) > 0 {
		fmt.Fprintf(&sb, "Overdue returns (%d):\n", len(overdue))
		for i := range overdue {
			sb.WriteString("- " + f.Line(&overdue[i]) + "\n")
		}
	}
	if len(due) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "Returns due in the next %dh (%d):\n", int(within.Hours()), len(due))
		for i := range due {
			sb.WriteString("- " + f.Line(&due[i]) + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (f *Formatter) phone(p string) string {
	if f.phones == nil {
		return p
	}
	return f.phones.Format(p)
}
