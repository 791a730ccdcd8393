package export

import (
	"fmt"
	"io"
	"time"

	"velosta/internal/model"
	"velosta/internal/pricing"
)

var bookingColumns = []string{
	"ID", "Bike", "Customer", "Phone", "Start", "End", "Days",
	"Total", "Paid", "Balance", "Status", "Returned At", "Notes",
}

// Options controls how bookings are rendered.
type Options struct {
	Location *time.Location
	Currency string
}

// Bookings writes a workbook with one row per booking and a per-status summary sheet.
func Bookings(wr io.Writer, bookings []model.Booking, opts Options) error {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	w := NewWriter()
	defer w.Close()

	if err := w.AddSheet("Bookings"); err != nil {
		return err
	}
	if err := w.WriteHeader(bookingColumns); err != nil {
		return err
	}
	_ = w.SetColumnWidths(38, 18, 22, 16, 18, 18, 6, 10, 10, 10, 10, 18, 30)

	type totals struct {
		count             int
		total, paid, owed int64
	}
	summary := map[model.BookingStatus]*totals{}

	for i := range bookings {
		b := &bookings[i]
		returned := ""
		if b.ReturnedAt != nil {
			returned = b.ReturnedAt.In(loc).Format("2006-01-02 15:04")
		}
		row := []any{
			b.ID,
			b.BikeName,
			b.CustomerName,
			b.Phone,
			b.StartDate.In(loc).Format("2006-01-02 15:04"),
			b.EndDate.In(loc).Format("2006-01-02 15:04"),
			pricing.Days(b.StartDate, b.EndDate),
			b.TotalAmount,
			b.PaidAmount,
			b.Balance(),
			string(b.Status),
			returned,
			b.Notes,
		}
		if err := w.WriteRow(row); err != nil {
			return fmt.Errorf("write booking %s: %w", b.ID, err)
		}

		t := summary[b.Status]
		if t == nil {
			t = &totals{}
			summary[b.Status] = t
		}
		t.count++
		t.total += b.TotalAmount
		t.paid += b.PaidAmount
		t.owed += b.Balance()
	}

	if err := w.AddSheet("Summary"); err != nil {
		return err
	}
	header := []string{"Status", "Bookings", "Total", "Paid", "Balance"}
	if opts.Currency != "" {
		header = append(header, "Currency")
	}
	if err := w.WriteHeader(header); err != nil {
		return err
	}
	for _, status := range []model.BookingStatus{model.BookingActive, model.BookingUpcoming, model.BookingReturned} {
		t := summary[status]
		if t == nil {
			t = &totals{}
		}
		row := []any{string(status), t.count, t.total, t.paid, t.owed}
		if opts.Currency != "" {
			row = append(row, opts.Currency)
		}
		if err := w.WriteRow(row); err != nil {
			return err
		}
	}

	return w.Save(wr)
}
