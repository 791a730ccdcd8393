package booking

import (
	"sync"
	"time"

	"velosta/internal/model"
	"velosta/internal/pricing"
)

// Draft is an in-progress booking. Its total follows the bike and the dates
// until someone sets it by hand.
type Draft struct {
	mu         sync.Mutex
	candidate  Candidate
	bike       *model.Bike
	overridden bool
	shifts     int
}

// NewDraft starts a draft from c. A total set on c counts as an override.
func NewDraft(c Candidate) *Draft {
	d := &Draft{
		candidate:  c,
		overridden: c.TotalAmount != nil,
	}
	if c.TotalAmount != nil {
		total := *c.TotalAmount
		d.candidate.TotalAmount = &total
	}
	return d
}

// SetBike selects the bike and reprices the draft.
func (d *Draft) SetBike(b *model.Bike) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bike = b
	d.candidate.BikeID = b.ID
}

// SetDates moves the window and reprices the draft.
func (d *Draft) SetDates(start, end time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.candidate.StartDate = start
	d.candidate.EndDate = end
}

// ShiftTo moves the window to start at start, keeping its duration.
func (d *Draft) ShiftTo(start time.Time) model.Window {
	d.mu.Lock()
	defer d.mu.Unlock()
	w := d.candidate.Window().ShiftTo(start)
	d.candidate.StartDate = w.Start
	d.candidate.EndDate = w.End
	d.shifts++
	return w
}

// OverrideTotal pins the total to v.
func (d *Draft) OverrideTotal(v int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.overridden = true
	d.candidate.TotalAmount = &v
}

// ClearOverride goes back to the computed total.
func (d *Draft) ClearOverride() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.overridden = false
	d.candidate.TotalAmount = nil
}

// Window returns the current window.
func (d *Draft) Window() model.Window {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.candidate.Window()
}

// Shifts counts how often the window was moved by ShiftTo.
func (d *Draft) Shifts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shifts
}

// Quote prices the draft. Without a bike only an override can be reported.
func (d *Draft) Quote() pricing.Quote {
	d.mu.Lock()
	defer d.mu.Unlock()

	var q pricing.Quote
	if d.bike != nil {
		q = pricing.Calculator{}.Quote(d.bike, d.candidate.Window())
	} else {
		q.Days = pricing.Days(d.candidate.StartDate, d.candidate.EndDate)
	}
	if d.overridden {
		q.Total = *d.candidate.TotalAmount
	}
	return q
}

// Candidate returns the proposal to submit. The total is only included when
// overridden so the reconciler prices it from a fresh bike read.
func (d *Draft) Candidate() Candidate {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.candidate
	if !d.overridden {
		c.TotalAmount = nil
	} else {
		total := *d.candidate.TotalAmount
		c.TotalAmount = &total
	}
	return c
}
