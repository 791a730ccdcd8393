// Package pricing derives a default booking total from its window and the bike rate.
package pricing

import (
	"time"

	"velosta/internal/model"
)

// Days returns the billable number of days for [start, end).
// A booking is always billed at least one day.
func Days(start, end time.Time) int {
	days := model.CeilDays(end.Sub(start))
	if days < 1 {
		days = 1
	}
	return days
}

// ComputeTotal returns days * dailyRate.
func ComputeTotal(start, end time.Time, dailyRate int64) int64 {
	return int64(Days(start, end)) * dailyRate
}

// Quote is a priced window.
type Quote struct {
	Days      int   `json:"days"`
	DailyRate int64 `json:"dailyRate"`
	Total     int64 `json:"totalAmount"`
}

// Calculator prices windows for a bike.
type Calculator struct{}

// Quote prices w at the bike's daily rate.
func (Calculator) Quote(bike *model.Bike, w model.Window) Quote {
	days := Days(w.Start, w.End)
	return Quote{
		Days:      days,
		DailyRate: bike.DailyRate,
		Total:     int64(days) * bike.DailyRate,
	}
}
