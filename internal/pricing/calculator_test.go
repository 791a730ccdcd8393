package pricing

import (
	"testing"
	"time"

	"velosta/internal/model"

	"github.com/stretchr/testify/assert"
)

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func TestComputeTotal(t *testing.T) {
	tests := []struct {
		name     string
		start    time.Time
		end      time.Time
		rate     int64
		expected int64
	}{
		{"same instant bills one day", day(2025, 1, 1), day(2025, 1, 1), 500, 500},
		{"end before start bills one day", day(2025, 1, 2), day(2025, 1, 1), 500, 500},
		{"one hour bills one day", day(2025, 1, 1), day(2025, 1, 1).Add(time.Hour), 500, 500},
		{"exact three days", day(2025, 1, 1), day(2025, 1, 4), 500, 1500},
		{"partial day rounds up", day(2025, 1, 1), day(2025, 1, 4).Add(time.Minute), 500, 2000},
		{"zero rate", day(2025, 1, 1), day(2025, 1, 4), 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ComputeTotal(tt.start, tt.end, tt.rate))
		})
	}
}

func TestDays_NeverBelowOne(t *testing.T) {
	start := day(2025, 3, 1)
	for offset := -48 * time.Hour; offset <= 72*time.Hour; offset += 7 * time.Hour {
		assert.GreaterOrEqual(t, Days(start, start.Add(offset)), 1, offset.String())
	}
}

func TestCalculator_Quote(t *testing.T) {
	bike := &model.Bike{ID: "x", DailyRate: 500}
	q := Calculator{}.Quote(bike, model.Window{Start: day(2025, 1, 1), End: day(2025, 1, 4)})

	assert.Equal(t, Quote{Days: 3, DailyRate: 500, Total: 1500}, q)
}
