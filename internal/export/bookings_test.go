package export

import (
	"bytes"
	"testing"
	"time"

	"velosta/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestBookings(t *testing.T) {
	returnedAt := time.Date(2025, 1, 4, 12, 0, 0, 0, time.UTC)
	bookings := []model.Booking{
		{
			ID: "b1", BikeName: "Activa", CustomerName: "Ravi", Phone: "+919876543210",
			StartDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), EndDate: time.Date(2025, 1, 4, 0, 0, 0, 0, time.UTC),
			TotalAmount: 1500, PaidAmount: 1500, Status: model.BookingReturned, ReturnedAt: &returnedAt,
		},
		{
			ID: "b2", BikeName: "Pulsar", CustomerName: "Asha", Phone: "+919000000001",
			StartDate: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), EndDate: time.Date(2025, 1, 2, 6, 0, 0, 0, time.UTC),
			TotalAmount: 800, PaidAmount: 300, Status: model.BookingActive,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, Bookings(&buf, bookings, Options{Currency: "INR"}))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Bookings", "Summary"}, f.GetSheetList())

	rows, err := f.GetRows("Bookings")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "ID", rows[0][0])
	assert.Equal(t, "b1", rows[1][0])
	assert.Equal(t, "3", rows[1][6])
	assert.Equal(t, "2025-01-04 12:00", rows[1][11])
	assert.Equal(t, "1", rows[2][6], "partial day billed as one")
	assert.Equal(t, "500", rows[2][9])

	summary, err := f.GetRows("Summary")
	require.NoError(t, err)
	require.Len(t, summary, 4)
	assert.Equal(t, []string{"ACTIVE", "1", "800", "300", "500", "INR"}, summary[1])
	assert.Equal(t, []string{"UPCOMING", "0", "0", "0", "0", "INR"}, summary[2])
}

func TestWriter_RequiresSheet(t *testing.T) {
	w := NewWriter()
	defer w.Close()
	assert.Error(t, w.WriteRow([]any{"x"}))
}
