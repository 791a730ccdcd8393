package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"velosta/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d int) time.Time {
	return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC)
}

func setupTestDB(t *testing.T, now time.Time) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(t.TempDir(), "velosta.db"), &logger)
	require.NoError(t, err)
	db.now = func() time.Time { return now }
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedBike(t *testing.T, db *DB, id string, rate int64) {
	t.Helper()
	_, err := db.CreateBike(context.Background(), &model.Bike{ID: id, Name: "Bike " + id, DailyRate: rate})
	require.NoError(t, err)
}

func newBooking(bikeID string, start, end time.Time) *model.Booking {
	return &model.Booking{
		BikeID:       bikeID,
		CustomerName: "Ravi",
		Phone:        "+919876543210",
		StartDate:    start,
		EndDate:      end,
		TotalAmount:  int64(end.Sub(start)/model.Day) * 500,
	}
}

func TestBikes_CRUD(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t, day(1))

	created, err := db.CreateBike(ctx, &model.Bike{Name: " Activa ", RegistrationNumber: "ka01ab1234", DailyRate: 500})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Activa", created.Name)
	assert.Equal(t, "KA01AB1234", created.RegistrationNumber)
	assert.Equal(t, model.BikeAvailable, created.Status)

	_, err = db.CreateBike(ctx, &model.Bike{Name: "Dup", RegistrationNumber: "KA01AB1234", DailyRate: 300})
	vErr, ok := model.IsValidation(err)
	require.True(t, ok)
	assert.Equal(t, "registrationNumber", vErr.Field)

	created.DailyRate = 650
	updated, err := db.UpdateBike(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, int64(650), updated.DailyRate)

	toggled, err := db.ToggleMaintenance(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BikeMaintenance, toggled.Status)
	kept, err := db.UpdateBike(ctx, &model.Bike{ID: created.ID, Name: "Activa", DailyRate: 650})
	require.NoError(t, err)
	assert.Equal(t, model.BikeMaintenance, kept.Status, "empty status keeps the stored one")

	toggled, err = db.ToggleMaintenance(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BikeAvailable, toggled.Status)

	_, err = db.SetBikeStatus(ctx, created.ID, model.BikeRented)
	_, ok = model.IsValidation(err)
	assert.True(t, ok, "RENTED cannot be written")

	require.NoError(t, db.DeleteBike(ctx, created.ID))
	_, err = db.GetBike(ctx, created.ID)
	_, ok = model.IsNotFound(err)
	assert.True(t, ok)

	err = db.DeleteBike(ctx, created.ID)
	_, ok = model.IsNotFound(err)
	assert.True(t, ok)
}

func TestBikes_Validation(t *testing.T) {
	tests := []struct {
		name      string
		bike      model.Bike
		wantField string
	}{
		{"missing name", model.Bike{DailyRate: 100}, "name"},
		{"zero rate", model.Bike{Name: "A"}, "dailyRate"},
		{"rented status", model.Bike{Name: "A", DailyRate: 1, Status: model.BikeRented}, "status"},
		{"unknown status", model.Bike{Name: "A", DailyRate: 1, Status: "LOST"}, "status"},
	}

	db := setupTestDB(t, day(1))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.bike
			_, err := db.CreateBike(context.Background(), &b)
			vErr, ok := model.IsValidation(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantField, vErr.Field)
		})
	}
}

func TestBikes_DerivedRentedStatus(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t, day(2))
	seedBike(t, db, "x", 500)
	seedBike(t, db, "y", 500)

	_, err := db.CreateBooking(ctx, newBooking("x", day(1), day(5)))
	require.NoError(t, err)
	_, err = db.CreateBooking(ctx, newBooking("y", day(10), day(12)))
	require.NoError(t, err)

	bikes, err := db.ListBikes(ctx)
	require.NoError(t, err)
	require.Len(t, bikes, 2)
	assert.Equal(t, model.BikeRented, bikes[0].Status)
	assert.Equal(t, model.BikeAvailable, bikes[1].Status, "future booking leaves the bike available")

	db.now = func() time.Time { return day(5) }
	x, err := db.GetBike(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, model.BikeAvailable, x.Status, "window is half-open")

	err = db.DeleteBike(ctx, "x")
	assert.ErrorIs(t, err, ErrBikeInUse)
}

func TestBookings_OverlapArbiter(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t, day(2))
	seedBike(t, db, "x", 500)
	seedBike(t, db, "y", 500)

	held, err := db.CreateBooking(ctx, newBooking("x", day(1), day(5)))
	require.NoError(t, err)
	assert.Equal(t, model.BookingActive, held.Status)
	assert.Equal(t, int64(1), held.Version)

	_, err = db.CreateBooking(ctx, newBooking("x", day(3), day(6)))
	cErr, ok := model.IsConflict(err)
	require.True(t, ok, "expected conflict, got %v", err)
	assert.True(t, cErr.NextAvailableDate.Equal(day(5)))
	require.NotNil(t, cErr.Booking)
	assert.Equal(t, held.ID, cErr.Booking.ID)

	next, err := db.CreateBooking(ctx, newBooking("x", day(5), day(8)))
	require.NoError(t, err, "back-to-back is allowed")
	assert.Equal(t, model.BookingUpcoming, next.Status)

	_, err = db.CreateBooking(ctx, newBooking("y", day(3), day(6)))
	assert.NoError(t, err)

	_, err = db.CreateBooking(ctx, newBooking("missing", day(3), day(6)))
	_, ok = model.IsNotFound(err)
	assert.True(t, ok)
}

func TestBookings_RejectsBadAmounts(t *testing.T) {
	db := setupTestDB(t, day(1))
	seedBike(t, db, "x", 500)

	b := newBooking("x", day(1), day(2))
	b.PaidAmount = b.TotalAmount + 1
	_, err := db.CreateBooking(context.Background(), b)
	vErr, ok := model.IsValidation(err)
	require.True(t, ok)
	assert.Equal(t, "paidAmount", vErr.Field)
}

func TestBookings_UpdateVersioningAndSelfExclusion(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t, day(1))
	seedBike(t, db, "x", 500)

	created, err := db.CreateBooking(ctx, newBooking("x", day(2), day(5)))
	require.NoError(t, err)

	edit := *created
	edit.EndDate = day(7)
	edit.TotalAmount = 2500
	updated, err := db.UpdateBooking(ctx, &edit)
	require.NoError(t, err)
	assert.True(t, updated.EndDate.Equal(day(7)))
	assert.Equal(t, int64(2), updated.Version)

	stale := *created
	stale.Notes = "stale write"
	_, err = db.UpdateBooking(ctx, &stale)
	assert.ErrorIs(t, err, ErrConcurrentModification)

	_, err = db.UpdateBooking(ctx, &model.Booking{ID: "nope", BikeID: "x", StartDate: day(1), EndDate: day(2), TotalAmount: 1})
	_, ok := model.IsNotFound(err)
	assert.True(t, ok)
}

func TestBookings_ReturnSettlesAndFreesBike(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t, day(2))
	seedBike(t, db, "x", 500)

	b := newBooking("x", day(1), day(4))
	b.PaidAmount = 500
	created, err := db.CreateBooking(ctx, b)
	require.NoError(t, err)

	_, err = db.ReturnBooking(ctx, created.ID, 1001)
	_, ok := model.IsValidation(err)
	require.True(t, ok, "overpayment is rejected")

	returned, err := db.ReturnBooking(ctx, created.ID, 1000)
	require.NoError(t, err)
	assert.Equal(t, model.BookingReturned, returned.Status)
	assert.Equal(t, int64(1500), returned.PaidAmount)
	require.NotNil(t, returned.ReturnedAt)

	bike, err := db.GetBike(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, model.BikeAvailable, bike.Status)

	_, err = db.ReturnBooking(ctx, created.ID, 0)
	vErr, ok := model.IsValidation(err)
	require.True(t, ok)
	assert.Equal(t, model.ReasonAlreadyReturned, vErr.Reason)

	again, err := db.GetBooking(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), again.PaidAmount)

	_, err = db.CreateBooking(ctx, newBooking("x", day(2), day(3)))
	assert.NoError(t, err, "returned bookings no longer reserve the bike")
}

func TestBookings_ListUsesEffectiveStatus(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t, day(1))
	seedBike(t, db, "x", 500)
	seedBike(t, db, "y", 500)

	_, err := db.CreateBooking(ctx, newBooking("x", day(3), day(5)))
	require.NoError(t, err)
	_, err = db.CreateBooking(ctx, newBooking("y", day(10), day(12)))
	require.NoError(t, err)

	db.now = func() time.Time { return day(4) }

	active, err := db.ListBookings(ctx, model.BookingFilter{Statuses: []model.BookingStatus{model.BookingActive}})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "x", active[0].BikeID)
	assert.Equal(t, "Bike x", active[0].BikeName)

	forY, err := db.ListBookings(ctx, model.BookingFilter{BikeID: "y"})
	require.NoError(t, err)
	require.Len(t, forY, 1)
	assert.Equal(t, model.BookingUpcoming, forY[0].Status)

	require.NoError(t, db.DeleteBooking(ctx, forY[0].ID))
	err = db.DeleteBooking(ctx, forY[0].ID)
	_, ok := model.IsNotFound(err)
	assert.True(t, ok)
}

func TestUpsertBikes_KeepsMaintenance(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t, day(1))
	seedBike(t, db, "x", 500)
	_, err := db.ToggleMaintenance(ctx, "x")
	require.NoError(t, err)

	n, err := db.UpsertBikes(ctx, []model.Bike{
		{ID: "x", Name: "Activa 6G", DailyRate: 550},
		{ID: "z", Name: "Jupiter", DailyRate: 450},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	x, err := db.GetBike(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "Activa 6G", x.Name)
	assert.Equal(t, int64(550), x.DailyRate)
	assert.Equal(t, model.BikeMaintenance, x.Status)

	_, err = db.UpsertBikes(ctx, []model.Bike{{Name: "no id", DailyRate: 1}})
	assert.Error(t, err)
}

func TestBackupService(t *testing.T) {
	db := setupTestDB(t, day(1))
	seedBike(t, db, "x", 500)

	logger := zerolog.Nop()
	dir := t.TempDir()
	svc := NewBackupService(db, BackupConfig{Enabled: true, StoragePath: dir, RetentionDays: 7}, &logger)
	svc.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

	path, err := svc.PerformBackup(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, path)

	old := filepath.Join(dir, "velosta_20250101_000000.db")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o600))
	stale := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(old, stale, stale))
	unrelated := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(unrelated, []byte("x"), 0o600))
	require.NoError(t, os.Chtimes(unrelated, stale, stale))

	deleted, err := svc.CleanupOldBackups()
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.NoFileExists(t, old)
	assert.FileExists(t, unrelated)
}

func TestBackupService_BadSchedule(t *testing.T) {
	db := setupTestDB(t, day(1))
	logger := zerolog.Nop()
	svc := NewBackupService(db, BackupConfig{Enabled: true, Schedule: "whenever", StoragePath: t.TempDir()}, &logger)

	err := svc.Start(context.Background())
	assert.ErrorContains(t, err, "whenever")
}

func TestListBikes_QueryFailure(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	logger := zerolog.Nop()
	db := newWithConn(conn, "", &logger)

	mock.ExpectQuery("SELECT .* FROM bikes").WillReturnError(errors.New("disk I/O error"))

	_, err = db.ListBikes(context.Background())
	assert.ErrorContains(t, err, "query bikes")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBooking_BeginFailure(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	logger := zerolog.Nop()
	db := newWithConn(conn, "", &logger)

	mock.ExpectBegin().WillReturnError(errors.New("database is locked"))

	_, err = db.CreateBooking(context.Background(), newBooking("x", day(1), day(2)))
	assert.ErrorContains(t, err, "begin tx")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteBooking_ExecFailure(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	logger := zerolog.Nop()
	db := newWithConn(conn, "", &logger)

	mock.ExpectExec("DELETE FROM bookings").WithArgs("b1").WillReturnError(errors.New("readonly database"))

	err = db.DeleteBooking(context.Background(), "b1")
	assert.ErrorContains(t, err, "delete booking")
	assert.NoError(t, mock.ExpectationsWereMet())
}
