package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"velosta/internal/model"

	"github.com/google/uuid"
)

const bikeColumns = `id, name, registration_number, daily_rate, status, created_at, updated_at`

// ListBikes returns the fleet with its derived status.
func (db *DB) ListBikes(ctx context.Context) ([]model.Bike, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+bikeColumns+` FROM bikes ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("query bikes: %w", err)
	}
	defer rows.Close()

	var bikes []model.Bike
	for rows.Next() {
		b, err := scanBike(rows)
		if err != nil {
			return nil, err
		}
		bikes = append(bikes, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bikes: %w", err)
	}

	rented, err := db.rentedBikes(ctx)
	if err != nil {
		return nil, err
	}
	for i := range bikes {
		if bikes[i].Status != model.BikeMaintenance && rented[bikes[i].ID] {
			bikes[i].Status = model.BikeRented
		}
	}
	return bikes, nil
}

// GetBike returns one bike with its derived status.
func (db *DB) GetBike(ctx context.Context, id string) (*model.Bike, error) {
	b, err := scanBike(db.QueryRowContext(ctx, `SELECT `+bikeColumns+` FROM bikes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.BikeNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	if b.Status != model.BikeMaintenance {
		rented, err := db.isRented(ctx, db, id)
		if err != nil {
			return nil, err
		}
		if rented {
			b.Status = model.BikeRented
		}
	}
	return b, nil
}

// CreateBike adds a bike to the fleet. An empty id gets a generated one.
func (db *DB) CreateBike(ctx context.Context, b *model.Bike) (*model.Bike, error) {
	if err := validateBike(b); err != nil {
		return nil, err
	}

	now := db.now().UTC()
	created := *b
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	if created.Status == "" {
		created.Status = model.BikeAvailable
	}
	created.CreatedAt = now
	created.UpdatedAt = now

	_, err := db.ExecContext(ctx, `
		INSERT INTO bikes (id, name, registration_number, daily_rate, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		created.ID, created.Name, created.RegistrationNumber, created.DailyRate,
		string(created.Status), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, model.NewValidationError("registrationNumber", "already registered")
		}
		return nil, fmt.Errorf("insert bike: %w", err)
	}

	db.logger.Info().Str("bike_id", created.ID).Str("name", created.Name).Msg("bike created")
	return &created, nil
}

// UpdateBike replaces name, registration number and rate. An empty status
// keeps the stored one.
func (db *DB) UpdateBike(ctx context.Context, b *model.Bike) (*model.Bike, error) {
	if err := validateBike(b); err != nil {
		return nil, err
	}

	res, err := db.ExecContext(ctx, `
		UPDATE bikes
		SET name = ?, registration_number = ?, daily_rate = ?,
		    status = COALESCE(NULLIF(?, ''), status), updated_at = ?
		WHERE id = ?`,
		b.Name, b.RegistrationNumber, b.DailyRate, string(b.Status), db.now().UTC(), b.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, model.NewValidationError("registrationNumber", "already registered")
		}
		return nil, fmt.Errorf("update bike: %w", err)
	}
	if err := expectRow(res, model.BikeNotFound(b.ID)); err != nil {
		return nil, err
	}
	return db.GetBike(ctx, b.ID)
}

// ToggleMaintenance flips a bike between MAINTENANCE and AVAILABLE.
func (db *DB) ToggleMaintenance(ctx context.Context, id string) (*model.Bike, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE bikes
		SET status = CASE status WHEN 'MAINTENANCE' THEN 'AVAILABLE' ELSE 'MAINTENANCE' END,
		    updated_at = ?
		WHERE id = ?`,
		db.now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("toggle maintenance: %w", err)
	}
	if err := expectRow(res, model.BikeNotFound(id)); err != nil {
		return nil, err
	}
	return db.GetBike(ctx, id)
}

// SetBikeStatus stores AVAILABLE or MAINTENANCE. RENTED is derived and rejected.
func (db *DB) SetBikeStatus(ctx context.Context, id string, status model.BikeStatus) (*model.Bike, error) {
	if status != model.BikeAvailable && status != model.BikeMaintenance {
		return nil, model.NewValidationError("status", "must be AVAILABLE or MAINTENANCE")
	}

	res, err := db.ExecContext(ctx,
		`UPDATE bikes SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), db.now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("set bike status: %w", err)
	}
	if err := expectRow(res, model.BikeNotFound(id)); err != nil {
		return nil, err
	}
	return db.GetBike(ctx, id)
}

// DeleteBike removes a bike that no booking references.
func (db *DB) DeleteBike(ctx context.Context, id string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var refs int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings WHERE bike_id = ?`, id).Scan(&refs); err != nil {
		return fmt.Errorf("count bookings: %w", err)
	}
	if refs > 0 {
		return ErrBikeInUse
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM bikes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete bike: %w", err)
	}
	if err := expectRow(res, model.BikeNotFound(id)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	db.logger.Info().Str("bike_id", id).Msg("bike deleted")
	return nil
}

// UpsertBikes inserts or refreshes bikes by id without touching their bookings.
// Maintenance set through the API is kept when the seed says AVAILABLE.
func (db *DB) UpsertBikes(ctx context.Context, bikes []model.Bike) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := db.now().UTC()
	for i := range bikes {
		b := bikes[i]
		if err := validateBike(&b); err != nil {
			return 0, fmt.Errorf("bike %q: %w", b.ID, err)
		}
		if b.ID == "" {
			return 0, fmt.Errorf("bike %q: %w", b.Name, model.NewValidationError("id", "is required"))
		}
		status := b.Status
		if status == "" {
			status = model.BikeAvailable
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO bikes (id, name, registration_number, daily_rate, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				registration_number = excluded.registration_number,
				daily_rate = excluded.daily_rate,
				status = CASE WHEN excluded.status = 'MAINTENANCE' THEN 'MAINTENANCE' ELSE bikes.status END,
				updated_at = excluded.updated_at`,
			b.ID, b.Name, b.RegistrationNumber, b.DailyRate, string(status), now, now,
		)
		if err != nil {
			return 0, fmt.Errorf("upsert bike %s: %w", b.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(bikes), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBike(row rowScanner) (*model.Bike, error) {
	var b model.Bike
	var status string
	err := row.Scan(&b.ID, &b.Name, &b.RegistrationNumber, &b.DailyRate, &status, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan bike: %w", err)
	}
	b.Status = model.BikeStatus(status)
	return &b, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// isRented reports whether an open booking on the bike covers now.
func (db *DB) isRented(ctx context.Context, q querier, bikeID string) (bool, error) {
	now := db.now().UTC()
	var n int64
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM bookings
		WHERE bike_id = ? AND status != 'RETURNED' AND start_date <= ? AND end_date > ?`,
		bikeID, now, now,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("derive bike status: %w", err)
	}
	return n > 0, nil
}

func (db *DB) rentedBikes(ctx context.Context) (map[string]bool, error) {
	now := db.now().UTC()
	rows, err := db.QueryContext(ctx, `
		SELECT DISTINCT bike_id FROM bookings
		WHERE status != 'RETURNED' AND start_date <= ? AND end_date > ?`,
		now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("derive bike status: %w", err)
	}
	defer rows.Close()

	rented := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan rented bike: %w", err)
		}
		rented[id] = true
	}
	return rented, rows.Err()
}

func validateBike(b *model.Bike) error {
	b.Name = strings.TrimSpace(b.Name)
	b.RegistrationNumber = strings.ToUpper(strings.TrimSpace(b.RegistrationNumber))
	if b.Name == "" {
		return model.NewValidationError("name", "is required")
	}
	if b.DailyRate <= 0 {
		return model.NewValidationError("dailyRate", "must be greater than 0")
	}
	if b.Status == model.BikeRented {
		return model.NewValidationError("status", "RENTED is derived from bookings")
	}
	if b.Status != "" && !b.Status.Valid() {
		return model.NewValidationError("status", "unknown status")
	}
	return nil
}

func expectRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// timeArg normalizes times before they reach the driver so stored values
// compare correctly as text.
func timeArg(t time.Time) time.Time {
	return t.UTC()
}
