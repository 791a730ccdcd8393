package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"velosta/internal/availability"
	"velosta/internal/model"

	"github.com/google/uuid"
)

const bookingColumns = `b.id, b.bike_id, COALESCE(k.name, ''), b.customer_name, b.phone,
	b.start_date, b.end_date, b.total_amount, b.paid_amount, b.status, b.notes,
	b.returned_at, b.created_at, b.updated_at, b.version`

const bookingFrom = ` FROM bookings b LEFT JOIN bikes k ON k.id = b.bike_id`

// ListBookings returns bookings ordered by start. Status filtering applies to
// the effective status, so an UPCOMING booking that has started lists as ACTIVE.
func (db *DB) ListBookings(ctx context.Context, filter model.BookingFilter) ([]model.Booking, error) {
	query := `SELECT ` + bookingColumns + bookingFrom
	var args []any
	if filter.BikeID != "" {
		query += ` WHERE b.bike_id = ?`
		args = append(args, filter.BikeID)
	}
	query += ` ORDER BY b.start_date, b.id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bookings: %w", err)
	}
	defer rows.Close()

	now := db.now()
	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		b.Status = b.StatusAt(now)
		if filter.Matches(b) {
			out = append(out, *b)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bookings: %w", err)
	}
	return out, nil
}

// GetBooking returns one booking with its effective status.
func (db *DB) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	b, err := db.getBooking(ctx, db, id)
	if err != nil {
		return nil, err
	}
	b.Status = b.StatusAt(db.now())
	return b, nil
}

// CreateBooking stores b after re-checking the bike's open bookings inside the
// transaction. A collision is reported as *model.ConflictError.
func (db *DB) CreateBooking(ctx context.Context, b *model.Booking) (*model.Booking, error) {
	if err := validateAmounts(b); err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := scanBike(tx.QueryRowContext(ctx, `SELECT `+bikeColumns+` FROM bikes WHERE id = ?`, b.BikeID)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.BikeNotFound(b.BikeID)
		}
		return nil, err
	}
	if err := db.checkOverlapTx(ctx, tx, b, ""); err != nil {
		return nil, err
	}

	now := db.now().UTC()
	created := *b
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	created.Status = model.StatusForStart(created.StartDate, now)
	created.CreatedAt = now
	created.UpdatedAt = now
	created.Version = 1
	created.ReturnedAt = nil

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bookings (
			id, bike_id, customer_name, phone, start_date, end_date,
			total_amount, paid_amount, status, notes, created_at, updated_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		created.ID, created.BikeID, created.CustomerName, created.Phone,
		timeArg(created.StartDate), timeArg(created.EndDate),
		created.TotalAmount, created.PaidAmount, string(created.Status), created.Notes,
		now, now, created.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("insert booking: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &created, nil
}

// UpdateBooking replaces the terms of an open booking. b.Version must match the
// stored version or ErrConcurrentModification is returned.
func (db *DB) UpdateBooking(ctx context.Context, b *model.Booking) (*model.Booking, error) {
	if err := validateAmounts(b); err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := db.getBooking(ctx, tx, b.ID)
	if err != nil {
		return nil, err
	}
	if current.Status == model.BookingReturned {
		return nil, model.NewValidationError("status", "returned bookings cannot be edited")
	}
	if b.Version != 0 && b.Version != current.Version {
		return nil, ErrConcurrentModification
	}
	if _, err := scanBike(tx.QueryRowContext(ctx, `SELECT `+bikeColumns+` FROM bikes WHERE id = ?`, b.BikeID)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.BikeNotFound(b.BikeID)
		}
		return nil, err
	}
	if err := db.checkOverlapTx(ctx, tx, b, b.ID); err != nil {
		return nil, err
	}

	now := db.now().UTC()
	updated := *b
	updated.Status = model.StatusForStart(updated.StartDate, now)
	updated.CreatedAt = current.CreatedAt
	updated.UpdatedAt = now
	updated.Version = current.Version + 1

	res, err := tx.ExecContext(ctx, `
		UPDATE bookings SET
			bike_id = ?, customer_name = ?, phone = ?, start_date = ?, end_date = ?,
			total_amount = ?, paid_amount = ?, status = ?, notes = ?, updated_at = ?,
			version = version + 1
		WHERE id = ? AND version = ?`,
		updated.BikeID, updated.CustomerName, updated.Phone,
		timeArg(updated.StartDate), timeArg(updated.EndDate),
		updated.TotalAmount, updated.PaidAmount, string(updated.Status), updated.Notes, now,
		updated.ID, current.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("update booking: %w", err)
	}
	if err := expectRow(res, ErrConcurrentModification); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return db.GetBooking(ctx, updated.ID)
}

// ReturnBooking adds additionalPayment to the paid amount and closes the booking.
func (db *DB) ReturnBooking(ctx context.Context, id string, additionalPayment int64) (*model.Booking, error) {
	if additionalPayment < 0 {
		return nil, model.NewValidationError("additionalPayment", "must not be negative")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := db.getBooking(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == model.BookingReturned {
		return nil, model.NewValidationError("status", model.ReasonAlreadyReturned)
	}
	if additionalPayment > current.Balance() {
		return nil, model.NewValidationError("additionalPayment",
			fmt.Sprintf("exceeds outstanding balance of %d", current.Balance()))
	}

	now := db.now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE bookings SET
			paid_amount = paid_amount + ?, status = 'RETURNED', returned_at = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		additionalPayment, now, now, id, current.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("return booking: %w", err)
	}
	if err := expectRow(res, ErrConcurrentModification); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	db.logger.Info().Str("booking_id", id).Int64("payment", additionalPayment).Msg("booking returned")
	return db.GetBooking(ctx, id)
}

// DeleteBooking removes a booking of any status.
func (db *DB) DeleteBooking(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM bookings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete booking: %w", err)
	}
	return expectRow(res, model.BookingNotFound(id))
}

// checkOverlapTx loads the bike's open bookings inside tx and rejects b if it
// collides with any of them except excludeID.
func (db *DB) checkOverlapTx(ctx context.Context, tx *sql.Tx, b *model.Booking, excludeID string) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+bookingColumns+bookingFrom+` WHERE b.bike_id = ? AND b.status != 'RETURNED'`,
		b.BikeID,
	)
	if err != nil {
		return fmt.Errorf("check availability: %w", err)
	}
	defer rows.Close()

	var open []model.Booking
	for rows.Next() {
		existing, err := scanBooking(rows)
		if err != nil {
			return err
		}
		open = append(open, *existing)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("check availability: %w", err)
	}
	sort.SliceStable(open, func(i, j int) bool { return open[i].StartDate.Before(open[j].StartDate) })

	if hit := availability.FindConflict(open, b.Window(), excludeID); hit != nil {
		hit.Status = hit.StatusAt(db.now())
		return &model.ConflictError{NextAvailableDate: hit.EndDate, Booking: hit}
	}
	return nil
}

func (db *DB) getBooking(ctx context.Context, q querier, id string) (*model.Booking, error) {
	b, err := scanBooking(q.QueryRowContext(ctx, `SELECT `+bookingColumns+bookingFrom+` WHERE b.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.BookingNotFound(id)
	}
	return b, err
}

func scanBooking(row rowScanner) (*model.Booking, error) {
	var b model.Booking
	var status string
	var returnedAt sql.NullTime
	err := row.Scan(
		&b.ID, &b.BikeID, &b.BikeName, &b.CustomerName, &b.Phone,
		&b.StartDate, &b.EndDate, &b.TotalAmount, &b.PaidAmount, &status, &b.Notes,
		&returnedAt, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan booking: %w", err)
	}
	b.Status = model.BookingStatus(status)
	if returnedAt.Valid {
		t := returnedAt.Time
		b.ReturnedAt = &t
	}
	return &b, nil
}

func validateAmounts(b *model.Booking) error {
	if b.TotalAmount <= 0 {
		return model.NewValidationError("totalAmount", "must be greater than 0")
	}
	if b.PaidAmount < 0 {
		return model.NewValidationError("paidAmount", "must not be negative")
	}
	if b.PaidAmount > b.TotalAmount {
		return model.NewValidationError("paidAmount", "must not exceed totalAmount")
	}
	if !b.EndDate.After(b.StartDate) {
		return model.NewValidationError("endDate", "must be after startDate")
	}
	return nil
}
