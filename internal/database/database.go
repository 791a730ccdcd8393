// Package database is the sqlite-backed record of the fleet and its bookings.
// It arbitrates overlapping writes and derives the RENTED bike status on read.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB represents the database connection.
type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
	now    func() time.Time
}

var (
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrBikeInUse              = errors.New("bike has bookings")
)

// NewDB opens the database at path and creates tables if they don't exist.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL keeps readers off the writer's back; busy_timeout absorbs short lock waits.
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := newWithConn(conn, path, logger)
	if err := db.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return db, nil
}

func newWithConn(conn *sql.DB, path string, logger *zerolog.Logger) *DB {
	return &DB{DB: conn, path: path, logger: logger, now: time.Now}
}

// Path returns the database file location.
func (db *DB) Path() string {
	return db.path
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS bikes (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			registration_number TEXT NOT NULL DEFAULT '',
			daily_rate INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'AVAILABLE',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS bookings (
			id TEXT PRIMARY KEY,
			bike_id TEXT NOT NULL,
			customer_name TEXT NOT NULL,
			phone TEXT NOT NULL,
			start_date DATETIME NOT NULL,
			end_date DATETIME NOT NULL,
			total_amount INTEGER NOT NULL,
			paid_amount INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			FOREIGN KEY(bike_id) REFERENCES bikes(id)
		)`,

		`CREATE UNIQUE INDEX IF NOT EXISTS idx_bikes_registration ON bikes(registration_number) WHERE registration_number != ''`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_bike_status ON bookings(bike_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_start ON bookings(start_date)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}

	return db.ensureNewColumns()
}

// ensureNewColumns adds columns introduced after the first schema.
func (db *DB) ensureNewColumns() error {
	migrations := []string{
		`ALTER TABLE bookings ADD COLUMN returned_at DATETIME`,
	}

	for _, m := range migrations {
		_, err := db.Exec(m)
		if err == nil {
			continue
		}
		if strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
			continue
		}
		return fmt.Errorf("migration %q: %w", m, err)
	}
	return nil
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

func (db *DB) Close() error {
	return db.DB.Close()
}
