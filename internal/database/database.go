package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB wraps the SQLite handle. All writes go through a single connection so
// conditional updates and inserts in one transaction never interleave.
type DB struct {
	*sql.DB
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	dsn := path
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = path + "?_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{DB: sqlDB, logger: logger}
	if err := db.createTables(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return db, nil
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS listings (
            id TEXT PRIMARY KEY,
            kind TEXT NOT NULL,
            name TEXT NOT NULL,
            location TEXT NOT NULL DEFAULT '',
            image_url TEXT NOT NULL DEFAULT '',
            owner_id TEXT NOT NULL DEFAULT '',
            owner_email TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'pending',
            flat_price REAL,
            custom_prices TEXT NOT NULL DEFAULT '{}',
            capacity INTEGER NOT NULL DEFAULT 0,
            remaining INTEGER NOT NULL DEFAULT 0 CHECK (remaining >= 0),
            tickets_sold INTEGER NOT NULL DEFAULT 0,
            revenue_minor INTEGER NOT NULL DEFAULT 0,
            event_date DATETIME,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS listing_passes (
            listing_id TEXT NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
            duration_days INTEGER NOT NULL,
            price REAL NOT NULL,
            PRIMARY KEY (listing_id, duration_days)
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id TEXT PRIMARY KEY,
            code TEXT NOT NULL UNIQUE,
            kind TEXT NOT NULL,
            user_id TEXT NOT NULL,
            user_email TEXT NOT NULL DEFAULT '',
            listing_id TEXT NOT NULL,
            listing_name TEXT NOT NULL,
            owner_id TEXT NOT NULL DEFAULT '',
            pass_duration_days INTEGER NOT NULL DEFAULT 0,
            quantity INTEGER NOT NULL,
            unit_amount_minor INTEGER NOT NULL,
            amount_minor INTEGER NOT NULL CHECK (amount_minor > 0),
            currency TEXT NOT NULL,
            platform_fee_minor INTEGER NOT NULL,
            owner_payout_minor INTEGER NOT NULL,
            payment_provider TEXT NOT NULL,
            gateway_order_id TEXT NOT NULL,
            payment_id TEXT NOT NULL UNIQUE,
            status TEXT NOT NULL,
            token TEXT NOT NULL DEFAULT '',
            valid_until DATETIME,
            verified_at DATETIME,
            verified_by TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            version INTEGER NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS reconciliations (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            gateway_order_id TEXT NOT NULL,
            payment_id TEXT NOT NULL,
            listing_id TEXT NOT NULL,
            user_id TEXT NOT NULL,
            quantity INTEGER NOT NULL,
            amount_minor INTEGER NOT NULL,
            reason TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'open',
            note TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            resolved_at DATETIME
        )`,
		`CREATE TABLE IF NOT EXISTS order_intents (
            gateway_order_id TEXT PRIMARY KEY,
            listing_id TEXT NOT NULL,
            listing_kind TEXT NOT NULL,
            user_id TEXT NOT NULL,
            pass_duration_days INTEGER NOT NULL DEFAULT 0,
            quantity INTEGER NOT NULL,
            amount_minor INTEGER NOT NULL CHECK (amount_minor > 0),
            currency TEXT NOT NULL,
            receipt TEXT NOT NULL,
            created_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS notification_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            task_type TEXT NOT NULL,
            booking_id TEXT NOT NULL,
            payload TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,

		`CREATE INDEX IF NOT EXISTS idx_listings_status ON listings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_user_listing ON bookings(user_id, listing_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_created_at ON bookings(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_gateway_order ON bookings(gateway_order_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reconciliations_status ON reconciliations(status)`,
		`CREATE INDEX IF NOT EXISTS idx_notification_queue_status ON notification_queue(status, next_retry_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// uniqueViolation reports whether err is a UNIQUE constraint failure on column
// (formatted as "table.column").
func uniqueViolation(err error, column string) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	if sqliteErr.ExtendedCode != sqlite3.ErrConstraintUnique && sqliteErr.ExtendedCode != sqlite3.ErrConstraintPrimaryKey {
		return false
	}
	return strings.Contains(sqliteErr.Error(), column)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func rollback(tx *sql.Tx) {
	_ = tx.Rollback()
}

func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
