package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fitpass/internal/domain"
	"fitpass/internal/models"
)

const bookingColumns = `id, code, kind, user_id, user_email, listing_id, listing_name, owner_id, pass_duration_days,
	quantity, unit_amount_minor, amount_minor, currency, platform_fee_minor, owner_payout_minor,
	payment_provider, gateway_order_id, payment_id, status, token, valid_until, verified_at, verified_by,
	created_at, updated_at, version`

// CountActiveBookings counts bookings of a user on a listing that still hold a seat.
func (db *DB) CountActiveBookings(ctx context.Context, userID, listingID string) (int, error) {
	query := `SELECT COUNT(*) FROM bookings WHERE user_id = ? AND listing_id = ? AND status IN (?, ?, ?)`
	var count int
	err := db.QueryRowContext(ctx, query, userID, listingID,
		models.StatusActive, models.StatusConfirmed, models.StatusCheckedIn).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active bookings: %w", err)
	}
	return count, nil
}

// CreateBooking inserts a booking without touching inventory and credits the
// listing revenue.
func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertBooking(ctx, tx, booking); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE listings SET revenue_minor = revenue_minor + ?, updated_at = ? WHERE id = ?`,
			booking.AmountMinor, booking.UpdatedAt, booking.ListingID)
		if err != nil {
			return fmt.Errorf("failed to credit listing revenue: %w", err)
		}
		return nil
	})
}

// CreateEventBooking decrements event capacity and inserts the booking in one
// transaction. The decrement is a single conditional update, so concurrent
// buyers can never drive remaining below zero.
func (db *DB) CreateEventBooking(ctx context.Context, booking *models.Booking) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		query := `UPDATE listings
	              SET remaining = remaining - ?, tickets_sold = tickets_sold + ?,
	                  revenue_minor = revenue_minor + ?, updated_at = ?
	              WHERE id = ? AND kind = ? AND remaining >= ?`
		result, err := tx.ExecContext(ctx, query,
			booking.Quantity, booking.Quantity, booking.AmountMinor, time.Now().UTC(),
			booking.ListingID, models.KindEvent, booking.Quantity)
		if err != nil {
			return fmt.Errorf("failed to reserve capacity: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read reserved rows: %w", err)
		}
		if rows == 0 {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM listings WHERE id = ? AND kind = ?`,
				booking.ListingID, models.KindEvent).Scan(&exists)
			if err != nil {
				return fmt.Errorf("failed to check listing: %w", err)
			}
			if exists == 0 {
				return domain.ErrListingNotFound
			}
			return domain.ErrCapacityExceeded
		}

		return insertBooking(ctx, tx, booking)
	})
}

func insertBooking(ctx context.Context, tx *sql.Tx, b *models.Booking) error {
	now := time.Now().UTC()
	query := `INSERT INTO bookings (` + bookingColumns + `)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, query,
		b.ID, b.Code, b.Kind, b.UserID, b.UserEmail, b.ListingID, b.ListingName, b.OwnerID, b.PassDurationDays,
		b.Quantity, b.UnitAmountMinor, b.AmountMinor, b.Currency, b.PlatformFeeMinor, b.OwnerPayoutMinor,
		b.PaymentProvider, b.GatewayOrderID, b.PaymentID, b.Status, b.Token, utcPtr(b.ValidUntil), utcPtr(b.VerifiedAt), b.VerifiedBy,
		now, now, 1,
	)
	if err != nil {
		switch {
		case uniqueViolation(err, "bookings.code"):
			return domain.ErrDuplicateCode
		case uniqueViolation(err, "bookings.payment_id"):
			return domain.ErrDuplicatePayment
		}
		return fmt.Errorf("failed to insert booking: %w", err)
	}

	b.CreatedAt = now
	b.UpdatedAt = now
	b.Version = 1
	return nil
}

func (db *DB) GetBookingByID(ctx context.Context, id string) (*models.Booking, error) {
	return db.getBooking(ctx, "id", id)
}

func (db *DB) GetBookingByCode(ctx context.Context, code string) (*models.Booking, error) {
	return db.getBooking(ctx, "code", code)
}

func (db *DB) GetBookingByPaymentID(ctx context.Context, paymentID string) (*models.Booking, error) {
	return db.getBooking(ctx, "payment_id", paymentID)
}

func (db *DB) getBooking(ctx context.Context, column, value string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE ` + column + ` = ?`
	b, err := scanBooking(db.QueryRowContext(ctx, query, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking by %s: %w", column, err)
	}
	return b, nil
}

// CheckInBooking moves a redeemable booking to checked-in. Exactly one of any
// number of concurrent callers succeeds; the rest get ErrAlreadyUsedOrInvalid.
func (db *DB) CheckInBooking(ctx context.Context, id, verifiedBy string, at time.Time) error {
	at = at.UTC()
	query := `UPDATE bookings
	          SET status = ?, verified_at = ?, verified_by = ?, version = version + 1, updated_at = ?
	          WHERE id = ? AND status IN (?, ?) AND (valid_until IS NULL OR valid_until >= ?)`
	result, err := db.ExecContext(ctx, query,
		models.StatusCheckedIn, at, verifiedBy, at,
		id, models.StatusConfirmed, models.StatusActive, at)
	if err != nil {
		return fmt.Errorf("failed to check in booking: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrAlreadyUsedOrInvalid
	}
	return nil
}

// CancelBooking cancels a live booking and, for events, returns its seats.
func (db *DB) CancelBooking(ctx context.Context, id string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		var kind, listingID string
		var quantity int
		var amount int64
		err := tx.QueryRowContext(ctx,
			`SELECT kind, listing_id, quantity, amount_minor FROM bookings WHERE id = ?`, id,
		).Scan(&kind, &listingID, &quantity, &amount)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrBookingNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load booking: %w", err)
		}

		now := time.Now().UTC()
		result, err := tx.ExecContext(ctx,
			`UPDATE bookings SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
			models.StatusCancelled, now, id, models.StatusConfirmed, models.StatusActive)
		if err != nil {
			return fmt.Errorf("failed to cancel booking: %w", err)
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			return domain.ErrNotCancellable
		}

		if kind == models.KindEvent {
			_, err = tx.ExecContext(ctx,
				`UPDATE listings SET remaining = remaining + ?, tickets_sold = tickets_sold - ?,
				        revenue_minor = revenue_minor - ?, updated_at = ? WHERE id = ?`,
				quantity, quantity, amount, now, listingID)
		} else {
			_, err = tx.ExecContext(ctx,
				`UPDATE listings SET revenue_minor = revenue_minor - ?, updated_at = ? WHERE id = ?`,
				amount, now, listingID)
		}
		if err != nil {
			return fmt.Errorf("failed to restore listing counters: %w", err)
		}
		return nil
	})
}

// ExpireBookings marks confirmed gym passes past their validity as expired.
func (db *DB) ExpireBookings(ctx context.Context, now time.Time) (int64, error) {
	now = now.UTC()
	query := `UPDATE bookings SET status = ?, version = version + 1, updated_at = ?
	          WHERE status = ? AND valid_until IS NOT NULL AND valid_until < ?`
	result, err := db.ExecContext(ctx, query, models.StatusExpired, now, models.StatusConfirmed, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire bookings: %w", err)
	}
	return result.RowsAffected()
}

// ListBookings returns bookings created within [start, end].
func (db *DB) ListBookings(ctx context.Context, start, end time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE created_at >= ? AND created_at <= ? ORDER BY created_at ASC`
	rows, err := db.QueryContext(ctx, query, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// GetListingRevenue aggregates non-cancelled bookings per listing.
func (db *DB) GetListingRevenue(ctx context.Context) ([]*models.ListingRevenue, error) {
	query := `SELECT listing_id, listing_name, COUNT(*), SUM(quantity), SUM(amount_minor),
	                 SUM(platform_fee_minor), SUM(owner_payout_minor)
	          FROM bookings WHERE status != ?
	          GROUP BY listing_id, listing_name ORDER BY listing_name`
	rows, err := db.QueryContext(ctx, query, models.StatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("failed to get listing revenue: %w", err)
	}
	defer rows.Close()

	var out []*models.ListingRevenue
	for rows.Next() {
		var r models.ListingRevenue
		if err := rows.Scan(&r.ListingID, &r.ListingName, &r.Bookings, &r.Quantity,
			&r.AmountMinor, &r.PlatformFeeMinor, &r.OwnerPayoutMinor); err != nil {
			return nil, fmt.Errorf("failed to scan listing revenue: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var b models.Booking
	var validUntil, verifiedAt sql.NullTime

	err := row.Scan(
		&b.ID, &b.Code, &b.Kind, &b.UserID, &b.UserEmail, &b.ListingID, &b.ListingName, &b.OwnerID, &b.PassDurationDays,
		&b.Quantity, &b.UnitAmountMinor, &b.AmountMinor, &b.Currency, &b.PlatformFeeMinor, &b.OwnerPayoutMinor,
		&b.PaymentProvider, &b.GatewayOrderID, &b.PaymentID, &b.Status, &b.Token, &validUntil, &verifiedAt, &b.VerifiedBy,
		&b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	if validUntil.Valid {
		t := validUntil.Time
		b.ValidUntil = &t
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		b.VerifiedAt = &t
	}
	return &b, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
