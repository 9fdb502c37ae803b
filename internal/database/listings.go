package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fitpass/internal/domain"
	"fitpass/internal/models"
)

const listingColumns = `id, kind, name, location, image_url, owner_id, owner_email, status, flat_price,
	custom_prices, capacity, remaining, tickets_sold, revenue_minor, event_date, created_at, updated_at`

// UpsertListing inserts a listing or refreshes its catalog fields. Moderation
// status and sales counters of an existing listing are preserved; remaining
// capacity moves by the capacity delta.
func (db *DB) UpsertListing(ctx context.Context, listing *models.Listing) error {
	customPrices, err := json.Marshal(listing.CustomPrices)
	if err != nil {
		return fmt.Errorf("encode custom prices: %w", err)
	}
	if listing.CustomPrices == nil {
		customPrices = []byte("{}")
	}
	if listing.Status == "" {
		listing.Status = models.ListingPending
	}

	remaining := listing.Remaining
	if remaining == 0 {
		remaining = listing.Capacity
	}

	now := time.Now().UTC()
	return db.withTx(ctx, func(tx *sql.Tx) error {
		query := `INSERT INTO listings (id, kind, name, location, image_url, owner_id, owner_email, status,
	                  flat_price, custom_prices, capacity, remaining, event_date, created_at, updated_at)
	              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	              ON CONFLICT(id) DO UPDATE SET
	                  kind = excluded.kind,
	                  name = excluded.name,
	                  location = excluded.location,
	                  image_url = excluded.image_url,
	                  owner_id = excluded.owner_id,
	                  owner_email = excluded.owner_email,
	                  flat_price = excluded.flat_price,
	                  custom_prices = excluded.custom_prices,
	                  remaining = MAX(0, listings.remaining + excluded.capacity - listings.capacity),
	                  capacity = excluded.capacity,
	                  event_date = excluded.event_date,
	                  updated_at = excluded.updated_at`
		_, err := tx.ExecContext(ctx, query,
			listing.ID,
			listing.Kind,
			listing.Name,
			listing.Location,
			listing.ImageURL,
			listing.OwnerID,
			listing.OwnerEmail,
			listing.Status,
			listing.FlatPrice,
			string(customPrices),
			listing.Capacity,
			remaining,
			listing.EventDate,
			now,
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert listing: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM listing_passes WHERE listing_id = ?`, listing.ID); err != nil {
			return fmt.Errorf("failed to clear listing passes: %w", err)
		}
		for _, p := range listing.Passes {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO listing_passes (listing_id, duration_days, price) VALUES (?, ?, ?)`,
				listing.ID, p.DurationDays, p.Price)
			if err != nil {
				return fmt.Errorf("failed to insert listing pass: %w", err)
			}
		}
		return nil
	})
}

func (db *DB) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE id = ?`
	listing, err := scanListing(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrListingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}

	passes, err := db.passesFor(ctx, id)
	if err != nil {
		return nil, err
	}
	listing.Passes = passes[id]
	return listing, nil
}

// ListListings returns listings filtered by status, or all when status is empty.
func (db *DB) ListListings(ctx context.Context, status string) ([]*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY kind, name`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}

	var listings []*models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	passes, err := db.passesFor(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, l := range listings {
		l.Passes = passes[l.ID]
	}
	return listings, nil
}

func (db *DB) SetListingStatus(ctx context.Context, id, status string) error {
	query := `UPDATE listings SET status = ?, updated_at = ? WHERE id = ?`
	result, err := db.ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update listing status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrListingNotFound
	}
	return nil
}

// passesFor loads pass tiers keyed by listing id; an empty id loads all.
func (db *DB) passesFor(ctx context.Context, listingID string) (map[string][]models.Pass, error) {
	query := `SELECT listing_id, duration_days, price FROM listing_passes`
	var args []any
	if listingID != "" {
		query += ` WHERE listing_id = ?`
		args = append(args, listingID)
	}
	query += ` ORDER BY listing_id, duration_days`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get listing passes: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]models.Pass)
	for rows.Next() {
		var id string
		var p models.Pass
		if err := rows.Scan(&id, &p.DurationDays, &p.Price); err != nil {
			return nil, fmt.Errorf("failed to scan listing pass: %w", err)
		}
		out[id] = append(out[id], p)
	}
	return out, rows.Err()
}

func scanListing(row rowScanner) (*models.Listing, error) {
	var l models.Listing
	var flat sql.NullFloat64
	var custom string
	var eventDate sql.NullTime

	err := row.Scan(
		&l.ID, &l.Kind, &l.Name, &l.Location, &l.ImageURL, &l.OwnerID, &l.OwnerEmail, &l.Status, &flat,
		&custom, &l.Capacity, &l.Remaining, &l.TicketsSold, &l.RevenueMinor, &eventDate, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if flat.Valid {
		v := flat.Float64
		l.FlatPrice = &v
	}
	if eventDate.Valid {
		t := eventDate.Time
		l.EventDate = &t
	}
	if custom != "" && custom != "null" {
		if err := json.Unmarshal([]byte(custom), &l.CustomPrices); err != nil {
			return nil, fmt.Errorf("decode custom prices for %s: %w", l.ID, err)
		}
	}
	return &l, nil
}
