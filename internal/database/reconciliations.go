package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fitpass/internal/domain"
	"fitpass/internal/models"
)

func (db *DB) CreateReconciliation(ctx context.Context, rec *models.Reconciliation) error {
	query := `INSERT INTO reconciliations (gateway_order_id, payment_id, listing_id, user_id, quantity,
	              amount_minor, reason, status, note, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	if rec.Status == "" {
		rec.Status = models.ReconciliationOpen
	}
	result, err := db.ExecContext(ctx, query,
		rec.GatewayOrderID,
		rec.PaymentID,
		rec.ListingID,
		rec.UserID,
		rec.Quantity,
		rec.AmountMinor,
		rec.Reason,
		rec.Status,
		rec.Note,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create reconciliation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	rec.ID = id
	rec.CreatedAt = now
	return nil
}

// ListReconciliations returns records with the given status, or all when empty.
func (db *DB) ListReconciliations(ctx context.Context, status string) ([]*models.Reconciliation, error) {
	query := `SELECT id, gateway_order_id, payment_id, listing_id, user_id, quantity, amount_minor,
	                 reason, status, note, created_at, resolved_at
	          FROM reconciliations`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliations: %w", err)
	}
	defer rows.Close()

	var out []*models.Reconciliation
	for rows.Next() {
		var r models.Reconciliation
		var resolvedAt sql.NullTime
		err := rows.Scan(&r.ID, &r.GatewayOrderID, &r.PaymentID, &r.ListingID, &r.UserID, &r.Quantity,
			&r.AmountMinor, &r.Reason, &r.Status, &r.Note, &r.CreatedAt, &resolvedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation: %w", err)
		}
		if resolvedAt.Valid {
			t := resolvedAt.Time
			r.ResolvedAt = &t
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (db *DB) ResolveReconciliation(ctx context.Context, id int64, note string) error {
	query := `UPDATE reconciliations SET status = ?, note = ?, resolved_at = ? WHERE id = ? AND status = ?`
	result, err := db.ExecContext(ctx, query,
		models.ReconciliationResolved, note, time.Now().UTC(), id, models.ReconciliationOpen)
	if err != nil {
		return fmt.Errorf("failed to resolve reconciliation: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrReconciliationNotFound
	}
	return nil
}
