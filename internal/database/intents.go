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

// SaveOrderIntent records the order a gateway payment will be matched against.
// Gateway order ids are unique, so a second save for the same id fails.
func (db *DB) SaveOrderIntent(ctx context.Context, intent *models.OrderIntent) error {
	createdAt := intent.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	query := `INSERT INTO order_intents (gateway_order_id, listing_id, listing_kind, user_id,
	              pass_duration_days, quantity, amount_minor, currency, receipt, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query,
		intent.GatewayOrderID,
		intent.ListingID,
		intent.ListingKind,
		intent.UserID,
		intent.Selector.PassDurationDays,
		intent.Selector.Quantity,
		intent.AmountMinor,
		intent.Currency,
		intent.Receipt,
		createdAt,
	)
	if err != nil {
		if uniqueViolation(err, "order_intents.gateway_order_id") {
			return fmt.Errorf("order intent %s already recorded: %w", intent.GatewayOrderID, err)
		}
		return fmt.Errorf("failed to save order intent: %w", err)
	}
	intent.CreatedAt = createdAt
	return nil
}

func (db *DB) GetOrderIntent(ctx context.Context, gatewayOrderID string) (*models.OrderIntent, error) {
	query := `SELECT gateway_order_id, listing_id, listing_kind, user_id, pass_duration_days, quantity,
	                 amount_minor, currency, receipt, created_at
	          FROM order_intents WHERE gateway_order_id = ?`
	var intent models.OrderIntent
	err := db.QueryRowContext(ctx, query, gatewayOrderID).Scan(
		&intent.GatewayOrderID,
		&intent.ListingID,
		&intent.ListingKind,
		&intent.UserID,
		&intent.Selector.PassDurationDays,
		&intent.Selector.Quantity,
		&intent.AmountMinor,
		&intent.Currency,
		&intent.Receipt,
		&intent.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrIntentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order intent: %w", err)
	}
	return &intent, nil
}
