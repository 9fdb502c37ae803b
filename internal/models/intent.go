package models

import "time"

// OrderIntent is the local copy of a gateway order created before payment.
type OrderIntent struct {
	GatewayOrderID string    `json:"gateway_order_id"`
	AmountMinor    int64     `json:"amount_minor"`
	Currency       string    `json:"currency"`
	Receipt        string    `json:"receipt"`
	ListingID      string    `json:"listing_id"`
	ListingKind    string    `json:"listing_kind"`
	UserID         string    `json:"user_id"`
	Selector       Selector  `json:"selector"`
	CreatedAt      time.Time `json:"created_at"`
}

// Reconciliation records a verified payment that could not be fulfilled.
type Reconciliation struct {
	ID             int64      `json:"id"`
	GatewayOrderID string     `json:"gateway_order_id"`
	PaymentID      string     `json:"payment_id"`
	ListingID      string     `json:"listing_id"`
	UserID         string     `json:"user_id"`
	Quantity       int        `json:"quantity"`
	AmountMinor    int64      `json:"amount_minor"`
	Reason         string     `json:"reason"`
	Status         string     `json:"status"`
	Note           string     `json:"note,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// NotificationTask represents a queued booking notification retry.
type NotificationTask struct {
	ID          int64      `json:"id"`
	TaskType    string     `json:"task_type"`
	BookingID   string     `json:"booking_id"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	LastError   *string    `json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at"`
	NextRetryAt *time.Time `json:"next_retry_at"`
}

// GatewayOrderRequest is sent to the payment gateway to open an order.
type GatewayOrderRequest struct {
	AmountMinor int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Receipt     string            `json:"receipt"`
	Notes       map[string]string `json:"notes,omitempty"`
}

// GatewayOrder is the gateway's view of an opened order.
type GatewayOrder struct {
	ID          string `json:"id"`
	AmountMinor int64  `json:"amount"`
	Currency    string `json:"currency"`
	Receipt     string `json:"receipt"`
	Status      string `json:"status"`
}
