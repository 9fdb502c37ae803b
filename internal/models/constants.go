package models

// Listing kinds.
const (
	KindGym   = "gym"
	KindEvent = "event"
)

// Listing moderation statuses.
const (
	ListingPending  = "pending"
	ListingApproved = "approved"
	ListingRejected = "rejected"
)

// Booking statuses. Gym passes start confirmed, event bookings start active.
const (
	StatusConfirmed = "confirmed"
	StatusActive    = "active"
	StatusCheckedIn = "checked-in"
	StatusCancelled = "cancelled"
	StatusExpired   = "expired"
)

// Reconciliation statuses.
const (
	ReconciliationOpen     = "open"
	ReconciliationResolved = "resolved"
)

// Notification task statuses.
const (
	TaskPending   = "pending"
	TaskRetry     = "retry"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

const (
	// ProviderManual marks bookings created by an administrator without a payment proof.
	ProviderManual = "manual"

	// MaxReceiptLength is the gateway limit for order receipts.
	MaxReceiptLength = 40

	// DefaultIntentTTL is the cache lifetime of an order intent copy, in seconds.
	DefaultIntentTTL = 30 * 60
)
