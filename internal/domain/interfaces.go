package domain

import (
	"context"
	"time"

	"fitpass/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type ListingRepository interface {
	GetListing(ctx context.Context, id string) (*models.Listing, error)
	ListListings(ctx context.Context, status string) ([]*models.Listing, error)
	UpsertListing(ctx context.Context, listing *models.Listing) error
	SetListingStatus(ctx context.Context, id, status string) error
}

type BookingRepository interface {
	CountActiveBookings(ctx context.Context, userID, listingID string) (int, error)
	CreateBooking(ctx context.Context, booking *models.Booking) error
	CreateEventBooking(ctx context.Context, booking *models.Booking) error
	GetBookingByID(ctx context.Context, id string) (*models.Booking, error)
	GetBookingByCode(ctx context.Context, code string) (*models.Booking, error)
	GetBookingByPaymentID(ctx context.Context, paymentID string) (*models.Booking, error)
	CheckInBooking(ctx context.Context, id, verifiedBy string, at time.Time) error
	CancelBooking(ctx context.Context, id string) error
	ExpireBookings(ctx context.Context, now time.Time) (int64, error)
	ListBookings(ctx context.Context, start, end time.Time) ([]*models.Booking, error)
	GetListingRevenue(ctx context.Context) ([]*models.ListingRevenue, error)
}

type ReconciliationRepository interface {
	CreateReconciliation(ctx context.Context, rec *models.Reconciliation) error
	ListReconciliations(ctx context.Context, status string) ([]*models.Reconciliation, error)
	ResolveReconciliation(ctx context.Context, id int64, note string) error
}

// FailedNotifications lists notification retries that were given up on.
type FailedNotifications interface {
	GetFailedNotificationTasks(ctx context.Context) ([]models.NotificationTask, error)
}

// OrderIntentRepository is the durable record of every gateway order issued.
type OrderIntentRepository interface {
	SaveOrderIntent(ctx context.Context, intent *models.OrderIntent) error
	GetOrderIntent(ctx context.Context, gatewayOrderID string) (*models.OrderIntent, error)
}

type Repository interface {
	ListingRepository
	BookingRepository
	ReconciliationRepository
	OrderIntentRepository
}

// IntentStore keeps short-lived order intent copies and per-actor counters.
type IntentStore interface {
	SaveIntent(ctx context.Context, intent *models.OrderIntent, ttl time.Duration) error
	// GetIntent returns nil, nil when the intent is unknown or expired.
	GetIntent(ctx context.Context, gatewayOrderID string) (*models.OrderIntent, error)
	DeleteIntent(ctx context.Context, gatewayOrderID string) error
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type PaymentGateway interface {
	CreateOrder(ctx context.Context, req models.GatewayOrderRequest) (*models.GatewayOrder, error)
}

type SignatureVerifier interface {
	Verify(gatewayOrderID, paymentID, signature string) error
}

type CodeGenerator interface {
	Generate() (string, error)
}

// TokenClaims is the content sealed inside a pass verification token.
type TokenClaims struct {
	BookingID string `json:"bid"`
	Code      string `json:"code"`
	Kind      string `json:"kind"`
}

type TokenSealer interface {
	Seal(claims TokenClaims) (string, error)
	Open(token string) (*TokenClaims, error)
}

// Notifier delivers a booking confirmation over one or more channels.
type Notifier interface {
	NotifyBooking(ctx context.Context, booking *models.Booking) error
}

// NotificationQueue persists failed notifications for later retries.
type NotificationQueue interface {
	EnqueueNotification(ctx context.Context, booking *models.Booking, cause error) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}
