package events

import (
	"encoding/json"
	"sync"
	"time"

	"fitpass/internal/models"

	"github.com/rs/zerolog"
)

const (
	EventOrderCreated        = "order_created"
	EventPaymentForged       = "payment_forged"
	EventBookingMaterialized = "booking_materialized"
	EventCapacityExceeded    = "capacity_exceeded"
	EventBookingCheckedIn    = "booking_checked_in"
	EventBookingCancelled    = "booking_cancelled"
	EventNotificationFailed  = "notification_failed"
)

// Wildcard subscribers receive every event type.
const Wildcard = "*"

// BookingEventPayload is the booking snapshot handed to event consumers.
type BookingEventPayload struct {
	BookingID      string    `json:"booking_id,omitempty"`
	Code           string    `json:"code,omitempty"`
	Kind           string    `json:"kind,omitempty"`
	UserID         string    `json:"user_id"`
	ListingID      string    `json:"listing_id"`
	Quantity       int       `json:"quantity,omitempty"`
	AmountMinor    int64     `json:"amount_minor,omitempty"`
	Status         string    `json:"status,omitempty"`
	GatewayOrderID string    `json:"gateway_order_id,omitempty"`
	PaymentID      string    `json:"payment_id,omitempty"`
	Actor          string    `json:"actor,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	At             time.Time `json:"at"`
}

// PayloadFromBooking copies the fields consumers care about.
func PayloadFromBooking(b *models.Booking, actor string) BookingEventPayload {
	return BookingEventPayload{
		BookingID:      b.ID,
		Code:           b.Code,
		Kind:           b.Kind,
		UserID:         b.UserID,
		ListingID:      b.ListingID,
		Quantity:       b.Quantity,
		AmountMinor:    b.AmountMinor,
		Status:         b.Status,
		GatewayOrderID: b.GatewayOrderID,
		PaymentID:      b.PaymentID,
		Actor:          actor,
		At:             time.Now().UTC(),
	}
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the JSON payload into v.
func (e *Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	logger      *zerolog.Logger
}

// NewEventBus constructs an empty bus. Handler errors are logged to logger
// when it is non-nil.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler), logger: logger}
}

// Subscribe registers a handler for a given event type, or Wildcard.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type, then wildcard subscribers.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.subscribers[Wildcard]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil && b.logger != nil {
			b.logger.Warn().Err(err).Str("event", event.Type).Msg("event handler failed")
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}

// LogSubscriber returns a handler that writes every event to logger at debug level.
func LogSubscriber(logger *zerolog.Logger) EventHandler {
	return func(event *Event) error {
		logger.Debug().
			Str("event", event.Type).
			RawJSON("payload", event.Payload).
			Time("at", event.CreatedAt).
			Msg("domain event")
		return nil
	}
}
