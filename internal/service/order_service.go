package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"fitpass/internal/domain"
	"fitpass/internal/events"
	"fitpass/internal/ledger"
	"fitpass/internal/metrics"
	"fitpass/internal/models"

	"github.com/rs/zerolog"
)

// OrderConfig holds the order-time settings taken from configuration.
type OrderConfig struct {
	Currency    string
	IntentTTL   time.Duration
	OrderLimit  int
	OrderWindow time.Duration
}

// OrderResult is what the client needs to start the gateway checkout.
type OrderResult struct {
	Intent *models.OrderIntent
	Quote  ledger.Quote
}

type OrderService struct {
	repo     domain.Repository
	gateway  domain.PaymentGateway
	intents  domain.IntentStore
	eventBus domain.EventPublisher
	cfg      OrderConfig
	logger   *zerolog.Logger
	now      func() time.Time
}

func NewOrderService(repo domain.Repository, gateway domain.PaymentGateway, intents domain.IntentStore, eventBus domain.EventPublisher, cfg OrderConfig, logger *zerolog.Logger) *OrderService {
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	if cfg.IntentTTL <= 0 {
		cfg.IntentTTL = models.DefaultIntentTTL * time.Second
	}
	return &OrderService{
		repo:     repo,
		gateway:  gateway,
		intents:  intents,
		eventBus: eventBus,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateOrder validates a purchase and registers it with the gateway. No
// gateway call is made when validation fails, and event capacity is only
// checked here, never reserved.
func (s *OrderService) CreateOrder(ctx context.Context, actorID, listingID string, selector models.Selector) (*OrderResult, error) {
	if actorID == "" {
		return nil, domain.ErrUnauthenticated
	}
	if err := s.checkRateLimit(ctx, actorID); err != nil {
		return nil, err
	}

	listing, err := s.repo.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if !listing.IsApproved() {
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrListingNotApproved, listing.ID, listing.Status)
	}

	sel := selector.Normalize(listing.Kind)
	if listing.IsEvent() {
		if sel.Quantity < 1 {
			return nil, domain.ErrInvalidQuantity
		}
		active, err := s.repo.CountActiveBookings(ctx, actorID, listing.ID)
		if err != nil {
			return nil, err
		}
		if active > 0 {
			return nil, domain.ErrAlreadyBooked
		}
		if err := ledger.CheckCapacity(listing, sel.Quantity); err != nil {
			return nil, err
		}
	}

	quote, err := ledger.ResolvePrice(listing, sel)
	if err != nil {
		return nil, err
	}

	now := s.now()
	receipt := BuildReceipt(listing.ID, now)
	order, err := s.gateway.CreateOrder(ctx, models.GatewayOrderRequest{
		AmountMinor: quote.TotalMinor,
		Currency:    s.cfg.Currency,
		Receipt:     receipt,
		Notes: map[string]string{
			"listing_id": listing.ID,
			"user_id":    actorID,
			"selection":  describeSelection(listing.Kind, sel),
		},
	})
	if err != nil {
		if !errors.Is(err, domain.ErrGatewayUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
		}
		s.logger.Error().Err(err).Str("listing_id", listing.ID).Str("user_id", actorID).Msg("gateway order creation failed")
		return nil, err
	}

	intent := &models.OrderIntent{
		GatewayOrderID: order.ID,
		AmountMinor:    quote.TotalMinor,
		Currency:       s.cfg.Currency,
		Receipt:        receipt,
		ListingID:      listing.ID,
		ListingKind:    listing.Kind,
		UserID:         actorID,
		Selector:       sel,
		CreatedAt:      now.UTC(),
	}
	if err := s.repo.SaveOrderIntent(ctx, intent); err != nil {
		s.logger.Error().Err(err).Str("gateway_order_id", order.ID).Msg("failed to record order intent")
		return nil, err
	}
	if s.intents != nil {
		if err := s.intents.SaveIntent(ctx, intent, s.cfg.IntentTTL); err != nil {
			s.logger.Warn().Err(err).Str("gateway_order_id", order.ID).Msg("failed to cache order intent")
		}
	}

	metrics.IncOrderCreated(listing.Kind)
	publish(s.eventBus, s.logger, events.EventOrderCreated, events.BookingEventPayload{
		Kind:           listing.Kind,
		UserID:         actorID,
		ListingID:      listing.ID,
		Quantity:       sel.Quantity,
		AmountMinor:    quote.TotalMinor,
		GatewayOrderID: order.ID,
		At:             now.UTC(),
	})
	s.logger.Info().
		Str("gateway_order_id", order.ID).
		Str("listing_id", listing.ID).
		Str("user_id", actorID).
		Int64("amount", quote.TotalMinor).
		Msg("order created")

	return &OrderResult{Intent: intent, Quote: quote}, nil
}

func (s *OrderService) checkRateLimit(ctx context.Context, actorID string) error {
	if s.intents == nil || s.cfg.OrderLimit <= 0 {
		return nil
	}
	window := s.cfg.OrderWindow
	if window <= 0 {
		window = time.Minute
	}
	allowed, err := s.intents.CheckRateLimit(ctx, "orders:"+actorID, s.cfg.OrderLimit, window)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", actorID).Msg("rate limit check failed, allowing request")
		return nil
	}
	if !allowed {
		return domain.ErrRateLimited
	}
	return nil
}

// BuildReceipt derives rcpt_<last 12 of listing id>_<last 10 digits of unix
// millis>, cut to the gateway's receipt limit.
func BuildReceipt(listingID string, now time.Time) string {
	millis := strconv.FormatInt(now.UnixMilli(), 10)
	receipt := "rcpt_" + lastN(listingID, 12) + "_" + lastN(millis, 10)
	if len(receipt) > models.MaxReceiptLength {
		receipt = receipt[:models.MaxReceiptLength]
	}
	return receipt
}

func lastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func describeSelection(kind string, sel models.Selector) string {
	if kind == models.KindEvent {
		return fmt.Sprintf("tickets:%d", sel.Quantity)
	}
	return fmt.Sprintf("pass:%dd", sel.PassDurationDays)
}
