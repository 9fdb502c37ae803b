package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fitpass/internal/domain"
	"fitpass/internal/events"
	"fitpass/internal/ledger"
	"fitpass/internal/logging"
	"fitpass/internal/metrics"
	"fitpass/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Reconciliation reasons.
const (
	ReasonCapacityExceeded   = "capacity_exceeded"
	ReasonIntentMismatch     = "intent_mismatch"
	ReasonListingUnavailable = "listing_unavailable"
)

// BookingConfig holds materialization settings.
type BookingConfig struct {
	PlatformFeeBps  int64
	CodeMaxAttempts int
	Currency        string
	Provider        string
}

// MaterializeRequest is the payment proof returned by the client after checkout.
type MaterializeRequest struct {
	GatewayOrderID string
	PaymentID      string
	Signature      string
	ListingID      string
	ActorID        string
	UserEmail      string
	Selector       models.Selector
}

// ManualBookingRequest creates a booking without a payment proof.
type ManualBookingRequest struct {
	ListingID string
	UserID    string
	UserEmail string
	Selector  models.Selector
}

// BookingService turns verified payments into durable bookings.
type BookingService struct {
	repo     domain.Repository
	verifier domain.SignatureVerifier
	intents  domain.IntentStore
	codes    domain.CodeGenerator
	tokens   domain.TokenSealer
	notifier domain.Notifier
	queue    domain.NotificationQueue
	eventBus domain.EventPublisher
	cfg      BookingConfig
	logger   *zerolog.Logger
	now      func() time.Time

	inflight sync.WaitGroup
}

func NewBookingService(
	repo domain.Repository,
	verifier domain.SignatureVerifier,
	intents domain.IntentStore,
	codes domain.CodeGenerator,
	tokens domain.TokenSealer,
	eventBus domain.EventPublisher,
	cfg BookingConfig,
	logger *zerolog.Logger,
) *BookingService {
	if cfg.CodeMaxAttempts <= 0 {
		cfg.CodeMaxAttempts = 5
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	return &BookingService{
		repo:     repo,
		verifier: verifier,
		intents:  intents,
		codes:    codes,
		tokens:   tokens,
		eventBus: eventBus,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// SetNotifier wires the confirmation channel and the retry queue used when
// the first attempt fails. Either may be nil.
func (s *BookingService) SetNotifier(notifier domain.Notifier, queue domain.NotificationQueue) {
	s.notifier = notifier
	s.queue = queue
}

// Materialize verifies the payment signature and, only if it is authentic,
// commits the booking together with its inventory effects. Replaying the same
// payment by the same user returns the existing booking.
func (s *BookingService) Materialize(ctx context.Context, req MaterializeRequest) (*models.Booking, error) {
	if err := s.verifier.Verify(req.GatewayOrderID, req.PaymentID, req.Signature); err != nil {
		s.reportForgery(req, err)
		return nil, err
	}
	metrics.IncPaymentVerification("ok")

	if req.ActorID == "" {
		return nil, domain.ErrUnauthenticated
	}

	if existing, err := s.existingForPayment(ctx, req.PaymentID, req.ActorID); existing != nil || err != nil {
		return existing, err
	}

	listing, err := s.repo.GetListing(ctx, req.ListingID)
	if err != nil {
		return nil, err
	}
	sel := req.Selector.Normalize(listing.Kind)

	intent, err := s.loadIntent(ctx, req.GatewayOrderID)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		s.flagReconciliation(ctx, req, sel.Quantity, 0, ReasonIntentMismatch)
		return nil, fmt.Errorf("%w: no order intent for %s", domain.ErrVerificationFailed, req.GatewayOrderID)
	}
	if intent.ListingID != listing.ID || intent.UserID != req.ActorID || intent.Selector != sel {
		s.flagReconciliation(ctx, req, sel.Quantity, intent.AmountMinor, ReasonIntentMismatch)
		return nil, fmt.Errorf("%w: request does not match order %s", domain.ErrVerificationFailed, req.GatewayOrderID)
	}

	if !listing.IsApproved() {
		s.flagReconciliation(ctx, req, sel.Quantity, intent.AmountMinor, ReasonListingUnavailable)
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrListingNotApproved, listing.ID, listing.Status)
	}

	quote, err := ledger.ResolvePrice(listing, sel)
	if err != nil {
		return nil, err
	}
	if intent.AmountMinor != quote.TotalMinor {
		s.flagReconciliation(ctx, req, sel.Quantity, intent.AmountMinor, ReasonIntentMismatch)
		return nil, fmt.Errorf("%w: order %s was for %d, listing now prices %d",
			domain.ErrVerificationFailed, req.GatewayOrderID, intent.AmountMinor, quote.TotalMinor)
	}

	booking := s.newBooking(listing, quote, req.ActorID, req.UserEmail)
	booking.PaymentProvider = s.cfg.Provider
	booking.GatewayOrderID = req.GatewayOrderID
	booking.PaymentID = req.PaymentID

	err = s.persist(ctx, booking)
	switch {
	case errors.Is(err, domain.ErrCapacityExceeded):
		s.flagReconciliation(ctx, req, booking.Quantity, booking.AmountMinor, ReasonCapacityExceeded)
		publish(s.eventBus, s.logger, events.EventCapacityExceeded, events.BookingEventPayload{
			UserID:         req.ActorID,
			ListingID:      listing.ID,
			Quantity:       booking.Quantity,
			AmountMinor:    booking.AmountMinor,
			GatewayOrderID: req.GatewayOrderID,
			PaymentID:      req.PaymentID,
			Reason:         ReasonCapacityExceeded,
			At:             s.now().UTC(),
		})
		return nil, err
	case errors.Is(err, domain.ErrDuplicatePayment):
		existing, lookupErr := s.existingForPayment(ctx, req.PaymentID, req.ActorID)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if existing == nil {
			return nil, err
		}
		return existing, nil
	case err != nil:
		return nil, err
	}

	if s.intents != nil {
		if err := s.intents.DeleteIntent(ctx, req.GatewayOrderID); err != nil {
			s.logger.Warn().Err(err).Str("gateway_order_id", req.GatewayOrderID).Msg("failed to drop consumed intent")
		}
	}
	s.afterCommit(ctx, booking, req.ActorID)
	return booking, nil
}

// CreateManualBooking books on behalf of a user without payment proof. Every
// other invariant of Materialize still applies.
func (s *BookingService) CreateManualBooking(ctx context.Context, adminID string, req ManualBookingRequest) (*models.Booking, error) {
	if adminID == "" || req.UserID == "" {
		return nil, domain.ErrUnauthenticated
	}

	listing, err := s.repo.GetListing(ctx, req.ListingID)
	if err != nil {
		return nil, err
	}
	if !listing.IsApproved() {
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrListingNotApproved, listing.ID, listing.Status)
	}

	sel := req.Selector.Normalize(listing.Kind)
	if listing.IsEvent() {
		active, err := s.repo.CountActiveBookings(ctx, req.UserID, listing.ID)
		if err != nil {
			return nil, err
		}
		if active > 0 {
			return nil, domain.ErrAlreadyBooked
		}
	}

	quote, err := ledger.ResolvePrice(listing, sel)
	if err != nil {
		return nil, err
	}

	booking := s.newBooking(listing, quote, req.UserID, req.UserEmail)
	booking.PaymentProvider = models.ProviderManual
	booking.PaymentID = "manual_" + booking.ID

	if err := s.persist(ctx, booking); err != nil {
		return nil, err
	}
	s.logger.Info().Str("admin_id", adminID).Str("booking_id", booking.ID).Msg("manual booking created")
	s.afterCommit(ctx, booking, adminID)
	return booking, nil
}

// Wait blocks until in-flight notification dispatches finish.
func (s *BookingService) Wait() {
	s.inflight.Wait()
}

func (s *BookingService) newBooking(listing *models.Listing, quote ledger.Quote, userID, email string) *models.Booking {
	now := s.now()
	fee, payout := ledger.SplitFee(quote.TotalMinor, s.cfg.PlatformFeeBps)

	b := &models.Booking{
		ID:               uuid.NewString(),
		Kind:             listing.Kind,
		UserID:           userID,
		UserEmail:        email,
		ListingID:        listing.ID,
		ListingName:      listing.Name,
		OwnerID:          listing.OwnerID,
		PassDurationDays: quote.DurationDays,
		Quantity:         quote.Quantity,
		UnitAmountMinor:  quote.UnitMinor,
		AmountMinor:      quote.TotalMinor,
		Currency:         s.cfg.Currency,
		PlatformFeeMinor: fee,
		OwnerPayoutMinor: payout,
		Status:           models.InitialStatus(listing.Kind),
	}
	if quote.DurationDays > 0 {
		validUntil := now.Add(time.Duration(quote.DurationDays) * 24 * time.Hour).UTC()
		b.ValidUntil = &validUntil
	}
	return b
}

// persist allocates a booking code and writes the booking, retrying the whole
// transaction on code collisions.
func (s *BookingService) persist(ctx context.Context, booking *models.Booking) error {
	for attempt := 1; attempt <= s.cfg.CodeMaxAttempts; attempt++ {
		code, err := s.codes.Generate()
		if err != nil {
			return err
		}
		booking.Code = code

		token, err := s.tokens.Seal(domain.TokenClaims{BookingID: booking.ID, Code: code, Kind: booking.Kind})
		if err != nil {
			return fmt.Errorf("seal pass token: %w", err)
		}
		booking.Token = token

		if booking.Kind == models.KindEvent {
			err = s.repo.CreateEventBooking(ctx, booking)
		} else {
			err = s.repo.CreateBooking(ctx, booking)
		}
		if errors.Is(err, domain.ErrDuplicateCode) {
			metrics.IncCodeCollision()
			s.logger.Debug().Str("code", code).Int("attempt", attempt).Msg("booking code collision, retrying")
			continue
		}
		return err
	}
	return fmt.Errorf("%w after %d attempts", domain.ErrCodeGeneration, s.cfg.CodeMaxAttempts)
}

func (s *BookingService) existingForPayment(ctx context.Context, paymentID, actorID string) (*models.Booking, error) {
	existing, err := s.repo.GetBookingByPaymentID(ctx, paymentID)
	if errors.Is(err, domain.ErrBookingNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if existing.UserID != actorID {
		logging.Security(s.logger).
			Str("payment_id", paymentID).
			Str("user_id", actorID).
			Str("owner_id", existing.UserID).
			Msg("payment reused by another user")
		return nil, domain.ErrPaymentAlreadyUsed
	}
	s.logger.Info().Str("payment_id", paymentID).Str("booking_id", existing.ID).Msg("payment replay, returning existing booking")
	return existing, nil
}

// loadIntent reads the cached intent and falls back to the durable record.
// A nil intent with a nil error means the order was never issued here.
func (s *BookingService) loadIntent(ctx context.Context, gatewayOrderID string) (*models.OrderIntent, error) {
	if s.intents != nil {
		intent, err := s.intents.GetIntent(ctx, gatewayOrderID)
		if err != nil {
			s.logger.Warn().Err(err).Str("gateway_order_id", gatewayOrderID).Msg("cached intent lookup failed")
		} else if intent != nil {
			return intent, nil
		}
	}

	intent, err := s.repo.GetOrderIntent(ctx, gatewayOrderID)
	if errors.Is(err, domain.ErrIntentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return intent, nil
}

func (s *BookingService) reportForgery(req MaterializeRequest, err error) {
	metrics.IncPaymentVerification("forged")
	logging.Security(s.logger).
		Err(err).
		Str("gateway_order_id", req.GatewayOrderID).
		Str("payment_id", req.PaymentID).
		Str("listing_id", req.ListingID).
		Str("user_id", req.ActorID).
		Msg("forged payment signature rejected")
	publish(s.eventBus, s.logger, events.EventPaymentForged, events.BookingEventPayload{
		UserID:         req.ActorID,
		ListingID:      req.ListingID,
		GatewayOrderID: req.GatewayOrderID,
		PaymentID:      req.PaymentID,
		Reason:         "signature_mismatch",
		At:             s.now().UTC(),
	})
}

// flagReconciliation records a verified payment that could not be fulfilled.
func (s *BookingService) flagReconciliation(ctx context.Context, req MaterializeRequest, quantity int, amount int64, reason string) {
	metrics.IncReconciliation(reason)
	rec := &models.Reconciliation{
		GatewayOrderID: req.GatewayOrderID,
		PaymentID:      req.PaymentID,
		ListingID:      req.ListingID,
		UserID:         req.ActorID,
		Quantity:       quantity,
		AmountMinor:    amount,
		Reason:         reason,
	}
	if err := s.repo.CreateReconciliation(ctx, rec); err != nil {
		s.logger.Error().Err(err).
			Str("payment_id", req.PaymentID).
			Str("reason", reason).
			Msg("failed to record reconciliation for paid order")
		return
	}
	s.logger.Warn().
		Int64("reconciliation_id", rec.ID).
		Str("payment_id", req.PaymentID).
		Str("listing_id", req.ListingID).
		Str("reason", reason).
		Msg("verified payment needs reconciliation")
}

func (s *BookingService) afterCommit(ctx context.Context, booking *models.Booking, actor string) {
	metrics.ObserveBooking(booking.Kind, booking.PlatformFeeMinor, booking.OwnerPayoutMinor)
	publish(s.eventBus, s.logger, events.EventBookingMaterialized, events.PayloadFromBooking(booking, actor))
	s.logger.Info().
		Str("booking_id", booking.ID).
		Str("code", booking.Code).
		Str("listing_id", booking.ListingID).
		Int64("amount", booking.AmountMinor).
		Int64("platform_fee", booking.PlatformFeeMinor).
		Msg("booking materialized")

	if s.notifier == nil {
		return
	}
	snapshot := *booking
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.dispatchNotification(context.WithoutCancel(ctx), &snapshot)
	}()
}

func (s *BookingService) dispatchNotification(ctx context.Context, booking *models.Booking) {
	err := s.notifier.NotifyBooking(ctx, booking)
	if err == nil {
		return
	}
	s.logger.Warn().Err(err).Str("booking_id", booking.ID).Msg("booking notification failed")
	publish(s.eventBus, s.logger, events.EventNotificationFailed, events.PayloadFromBooking(booking, "notifier"))
	if s.queue == nil {
		return
	}
	if qerr := s.queue.EnqueueNotification(ctx, booking, err); qerr != nil {
		s.logger.Error().Err(qerr).Str("booking_id", booking.ID).Msg("failed to queue notification retry")
	}
}
