package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"fitpass/internal/domain"
	"fitpass/internal/events"
	"fitpass/internal/metrics"
	"fitpass/internal/models"
	"fitpass/internal/pass"

	"github.com/rs/zerolog"
)

// CheckInResult is the venue-facing decision for a scan.
type CheckInResult struct {
	Valid   bool            `json:"valid"`
	Message string          `json:"message,omitempty"`
	Booking *models.Summary `json:"booking,omitempty"`
}

// CheckInService consumes passes at the venue. A pass is accepted once; every
// later scan is rejected.
type CheckInService struct {
	repo     domain.BookingRepository
	tokens   domain.TokenSealer
	eventBus domain.EventPublisher
	logger   *zerolog.Logger
	now      func() time.Time
}

func NewCheckInService(repo domain.BookingRepository, tokens domain.TokenSealer, eventBus domain.EventPublisher, logger *zerolog.Logger) *CheckInService {
	return &CheckInService{
		repo:     repo,
		tokens:   tokens,
		eventBus: eventBus,
		logger:   logger,
		now:      time.Now,
	}
}

// CheckIn accepts a booking code or a scanned pass token. Rejections return
// a result with Valid=false together with the typed error.
func (s *CheckInService) CheckIn(ctx context.Context, codeOrToken, verifierID string) (*CheckInResult, error) {
	if verifierID == "" {
		return nil, domain.ErrUnauthenticated
	}

	booking, err := s.resolve(ctx, codeOrToken)
	if err != nil {
		if errors.Is(err, domain.ErrBookingNotFound) {
			metrics.IncCheckIn("not_found")
			return &CheckInResult{Valid: false, Message: err.Error()}, err
		}
		return nil, err
	}

	now := s.now()
	if !booking.IsRedeemable(now) {
		return s.reject(booking, verifierID), domain.ErrAlreadyUsedOrInvalid
	}

	if err := s.repo.CheckInBooking(ctx, booking.ID, verifierID, now); err != nil {
		if errors.Is(err, domain.ErrAlreadyUsedOrInvalid) {
			return s.reject(booking, verifierID), err
		}
		return nil, err
	}

	verifiedAt := now.UTC()
	booking.Status = models.StatusCheckedIn
	booking.VerifiedAt = &verifiedAt
	booking.VerifiedBy = verifierID

	metrics.IncCheckIn("valid")
	publish(s.eventBus, s.logger, events.EventBookingCheckedIn, events.PayloadFromBooking(booking, verifierID))
	s.logger.Info().
		Str("booking_id", booking.ID).
		Str("code", booking.Code).
		Str("verified_by", verifierID).
		Msg("pass checked in")

	summary := booking.Summary()
	return &CheckInResult{Valid: true, Booking: &summary}, nil
}

// Lookup returns the booking behind a code or token without consuming it.
func (s *CheckInService) Lookup(ctx context.Context, codeOrToken string) (*models.Booking, error) {
	return s.resolve(ctx, codeOrToken)
}

func (s *CheckInService) reject(booking *models.Booking, verifierID string) *CheckInResult {
	metrics.IncCheckIn("rejected")
	s.logger.Warn().
		Str("booking_id", booking.ID).
		Str("code", booking.Code).
		Str("status", booking.Status).
		Str("verifier", verifierID).
		Msg("pass rejected at check-in")
	return &CheckInResult{Valid: false, Message: domain.ErrAlreadyUsedOrInvalid.Error()}
}

func (s *CheckInService) resolve(ctx context.Context, codeOrToken string) (*models.Booking, error) {
	raw := strings.TrimSpace(codeOrToken)
	if raw == "" {
		return nil, domain.ErrBookingNotFound
	}

	booking, err := s.repo.GetBookingByCode(ctx, pass.NormalizeCode(raw))
	if err == nil || !errors.Is(err, domain.ErrBookingNotFound) || s.tokens == nil {
		return booking, err
	}

	claims, openErr := s.tokens.Open(raw)
	if openErr != nil {
		return nil, domain.ErrBookingNotFound
	}
	booking, err = s.repo.GetBookingByCode(ctx, claims.Code)
	if err != nil {
		return nil, err
	}
	if booking.ID != claims.BookingID {
		return nil, domain.ErrBookingNotFound
	}
	return booking, nil
}
