package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"fitpass/internal/domain"
	"fitpass/internal/ledger"
	"fitpass/internal/models"

	"github.com/rs/zerolog"
)

type ListingService struct {
	repo   domain.ListingRepository
	logger *zerolog.Logger
}

func NewListingService(repo domain.ListingRepository, logger *zerolog.Logger) *ListingService {
	return &ListingService{repo: repo, logger: logger}
}

// ValidateListing checks that a listing has a usable price definition.
func ValidateListing(l *models.Listing) error {
	if strings.TrimSpace(l.ID) == "" || strings.TrimSpace(l.Name) == "" {
		return fmt.Errorf("%w: id and name are required", domain.ErrInvalidListing)
	}
	switch l.Status {
	case "", models.ListingPending, models.ListingApproved, models.ListingRejected:
	default:
		return fmt.Errorf("%w: unknown status %q", domain.ErrInvalidListing, l.Status)
	}

	switch l.Kind {
	case models.KindEvent:
		if l.FlatPrice == nil || !positive(*l.FlatPrice) {
			return fmt.Errorf("%w: event %s needs a positive ticket price", domain.ErrInvalidListing, l.ID)
		}
		if l.Capacity <= 0 {
			return fmt.Errorf("%w: event %s needs a positive capacity", domain.ErrInvalidListing, l.ID)
		}
		if *l.FlatPrice*float64(l.Capacity) > maxPriceMajor {
			return fmt.Errorf("%w: event %s could gross more than %.0f", domain.ErrInvalidListing, l.ID, maxPriceMajor)
		}
	case models.KindGym:
		if len(l.Passes) == 0 && len(l.CustomPrices) == 0 && l.FlatPrice == nil {
			return fmt.Errorf("%w: gym %s has no prices", domain.ErrInvalidListing, l.ID)
		}
		seen := make(map[int]bool, len(l.Passes))
		for _, p := range l.Passes {
			if p.DurationDays <= 0 || !positive(p.Price) {
				return fmt.Errorf("%w: gym %s has an invalid pass %+v", domain.ErrInvalidListing, l.ID, p)
			}
			if seen[p.DurationDays] {
				return fmt.Errorf("%w: gym %s repeats the %d-day pass", domain.ErrInvalidListing, l.ID, p.DurationDays)
			}
			seen[p.DurationDays] = true
		}
		for days, price := range l.CustomPrices {
			if days <= 0 || !positive(price) {
				return fmt.Errorf("%w: gym %s has an invalid custom price for %d days", domain.ErrInvalidListing, l.ID, days)
			}
		}
		if l.FlatPrice != nil && !positive(*l.FlatPrice) {
			return fmt.Errorf("%w: gym %s has a non-positive flat price", domain.ErrInvalidListing, l.ID)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidListing, l.Kind)
	}
	return nil
}

// maxPriceMajor keeps every quote under ledger.MaxTotalMinor.
const maxPriceMajor = float64(ledger.MaxTotalMinor / 100)

func positive(v float64) bool {
	return v > 0 && v <= maxPriceMajor && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func (s *ListingService) UpsertListing(ctx context.Context, l *models.Listing) error {
	if err := ValidateListing(l); err != nil {
		return err
	}
	l.SortPasses()
	if err := s.repo.UpsertListing(ctx, l); err != nil {
		return err
	}
	s.logger.Info().Str("listing_id", l.ID).Str("kind", l.Kind).Msg("listing saved")
	return nil
}

// SeedCatalog upserts every valid listing and skips the rest.
func (s *ListingService) SeedCatalog(ctx context.Context, listings []*models.Listing) (int, error) {
	saved := 0
	for _, l := range listings {
		err := s.UpsertListing(ctx, l)
		if errors.Is(err, domain.ErrInvalidListing) {
			s.logger.Warn().Err(err).Str("listing_id", l.ID).Msg("skipping catalog entry")
			continue
		}
		if err != nil {
			return saved, err
		}
		saved++
	}
	return saved, nil
}

func (s *ListingService) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	return s.repo.GetListing(ctx, id)
}

// ListApproved returns the listings open for sale.
func (s *ListingService) ListApproved(ctx context.Context) ([]*models.Listing, error) {
	return s.repo.ListListings(ctx, models.ListingApproved)
}

func (s *ListingService) ListListings(ctx context.Context, status string) ([]*models.Listing, error) {
	return s.repo.ListListings(ctx, status)
}

// SetStatus moves a listing through moderation.
func (s *ListingService) SetStatus(ctx context.Context, id, status, moderatorID string) error {
	switch status {
	case models.ListingPending, models.ListingApproved, models.ListingRejected:
	default:
		return fmt.Errorf("%w: unknown status %q", domain.ErrInvalidListing, status)
	}
	if err := s.repo.SetListingStatus(ctx, id, status); err != nil {
		return err
	}
	s.logger.Info().Str("listing_id", id).Str("status", status).Str("moderator", moderatorID).Msg("listing status changed")
	return nil
}
