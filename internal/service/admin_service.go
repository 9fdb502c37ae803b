package service

import (
	"context"

	"fitpass/internal/domain"
	"fitpass/internal/events"
	"fitpass/internal/models"
	"fitpass/internal/pass"

	"github.com/rs/zerolog"
)

// AdminService covers the back-office flows around bookings.
type AdminService struct {
	repo          domain.Repository
	notifications domain.FailedNotifications
	eventBus      domain.EventPublisher
	logger        *zerolog.Logger
}

func NewAdminService(repo domain.Repository, eventBus domain.EventPublisher, logger *zerolog.Logger) *AdminService {
	return &AdminService{repo: repo, eventBus: eventBus, logger: logger}
}

// CancelBooking cancels a live booking by code. Event seats go back on sale.
func (s *AdminService) CancelBooking(ctx context.Context, code, adminID string) (*models.Booking, error) {
	if adminID == "" {
		return nil, domain.ErrUnauthenticated
	}
	booking, err := s.repo.GetBookingByCode(ctx, pass.NormalizeCode(code))
	if err != nil {
		return nil, err
	}
	if !booking.IsCancellable() {
		return nil, domain.ErrNotCancellable
	}
	if err := s.repo.CancelBooking(ctx, booking.ID); err != nil {
		return nil, err
	}

	booking.Status = models.StatusCancelled
	publish(s.eventBus, s.logger, events.EventBookingCancelled, events.PayloadFromBooking(booking, adminID))
	s.logger.Info().
		Str("booking_id", booking.ID).
		Str("code", booking.Code).
		Str("admin_id", adminID).
		Msg("booking cancelled")
	return booking, nil
}

// SetNotificationStore wires the retry queue whose dead tasks admins can list.
func (s *AdminService) SetNotificationStore(store domain.FailedNotifications) {
	s.notifications = store
}

// ListFailedNotifications returns confirmations that exhausted their retries,
// newest first. Without a notification store there is nothing to list.
func (s *AdminService) ListFailedNotifications(ctx context.Context) ([]models.NotificationTask, error) {
	if s.notifications == nil {
		return nil, nil
	}
	return s.notifications.GetFailedNotificationTasks(ctx)
}

func (s *AdminService) ListReconciliations(ctx context.Context, status string) ([]*models.Reconciliation, error) {
	return s.repo.ListReconciliations(ctx, status)
}

func (s *AdminService) ResolveReconciliation(ctx context.Context, id int64, note, adminID string) error {
	if adminID == "" {
		return domain.ErrUnauthenticated
	}
	if err := s.repo.ResolveReconciliation(ctx, id, note); err != nil {
		return err
	}
	s.logger.Info().Int64("reconciliation_id", id).Str("admin_id", adminID).Msg("reconciliation resolved")
	return nil
}
