package worker

import (
	"context"
	"time"

	"fitpass/internal/domain"

	"github.com/rs/zerolog"
)

// ExpirySweeper marks gym passes past their validity as expired.
type ExpirySweeper struct {
	bookings domain.BookingRepository
	interval time.Duration
	logger   *zerolog.Logger
	now      func() time.Time
}

func NewExpirySweeper(bookings domain.BookingRepository, interval time.Duration, logger *zerolog.Logger) *ExpirySweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &ExpirySweeper{bookings: bookings, interval: interval, logger: logger, now: time.Now}
}

func (s *ExpirySweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one expiry pass and returns the number of bookings expired.
func (s *ExpirySweeper) Sweep(ctx context.Context) int64 {
	n, err := s.bookings.ExpireBookings(ctx, s.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("expire bookings")
		return 0
	}
	if n > 0 {
		s.logger.Info().Int64("expired", n).Msg("expired stale passes")
	}
	return n
}
