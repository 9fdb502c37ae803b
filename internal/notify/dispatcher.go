package notify

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"fitpass/internal/domain"
	"fitpass/internal/metrics"
	"fitpass/internal/models"

	"github.com/rs/zerolog"
)

type channel struct {
	name     string
	notifier domain.Notifier
}

// Dispatcher fans a booking out to every registered channel. A failing
// channel does not stop the others.
type Dispatcher struct {
	channels []channel
	logger   *zerolog.Logger
}

func NewDispatcher(logger *zerolog.Logger) *Dispatcher {
	return &Dispatcher{logger: logger}
}

func (d *Dispatcher) Add(name string, n domain.Notifier) {
	d.channels = append(d.channels, channel{name: name, notifier: n})
}

func (d *Dispatcher) Len() int {
	return len(d.channels)
}

// NotifyBooking sends to every channel. When some fail the error is a
// *ChannelError naming them.
func (d *Dispatcher) NotifyBooking(ctx context.Context, b *models.Booking) error {
	return d.NotifyChannels(ctx, b, nil)
}

// NotifyChannels sends only to the named channels, or to all of them when
// names is empty. Names that are no longer registered are skipped.
func (d *Dispatcher) NotifyChannels(ctx context.Context, b *models.Booking, names []string) error {
	var failed []string
	var errs []error
	for _, ch := range d.channels {
		if len(names) > 0 && !slices.Contains(names, ch.name) {
			continue
		}
		if err := ch.notifier.NotifyBooking(ctx, b); err != nil {
			metrics.IncNotification(ch.name, "failed")
			d.logger.Warn().Err(err).Str("channel", ch.name).Str("booking_id", b.ID).Msg("notification channel failed")
			failed = append(failed, ch.name)
			errs = append(errs, fmt.Errorf("%s: %w", ch.name, err))
			continue
		}
		metrics.IncNotification(ch.name, "sent")
	}
	if len(failed) == 0 {
		return nil
	}
	return &ChannelError{Channels: failed, Err: errors.Join(errs...)}
}

// ChannelError lists the channels that did not accept a notification.
type ChannelError struct {
	Channels []string
	Err      error
}

func (e *ChannelError) Error() string {
	return e.Err.Error()
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// FailedChannels returns the channels named by a *ChannelError in err's
// chain, or nil when err does not carry one.
func FailedChannels(err error) []string {
	var chErr *ChannelError
	if errors.As(err, &chErr) {
		return slices.Clone(chErr.Channels)
	}
	return nil
}
