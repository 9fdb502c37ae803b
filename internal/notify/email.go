package notify

import (
	"context"
	"fmt"

	"fitpass/internal/config"
	"fitpass/internal/models"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"
)

type mailer interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// EmailNotifier mails the proof of purchase to the buyer.
type EmailNotifier struct {
	client   mailer
	from     string
	fromName string
	logger   *zerolog.Logger
}

func NewEmailNotifier(cfg config.EmailConfig, logger *zerolog.Logger) (*EmailNotifier, error) {
	client, err := mail.NewClient(
		cfg.Host,
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
	)
	if err != nil {
		return nil, fmt.Errorf("init smtp client: %w", err)
	}
	return &EmailNotifier{client: client, from: cfg.From, fromName: cfg.FromName, logger: logger}, nil
}

// NotifyBooking is a no-op for bookings without an email address.
func (n *EmailNotifier) NotifyBooking(ctx context.Context, b *models.Booking) error {
	if b.UserEmail == "" {
		n.logger.Debug().Str("booking_id", b.ID).Msg("no email on booking, skipping")
		return nil
	}
	msg, err := n.buildMessage(b)
	if err != nil {
		return err
	}
	if err := n.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send confirmation email: %w", err)
	}
	n.logger.Info().Str("booking_id", b.ID).Str("to", b.UserEmail).Msg("confirmation email sent")
	return nil
}

func (n *EmailNotifier) buildMessage(b *models.Booking) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.FromFormat(n.fromName, n.from); err != nil {
		return nil, fmt.Errorf("set from address: %w", err)
	}
	if err := msg.To(b.UserEmail); err != nil {
		return nil, fmt.Errorf("set to address: %w", err)
	}
	msg.Subject(Subject(b))
	msg.SetBodyString(mail.TypeTextPlain, ProofOfPurchase(b))
	return msg, nil
}
