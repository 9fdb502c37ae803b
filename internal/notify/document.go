package notify

import (
	"fmt"
	"strings"
	"time"

	"fitpass/internal/models"
)

// Subject is the confirmation headline for a booking.
func Subject(b *models.Booking) string {
	if b.Kind == models.KindEvent {
		return fmt.Sprintf("Your tickets for %s: %s", b.ListingName, b.Code)
	}
	return fmt.Sprintf("Your %s pass: %s", b.ListingName, b.Code)
}

// ProofOfPurchase renders the plain-text receipt sent to the buyer. The
// booking code is what venue staff check in.
func ProofOfPurchase(b *models.Booking) string {
	var sb strings.Builder

	sb.WriteString("Booking confirmed\n\n")
	fmt.Fprintf(&sb, "Code: %s\n", b.Code)
	fmt.Fprintf(&sb, "Listing: %s\n", b.ListingName)
	if b.Kind == models.KindEvent {
		fmt.Fprintf(&sb, "Tickets: %d\n", b.Quantity)
	} else {
		fmt.Fprintf(&sb, "Pass: %d day(s)\n", b.PassDurationDays)
	}
	if b.ValidUntil != nil {
		fmt.Fprintf(&sb, "Valid until: %s\n", b.ValidUntil.UTC().Format(time.RFC1123))
	}
	fmt.Fprintf(&sb, "Amount paid: %s %s\n", models.FormatMinor(b.AmountMinor), b.Currency)
	if b.PaymentID != "" {
		fmt.Fprintf(&sb, "Payment reference: %s\n", b.PaymentID)
	}
	sb.WriteString("\nShow this code at the entrance. It can be used once.\n")

	return sb.String()
}

// ownerAlert is the short line posted to the operations chat.
func ownerAlert(b *models.Booking) string {
	return fmt.Sprintf("New booking %s for %s: %d x %s %s (fee %s)",
		b.Code, b.ListingName, b.Quantity,
		models.FormatMinor(b.UnitAmountMinor), b.Currency,
		models.FormatMinor(b.PlatformFeeMinor))
}
