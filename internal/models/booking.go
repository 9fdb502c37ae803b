package models

import "time"

// Booking is a paid gym pass or event ticket. Amounts are minor currency units.
type Booking struct {
	ID               string     `json:"id"`
	Code             string     `json:"code"`
	Kind             string     `json:"kind"`
	UserID           string     `json:"user_id"`
	UserEmail        string     `json:"user_email,omitempty"`
	ListingID        string     `json:"listing_id"`
	ListingName      string     `json:"listing_name"`
	OwnerID          string     `json:"owner_id"`
	PassDurationDays int        `json:"pass_duration_days,omitempty"`
	Quantity         int        `json:"quantity"`
	UnitAmountMinor  int64      `json:"unit_amount_minor"`
	AmountMinor      int64      `json:"amount_minor"`
	Currency         string     `json:"currency"`
	PlatformFeeMinor int64      `json:"platform_fee_minor"`
	OwnerPayoutMinor int64      `json:"owner_payout_minor"`
	PaymentProvider  string     `json:"payment_provider"`
	GatewayOrderID   string     `json:"gateway_order_id"`
	PaymentID        string     `json:"payment_id"`
	Status           string     `json:"status"`
	Token            string     `json:"-"`
	ValidUntil       *time.Time `json:"valid_until,omitempty"`
	VerifiedAt       *time.Time `json:"verified_at,omitempty"`
	VerifiedBy       string     `json:"verified_by,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	Version          int64      `json:"version"`
}

// InitialStatus returns the status a freshly paid booking of the kind starts in.
func InitialStatus(kind string) string {
	if kind == KindEvent {
		return StatusActive
	}
	return StatusConfirmed
}

// IsRedeemable reports whether the booking can still be checked in at now.
func (b *Booking) IsRedeemable(now time.Time) bool {
	if b.Status != StatusConfirmed && b.Status != StatusActive {
		return false
	}
	if b.ValidUntil != nil && now.After(*b.ValidUntil) {
		return false
	}
	return true
}

// IsCancellable reports whether the booking is still live.
func (b *Booking) IsCancellable() bool {
	return b.Status == StatusConfirmed || b.Status == StatusActive
}

// Summary is the pass view shown to venue staff after a scan.
type Summary struct {
	BookingID   string     `json:"booking_id"`
	Code        string     `json:"code"`
	Kind        string     `json:"kind"`
	UserID      string     `json:"user_id"`
	ListingID   string     `json:"listing_id"`
	ListingName string     `json:"listing_name"`
	Quantity    int        `json:"quantity"`
	Status      string     `json:"status"`
	ValidUntil  *time.Time `json:"valid_until,omitempty"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
}

func (b *Booking) Summary() Summary {
	return Summary{
		BookingID:   b.ID,
		Code:        b.Code,
		Kind:        b.Kind,
		UserID:      b.UserID,
		ListingID:   b.ListingID,
		ListingName: b.ListingName,
		Quantity:    b.Quantity,
		Status:      b.Status,
		ValidUntil:  b.ValidUntil,
		VerifiedAt:  b.VerifiedAt,
	}
}

// ListingRevenue aggregates booking totals per listing for reports.
type ListingRevenue struct {
	ListingID        string `json:"listing_id"`
	ListingName      string `json:"listing_name"`
	Bookings         int    `json:"bookings"`
	Quantity         int    `json:"quantity"`
	AmountMinor      int64  `json:"amount_minor"`
	PlatformFeeMinor int64  `json:"platform_fee_minor"`
	OwnerPayoutMinor int64  `json:"owner_payout_minor"`
}
