// Package ledger resolves what a selection on a listing costs and whether an
// event still has room for it.
package ledger

import (
	"fmt"
	"math/bits"

	"fitpass/internal/domain"
	"fitpass/internal/models"
)

// PriceKind tags which price definition on the listing produced a quote.
type PriceKind string

const (
	PricePass   PriceKind = "pass"
	PriceCustom PriceKind = "custom"
	PriceFlat   PriceKind = "flat"
)

// MaxTotalMinor bounds any single quote so that totals, fee splits and
// per-listing revenue sums stay within int64.
const MaxTotalMinor int64 = 1 << 53

// Quote is a price snapshot for a selection. Amounts are minor units.
type Quote struct {
	Kind       PriceKind
	UnitMinor  int64
	Quantity   int
	TotalMinor int64
	Descriptor string
	// DurationDays is zero for events.
	DurationDays int
}

// ResolvePrice returns the price for selector on listing. Gyms resolve the
// exact pass duration first, then the custom price for that duration, then
// the flat price. Events use the flat price times quantity.
func ResolvePrice(listing *models.Listing, selector models.Selector) (Quote, error) {
	if listing == nil {
		return Quote{}, domain.ErrListingNotFound
	}
	sel := selector.Normalize(listing.Kind)

	switch listing.Kind {
	case models.KindGym:
		return resolveGym(listing, sel)
	case models.KindEvent:
		return resolveEvent(listing, sel)
	default:
		return Quote{}, fmt.Errorf("%w: unknown listing kind %q", domain.ErrInvalidSelection, listing.Kind)
	}
}

func resolveGym(listing *models.Listing, sel models.Selector) (Quote, error) {
	days := sel.PassDurationDays
	if days <= 0 {
		return Quote{}, fmt.Errorf("%w: pass duration is required", domain.ErrInvalidSelection)
	}

	for _, p := range listing.Passes {
		if p.DurationDays == days {
			return quote(PricePass, p.Price, 1, days, fmt.Sprintf("%d-day pass", days))
		}
	}
	if price, ok := listing.CustomPrices[days]; ok {
		return quote(PriceCustom, price, 1, days, fmt.Sprintf("%d-day custom pass", days))
	}
	if listing.FlatPrice != nil {
		return quote(PriceFlat, *listing.FlatPrice, 1, days, fmt.Sprintf("%d-day pass (flat)", days))
	}
	return Quote{}, fmt.Errorf("%w: no %d-day price on %s", domain.ErrInvalidSelection, days, listing.ID)
}

func resolveEvent(listing *models.Listing, sel models.Selector) (Quote, error) {
	if sel.Quantity < 1 {
		return Quote{}, domain.ErrInvalidQuantity
	}
	if listing.FlatPrice == nil {
		return Quote{}, fmt.Errorf("%w: event %s has no ticket price", domain.ErrInvalidSelection, listing.ID)
	}
	return quote(PriceFlat, *listing.FlatPrice, sel.Quantity, 0, fmt.Sprintf("%d ticket(s)", sel.Quantity))
}

func quote(kind PriceKind, unitMajor float64, quantity, days int, descriptor string) (Quote, error) {
	unit, err := models.ToMinor(unitMajor)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %v", domain.ErrInvalidAmount, err)
	}
	if unit <= 0 {
		return Quote{}, domain.ErrInvalidAmount
	}
	if quantity > 0 && unit > MaxTotalMinor/int64(quantity) {
		return Quote{}, fmt.Errorf("%w: %d x %d exceeds %d", domain.ErrInvalidAmount, quantity, unit, MaxTotalMinor)
	}
	return Quote{
		Kind:         kind,
		UnitMinor:    unit,
		Quantity:     quantity,
		TotalMinor:   unit * int64(quantity),
		Descriptor:   descriptor,
		DurationDays: days,
	}, nil
}

// CheckCapacity reports whether an event can still seat quantity. It does not
// reserve anything; the reservation happens in storage at materialization.
func CheckCapacity(listing *models.Listing, quantity int) error {
	if !listing.IsEvent() {
		return nil
	}
	if quantity < 1 {
		return domain.ErrInvalidQuantity
	}
	if quantity > listing.Remaining {
		return fmt.Errorf("%w: requested %d, remaining %d", domain.ErrInsufficientCapacity, quantity, listing.Remaining)
	}
	return nil
}

// SplitFee divides amount into the platform fee and the owner payout. The fee
// is amount*bps/10000 rounded half up; the payout is the remainder. bps is
// clamped to 0..10000 and the product is taken in 128 bits.
func SplitFee(amountMinor, feeBps int64) (fee, payout int64) {
	if amountMinor <= 0 {
		return 0, amountMinor
	}
	feeBps = max(0, min(feeBps, 10000))
	hi, lo := bits.Mul64(uint64(amountMinor), uint64(feeBps))
	lo, carry := bits.Add64(lo, 5000, 0)
	q, _ := bits.Div64(hi+carry, lo, 10000)
	fee = int64(q)
	return fee, amountMinor - fee
}
