package models

import (
	"sort"
	"time"
)

// Pass is a purchasable gym pass tier.
type Pass struct {
	DurationDays int     `json:"duration_days" yaml:"duration_days"`
	Price        float64 `json:"price" yaml:"price"`
}

// Listing is a gym or an event offered on the marketplace. Prices are in
// major currency units as supplied by the catalog.
type Listing struct {
	ID           string          `json:"id" yaml:"id"`
	Kind         string          `json:"kind" yaml:"kind"`
	Name         string          `json:"name" yaml:"name"`
	Location     string          `json:"location" yaml:"location"`
	ImageURL     string          `json:"image_url,omitempty" yaml:"image_url"`
	OwnerID      string          `json:"owner_id" yaml:"owner_id"`
	OwnerEmail   string          `json:"owner_email,omitempty" yaml:"owner_email"`
	Status       string          `json:"status" yaml:"status"`
	Passes       []Pass          `json:"passes,omitempty" yaml:"passes"`
	CustomPrices map[int]float64 `json:"custom_prices,omitempty" yaml:"custom_prices"`
	FlatPrice    *float64        `json:"flat_price,omitempty" yaml:"flat_price"`
	Capacity     int             `json:"capacity,omitempty" yaml:"capacity"`
	Remaining    int             `json:"remaining,omitempty" yaml:"remaining"`
	TicketsSold  int             `json:"tickets_sold,omitempty" yaml:"-"`
	RevenueMinor int64           `json:"revenue_minor,omitempty" yaml:"-"`
	EventDate    *time.Time      `json:"event_date,omitempty" yaml:"event_date"`
	CreatedAt    time.Time       `json:"created_at" yaml:"-"`
	UpdatedAt    time.Time       `json:"updated_at" yaml:"-"`
}

func (l *Listing) IsEvent() bool {
	return l.Kind == KindEvent
}

func (l *Listing) IsApproved() bool {
	return l.Status == ListingApproved
}

// SortPasses orders pass tiers by duration.
func (l *Listing) SortPasses() {
	sort.Slice(l.Passes, func(i, j int) bool {
		return l.Passes[i].DurationDays < l.Passes[j].DurationDays
	})
}

// Selector identifies what is being bought from a listing.
type Selector struct {
	PassDurationDays int `json:"pass_duration_days,omitempty"`
	Quantity         int `json:"quantity,omitempty"`
}

// Normalize forces gym selections to a single pass.
func (s Selector) Normalize(kind string) Selector {
	if kind == KindGym {
		s.Quantity = 1
	}
	return s
}
