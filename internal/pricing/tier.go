// Package pricing computes message costs from volume-discount tiers.
// All money is decimal; unit costs are rounded to 6 places and totals to
// 4 places (1/100 cent), half away from zero.
package pricing

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Channel is a message delivery channel.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
)

// Channels lists every billable channel.
var Channels = []Channel{ChannelEmail, ChannelSMS}

var (
	ErrNegativeCount  = errors.New("count must not be negative")
	ErrUnknownChannel = errors.New("unknown channel")
	ErrInvalidTiers   = errors.New("invalid pricing tiers")
)

// Tier is a volume band. MaxVolume is exclusive and nil for the top tier.
type Tier struct {
	Name            string                      `json:"name"`
	MinVolume       int64                       `json:"minVolume"`
	MaxVolume       *int64                      `json:"maxVolume"`
	DiscountPercent decimal.Decimal             `json:"discountPercent"`
	BasePrices      map[Channel]decimal.Decimal `json:"basePrices"`
}

// Contains reports whether volume falls in [MinVolume, MaxVolume).
func (t Tier) Contains(volume int64) bool {
	if volume < t.MinVolume {
		return false
	}
	return t.MaxVolume == nil || volume < *t.MaxVolume
}

// clone copies t so that no map or bound is shared with the original.
func (t Tier) clone() Tier {
	out := t
	if t.MaxVolume != nil {
		out.MaxVolume = bound(*t.MaxVolume)
	}
	out.BasePrices = make(map[Channel]decimal.Decimal, len(t.BasePrices))
	for ch, p := range t.BasePrices {
		out.BasePrices[ch] = p
	}
	return out
}

func cloneTiers(tiers []Tier) []Tier {
	out := make([]Tier, len(tiers))
	for i, t := range tiers {
		out[i] = t.clone()
	}
	return out
}

var (
	EmailBasePrice = decimal.RequireFromString("0.0010")
	SMSBasePrice   = decimal.RequireFromString("0.0075")
)

func bound(v int64) *int64 { return &v }

// DefaultTiers returns the standard volume bands.
func DefaultTiers() []Tier {
	base := func() map[Channel]decimal.Decimal {
		return map[Channel]decimal.Decimal{
			ChannelEmail: EmailBasePrice,
			ChannelSMS:   SMSBasePrice,
		}
	}
	return []Tier{
		{Name: "STARTER", MinVolume: 0, MaxVolume: bound(10_000), DiscountPercent: decimal.Zero, BasePrices: base()},
		{Name: "GROWTH", MinVolume: 10_000, MaxVolume: bound(100_000), DiscountPercent: decimal.NewFromInt(10), BasePrices: base()},
		{Name: "SCALE", MinVolume: 100_000, MaxVolume: bound(1_000_000), DiscountPercent: decimal.NewFromInt(20), BasePrices: base()},
		{Name: "ENTERPRISE", MinVolume: 1_000_000, MaxVolume: nil, DiscountPercent: decimal.NewFromInt(30), BasePrices: base()},
	}
}

// validateTiers checks that tiers partition [0, ∞) and returns them sorted.
func validateTiers(tiers []Tier) ([]Tier, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("%w: no tiers", ErrInvalidTiers)
	}

	sorted := cloneTiers(tiers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinVolume < sorted[j].MinVolume })

	hundred := decimal.NewFromInt(100)
	var next int64
	for i, t := range sorted {
		if t.MinVolume != next {
			return nil, fmt.Errorf("%w: tier %s starts at %d, want %d", ErrInvalidTiers, t.Name, t.MinVolume, next)
		}
		last := i == len(sorted)-1
		switch {
		case last && t.MaxVolume != nil:
			return nil, fmt.Errorf("%w: top tier %s must be unbounded", ErrInvalidTiers, t.Name)
		case !last && t.MaxVolume == nil:
			return nil, fmt.Errorf("%w: only the top tier may be unbounded, got %s", ErrInvalidTiers, t.Name)
		case !last && *t.MaxVolume <= t.MinVolume:
			return nil, fmt.Errorf("%w: tier %s is empty", ErrInvalidTiers, t.Name)
		}
		if t.DiscountPercent.IsNegative() || t.DiscountPercent.GreaterThan(hundred) {
			return nil, fmt.Errorf("%w: tier %s discount %s out of range", ErrInvalidTiers, t.Name, t.DiscountPercent)
		}
		for _, ch := range Channels {
			p, ok := t.BasePrices[ch]
			if !ok || p.IsNegative() {
				return nil, fmt.Errorf("%w: tier %s has no valid %s price", ErrInvalidTiers, t.Name, ch)
			}
		}
		if !last {
			next = *t.MaxVolume
		}
	}
	return sorted, nil
}
