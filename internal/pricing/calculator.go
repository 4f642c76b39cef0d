package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	unitPlaces     int32 = 6
	moneyPlaces    int32 = 4
	discountPlaces int32 = 2
)

var hundred = decimal.NewFromInt(100)

// Calculator prices message batches against a fixed tier table. It holds no
// mutable state, so identical inputs always yield identical results.
type Calculator struct {
	tiers []Tier
}

// NewCalculator validates tiers and builds a Calculator.
func NewCalculator(tiers []Tier) (*Calculator, error) {
	sorted, err := validateTiers(tiers)
	if err != nil {
		return nil, err
	}
	return &Calculator{tiers: sorted}, nil
}

// DefaultCalculator uses DefaultTiers.
func DefaultCalculator() *Calculator {
	c, err := NewCalculator(DefaultTiers())
	if err != nil {
		panic(err)
	}
	return c
}

// Tiers returns a copy of the tier table ordered by volume.
func (c *Calculator) Tiers() []Tier {
	return cloneTiers(c.tiers)
}

// ResolveTier returns the tier containing volume.
func (c *Calculator) ResolveTier(volume int64) (Tier, error) {
	if volume < 0 {
		return Tier{}, fmt.Errorf("volume %d: %w", volume, ErrNegativeCount)
	}
	for _, t := range c.tiers {
		if t.Contains(volume) {
			return t, nil
		}
	}
	// Unreachable for a validated table.
	return c.tiers[len(c.tiers)-1], nil
}

type BatchCostResult struct {
	Channel         Channel         `json:"channel"`
	MessageCount    int64           `json:"messageCount"`
	Tier            string          `json:"tier"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	BasePrice       decimal.Decimal `json:"basePrice"`
	UnitCost        decimal.Decimal `json:"unitCost"`
	TotalCost       decimal.Decimal `json:"totalCost"`
	Savings         decimal.Decimal `json:"savings"`
}

// CalculateBatchCost prices messageCount messages on channel for a vendor
// whose volume so far this period is currentVolume.
func (c *Calculator) CalculateBatchCost(channel Channel, messageCount, currentVolume int64) (BatchCostResult, error) {
	if messageCount < 0 {
		return BatchCostResult{}, fmt.Errorf("message count %d: %w", messageCount, ErrNegativeCount)
	}

	tier, err := c.ResolveTier(currentVolume)
	if err != nil {
		return BatchCostResult{}, err
	}

	base, ok := tier.BasePrices[channel]
	if !ok {
		return BatchCostResult{}, fmt.Errorf("%q: %w", channel, ErrUnknownChannel)
	}

	count := decimal.NewFromInt(messageCount)
	unit := base.Mul(hundred.Sub(tier.DiscountPercent)).Div(hundred).Round(unitPlaces)
	total := unit.Mul(count).Round(moneyPlaces)
	atBase := base.Mul(count).Round(moneyPlaces)

	return BatchCostResult{
		Channel:         channel,
		MessageCount:    messageCount,
		Tier:            tier.Name,
		DiscountPercent: tier.DiscountPercent,
		BasePrice:       base,
		UnitCost:        unit,
		TotalCost:       total,
		Savings:         atBase.Sub(total),
	}, nil
}

type MonthlyUsage struct {
	EmailCount int64 `json:"emailCount"`
	SMSCount   int64 `json:"smsCount"`
}

type ChannelCost struct {
	Count           int64           `json:"count"`
	Tier            string          `json:"tier"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	UnitCost        decimal.Decimal `json:"unitCost"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Total           decimal.Decimal `json:"total"`
}

type MonthlyCostResult struct {
	Email                    ChannelCost     `json:"email"`
	SMS                      ChannelCost     `json:"sms"`
	TotalMessages            int64           `json:"totalMessages"`
	Subtotal                 decimal.Decimal `json:"subtotal"`
	TotalCost                decimal.Decimal `json:"totalCost"`
	Savings                  decimal.Decimal `json:"savings"`
	EffectiveDiscountPercent decimal.Decimal `json:"effectiveDiscountPercent"`
}

// EstimateMonthlyCost prices a month of usage. Each channel resolves its tier
// from its own volume; the reported discount is the blended effective rate.
func (c *Calculator) EstimateMonthlyCost(u MonthlyUsage) (MonthlyCostResult, error) {
	email, err := c.channelCost(ChannelEmail, u.EmailCount)
	if err != nil {
		return MonthlyCostResult{}, err
	}
	sms, err := c.channelCost(ChannelSMS, u.SMSCount)
	if err != nil {
		return MonthlyCostResult{}, err
	}

	subtotal := email.Subtotal.Add(sms.Subtotal)
	total := email.Total.Add(sms.Total)
	savings := subtotal.Sub(total)

	effective := decimal.Zero
	if !subtotal.IsZero() {
		effective = savings.Mul(hundred).DivRound(subtotal, discountPlaces)
	}

	return MonthlyCostResult{
		Email:                    email,
		SMS:                      sms,
		TotalMessages:            u.EmailCount + u.SMSCount,
		Subtotal:                 subtotal,
		TotalCost:                total,
		Savings:                  savings,
		EffectiveDiscountPercent: effective,
	}, nil
}

func (c *Calculator) channelCost(ch Channel, count int64) (ChannelCost, error) {
	res, err := c.CalculateBatchCost(ch, count, count)
	if err != nil {
		return ChannelCost{}, fmt.Errorf("%s: %w", ch, err)
	}
	return ChannelCost{
		Count:           count,
		Tier:            res.Tier,
		DiscountPercent: res.DiscountPercent,
		UnitCost:        res.UnitCost,
		Subtotal:        res.TotalCost.Add(res.Savings),
		Total:           res.TotalCost,
	}, nil
}
