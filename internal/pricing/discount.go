package pricing

import (
	"math"
	"time"
)

// EvaluatePromotion decides whether p applies to a line worth price for
// quantity units at time now, and how much it takes off. It has no side
// effects.
func EvaluatePromotion(p Promotion, price float64, quantity int, user UserProfile, now time.Time) PromotionDiscount {
	if !p.Active {
		return PromotionDiscount{Reason: "inactive"}
	}
	if now.After(p.ValidUntil) {
		return PromotionDiscount{Reason: "expired"}
	}
	if price <= 0 {
		return PromotionDiscount{Reason: "no_price"}
	}

	c := p.Conditions
	if c.MinAmount != nil && price < *c.MinAmount {
		return PromotionDiscount{Reason: "below_min_amount"}
	}
	if c.WeekendOnly && !isWeekend(now) {
		return PromotionDiscount{Reason: "weekend_only"}
	}
	if c.FirstTimeOnly && !user.IsFirstTimeCustomer {
		return PromotionDiscount{Reason: "first_time_only"}
	}
	if c.MinQuantity > 0 && quantity < c.MinQuantity {
		return PromotionDiscount{Reason: "below_min_quantity"}
	}

	var amount float64
	switch p.Type {
	case PromotionPercentage:
		amount = price * p.DiscountValue / 100
	case PromotionFixedAmount:
		amount = p.DiscountValue
	case PromotionBuyXGetY:
		x, y := c.BuyQuantity, c.GetQuantity
		if x <= 0 || y <= 0 || quantity < x+y {
			return PromotionDiscount{Reason: "below_bundle_quantity"}
		}
		free := (quantity / (x + y)) * y
		amount = price / float64(quantity) * float64(free)
	case PromotionBulk:
		tier, ok := selectTier(c.Tiers, price)
		if !ok {
			return PromotionDiscount{Reason: "no_qualifying_tier"}
		}
		amount = price * tier.Discount / 100
	case PromotionLoyalty:
		if user.LoyaltyTier == "" {
			return PromotionDiscount{Reason: "not_loyalty_member"}
		}
		amount = price * p.DiscountValue / 100
	case PromotionDelivery:
		// applies to the delivery fee, never to the product price
		return PromotionDiscount{Applicable: true}
	default:
		return PromotionDiscount{Reason: "unsupported_type"}
	}

	amount = round2(math.Min(math.Max(amount, 0), price))
	if amount <= 0 {
		return PromotionDiscount{Reason: "no_discount"}
	}

	return PromotionDiscount{
		Applicable: true,
		Amount:     amount,
		Percentage: round2(amount / price * 100),
	}
}

// selectTier picks the tier with the largest MinAmount not above price. On
// equal MinAmount the later tier wins.
func selectTier(tiers []Tier, price float64) (Tier, bool) {
	best := -1
	for i, t := range tiers {
		if t.MinAmount > price {
			continue
		}
		if best == -1 || t.MinAmount >= tiers[best].MinAmount {
			best = i
		}
	}
	if best == -1 {
		return Tier{}, false
	}
	return tiers[best], true
}

func isWeekend(t time.Time) bool {
	d := t.Weekday()
	return d == time.Saturday || d == time.Sunday
}
