package pricing

import (
	"math"
	"strconv"
	"time"
)

type PromotionType string

const (
	PromotionPercentage  PromotionType = "percentage"
	PromotionFixedAmount PromotionType = "fixed_amount"
	PromotionBuyXGetY    PromotionType = "buy_x_get_y"
	PromotionBulk        PromotionType = "bulk"
	PromotionLoyalty     PromotionType = "loyalty"
	PromotionDelivery    PromotionType = "delivery"
)

// Tier is one step of a bulk promotion: Discount percent off once the price
// reaches MinAmount.
type Tier struct {
	MinAmount float64 `json:"minAmount"`
	Discount  float64 `json:"discount"`
}

// Conditions are the predicates a promotion must satisfy. Zero values mean
// the condition is absent.
type Conditions struct {
	MinAmount     *float64 `json:"minAmount,omitempty"`
	WeekendOnly   bool     `json:"weekendOnly,omitempty"`
	FirstTimeOnly bool     `json:"firstTimeOnly,omitempty"`
	MinQuantity   int      `json:"minQuantity,omitempty"`
	BuyQuantity   int      `json:"buyQuantity,omitempty"`
	GetQuantity   int      `json:"getQuantity,omitempty"`
	Tiers         []Tier   `json:"tiers,omitempty"`
}

type Promotion struct {
	ID            string        `json:"id"`
	StoreID       string        `json:"storeId"`
	Title         string        `json:"title"`
	Type          PromotionType `json:"type"`
	DiscountValue float64       `json:"discountValue"`
	Conditions    Conditions    `json:"conditions"`
	ValidUntil    time.Time     `json:"validUntil"`
	Active        bool          `json:"active"`
}

type UserProfile struct {
	UserID              string `json:"userId,omitempty"`
	IsFirstTimeCustomer bool   `json:"isFirstTimeCustomer,omitempty"`
	LoyaltyTier         string `json:"loyaltyTier,omitempty"`
}

// PricingFactors are recomputed for every quote and never persisted.
type PricingFactors struct {
	TimeBasedDiscountPct    float64 `json:"timeBasedDiscount"`
	DemandMultiplier        float64 `json:"demandMultiplier"`
	SeasonalMultiplier      float64 `json:"seasonalMultiplier"`
	InventoryLevel          float64 `json:"inventoryLevel"`
	CompetitorAdjustmentPct float64 `json:"competitorAdjustment"`
}

// AppliedDiscount is one price adjustment. Amount is positive when the price
// went down and negative for surcharges and the price floor.
type AppliedDiscount struct {
	Type        string  `json:"type"`
	PromotionID string  `json:"promotionId,omitempty"`
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	Percentage  float64 `json:"percentage"`
}

type PriceQuote struct {
	ProductID         string            `json:"productId"`
	StoreID           string            `json:"storeId"`
	BasePrice         float64           `json:"basePrice"`
	FinalPrice        float64           `json:"finalPrice"`
	Savings           float64           `json:"savings"`
	SavingsPercentage float64           `json:"savingsPercentage"`
	AppliedDiscounts  []AppliedDiscount `json:"appliedDiscounts"`
	Factors           PricingFactors    `json:"factors"`
	CalculatedAt      time.Time         `json:"calculatedAt"`
	Error             string            `json:"error,omitempty"`
}

// PromotionDiscount is the outcome of evaluating one promotion against a price.
type PromotionDiscount struct {
	Applicable bool    `json:"applicable"`
	Amount     float64 `json:"amount"`
	Percentage float64 `json:"percentage"`
	Reason     string  `json:"reason,omitempty"`
}

type CartItem struct {
	ProductID         string   `json:"productId"`
	Name              string   `json:"name"`
	UnitPrice         float64  `json:"unitPrice"`
	Quantity          int      `json:"quantity"`
	Discount          float64  `json:"discount"`
	AppliedPromotions []string `json:"appliedPromotions,omitempty"`
}

func (i CartItem) LineTotal() float64 {
	return round2(i.UnitPrice * float64(i.Quantity))
}

type Cart struct {
	ID               string      `json:"id"`
	StoreID          string      `json:"storeId"`
	Customer         UserProfile `json:"customer"`
	Items            []CartItem  `json:"items"`
	Subtotal         float64     `json:"subtotal"`
	TotalDiscount    float64     `json:"totalDiscount"`
	Total            float64     `json:"total"`
	DeliveryFee      float64     `json:"deliveryFee"`
	DeliveryDiscount float64     `json:"deliveryDiscount"`
}

// AmountDue is the total plus whatever part of the delivery fee was not waived.
func (c Cart) AmountDue() float64 {
	return round2(c.Total + c.DeliveryFee - c.DeliveryDiscount)
}

// round2 rounds half away from zero to cents. The scaled value is trimmed to
// nine decimals first so inputs like 1.005, stored as 1.00499..., round up.
func round2(v float64) float64 {
	scaled, err := strconv.ParseFloat(strconv.FormatFloat(v*100, 'f', 9, 64), 64)
	if err != nil {
		scaled = v * 100
	}
	return math.Round(scaled) / 100
}

func clonePromotions(in []Promotion) []Promotion {
	if in == nil {
		return nil
	}
	out := make([]Promotion, len(in))
	for i, p := range in {
		out[i] = p
		if p.Conditions.MinAmount != nil {
			v := *p.Conditions.MinAmount
			out[i].Conditions.MinAmount = &v
		}
		if p.Conditions.Tiers != nil {
			out[i].Conditions.Tiers = append([]Tier(nil), p.Conditions.Tiers...)
		}
	}
	return out
}
