package pricing

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"storefront-services/internal/storage"
)

// SAST is South African Standard Time; the country observes no DST.
var SAST = time.FixedZone("SAST", 2*60*60)

// FactorsProvider supplies the market factors for a quote.
type FactorsProvider interface {
	Factors(ctx context.Context, productID, storeID string, at time.Time) (PricingFactors, error)
}

// StaticFactors returns the same factors for every request.
type StaticFactors PricingFactors

func (s StaticFactors) Factors(ctx context.Context, productID, storeID string, at time.Time) (PricingFactors, error) {
	return PricingFactors(s), nil
}

// NeutralFactors leave the base price untouched.
var NeutralFactors = StaticFactors{DemandMultiplier: 1, SeasonalMultiplier: 1, InventoryLevel: 1}

// DemandSource reports a demand multiplier for a product at a store. A
// multiplier of 1 means normal demand.
type DemandSource interface {
	DemandMultiplier(ctx context.Context, productID, storeID string) (float64, error)
}

// ScheduleFactors derives factors from the local clock: an off-peak discount
// by time of day and a seasonal multiplier by month.
type ScheduleFactors struct {
	Location *time.Location
	Demand   DemandSource
}

func (s ScheduleFactors) Factors(ctx context.Context, productID, storeID string, at time.Time) (PricingFactors, error) {
	loc := s.Location
	if loc == nil {
		loc = SAST
	}
	local := at.In(loc)

	f := PricingFactors{
		TimeBasedDiscountPct: timeOfDayDiscount(local.Hour()),
		DemandMultiplier:     1,
		SeasonalMultiplier:   seasonalMultiplier(local.Month()),
		InventoryLevel:       1,
	}

	if s.Demand != nil {
		m, err := s.Demand.DemandMultiplier(ctx, productID, storeID)
		if err != nil {
			return f, fmt.Errorf("failed to read demand for %s at %s: %w", productID, storeID, err)
		}
		if m > 0 {
			f.DemandMultiplier = m
		}
	}
	return f, nil
}

func timeOfDayDiscount(hour int) float64 {
	switch {
	case hour >= 20:
		return 10
	case hour >= 14 && hour < 16:
		return 5
	default:
		return 0
	}
}

func seasonalMultiplier(m time.Month) float64 {
	switch m {
	case time.December, time.January:
		return 1.10
	case time.June, time.July, time.August:
		return 0.95
	default:
		return 1.0
	}
}

// StoreDemand reads multipliers from durable storage under
// demand_<storeId>_<productId>. Missing keys mean normal demand.
type StoreDemand struct {
	Store storage.Store
}

func demandKey(productID, storeID string) string {
	return "demand_" + storeID + "_" + productID
}

func (d StoreDemand) DemandMultiplier(ctx context.Context, productID, storeID string) (float64, error) {
	raw, ok, err := d.Store.Get(ctx, demandKey(productID, storeID))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 1, nil
	}
	m, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid demand multiplier %q: %w", raw, err)
	}
	return m, nil
}

// SetDemandMultiplier records a multiplier for later quotes.
func (d StoreDemand) SetDemandMultiplier(ctx context.Context, productID, storeID string, m float64) error {
	return d.Store.Set(ctx, demandKey(productID, storeID), []byte(strconv.FormatFloat(m, 'f', -1, 64)))
}
