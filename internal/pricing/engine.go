// Package pricing quotes dynamic product prices and applies store promotions
// to prices and carts.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"storefront-services/internal/metrics"
	"storefront-services/internal/storage"
)

const (
	// DefaultUpdateInterval is how long fetched store promotions stay fresh.
	DefaultUpdateInterval = 15 * time.Minute
	// MinPriceRatio is the lowest fraction of the base price a quote may reach.
	MinPriceRatio = 0.10

	promotionsKeyPrefix = "promotions_"
)

// PromotionsSource fetches the current promotions for a store.
type PromotionsSource interface {
	FetchStorePromotions(ctx context.Context, storeID string) ([]Promotion, error)
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLocation sets the time zone used for weekend checks.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.location = loc }
}

func WithUpdateInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.ttl = d
		}
	}
}

// WithStore mirrors fetched promotions to durable storage so a restarted
// process can serve them without refetching.
func WithStore(store storage.Store) Option {
	return func(e *Engine) { e.store = store }
}

type cachedPromotions struct {
	Promotions []Promotion `json:"promotions"`
	FetchedAt  time.Time   `json:"fetchedAt"`
}

type Engine struct {
	source   PromotionsSource
	factors  FactorsProvider
	store    storage.Store
	logger   *zap.Logger
	ttl      time.Duration
	location *time.Location
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]cachedPromotions
}

func NewEngine(source PromotionsSource, factors FactorsProvider, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		source:   source,
		factors:  factors,
		logger:   logger,
		ttl:      DefaultUpdateInterval,
		location: SAST,
		now:      time.Now,
		cache:    make(map[string]cachedPromotions),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DefaultPromotion is served when a store's promotions cannot be fetched.
func DefaultPromotion(storeID string, now time.Time) Promotion {
	minAmount := 100.0
	return Promotion{
		ID:            "default_" + storeID,
		StoreID:       storeID,
		Title:         "5% off orders over R100",
		Type:          PromotionPercentage,
		DiscountValue: 5,
		Conditions:    Conditions{MinAmount: &minAmount},
		ValidUntil:    now.Add(24 * time.Hour),
		Active:        true,
	}
}

// GetStorePromotions returns the store's promotions, fetching at most once per
// update interval. Callers receive copies and may modify them freely.
func (e *Engine) GetStorePromotions(ctx context.Context, storeID string) []Promotion {
	now := e.now()

	e.mu.Lock()
	entry, ok := e.cache[storeID]
	e.mu.Unlock()
	if ok && e.fresh(entry, now) {
		metrics.PromotionsCacheTotal.WithLabelValues("memory_hit").Inc()
		return clonePromotions(entry.Promotions)
	}

	if entry, ok := e.loadDurable(ctx, storeID); ok && e.fresh(entry, now) {
		e.mu.Lock()
		e.cache[storeID] = entry
		e.mu.Unlock()
		metrics.PromotionsCacheTotal.WithLabelValues("durable_hit").Inc()
		return clonePromotions(entry.Promotions)
	}

	promotions, err := e.source.FetchStorePromotions(ctx, storeID)
	if err != nil {
		e.logger.Warn("Failed to fetch store promotions, serving default",
			zap.String("storeId", storeID),
			zap.Error(err),
		)
		metrics.PromotionsCacheTotal.WithLabelValues("fallback").Inc()
		return []Promotion{DefaultPromotion(storeID, now)}
	}
	if promotions == nil {
		promotions = []Promotion{}
	}

	entry = cachedPromotions{Promotions: clonePromotions(promotions), FetchedAt: now}
	e.mu.Lock()
	e.cache[storeID] = entry
	e.mu.Unlock()
	e.saveDurable(ctx, storeID, entry)

	metrics.PromotionsCacheTotal.WithLabelValues("miss").Inc()
	e.logger.Debug("store promotions refreshed",
		zap.String("storeId", storeID),
		zap.Int("count", len(promotions)),
	)
	return clonePromotions(entry.Promotions)
}

// InvalidateStore drops every cached copy of a store's promotions.
func (e *Engine) InvalidateStore(ctx context.Context, storeID string) error {
	e.mu.Lock()
	delete(e.cache, storeID)
	e.mu.Unlock()

	if e.store == nil {
		return nil
	}
	if err := e.store.Delete(ctx, promotionsKeyPrefix+storeID); err != nil {
		return fmt.Errorf("failed to invalidate promotions for %s: %w", storeID, err)
	}
	return nil
}

func (e *Engine) fresh(entry cachedPromotions, now time.Time) bool {
	return now.Sub(entry.FetchedAt) < e.ttl
}

func (e *Engine) loadDurable(ctx context.Context, storeID string) (cachedPromotions, bool) {
	if e.store == nil {
		return cachedPromotions{}, false
	}
	raw, ok, err := e.store.Get(ctx, promotionsKeyPrefix+storeID)
	if err != nil {
		e.logger.Warn("Failed to read cached promotions", zap.String("storeId", storeID), zap.Error(err))
		return cachedPromotions{}, false
	}
	if !ok {
		return cachedPromotions{}, false
	}
	var entry cachedPromotions
	if err := json.Unmarshal(raw, &entry); err != nil {
		e.logger.Warn("Discarding corrupt cached promotions", zap.String("storeId", storeID), zap.Error(err))
		return cachedPromotions{}, false
	}
	return entry, true
}

func (e *Engine) saveDurable(ctx context.Context, storeID string, entry cachedPromotions) {
	if e.store == nil {
		return
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		e.logger.Error("Failed to marshal promotions", zap.String("storeId", storeID), zap.Error(err))
		return
	}
	if err := e.store.Set(ctx, promotionsKeyPrefix+storeID, raw); err != nil {
		e.logger.Warn("Failed to persist promotions", zap.String("storeId", storeID), zap.Error(err))
	}
}

// CalculatePromotionDiscount evaluates a single promotion against a single
// unit price at the engine's current time.
func (e *Engine) CalculatePromotionDiscount(p Promotion, price float64, user UserProfile) PromotionDiscount {
	return EvaluatePromotion(p, price, 1, user, e.now().In(e.location))
}

// CalculateDynamicPrice quotes a product. Adjustments are applied in a fixed
// order: time-of-day discount, demand, store promotions, then the price floor.
// Failures never escape; the quote falls back to the base price with Error set.
func (e *Engine) CalculateDynamicPrice(ctx context.Context, productID string, basePrice float64, storeID string, user UserProfile) (quote PriceQuote) {
	now := e.now()
	quote = PriceQuote{
		ProductID:        productID,
		StoreID:          storeID,
		BasePrice:        basePrice,
		FinalPrice:       basePrice,
		AppliedDiscounts: []AppliedDiscount{},
		CalculatedAt:     now,
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Price calculation panicked",
				zap.String("productId", productID),
				zap.Any("panic", r),
			)
			quote = degradedQuote(quote, fmt.Sprintf("price calculation failed: %v", r))
			metrics.PriceQuotesTotal.WithLabelValues("degraded").Inc()
		}
	}()

	if math.IsNaN(basePrice) || math.IsInf(basePrice, 0) || basePrice < 0 {
		metrics.PriceQuotesTotal.WithLabelValues("degraded").Inc()
		return degradedQuote(quote, "invalid base price")
	}

	factors, err := e.factors.Factors(ctx, productID, storeID, now)
	if err != nil {
		e.logger.Warn("Failed to compute pricing factors",
			zap.String("productId", productID),
			zap.String("storeId", storeID),
			zap.Error(err),
		)
		metrics.PriceQuotesTotal.WithLabelValues("degraded").Inc()
		return degradedQuote(quote, err.Error())
	}
	quote.Factors = factors

	price := basePrice
	add := func(kind, promotionID, description string, amount float64) {
		d := AppliedDiscount{
			Type:        kind,
			PromotionID: promotionID,
			Description: description,
			Amount:      round2(amount),
		}
		if basePrice > 0 {
			d.Percentage = round2(amount / basePrice * 100)
		}
		quote.AppliedDiscounts = append(quote.AppliedDiscounts, d)
	}

	if pct := factors.TimeBasedDiscountPct; pct > 0 {
		amount := price * pct / 100
		price -= amount
		add("time_based", "", fmt.Sprintf("%g%% off-peak discount", pct), amount)
	}

	if m := factors.DemandMultiplier; m > 0 && m != 1 {
		adjusted := price * m
		if adjusted > price {
			add("demand", "", "High demand adjustment", price-adjusted)
		}
		price = adjusted
	}

	local := now.In(e.location)
	for _, p := range e.GetStorePromotions(ctx, storeID) {
		d := EvaluatePromotion(p, price, 1, user, local)
		if !d.Applicable || d.Amount <= 0 {
			continue
		}
		price -= d.Amount
		add(string(p.Type), p.ID, p.Title, d.Amount)
	}

	floor := basePrice * MinPriceRatio
	if price < floor {
		add("price_floor", "", "Minimum price protection", price-floor)
		price = floor
	}

	quote.FinalPrice = round2(price)
	if quote.FinalPrice < floor {
		quote.FinalPrice = math.Ceil(floor*100) / 100
	}
	quote.Savings = round2(basePrice - quote.FinalPrice)
	if basePrice > 0 {
		quote.SavingsPercentage = round2(quote.Savings / basePrice * 100)
	}

	metrics.PriceQuotesTotal.WithLabelValues("ok").Inc()
	return quote
}

func degradedQuote(q PriceQuote, reason string) PriceQuote {
	q.FinalPrice = q.BasePrice
	q.Savings = 0
	q.SavingsPercentage = 0
	q.AppliedDiscounts = []AppliedDiscount{}
	q.Error = reason
	return q
}

// ApplyPromotionToCart returns a copy of cart with p applied to every line it
// qualifies for. The input cart is not modified.
func (e *Engine) ApplyPromotionToCart(cart Cart, p Promotion) Cart {
	out := cloneCart(cart)
	now := e.now().In(e.location)

	var added float64
	for i := range out.Items {
		item := &out.Items[i]
		remaining := item.LineTotal() - item.Discount
		d := EvaluatePromotion(p, remaining, item.Quantity, out.Customer, now)
		if !d.Applicable || d.Amount <= 0 {
			continue
		}
		item.Discount = round2(item.Discount + d.Amount)
		item.AppliedPromotions = append(item.AppliedPromotions, p.ID)
		added += d.Amount
	}

	subtotal := cartSubtotal(out.Items)
	if p.Type == PromotionDelivery {
		quantity := 0
		for _, item := range out.Items {
			quantity += item.Quantity
		}
		d := EvaluatePromotion(p, subtotal, quantity, out.Customer, now)
		outstanding := out.DeliveryFee - out.DeliveryDiscount
		if d.Applicable && outstanding > 0 {
			out.DeliveryDiscount = round2(out.DeliveryDiscount + math.Min(p.DiscountValue, outstanding))
		}
	}

	out.Subtotal = subtotal
	out.TotalDiscount = round2(out.TotalDiscount + added)
	out.Total = round2(out.Subtotal - out.TotalDiscount)
	return out
}

// ApplyStorePromotions applies every current promotion of the cart's store in
// the order the store lists them.
func (e *Engine) ApplyStorePromotions(ctx context.Context, cart Cart) Cart {
	out := cloneCart(cart)
	out.Subtotal = cartSubtotal(out.Items)
	out.Total = round2(out.Subtotal - out.TotalDiscount)
	for _, p := range e.GetStorePromotions(ctx, cart.StoreID) {
		out = e.ApplyPromotionToCart(out, p)
	}
	return out
}

func cartSubtotal(items []CartItem) float64 {
	var sum float64
	for _, item := range items {
		sum += item.LineTotal()
	}
	return round2(sum)
}

func cloneCart(c Cart) Cart {
	out := c
	if c.Items != nil {
		out.Items = make([]CartItem, len(c.Items))
		for i, item := range c.Items {
			out.Items[i] = item
			if item.AppliedPromotions != nil {
				out.Items[i].AppliedPromotions = append([]string(nil), item.AppliedPromotions...)
			}
		}
	}
	return out
}
