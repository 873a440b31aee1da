package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"storefront-services/internal/connectivity"
	"storefront-services/internal/dlq"
	"storefront-services/internal/metrics"
	"storefront-services/internal/pricing"
	"storefront-services/internal/resilience"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	operationTimeout = time.Minute
	cartCacheTTL     = time.Hour
	deadLetterLimit  = 20
)

type deadLetterReader interface {
	GetMessages(ctx context.Context, topic string, start, stop int64) ([]string, error)
}

type api struct {
	queue       *resilience.Queue
	engine      *pricing.Engine
	monitor     *connectivity.Monitor
	deadLetters deadLetterReader
	logger      *zap.Logger
}

func (a *api) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/stores/", a.instrument("/stores/", a.handleStorePromotions))
	mux.HandleFunc("/prices", a.instrument("/prices", a.handleGetPrice))
	mux.HandleFunc("/carts/apply-promotion", a.instrument("/carts/apply-promotion", a.handleApplyPromotion))
	mux.HandleFunc("/carts/", a.instrument("/carts/", a.handleGetCart))
	mux.HandleFunc("/operations", a.instrument("/operations", a.handleExecuteOperation))
	mux.HandleFunc("/connectivity", a.instrument("/connectivity", a.handleConnectivity))
	mux.HandleFunc("/errors/stats", a.instrument("/errors/stats", a.handleErrorStats))
	mux.HandleFunc("/offline-queue", a.instrument("/offline-queue", a.handleOfflineQueue))
	mux.HandleFunc("/offline-queue/drain", a.instrument("/offline-queue/drain", a.handleDrain))

	return mux
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (a *api) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPLatencySeconds.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

func (a *api) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (a *api) handleStorePromotions(w http.ResponseWriter, r *http.Request) {
	rest := extractIDFromPath(r.URL.Path, "/stores/")
	storeID := strings.TrimSuffix(rest, "/promotions")
	if storeID == rest || storeID == "" || strings.Contains(storeID, "/") {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	switch r.Method {
	case http.MethodGet:
		promotions := a.engine.GetStorePromotions(ctx, storeID)
		a.writeJSON(w, http.StatusOK, map[string]interface{}{
			"storeId":    storeID,
			"promotions": promotions,
			"count":      len(promotions),
		})
	case http.MethodDelete:
		if err := a.engine.InvalidateStore(ctx, storeID); err != nil {
			a.logger.Error("Failed to invalidate promotions", zap.String("storeId", storeID), zap.Error(err))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *api) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	productID := q.Get("productId")
	storeID := q.Get("storeId")
	if productID == "" || storeID == "" {
		http.Error(w, "productId and storeId are required", http.StatusBadRequest)
		return
	}

	basePrice, err := strconv.ParseFloat(q.Get("basePrice"), 64)
	if err != nil {
		http.Error(w, "basePrice must be a number", http.StatusBadRequest)
		return
	}

	firstTime, _ := strconv.ParseBool(q.Get("firstTime"))
	user := pricing.UserProfile{
		UserID:              q.Get("userId"),
		IsFirstTimeCustomer: firstTime,
		LoyaltyTier:         q.Get("loyaltyTier"),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	quote := a.engine.CalculateDynamicPrice(ctx, productID, basePrice, storeID, user)
	a.writeJSON(w, http.StatusOK, quote)
}

type applyPromotionRequest struct {
	Cart      pricing.Cart       `json:"cart"`
	Promotion *pricing.Promotion `json:"promotion,omitempty"`
}

type cartResponse struct {
	Cart      pricing.Cart `json:"cart"`
	AmountDue float64      `json:"amountDue"`
}

// handleApplyPromotion applies the given promotion, or every current store
// promotion when none is given.
func (a *api) handleApplyPromotion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req applyPromotionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var cart pricing.Cart
	if req.Promotion != nil {
		cart = a.engine.ApplyPromotionToCart(req.Cart, *req.Promotion)
	} else {
		cart = a.engine.ApplyStorePromotions(ctx, req.Cart)
	}

	if cart.ID != "" {
		a.queue.CacheData(ctx, "cart_"+cart.ID, cart, cartCacheTTL)
	}

	a.writeJSON(w, http.StatusOK, cartResponse{Cart: cart, AmountDue: cart.AmountDue()})
}

func (a *api) handleGetCart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cartID := extractIDFromPath(r.URL.Path, "/carts/")
	if cartID == "" {
		http.Error(w, "Cart ID is required", http.StatusBadRequest)
		return
	}

	var cart pricing.Cart
	if !a.queue.GetCachedData(r.Context(), "cart_"+cartID, &cart) {
		http.Error(w, "Cart not found", http.StatusNotFound)
		return
	}

	a.writeJSON(w, http.StatusOK, cartResponse{Cart: cart, AmountDue: cart.AmountDue()})
}

type operationResponse struct {
	Status       string          `json:"status"`
	OperationID  string          `json:"operationId"`
	QueuedItemID string          `json:"queuedItemId,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	Error        string          `json:"error,omitempty"`
	Code         string          `json:"code,omitempty"`
	Class        string          `json:"class,omitempty"`
}

func (a *api) handleExecuteOperation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var op resilience.Operation
	if err := json.NewDecoder(r.Body).Decode(&op); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if op.ID == "" {
		op.ID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(r.Context(), operationTimeout)
	defer cancel()

	result, err := a.queue.Execute(ctx, op)
	if err == nil {
		a.writeJSON(w, http.StatusOK, operationResponse{Status: "completed", OperationID: op.ID, Data: result.Data})
		return
	}

	var queued *resilience.QueuedError
	if errors.As(err, &queued) {
		a.writeJSON(w, http.StatusAccepted, operationResponse{Status: "queued", OperationID: op.ID, QueuedItemID: queued.ItemID})
		return
	}

	userErr := resilience.Translate(err)
	resp := operationResponse{
		Status:       "failed",
		OperationID:  op.ID,
		QueuedItemID: userErr.QueuedItemID,
		Error:        userErr.Message,
		Code:         userErr.Code,
		Class:        string(userErr.Class),
	}
	if userErr.QueuedItemID != "" {
		resp.Status = "queued"
		a.writeJSON(w, http.StatusAccepted, resp)
		return
	}
	a.writeJSON(w, statusForClass(userErr.Class), resp)
}

func statusForClass(class resilience.ErrorClass) int {
	switch class {
	case resilience.ClientError:
		return http.StatusBadRequest
	case resilience.NetworkError, resilience.ServerError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type connectivityResponse struct {
	State      connectivity.State `json:"state"`
	Online     bool               `json:"online"`
	QueueDepth int                `json:"queueDepth"`
}

func (a *api) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var state connectivity.State
		if err := json.NewDecoder(r.Body).Decode(&state); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		a.monitor.Update(state)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state := a.monitor.Current()
	a.writeJSON(w, http.StatusOK, connectivityResponse{
		State:      state,
		Online:     state.Online(),
		QueueDepth: a.queue.Depth(),
	})
}

func (a *api) handleErrorStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	a.writeJSON(w, http.StatusOK, a.queue.GetErrorStatistics())
}

func (a *api) handleOfflineQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	deadLetters := []json.RawMessage{}
	if a.deadLetters != nil {
		raw, err := a.deadLetters.GetMessages(r.Context(), dlq.OfflineQueueTopic, 0, deadLetterLimit-1)
		if err != nil {
			a.logger.Warn("Failed to read dead letters", zap.Error(err))
		}
		for _, m := range raw {
			deadLetters = append(deadLetters, json.RawMessage(m))
		}
	}

	items := a.queue.Pending()
	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"depth":       len(items),
		"items":       items,
		"deadLetters": deadLetters,
	})
}

func (a *api) handleDrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), operationTimeout)
	defer cancel()

	a.writeJSON(w, http.StatusOK, a.queue.OnConnectivityRestored(ctx))
}

func extractIDFromPath(path, prefix string) string {
	if len(path) <= len(prefix) {
		return ""
	}
	return path[len(prefix):]
}
