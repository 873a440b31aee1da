package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/denisenkom/go-mssqldb"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"storefront-services/internal/metrics"
	"storefront-services/internal/pricing"
	"storefront-services/internal/resilience"
)

type MSSQLStore struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

func NewMSSQLStore(connStr string, logger *zap.Logger) (*MSSQLStore, error) {
	db, err := sql.Open("mssql", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewMSSQLStoreFromDB(db, logger), nil
}

// NewMSSQLStoreFromDB wraps an already opened database.
func NewMSSQLStoreFromDB(db *sql.DB, logger *zap.Logger) *MSSQLStore {
	return &MSSQLStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

func (s *MSSQLStore) Close() error {
	return s.db.Close()
}

func observe(operation string, start time.Time) {
	metrics.DBLatencySeconds.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// WriteDocument creates or replaces a document in a collection. The document
// is keyed by its "id" field; one is generated when absent.
func (s *MSSQLStore) WriteDocument(ctx context.Context, collection string, payload json.RawMessage) error {
	defer observe("write_document", time.Now())

	if collection == "" {
		return &resilience.CodedError{Code: resilience.CodeInvalidArgument, Message: "collection is required"}
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(payload, &doc); err != nil || doc == nil {
		return &resilience.CodedError{Code: resilience.CodeInvalidArgument, Message: "payload must be a JSON object"}
	}

	id, _ := doc["id"].(string)
	if id == "" {
		id = uuid.New().String()
		doc["id"] = id
		raw, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to marshal document: %w", err)
		}
		payload = raw
	}

	now := s.now().UTC()
	query := `
		IF EXISTS (SELECT 1 FROM documents WHERE collection = ? AND document_id = ?)
			UPDATE documents SET payload = ?, updated_at = ? WHERE collection = ? AND document_id = ?
		ELSE
			INSERT INTO documents (collection, document_id, payload, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		collection, id,
		string(payload), now, collection, id,
		collection, id, string(payload), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to write document %s/%s: %w", collection, id, err)
	}

	s.logger.Debug("document written",
		zap.String("collection", collection),
		zap.String("documentId", id),
	)
	return nil
}

// ListStorePromotions retrieves the promotions configured for a store
func (s *MSSQLStore) ListStorePromotions(ctx context.Context, storeID string) ([]pricing.Promotion, error) {
	defer observe("list_promotions", time.Now())

	query := `
		SELECT promotion_id, store_id, title, promo_type, discount_value, conditions, valid_until, active
		FROM promotions
		WHERE store_id = ?
		ORDER BY priority, promotion_id
	`

	rows, err := s.db.QueryContext(ctx, query, storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query promotions: %w", err)
	}
	defer rows.Close()

	promotions := []pricing.Promotion{}
	for rows.Next() {
		var row PromotionRow
		err := rows.Scan(&row.PromotionID, &row.StoreID, &row.Title, &row.PromoType, &row.DiscountValue, &row.Conditions, &row.ValidUntil, &row.Active)
		if err != nil {
			return nil, err
		}

		promotion, err := row.toPromotion()
		if err != nil {
			s.logger.Warn("Skipping promotion with invalid conditions",
				zap.String("promotionId", row.PromotionID),
				zap.Error(err),
			)
			continue
		}
		promotions = append(promotions, promotion)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return promotions, nil
}

// FetchStorePromotions lets the store serve as the pricing engine's source.
func (s *MSSQLStore) FetchStorePromotions(ctx context.Context, storeID string) ([]pricing.Promotion, error) {
	return s.ListStorePromotions(ctx, storeID)
}

func (r PromotionRow) toPromotion() (pricing.Promotion, error) {
	p := pricing.Promotion{
		ID:            r.PromotionID,
		StoreID:       r.StoreID,
		Title:         r.Title,
		Type:          pricing.PromotionType(r.PromoType),
		DiscountValue: r.DiscountValue,
		ValidUntil:    r.ValidUntil,
		Active:        r.Active,
	}
	if r.Conditions.Valid && r.Conditions.String != "" {
		if err := json.Unmarshal([]byte(r.Conditions.String), &p.Conditions); err != nil {
			return pricing.Promotion{}, fmt.Errorf("failed to decode conditions: %w", err)
		}
	}
	return p, nil
}

// InsertTelemetryEvent stores an event once; redelivered events are ignored.
func (s *MSSQLStore) InsertTelemetryEvent(ctx context.Context, event *TelemetryEvent) error {
	defer observe("insert_telemetry", time.Now())

	properties, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	query := `
		IF NOT EXISTS (SELECT 1 FROM telemetry_events WHERE event_id = ?)
			INSERT INTO telemetry_events (event_id, name, properties, occurred_at, received_at)
			VALUES (?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		event.EventID,
		event.EventID, event.Type, string(properties), event.Timestamp, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert telemetry event %s: %w", event.EventID, err)
	}
	return nil
}
