package store

import (
	"database/sql"
	"time"
)

// TelemetryEvent is the envelope published to and consumed from the
// telemetry topic.
type TelemetryEvent struct {
	EventID   string                 `json:"eventId"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Database models
type Document struct {
	Collection string    `json:"collection" db:"collection"`
	DocumentID string    `json:"documentId" db:"document_id"`
	Payload    string    `json:"payload" db:"payload"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time `json:"updatedAt" db:"updated_at"`
}

type PromotionRow struct {
	PromotionID   string         `db:"promotion_id"`
	StoreID       string         `db:"store_id"`
	Title         string         `db:"title"`
	PromoType     string         `db:"promo_type"`
	DiscountValue float64        `db:"discount_value"`
	Conditions    sql.NullString `db:"conditions"`
	ValidUntil    time.Time      `db:"valid_until"`
	Active        bool           `db:"active"`
}
