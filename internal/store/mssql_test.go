package store

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"storefront-services/internal/pricing"
	"storefront-services/internal/resilience"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2026, time.October, 14, 8, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*MSSQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := NewMSSQLStoreFromDB(db, zap.NewNop())
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

func TestWriteDocumentUpsertsByID(t *testing.T) {
	s, mock := newMockStore(t)
	payload := `{"id":"order-1","total":120}`

	mock.ExpectExec(regexp.QuoteMeta("UPDATE documents SET payload = ?")).
		WithArgs("orders", "order-1", payload, fixedNow, "orders", "order-1", "orders", "order-1", payload, fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.WriteDocument(context.Background(), "orders", json.RawMessage(payload))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteDocumentGeneratesID(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO documents").
		WithArgs("carts", sqlmock.AnyArg(), sqlmock.AnyArg(), fixedNow, "carts", sqlmock.AnyArg(),
			"carts", sqlmock.AnyArg(), sqlmock.AnyArg(), fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.WriteDocument(context.Background(), "carts", json.RawMessage(`{"items":[]}`))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteDocumentRejectsInvalidInput(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	err := s.WriteDocument(ctx, "orders", json.RawMessage(`[1,2]`))
	assert.Equal(t, resilience.ClientError, resilience.Classify(err))

	err = s.WriteDocument(ctx, "", json.RawMessage(`{}`))
	assert.Equal(t, resilience.ClientError, resilience.Classify(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteDocumentWrapsDatabaseError(t *testing.T) {
	s, mock := newMockStore(t)
	dbErr := errors.New("deadlock victim")

	mock.ExpectExec("documents").WillReturnError(dbErr)

	err := s.WriteDocument(context.Background(), "orders", json.RawMessage(`{"id":"o1"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, dbErr)
	assert.Contains(t, err.Error(), "orders/o1")
}

func TestListStorePromotions(t *testing.T) {
	s, mock := newMockStore(t)
	until := fixedNow.Add(72 * time.Hour)

	rows := sqlmock.NewRows([]string{"promotion_id", "store_id", "title", "promo_type", "discount_value", "conditions", "valid_until", "active"}).
		AddRow("p1", "s1", "20% off", "percentage", 20.0, `{"minAmount":50,"weekendOnly":true}`, until, true).
		AddRow("p2", "s1", "Bulk saver", "bulk", 0.0, `{"tiers":[{"minAmount":100,"discount":5}]}`, until, true).
		AddRow("p3", "s1", "Broken", "percentage", 10.0, `{not json`, until, true).
		AddRow("p4", "s1", "Plain", "fixed_amount", 15.0, nil, until, false)

	mock.ExpectQuery(regexp.QuoteMeta("FROM promotions")).WithArgs("s1").WillReturnRows(rows)

	promotions, err := s.FetchStorePromotions(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, promotions, 3)

	assert.Equal(t, "p1", promotions[0].ID)
	assert.Equal(t, pricing.PromotionPercentage, promotions[0].Type)
	require.NotNil(t, promotions[0].Conditions.MinAmount)
	assert.Equal(t, 50.0, *promotions[0].Conditions.MinAmount)
	assert.True(t, promotions[0].Conditions.WeekendOnly)

	assert.Equal(t, []pricing.Tier{{MinAmount: 100, Discount: 5}}, promotions[1].Conditions.Tiers)

	assert.Equal(t, "p4", promotions[2].ID)
	assert.False(t, promotions[2].Active)
	assert.Nil(t, promotions[2].Conditions.MinAmount)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListStorePromotionsQueryError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("FROM promotions").WillReturnError(errors.New("login failed"))

	_, err := s.ListStorePromotions(context.Background(), "s1")
	assert.Error(t, err)
}

func TestInsertTelemetryEvent(t *testing.T) {
	s, mock := newMockStore(t)
	occurred := fixedNow.Add(-time.Minute)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO telemetry_events")).
		WithArgs("e1", "e1", "cart_viewed", `{"items":3}`, occurred, fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.InsertTelemetryEvent(context.Background(), &TelemetryEvent{
		EventID:   "e1",
		Type:      "cart_viewed",
		Timestamp: occurred,
		Data:      map[string]interface{}{"items": 3},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
