package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reconciliation-service/internal/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStoreWithDB(sqlx.NewDb(db, "postgres")), mock
}

func sampleRow(date string) models.DailySalesRow {
	return models.DailySalesRow{
		TenantID:                  "tenant-1",
		Date:                      date,
		Mode:                      models.ModeShopify,
		Currency:                  "USD",
		GrossSales:                decimal.RequireFromString("180.00"),
		Discounts:                 decimal.RequireFromString("10.00"),
		Refunds:                   decimal.RequireFromString("50.00"),
		NetSales:                  decimal.RequireFromString("120.00"),
		Tax:                       decimal.RequireFromString("34.00"),
		OrdersCount:               3,
		NewCustomerNetSales:       decimal.NewNullDecimal(decimal.RequireFromString("90.00")),
		ReturningCustomerNetSales: decimal.NewNullDecimal(decimal.RequireFromString("0.00")),
		GuestNetSales:             decimal.NewNullDecimal(decimal.RequireFromString("30.00")),
	}
}

func TestUpsertDailySalesRunsInOneTransaction(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO daily_sales")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO daily_sales")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rows := []models.DailySalesRow{sampleRow("2024-03-10"), sampleRow("2024-03-11")}
	err := store.UpsertDailySales(ctx, rows)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDailySalesRollsBackOnFailure(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO daily_sales")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO daily_sales")).
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	rows := []models.DailySalesRow{sampleRow("2024-03-10"), sampleRow("2024-03-11")}
	err := store.UpsertDailySales(ctx, rows)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDailySalesNoRowsIsNoOp(t *testing.T) {
	store, mock := newMockStore(t)

	err := store.UpsertDailySales(context.Background(), nil)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryDailySales(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	columns := []string{
		"tenant_id", "date", "mode", "currency",
		"gross_sales", "discounts", "refunds", "net_sales", "tax", "orders_count",
		"new_customer_net_sales", "returning_customer_net_sales", "guest_net_sales",
		"synced_at",
	}
	mockRows := sqlmock.NewRows(columns).
		AddRow("tenant-1", "2024-03-10", "shopify", "USD",
			"180.00", "10.00", "50.00", "120.00", "34.00", 3,
			"90.00", "0.00", "30.00", time.Now()).
		AddRow("tenant-1", "2024-03-11", "shopify", "USD",
			"0.00", "0.00", "0.00", "0.00", "0.00", 0,
			nil, nil, nil, time.Now())

	mock.ExpectQuery(regexp.QuoteMeta("FROM daily_sales")).
		WithArgs("tenant-1", models.ModeShopify, "2024-03-10", "2024-03-11").
		WillReturnRows(mockRows)

	rows, err := store.QueryDailySales(ctx, "tenant-1", models.ModeShopify, "2024-03-10", "2024-03-11")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "2024-03-10", rows[0].Date)
	assert.True(t, rows[0].NetSales.Equal(decimal.RequireFromString("120.00")))
	assert.True(t, rows[0].NewCustomerNetSales.Valid)
	assert.False(t, rows[1].NewCustomerNetSales.Valid, "null split survives the round trip")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSyncRun(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	started := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO sync_runs")).
		WithArgs("run-1", "tenant-1", models.ModeFinancial, "2024-03-10", "2024-03-11", models.StateFetching).
		WillReturnRows(sqlmock.NewRows([]string{"started_at"}).AddRow(started))

	run := &models.SyncRun{
		ID:        "run-1",
		TenantID:  "tenant-1",
		Mode:      models.ModeFinancial,
		SinceDate: "2024-03-10",
		UntilDate: "2024-03-11",
		State:     models.StateFetching,
	}
	err := store.CreateSyncRun(ctx, run)
	require.NoError(t, err)
	assert.Equal(t, started, run.StartedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessedEventDedupe(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("event-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	processed, err := store.IsEventProcessed(ctx, "event-1")
	require.NoError(t, err)
	assert.True(t, processed)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO processed_events")).
		WithArgs("event-2", models.EventTypeSyncRequested).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = store.MarkEventProcessed(ctx, "event-2", models.EventTypeSyncRequested)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
