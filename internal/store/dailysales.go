package store

import (
	"context"
	"fmt"

	"reconciliation-service/internal/models"
)

// UpsertDailySales writes a run's aggregate rows in one transaction. Rows
// are keyed (tenant_id, date, mode) and replaced wholesale on conflict, so
// re-running a window converges instead of accumulating. All-or-nothing: a
// failed run must not leave a half-written window behind.
func (s *Store) UpsertDailySales(ctx context.Context, rows []models.DailySalesRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin upsert transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO daily_sales (
			tenant_id, date, mode, currency,
			gross_sales, discounts, refunds, net_sales, tax, orders_count,
			new_customer_net_sales, returning_customer_net_sales, guest_net_sales,
			synced_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
		ON CONFLICT (tenant_id, date, mode) DO UPDATE SET
			currency = EXCLUDED.currency,
			gross_sales = EXCLUDED.gross_sales,
			discounts = EXCLUDED.discounts,
			refunds = EXCLUDED.refunds,
			net_sales = EXCLUDED.net_sales,
			tax = EXCLUDED.tax,
			orders_count = EXCLUDED.orders_count,
			new_customer_net_sales = EXCLUDED.new_customer_net_sales,
			returning_customer_net_sales = EXCLUDED.returning_customer_net_sales,
			guest_net_sales = EXCLUDED.guest_net_sales,
			synced_at = NOW()`

	for _, row := range rows {
		_, err := tx.ExecContext(ctx, query,
			row.TenantID, row.Date, row.Mode, row.Currency,
			row.GrossSales, row.Discounts, row.Refunds, row.NetSales, row.Tax, row.OrdersCount,
			row.NewCustomerNetSales, row.ReturningCustomerNetSales, row.GuestNetSales)
		if err != nil {
			return fmt.Errorf("failed to upsert daily sales for %s %s: %w", row.Date, row.Mode, err)
		}
	}

	return tx.Commit()
}

// QueryDailySales returns the stored rows for a tenant, mode and inclusive
// date range in ascending date order. Days never synced are absent; the
// reporting layer decides how to render gaps.
func (s *Store) QueryDailySales(ctx context.Context, tenantID string, mode models.Mode, from, to string) ([]models.DailySalesRow, error) {
	query := `
		SELECT tenant_id, date::text AS date, mode, currency,
		       gross_sales, discounts, refunds, net_sales, tax, orders_count,
		       new_customer_net_sales, returning_customer_net_sales, guest_net_sales,
		       synced_at
		FROM daily_sales
		WHERE tenant_id = $1 AND mode = $2 AND date >= $3 AND date <= $4
		ORDER BY date`

	var rows []models.DailySalesRow
	err := s.db.SelectContext(ctx, &rows, query, tenantID, mode, from, to)
	return rows, err
}
