// Package fetcher assembles the complete, deduplicated raw order set for one
// reconciliation window. It is the only I/O-bound stage of the pipeline:
// pages are pulled sequentially (the source cursor API does not support
// parallel pagination) and every order is enriched with its gateway
// transactions before the in-memory set is handed downstream.
package fetcher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"reconciliation-service/internal/models"
	"reconciliation-service/internal/shopify"
	"reconciliation-service/internal/util"
)

const defaultPageSize = 250 // the platform's per-page maximum

// Fetcher builds a per-tenant API client on demand and pulls the order
// window. It holds no per-run state; concurrent runs for different tenants
// share one Fetcher safely.
type Fetcher struct {
	clientOpts shopify.ClientOptions
	pageSize   int
	logger     *zap.Logger
}

// New creates a fetcher. pageSize <= 0 selects the platform maximum.
func New(clientOpts shopify.ClientOptions, pageSize int) *Fetcher {
	if pageSize <= 0 || pageSize > defaultPageSize {
		pageSize = defaultPageSize
	}
	return &Fetcher{
		clientOpts: clientOpts,
		pageSize:   pageSize,
		logger:     util.GetLogger(),
	}
}

// FetchWindow returns every order created inside the window plus any order
// outside it whose refund was processed inside it. Refunds must be
// attributable to the day the money moved, not the day the original order
// was placed, so the retrieval window is widened by a second pass over
// orders updated since the window start (a refund always touches the
// order's update timestamp). Exact-id duplicates from cursor drift across
// adjacent pages are dropped.
func (f *Fetcher) FetchWindow(ctx context.Context, conn models.ShopConnection, window models.Window, excludeTest bool) ([]shopify.Order, error) {
	ctx, span := util.StartSpan(ctx, "Fetcher.FetchWindow")
	defer span.End()

	start := time.Now()
	defer func() {
		util.FetchLatency.Observe(time.Since(start).Seconds())
	}()

	client := shopify.NewClient(conn, f.clientOpts)

	seen := make(map[int64]struct{})
	var orders []shopify.Order

	add := func(o shopify.Order) {
		if _, dup := seen[o.ID]; dup {
			return
		}
		if excludeTest && o.Test {
			return
		}
		seen[o.ID] = struct{}{}
		orders = append(orders, o)
	}

	// Pass 1: orders created inside the window.
	createdPage, err := f.pageAll(ctx, client, shopify.ListOrdersParams{
		CreatedAtMin: window.Start,
		CreatedAtMax: window.End,
		Limit:        f.pageSize,
	})
	if err != nil {
		return nil, err
	}
	for _, o := range createdPage {
		add(o)
	}

	// Pass 2: anything updated since the window start; keep only unseen
	// orders carrying a refund processed inside the window. No upper bound
	// on updated_at: later edits would otherwise push an old refund's
	// order out of the range.
	updatedPage, err := f.pageAll(ctx, client, shopify.ListOrdersParams{
		UpdatedAtMin: window.Start,
		Limit:        f.pageSize,
	})
	if err != nil {
		return nil, err
	}
	for _, o := range updatedPage {
		if _, dup := seen[o.ID]; dup {
			continue
		}
		if hasRefundIn(o, window) {
			add(o)
		}
	}

	// The orders listing does not embed order-level transactions; both
	// modes need them (financial bucketing, payment-status inference).
	for i := range orders {
		txs, err := client.GetOrderTransactions(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Transactions = txs
	}

	util.OrdersFetchedTotal.Add(float64(len(orders)))
	f.logger.Info("Fetched order window",
		zap.String("tenant_id", conn.TenantID),
		zap.Int("orders", len(orders)),
		zap.Time("window_start", window.Start),
		zap.Time("window_end", window.End))

	return orders, nil
}

// pageAll drains a cursor listing. Follow-up requests carry only the cursor;
// the platform rejects repeated filters once page_info is set.
func (f *Fetcher) pageAll(ctx context.Context, client *shopify.Client, params shopify.ListOrdersParams) ([]shopify.Order, error) {
	var all []shopify.Order
	for {
		page, next, err := client.ListOrders(ctx, params)
		if err != nil {
			return nil, err
		}
		util.FetchPagesTotal.Inc()
		all = append(all, page...)
		if next == "" {
			return all, nil
		}
		params = shopify.ListOrdersParams{Limit: f.pageSize, PageInfo: next}
	}
}

func hasRefundIn(o shopify.Order, window models.Window) bool {
	for _, r := range o.Refunds {
		at := r.CreatedAt
		if r.ProcessedAt != nil {
			at = *r.ProcessedAt
		}
		if window.Contains(at) {
			return true
		}
	}
	return false
}
