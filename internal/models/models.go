package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Mode selects which bucketing convention a reconciliation run uses.
// The two modes are parallel, non-redundant views over the same orders:
// shopify mode buckets by order creation date and includes cancelled and
// unpaid orders; financial mode buckets by the date of the first successful
// sale transaction and excludes orders that never collected money.
type Mode string

const (
	ModeShopify   Mode = "shopify"
	ModeFinancial Mode = "financial"
)

// AllModes returns the modes a run covers when the caller does not pick one.
func AllModes() []Mode {
	return []Mode{ModeShopify, ModeFinancial}
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeShopify || m == ModeFinancial
}

// FinancialStatus is the inferred payment state of a canonical order.
type FinancialStatus string

const (
	FinancialStatusVoided            FinancialStatus = "voided"
	FinancialStatusPaid              FinancialStatus = "paid"
	FinancialStatusPartiallyRefunded FinancialStatus = "partially_refunded"
	FinancialStatusPending           FinancialStatus = "pending"
)

// Transaction kinds mirrored from the source platform.
const (
	TransactionKindSale          = "sale"
	TransactionKindCapture       = "capture"
	TransactionKindAuthorization = "authorization"
	TransactionKindRefund        = "refund"
	TransactionKindVoid          = "void"
)

// TransactionStatusSuccess is the only status that moves money.
const TransactionStatusSuccess = "success"

// CanonicalOrder is the normalized form of one raw platform order. It is
// constructed once by the normalizer and immutable afterwards; every
// downstream stage (classifier, calculator) reads it without copying.
type CanonicalOrder struct {
	ID              int64
	Name            string
	Currency        string
	CreatedAt       time.Time
	CancelledAt     *time.Time
	FinancialStatus FinancialStatus
	LineItems       []CanonicalLineItem
	// TotalDiscounts is the order-level discount total when the platform
	// supplied one, otherwise the sum of line-item discount allocations.
	// The order-level figure wins because it also covers discounts that
	// live outside any line item (e.g. shipping discounts).
	TotalDiscounts decimal.Decimal
	// TotalTax is always summed from line-item tax lines; the order-level
	// tax field is missing on older platform records.
	TotalTax     decimal.Decimal
	Refunds      []CanonicalRefund
	Transactions []CanonicalTransaction
	Customer     *CustomerRef
}

// CanonicalLineItem carries the per-line figures the calculator needs.
// Price is the unit price before discount and before tax.
type CanonicalLineItem struct {
	ProductID int64
	VariantID int64
	Quantity  int
	Price     decimal.Decimal
	Discount  decimal.Decimal
	Tax       decimal.Decimal
}

// CanonicalRefund is one refund event on an order. Amount excludes tax and
// is order-adjustment aware: it covers shipping and other order-level
// adjustments that a naive line-item resum would miss. ProcessedAt decides
// which day's bucket the refund lands in.
type CanonicalRefund struct {
	ID          int64
	ProcessedAt time.Time
	Amount      decimal.Decimal
	Tax         decimal.Decimal
}

// CanonicalTransaction is one payment-gateway transaction on an order.
type CanonicalTransaction struct {
	ID          int64
	Kind        string
	Status      string
	Amount      decimal.Decimal
	ProcessedAt time.Time
}

// CustomerRef links an order to the platform customer who placed it.
// LifetimeOrders is the platform's cumulative account-wide order counter at
// fetch time. It is trusted as ground truth for "first order ever" and is
// not recomputed locally; see the classifier docs for the staleness caveat.
type CustomerRef struct {
	ID             int64
	LifetimeOrders int
}

// FirstSuccessfulSale returns the earliest successful sale or capture
// transaction, or false when the order never collected money. Financial
// mode buckets orders by this transaction's processed date.
func (o *CanonicalOrder) FirstSuccessfulSale() (CanonicalTransaction, bool) {
	var best CanonicalTransaction
	found := false
	for _, tx := range o.Transactions {
		if tx.Status != TransactionStatusSuccess {
			continue
		}
		if tx.Kind != TransactionKindSale && tx.Kind != TransactionKindCapture {
			continue
		}
		if !found || tx.ProcessedAt.Before(best.ProcessedAt) {
			best = tx
			found = true
		}
	}
	return best, found
}

// OrderBreakdown is the per-order monetary decomposition. All figures are in
// the order's currency and exclude tax; NetSales always equals
// GrossSales - Discounts - Refunds.
type OrderBreakdown struct {
	OrderID    int64
	Currency   string
	GrossSales decimal.Decimal
	Discounts  decimal.Decimal
	Refunds    decimal.Decimal
	Tax        decimal.Decimal
	NetSales   decimal.Decimal
}

// CustomerClass labels an order by the ordering customer's history.
type CustomerClass string

const (
	CustomerClassNew       CustomerClass = "new"
	CustomerClassReturning CustomerClass = "returning"
	CustomerClassGuest     CustomerClass = "guest"
)

// Classification is the classifier's verdict for one order. LifetimeOrders
// is carried through so consumers can judge how it was derived: the counter
// is cumulative as of fetch time, not as of the order's historical date, so
// old orders can read "returning" for customers who only became repeat
// buyers later.
type Classification struct {
	Class          CustomerClass
	LifetimeOrders int
}

// ClassificationMap maps order ID to its classification.
type ClassificationMap map[int64]Classification

// DailySalesRow is the persisted per-day aggregate, keyed by
// (tenant_id, date, mode). A reconciliation run replaces matching rows
// wholesale; rows are never partially patched.
type DailySalesRow struct {
	TenantID    string          `db:"tenant_id" json:"tenant_id"`
	Date        string          `db:"date" json:"date"` // YYYY-MM-DD in the tenant's timezone
	Mode        Mode            `db:"mode" json:"mode"`
	Currency    string          `db:"currency" json:"currency"`
	GrossSales  decimal.Decimal `db:"gross_sales" json:"gross_sales"`
	Discounts   decimal.Decimal `db:"discounts" json:"discounts"`
	Refunds     decimal.Decimal `db:"refunds" json:"refunds"`
	NetSales    decimal.Decimal `db:"net_sales" json:"net_sales"`
	Tax         decimal.Decimal `db:"tax" json:"tax"`
	OrdersCount int             `db:"orders_count" json:"orders_count"`
	// The three-way split sums to NetSales when present. All three are null
	// when any order contributing to the day lacked classification data; a
	// partial split would be a false one.
	NewCustomerNetSales       decimal.NullDecimal `db:"new_customer_net_sales" json:"new_customer_net_sales"`
	ReturningCustomerNetSales decimal.NullDecimal `db:"returning_customer_net_sales" json:"returning_customer_net_sales"`
	GuestNetSales             decimal.NullDecimal `db:"guest_net_sales" json:"guest_net_sales"`
	SyncedAt                  time.Time           `db:"synced_at" json:"synced_at"`
}

// Sync run states. A run walks the states in order and never re-enters one;
// StateFailed is terminal and reachable from any non-terminal state.
const (
	StateFetching    = "FETCHING"
	StateNormalizing = "NORMALIZING"
	StateClassifying = "CLASSIFYING"
	StateAggregating = "AGGREGATING"
	StatePersisting  = "PERSISTING"
	StateDone        = "DONE"
	StateFailed      = "FAILED"
)

// SyncRun is the persisted record of one reconciliation pass over a
// (tenant, mode, window) request.
type SyncRun struct {
	ID            string     `db:"id" json:"id"`
	TenantID      string     `db:"tenant_id" json:"tenant_id"`
	Mode          Mode       `db:"mode" json:"mode"`
	SinceDate     string     `db:"since_date" json:"since_date"`
	UntilDate     string     `db:"until_date" json:"until_date"`
	State         string     `db:"state" json:"state"`
	FailureReason string     `db:"failure_reason" json:"failure_reason,omitempty"`
	OrdersFetched int        `db:"orders_fetched" json:"orders_fetched"`
	OrdersSkipped int        `db:"orders_skipped" json:"orders_skipped"`
	RowsWritten   int        `db:"rows_written" json:"rows_written"`
	StartedAt     time.Time  `db:"started_at" json:"started_at"`
	FinishedAt    *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}

// ShopConnection is the per-tenant credential record this engine consumes.
// It is written by the external connection wizard; the engine only reads it
// and never refreshes tokens.
type ShopConnection struct {
	TenantID    string    `db:"tenant_id"`
	ShopDomain  string    `db:"shop_domain"`
	AccessToken string    `db:"access_token"`
	Currency    string    `db:"currency"`
	Timezone    string    `db:"timezone"`
	ConnectedAt time.Time `db:"connected_at"`
}

// Location resolves the tenant's configured timezone, falling back to UTC
// when the stored zone name is empty or unknown.
func (c *ShopConnection) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ProcessedEvent records a consumed scheduler event for replay dedupe.
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

// SyncStatus is the cached "where is my sync" answer served to dashboards.
// It lives in redis keyed by (tenant, mode) and mirrors the current or most
// recent run without a database round trip.
type SyncStatus struct {
	TenantID  string    `json:"tenant_id"`
	Mode      Mode      `json:"mode"`
	RunID     string    `json:"run_id"`
	State     string    `json:"state"`
	SinceDate string    `json:"since_date"`
	UntilDate string    `json:"until_date"`
	UpdatedAt time.Time `json:"updated_at"`
}
