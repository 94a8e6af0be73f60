package shopify

import (
	"time"

	"github.com/shopspring/decimal"
)

// Raw wire shapes of the platform's Admin REST API. Monetary fields arrive
// as JSON strings ("12.40"); decimal.Decimal unmarshals them without a float
// detour. Only the fields the reconciliation pipeline reads are declared.

// Order is one raw order as returned by GET /orders.json, with refunds and
// line items embedded. Order-level transactions come from a separate
// endpoint and are attached by the fetcher.
type Order struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CancelledAt     *time.Time `json:"cancelled_at"`
	Test            bool       `json:"test"`
	Currency        string     `json:"currency"`
	FinancialStatus string     `json:"financial_status"`
	// TotalDiscounts is nullable on purpose: older records omit it, in
	// which case the normalizer derives the figure from line-item
	// discount allocations.
	TotalDiscounts *decimal.Decimal `json:"total_discounts"`
	TotalTax       *decimal.Decimal `json:"total_tax"`
	LineItems      []LineItem       `json:"line_items"`
	Refunds        []Refund         `json:"refunds"`
	Transactions   []Transaction    `json:"transactions,omitempty"`
	Customer       *Customer        `json:"customer"`
}

// LineItem is one order line. Price is the pre-discount, pre-tax unit price.
type LineItem struct {
	ID                  int64                `json:"id"`
	ProductID           int64                `json:"product_id"`
	VariantID           int64                `json:"variant_id"`
	Title               string               `json:"title"`
	Quantity            int                  `json:"quantity"`
	Price               decimal.Decimal      `json:"price"`
	DiscountAllocations []DiscountAllocation `json:"discount_allocations"`
	TaxLines            []TaxLine            `json:"tax_lines"`
}

// DiscountAllocation is a share of a discount applied to one line item.
type DiscountAllocation struct {
	Amount decimal.Decimal `json:"amount"`
}

// TaxLine is one tax charge on a line item.
type TaxLine struct {
	Title string          `json:"title"`
	Rate  float64         `json:"rate"`
	Price decimal.Decimal `json:"price"`
}

// Refund is one refund event embedded in the order payload.
type Refund struct {
	ID               int64             `json:"id"`
	CreatedAt        time.Time         `json:"created_at"`
	ProcessedAt      *time.Time        `json:"processed_at"`
	RefundLineItems  []RefundLineItem  `json:"refund_line_items"`
	OrderAdjustments []OrderAdjustment `json:"order_adjustments"`
	Transactions     []Transaction     `json:"transactions"`
}

// RefundLineItem records the returned quantity and pre-tax subtotal of one
// refunded line.
type RefundLineItem struct {
	LineItemID int64           `json:"line_item_id"`
	Quantity   int             `json:"quantity"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	TotalTax   decimal.Decimal `json:"total_tax"`
}

// OrderAdjustment is an order-level refund correction (shipping refunds,
// refund discrepancies) that no line item carries. Amounts can be negative.
type OrderAdjustment struct {
	Kind      string          `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
	TaxAmount decimal.Decimal `json:"tax_amount"`
}

// Transaction is one payment-gateway transaction, either order-level (from
// the transactions endpoint) or nested inside a refund.
type Transaction struct {
	ID          int64           `json:"id"`
	Kind        string          `json:"kind"`
	Status      string          `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
	ProcessedAt time.Time       `json:"processed_at"`
	Test        bool            `json:"test"`
}

// Customer carries the platform's cumulative lifetime order counter for the
// account that placed the order. Absent for guest checkouts.
type Customer struct {
	ID          int64  `json:"id"`
	Email       string `json:"email"`
	OrdersCount int    `json:"orders_count"`
}

type ordersEnvelope struct {
	Orders []Order `json:"orders"`
}

type transactionsEnvelope struct {
	Transactions []Transaction `json:"transactions"`
}
