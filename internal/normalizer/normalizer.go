// Package normalizer converts raw platform orders into the canonical
// internal representation. Normalize is a pure function: one raw order in,
// one canonical order out, no I/O. The monetary source-field ambiguities
// (order-level vs line-level discounts, missing order-level tax, refund
// order adjustments) are resolved here so that every later stage sees
// uniform fields.
package normalizer

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"reconciliation-service/internal/errs"
	"reconciliation-service/internal/models"
	"reconciliation-service/internal/shopify"
	"reconciliation-service/internal/util"
)

// Normalize converts one raw order. It returns MalformedSourceRecordError
// when a required field is missing; callers decide whether that aborts the
// batch (NormalizeAll does not).
func Normalize(o shopify.Order) (models.CanonicalOrder, error) {
	switch {
	case o.ID == 0:
		return models.CanonicalOrder{}, &errs.MalformedSourceRecordError{OrderID: o.ID, Field: "id"}
	case o.CreatedAt.IsZero():
		return models.CanonicalOrder{}, &errs.MalformedSourceRecordError{OrderID: o.ID, Field: "created_at"}
	case o.Currency == "":
		return models.CanonicalOrder{}, &errs.MalformedSourceRecordError{OrderID: o.ID, Field: "currency"}
	}

	lineItems := make([]models.CanonicalLineItem, 0, len(o.LineItems))
	lineDiscounts := decimal.Zero
	lineTax := decimal.Zero
	for _, li := range o.LineItems {
		discount := decimal.Zero
		for _, alloc := range li.DiscountAllocations {
			discount = discount.Add(alloc.Amount)
		}
		tax := decimal.Zero
		for _, tl := range li.TaxLines {
			tax = tax.Add(tl.Price)
		}
		lineDiscounts = lineDiscounts.Add(discount)
		lineTax = lineTax.Add(tax)
		lineItems = append(lineItems, models.CanonicalLineItem{
			ProductID: li.ProductID,
			VariantID: li.VariantID,
			Quantity:  li.Quantity,
			Price:     li.Price,
			Discount:  discount,
			Tax:       tax,
		})
	}

	// Order-level discounts win when supplied: they also cover discounts
	// that exist outside any line item, e.g. shipping discounts. The
	// line-allocation sum is the fallback for records that omit the field.
	totalDiscounts := lineDiscounts
	if o.TotalDiscounts != nil {
		totalDiscounts = *o.TotalDiscounts
	}

	refunds := make([]models.CanonicalRefund, 0, len(o.Refunds))
	for _, r := range o.Refunds {
		refunds = append(refunds, normalizeRefund(r))
	}

	transactions := make([]models.CanonicalTransaction, 0, len(o.Transactions))
	for _, tx := range o.Transactions {
		transactions = append(transactions, models.CanonicalTransaction{
			ID:          tx.ID,
			Kind:        tx.Kind,
			Status:      tx.Status,
			Amount:      tx.Amount,
			ProcessedAt: tx.ProcessedAt,
		})
	}

	var customer *models.CustomerRef
	if o.Customer != nil {
		customer = &models.CustomerRef{
			ID:             o.Customer.ID,
			LifetimeOrders: o.Customer.OrdersCount,
		}
	}

	return models.CanonicalOrder{
		ID:              o.ID,
		Name:            o.Name,
		Currency:        o.Currency,
		CreatedAt:       o.CreatedAt,
		CancelledAt:     o.CancelledAt,
		FinancialStatus: inferFinancialStatus(o),
		LineItems:       lineItems,
		TotalDiscounts:  totalDiscounts,
		TotalTax:        lineTax,
		Refunds:         refunds,
		Transactions:    transactions,
		Customer:        customer,
	}, nil
}

// NormalizeAll converts a batch, skipping and logging malformed orders
// instead of aborting: one bad record must not block a whole day. The
// second return is the number of skipped orders.
func NormalizeAll(orders []shopify.Order) ([]models.CanonicalOrder, int) {
	logger := util.GetLogger()
	canonical := make([]models.CanonicalOrder, 0, len(orders))
	skipped := 0
	for _, o := range orders {
		c, err := Normalize(o)
		if err != nil {
			skipped++
			util.OrdersSkippedTotal.Inc()
			logger.Warn("Skipping malformed source order",
				zap.Int64("order_id", o.ID),
				zap.Error(err))
			continue
		}
		canonical = append(canonical, c)
	}
	return canonical, skipped
}

// normalizeRefund produces the tax-exclusive refunded amount. Preference:
// line subtotals plus order-level adjustments (shipping refunds and
// discrepancies live only there), falling back to successful refund
// transactions when a refund carries neither. Adjustment amounts arrive
// negative for money returned, hence the subtraction.
func normalizeRefund(r shopify.Refund) models.CanonicalRefund {
	processedAt := r.CreatedAt
	if r.ProcessedAt != nil {
		processedAt = *r.ProcessedAt
	}

	amount := decimal.Zero
	tax := decimal.Zero
	if len(r.RefundLineItems) > 0 || len(r.OrderAdjustments) > 0 {
		for _, rli := range r.RefundLineItems {
			amount = amount.Add(rli.Subtotal)
			tax = tax.Add(rli.TotalTax)
		}
		for _, adj := range r.OrderAdjustments {
			amount = amount.Sub(adj.Amount)
			tax = tax.Sub(adj.TaxAmount)
		}
	} else {
		// Gateway amounts are tax-inclusive; without line detail the tax
		// share is unknowable and stays zero.
		for _, tx := range r.Transactions {
			if tx.Kind == models.TransactionKindRefund && tx.Status == models.TransactionStatusSuccess {
				amount = amount.Add(tx.Amount)
			}
		}
	}

	return models.CanonicalRefund{
		ID:          r.ID,
		ProcessedAt: processedAt,
		Amount:      amount,
		Tax:         tax,
	}
}

// inferFinancialStatus derives the payment state from transactions rather
// than trusting the platform's own field, which older records omit.
// partially_refunded is checked before paid: any successful sale would
// otherwise shadow it.
func inferFinancialStatus(o shopify.Order) models.FinancialStatus {
	if o.CancelledAt != nil {
		return models.FinancialStatusVoided
	}

	hasSale := false
	hasRefund := false
	for _, tx := range o.Transactions {
		if tx.Status != models.TransactionStatusSuccess {
			continue
		}
		switch tx.Kind {
		case models.TransactionKindSale, models.TransactionKindCapture:
			hasSale = true
		case models.TransactionKindRefund:
			hasRefund = true
		}
	}
	for _, r := range o.Refunds {
		for _, tx := range r.Transactions {
			if tx.Kind == models.TransactionKindRefund && tx.Status == models.TransactionStatusSuccess {
				hasRefund = true
			}
		}
	}

	switch {
	case hasSale && hasRefund:
		return models.FinancialStatusPartiallyRefunded
	case hasSale:
		return models.FinancialStatusPaid
	default:
		return models.FinancialStatusPending
	}
}
