// Package calculator turns canonical orders into per-order breakdowns and
// per-day aggregate rows. It is pure decimal arithmetic: no I/O, no clock,
// no float64 anywhere. Rounding happens once, at the row boundary; the fold
// runs at full precision so a bucket of hundreds of orders cannot compound
// rounding error.
package calculator

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"reconciliation-service/internal/errs"
	"reconciliation-service/internal/models"
)

// tolerance is the audit slack for the row identities: one cent.
var tolerance = decimal.New(1, -2)

// OrderBreakdown decomposes one order into gross, discounts, refunds, tax
// and net, all tax-exclusive except Tax itself, which is the tax collected
// net of refunded tax. NetSales = GrossSales - Discounts - Refunds holds
// exactly because net is computed from the identity at full precision.
func OrderBreakdown(o models.CanonicalOrder) models.OrderBreakdown {
	gross := grossSales(o)
	refunds := decimal.Zero
	refundedTax := decimal.Zero
	for _, r := range o.Refunds {
		refunds = refunds.Add(r.Amount)
		refundedTax = refundedTax.Add(r.Tax)
	}
	return models.OrderBreakdown{
		OrderID:    o.ID,
		Currency:   o.Currency,
		GrossSales: gross,
		Discounts:  o.TotalDiscounts,
		Refunds:    refunds,
		Tax:        o.TotalTax.Sub(refundedTax),
		NetSales:   gross.Sub(o.TotalDiscounts).Sub(refunds),
	}
}

// DailyAggregates folds the window's orders into one row per window date
// for the given mode. Orders bucket by creation date (shopify mode) or by
// the first successful sale transaction's date (financial mode); each
// refund buckets by its own processed date in both modes, which is how
// money refunded on day D lands on day D even when the order is older than
// the window. Dates outside the window are dropped: only refund amounts of
// out-of-window orders were fetched for them, so any row would be a lie.
// Every in-window date gets a row, zero-filled when nothing happened, so a
// rerun overwrites days whose activity has since disappeared.
func DailyAggregates(tenantID, currency string, orders []models.CanonicalOrder, classes models.ClassificationMap, mode models.Mode, loc *time.Location, window models.Window) ([]models.DailySalesRow, error) {
	buckets := make(map[string]*bucket)
	for _, date := range window.Dates(loc) {
		buckets[date] = &bucket{splitValid: true}
	}

	for i := range orders {
		o := &orders[i]
		if !includeOrder(o, mode) {
			continue
		}
		if o.Currency != currency {
			return nil, &errs.ReconciliationInvariantViolation{
				TenantID: tenantID,
				Date:     window.SinceDate(loc),
				Mode:     string(mode),
				Detail:   fmt.Sprintf("order %d is in %s but the window aggregates %s; cross-currency folding is not supported", o.ID, o.Currency, currency),
			}
		}

		class, classified := classes[o.ID]

		if date, ok := bucketDate(o, mode, loc); ok {
			if b := buckets[date]; b != nil {
				gross := grossSales(*o)
				b.gross = b.gross.Add(gross)
				b.discounts = b.discounts.Add(o.TotalDiscounts)
				b.tax = b.tax.Add(o.TotalTax)
				b.ordersCount++
				b.route(gross.Sub(o.TotalDiscounts), class, classified)
			}
		}

		for _, r := range o.Refunds {
			b := buckets[r.ProcessedAt.In(loc).Format(models.DateLayout)]
			if b == nil {
				continue
			}
			b.refunds = b.refunds.Add(r.Amount)
			b.tax = b.tax.Sub(r.Tax)
			b.route(r.Amount.Neg(), class, classified)
		}
	}

	rows := make([]models.DailySalesRow, 0, len(buckets))
	for date, b := range buckets {
		row, err := b.emit(tenantID, date, mode, currency)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date < rows[j].Date })
	return rows, nil
}

// includeOrder applies the mode's inclusion rule. Shopify mode reflects
// "orders placed" and takes everything; financial mode reflects "money
// collected" and drops cancelled orders and orders that never saw a
// successful sale, refunds included.
func includeOrder(o *models.CanonicalOrder, mode models.Mode) bool {
	if mode == models.ModeShopify {
		return true
	}
	if o.CancelledAt != nil {
		return false
	}
	_, paid := o.FirstSuccessfulSale()
	return paid
}

// bucketDate picks the order-level bucket for the mode. The refund portions
// of an order are bucketed separately by each refund's own processed date.
func bucketDate(o *models.CanonicalOrder, mode models.Mode, loc *time.Location) (string, bool) {
	if mode == models.ModeFinancial {
		sale, ok := o.FirstSuccessfulSale()
		if !ok {
			return "", false
		}
		return sale.ProcessedAt.In(loc).Format(models.DateLayout), true
	}
	return o.CreatedAt.In(loc).Format(models.DateLayout), true
}

func grossSales(o models.CanonicalOrder) decimal.Decimal {
	gross := decimal.Zero
	for _, li := range o.LineItems {
		gross = gross.Add(li.Price.Mul(decimal.NewFromInt(int64(li.Quantity))))
	}
	return gross
}

// bucket accumulates one day's figures at full precision.
type bucket struct {
	gross       decimal.Decimal
	discounts   decimal.Decimal
	refunds     decimal.Decimal
	tax         decimal.Decimal
	ordersCount int

	splitNew       decimal.Decimal
	splitReturning decimal.Decimal
	splitGuest     decimal.Decimal
	// splitValid flips false the moment an unclassified order touches the
	// bucket: a partial split would read as a real one downstream.
	splitValid bool
}

// route adds a net-sales contribution to the class sum the order belongs
// to. Refund contributions arrive negated.
func (b *bucket) route(amount decimal.Decimal, class models.Classification, classified bool) {
	if !classified {
		b.splitValid = false
		return
	}
	switch class.Class {
	case models.CustomerClassNew:
		b.splitNew = b.splitNew.Add(amount)
	case models.CustomerClassReturning:
		b.splitReturning = b.splitReturning.Add(amount)
	case models.CustomerClassGuest:
		b.splitGuest = b.splitGuest.Add(amount)
	default:
		b.splitValid = false
	}
}

// emit rounds the bucket to two decimals and verifies both row identities.
// A violation is returned, never clamped: the whole point of this engine is
// that a row either reconciles or fails loudly.
func (b *bucket) emit(tenantID, date string, mode models.Mode, currency string) (models.DailySalesRow, error) {
	gross := b.gross.Round(2)
	discounts := b.discounts.Round(2)
	refunds := b.refunds.Round(2)
	net := b.gross.Sub(b.discounts).Sub(b.refunds).Round(2)

	if gross.Sub(discounts).Sub(refunds).Sub(net).Abs().GreaterThan(tolerance) {
		return models.DailySalesRow{}, &errs.ReconciliationInvariantViolation{
			TenantID: tenantID,
			Date:     date,
			Mode:     string(mode),
			Detail: fmt.Sprintf("net %s != gross %s - discounts %s - refunds %s",
				net, gross, discounts, refunds),
		}
	}

	row := models.DailySalesRow{
		TenantID:    tenantID,
		Date:        date,
		Mode:        mode,
		Currency:    currency,
		GrossSales:  gross,
		Discounts:   discounts,
		Refunds:     refunds,
		NetSales:    net,
		Tax:         b.tax.Round(2),
		OrdersCount: b.ordersCount,
	}

	if b.splitValid {
		splitNew := b.splitNew.Round(2)
		splitReturning := b.splitReturning.Round(2)
		splitGuest := b.splitGuest.Round(2)
		if splitNew.Add(splitReturning).Add(splitGuest).Sub(net).Abs().GreaterThan(tolerance) {
			return models.DailySalesRow{}, &errs.ReconciliationInvariantViolation{
				TenantID: tenantID,
				Date:     date,
				Mode:     string(mode),
				Detail: fmt.Sprintf("customer split %s + %s + %s does not sum to net %s",
					splitNew, splitReturning, splitGuest, net),
			}
		}
		row.NewCustomerNetSales = decimal.NewNullDecimal(splitNew)
		row.ReturningCustomerNetSales = decimal.NewNullDecimal(splitReturning)
		row.GuestNetSales = decimal.NewNullDecimal(splitGuest)
	}

	return row, nil
}
