// Package classifier labels each order new, returning, or guest from the
// customer reference the fetcher attached. It is pure: the lifetime order
// count comes from the platform and is never recomputed here.
package classifier

import (
	"reconciliation-service/internal/models"
)

// Classify maps every order ID to a classification. No customer reference
// means a guest checkout. A lifetime count of 1 marks the customer's first
// order ever; 0 appears when the platform's counter lags a just-placed
// order and is treated the same way. Anything above 1 is returning.
//
// The count is cumulative as of fetch time, not as of the order's date: an
// old order can classify as returning because the customer came back later.
// That drift is a property of the source counter; LifetimeOrders is kept on
// the result so consumers can see what the verdict was based on.
func Classify(orders []models.CanonicalOrder) models.ClassificationMap {
	classes := make(models.ClassificationMap, len(orders))
	for _, o := range orders {
		if o.Customer == nil {
			classes[o.ID] = models.Classification{Class: models.CustomerClassGuest}
			continue
		}
		class := models.CustomerClassReturning
		if o.Customer.LifetimeOrders <= 1 {
			class = models.CustomerClassNew
		}
		classes[o.ID] = models.Classification{
			Class:          class,
			LifetimeOrders: o.Customer.LifetimeOrders,
		}
	}
	return classes
}
