package pricing

import (
	"github.com/shopspring/decimal"

	"fulfillment-ledger/internal/entity"
)

// Calculator derives order totals from priced line items.
type Calculator struct {
	RushSurcharge decimal.Decimal // flat fee added when an order is rush shipped
}

func NewCalculator(rushSurcharge decimal.Decimal) *Calculator {
	return &Calculator{RushSurcharge: rushSurcharge}
}

// Compute returns the totals for items whose UnitPrice has been captured.
func (c *Calculator) Compute(items []entity.LineItem, shippingFee decimal.Decimal, rush bool) entity.Pricing {
	unitSum := decimal.Zero
	for _, item := range items {
		unitSum = unitSum.Add(item.Subtotal())
	}

	surcharge := decimal.Zero
	if rush {
		surcharge = c.RushSurcharge
	}

	return entity.Pricing{
		UnitPrice:     unitSum,
		ShippingFee:   shippingFee,
		RushSurcharge: surcharge,
		Total:         unitSum.Add(shippingFee).Add(surcharge),
	}
}

// Resolve keeps caller supplied totals and only fills them in when the caller
// left the grand total at zero.
func (c *Calculator) Resolve(requested entity.Pricing, items []entity.LineItem, rush bool) entity.Pricing {
	if !requested.Total.IsZero() {
		return requested
	}
	return c.Compute(items, requested.ShippingFee, rush)
}
