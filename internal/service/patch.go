package service

import (
	"strings"

	"github.com/shopspring/decimal"

	"fulfillment-ledger/internal/apperr"
	"fulfillment-ledger/internal/entity"
)

// applyPatch validates the whole patch before touching order.
func applyPatch(order *entity.Order, p *entity.OrderPatch) error {
	if p.CustomerID != nil && strings.TrimSpace(*p.CustomerID) == "" {
		return apperr.Validation("customer_id must not be blank")
	}
	if p.PaymentStatus != nil && !p.PaymentStatus.Valid() {
		return apperr.Validation("unknown payment status %q", *p.PaymentStatus)
	}

	var raiseRush bool
	if p.ShippingStatus != nil {
		next := *p.ShippingStatus
		switch {
		case next.IsRushShip():
			raiseRush = true
		case next == entity.ShippingCancelled:
			return apperr.Validation("orders are cancelled through cancel, not update")
		case !next.Valid():
			return apperr.Validation("unknown shipping status %q", next)
		case !entity.CanTransition(order.ShippingStatus, next):
			return apperr.Validation("order %s cannot move from %s to %s", order.ID, order.ShippingStatus, next)
		}
	}

	for name, v := range map[string]*decimal.Decimal{
		"unit_price":     p.UnitPrice,
		"shipping_fee":   p.ShippingFee,
		"rush_surcharge": p.RushSurcharge,
		"total":          p.Total,
	} {
		if v != nil && v.IsNegative() {
			return apperr.Validation("%s must not be negative, got %s", name, *v)
		}
	}

	setString(&order.CustomerID, p.CustomerID)
	setString(&order.Contact.CustomerName, p.CustomerName)
	setString(&order.Contact.ContactNumber, p.ContactNumber)
	setString(&order.Contact.Email, p.Email)
	setString(&order.Contact.Address, p.Address)
	setString(&order.PaymentMethod, p.PaymentMethod)
	setString(&order.BatchID, p.BatchID)
	setString(&order.Shipment.CourierName, p.CourierName)
	setString(&order.Shipment.TrackingNumber, p.TrackingNumber)
	setString(&order.Remarks, p.Remarks)

	if p.UnitPrice != nil {
		order.Pricing.UnitPrice = *p.UnitPrice
	}
	if p.ShippingFee != nil {
		order.Pricing.ShippingFee = *p.ShippingFee
	}
	if p.RushSurcharge != nil {
		order.Pricing.RushSurcharge = *p.RushSurcharge
	}
	if p.Total != nil {
		order.Pricing.Total = *p.Total
	}
	if p.RushShip != nil {
		order.RushShip = *p.RushShip
	}
	if raiseRush {
		order.RushShip = true
	}
	if p.PaymentStatus != nil {
		order.PaymentStatus = *p.PaymentStatus
	}
	if p.ShippingStatus != nil && !raiseRush {
		order.ShippingStatus = *p.ShippingStatus
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
