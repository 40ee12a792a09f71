package service

import (
	"fulfillment-ledger/internal/entity"
)

func (s *FulfillmentService) auditEntry(order *entity.Order, event entity.AuditEvent, actor entity.ActorRef) *entity.AuditEntry {
	return &entity.AuditEntry{
		ID:           s.newID(),
		OrderID:      order.ID,
		Event:        event,
		CustomerName: order.Contact.CustomerName,
		TotalAmount:  order.Pricing.Total,
		Snapshot:     snapshotOf(order),
		Actor:        actor,
		CreatedAt:    s.now().UTC(),
	}
}

func snapshotOf(order *entity.Order) entity.OrderSnapshot {
	return entity.OrderSnapshot{
		Order: entity.OrderState{
			ID:             order.ID,
			CustomerID:     order.CustomerID,
			PaymentMethod:  order.PaymentMethod,
			PaymentStatus:  order.PaymentStatus,
			ShippingStatus: order.ShippingStatus,
			RushShip:       order.RushShip,
			BatchID:        order.BatchID,
			CreatedBy:      order.CreatedBy,
			CreatedAt:      order.CreatedAt,
		},
		Shipment: entity.ShipmentState{
			Address:        order.Contact.Address,
			CourierName:    order.Shipment.CourierName,
			TrackingNumber: order.Shipment.TrackingNumber,
			ShippingFee:    order.Pricing.ShippingFee,
		},
		Items: append([]entity.LineItem(nil), order.Items...),
	}
}
