package service

import (
	"fmt"

	"fulfillment-ledger/internal/entity"
)

// AlertFor is the stock threshold policy: out of stock at or below zero, low
// stock at or below alertStock, otherwise nothing.
func AlertFor(stock, alertStock int) (entity.NotificationType, bool) {
	switch {
	case stock <= 0:
		return entity.NotificationOutOfStock, true
	case stock <= alertStock:
		return entity.NotificationLowStock, true
	}
	return "", false
}

func (s *FulfillmentService) stockAlert(product *entity.Product) *entity.Notification {
	kind, ok := AlertFor(product.Quantity, product.AlertStock)
	if !ok {
		return nil
	}

	n := &entity.Notification{
		ID:        s.newID(),
		Type:      kind,
		ProductID: product.ID,
		CreatedAt: s.now().UTC(),
	}
	if kind == entity.NotificationOutOfStock {
		n.Title = "Out of Stock Alert"
		n.Message = fmt.Sprintf("Product %q is now out of stock!", product.Name)
	} else {
		n.Title = "Low Stock Alert"
		n.Message = fmt.Sprintf("Product %q has only %d left in stock.", product.Name, product.Quantity)
	}
	return n
}
