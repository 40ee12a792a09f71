package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type NotificationType string

const (
	NotificationLowStock   NotificationType = "low_stock"
	NotificationOutOfStock NotificationType = "out_of_stock"
)

type Notification struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Type      NotificationType `json:"type"`
	ProductID string           `json:"product_id,omitempty"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
}

type AuditEvent string

const (
	EventOrderCreated   AuditEvent = "Order Created"
	EventOrderUpdated   AuditEvent = "Order Updated"
	EventOrderCancelled AuditEvent = "Order Cancelled"
)

// AuditEntry is one sales log record. Entries are only ever appended.
type AuditEntry struct {
	ID           string          `json:"id"`
	OrderID      string          `json:"order_id"`
	Event        AuditEvent      `json:"description"`
	CustomerName string          `json:"customer_name"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Snapshot     OrderSnapshot   `json:"snapshot"`
	Actor        ActorRef        `json:"actor"`
	CreatedAt    time.Time       `json:"created_at"`
}

type OrderSnapshot struct {
	Order    OrderState    `json:"orders"`
	Shipment ShipmentState `json:"shipments"`
	Items    []LineItem    `json:"order_items"`
}

type OrderState struct {
	ID             string         `json:"id"`
	CustomerID     string         `json:"customer_id"`
	PaymentMethod  string         `json:"payment_method"`
	PaymentStatus  PaymentStatus  `json:"payment_status"`
	ShippingStatus ShippingStatus `json:"shipping_status"`
	RushShip       bool           `json:"rush_ship"`
	BatchID        string         `json:"batch_id,omitempty"`
	CreatedBy      ActorRef       `json:"created_by"`
	CreatedAt      time.Time      `json:"created_at"`
}

type ShipmentState struct {
	Address        string          `json:"address"`
	CourierName    string          `json:"courier"`
	TrackingNumber string          `json:"tracking"`
	ShippingFee    decimal.Decimal `json:"shipping_fee"`
}

// ActorRef identifies who performed an operation.
type ActorRef struct {
	ID    string `json:"uid"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// System is the actor stamped when no identity is attached to a request.
var System = ActorRef{ID: "system", Name: "System"}

func (a ActorRef) IsZero() bool {
	return a.ID == ""
}
