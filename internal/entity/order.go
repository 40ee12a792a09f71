package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID             string         `json:"id"`
	CustomerID     string         `json:"customer_id"`
	Contact        Contact        `json:"contact"`
	Items          []LineItem     `json:"items"`
	Pricing        Pricing        `json:"pricing"`
	RushShip       bool           `json:"rush_ship"`
	PaymentMethod  string         `json:"payment_method"`
	PaymentStatus  PaymentStatus  `json:"payment_status"`
	ShippingStatus ShippingStatus `json:"shipping_status"`
	BatchID        string         `json:"batch_id,omitempty"` // delivery batch, never aggregated
	Shipment       Shipment       `json:"shipment"`
	Remarks        string         `json:"remarks,omitempty"`
	CreatedBy      ActorRef       `json:"created_by"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// LineItem is one product/quantity pair of an order. UnitPrice and BatchID are
// captured from the product when the order is created and are what cancellation
// reverses against the batch counters.
type LineItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	BatchID   string          `json:"batch_id,omitempty"`
}

// Subtotal is UnitPrice x Quantity.
func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

type Contact struct {
	CustomerName  string `json:"customer_name"`
	ContactNumber string `json:"contact_number,omitempty"`
	Email         string `json:"email,omitempty"`
	Address       string `json:"address,omitempty"`
}

type Shipment struct {
	CourierName    string `json:"courier_name,omitempty"`
	TrackingNumber string `json:"tracking_number,omitempty"`
}

type Pricing struct {
	UnitPrice     decimal.Decimal `json:"unit_price"`
	ShippingFee   decimal.Decimal `json:"shipping_fee"`
	RushSurcharge decimal.Decimal `json:"rush_surcharge"`
	Total         decimal.Decimal `json:"total"`
}

// Clone returns a deep copy; stores hand out clones so callers never alias stored rows.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = append([]LineItem(nil), o.Items...)
	return &c
}

// ItemRequest is the boundary shape of a requested line item.
type ItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type OrderRequest struct {
	CustomerID     string         `json:"customer_id"`
	Contact        Contact        `json:"contact"`
	Items          []ItemRequest  `json:"items"`
	Pricing        Pricing        `json:"pricing"`
	RushShip       bool           `json:"rush_ship"`
	PaymentMethod  string         `json:"payment_method"`
	PaymentStatus  PaymentStatus  `json:"payment_status"`
	ShippingStatus ShippingStatus `json:"shipping_status"`
	BatchID        string         `json:"batch_id,omitempty"`
	Shipment       Shipment       `json:"shipment"`
	Remarks        string         `json:"remarks,omitempty"`

	// IdempotentKey comes from the Idempotent-Key header, not the body.
	IdempotentKey string `json:"-"`
}

// OrderPatch carries the mutable order attributes; nil fields are left untouched.
// Items are deliberately absent.
type OrderPatch struct {
	CustomerID     *string          `json:"customer_id,omitempty"`
	CustomerName   *string          `json:"customer_name,omitempty"`
	ContactNumber  *string          `json:"contact_number,omitempty"`
	Email          *string          `json:"email,omitempty"`
	Address        *string          `json:"address,omitempty"`
	UnitPrice      *decimal.Decimal `json:"unit_price,omitempty"`
	ShippingFee    *decimal.Decimal `json:"shipping_fee,omitempty"`
	RushSurcharge  *decimal.Decimal `json:"rush_surcharge,omitempty"`
	Total          *decimal.Decimal `json:"total,omitempty"`
	RushShip       *bool            `json:"rush_ship,omitempty"`
	PaymentMethod  *string          `json:"payment_method,omitempty"`
	PaymentStatus  *PaymentStatus   `json:"payment_status,omitempty"`
	ShippingStatus *ShippingStatus  `json:"shipping_status,omitempty"`
	BatchID        *string          `json:"batch_id,omitempty"`
	CourierName    *string          `json:"courier_name,omitempty"`
	TrackingNumber *string          `json:"tracking_number,omitempty"`
	Remarks        *string          `json:"remarks,omitempty"`
}

// CancelOutcome reports what CancelOrder did. An already cancelled order is a
// successful no-op, not an error.
type CancelOutcome string

const (
	OutcomeCancelled        CancelOutcome = "cancelled"
	OutcomeAlreadyCancelled CancelOutcome = "already_cancelled"
)

/*
Mysql Table

CREATE TABLE orders (
	id VARCHAR(36) PRIMARY KEY,
	customer_id VARCHAR(64) NOT NULL,
	...
);

CREATE TABLE order_items (
	order_id VARCHAR(36) NOT NULL REFERENCES orders(id),
	position INT NOT NULL,
	product_id VARCHAR(64) NOT NULL,
	quantity INT NOT NULL,
	unit_price DECIMAL(20,2) NOT NULL,
	batch_id VARCHAR(64) NULL,
	PRIMARY KEY (order_id, position)
);

See migrations for the full schema.
*/
