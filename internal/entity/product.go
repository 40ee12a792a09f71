package entity

import "github.com/shopspring/decimal"

type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	SKU         string          `json:"sku"`
	Quantity    int             `json:"quantity"`
	AlertStock  int             `json:"alert_stock"`
	BatchID     string          `json:"batch_id,omitempty"` // supply batch
	Cost        decimal.Decimal `json:"cost"`
	RetailPrice decimal.Decimal `json:"retail_price"`
}

type BatchStatus string

const (
	BatchOpen      BatchStatus = "Open"
	BatchClosed    BatchStatus = "Closed"
	BatchDelivered BatchStatus = "Delivered"
	BatchCancelled BatchStatus = "Cancelled"
)

// Batch holds running counters. TotalOrders and TotalSales are maintained
// incrementally by the ledger and never recomputed from orders.
type Batch struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Status      BatchStatus     `json:"status"`
	TotalOrders int             `json:"total_orders"`
	TotalSales  decimal.Decimal `json:"total_sales"`
}

// AggregateDelta is applied to a batch's counters in one step. Stores clamp both
// counters at zero.
type AggregateDelta struct {
	Orders int
	Sales  decimal.Decimal
}

// Apply returns the counters after the delta, clamped at zero.
func (d AggregateDelta) Apply(orders int, sales decimal.Decimal) (int, decimal.Decimal) {
	orders += d.Orders
	if orders < 0 {
		orders = 0
	}
	sales = sales.Add(d.Sales)
	if sales.IsNegative() {
		sales = decimal.Zero
	}
	return orders, sales
}

/*
Schema MySQL for product and batch tables:

CREATE TABLE `products` (
  `id` varchar(64) NOT NULL,
  `name` varchar(255) NOT NULL,
  `sku` varchar(64) NULL,
  `quantity` int NOT NULL,
  `alert_stock` int NOT NULL DEFAULT 0,
  `batch_id` varchar(64) NULL,
  `cost` decimal(20,2) NOT NULL DEFAULT 0,
  `retail_price` decimal(20,2) NOT NULL DEFAULT 0,
  PRIMARY KEY (`id`)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
*/
