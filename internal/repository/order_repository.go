package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"fulfillment-ledger/internal/apperr"
	"fulfillment-ledger/internal/entity"
)

type OrderRepository struct {
	tx      *sql.Tx
	locking bool
}

const orderColumns = `id, customer_id, customer_name, contact_number, email, address,
	unit_price, shipping_fee, rush_surcharge, total, rush_ship,
	payment_method, payment_status, shipping_status, batch_id,
	courier_name, tracking_number, remarks, created_by, created_at, updated_at`

func (r *OrderRepository) Insert(ctx context.Context, order *entity.Order) error {
	createdBy, err := json.Marshal(order.CreatedBy)
	if err != nil {
		return err
	}

	// Insert order
	orderQuery := `INSERT INTO orders (` + orderColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.tx.ExecContext(ctx, orderQuery,
		order.ID, order.CustomerID, order.Contact.CustomerName, order.Contact.ContactNumber, order.Contact.Email, order.Contact.Address,
		order.Pricing.UnitPrice, order.Pricing.ShippingFee, order.Pricing.RushSurcharge, order.Pricing.Total, order.RushShip,
		order.PaymentMethod, order.PaymentStatus, order.ShippingStatus, nullString(order.BatchID),
		order.Shipment.CourierName, order.Shipment.TrackingNumber, order.Remarks, createdBy, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return apperr.Wrap(err, "insert order %s", order.ID)
	}

	if len(order.Items) == 0 {
		return nil
	}

	// Insert line items with batch
	itemQuery := `INSERT INTO order_items (order_id, position, product_id, quantity, unit_price, batch_id) VALUES `
	var placeholders []string
	var values []interface{}
	for i, item := range order.Items {
		placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?)")
		values = append(values, order.ID, i, item.ProductID, item.Quantity, item.UnitPrice, nullString(item.BatchID))
	}

	_, err = r.tx.ExecContext(ctx, itemQuery+strings.Join(placeholders, ", "), values...)
	if err != nil {
		return apperr.Wrap(err, "insert items for order %s", order.ID)
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*entity.Order, error) {
	orderQuery := `SELECT ` + orderColumns + ` FROM orders WHERE id = ?` + forUpdate(r.locking)

	order, err := scanOrder(r.tx.QueryRowContext(ctx, orderQuery, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("order %s not found", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, "get order %s", id)
	}

	if order.Items, err = r.items(ctx, id); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *OrderRepository) Update(ctx context.Context, order *entity.Order) error {
	orderQuery := `UPDATE orders SET customer_id = ?, customer_name = ?, contact_number = ?, email = ?, address = ?,
		unit_price = ?, shipping_fee = ?, rush_surcharge = ?, total = ?, rush_ship = ?,
		payment_method = ?, payment_status = ?, shipping_status = ?, batch_id = ?,
		courier_name = ?, tracking_number = ?, remarks = ?, updated_at = ?
		WHERE id = ?`
	_, err := r.tx.ExecContext(ctx, orderQuery,
		order.CustomerID, order.Contact.CustomerName, order.Contact.ContactNumber, order.Contact.Email, order.Contact.Address,
		order.Pricing.UnitPrice, order.Pricing.ShippingFee, order.Pricing.RushSurcharge, order.Pricing.Total, order.RushShip,
		order.PaymentMethod, order.PaymentStatus, order.ShippingStatus, nullString(order.BatchID),
		order.Shipment.CourierName, order.Shipment.TrackingNumber, order.Remarks, order.UpdatedAt,
		order.ID)
	if err != nil {
		return apperr.Wrap(err, "update order %s", order.ID)
	}
	return nil
}

func (r *OrderRepository) List(ctx context.Context, limit, offset int) ([]*entity.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	rows, err := r.tx.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, apperr.Wrap(err, "list orders")
	}
	defer rows.Close()

	var orders []*entity.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, apperr.Wrap(err, "scan order")
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(err, "list orders")
	}

	for _, order := range orders {
		if order.Items, err = r.items(ctx, order.ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r *OrderRepository) items(ctx context.Context, orderID string) ([]entity.LineItem, error) {
	itemQuery := `SELECT product_id, quantity, unit_price, batch_id FROM order_items WHERE order_id = ? ORDER BY position`
	rows, err := r.tx.QueryContext(ctx, itemQuery, orderID)
	if err != nil {
		return nil, apperr.Wrap(err, "get items for order %s", orderID)
	}
	defer rows.Close()

	var items []entity.LineItem
	for rows.Next() {
		var item entity.LineItem
		var batchID sql.NullString
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.UnitPrice, &batchID); err != nil {
			return nil, apperr.Wrap(err, "scan item for order %s", orderID)
		}
		item.BatchID = batchID.String
		items = append(items, item)
	}
	return items, apperr.Wrap(rows.Err(), "get items for order %s", orderID)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*entity.Order, error) {
	order := &entity.Order{}
	var batchID sql.NullString
	var createdBy []byte
	err := row.Scan(&order.ID, &order.CustomerID, &order.Contact.CustomerName, &order.Contact.ContactNumber, &order.Contact.Email, &order.Contact.Address,
		&order.Pricing.UnitPrice, &order.Pricing.ShippingFee, &order.Pricing.RushSurcharge, &order.Pricing.Total, &order.RushShip,
		&order.PaymentMethod, &order.PaymentStatus, &order.ShippingStatus, &batchID,
		&order.Shipment.CourierName, &order.Shipment.TrackingNumber, &order.Remarks, &createdBy, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}
	order.BatchID = batchID.String
	if len(createdBy) > 0 {
		if err := json.Unmarshal(createdBy, &order.CreatedBy); err != nil {
			return nil, err
		}
	}
	return order, nil
}
