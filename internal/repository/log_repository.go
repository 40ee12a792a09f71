package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"fulfillment-ledger/internal/apperr"
	"fulfillment-ledger/internal/entity"
)

type NotificationRepository struct {
	tx *sql.Tx
}

func (r *NotificationRepository) Append(ctx context.Context, n *entity.Notification) error {
	query := "INSERT INTO notifications (id, title, message, type, product_id, `read`, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)"
	_, err := r.tx.ExecContext(ctx, query, n.ID, n.Title, n.Message, n.Type, nullString(n.ProductID), n.Read, n.CreatedAt, n.CreatedAt)
	return apperr.Wrap(err, "append notification %s", n.ID)
}

func (r *NotificationRepository) ListRecent(ctx context.Context, limit int) ([]*entity.Notification, error) {
	query := "SELECT id, title, message, type, product_id, `read`, created_at FROM notifications ORDER BY seq DESC LIMIT ?"
	rows, err := r.tx.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, apperr.Wrap(err, "list notifications")
	}
	defer rows.Close()

	var notifications []*entity.Notification
	for rows.Next() {
		n := &entity.Notification{}
		var productID sql.NullString
		if err := rows.Scan(&n.ID, &n.Title, &n.Message, &n.Type, &productID, &n.Read, &n.CreatedAt); err != nil {
			return nil, apperr.Wrap(err, "scan notification")
		}
		n.ProductID = productID.String
		notifications = append(notifications, n)
	}
	return notifications, apperr.Wrap(rows.Err(), "list notifications")
}

func (r *NotificationRepository) CountUnread(ctx context.Context) (int, error) {
	var count int
	err := r.tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM notifications WHERE `read` = 0").Scan(&count)
	return count, apperr.Wrap(err, "count unread notifications")
}

func (r *NotificationRepository) MarkAllRead(ctx context.Context) (int, error) {
	res, err := r.tx.ExecContext(ctx, "UPDATE notifications SET `read` = 1, updated_at = NOW() WHERE `read` = 0")
	if err != nil {
		return 0, apperr.Wrap(err, "mark notifications read")
	}
	affected, err := res.RowsAffected()
	return int(affected), apperr.Wrap(err, "mark notifications read")
}

type SalesLogRepository struct {
	tx *sql.Tx
}

func (r *SalesLogRepository) Append(ctx context.Context, entry *entity.AuditEntry) error {
	ordersJSON, err := json.Marshal(entry.Snapshot.Order)
	if err != nil {
		return err
	}
	shipmentsJSON, err := json.Marshal(entry.Snapshot.Shipment)
	if err != nil {
		return err
	}
	itemsJSON, err := json.Marshal(entry.Snapshot.Items)
	if err != nil {
		return err
	}
	actorJSON, err := json.Marshal(entry.Actor)
	if err != nil {
		return err
	}

	query := `INSERT INTO sales_logs (id, order_id, description, customer_name, total_amount, orders, shipments, order_items, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.tx.ExecContext(ctx, query, entry.ID, entry.OrderID, entry.Event, entry.CustomerName, entry.TotalAmount,
		ordersJSON, shipmentsJSON, itemsJSON, actorJSON, entry.CreatedAt)
	return apperr.Wrap(err, "append sales log for order %s", entry.OrderID)
}

func (r *SalesLogRepository) List(ctx context.Context, page, pageSize int) ([]*entity.AuditEntry, int, error) {
	var total int
	if err := r.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sales_logs`).Scan(&total); err != nil {
		return nil, 0, apperr.Wrap(err, "count sales logs")
	}

	query := `SELECT id, order_id, description, customer_name, total_amount, orders, shipments, order_items, actor, created_at
		FROM sales_logs ORDER BY seq DESC LIMIT ? OFFSET ?`
	rows, err := r.tx.QueryContext(ctx, query, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, apperr.Wrap(err, "list sales logs")
	}
	defer rows.Close()

	var entries []*entity.AuditEntry
	for rows.Next() {
		entry := &entity.AuditEntry{}
		var ordersJSON, shipmentsJSON, itemsJSON, actorJSON []byte
		err := rows.Scan(&entry.ID, &entry.OrderID, &entry.Event, &entry.CustomerName, &entry.TotalAmount,
			&ordersJSON, &shipmentsJSON, &itemsJSON, &actorJSON, &entry.CreatedAt)
		if err != nil {
			return nil, 0, apperr.Wrap(err, "scan sales log")
		}
		if err := unmarshalAll(
			ordersJSON, &entry.Snapshot.Order,
			shipmentsJSON, &entry.Snapshot.Shipment,
			itemsJSON, &entry.Snapshot.Items,
			actorJSON, &entry.Actor,
		); err != nil {
			return nil, 0, apperr.Wrap(err, "decode sales log %s", entry.ID)
		}
		entries = append(entries, entry)
	}
	return entries, total, apperr.Wrap(rows.Err(), "list sales logs")
}

// unmarshalAll takes alternating raw JSON / destination pairs and skips empty columns.
func unmarshalAll(pairs ...interface{}) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		raw, _ := pairs[i].([]byte)
		if len(raw) == 0 {
			continue
		}
		if err := json.Unmarshal(raw, pairs[i+1]); err != nil {
			return err
		}
	}
	return nil
}
