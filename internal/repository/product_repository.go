package repository

import (
	"context"
	"database/sql"
	"errors"

	"fulfillment-ledger/internal/apperr"
	"fulfillment-ledger/internal/entity"
)

type ProductRepository struct {
	tx *sql.Tx
}

func (r *ProductRepository) Get(ctx context.Context, id string) (*entity.Product, error) {
	query := `SELECT id, name, sku, quantity, alert_stock, batch_id, cost, retail_price FROM products WHERE id = ?`

	product := &entity.Product{}
	var batchID sql.NullString
	err := r.tx.QueryRowContext(ctx, query, id).Scan(&product.ID, &product.Name, &product.SKU, &product.Quantity, &product.AlertStock, &batchID, &product.Cost, &product.RetailPrice)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("product %s not found", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, "get product %s", id)
	}
	product.BatchID = batchID.String
	return product, nil
}

// ApplyDelta never reads the quantity back into Go before writing it; the
// increment happens inside the UPDATE so concurrent orders cannot lose updates.
func (r *ProductRepository) ApplyDelta(ctx context.Context, id string, delta int) (*entity.Product, error) {
	if delta != 0 {
		query := `UPDATE products SET quantity = quantity + ? WHERE id = ?`
		res, err := r.tx.ExecContext(ctx, query, delta, id)
		if err != nil {
			return nil, apperr.Wrap(err, "apply stock delta %d to product %s", delta, id)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, apperr.Wrap(err, "apply stock delta %d to product %s", delta, id)
		}
		if affected == 0 {
			return nil, apperr.NotFound("product %s not found", id)
		}
	}
	return r.Get(ctx, id)
}

type BatchRepository struct {
	tx      *sql.Tx
	locking bool
}

func (r *BatchRepository) Get(ctx context.Context, id string) (*entity.Batch, error) {
	query := `SELECT id, name, status, total_orders, total_sales FROM batches WHERE id = ?` + forUpdate(r.locking)

	batch := &entity.Batch{}
	err := r.tx.QueryRowContext(ctx, query, id).Scan(&batch.ID, &batch.Name, &batch.Status, &batch.TotalOrders, &batch.TotalSales)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("batch %s not found", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, "get batch %s", id)
	}
	return batch, nil
}

// ApplyAggregates locks the batch row, then increments both counters in SQL.
// The clamp lives in the UPDATE so no counter ever goes below zero.
func (r *BatchRepository) ApplyAggregates(ctx context.Context, id string, delta entity.AggregateDelta) (*entity.Batch, error) {
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}

	query := `UPDATE batches SET
		total_orders = GREATEST(total_orders + ?, 0),
		total_sales = GREATEST(total_sales + ?, 0)
		WHERE id = ?`
	if _, err := r.tx.ExecContext(ctx, query, delta.Orders, delta.Sales, id); err != nil {
		return nil, apperr.Wrap(err, "apply aggregates to batch %s", id)
	}
	return r.Get(ctx, id)
}
