package service

import (
	"context"
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"fulfillment-ledger/internal/apperr"
	"fulfillment-ledger/internal/entity"
	"fulfillment-ledger/internal/repository"
)

// batchTally sums line item subtotals per supply batch for one order. A batch
// is present as soon as one item belongs to it, even at a zero amount, so the
// order counts once on creation and once on cancellation.
type batchTally map[string]decimal.Decimal

func (t batchTally) add(batchID string, amount decimal.Decimal) {
	t[batchID] = t[batchID].Add(amount)
}

func (t batchTally) batchIDs() []string {
	ids := make([]string, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// applyBatchTally moves each batch by one order and its summed sales, in the
// direction of sign. With skipMissing a vanished batch is logged and skipped.
func applyBatchTally(ctx context.Context, tx repository.Tx, tally batchTally, sign int, skipMissing bool) error {
	for _, id := range tally.batchIDs() {
		delta := entity.AggregateDelta{
			Orders: sign,
			Sales:  tally[id].Mul(decimal.NewFromInt(int64(sign))),
		}
		batch, err := tx.Batches().ApplyAggregates(ctx, id, delta)
		if err != nil {
			if skipMissing && errors.Is(err, apperr.ErrNotFound) {
				logger.Warn().Msgf("Batch %s not found, skipping aggregate update", id)
				continue
			}
			return err
		}
		logger.Info().Msgf("Batch %s now at %d orders, %s sales", batch.ID, batch.TotalOrders, batch.TotalSales)
	}
	return nil
}
