package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fulfillment-ledger/internal/apperr"
	"fulfillment-ledger/internal/cache"
	"fulfillment-ledger/internal/entity"
	"fulfillment-ledger/internal/events"
	"fulfillment-ledger/internal/pricing"
	"fulfillment-ledger/internal/repository"
	"fulfillment-ledger/internal/repository/memstore"
)

var (
	fixedNow = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	clerk    = entity.ActorRef{ID: "u-7", Name: "Dana", Email: "dana@example.com"}
)

func newStore(t *testing.T) *memstore.Store {
	t.Helper()
	store, err := memstore.New()
	require.NoError(t, err)
	require.NoError(t, store.PutBatch(entity.Batch{ID: "B", Name: "Batch B", Status: entity.BatchOpen}))
	require.NoError(t, store.PutProduct(entity.Product{
		ID: "P", Name: "Pendant", Quantity: 10, AlertStock: 3, BatchID: "B", RetailPrice: decimal.NewFromInt(100),
	}))
	return store
}

func newService(store repository.Store, opts ...Option) *FulfillmentService {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewFulfillmentService(store, opts...)
}

func stockOf(t *testing.T, store repository.Store, id string) int {
	t.Helper()
	var qty int
	require.NoError(t, store.View(context.Background(), func(tx repository.Tx) error {
		p, err := tx.Products().Get(context.Background(), id)
		if err != nil {
			return err
		}
		qty = p.Quantity
		return nil
	}))
	return qty
}

func batchOf(t *testing.T, store repository.Store, id string) *entity.Batch {
	t.Helper()
	var batch *entity.Batch
	require.NoError(t, store.View(context.Background(), func(tx repository.Tx) error {
		var err error
		batch, err = tx.Batches().Get(context.Background(), id)
		return err
	}))
	return batch
}

func notificationsOf(t *testing.T, svc *FulfillmentService) []*entity.Notification {
	t.Helper()
	list, err := svc.ListNotifications(context.Background())
	require.NoError(t, err)
	return list
}

func request(items ...entity.ItemRequest) *entity.OrderRequest {
	return &entity.OrderRequest{
		CustomerID: "cust-1",
		Contact:    entity.Contact{CustomerName: "Ari", Address: "12 Harbour St"},
		Items:      items,
	}
}

func item(productID string, qty int) entity.ItemRequest {
	return entity.ItemRequest{ProductID: productID, Quantity: qty}
}

func TestCreateAndCancel_Scenario(t *testing.T) {
	store := newStore(t)
	svc := newService(store)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, clerk, request(item("P", 4)))
	require.NoError(t, err)
	assert.NotEmpty(t, order.ID)
	assert.Equal(t, entity.ShippingPending, order.ShippingStatus)
	assert.Equal(t, entity.PaymentUnpaid, order.PaymentStatus)
	assert.Equal(t, clerk, order.CreatedBy)
	assert.Equal(t, fixedNow, order.CreatedAt)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "B", order.Items[0].BatchID)
	assert.Equal(t, "100", order.Items[0].UnitPrice.String())
	assert.Equal(t, "400", order.Pricing.Total.String())

	assert.Equal(t, 6, stockOf(t, store, "P"))
	assert.Empty(t, notificationsOf(t, svc))
	b := batchOf(t, store, "B")
	assert.Equal(t, 1, b.TotalOrders)
	assert.Equal(t, "400", b.TotalSales.String())

	outcome, err := svc.CancelOrder(ctx, clerk, order.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.OutcomeCancelled, outcome)

	assert.Equal(t, 10, stockOf(t, store, "P"))
	b = batchOf(t, store, "B")
	assert.Equal(t, 0, b.TotalOrders)
	assert.True(t, b.TotalSales.IsZero())

	got, err := svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ShippingCancelled, got.ShippingStatus)
}

func TestCreateOrder_StockConservation(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.PutProduct(entity.Product{ID: "Q", Name: "Quill", Quantity: 50, AlertStock: 1, RetailPrice: decimal.NewFromInt(5)}))
	svc := newService(store)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, clerk, request(item("Q", 7), item("P", 2), item("Q", 3)))
	require.NoError(t, err)
	assert.Equal(t, 40, stockOf(t, store, "Q"))
	assert.Equal(t, 8, stockOf(t, store, "P"))

	// Items keep their requested order.
	require.Len(t, order.Items, 3)
	assert.Equal(t, []string{"Q", "P", "Q"}, []string{order.Items[0].ProductID, order.Items[1].ProductID, order.Items[2].ProductID})

	// Only P belongs to a batch; the order counts once.
	b := batchOf(t, store, "B")
	assert.Equal(t, 1, b.TotalOrders)
	assert.Equal(t, "200", b.TotalSales.String())

	_, err = svc.CancelOrder(ctx, clerk, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, stockOf(t, store, "Q"))
	assert.Equal(t, 10, stockOf(t, store, "P"))
}

func TestCancelOrder_Idempotent(t *testing.T) {
	store := newStore(t)
	svc := newService(store)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, clerk, request(item("P", 2)))
	require.NoError(t, err)

	outcome, err := svc.CancelOrder(ctx, clerk, order.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.OutcomeCancelled, outcome)

	outcome, err = svc.CancelOrder(ctx, clerk, order.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.OutcomeAlreadyCancelled, outcome)

	assert.Equal(t, 10, stockOf(t, store, "P"))
	b := batchOf(t, store, "B")
	assert.Equal(t, 0, b.TotalOrders)
	assert.True(t, b.TotalSales.IsZero())

	logs, err := svc.ListSalesLogs(ctx, 1, 10)
	require.NoError(t, err)
	require.Equal(t, 2, logs.Total)
	assert.Equal(t, entity.EventOrderCancelled, logs.Entries[0].Event)
	assert.Equal(t, entity.EventOrderCreated, logs.Entries[1].Event)
}

func TestBatchAggregates_SingleOrder(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.PutBatch(entity.Batch{ID: "B2", Status: entity.BatchOpen, TotalOrders: 2, TotalSales: decimal.NewFromInt(500)}))
	require.NoError(t, store.PutProduct(entity.Product{ID: "R", Name: "Ring", Quantity: 30, BatchID: "B2", RetailPrice: decimal.NewFromInt(40)}))
	svc := newService(store)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, clerk, request(item("R", 3)))
	require.NoError(t, err)
	b := batchOf(t, store, "B2")
	assert.Equal(t, 3, b.TotalOrders)
	assert.Equal(t, "620", b.TotalSales.String())

	_, err = svc.CancelOrder(ctx, clerk, order.ID)
	require.NoError(t, err)
	b = batchOf(t, store, "B2")
	assert.Equal(t, 2, b.TotalOrders)
	assert.Equal(t, "500", b.TotalSales.String())
}

func TestBatchAggregates_ZeroPricedItemStillCounts(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.PutProduct(entity.Product{ID: "S", Name: "Sample", Quantity: 5, BatchID: "B"}))
	svc := newService(store)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, clerk, request(item("S", 1)))
	require.NoError(t, err)
	assert.Equal(t, 1, batchOf(t, store, "B").TotalOrders)

	_, err = svc.CancelOrder(ctx, clerk, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, batchOf(t, store, "B").TotalOrders)
}

func TestCancelOrder_ClampsAggregates(t *testing.T) {
	store := newStore(t)
	svc := newService(store)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, clerk, request(item("P", 4)))
	require.NoError(t, err)

	// The batch was reset out of band.
	require.NoError(t, store.PutBatch(entity.Batch{ID: "B", Status: entity.BatchOpen}))

	_, err = svc.CancelOrder(ctx, clerk, order.ID)
	require.NoError(t, err)
	b := batchOf(t, store, "B")
	assert.Equal(t, 0, b.TotalOrders)
	assert.True(t, b.TotalSales.IsZero())
}

func TestCreateOrder_NotificationThresholds(t *testing.T) {
	tests := []struct {
		name  string
		stock int
		qty   int
		want  []entity.NotificationType
	}{
		{name: "drops into low stock", stock: 6, qty: 2, want: []entity.NotificationType{entity.NotificationLowStock}},
		{name: "drops to zero", stock: 2, qty: 2, want: []entity.NotificationType{entity.NotificationOutOfStock}},
		{name: "goes negative", stock: 1, qty: 3, want: []entity.NotificationType{entity.NotificationOutOfStock}},
		{name: "stays above threshold", stock: 20, qty: 5, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			require.NoError(t, store.PutProduct(entity.Product{ID: "T", Name: "Tote", Quantity: tt.stock, AlertStock: 5, RetailPrice: decimal.NewFromInt(12)}))
			svc := newService(store)

			_, err := svc.CreateOrder(context.Background(), clerk, request(item("T", tt.qty)))
			require.NoError(t, err)

			var got []entity.NotificationType
			for _, n := range notificationsOf(t, svc) {
				assert.Equal(t, "T", n.ProductID)
				got = append(got, n.Type)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCreateOrder_NotificationMessages(t *testing.T) {
	store := newStore(t)
	svc := newService(store)
	ctx := context.Background()

	_, err := svc.CreateOrder(ctx, clerk, request(item("P", 8)))
	require.NoError(t, err)
	last, err := svc.CreateOrder(ctx, clerk, request(item("P", 2)))
	require.NoError(t, err)

	list := notificationsOf(t, svc)
	require.Len(t, list, 2)
	assert.Equal(t, "Out of Stock Alert", list[0].Title)
	assert.Equal(t, `Product "Pendant" is now out of stock!`, list[0].Message)
	assert.Equal(t, "Low Stock Alert", list[1].Title)
	assert.Equal(t, `Product "Pendant" has only 2 left in stock.`, list[1].Message)

	// Restocking never clears an alert.
	_, err = svc.CancelOrder(ctx, clerk, last.ID)
	require.NoError(t, err)
	assert.Len(t, notificationsOf(t, svc), 2)
	unread, err := svc.UnreadNotifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, unread)
}

// failingAuditStore rolls every write transaction back at the sales log step.
type failingAuditStore struct {
	*memstore.Store
}

func (s failingAuditStore) WithinTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	return s.Store.WithinTx(ctx, func(tx repository.Tx) error {
		return fn(failingAuditTx{tx})
	})
}

type failingAuditTx struct {
	repository.Tx
}

func (failingAuditTx) Audit() repository.AuditLog { return failingAudit{} }

type failingAudit struct {
	repository.AuditLog
}

func (failingAudit) Append(context.Context, *entity.AuditEntry) error {
	return errors.New("sales log unavailable")
}

func TestCreateOrder_AtomicWhenAuditFails(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.PutProduct(entity.Product{ID: "P", Name: "Pendant", Quantity: 4, AlertStock: 3, BatchID: "B", RetailPrice: decimal.NewFromInt(100)}))
	svc := newService(failingAuditStore{store})
	ctx := context.Background()

	_, err := svc.CreateOrder(ctx, clerk, request(item("P", 4)))
	require.Error(t, err)
	assert.Equal(t, apperr.KindTransactionFailure, apperr.KindOf(err))

	assert.Equal(t, 4, stockOf(t, store, "P"))
	b := batchOf(t, store, "B")
	assert.Equal(t, 0, b.TotalOrders)
	assert.True(t, b.TotalSales.IsZero())

	reader := newService(store)
	assert.Empty(t, notificationsOf(t, reader))
	orders, err := reader.ListOrders(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCancelOrder_AtomicWhenAuditFails(t *testing.T) {
	store := newStore(t)
	order, err := newService(store).CreateOrder(context.Background(), clerk, request(item("P", 4)))
	require.NoError(t, err)

	_, err = newService(failingAuditStore{store}).CancelOrder(context.Background(), clerk, order.ID)
	require.Error(t, err)

	assert.Equal(t, 6, stockOf(t, store, "P"))
	assert.Equal(t, 1, batchOf(t, store, "B").TotalOrders)
	got, err := newService(store).GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ShippingPending, got.ShippingStatus)
}

func TestCreateOrder_MissingReferences(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.PutProduct(entity.Product{ID: "orphan", Name: "Orphan", Quantity: 3, BatchID: "gone", RetailPrice: decimal.NewFromInt(1)}))
	svc := newService(store)
	ctx := context.Background()

	_, err := svc.CreateOrder(ctx, clerk, request(item("P", 1), item("nope", 1)))
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "%v", err)

	_, err = svc.CreateOrder(ctx, clerk, request(item("P", 1), item("orphan", 1)))
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "%v", err)

	assert.Equal(t, 10, stockOf(t, store, "P"))
	assert.Equal(t, 3, stockOf(t, store, "orphan"))
	assert.Equal(t, 0, batchOf(t, store, "B").TotalOrders)
}

func TestCreateOrder_Validation(t *testing.T) {
	svc := newService(newStore(t))

	tests := []struct {
		name string
		req  *entity.OrderRequest
	}{
		{name: "nil request", req: nil},
		{name: "missing customer", req: &entity.OrderRequest{Items: []entity.ItemRequest{item("P", 1)}}},
		{name: "zero quantity", req: request(item("P", 0))},
		{name: "negative quantity", req: request(item("P", -2))},
		{name: "missing product", req: request(item("", 1))},
		{name: "unknown payment status", req: func() *entity.OrderRequest {
			r := request(item("P", 1))
			r.PaymentStatus = "Refunded"
			return r
		}()},
		{name: "unknown shipping status", req: func() *entity.OrderRequest {
			r := request(item("P", 1))
			r.ShippingStatus = "Lost"
			return r
		}()},
		{name: "created cancelled", req: func() *entity.OrderRequest {
			r := request(item("P", 1))
			r.ShippingStatus = entity.ShippingCancelled
			return r
		}()},
		{name: "negative fee", req: func() *entity.OrderRequest {
			r := request(item("P", 1))
			r.Pricing.ShippingFee = decimal.NewFromInt(-1)
			return r
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateOrder(context.Background(), clerk, tt.req)
			assert.True(t, errors.Is(err, apperr.ErrValidation), "%v", err)
		})
	}
}

func TestCreateOrder_ZeroItemsPlaceholder(t *testing.T) {
	store := newStore(t)
	svc := newService(store)

	order, err := svc.CreateOrder(context.Background(), entity.ActorRef{}, request())
	require.NoError(t, err)
	assert.Empty(t, order.Items)
	assert.Equal(t, entity.System, order.CreatedBy)
	assert.Equal(t, 0, batchOf(t, store, "B").TotalOrders)

	logs, err := svc.ListSalesLogs(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, logs.Total)
}

func TestCreateOrder_RushShipAndPricing(t *testing.T) {
	store := newStore(t)
	svc := newService(store, WithPricing(pricing.NewCalculator(decimal.NewFromInt(50))))
	ctx := context.Background()

	req := request(item("P", 1))
	req.ShippingStatus = "RushShip"
	req.Pricing.ShippingFee = decimal.NewFromInt(15)
	order, err := svc.CreateOrder(ctx, clerk, req)
	require.NoError(t, err)
	assert.Equal(t, entity.ShippingPending, order.ShippingStatus)
	assert.True(t, order.RushShip)
	assert.Equal(t, "100", order.Pricing.UnitPrice.String())
	assert.Equal(t, "50", order.Pricing.RushSurcharge.String())
	assert.Equal(t, "165", order.Pricing.Total.String())

	req = request(item("P", 1))
	req.Pricing = entity.Pricing{UnitPrice: decimal.NewFromInt(80), Total: decimal.NewFromInt(80)}
	order, err = svc.CreateOrder(ctx, clerk, req)
	require.NoError(t, err)
	assert.Equal(t, "80", order.Pricing.Total.String())
	// Batch sales follow captured retail prices, not negotiated totals.
	assert.Equal(t, "200", batchOf(t, store, "B").TotalSales.String())
}

func TestUpdateOrder(t *testing.T) {
	store := newStore(t)
	svc := newService(store)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, clerk, request(item("P", 4)))
	require.NoError(t, err)

	courier := "J&T"
	tracking := "JT0001"
	ready := entity.ShippingReady
	paid := entity.PaymentPaid
	delivery := "DLV-9"
	updater := entity.ActorRef{ID: "u-9", Name: "Kit"}
	updated, err := svc.UpdateOrder(ctx, updater, order.ID, &entity.OrderPatch{
		CourierName:    &courier,
		TrackingNumber: &tracking,
		ShippingStatus: &ready,
		PaymentStatus:  &paid,
		BatchID:        &delivery,
	})
	require.NoError(t, err)
	assert.Equal(t, entity.ShippingReady, updated.ShippingStatus)
	assert.Equal(t, entity.PaymentPaid, updated.PaymentStatus)
	assert.Equal(t, "JT0001", updated.Shipment.TrackingNumber)
	assert.Equal(t, "DLV-9", updated.BatchID)
	assert.Equal(t, clerk, updated.CreatedBy)
	require.Len(t, updated.Items, 1)

	// Inventory and aggregates are untouched; the delivery batch is never aggregated.
	assert.Equal(t, 6, stockOf(t, store, "P"))
	assert.Equal(t, 1, batchOf(t, store, "B").TotalOrders)

	logs, err := svc.ListSalesLogs(ctx, 1, 10)
	require.NoError(t, err)
	require.Equal(t, 2, logs.Total)
	entry := logs.Entries[0]
	assert.Equal(t, entity.EventOrderUpdated, entry.Event)
	assert.Equal(t, updater, entry.Actor)
	assert.Equal(t, entity.ShippingReady, entry.Snapshot.Order.ShippingStatus)
	assert.Equal(t, "J&T", entry.Snapshot.Shipment.CourierName)
}

func TestUpdateOrder_Rejections(t *testing.T) {
	store := newStore(t)
	svc := newService(store)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, clerk, request(item("P", 1)))
	require.NoError(t, err)

	shipped := entity.ShippingShipped
	_, err = svc.UpdateOrder(ctx, clerk, order.ID, &entity.OrderPatch{ShippingStatus: &shipped})
	require.NoError(t, err)

	status := func(s entity.ShippingStatus) *entity.OrderPatch {
		return &entity.OrderPatch{ShippingStatus: &s}
	}
	fee := decimal.NewFromInt(-3)
	blank := "  "

	tests := []struct {
		name  string
		id    string
		patch *entity.OrderPatch
		kind  apperr.Kind
	}{
		{name: "unknown order", id: "missing", patch: &entity.OrderPatch{}, kind: apperr.KindNotFound},
		{name: "nil patch", id: order.ID, patch: nil, kind: apperr.KindValidation},
		{name: "backwards", id: order.ID, patch: status(entity.ShippingReady), kind: apperr.KindValidation},
		{name: "cancel through update", id: order.ID, patch: status(entity.ShippingCancelled), kind: apperr.KindValidation},
		{name: "unknown status", id: order.ID, patch: status("Lost"), kind: apperr.KindValidation},
		{name: "negative fee", id: order.ID, patch: &entity.OrderPatch{ShippingFee: &fee}, kind: apperr.KindValidation},
		{name: "blank customer", id: order.ID, patch: &entity.OrderPatch{CustomerID: &blank}, kind: apperr.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UpdateOrder(ctx, clerk, tt.id, tt.patch)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}

	// RushShip raises the flag without moving the status.
	got, err := svc.UpdateOrder(ctx, clerk, order.ID, status("RushShip"))
	require.NoError(t, err)
	assert.True(t, got.RushShip)
	assert.Equal(t, entity.ShippingShipped, got.ShippingStatus)
	assert.Equal(t, "cust-1", got.CustomerID)
}

func TestCancelOrder_Rejections(t *testing.T) {
	store := newStore(t)
	svc := newService(store)
	ctx := context.Background()

	_, err := svc.CancelOrder(ctx, clerk, "missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	order, err := svc.CreateOrder(ctx, clerk, request(item("P", 1)))
	require.NoError(t, err)
	for _, s := range []entity.ShippingStatus{entity.ShippingDelivered, entity.ShippingClaimed} {
		s := s
		_, err = svc.UpdateOrder(ctx, clerk, order.ID, &entity.OrderPatch{ShippingStatus: &s})
		require.NoError(t, err)
	}

	_, err = svc.CancelOrder(ctx, clerk, order.ID)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	assert.Equal(t, 9, stockOf(t, store, "P"))
}

func TestCancelOrder_SkipsVanishedBatch(t *testing.T) {
	store := newStore(t)
	svc := newService(store)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, clerk, request(item("P", 2)))
	require.NoError(t, err)

	// An order whose item points at a batch that no longer exists.
	require.NoError(t, store.WithinTx(ctx, func(tx repository.Tx) error {
		return tx.Orders().Insert(ctx, &entity.Order{
			ID:             "legacy",
			CustomerID:     "cust-1",
			Items:          []entity.LineItem{{ProductID: "P", Quantity: 1, UnitPrice: decimal.NewFromInt(100), BatchID: "retired"}},
			ShippingStatus: entity.ShippingPending,
			CreatedAt:      fixedNow,
		})
	}))

	outcome, err := svc.CancelOrder(ctx, clerk, "legacy")
	require.NoError(t, err)
	assert.Equal(t, entity.OutcomeCancelled, outcome)
	assert.Equal(t, 9, stockOf(t, store, "P"))

	_, err = svc.CancelOrder(ctx, clerk, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 11, stockOf(t, store, "P"))
}

func TestCreateOrder_ConcurrentExactTotals(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.PutProduct(entity.Product{ID: "P", Name: "Pendant", Quantity: 100, AlertStock: 3, BatchID: "B", RetailPrice: decimal.NewFromInt(100)}))
	svc := newService(store)
	ctx := context.Background()

	const workers = 25
	ids := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			order, err := svc.CreateOrder(ctx, clerk, request(item("P", 2)))
			if assert.NoError(t, err) {
				ids <- order.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	assert.Equal(t, 50, stockOf(t, store, "P"))
	b := batchOf(t, store, "B")
	assert.Equal(t, workers, b.TotalOrders)
	assert.Equal(t, "5000", b.TotalSales.String())

	var cancelled sync.WaitGroup
	for id := range ids {
		cancelled.Add(1)
		go func(id string) {
			defer cancelled.Done()
			_, err := svc.CancelOrder(ctx, clerk, id)
			assert.NoError(t, err)
		}(id)
	}
	cancelled.Wait()

	assert.Equal(t, 100, stockOf(t, store, "P"))
	b = batchOf(t, store, "B")
	assert.Equal(t, 0, b.TotalOrders)
	assert.True(t, b.TotalSales.IsZero())
}

type memoryGuard struct {
	mu   sync.Mutex
	keys map[string]string
}

func (g *memoryGuard) Reserve(_ context.Context, key string) (string, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if v, ok := g.keys[key]; ok {
		return v, false, nil
	}
	g.keys[key] = ""
	return "", true, nil
}

func (g *memoryGuard) Complete(_ context.Context, key, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.keys[key] = orderID
	return nil
}

func (g *memoryGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.keys, key)
	return nil
}

func TestCreateOrder_IdempotentKey(t *testing.T) {
	store := newStore(t)
	guard := &memoryGuard{keys: map[string]string{}}
	svc := newService(store, WithIdempotencyGuard(guard))
	ctx := context.Background()

	req := request(item("P", 3))
	req.IdempotentKey = "checkout-42"
	first, err := svc.CreateOrder(ctx, clerk, req)
	require.NoError(t, err)

	replay, err := svc.CreateOrder(ctx, clerk, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, replay.ID)
	assert.Equal(t, 7, stockOf(t, store, "P"))

	guard.keys["in-flight"] = ""
	req.IdempotentKey = "in-flight"
	_, err = svc.CreateOrder(ctx, clerk, req)
	assert.True(t, errors.Is(err, apperr.ErrConcurrencyConflict))

	failing := request(item("nope", 1))
	failing.IdempotentKey = "retry-me"
	_, err = svc.CreateOrder(ctx, clerk, failing)
	require.Error(t, err)
	_, held := guard.keys["retry-me"]
	assert.False(t, held)
}

type lostCompleteGuard struct {
	*cache.IdempotencyGuard
}

func (g lostCompleteGuard) Complete(context.Context, string, string) error {
	return errors.New("redis: connection reset")
}

func TestCreateOrder_IdempotentKeyFreedAfterLostComplete(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := cache.NewRedisClient(mr.Addr())
	defer rdb.Close()

	store := newStore(t)
	svc := newService(store, WithIdempotencyGuard(lostCompleteGuard{cache.NewIdempotencyGuard(rdb)}))
	ctx := context.Background()

	req := request(item("P", 1))
	req.IdempotentKey = "k1"
	_, err := svc.CreateOrder(ctx, clerk, req)
	require.NoError(t, err)
	assert.Equal(t, 9, stockOf(t, store, "P"))

	_, err = svc.CreateOrder(ctx, clerk, req)
	assert.True(t, errors.Is(err, apperr.ErrConcurrencyConflict))

	mr.FastForward(cache.PendingTTL + time.Second)

	_, err = svc.CreateOrder(ctx, clerk, req)
	require.NoError(t, err)
	assert.Equal(t, 8, stockOf(t, store, "P"))
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event string, order *entity.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, fmt.Sprintf("%s:%s", event, order.ID))
	return p.err
}

func TestPublishesAfterCommit(t *testing.T) {
	store := newStore(t)
	pub := &recordingPublisher{}
	svc := newService(store, WithPublisher(pub), WithIDGenerator(sequentialIDs()))
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, clerk, request(item("P", 1)))
	require.NoError(t, err)
	_, err = svc.CancelOrder(ctx, clerk, order.ID)
	require.NoError(t, err)
	_, err = svc.CancelOrder(ctx, clerk, order.ID)
	require.NoError(t, err)

	_, err = newService(failingAuditStore{store}, WithPublisher(pub)).CreateOrder(ctx, clerk, request(item("P", 1)))
	require.Error(t, err)

	assert.Equal(t, []string{
		events.OrderCreated + ":" + order.ID,
		events.OrderCancelled + ":" + order.ID,
	}, pub.events)

	// A broker outage does not fail a committed order.
	pub.err = errors.New("broker down")
	_, err = svc.CreateOrder(ctx, clerk, request(item("P", 1)))
	assert.NoError(t, err)
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%03d", n)
	}
}
