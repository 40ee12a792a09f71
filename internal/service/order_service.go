package service

import (
	"context"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fulfillment-ledger/internal/apperr"
	"fulfillment-ledger/internal/entity"
	"fulfillment-ledger/internal/events"
	"fulfillment-ledger/internal/pricing"
	"fulfillment-ledger/internal/repository"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// IdempotencyGuard deduplicates createOrder retries carrying the same key.
type IdempotencyGuard interface {
	Reserve(ctx context.Context, key string) (orderID string, reserved bool, err error)
	Complete(ctx context.Context, key, orderID string) error
	Release(ctx context.Context, key string) error
}

// EventPublisher announces committed order changes.
type EventPublisher interface {
	Publish(ctx context.Context, event string, order *entity.Order) error
}

// FulfillmentService coordinates orders, inventory, batch aggregates,
// notifications and the sales log. Every mutation runs in one store transaction.
type FulfillmentService struct {
	store     repository.Store
	pricing   *pricing.Calculator
	guard     IdempotencyGuard
	publisher EventPublisher
	stock     StockCache
	now       func() time.Time
	newID     func() string
}

type Option func(*FulfillmentService)

func WithClock(now func() time.Time) Option {
	return func(s *FulfillmentService) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *FulfillmentService) { s.newID = newID }
}

func WithIdempotencyGuard(guard IdempotencyGuard) Option {
	return func(s *FulfillmentService) { s.guard = guard }
}

func WithPublisher(publisher EventPublisher) Option {
	return func(s *FulfillmentService) { s.publisher = publisher }
}

func WithStockCache(stock StockCache) Option {
	return func(s *FulfillmentService) { s.stock = stock }
}

func WithPricing(calc *pricing.Calculator) Option {
	return func(s *FulfillmentService) { s.pricing = calc }
}

// NewFulfillmentService creates a new instance of FulfillmentService
func NewFulfillmentService(store repository.Store, opts ...Option) *FulfillmentService {
	s := &FulfillmentService{
		store:   store,
		pricing: pricing.NewCalculator(decimal.Zero),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrder persists a new order and applies its inventory, notification,
// batch and sales log effects atomically.
func (s *FulfillmentService) CreateOrder(ctx context.Context, actor entity.ActorRef, req *entity.OrderRequest) (*entity.Order, error) {
	order, err := s.newOrder(actor, req)
	if err != nil {
		return nil, err
	}

	key := req.IdempotentKey
	if key != "" && s.guard != nil {
		existingID, reserved, err := s.guard.Reserve(ctx, key)
		if err != nil {
			return nil, apperr.TransactionFailure(err, "reserve idempotent key %s", key)
		}
		if !reserved {
			if existingID == "" {
				return nil, apperr.Conflict(nil, "request with idempotent key %s is still in progress", key)
			}
			logger.Info().Msgf("Replaying order %s for idempotent key %s", existingID, key)
			return s.GetOrder(ctx, existingID)
		}
	}

	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		return s.create(ctx, tx, order)
	})
	if err != nil {
		logger.Error().Err(err).Msg("Error creating order")
		if key != "" && s.guard != nil {
			if relErr := s.guard.Release(ctx, key); relErr != nil {
				logger.Error().Err(relErr).Msgf("Error releasing idempotent key %s", key)
			}
		}
		return nil, apperr.Wrap(err, "create order")
	}

	if key != "" && s.guard != nil {
		if err := s.guard.Complete(ctx, key, order.ID); err != nil {
			logger.Error().Err(err).Msgf("Error recording order %s for idempotent key %s", order.ID, key)
		}
	}

	logger.Info().Msgf("Order %s created with %d items, total %s", order.ID, len(order.Items), order.Pricing.Total)
	s.publishOrderEvent(ctx, order, events.OrderCreated)
	return order, nil
}

func (s *FulfillmentService) create(ctx context.Context, tx repository.Tx, order *entity.Order) error {
	// Capture price and supply batch first; they are what cancellation reverses.
	for i := range order.Items {
		item := &order.Items[i]
		product, err := tx.Products().Get(ctx, item.ProductID)
		if err != nil {
			return err
		}
		item.UnitPrice = product.RetailPrice
		item.BatchID = product.BatchID
	}
	order.Pricing = s.pricing.Resolve(order.Pricing, order.Items, order.RushShip)

	if err := tx.Orders().Insert(ctx, order); err != nil {
		return err
	}

	tally := batchTally{}
	for _, i := range lockOrder(order.Items) {
		item := order.Items[i]
		product, err := tx.Products().ApplyDelta(ctx, item.ProductID, -item.Quantity)
		if err != nil {
			return err
		}
		if n := s.stockAlert(product); n != nil {
			logger.Warn().Msgf("%s: %s", n.Title, n.Message)
			if err := tx.Notifications().Append(ctx, n); err != nil {
				return err
			}
		}
		if item.BatchID != "" {
			tally.add(item.BatchID, item.Subtotal())
		}
	}

	if err := applyBatchTally(ctx, tx, tally, 1, false); err != nil {
		return err
	}
	return tx.Audit().Append(ctx, s.auditEntry(order, entity.EventOrderCreated, order.CreatedBy))
}

func (s *FulfillmentService) newOrder(actor entity.ActorRef, req *entity.OrderRequest) (*entity.Order, error) {
	if req == nil {
		return nil, apperr.Validation("order request is required")
	}
	if strings.TrimSpace(req.CustomerID) == "" {
		return nil, apperr.Validation("customer_id is required")
	}

	items := make([]entity.LineItem, 0, len(req.Items))
	for i, item := range req.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return nil, apperr.Validation("items[%d]: product_id is required", i)
		}
		if item.Quantity <= 0 {
			return nil, apperr.Validation("items[%d]: quantity must be positive, got %d", i, item.Quantity)
		}
		items = append(items, entity.LineItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	payment := req.PaymentStatus
	if payment == "" {
		payment = entity.PaymentUnpaid
	}
	if !payment.Valid() {
		return nil, apperr.Validation("unknown payment status %q", payment)
	}

	shipping, rush, err := entity.NormalizeShippingStatus(req.ShippingStatus)
	if err != nil {
		return nil, apperr.Validation("%v", err)
	}
	if shipping == entity.ShippingCancelled {
		return nil, apperr.Validation("an order cannot be created cancelled")
	}
	if err := validatePricing(req.Pricing); err != nil {
		return nil, err
	}

	if actor.IsZero() {
		actor = entity.System
	}
	now := s.now().UTC()
	return &entity.Order{
		ID:             s.newID(),
		CustomerID:     req.CustomerID,
		Contact:        req.Contact,
		Items:          items,
		Pricing:        req.Pricing,
		RushShip:       req.RushShip || rush,
		PaymentMethod:  req.PaymentMethod,
		PaymentStatus:  payment,
		ShippingStatus: shipping,
		BatchID:        req.BatchID,
		Shipment:       req.Shipment,
		Remarks:        req.Remarks,
		CreatedBy:      actor,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func validatePricing(p entity.Pricing) error {
	fields := map[string]decimal.Decimal{
		"unit_price":     p.UnitPrice,
		"shipping_fee":   p.ShippingFee,
		"rush_surcharge": p.RushSurcharge,
		"total":          p.Total,
	}
	for name, v := range fields {
		if v.IsNegative() {
			return apperr.Validation("%s must not be negative, got %s", name, v)
		}
	}
	return nil
}

// UpdateOrder applies patch to the order's metadata. Line items, inventory and
// batch aggregates are never touched.
func (s *FulfillmentService) UpdateOrder(ctx context.Context, actor entity.ActorRef, id string, patch *entity.OrderPatch) (*entity.Order, error) {
	if patch == nil {
		return nil, apperr.Validation("order patch is required")
	}
	if actor.IsZero() {
		actor = entity.System
	}

	var updated *entity.Order
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		order, err := tx.Orders().Get(ctx, id)
		if err != nil {
			return err
		}
		if err := applyPatch(order, patch); err != nil {
			return err
		}
		order.UpdatedAt = s.now().UTC()
		if err := tx.Orders().Update(ctx, order); err != nil {
			return err
		}
		if err := tx.Audit().Append(ctx, s.auditEntry(order, entity.EventOrderUpdated, actor)); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Msgf("Error updating order %s", id)
		return nil, apperr.Wrap(err, "update order %s", id)
	}

	s.publishOrderEvent(ctx, updated, events.OrderUpdated)
	return updated, nil
}

// CancelOrder restocks the order's items, reverses its batch contribution and
// marks it Cancelled. Cancelling a cancelled order succeeds without effect.
//
// Besides NotFound and TransactionFailure, a Claimed order yields a
// ValidationError: its goods are with the customer and cannot be restocked.
func (s *FulfillmentService) CancelOrder(ctx context.Context, actor entity.ActorRef, id string) (entity.CancelOutcome, error) {
	if actor.IsZero() {
		actor = entity.System
	}

	var (
		outcome   entity.CancelOutcome
		cancelled *entity.Order
	)
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		order, err := tx.Orders().Get(ctx, id)
		if err != nil {
			return err
		}
		if order.ShippingStatus == entity.ShippingCancelled {
			logger.Info().Msgf("Order %s is already cancelled", id)
			outcome = entity.OutcomeAlreadyCancelled
			return nil
		}
		if !entity.CanTransition(order.ShippingStatus, entity.ShippingCancelled) {
			return apperr.Validation("order %s is %s and can no longer be cancelled", id, order.ShippingStatus)
		}

		entry := s.auditEntry(order, entity.EventOrderCancelled, actor)

		tally := batchTally{}
		for _, i := range lockOrder(order.Items) {
			item := order.Items[i]
			if item.ProductID == "" {
				logger.Warn().Msgf("Order %s item %d has no product, skipping restock", id, i)
				continue
			}
			if item.Quantity <= 0 {
				logger.Warn().Msgf("Order %s item %d has invalid quantity %d, skipping restock", id, i, item.Quantity)
				continue
			}
			if _, err := tx.Products().ApplyDelta(ctx, item.ProductID, item.Quantity); err != nil {
				return err
			}
			if item.BatchID != "" {
				tally.add(item.BatchID, item.Subtotal())
			}
		}
		if err := applyBatchTally(ctx, tx, tally, -1, true); err != nil {
			return err
		}

		order.ShippingStatus = entity.ShippingCancelled
		order.UpdatedAt = s.now().UTC()
		if err := tx.Orders().Update(ctx, order); err != nil {
			return err
		}
		if err := tx.Audit().Append(ctx, entry); err != nil {
			return err
		}
		outcome = entity.OutcomeCancelled
		cancelled = order
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Msgf("Error cancelling order %s", id)
		return "", apperr.Wrap(err, "cancel order %s", id)
	}

	if cancelled != nil {
		s.publishOrderEvent(ctx, cancelled, events.OrderCancelled)
	}
	return outcome, nil
}

// lockOrder returns item indexes sorted by product so concurrent orders touch
// product rows in the same sequence.
func lockOrder(items []entity.LineItem) []int {
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return items[idx[a]].ProductID < items[idx[b]].ProductID
	})
	return idx
}

func (s *FulfillmentService) publishOrderEvent(ctx context.Context, order *entity.Order, event string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event, order); err != nil {
		logger.Error().Err(err).Msgf("Error publishing %s event for order %s", event, order.ID)
	}
}
