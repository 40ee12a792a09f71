package service

import (
	"context"
	"math"

	"fulfillment-ledger/internal/apperr"
	"fulfillment-ledger/internal/entity"
	"fulfillment-ledger/internal/repository"
)

const (
	notificationFeedSize = 20

	DefaultOrderLimit = 50
	MaxOrderLimit     = 200

	DefaultSalesLogPageSize = 10
	MaxSalesLogPageSize     = 100
)

// StockCache holds product quantities outside the store for the stock endpoint.
type StockCache interface {
	Get(ctx context.Context, productID string) (stock int, ok bool, err error)
	Set(ctx context.Context, productID string, stock int) error
}

type SalesLogPage struct {
	Entries    []*entity.AuditEntry `json:"data"`
	Page       int                  `json:"page"`
	PageSize   int                  `json:"page_size"`
	Total      int                  `json:"total"`
	TotalPages int                  `json:"total_pages"`
}

func (s *FulfillmentService) GetOrder(ctx context.Context, id string) (*entity.Order, error) {
	var order *entity.Order
	err := s.store.View(ctx, func(tx repository.Tx) error {
		var err error
		order, err = tx.Orders().Get(ctx, id)
		return err
	})
	if err != nil {
		return nil, apperr.Wrap(err, "get order %s", id)
	}
	return order, nil
}

// ListOrders returns orders newest first. A non-positive limit means DefaultOrderLimit.
func (s *FulfillmentService) ListOrders(ctx context.Context, limit, offset int) ([]*entity.Order, error) {
	if limit <= 0 {
		limit = DefaultOrderLimit
	}
	if limit > MaxOrderLimit {
		return nil, apperr.Validation("limit must be at most %d", MaxOrderLimit)
	}
	if offset < 0 {
		return nil, apperr.Validation("offset must not be negative")
	}

	var orders []*entity.Order
	err := s.store.View(ctx, func(tx repository.Tx) error {
		var err error
		orders, err = tx.Orders().List(ctx, limit, offset)
		return err
	})
	if err != nil {
		return nil, apperr.Wrap(err, "list orders")
	}
	return orders, nil
}

// ListNotifications returns the latest notifications, newest first.
func (s *FulfillmentService) ListNotifications(ctx context.Context) ([]*entity.Notification, error) {
	var notifications []*entity.Notification
	err := s.store.View(ctx, func(tx repository.Tx) error {
		var err error
		notifications, err = tx.Notifications().ListRecent(ctx, notificationFeedSize)
		return err
	})
	if err != nil {
		return nil, apperr.Wrap(err, "list notifications")
	}
	return notifications, nil
}

func (s *FulfillmentService) UnreadNotifications(ctx context.Context) (int, error) {
	var count int
	err := s.store.View(ctx, func(tx repository.Tx) error {
		var err error
		count, err = tx.Notifications().CountUnread(ctx)
		return err
	})
	if err != nil {
		return 0, apperr.Wrap(err, "count unread notifications")
	}
	return count, nil
}

func (s *FulfillmentService) MarkNotificationsRead(ctx context.Context) (int, error) {
	var marked int
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		marked, err = tx.Notifications().MarkAllRead(ctx)
		return err
	})
	if err != nil {
		logger.Error().Err(err).Msg("Error marking notifications read")
		return 0, apperr.Wrap(err, "mark notifications read")
	}
	return marked, nil
}

// ListSalesLogs pages through the sales log newest first. Pages start at 1.
func (s *FulfillmentService) ListSalesLogs(ctx context.Context, page, pageSize int) (*SalesLogPage, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultSalesLogPageSize
	}
	if pageSize > MaxSalesLogPageSize {
		return nil, apperr.Validation("page_size must be at most %d", MaxSalesLogPageSize)
	}
	if page > math.MaxInt/pageSize {
		return nil, apperr.Validation("page %d is out of range", page)
	}

	result := &SalesLogPage{Page: page, PageSize: pageSize}
	err := s.store.View(ctx, func(tx repository.Tx) error {
		var err error
		result.Entries, result.Total, err = tx.Audit().List(ctx, page, pageSize)
		return err
	})
	if err != nil {
		return nil, apperr.Wrap(err, "list sales logs")
	}
	result.TotalPages = (result.Total + pageSize - 1) / pageSize
	if result.Entries == nil {
		result.Entries = []*entity.AuditEntry{}
	}
	return result, nil
}

// ProductStock reads a product's quantity, preferring the stock cache.
func (s *FulfillmentService) ProductStock(ctx context.Context, productID string) (int, error) {
	if s.stock != nil {
		stock, ok, err := s.stock.Get(ctx, productID)
		if err != nil {
			logger.Error().Err(err).Msgf("Error reading cached stock for product %s", productID)
		} else if ok {
			return stock, nil
		}
	}

	product, err := s.loadProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	s.cacheStock(ctx, product)
	return product.Quantity, nil
}

// RefreshStock rewrites the cached quantity of each product from the store.
func (s *FulfillmentService) RefreshStock(ctx context.Context, productIDs ...string) error {
	if s.stock == nil {
		return nil
	}
	for _, id := range productIDs {
		product, err := s.loadProduct(ctx, id)
		if err != nil {
			return err
		}
		s.cacheStock(ctx, product)
	}
	return nil
}

func (s *FulfillmentService) loadProduct(ctx context.Context, productID string) (*entity.Product, error) {
	var product *entity.Product
	err := s.store.View(ctx, func(tx repository.Tx) error {
		var err error
		product, err = tx.Products().Get(ctx, productID)
		return err
	})
	if err != nil {
		return nil, apperr.Wrap(err, "get product %s", productID)
	}
	return product, nil
}

func (s *FulfillmentService) cacheStock(ctx context.Context, product *entity.Product) {
	if s.stock == nil {
		return
	}
	if err := s.stock.Set(ctx, product.ID, product.Quantity); err != nil {
		logger.Error().Err(err).Msgf("Error setting stock for product %s in cache", product.ID)
	}
}
