package repository

import (
	"context"

	"fulfillment-ledger/internal/entity"
)

// Store runs units of work. Every mutation made through the Tx handed to fn is
// committed together, or rolled back together when fn returns an error.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(tx Tx) error) error
}

type Tx interface {
	Orders() OrderStore
	Products() ProductCatalog
	Batches() BatchDirectory
	Notifications() NotificationSink
	Audit() AuditLog
}

type OrderStore interface {
	Insert(ctx context.Context, order *entity.Order) error
	// Get returns apperr NotFound when the order does not exist. Inside a write
	// transaction the row stays locked until commit.
	Get(ctx context.Context, id string) (*entity.Order, error)
	// Update rewrites the order row. Line items are never rewritten.
	Update(ctx context.Context, order *entity.Order) error
	List(ctx context.Context, limit, offset int) ([]*entity.Order, error)
}

type ProductCatalog interface {
	Get(ctx context.Context, id string) (*entity.Product, error)
	// ApplyDelta adds delta to the on-hand quantity as a single atomic step and
	// returns the product as it is after the change. No floor is enforced.
	ApplyDelta(ctx context.Context, id string, delta int) (*entity.Product, error)
}

type BatchDirectory interface {
	Get(ctx context.Context, id string) (*entity.Batch, error)
	// ApplyAggregates adds delta to the batch counters as a single atomic step,
	// clamping both at zero, and returns the batch after the change.
	ApplyAggregates(ctx context.Context, id string, delta entity.AggregateDelta) (*entity.Batch, error)
}

type NotificationSink interface {
	Append(ctx context.Context, n *entity.Notification) error
	ListRecent(ctx context.Context, limit int) ([]*entity.Notification, error)
	CountUnread(ctx context.Context) (int, error)
	MarkAllRead(ctx context.Context) (int, error)
}

type AuditLog interface {
	Append(ctx context.Context, entry *entity.AuditEntry) error
	// List returns one page (1-based) of entries, newest first, and the total count.
	List(ctx context.Context, page, pageSize int) ([]*entity.AuditEntry, int, error)
}
