// Package memstore keeps the ledger in process memory on top of go-memdb.
// Write transactions are serialized by memdb's single writer lock and become
// visible to readers only on Commit, which gives the same all-or-nothing
// behaviour as the MySQL store.
package memstore

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/hashicorp/go-memdb"

	"fulfillment-ledger/internal/apperr"
	"fulfillment-ledger/internal/entity"
	"fulfillment-ledger/internal/repository"
)

const (
	tableOrders        = "orders"
	tableProducts      = "products"
	tableBatches       = "batches"
	tableNotifications = "notifications"
	tableSalesLogs     = "sales_logs"
)

func schema() *memdb.DBSchema {
	byID := func(table, field string) *memdb.TableSchema {
		return &memdb.TableSchema{
			Name: table,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: field}},
			},
		}
	}
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableOrders:        byID(tableOrders, "ID"),
			tableProducts:      byID(tableProducts, "ID"),
			tableBatches:       byID(tableBatches, "ID"),
			tableNotifications: byID(tableNotifications, "ID"),
			tableSalesLogs:     byID(tableSalesLogs, "ID"),
		},
	}
}

// Append-only tables carry a sequence so listings come back newest first.
type notificationRecord struct {
	ID  string
	Seq int64
	N   entity.Notification
}

type salesLogRecord struct {
	ID    string
	Seq   int64
	Entry entity.AuditEntry
}

type Store struct {
	db  *memdb.MemDB
	seq atomic.Int64
}

func New() (*Store, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return apperr.TransactionFailure(err, "begin transaction")
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	if err := fn(&memTx{txn: txn, store: s}); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *Store) View(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return apperr.TransactionFailure(err, "begin transaction")
	}
	txn := s.db.Txn(false)
	defer txn.Abort()
	return fn(&memTx{txn: txn, store: s})
}

// PutProduct inserts or replaces a catalog row. Catalog maintenance lives
// outside the ledger; this is how the memory driver is seeded.
func (s *Store) PutProduct(p entity.Product) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(tableProducts, &p); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *Store) PutBatch(b entity.Batch) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(tableBatches, &b); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

type memTx struct {
	txn   *memdb.Txn
	store *Store
}

func (t *memTx) Orders() repository.OrderStore { return &orders{t} }
func (t *memTx) Products() repository.ProductCatalog { return &products{t} }
func (t *memTx) Batches() repository.BatchDirectory { return &batches{t} }
func (t *memTx) Notifications() repository.NotificationSink { return &notifications{t} }
func (t *memTx) Audit() repository.AuditLog { return &salesLogs{t} }

func (t *memTx) first(table, id string) (interface{}, error) {
	raw, err := t.txn.First(table, "id", id)
	if err != nil {
		return nil, apperr.TransactionFailure(err, "read %s %s", table, id)
	}
	return raw, nil
}

func (t *memTx) insert(table string, obj interface{}) error {
	if err := t.txn.Insert(table, obj); err != nil {
		return apperr.TransactionFailure(err, "write %s", table)
	}
	return nil
}

func (t *memTx) all(table string) ([]interface{}, error) {
	it, err := t.txn.Get(table, "id")
	if err != nil {
		return nil, apperr.TransactionFailure(err, "scan %s", table)
	}
	var out []interface{}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		out = append(out, obj)
	}
	return out, nil
}

type orders struct{ *memTx }

func (o *orders) Insert(ctx context.Context, order *entity.Order) error {
	existing, err := o.first(tableOrders, order.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return apperr.TransactionFailure(nil, "order %s already exists", order.ID)
	}
	return o.insert(tableOrders, order.Clone())
}

func (o *orders) Get(ctx context.Context, id string) (*entity.Order, error) {
	raw, err := o.first(tableOrders, id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, apperr.NotFound("order %s not found", id)
	}
	return raw.(*entity.Order).Clone(), nil
}

func (o *orders) Update(ctx context.Context, order *entity.Order) error {
	raw, err := o.first(tableOrders, order.ID)
	if err != nil {
		return err
	}
	if raw == nil {
		return apperr.NotFound("order %s not found", order.ID)
	}
	updated := order.Clone()
	updated.Items = raw.(*entity.Order).Clone().Items
	return o.insert(tableOrders, updated)
}

func (o *orders) List(ctx context.Context, limit, offset int) ([]*entity.Order, error) {
	rows, err := o.all(tableOrders)
	if err != nil {
		return nil, err
	}
	list := make([]*entity.Order, 0, len(rows))
	for _, raw := range rows {
		list = append(list, raw.(*entity.Order).Clone())
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return page(list, limit, offset), nil
}

type products struct{ *memTx }

func (p *products) Get(ctx context.Context, id string) (*entity.Product, error) {
	raw, err := p.first(tableProducts, id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, apperr.NotFound("product %s not found", id)
	}
	product := *raw.(*entity.Product)
	return &product, nil
}

func (p *products) ApplyDelta(ctx context.Context, id string, delta int) (*entity.Product, error) {
	product, err := p.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	product.Quantity += delta
	if err := p.insert(tableProducts, product); err != nil {
		return nil, err
	}
	out := *product
	return &out, nil
}

type batches struct{ *memTx }

func (b *batches) Get(ctx context.Context, id string) (*entity.Batch, error) {
	raw, err := b.first(tableBatches, id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, apperr.NotFound("batch %s not found", id)
	}
	batch := *raw.(*entity.Batch)
	return &batch, nil
}

func (b *batches) ApplyAggregates(ctx context.Context, id string, delta entity.AggregateDelta) (*entity.Batch, error) {
	batch, err := b.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	batch.TotalOrders, batch.TotalSales = delta.Apply(batch.TotalOrders, batch.TotalSales)
	if err := b.insert(tableBatches, batch); err != nil {
		return nil, err
	}
	out := *batch
	return &out, nil
}

type notifications struct{ *memTx }

func (n *notifications) Append(ctx context.Context, notification *entity.Notification) error {
	return n.insert(tableNotifications, &notificationRecord{
		ID:  notification.ID,
		Seq: n.store.seq.Add(1),
		N:   *notification,
	})
}

func (n *notifications) records() ([]*notificationRecord, error) {
	rows, err := n.all(tableNotifications)
	if err != nil {
		return nil, err
	}
	records := make([]*notificationRecord, 0, len(rows))
	for _, raw := range rows {
		records = append(records, raw.(*notificationRecord))
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Seq > records[j].Seq })
	return records, nil
}

func (n *notifications) ListRecent(ctx context.Context, limit int) ([]*entity.Notification, error) {
	records, err := n.records()
	if err != nil {
		return nil, err
	}
	var list []*entity.Notification
	for _, r := range records {
		if len(list) == limit {
			break
		}
		item := r.N
		list = append(list, &item)
	}
	return list, nil
}

func (n *notifications) CountUnread(ctx context.Context) (int, error) {
	records, err := n.records()
	if err != nil {
		return 0, err
	}
	count := 0
	for _, r := range records {
		if !r.N.Read {
			count++
		}
	}
	return count, nil
}

func (n *notifications) MarkAllRead(ctx context.Context) (int, error) {
	records, err := n.records()
	if err != nil {
		return 0, err
	}
	marked := 0
	for _, r := range records {
		if r.N.Read {
			continue
		}
		updated := *r
		updated.N.Read = true
		if err := n.insert(tableNotifications, &updated); err != nil {
			return 0, err
		}
		marked++
	}
	return marked, nil
}

type salesLogs struct{ *memTx }

func (s *salesLogs) Append(ctx context.Context, entry *entity.AuditEntry) error {
	record := &salesLogRecord{ID: entry.ID, Seq: s.store.seq.Add(1), Entry: *entry}
	record.Entry.Snapshot.Items = append([]entity.LineItem(nil), entry.Snapshot.Items...)
	return s.insert(tableSalesLogs, record)
}

func (s *salesLogs) List(ctx context.Context, pageNum, pageSize int) ([]*entity.AuditEntry, int, error) {
	rows, err := s.all(tableSalesLogs)
	if err != nil {
		return nil, 0, err
	}
	records := make([]*salesLogRecord, 0, len(rows))
	for _, raw := range rows {
		records = append(records, raw.(*salesLogRecord))
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Seq > records[j].Seq })

	entries := make([]*entity.AuditEntry, 0, len(records))
	for _, r := range records {
		entry := r.Entry
		entries = append(entries, &entry)
	}
	return page(entries, pageSize, (pageNum-1)*pageSize), len(records), nil
}

func page[T any](list []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(list) {
		return nil
	}
	list = list[offset:]
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return list
}
