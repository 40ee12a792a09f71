package repository

import (
	"context"
	"database/sql"
	"os"

	"github.com/rs/zerolog"

	"fulfillment-ledger/internal/apperr"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// MySQLStore runs units of work as MySQL transactions.
type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

func (s *MySQLStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.run(ctx, false, fn)
}

func (s *MySQLStore) View(ctx context.Context, fn func(tx Tx) error) error {
	return s.run(ctx, true, fn)
}

func (s *MySQLStore) run(ctx context.Context, readOnly bool, fn func(tx Tx) error) (err error) {
	// Start a transaction
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: readOnly})
	if err != nil {
		return apperr.Wrap(err, "begin transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(&mysqlTx{tx: tx, locking: !readOnly}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error().Err(rbErr).Msg("Error rolling back transaction")
		}
		return err
	}

	// Commit the transaction
	if err = tx.Commit(); err != nil {
		return apperr.Wrap(err, "commit transaction")
	}
	return nil
}

type mysqlTx struct {
	tx      *sql.Tx
	locking bool
}

func (t *mysqlTx) Orders() OrderStore {
	return &OrderRepository{tx: t.tx, locking: t.locking}
}

func (t *mysqlTx) Products() ProductCatalog {
	return &ProductRepository{tx: t.tx}
}

func (t *mysqlTx) Batches() BatchDirectory {
	return &BatchRepository{tx: t.tx, locking: t.locking}
}

func (t *mysqlTx) Notifications() NotificationSink {
	return &NotificationRepository{tx: t.tx}
}

func (t *mysqlTx) Audit() AuditLog {
	return &SalesLogRepository{tx: t.tx}
}

func forUpdate(locking bool) string {
	if locking {
		return " FOR UPDATE"
	}
	return ""
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
