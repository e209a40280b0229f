package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
)

type txContextKey string

const openTxKey = txContextKey("open-tx")

// Tx is the transactional query surface. Commit and Rollback are idempotent:
// a deferred Rollback after a successful Commit is a no-op.
type Tx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	IsOpen() bool
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Transaction wraps sqlx.Tx with close tracking.
type Transaction struct {
	*sqlx.Tx
	logger ectologger.Logger
	closed bool
}

func NewTx(tx *sqlx.Tx, logger ectologger.Logger) Tx {
	return &Transaction{Tx: tx, logger: logger}
}

// GetTx returns the transaction already open on ctx, or begins a new one and
// binds it to the returned context. A caller that inherits an open
// transaction must leave closing it to the opener; Rollback recognizes the
// inherited case from the context it is handed.
func GetTx(ctx context.Context, logger ectologger.Logger, db DB, opts *sql.TxOptions) (context.Context, Tx, error) {
	if inherited, ok := ctx.Value(openTxKey).(Tx); ok && inherited != nil && inherited.IsOpen() {
		return ctx, inherited, nil
	}

	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Errorf("error while beginning transaction")
		return ctx, nil, fmt.Errorf("error while beginning transaction")
	}

	wrapped := NewTx(tx, logger)
	return context.WithValue(ctx, openTxKey, wrapped), wrapped, nil
}

func (t *Transaction) IsOpen() bool {
	return !t.closed
}

func (t *Transaction) Rollback(ctx context.Context) error {
	if t.closed {
		return nil
	}
	if inherited, ok := ctx.Value(openTxKey).(Tx); ok && inherited == Tx(t) {
		// inherited transaction; the opener closes it
		return nil
	}

	if err := t.Tx.Rollback(); err != nil {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while rolling back transaction")
		return fmt.Errorf("error while rolling back transaction")
	}
	t.closed = true
	return nil
}

func (t *Transaction) Commit(ctx context.Context) error {
	if t.closed {
		return nil
	}

	if err := t.Tx.Commit(); err != nil {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while committing transaction")
		return fmt.Errorf("error while committing transaction")
	}
	t.closed = true
	return nil
}
