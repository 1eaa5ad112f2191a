package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxFromContext retrieves the active transaction from context.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// WithTx begins a transaction on the request-scoped connection and returns a
// context carrying it. The caller commits or rolls back.
func WithTx(ctx context.Context) (context.Context, pgx.Tx, error) {
	conn := ConnFromContext(ctx)
	if conn == nil {
		return ctx, nil, errors.New("no database connection in context")
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("begin transaction: %w", err)
	}
	return context.WithValue(ctx, DBTxKey, tx), tx, nil
}

// Transactor runs fn inside one database transaction. Repositories reached
// from fn pick the transaction up from the context.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PoolTransactor begins transactions on the request connection when one is
// present and on the pool otherwise.
type PoolTransactor struct {
	pool *pgxpool.Pool
}

func NewTransactor(pool *pgxpool.Pool) *PoolTransactor {
	return &PoolTransactor{pool: pool}
}

// InTx commits when fn returns nil and rolls back otherwise. A transaction
// already in ctx is reused, so nested calls join the outer one.
func (t *PoolTransactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	var (
		tx  pgx.Tx
		err error
	)
	if conn := ConnFromContext(ctx); conn != nil {
		tx, err = conn.Begin(ctx)
	} else if t.pool != nil {
		tx, err = t.pool.Begin(ctx)
	} else {
		return errors.New("no database connection available")
	}
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(context.WithValue(ctx, DBTxKey, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
