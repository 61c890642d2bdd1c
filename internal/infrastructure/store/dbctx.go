// SPDX-License-Identifier: AGPL-3.0-or-later
package store

import (
	"context"
	"database/sql"
)

// Querier is a common interface for *sql.DB and *sql.Tx, letting
// repositories work transparently with either a raw connection or a
// transaction carried on the context.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Tx)(nil)
)

type txKey struct{}

// WithTx returns a context carrying tx, so repositories invoked within
// it commit and roll back together.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext extracts the transaction stored by WithTx, if any.
func TxFromContext(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// GetQuerier returns the transaction in ctx if present, otherwise db.
func GetQuerier(ctx context.Context, db *sql.DB) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return db
}

// RunInTx begins a transaction on db, runs fn with a context carrying
// it (so repository calls inside fn transparently join the
// transaction via GetQuerier), and commits on success or rolls back
// on error/panic. Lets any multi-repository write commit atomically.
func RunInTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(WithTx(ctx, tx))
	return err
}
