// internal/entity/tx.go
//
// Reentrant transactions carried in the request context.
//
// Context
// -------
// The original depth counter lived in thread-local storage; here it rides
// the context.Context that already flows through every call.  The state is
// a pointer, so nested WithTransaction calls on derived contexts share one
// counter.  Only the outermost entry opens the transaction, and only the
// outermost exit commits or rolls back; inner entries participate without
// touching connection state.  An error anywhere unwinds to the outermost
// frame, which rolls back exactly once and re-returns the error.
package entity

import (
	"context"

	"github.com/jmoiron/sqlx"
)

type txKey struct{}

type txState struct {
	tx    *sqlx.Tx
	depth int
}

// txFrom returns the open transaction, if any.
func txFrom(ctx context.Context) *txState {
	st, _ := ctx.Value(txKey{}).(*txState)
	return st
}

// querier returns the executor every repo operation must use: the open
// transaction when one is riding the context, the pool otherwise.
func querier(ctx context.Context, db *sqlx.DB) sqlx.ExtContext {
	if st := txFrom(ctx); st != nil {
		return st.tx
	}
	return db
}

// WithTransaction runs fn inside a transaction on db.  Reentrant: when the
// context already carries a transaction the call only bumps the depth
// counter, and commit/rollback happen at depth zero.  fn receives a
// context that every entity operation inside it must use.
func WithTransaction(ctx context.Context, db *sqlx.DB, fn func(ctx context.Context) error) error {
	if st := txFrom(ctx); st != nil {
		st.depth++
		err := fn(ctx)
		st.depth--
		return err
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return storeErr("begin", err)
	}
	st := &txState{tx: tx, depth: 1}
	inner := context.WithValue(ctx, txKey{}, st)

	if err := fn(inner); err != nil {
		// Rollback failure is secondary; the fn error is the story.
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit", err)
	}
	return nil
}
