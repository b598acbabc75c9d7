// Package tx carries an open *sql.Tx through context so every store touched
// inside a transaction runner joins the same transaction. Fulfillment depends
// on this: the item update, the grant insert, and the audit append must commit
// or roll back as one unit.
package tx

import (
	"context"
	"database/sql"
)

type txKey struct{}

// WithTx returns a context carrying the transaction. A nil transaction leaves
// the context unchanged so callers can pass through unconditionally.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey{}, tx)
}

// From reports the transaction on the context, if any. Stores fall back to
// their plain connection when none is present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok
}
