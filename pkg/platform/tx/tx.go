// Package tx holds the query surface shared by *sql.DB and *sql.Tx.
package tx

import (
	"context"
	"database/sql"
)

// Queryer is the subset of *sql.DB and *sql.Tx that stores need. Stores built
// over a *sql.Tx take part in that transaction; the transaction runner hands
// them the tx explicitly.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ Queryer = (*sql.DB)(nil)
	_ Queryer = (*sql.Tx)(nil)
)
