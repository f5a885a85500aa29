package repositories

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the querier shared by *pgxpool.Pool and pgx.Tx, so a repository
// method can run inside or outside a transaction. Tests satisfy it with
// pgxmock.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is a querier that can also open transactions. *pgxpool.Pool
// satisfies it; repositories with multi-statement invariants take DB
// instead of DBTX.
type DB interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}
