package ports

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is a query executor satisfied by both *pgxpool.Pool and pgx.Tx.
// Repositories take it explicitly so the same query runs standalone or
// inside a transaction the service controls.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...interface{}) pgx.Row
}

// TransactionManager opens transactions for the services. The settlement
// write paths run their read-modify-write cycles inside WithTransaction so a
// version check and the update it guards commit or roll back together.
type TransactionManager interface {
	// WithTransaction runs fn in a read-write transaction, committing when
	// fn returns nil and rolling back otherwise. fn must route every query
	// through the tx it receives.
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error

	// WithReadOnlyTransaction runs fn in a read-only transaction, giving
	// multi-query reads a single consistent snapshot.
	WithReadOnlyTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
}

// DBPort is what the services hold: transaction control plus the bare pool
// for single-query reads.
type DBPort interface {
	GetDB() *pgxpool.Pool
	TransactionManager
}
