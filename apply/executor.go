package apply

import "context"

// Tx is one open database transaction.
type Tx interface {
	Execute(ctx context.Context, ddl string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Executor is the capability the applier needs from a database engine.
// Any engine that can run DDL statements, open transactions and estimate
// table sizes is usable; the pgx implementation lives in the database
// package.
type Executor interface {
	Execute(ctx context.Context, ddl string) error
	Begin(ctx context.Context) (Tx, error)
	EstimateRowCount(ctx context.Context, table string) (int64, error)

	// SupportsTransactionalDDL reports whether DDL inside a transaction
	// rolls back with it. When false, the applier executes statements
	// sequentially and reports the exact completion boundary on failure.
	SupportsTransactionalDDL() bool
}
