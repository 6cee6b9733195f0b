package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/schemaplan/schemaplan/apply"
)

// Executor runs DDL against a Postgres pool. Postgres has transactional
// DDL, so a failing unit leaves nothing behind.
type Executor struct {
	pool *pgxpool.Pool
}

func NewExecutor(pool *pgxpool.Pool) *Executor {
	return &Executor{pool: pool}
}

func (e *Executor) Execute(ctx context.Context, ddl string) error {
	if _, err := e.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("execute %q: %w", ddl, err)
	}
	return nil
}

func (e *Executor) Begin(ctx context.Context) (apply.Tx, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgxTx{tx: tx}, nil
}

// EstimateRowCount answers from the planner statistics rather than a
// COUNT(*) scan; the estimate feeds risk classification, not correctness.
func (e *Executor) EstimateRowCount(ctx context.Context, table string) (int64, error) {
	var estimate float64
	err := e.pool.QueryRow(ctx,
		`SELECT COALESCE(reltuples, 0) FROM pg_class WHERE relname = $1 AND relkind = 'r';`,
		table).Scan(&estimate)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("estimate rows for %q: %w", table, err)
	}
	if estimate < 0 {
		// Never analyzed.
		return 0, nil
	}
	return int64(estimate), nil
}

func (e *Executor) SupportsTransactionalDDL() bool { return true }

type pgxTx struct {
	tx pgx.Tx
}

func (t *pgxTx) Execute(ctx context.Context, ddl string) error {
	if _, err := t.tx.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("execute %q: %w", ddl, err)
	}
	return nil
}

func (t *pgxTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgxTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }
