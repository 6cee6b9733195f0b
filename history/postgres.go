package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"

	"github.com/schemaplan/schemaplan/diff"
)

// RecordsTable is where the Postgres store keeps its ledger, inside the
// target database itself.
const RecordsTable = "schemaplan_migrations"

// Postgres persists the ledger in the target database. Appends are single
// upserts, so readers never observe a partial record.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	_, err := pool.Exec(ctx, fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id SERIAL PRIMARY KEY,
		unit_id TEXT NOT NULL UNIQUE,
		checksum TEXT NOT NULL,
		phase TEXT NOT NULL DEFAULT '',
		operations TEXT NOT NULL DEFAULT '',
		applied_at TIMESTAMPTZ,
		status TEXT NOT NULL,
		error_detail TEXT NOT NULL DEFAULT ''
	);`, RecordsTable))
	if err != nil {
		return nil, fmt.Errorf("ensure %s table: %w", RecordsTable, err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Append(ctx context.Context, rec *Record) error {
	ops, err := encodeOps(rec.Operations)
	if err != nil {
		return err
	}
	var appliedAt interface{}
	if !rec.AppliedAt.IsZero() {
		appliedAt = rec.AppliedAt
	}
	_, err = p.pool.Exec(ctx, fmt.Sprintf(`
	INSERT INTO %s (unit_id, checksum, phase, operations, applied_at, status, error_detail)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (unit_id) DO UPDATE SET
		checksum = EXCLUDED.checksum,
		phase = EXCLUDED.phase,
		operations = EXCLUDED.operations,
		applied_at = EXCLUDED.applied_at,
		status = EXCLUDED.status,
		error_detail = EXCLUDED.error_detail;`, RecordsTable),
		rec.UnitID, rec.Checksum, rec.Phase, ops, appliedAt, string(rec.Status), rec.ErrorDetail)
	if err != nil {
		return fmt.Errorf("append record %s: %w", rec.UnitID, err)
	}
	return nil
}

func (p *Postgres) Records(ctx context.Context) ([]Record, error) {
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`
	SELECT unit_id, checksum, phase, operations, applied_at, status, error_detail
	FROM %s ORDER BY id;`, RecordsTable))
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var ops string
		var status string
		var appliedAt *time.Time
		if err := rows.Scan(&rec.UnitID, &rec.Checksum, &rec.Phase, &ops,
			&appliedAt, &status, &rec.ErrorDetail); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if appliedAt != nil {
			rec.AppliedAt = *appliedAt
		}
		rec.Status = Status(status)
		rec.Operations, err = decodeOps(ops)
		if err != nil {
			return nil, fmt.Errorf("decode operations for %s: %w", rec.UnitID, err)
		}
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate records: %w", rows.Err())
	}
	return out, nil
}

func encodeOps(ops []diff.Operation) (string, error) {
	if len(ops) == 0 {
		return "", nil
	}
	data, err := yaml.Marshal(ops)
	if err != nil {
		return "", fmt.Errorf("encode operations: %w", err)
	}
	return string(data), nil
}

func decodeOps(s string) ([]diff.Operation, error) {
	if s == "" {
		return nil, nil
	}
	var ops []diff.Operation
	if err := yaml.Unmarshal([]byte(s), &ops); err != nil {
		return nil, err
	}
	return ops, nil
}
