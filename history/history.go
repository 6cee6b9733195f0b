package history

import (
	"context"
	"fmt"
	"time"

	"github.com/schemaplan/schemaplan/diff"
	"github.com/schemaplan/schemaplan/plan"
	"github.com/schemaplan/schemaplan/schema"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusApplied Status = "applied"
	StatusFailed  Status = "failed"
)

// Record is one ledger entry for a migration unit. It is created when the
// unit is first attempted and transitions to applied or failed. Failed
// records block every later unit until an operator resolves them with a
// forward-fix unit.
type Record struct {
	UnitID      string
	Checksum    string
	Phase       string
	Operations  []diff.Operation
	AppliedAt   time.Time
	Status      Status
	ErrorDetail string
}

// Store is the persisted, ordered ledger of migration units. Append is an
// atomic upsert keyed by unit ID; status transitions go through it. The
// planner and applier only ever read and append, never rewrite history.
type Store interface {
	Append(ctx context.Context, rec *Record) error
	Records(ctx context.Context) ([]Record, error)
}

// FirstFailed returns the earliest failed record, or nil.
func FirstFailed(ctx context.Context, store Store) (*Record, error) {
	recs, err := store.Records(ctx)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		if recs[i].Status == StatusFailed {
			return &recs[i], nil
		}
	}
	return nil, nil
}

// LatestAppliedModel reconstructs the schema the history says the database
// has, by folding every applied record's operations onto an empty model in
// history order.
func LatestAppliedModel(ctx context.Context, store Store) (*schema.Model, error) {
	recs, err := store.Records(ctx)
	if err != nil {
		return nil, err
	}
	model := &schema.Model{}
	for _, rec := range recs {
		if rec.Status != StatusApplied || len(rec.Operations) == 0 {
			continue
		}
		model, err = diff.Apply(model, rec.Operations)
		if err != nil {
			return nil, fmt.Errorf("replay unit %s: %w", rec.UnitID, err)
		}
	}
	return model, nil
}

// PendingUnits filters a plan down to the units whose checksum the history
// has not recorded as applied. Re-running a plan is idempotent by identity
// comparison, not by tolerating duplicate DDL errors at apply time.
func PendingUnits(ctx context.Context, store Store, units []plan.Unit) ([]plan.Unit, error) {
	recs, err := store.Records(ctx)
	if err != nil {
		return nil, err
	}
	applied := map[string]bool{}
	for _, rec := range recs {
		if rec.Status == StatusApplied {
			applied[rec.Checksum] = true
		}
	}
	var pending []plan.Unit
	for _, u := range units {
		if !applied[u.Checksum] {
			pending = append(pending, u)
		}
	}
	return pending, nil
}

// NextSequence returns the unit sequence number planning should continue
// from: one past the number of recorded units.
func NextSequence(ctx context.Context, store Store) (int, error) {
	recs, err := store.Records(ctx)
	if err != nil {
		return 0, err
	}
	return len(recs) + 1, nil
}
