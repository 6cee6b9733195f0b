package apply

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schemaplan/schemaplan/diff"
	"github.com/schemaplan/schemaplan/history"
	"github.com/schemaplan/schemaplan/plan"
	"github.com/schemaplan/schemaplan/risk"
	"github.com/schemaplan/schemaplan/schema"
)

// fakeExec records every executed statement and can be told to fail on a
// statement matching a substring.
type fakeExec struct {
	transactional bool
	failOn        string

	executed   []string
	committed  bool
	rolledBack bool
}

func (f *fakeExec) Execute(ctx context.Context, ddl string) error {
	if f.failOn != "" && strings.Contains(ddl, f.failOn) {
		return fmt.Errorf("simulated failure on %q", f.failOn)
	}
	f.executed = append(f.executed, ddl)
	return nil
}

func (f *fakeExec) Begin(ctx context.Context) (Tx, error) {
	return &fakeTx{exec: f}, nil
}

func (f *fakeExec) EstimateRowCount(ctx context.Context, table string) (int64, error) {
	return 0, nil
}

func (f *fakeExec) SupportsTransactionalDDL() bool { return f.transactional }

type fakeTx struct{ exec *fakeExec }

func (t *fakeTx) Execute(ctx context.Context, ddl string) error {
	return t.exec.Execute(ctx, ddl)
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.exec.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.exec.rolledBack = true
	return nil
}

func unitOf(seq int, phase plan.Phase, ops ...diff.Operation) plan.Unit {
	u := plan.Unit{
		Sequence:   seq,
		Label:      "test_unit",
		Phase:      phase,
		Operations: ops,
		Checksum:   plan.ChecksumOps(phase, ops),
	}
	return u
}

func addColumnOp(name string) diff.Operation {
	return diff.Operation{
		Type:      diff.AddColumn,
		TableName: "users",
		Column:    &schema.Column{Name: name, Type: schema.TypeText, Nullable: true},
	}
}

func dropTableOp(name string) diff.Operation {
	return diff.Operation{Type: diff.DropTable, TableName: name}
}

func newTestApplier(exec *fakeExec, store history.Store, opts Options) *Applier {
	return New(exec, store, NewMemoryLocker(), risk.NewClassifier(nil), opts)
}

func TestApply_Success(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExec{transactional: true}
	store := history.NewMemory()
	a := newTestApplier(exec, store, Options{})

	rec, err := a.Apply(ctx, unitOf(1, plan.PhaseNone, addColumnOp("bio")))
	require.NoError(t, err)

	require.NotNil(t, rec)
	assert.Equal(t, history.StatusApplied, rec.Status)
	assert.False(t, rec.AppliedAt.IsZero())
	assert.True(t, exec.committed)
	require.Len(t, exec.executed, 1)
	assert.Contains(t, exec.executed[0], `ADD COLUMN "bio"`)

	recs, err := store.Records(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, history.StatusApplied, recs[0].Status)
}

func TestApply_BlockedByEarlierFailure(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExec{transactional: true}
	store := history.NewMemory()
	require.NoError(t, store.Append(ctx, &history.Record{
		UnitID: "0001_broken", Status: history.StatusFailed, ErrorDetail: "boom",
	}))

	a := newTestApplier(exec, store, Options{})
	_, err := a.Apply(ctx, unitOf(2, plan.PhaseNone, addColumnOp("bio")))

	var blocked *MigrationBlocked
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, "0001_broken", blocked.BlockingUnit)
	// Nothing ran and nothing was recorded.
	assert.Empty(t, exec.executed)
	recs, _ := store.Records(ctx)
	assert.Len(t, recs, 1)
}

func TestApply_DataLossRequiresConfirmation(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExec{transactional: true}
	store := history.NewMemory()
	a := newTestApplier(exec, store, Options{})

	_, err := a.Apply(ctx, unitOf(1, plan.PhaseNone, dropTableOp("users")))

	var fail *ApplyFailure
	require.ErrorAs(t, err, &fail)
	assert.Contains(t, fail.Reason, "confirmation required")
	// The refusal happens before any database or history side effect.
	assert.Empty(t, exec.executed)
	recs, _ := store.Records(ctx)
	assert.Empty(t, recs)
}

func TestApply_DataLossWithConfirmation(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExec{transactional: true}
	store := history.NewMemory()
	a := newTestApplier(exec, store, Options{AllowDataLoss: true})

	rec, err := a.Apply(ctx, unitOf(1, plan.PhaseNone, dropTableOp("users")))
	require.NoError(t, err)
	assert.Equal(t, history.StatusApplied, rec.Status)
	require.Len(t, exec.executed, 1)
	assert.Contains(t, exec.executed[0], "DROP TABLE")
}

func TestApply_TransactionalFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExec{transactional: true, failOn: `"second"`}
	store := history.NewMemory()
	a := newTestApplier(exec, store, Options{})

	unit := unitOf(1, plan.PhaseNone, addColumnOp("first"), addColumnOp("second"))
	rec, err := a.Apply(ctx, unit)

	var fail *ApplyFailure
	require.ErrorAs(t, err, &fail)
	assert.True(t, exec.rolledBack)
	assert.False(t, exec.committed)
	assert.Empty(t, fail.Completed)

	require.NotNil(t, rec)
	assert.Equal(t, history.StatusFailed, rec.Status)
	assert.Contains(t, rec.ErrorDetail, "no statements committed")
}

func TestApply_SequentialFailureReportsBoundary(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExec{transactional: false, failOn: `"second"`}
	store := history.NewMemory()
	a := newTestApplier(exec, store, Options{})

	unit := unitOf(1, plan.PhaseNone, addColumnOp("first"), addColumnOp("second"), addColumnOp("third"))
	rec, err := a.Apply(ctx, unit)

	var fail *ApplyFailure
	require.ErrorAs(t, err, &fail)
	// Exactly the statements before the failure committed, and the record
	// says so; committed DDL is never rolled back.
	require.Len(t, fail.Completed, 1)
	assert.Contains(t, fail.Completed[0], `"first"`)
	assert.Contains(t, rec.ErrorDetail, "1/3 statements committed")
	assert.Equal(t, history.StatusFailed, rec.Status)
}

func TestApply_BackfillMarkerSuspends(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExec{transactional: true}
	store := history.NewMemory()
	a := newTestApplier(exec, store, Options{})

	marker := unitOf(2, plan.PhaseBackfill)
	rec, err := a.Apply(ctx, marker)

	var awaiting *AwaitingExternalAction
	require.ErrorAs(t, err, &awaiting)
	assert.Equal(t, marker.ID(), awaiting.UnitID)

	require.NotNil(t, rec)
	assert.Equal(t, history.StatusPending, rec.Status)
	assert.Empty(t, exec.executed)
}

func TestApplyAll_StopsAtBackfillMarker(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExec{transactional: true}
	store := history.NewMemory()
	a := newTestApplier(exec, store, Options{})

	units := []plan.Unit{
		unitOf(1, plan.PhaseExpand, addColumnOp("tenant")),
		unitOf(2, plan.PhaseBackfill),
		unitOf(3, plan.PhaseContract, addColumnOp("other")),
	}

	done, err := a.ApplyAll(ctx, units)

	var awaiting *AwaitingExternalAction
	require.ErrorAs(t, err, &awaiting)
	// The expand unit applied, the marker recorded pending, the contract
	// unit never started.
	require.Len(t, done, 2)
	assert.Equal(t, history.StatusApplied, done[0].Status)
	assert.Equal(t, history.StatusPending, done[1].Status)
	assert.Len(t, exec.executed, 1)
}

func TestAcknowledgeBackfill(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExec{transactional: true}
	store := history.NewMemory()
	a := newTestApplier(exec, store, Options{})

	marker := unitOf(1, plan.PhaseBackfill)
	_, err := a.Apply(ctx, marker)
	var awaiting *AwaitingExternalAction
	require.ErrorAs(t, err, &awaiting)

	t.Run("refuses without evidence", func(t *testing.T) {
		err := a.AcknowledgeBackfill(ctx, marker.ID(), BackfillEvidence{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "evidence required")
	})

	t.Run("accepts with evidence", func(t *testing.T) {
		err := a.AcknowledgeBackfill(ctx, marker.ID(), BackfillEvidence{RowCount: 1234, Note: "copied tenants"})
		require.NoError(t, err)

		recs, err := store.Records(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, history.StatusApplied, recs[0].Status)
		assert.Contains(t, recs[0].ErrorDetail, "rows=1234")
	})

	t.Run("refuses a second acknowledgement", func(t *testing.T) {
		err := a.AcknowledgeBackfill(ctx, marker.ID(), BackfillEvidence{RowCount: 1})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already acknowledged")
	})

	t.Run("refuses for unknown unit", func(t *testing.T) {
		err := a.AcknowledgeBackfill(ctx, "9999_nope", BackfillEvidence{RowCount: 1})
		assert.Error(t, err)
	})

	t.Run("refuses for a non-marker unit", func(t *testing.T) {
		_, err := a.Apply(ctx, unitOf(2, plan.PhaseNone, addColumnOp("bio")))
		require.NoError(t, err)
		recs, _ := store.Records(ctx)
		err = a.AcknowledgeBackfill(ctx, recs[1].UnitID, BackfillEvidence{RowCount: 1})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a backfill marker")
	})
}

func TestAbandonBackfill(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExec{transactional: true}
	store := history.NewMemory()
	a := newTestApplier(exec, store, Options{})

	marker := unitOf(1, plan.PhaseBackfill)
	_, err := a.Apply(ctx, marker)
	var awaiting *AwaitingExternalAction
	require.ErrorAs(t, err, &awaiting)

	require.NoError(t, a.AbandonBackfill(ctx, marker.ID(), "tenant copy cancelled"))

	recs, err := store.Records(ctx)
	require.NoError(t, err)
	assert.Equal(t, history.StatusFailed, recs[0].Status)
	assert.Contains(t, recs[0].ErrorDetail, "abandoned: tenant copy cancelled")

	// The abandoned marker now blocks everything after it.
	_, err = a.Apply(ctx, unitOf(2, plan.PhaseNone, addColumnOp("bio")))
	var blocked *MigrationBlocked
	assert.ErrorAs(t, err, &blocked)
}

func TestApply_LockTimeout(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLocker()

	release, err := locker.Acquire(ctx, "target-db", time.Second)
	require.NoError(t, err)
	defer release()

	a := New(&fakeExec{transactional: true}, history.NewMemory(), locker,
		risk.NewClassifier(nil), Options{LockKey: "target-db", LockTimeout: 30 * time.Millisecond})

	_, err = a.Apply(ctx, unitOf(1, plan.PhaseNone, addColumnOp("bio")))

	var timeout *LockTimeout
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "target-db", timeout.Key)
}

func TestApply_LockReleasedAfterUse(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExec{transactional: true}
	store := history.NewMemory()
	a := newTestApplier(exec, store, Options{LockKey: "target-db", LockTimeout: 50 * time.Millisecond})

	_, err := a.Apply(ctx, unitOf(1, plan.PhaseNone, addColumnOp("a")))
	require.NoError(t, err)
	_, err = a.Apply(ctx, unitOf(2, plan.PhaseNone, addColumnOp("b")))
	require.NoError(t, err)
}

func TestMemoryLocker_IndependentKeys(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLocker()

	releaseA, err := locker.Acquire(ctx, "db-a", 10*time.Millisecond)
	require.NoError(t, err)
	defer releaseA()

	releaseB, err := locker.Acquire(ctx, "db-b", 10*time.Millisecond)
	require.NoError(t, err)
	releaseB()
}

func TestApplyAll_StopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExec{transactional: true, failOn: `"bad"`}
	store := history.NewMemory()
	a := newTestApplier(exec, store, Options{})

	units := []plan.Unit{
		unitOf(1, plan.PhaseNone, addColumnOp("good")),
		unitOf(2, plan.PhaseNone, addColumnOp("bad")),
		unitOf(3, plan.PhaseNone, addColumnOp("never")),
	}

	done, err := a.ApplyAll(ctx, units)
	require.Error(t, err)
	require.Len(t, done, 2)
	assert.Equal(t, history.StatusApplied, done[0].Status)
	assert.Equal(t, history.StatusFailed, done[1].Status)

	// A retry of the remaining plan is blocked until the failure is
	// resolved.
	_, err = a.Apply(ctx, units[2])
	var blocked *MigrationBlocked
	assert.ErrorAs(t, err, &blocked)
}
