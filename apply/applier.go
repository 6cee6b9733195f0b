package apply

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/schemaplan/schemaplan/history"
	"github.com/schemaplan/schemaplan/plan"
	"github.com/schemaplan/schemaplan/risk"
	"github.com/schemaplan/schemaplan/sqlgen"
)

const DefaultLockTimeout = 30 * time.Second

type Options struct {
	// AllowDataLoss must be set explicitly before a unit containing a
	// data-loss operation will execute. Without it the unit fails before
	// touching the database.
	AllowDataLoss bool

	// LockKey identifies the target database; one applier sequence runs
	// per key at a time.
	LockKey string

	LockTimeout time.Duration
}

// Applier executes migration units in plan order, recording each outcome
// in the history store. It is fail-fast: one failed unit blocks everything
// after it until an operator resolves the failure, and committed DDL is
// never rolled back automatically.
type Applier struct {
	exec       Executor
	store      history.Store
	locker     Locker
	classifier *risk.Classifier
	opts       Options
}

func New(exec Executor, store history.Store, locker Locker, classifier *risk.Classifier, opts Options) *Applier {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.LockKey == "" {
		opts.LockKey = "schemaplan"
	}
	return &Applier{exec: exec, store: store, locker: locker, classifier: classifier, opts: opts}
}

// Apply runs one unit: pending -> applying -> applied or failed, under the
// application lock. Backfill markers never auto-apply; they surface as
// *AwaitingExternalAction until acknowledged.
func (a *Applier) Apply(ctx context.Context, unit plan.Unit) (*history.Record, error) {
	release, err := a.locker.Acquire(ctx, a.opts.LockKey, a.opts.LockTimeout)
	if err != nil {
		return nil, err
	}
	defer release()

	if blocking, err := history.FirstFailed(ctx, a.store); err != nil {
		return nil, err
	} else if blocking != nil {
		return nil, &MigrationBlocked{BlockingUnit: blocking.UnitID}
	}

	if unit.IsBackfillMarker() {
		rec := a.record(unit, history.StatusPending, "")
		if err := a.store.Append(ctx, rec); err != nil {
			return nil, err
		}
		return rec, &AwaitingExternalAction{UnitID: unit.ID()}
	}

	if !a.opts.AllowDataLoss && a.hasDataLoss(unit) {
		return nil, &ApplyFailure{UnitID: unit.ID(), Reason: "confirmation required"}
	}

	stmts, err := sqlgen.Statements(unit.Operations)
	if err != nil {
		return nil, err
	}

	rec := a.record(unit, history.StatusPending, "")
	if err := a.store.Append(ctx, rec); err != nil {
		return nil, err
	}

	var completed []string
	if a.exec.SupportsTransactionalDDL() {
		err = a.applyTransactional(ctx, stmts)
	} else {
		completed, err = a.applySequential(ctx, stmts)
	}
	if err != nil {
		fail := &ApplyFailure{
			UnitID:    unit.ID(),
			Reason:    "executing DDL",
			Completed: completed,
			Err:       err,
		}
		rec.Status = history.StatusFailed
		rec.ErrorDetail = failDetail(err, completed, len(stmts))
		if appendErr := a.store.Append(ctx, rec); appendErr != nil {
			return nil, fmt.Errorf("recording failure of %s: %v (original: %w)", unit.ID(), appendErr, err)
		}
		return rec, fail
	}

	rec.Status = history.StatusApplied
	rec.AppliedAt = time.Now().UTC()
	if err := a.store.Append(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ApplyAll applies units in strict plan order, stopping at the first
// failure or backfill marker. A later unit never applies before an
// earlier one succeeds.
func (a *Applier) ApplyAll(ctx context.Context, units []plan.Unit) ([]history.Record, error) {
	var done []history.Record
	for _, u := range units {
		rec, err := a.Apply(ctx, u)
		if rec != nil {
			done = append(done, *rec)
		}
		if err != nil {
			return done, err
		}
	}
	return done, nil
}

// BackfillEvidence is what an operator supplies to assert the external
// data migration ran: a row count, a checksum matched against an expected
// predicate, or both.
type BackfillEvidence struct {
	RowCount int64
	Checksum string
	Note     string
}

func (ev BackfillEvidence) empty() bool {
	return ev.RowCount <= 0 && ev.Checksum == ""
}

// AcknowledgeBackfill marks a backfill marker unit applied. It refuses to
// do so without evidence; an unacknowledged marker keeps the unit sequence
// suspended indefinitely, which is the intended default.
func (a *Applier) AcknowledgeBackfill(ctx context.Context, unitID string, ev BackfillEvidence) error {
	if ev.empty() {
		return fmt.Errorf("acknowledge backfill %s: evidence required (row count or checksum)", unitID)
	}

	recs, err := a.store.Records(ctx)
	if err != nil {
		return err
	}
	for i := range recs {
		rec := recs[i]
		if rec.UnitID != unitID {
			continue
		}
		if rec.Phase != string(plan.PhaseBackfill) {
			return fmt.Errorf("unit %s is not a backfill marker", unitID)
		}
		if rec.Status == history.StatusApplied {
			return fmt.Errorf("unit %s is already acknowledged", unitID)
		}
		rec.Status = history.StatusApplied
		rec.AppliedAt = time.Now().UTC()
		rec.ErrorDetail = evidenceDetail(ev)
		return a.store.Append(ctx, &rec)
	}
	return fmt.Errorf("no record for unit %s", unitID)
}

// AbandonBackfill marks a pending backfill marker failed, explicitly
// cancelling the suspended sequence. Everything after it stays blocked
// until an operator forward-fixes.
func (a *Applier) AbandonBackfill(ctx context.Context, unitID string, reason string) error {
	recs, err := a.store.Records(ctx)
	if err != nil {
		return err
	}
	for i := range recs {
		rec := recs[i]
		if rec.UnitID != unitID {
			continue
		}
		if rec.Phase != string(plan.PhaseBackfill) {
			return fmt.Errorf("unit %s is not a backfill marker", unitID)
		}
		rec.Status = history.StatusFailed
		rec.ErrorDetail = "abandoned: " + reason
		return a.store.Append(ctx, &rec)
	}
	return fmt.Errorf("no record for unit %s", unitID)
}

func (a *Applier) applyTransactional(ctx context.Context, stmts []string) error {
	tx, err := a.exec.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	for _, s := range stmts {
		if err := tx.Execute(ctx, s); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (a *Applier) applySequential(ctx context.Context, stmts []string) ([]string, error) {
	var completed []string
	for _, s := range stmts {
		if err := a.exec.Execute(ctx, s); err != nil {
			return completed, err
		}
		completed = append(completed, s)
	}
	return completed, nil
}

func (a *Applier) hasDataLoss(unit plan.Unit) bool {
	for _, op := range unit.Operations {
		if a.classifier.Classify(op, nil) == risk.DataLoss {
			return true
		}
	}
	return false
}

func (a *Applier) record(unit plan.Unit, status history.Status, detail string) *history.Record {
	return &history.Record{
		UnitID:      unit.ID(),
		Checksum:    unit.Checksum,
		Phase:       string(unit.Phase),
		Operations:  unit.Operations,
		Status:      status,
		ErrorDetail: detail,
	}
}

func failDetail(err error, completed []string, total int) string {
	detail := err.Error()
	if len(completed) > 0 {
		detail += fmt.Sprintf("; %d/%d statements committed before failure:\n%s",
			len(completed), total, strings.Join(completed, "\n"))
	} else {
		detail += "; no statements committed"
	}
	return detail
}

func evidenceDetail(ev BackfillEvidence) string {
	var parts []string
	if ev.RowCount > 0 {
		parts = append(parts, fmt.Sprintf("rows=%d", ev.RowCount))
	}
	if ev.Checksum != "" {
		parts = append(parts, "checksum="+ev.Checksum)
	}
	if ev.Note != "" {
		parts = append(parts, ev.Note)
	}
	return "backfill acknowledged: " + strings.Join(parts, " ")
}
