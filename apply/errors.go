package apply

import (
	"fmt"
	"time"
)

// MigrationBlocked means a prior unit failed and nothing may apply until
// an operator records a forward-fix. Unblocking is always explicit.
type MigrationBlocked struct {
	BlockingUnit string
}

func (e *MigrationBlocked) Error() string {
	return fmt.Sprintf("migration blocked: unit %s failed and has not been resolved", e.BlockingUnit)
}

// ApplyFailure reports a unit that did not fully apply. Completed lists
// the statements that committed before the failure; the applier never
// rolls committed DDL back, so this boundary is what an operator
// forward-fixes from.
type ApplyFailure struct {
	UnitID    string
	Reason    string
	Completed []string
	Err       error
}

func (e *ApplyFailure) Error() string {
	msg := fmt.Sprintf("apply %s: %s", e.UnitID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if len(e.Completed) > 0 {
		msg += fmt.Sprintf(" (%d statements had already committed)", len(e.Completed))
	}
	return msg
}

func (e *ApplyFailure) Unwrap() error { return e.Err }

// LockTimeout means the application lock could not be acquired in time.
// Nothing happened; retrying is safe.
type LockTimeout struct {
	Key     string
	Timeout time.Duration
}

func (e *LockTimeout) Error() string {
	return fmt.Sprintf("lock timeout: could not acquire application lock %q within %s", e.Key, e.Timeout)
}

// AwaitingExternalAction means the unit is a backfill marker: the applier
// stopped on purpose and will not advance until AcknowledgeBackfill is
// called with evidence the data migration ran.
type AwaitingExternalAction struct {
	UnitID string
}

func (e *AwaitingExternalAction) Error() string {
	return fmt.Sprintf("unit %s awaits external backfill; acknowledge it with evidence to continue", e.UnitID)
}
