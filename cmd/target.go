package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/schemaplan/schemaplan/database"
	"github.com/schemaplan/schemaplan/diff"
	"github.com/schemaplan/schemaplan/history"
	"github.com/schemaplan/schemaplan/introspect"
	"github.com/schemaplan/schemaplan/plan"
	"github.com/schemaplan/schemaplan/risk"
	"github.com/schemaplan/schemaplan/schema"
	"github.com/schemaplan/schemaplan/utils"
)

const defaultSchemaFile = "schema.yaml"

// target bundles the handles every DB-touching command needs. It is
// opened per command invocation and closed when the command ends; nothing
// here is package-global state.
type target struct {
	pool       *pgxpool.Pool
	store      *history.Postgres
	exec       *database.Executor
	locker     *database.AdvisoryLocker
	classifier *risk.Classifier
}

func openTarget(ctx context.Context) (*target, error) {
	utils.LoadEnv()
	pool, err := database.ConnectFromEnv(ctx)
	if err != nil {
		return nil, err
	}
	store, err := history.NewPostgres(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	exec := database.NewExecutor(pool)
	t := &target{
		pool:   pool,
		store:  store,
		exec:   exec,
		locker: database.NewAdvisoryLocker(pool),
		classifier: risk.NewClassifier(func(table string) (int64, error) {
			return exec.EstimateRowCount(ctx, table)
		}),
	}
	return t, nil
}

func (t *target) Close() {
	t.pool.Close()
}

// lockKey identifies the target database for the application lock.
func (t *target) lockKey() string {
	return t.pool.Config().ConnConfig.Database
}

func loadSchemaFile(file string) (*schema.Model, error) {
	if file == "" {
		file = defaultSchemaFile
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("reading schema file: %w", err)
	}
	model, err := schema.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return model, nil
}

// checkDrift compares the live structure against recorded history. It is
// skipped only when the operator explicitly accepts the divergence.
func (t *target) checkDrift(ctx context.Context, accept bool) error {
	if accept {
		return nil
	}
	live, err := introspect.Snapshot(ctx, t.pool)
	if err != nil {
		return err
	}
	return history.CheckDrift(ctx, t.store, live)
}

// computePlan diffs recorded history against the desired model and plans
// units, numbering them after the existing ledger.
func (t *target) computePlan(ctx context.Context, desired *schema.Model, phased bool) ([]diff.Operation, []plan.Unit, error) {
	baseline, err := history.LatestAppliedModel(ctx, t.store)
	if err != nil {
		return nil, nil, err
	}
	ops, err := diff.Diff(baseline, desired)
	if err != nil {
		return nil, nil, err
	}
	seq, err := history.NextSequence(ctx, t.store)
	if err != nil {
		return nil, nil, err
	}
	units, err := plan.Build(ops, plan.Options{
		Phased:        phased,
		StartSequence: seq,
		Classifier:    t.classifier,
		Context:       desired,
	})
	if err != nil {
		return nil, nil, err
	}
	return ops, units, nil
}
