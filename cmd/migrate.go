package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/schemaplan/schemaplan/apply"
	"github.com/schemaplan/schemaplan/history"
)

var (
	migrateFile          string
	migratePhased        bool
	migrateDryRun        bool
	migrateAllowDataLoss bool
	migrateAcceptDrift   bool
	migrateLockTimeout   time.Duration
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Plan and apply pending migration units",
	Long: `Diff the schema file against the migration history, plan units and
apply the pending ones in order.

A unit containing a data-loss operation (drop table, drop column,
narrowing type change) refuses to run without --allow-data-loss. Backfill
marker units pause the run; acknowledge them with 'schemaplan ack-backfill'.
`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		desired, err := loadSchemaFile(migrateFile)
		if err != nil {
			fail(err)
		}

		t, err := openTarget(ctx)
		if err != nil {
			fail(err)
		}
		defer t.Close()

		if err := t.checkDrift(ctx, migrateAcceptDrift); err != nil {
			fail(err)
		}

		_, units, err := t.computePlan(ctx, desired, migratePhased)
		if err != nil {
			fail(err)
		}
		pending, err := history.PendingUnits(ctx, t.store, units)
		if err != nil {
			fail(err)
		}
		if len(pending) == 0 {
			fmt.Println("✅ No pending migrations.")
			return
		}

		if migrateDryRun {
			fmt.Printf("🗺  DRY RUN: %d unit(s) would apply:\n\n", len(pending))
			for _, u := range pending {
				printUnit(u)
			}
			fmt.Println("(Dry run only. Nothing was applied.)")
			return
		}

		applier := apply.New(t.exec, t.store, t.locker, t.classifier, apply.Options{
			AllowDataLoss: migrateAllowDataLoss,
			LockKey:       t.lockKey(),
			LockTimeout:   migrateLockTimeout,
		})

		fmt.Printf("Applying %d unit(s)...\n", len(pending))
		done, err := applier.ApplyAll(ctx, pending)
		for _, rec := range done {
			if rec.Status == history.StatusApplied {
				fmt.Printf("✅ %s applied\n", rec.UnitID)
			}
		}
		if err != nil {
			var waiting *apply.AwaitingExternalAction
			if errors.As(err, &waiting) {
				fmt.Printf("⏸  %s\n", waiting.Error())
				fmt.Printf("💡 Run the backfill, then: schemaplan ack-backfill %s --rows <n>\n", waiting.UnitID)
				return
			}
			fail(err)
		}
		fmt.Println("✅ All migrations applied.")
	},
}

func init() {
	migrateCmd.Flags().StringVarP(&migrateFile, "file", "f", "", "Schema file to use (default: schema.yaml)")
	migrateCmd.Flags().BoolVar(&migratePhased, "phased", false, "Use phased expand/backfill/contract planning")
	migrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "Preview the units without applying them")
	migrateCmd.Flags().BoolVar(&migrateAllowDataLoss, "allow-data-loss", false, "Confirm execution of data-loss operations")
	migrateCmd.Flags().BoolVar(&migrateAcceptDrift, "accept-drift", false, "Proceed even if the live schema diverges from history")
	migrateCmd.Flags().DurationVar(&migrateLockTimeout, "lock-timeout", apply.DefaultLockTimeout, "How long to wait for the application lock")
}
