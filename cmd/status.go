package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/schemaplan/schemaplan/history"
	"github.com/schemaplan/schemaplan/plan"
)

var (
	statusFile   string
	statusPhased bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied, pending and failed migration units",
	Long: `Show the migration ledger against the current schema file.

Exit codes: 0 clean, 2 a failed unit blocks migration, 3 the live schema
drifted from history, 1 any other failure.
`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		desired, err := loadSchemaFile(statusFile)
		if err != nil {
			fail(err)
		}

		t, err := openTarget(ctx)
		if err != nil {
			fail(err)
		}
		defer t.Close()

		recs, err := t.store.Records(ctx)
		if err != nil {
			fail(err)
		}

		var failed []history.Record
		fmt.Println("✅ Applied units:")
		for _, rec := range recs {
			switch rec.Status {
			case history.StatusApplied:
				fmt.Printf("   - %s (%s)\n", rec.UnitID, rec.AppliedAt.Format("2006-01-02 15:04:05"))
			case history.StatusFailed:
				failed = append(failed, rec)
			case history.StatusPending:
				if rec.Phase == string(plan.PhaseBackfill) {
					color.New(color.FgMagenta).Printf("   ⏸ %s awaiting backfill acknowledgment\n", rec.UnitID)
				}
			}
		}

		if len(failed) > 0 {
			fmt.Println("\n❌ Failed units (blocking):")
			for _, rec := range failed {
				fmt.Printf("   - %s: %s\n", rec.UnitID, rec.ErrorDetail)
			}
		}

		driftErr := t.checkDrift(ctx, false)
		var drift *history.SchemaDrift
		if driftErr != nil && !errors.As(driftErr, &drift) {
			fail(driftErr)
		}
		if drift != nil {
			fmt.Printf("\n⚠️  %s\n", drift.Error())
		}

		_, units, err := t.computePlan(ctx, desired, statusPhased)
		if err != nil {
			fail(err)
		}
		pending, err := history.PendingUnits(ctx, t.store, units)
		if err != nil {
			fail(err)
		}
		fmt.Println("\n🕒 Pending units:")
		if len(pending) == 0 {
			fmt.Println("   (none)")
		}
		for _, u := range pending {
			fmt.Printf("   - %s\n", u.ID())
		}

		switch {
		case len(failed) > 0:
			os.Exit(ExitBlocked)
		case drift != nil:
			os.Exit(ExitDrifted)
		}
	},
}

func init() {
	statusCmd.Flags().StringVarP(&statusFile, "file", "f", "", "Schema file to use (default: schema.yaml)")
	statusCmd.Flags().BoolVar(&statusPhased, "phased", false, "Plan pending units with phased planning")
}
