package cmd

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/schemaplan/schemaplan/history"
	"github.com/schemaplan/schemaplan/plan"
	"github.com/schemaplan/schemaplan/sqlgen"
)

var (
	planFile        string
	planPhased      bool
	planAcceptDrift bool
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the migration units a migrate run would apply",
	Long: `Plan migration units from the diff between the schema file and the
migration history without applying anything.

Examples:
  schemaplan plan            # Single-unit plan
  schemaplan plan --phased   # Split backfill-requiring changes into
                             # expand / backfill / contract units
`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		desired, err := loadSchemaFile(planFile)
		if err != nil {
			fail(err)
		}

		t, err := openTarget(ctx)
		if err != nil {
			fail(err)
		}
		defer t.Close()

		if err := t.checkDrift(ctx, planAcceptDrift); err != nil {
			fail(err)
		}

		_, units, err := t.computePlan(ctx, desired, planPhased)
		if err != nil {
			fail(err)
		}
		pending, err := history.PendingUnits(ctx, t.store, units)
		if err != nil {
			fail(err)
		}
		if len(pending) == 0 {
			fmt.Println("✅ Nothing to apply.")
			return
		}

		fmt.Printf("🗺  %d pending unit(s):\n\n", len(pending))
		for _, u := range pending {
			printUnit(u)
		}
	},
}

func printUnit(u plan.Unit) {
	head := color.New(color.Bold)
	head.Printf("-- %s", u.ID())
	if u.Phase != plan.PhaseNone {
		fmt.Printf("  [%s]", u.Phase)
	}
	fmt.Printf("  checksum %.12s\n", u.Checksum)

	if u.IsBackfillMarker() {
		color.New(color.FgMagenta).Println("   (backfill marker: apply pauses here until acknowledged)")
		fmt.Println()
		return
	}
	stmts, err := sqlgen.Statements(u.Operations)
	if err != nil {
		fail(err)
	}
	for _, s := range stmts {
		fmt.Printf("   %s\n", s)
	}
	fmt.Println()
}

func init() {
	planCmd.Flags().StringVarP(&planFile, "file", "f", "", "Schema file to use (default: schema.yaml)")
	planCmd.Flags().BoolVar(&planPhased, "phased", false, "Use phased expand/backfill/contract planning")
	planCmd.Flags().BoolVar(&planAcceptDrift, "accept-drift", false, "Proceed even if the live schema diverges from history")
}
