package cmd

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/schemaplan/schemaplan/diff"
	"github.com/schemaplan/schemaplan/risk"
	"github.com/schemaplan/schemaplan/schema"
	"github.com/schemaplan/schemaplan/sqlgen"
)

var (
	diffFile        string
	diffShowSQL     bool
	diffAcceptDrift bool
)

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Show changes between the schema file and the migration history",
	Long: `Show the change operations that would bring the database from the
state recorded in the migration history to the state in the schema file,
with each operation's risk tier.

Examples:
  schemaplan diff                 # List operations with risk tiers
  schemaplan diff --sql           # Also show the DDL for each operation
  schemaplan diff -f custom.yaml  # Use a custom schema file
`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		desired, err := loadSchemaFile(diffFile)
		if err != nil {
			fail(err)
		}

		t, err := openTarget(ctx)
		if err != nil {
			fail(err)
		}
		defer t.Close()

		if err := t.checkDrift(ctx, diffAcceptDrift); err != nil {
			fail(err)
		}

		ops, _, err := t.computePlan(ctx, desired, false)
		if err != nil {
			fail(err)
		}
		if len(ops) == 0 {
			fmt.Println("✅ No differences between schema and migration history")
			return
		}

		printOps(ops, desired, t.classifier, diffShowSQL)
	},
}

func printOps(ops []diff.Operation, context *schema.Model, cl *risk.Classifier, showSQL bool) {
	fmt.Printf("📋 %d change operation(s):\n", len(ops))
	for i, op := range ops {
		tier := cl.Classify(op, context)
		fmt.Printf("%3d. ", i+1)
		tierColor(tier).Printf("[%s]", tier)
		fmt.Printf(" %s\n", op.Describe())

		if showSQL {
			stmts, err := sqlgen.Statements([]diff.Operation{op})
			if err != nil {
				fail(err)
			}
			for _, s := range stmts {
				fmt.Printf("       %s\n", s)
			}
		}
	}
}

func tierColor(tier risk.Tier) *color.Color {
	switch tier {
	case risk.DataLoss:
		return color.New(color.FgRed, color.Bold)
	case risk.Locking:
		return color.New(color.FgYellow, color.Bold)
	case risk.RequiresBackfill:
		return color.New(color.FgMagenta, color.Bold)
	default:
		return color.New(color.FgGreen)
	}
}

func init() {
	diffCmd.Flags().StringVarP(&diffFile, "file", "f", "", "Schema file to use (default: schema.yaml)")
	diffCmd.Flags().BoolVar(&diffShowSQL, "sql", false, "Show the DDL each operation generates")
	diffCmd.Flags().BoolVar(&diffAcceptDrift, "accept-drift", false, "Proceed even if the live schema diverges from history")
}
