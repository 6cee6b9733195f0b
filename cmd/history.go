package cmd

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/schemaplan/schemaplan/history"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the migration ledger",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		t, err := openTarget(ctx)
		if err != nil {
			fail(err)
		}
		defer t.Close()

		recs, err := t.store.Records(ctx)
		if err != nil {
			fail(err)
		}
		if len(recs) == 0 {
			fmt.Println("📭 No migration history yet.")
			return
		}

		if historyLimit > 0 && len(recs) > historyLimit {
			recs = recs[len(recs)-historyLimit:]
		}

		for _, rec := range recs {
			statusColor(rec.Status).Printf("%-8s", rec.Status)
			fmt.Printf(" %s", rec.UnitID)
			if !rec.AppliedAt.IsZero() {
				fmt.Printf("  %s", rec.AppliedAt.Format("2006-01-02 15:04:05"))
			}
			if rec.Phase != "" {
				fmt.Printf("  [%s]", rec.Phase)
			}
			fmt.Println()
			if rec.ErrorDetail != "" {
				fmt.Printf("         %s\n", rec.ErrorDetail)
			}
		}
	},
}

func statusColor(s history.Status) *color.Color {
	switch s {
	case history.StatusApplied:
		return color.New(color.FgGreen)
	case history.StatusFailed:
		return color.New(color.FgRed, color.Bold)
	default:
		return color.New(color.FgYellow)
	}
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "Show only the most recent N records")
}
