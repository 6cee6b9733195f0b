package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/schemaplan/schemaplan/apply"
)

var (
	ackRows     int64
	ackChecksum string
	ackNote     string
	ackAbandon  bool
)

var ackBackfillCmd = &cobra.Command{
	Use:   "ack-backfill <unit-id>",
	Short: "Acknowledge (or abandon) a pending backfill marker unit",
	Long: `Acknowledge that the external data migration a backfill marker stands
for has completed, supplying evidence (--rows and/or --checksum). The
marker is recorded applied and subsequent units may proceed.

With --abandon the pending marker is instead marked failed, which keeps
everything after it blocked until an operator forward-fixes.
`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		unitID := args[0]

		t, err := openTarget(ctx)
		if err != nil {
			fail(err)
		}
		defer t.Close()

		applier := apply.New(t.exec, t.store, t.locker, t.classifier, apply.Options{
			LockKey: t.lockKey(),
		})

		if ackAbandon {
			reason := ackNote
			if reason == "" {
				reason = "operator abandoned backfill"
			}
			if err := applier.AbandonBackfill(ctx, unitID, reason); err != nil {
				fail(err)
			}
			fmt.Printf("🛑 %s abandoned; subsequent units stay blocked.\n", unitID)
			return
		}

		err = applier.AcknowledgeBackfill(ctx, unitID, apply.BackfillEvidence{
			RowCount: ackRows,
			Checksum: ackChecksum,
			Note:     ackNote,
		})
		if err != nil {
			fail(err)
		}
		fmt.Printf("✅ %s acknowledged. Run 'schemaplan migrate' to continue.\n", unitID)
	},
}

func init() {
	ackBackfillCmd.Flags().Int64Var(&ackRows, "rows", 0, "Backfilled row count evidence")
	ackBackfillCmd.Flags().StringVar(&ackChecksum, "checksum", "", "Backfill verification checksum evidence")
	ackBackfillCmd.Flags().StringVar(&ackNote, "note", "", "Free-form note recorded with the acknowledgment")
	ackBackfillCmd.Flags().BoolVar(&ackAbandon, "abandon", false, "Mark the pending marker failed instead of acknowledged")
}
