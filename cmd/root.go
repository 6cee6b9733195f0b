package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/schemaplan/schemaplan/apply"
	"github.com/schemaplan/schemaplan/history"
)

// Exit codes callers can script against.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitBlocked     = 2
	ExitDrifted     = 3
	ExitLockTimeout = 4
)

var rootCmd = &cobra.Command{
	Use:   "schemaplan",
	Short: "A schema migration planner and applier for Postgres",
	Long: `schemaplan plans and applies schema migrations from a declarative
schema file, with risk classification, phased expand/contract rollout,
drift detection and a fail-fast migration history.

Examples:

  schemaplan init
  schemaplan diff
  schemaplan plan --phased
  schemaplan migrate
  schemaplan status
`,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fail(err)
	}
}

// fail prints the error and exits with the code its type maps to.
func fail(err error) {
	fmt.Println("❌", err)
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	var blocked *apply.MigrationBlocked
	var drift *history.SchemaDrift
	var lockTimeout *apply.LockTimeout
	switch {
	case errors.As(err, &blocked):
		return ExitBlocked
	case errors.As(err, &drift):
		return ExitDrifted
	case errors.As(err, &lockTimeout):
		return ExitLockTimeout
	}
	return ExitFailure
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(ackBackfillCmd)
	rootCmd.AddCommand(historyCmd)
}
