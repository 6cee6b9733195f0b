package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateFile string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse and validate the schema file without a database",
	Run: func(cmd *cobra.Command, args []string) {
		model, err := loadSchemaFile(validateFile)
		if err != nil {
			fail(err)
		}
		fmt.Printf("✅ Schema is valid: %d table(s), %d enum(s)\n",
			len(model.Tables), len(model.Enums))
	},
}

func init() {
	validateCmd.Flags().StringVarP(&validateFile, "file", "f", "", "Schema file to validate (default: schema.yaml)")
}
