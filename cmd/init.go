package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter schema.yaml",
	Run: func(cmd *cobra.Command, args []string) {
		if _, err := os.Stat(defaultSchemaFile); err == nil {
			fmt.Println("❌ schema.yaml already exists!")
			os.Exit(ExitFailure)
		}

		content := `# Declarative schema definition. Run 'schemaplan diff' to compare it
# against the migration history, 'schemaplan migrate' to apply changes.
enums:
  - name: post_status
    values: [draft, published, archived]

tables:
  - name: users
    columns:
      - name: id
        type: integer
        generated: true
      - name: email
        type: text
      - name: created_at
        type: timestamp
        generated: true
    constraints:
      - kind: primary-key
        columns: [id]
      - kind: unique
        columns: [email]
    indexes:
      - columns: [created_at]

  - name: posts
    columns:
      - name: id
        type: integer
        generated: true
      - name: user_id
        type: integer
      - name: title
        type: text
      - name: status
        type: enum
        enum: post_status
        default: "'draft'"
      - name: body
        type: text
        nullable: true
    constraints:
      - kind: primary-key
        columns: [id]
      - kind: foreign-key
        columns: [user_id]
        references:
          table: users
          columns: [id]
        on_delete: cascade
`
		if err := os.WriteFile(defaultSchemaFile, []byte(content), 0644); err != nil {
			fail(fmt.Errorf("writing %s: %w", defaultSchemaFile, err))
		}
		fmt.Println("✅ Created schema.yaml")
		fmt.Println("💡 Set DATABASE_URL (or add it to .env), then run 'schemaplan migrate'.")
	},
}
