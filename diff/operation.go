package diff

import (
	"fmt"

	"github.com/schemaplan/schemaplan/schema"
)

type OperationType string

const (
	CreateTable            OperationType = "CREATE_TABLE"
	DropTable              OperationType = "DROP_TABLE"
	AddColumn              OperationType = "ADD_COLUMN"
	DropColumn             OperationType = "DROP_COLUMN"
	AlterColumnType        OperationType = "ALTER_COLUMN_TYPE"
	AlterColumnNullability OperationType = "ALTER_COLUMN_NULLABILITY"
	AddConstraint          OperationType = "ADD_CONSTRAINT"
	DropConstraint         OperationType = "DROP_CONSTRAINT"
	AddIndex               OperationType = "ADD_INDEX"
	DropIndex              OperationType = "DROP_INDEX"
	RenameTable            OperationType = "RENAME_TABLE"
	RenameColumn           OperationType = "RENAME_COLUMN"
)

// Operation is one schema change. Type selects the variant; the other
// fields carry what that variant needs to apply forward and to describe
// its reverse for audit. Old* fields hold the pre-change state.
type Operation struct {
	Type      OperationType `yaml:"type"`
	TableName string        `yaml:"table"`

	NewTableName string        `yaml:"new_table,omitempty"` // RenameTable
	TableDef     *schema.Table `yaml:"table_def,omitempty"` // CreateTable; DropTable keeps the dropped definition

	Column        *schema.Column `yaml:"column,omitempty"`     // AddColumn, and the new state for alters
	OldColumn     *schema.Column `yaml:"old_column,omitempty"` // DropColumn, and the prior state for alters
	ColumnName    string         `yaml:"column_name,omitempty"`
	NewColumnName string         `yaml:"new_column_name,omitempty"` // RenameColumn

	Constraint *schema.Constraint `yaml:"constraint,omitempty"` // AddConstraint; DropConstraint keeps the dropped definition
	Index      *schema.Index      `yaml:"index,omitempty"`      // AddIndex; DropIndex keeps the dropped definition
}

// Describe renders a one-line human description of the operation.
func (op Operation) Describe() string {
	switch op.Type {
	case CreateTable:
		return fmt.Sprintf("create table %s", op.TableName)
	case DropTable:
		return fmt.Sprintf("drop table %s", op.TableName)
	case AddColumn:
		return fmt.Sprintf("add column %s.%s (%s)", op.TableName, op.Column.Name, op.Column.Type)
	case DropColumn:
		return fmt.Sprintf("drop column %s.%s", op.TableName, op.ColumnName)
	case AlterColumnType:
		return fmt.Sprintf("alter column %s.%s type %s -> %s", op.TableName, op.ColumnName, op.OldColumn.Type, op.Column.Type)
	case AlterColumnNullability:
		return fmt.Sprintf("alter column %s.%s nullable %t -> %t", op.TableName, op.ColumnName, op.OldColumn.Nullable, op.Column.Nullable)
	case AddConstraint:
		return fmt.Sprintf("add %s constraint on %s (%s)", op.Constraint.Kind, op.TableName, joinCols(op.Constraint.Columns))
	case DropConstraint:
		return fmt.Sprintf("drop %s constraint on %s (%s)", op.Constraint.Kind, op.TableName, joinCols(op.Constraint.Columns))
	case AddIndex:
		return fmt.Sprintf("add index on %s (%s)", op.TableName, joinCols(op.Index.Columns))
	case DropIndex:
		return fmt.Sprintf("drop index on %s (%s)", op.TableName, joinCols(op.Index.Columns))
	case RenameTable:
		return fmt.Sprintf("rename table %s -> %s", op.TableName, op.NewTableName)
	case RenameColumn:
		return fmt.Sprintf("rename column %s.%s -> %s", op.TableName, op.ColumnName, op.NewColumnName)
	}
	return string(op.Type)
}

// ReverseDescribe renders what undoing the operation would mean. It is
// audit text, not an executable inverse: dropped data is gone whether or
// not the structure could be restored.
func (op Operation) ReverseDescribe() string {
	switch op.Type {
	case CreateTable:
		return fmt.Sprintf("drop table %s", op.TableName)
	case DropTable:
		return fmt.Sprintf("recreate table %s (data not recoverable)", op.TableName)
	case AddColumn:
		return fmt.Sprintf("drop column %s.%s", op.TableName, op.Column.Name)
	case DropColumn:
		return fmt.Sprintf("recreate column %s.%s as %s (data not recoverable)", op.TableName, op.ColumnName, op.OldColumn.Type)
	case AlterColumnType:
		return fmt.Sprintf("alter column %s.%s type %s -> %s", op.TableName, op.ColumnName, op.Column.Type, op.OldColumn.Type)
	case AlterColumnNullability:
		return fmt.Sprintf("alter column %s.%s nullable %t -> %t", op.TableName, op.ColumnName, op.Column.Nullable, op.OldColumn.Nullable)
	case AddConstraint:
		return fmt.Sprintf("drop %s constraint on %s (%s)", op.Constraint.Kind, op.TableName, joinCols(op.Constraint.Columns))
	case DropConstraint:
		return fmt.Sprintf("re-add %s constraint on %s (%s)", op.Constraint.Kind, op.TableName, joinCols(op.Constraint.Columns))
	case AddIndex:
		return fmt.Sprintf("drop index on %s (%s)", op.TableName, joinCols(op.Index.Columns))
	case DropIndex:
		return fmt.Sprintf("re-add index on %s (%s)", op.TableName, joinCols(op.Index.Columns))
	case RenameTable:
		return fmt.Sprintf("rename table %s -> %s", op.NewTableName, op.TableName)
	case RenameColumn:
		return fmt.Sprintf("rename column %s.%s -> %s", op.TableName, op.NewColumnName, op.ColumnName)
	}
	return string(op.Type)
}

func joinCols(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}
