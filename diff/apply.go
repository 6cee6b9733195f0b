package diff

import (
	"fmt"

	"github.com/schemaplan/schemaplan/schema"
)

// Apply folds operations onto a model and returns the resulting model.
// The input model is not modified. This is the in-memory counterpart of
// executing the operations against a database: the history store uses it
// to reconstruct the last applied schema, and it closes the loop for the
// property that applying Diff(A, B) to A yields B.
func Apply(m *schema.Model, ops []Operation) (*schema.Model, error) {
	out := cloneModel(m)
	for _, op := range ops {
		if err := applyOne(out, op); err != nil {
			return nil, fmt.Errorf("apply %q: %w", op.Describe(), err)
		}
	}
	return out, nil
}

func applyOne(m *schema.Model, op Operation) error {
	switch op.Type {
	case CreateTable:
		if m.Table(op.TableName) != nil {
			return fmt.Errorf("table already exists")
		}
		t := schema.Table{
			Name:        op.TableName,
			Columns:     append([]schema.Column(nil), op.TableDef.Columns...),
			Constraints: append([]schema.Constraint(nil), op.TableDef.Constraints...),
		}
		m.Tables = append(m.Tables, t)
		return nil

	case DropTable:
		for i := range m.Tables {
			if m.Tables[i].Name == op.TableName {
				m.Tables = append(m.Tables[:i], m.Tables[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("table not found")

	case RenameTable:
		t := m.Table(op.TableName)
		if t == nil {
			return fmt.Errorf("table not found")
		}
		if m.Table(op.NewTableName) != nil {
			return fmt.Errorf("table %q already exists", op.NewTableName)
		}
		t.Name = op.NewTableName
		// Foreign keys elsewhere keep referencing the old name until their
		// own drop+add operations run; the differ emits those in the same
		// diff, so a fold over a full diff converges.
		return nil
	}

	t := m.Table(op.TableName)
	if t == nil {
		return fmt.Errorf("table not found")
	}

	switch op.Type {
	case AddColumn:
		if t.Column(op.Column.Name) != nil {
			return fmt.Errorf("column already exists")
		}
		t.Columns = append(t.Columns, *op.Column)

	case DropColumn:
		for i := range t.Columns {
			if t.Columns[i].Name == op.ColumnName {
				t.Columns = append(t.Columns[:i], t.Columns[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("column not found")

	case RenameColumn:
		c := t.Column(op.ColumnName)
		if c == nil {
			return fmt.Errorf("column not found")
		}
		if t.Column(op.NewColumnName) != nil {
			return fmt.Errorf("column %q already exists", op.NewColumnName)
		}
		c.Name = op.NewColumnName

	case AlterColumnType:
		c := t.Column(op.ColumnName)
		if c == nil {
			return fmt.Errorf("column not found")
		}
		c.Type = op.Column.Type
		c.EnumRef = op.Column.EnumRef
		c.EnumValues = append([]string(nil), op.Column.EnumValues...)
		c.Default = op.Column.Default
		c.Generated = op.Column.Generated

	case AlterColumnNullability:
		c := t.Column(op.ColumnName)
		if c == nil {
			return fmt.Errorf("column not found")
		}
		c.Nullable = op.Column.Nullable

	case AddConstraint:
		key := op.Constraint.StructuralKey()
		for _, c := range t.Constraints {
			if c.StructuralKey() == key {
				return fmt.Errorf("constraint already exists")
			}
		}
		t.Constraints = append(t.Constraints, *op.Constraint)

	case DropConstraint:
		key := op.Constraint.StructuralKey()
		for i := range t.Constraints {
			if t.Constraints[i].StructuralKey() == key {
				t.Constraints = append(t.Constraints[:i], t.Constraints[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("constraint not found")

	case AddIndex:
		key := op.Index.StructuralKey()
		for _, ix := range t.Indexes {
			if ix.StructuralKey() == key {
				return fmt.Errorf("index already exists")
			}
		}
		t.Indexes = append(t.Indexes, *op.Index)

	case DropIndex:
		key := op.Index.StructuralKey()
		for i := range t.Indexes {
			if t.Indexes[i].StructuralKey() == key {
				t.Indexes = append(t.Indexes[:i], t.Indexes[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("index not found")

	default:
		return fmt.Errorf("unsupported operation type %s", op.Type)
	}
	return nil
}

func cloneModel(m *schema.Model) *schema.Model {
	out := &schema.Model{}
	for _, e := range m.Enums {
		out.Enums = append(out.Enums, schema.Enum{
			Name:   e.Name,
			Values: append([]string(nil), e.Values...),
		})
	}
	for _, t := range m.Tables {
		ct := schema.Table{Name: t.Name, PrevName: t.PrevName}
		ct.Columns = append([]schema.Column(nil), t.Columns...)
		ct.Constraints = append([]schema.Constraint(nil), t.Constraints...)
		ct.Indexes = append([]schema.Index(nil), t.Indexes...)
		out.Tables = append(out.Tables, ct)
	}
	return out
}
