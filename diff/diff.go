package diff

import (
	"github.com/schemaplan/schemaplan/schema"
)

// Diff compares two schema models and returns the operations that turn
// old into new. Both inputs are validated first; Diff never produces
// partial output on malformed input.
//
// Operations come out in dependency order: drops of constraints and
// indexes first, then column drops, then table drops, then renames, then
// table creates, then column adds and alters, then constraint and index
// adds. Nothing ever references a table or column before it exists, and
// nothing drops a dependency while something still references it. A new
// table's primary key is the one exception to the trailing adds: it rides
// inside the create, keeping every intermediate model valid.
//
// Renames are never guessed. A table or column is renamed only when the
// new model carries an explicit prev_name annotation; without one the
// change diffs as a drop plus an add, which is data-destructive on
// purpose.
func Diff(old, new *schema.Model) ([]Operation, error) {
	if err := schema.Validate(old); err != nil {
		return nil, err
	}
	if err := schema.Validate(new); err != nil {
		return nil, err
	}

	var b buckets

	consumed := map[string]bool{}
	for i := range new.Tables {
		newT := &new.Tables[i]
		oldT := old.Table(newT.Name)
		if oldT == nil && newT.PrevName != "" {
			if prev := old.Table(newT.PrevName); prev != nil {
				oldT = prev
				b.renames = append(b.renames, Operation{
					Type:         RenameTable,
					TableName:    prev.Name,
					NewTableName: newT.Name,
				})
			}
		}
		if oldT == nil {
			createTable(newT, &b)
			continue
		}
		consumed[oldT.Name] = true
		diffTable(oldT, newT, &b)
	}

	for i := range old.Tables {
		oldT := &old.Tables[i]
		if consumed[oldT.Name] || new.Table(oldT.Name) != nil {
			continue
		}
		def := *oldT
		b.dropTables = append(b.dropTables, Operation{
			Type:      DropTable,
			TableName: oldT.Name,
			TableDef:  &def,
		})
	}

	return b.ordered(), nil
}

// buckets holds operations grouped by dependency phase. Emission order of
// the phases is the ordering contract documented on Diff.
type buckets struct {
	dropDeps   []Operation // DropConstraint, DropIndex
	dropCols   []Operation
	dropTables []Operation
	renames    []Operation
	creates    []Operation
	colChanges []Operation // AddColumn, AlterColumnType, AlterColumnNullability
	addDeps    []Operation // AddConstraint, AddIndex
}

func (b *buckets) ordered() []Operation {
	var ops []Operation
	ops = append(ops, b.dropDeps...)
	ops = append(ops, b.dropCols...)
	ops = append(ops, b.dropTables...)
	ops = append(ops, b.renames...)
	ops = append(ops, b.creates...)
	ops = append(ops, b.colChanges...)
	ops = append(ops, b.addDeps...)
	return ops
}

func createTable(t *schema.Table, b *buckets) {
	def := schema.Table{Name: t.Name, Columns: append([]schema.Column(nil), t.Columns...)}
	for i := range t.Constraints {
		c := t.Constraints[i]
		// The primary key travels inside the create. Every table must have
		// one, so splitting it off would leave any partially applied plan
		// replaying to an invalid model and wedge replanning until the
		// remaining units run.
		if c.Kind == schema.PrimaryKey {
			def.Constraints = append(def.Constraints, c)
			continue
		}
		b.addDeps = append(b.addDeps, Operation{
			Type:       AddConstraint,
			TableName:  t.Name,
			Constraint: &c,
		})
	}
	b.creates = append(b.creates, Operation{
		Type:      CreateTable,
		TableName: t.Name,
		TableDef:  &def,
	})
	for i := range t.Indexes {
		ix := t.Indexes[i]
		b.addDeps = append(b.addDeps, Operation{
			Type:      AddIndex,
			TableName: t.Name,
			Index:     &ix,
		})
	}
}

// diffTable emits the operations for a table present in both models.
// Drops execute before any rename, so they reference the old table name;
// everything after the rename references the new one.
func diffTable(oldT, newT *schema.Table, b *buckets) {
	diffColumns(oldT, newT, b)
	diffConstraints(oldT, newT, b)
	diffIndexes(oldT, newT, b)
}

func diffColumns(oldT, newT *schema.Table, b *buckets) {
	consumed := map[string]bool{}
	for i := range newT.Columns {
		newC := &newT.Columns[i]
		oldC := oldT.Column(newC.Name)
		if oldC == nil && newC.PrevName != "" {
			if prev := oldT.Column(newC.PrevName); prev != nil {
				oldC = prev
				b.renames = append(b.renames, Operation{
					Type:          RenameColumn,
					TableName:     newT.Name,
					ColumnName:    prev.Name,
					NewColumnName: newC.Name,
				})
			}
		}
		if oldC == nil {
			col := *newC
			b.colChanges = append(b.colChanges, Operation{
				Type:      AddColumn,
				TableName: newT.Name,
				Column:    &col,
			})
			continue
		}
		consumed[oldC.Name] = true
		diffColumn(newT.Name, oldC, newC, b)
	}

	for i := range oldT.Columns {
		oldC := &oldT.Columns[i]
		if consumed[oldC.Name] || newT.Column(oldC.Name) != nil {
			continue
		}
		col := *oldC
		b.dropCols = append(b.dropCols, Operation{
			Type:       DropColumn,
			TableName:  oldT.Name,
			ColumnName: oldC.Name,
			OldColumn:  &col,
		})
	}
}

// diffColumn emits separate operations for type-level and nullability
// changes so risk classification and partial application stay granular.
// A default or generated change with an unchanged type still rides
// AlterColumnType, since the operation carries the full new definition.
func diffColumn(table string, oldC, newC *schema.Column, b *buckets) {
	oldCopy, newCopy := *oldC, *newC

	typeChanged := oldC.Type != newC.Type ||
		oldC.EnumRef != newC.EnumRef ||
		!equalStrings(oldC.EnumValues, newC.EnumValues) ||
		oldC.Generated != newC.Generated ||
		!equalDefault(oldC.Default, newC.Default)
	if typeChanged {
		b.colChanges = append(b.colChanges, Operation{
			Type:       AlterColumnType,
			TableName:  table,
			ColumnName: newC.Name,
			Column:     &newCopy,
			OldColumn:  &oldCopy,
		})
	}
	if oldC.Nullable != newC.Nullable {
		b.colChanges = append(b.colChanges, Operation{
			Type:       AlterColumnNullability,
			TableName:  table,
			ColumnName: newC.Name,
			Column:     &newCopy,
			OldColumn:  &oldCopy,
		})
	}
}

func equalDefault(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Constraints compare by structure, never by name: a changed constraint
// is a drop of the old one plus an add of the new one.
func diffConstraints(oldT, newT *schema.Table, b *buckets) {
	oldKeys := map[string]schema.Constraint{}
	for _, c := range oldT.Constraints {
		oldKeys[c.StructuralKey()] = c
	}
	newKeys := map[string]bool{}
	for _, c := range newT.Constraints {
		newKeys[c.StructuralKey()] = true
	}

	for i := range oldT.Constraints {
		c := oldT.Constraints[i]
		if !newKeys[c.StructuralKey()] {
			b.dropDeps = append(b.dropDeps, Operation{
				Type:       DropConstraint,
				TableName:  oldT.Name,
				Constraint: &c,
			})
		}
	}
	for i := range newT.Constraints {
		c := newT.Constraints[i]
		if _, ok := oldKeys[c.StructuralKey()]; !ok {
			b.addDeps = append(b.addDeps, Operation{
				Type:       AddConstraint,
				TableName:  newT.Name,
				Constraint: &c,
			})
		}
	}
}

func diffIndexes(oldT, newT *schema.Table, b *buckets) {
	oldKeys := map[string]schema.Index{}
	for _, ix := range oldT.Indexes {
		oldKeys[ix.StructuralKey()] = ix
	}
	newKeys := map[string]bool{}
	for _, ix := range newT.Indexes {
		newKeys[ix.StructuralKey()] = true
	}

	for i := range oldT.Indexes {
		ix := oldT.Indexes[i]
		if !newKeys[ix.StructuralKey()] {
			b.dropDeps = append(b.dropDeps, Operation{
				Type:      DropIndex,
				TableName: oldT.Name,
				Index:     &ix,
			})
		}
	}
	for i := range newT.Indexes {
		ix := newT.Indexes[i]
		if _, ok := oldKeys[ix.StructuralKey()]; !ok {
			b.addDeps = append(b.addDeps, Operation{
				Type:      AddIndex,
				TableName: newT.Name,
				Index:     &ix,
			})
		}
	}
}
