package schema

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Serialize renders the model to its canonical textual form: tables in
// name order, columns in declared order, constraints and indexes in
// structural-key order. Two structurally identical models always produce
// byte-identical output, which is what drift comparison relies on.
// Constraint and index names are identity-free labels and are omitted, as
// are rename annotations: both are authoring input, not schema structure.
func Serialize(m *Model) []byte {
	// Model-level enums are authoring sugar; their values live inline on
	// the columns after validation, so the canonical form has no separate
	// enums section. A model reconstructed from change operations then
	// serializes identically to the parsed source it came from.
	wf := wireFile{}

	tables := append([]Table(nil), m.Tables...)
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })
	for _, t := range tables {
		wf.Tables = append(wf.Tables, serializeTable(t))
	}

	out, err := yaml.Marshal(&wf)
	if err != nil {
		// The wire structs contain nothing yaml.Marshal can reject.
		panic(fmt.Sprintf("schema: marshal canonical form: %v", err))
	}
	return out
}

func serializeTable(t Table) wireTable {
	wt := wireTable{Name: t.Name}

	for _, c := range t.Columns {
		wt.Columns = append(wt.Columns, wireColumn{
			Name:       c.Name,
			Type:       string(c.Type),
			EnumRef:    c.EnumRef,
			EnumValues: c.EnumValues,
			Nullable:   c.Nullable,
			Default:    c.Default,
			Generated:  c.Generated,
		})
	}

	cons := append([]Constraint(nil), t.Constraints...)
	sort.Slice(cons, func(i, j int) bool {
		return constraintKey(cons[i]) < constraintKey(cons[j])
	})
	for _, c := range cons {
		wc := wireConstraint{
			Kind:    string(c.Kind),
			Columns: c.Columns,
			Check:   c.CheckExpr,
		}
		if c.Kind == ForeignKey {
			wc.References = &wireReference{Table: c.RefTable, Columns: c.RefColumns}
			// An unspecified on-delete policy and an explicit no-action are
			// the same constraint; the canonical form spells both out.
			onDelete := c.OnDelete
			if onDelete == "" {
				onDelete = NoAction
			}
			wc.OnDelete = string(onDelete)
		}
		wt.Constraints = append(wt.Constraints, wc)
	}

	idxs := append([]Index(nil), t.Indexes...)
	sort.Slice(idxs, func(i, j int) bool {
		return indexKey(idxs[i]) < indexKey(idxs[j])
	})
	for _, ix := range idxs {
		wt.Indexes = append(wt.Indexes, wireIndex{
			Columns: ix.Columns,
			Unique:  ix.Unique,
			Where:   ix.Where,
		})
	}
	return wt
}

// constraintKey orders constraints by structure, not name, so renaming a
// constraint does not move it in the canonical form.
func constraintKey(c Constraint) string {
	return c.StructuralKey()
}

func indexKey(ix Index) string {
	return ix.StructuralKey()
}
