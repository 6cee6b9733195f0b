package schema

// Validate checks a model's internal consistency. Parse calls it on every
// model it produces; callers constructing models programmatically should
// call it themselves before diffing. Enum-typed columns that name a
// model-level enum get their value list resolved in place.
func Validate(m *Model) error {
	enumNames := map[string]bool{}
	for _, e := range m.Enums {
		if enumNames[e.Name] {
			return semanticf("duplicate enum %q", e.Name)
		}
		enumNames[e.Name] = true
		if len(e.Values) == 0 {
			return semanticf("enum %q has no values", e.Name)
		}
	}

	tableNames := map[string]bool{}
	for _, t := range m.Tables {
		if tableNames[t.Name] {
			return semanticf("duplicate table %q", t.Name)
		}
		tableNames[t.Name] = true
	}

	for i := range m.Tables {
		if err := validateTable(m, &m.Tables[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateTable(m *Model, t *Table) error {
	if len(t.Columns) == 0 {
		return semanticf("table %q has no columns", t.Name)
	}

	colNames := map[string]bool{}
	for i := range t.Columns {
		c := &t.Columns[i]
		if colNames[c.Name] {
			return semanticf("table %q has duplicate column %q", t.Name, c.Name)
		}
		colNames[c.Name] = true

		if c.Type == TypeEnum {
			if c.EnumRef == "" {
				return semanticf("column %s.%s is enum-typed but names no enum", t.Name, c.Name)
			}
			if len(c.EnumValues) == 0 {
				e := m.Enum(c.EnumRef)
				if e == nil {
					return semanticf("column %s.%s references nonexistent enum %q", t.Name, c.Name, c.EnumRef)
				}
				c.EnumValues = append([]string(nil), e.Values...)
			}
		} else if c.EnumRef != "" {
			return semanticf("column %s.%s names enum %q but is not enum-typed", t.Name, c.Name, c.EnumRef)
		}
	}

	pkCount := 0
	for _, c := range t.Constraints {
		if c.Kind == PrimaryKey {
			pkCount++
		}
		if err := validateConstraint(m, t, c, colNames); err != nil {
			return err
		}
	}
	if pkCount == 0 {
		return semanticf("table %q has no primary key", t.Name)
	}
	if pkCount > 1 {
		return semanticf("table %q has %d primary keys", t.Name, pkCount)
	}

	for _, ix := range t.Indexes {
		if len(ix.Columns) == 0 {
			return semanticf("table %q has an index with no columns", t.Name)
		}
		for _, col := range ix.Columns {
			if !colNames[col] {
				return semanticf("index on table %q references nonexistent column %q", t.Name, col)
			}
		}
	}
	return nil
}

func validateConstraint(m *Model, t *Table, c Constraint, colNames map[string]bool) error {
	switch c.Kind {
	case Check:
		if c.CheckExpr == "" {
			return semanticf("check constraint on table %q has no expression", t.Name)
		}
		return nil
	case PrimaryKey, Unique, ForeignKey:
		if len(c.Columns) == 0 {
			return semanticf("%s constraint on table %q has no columns", c.Kind, t.Name)
		}
	}
	for _, col := range c.Columns {
		if !colNames[col] {
			return semanticf("%s constraint on table %q references nonexistent column %q", c.Kind, t.Name, col)
		}
	}

	if c.Kind == ForeignKey {
		ref := m.Table(c.RefTable)
		if ref == nil {
			return semanticf("foreign key on table %q references nonexistent table %q", t.Name, c.RefTable)
		}
		if len(c.RefColumns) != len(c.Columns) {
			return semanticf("foreign key on table %q has %d columns but references %d", t.Name, len(c.Columns), len(c.RefColumns))
		}
		for _, col := range c.RefColumns {
			if ref.Column(col) == nil {
				return semanticf("foreign key on table %q references nonexistent column %s.%s", t.Name, c.RefTable, col)
			}
		}
	}
	return nil
}
