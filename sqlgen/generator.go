package sqlgen

import (
	"fmt"
	"strings"

	"github.com/schemaplan/schemaplan/diff"
	"github.com/schemaplan/schemaplan/schema"
)

// Statements renders change operations into Postgres DDL, one or more
// statements per operation, in operation order.
func Statements(ops []diff.Operation) ([]string, error) {
	var stmts []string
	for _, op := range ops {
		s, err := forOperation(op)
		if err != nil {
			return nil, fmt.Errorf("generate DDL for %q: %w", op.Describe(), err)
		}
		stmts = append(stmts, s...)
	}
	return stmts, nil
}

func forOperation(op diff.Operation) ([]string, error) {
	switch op.Type {
	case diff.CreateTable:
		return createTable(op)

	case diff.DropTable:
		return []string{fmt.Sprintf(`DROP TABLE IF EXISTS %s;`, ident(op.TableName))}, nil

	case diff.AddColumn:
		var stmts []string
		stmts = append(stmts, ensureEnumType(op.Column)...)
		clause, err := columnClause(*op.Column)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s;`, ident(op.TableName), clause))
		return stmts, nil

	case diff.DropColumn:
		return []string{fmt.Sprintf(`ALTER TABLE %s DROP COLUMN %s;`,
			ident(op.TableName), ident(op.ColumnName))}, nil

	case diff.AlterColumnType:
		return alterColumnType(op)

	case diff.AlterColumnNullability:
		verb := "SET NOT NULL"
		if op.Column.Nullable {
			verb = "DROP NOT NULL"
		}
		return []string{fmt.Sprintf(`ALTER TABLE %s ALTER COLUMN %s %s;`,
			ident(op.TableName), ident(op.ColumnName), verb)}, nil

	case diff.AddConstraint:
		return addConstraint(op)

	case diff.DropConstraint:
		name := op.Constraint.Name
		if name == "" {
			name = schema.DefaultConstraintName(op.TableName, *op.Constraint)
		}
		return []string{fmt.Sprintf(`ALTER TABLE %s DROP CONSTRAINT %s;`,
			ident(op.TableName), ident(name))}, nil

	case diff.AddIndex:
		return []string{createIndex(op.TableName, *op.Index)}, nil

	case diff.DropIndex:
		name := op.Index.Name
		if name == "" {
			name = schema.DefaultIndexName(op.TableName, *op.Index)
		}
		return []string{fmt.Sprintf(`DROP INDEX IF EXISTS %s;`, ident(name))}, nil

	case diff.RenameTable:
		return []string{fmt.Sprintf(`ALTER TABLE %s RENAME TO %s;`,
			ident(op.TableName), ident(op.NewTableName))}, nil

	case diff.RenameColumn:
		return []string{fmt.Sprintf(`ALTER TABLE %s RENAME COLUMN %s TO %s;`,
			ident(op.TableName), ident(op.ColumnName), ident(op.NewColumnName))}, nil
	}
	return nil, fmt.Errorf("unsupported operation type %s", op.Type)
}

func createTable(op diff.Operation) ([]string, error) {
	var stmts []string
	var clauses []string
	for _, c := range op.TableDef.Columns {
		stmts = append(stmts, ensureEnumType(&c)...)
		clause, err := columnClause(c)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, "  "+clause)
	}
	for _, c := range op.TableDef.Constraints {
		name := c.Name
		if name == "" {
			name = schema.DefaultConstraintName(op.TableName, c)
		}
		body, err := constraintBody(c)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, fmt.Sprintf("  CONSTRAINT %s %s", ident(name), body))
	}
	stmts = append(stmts, fmt.Sprintf("CREATE TABLE %s (\n%s\n);",
		ident(op.TableName), strings.Join(clauses, ",\n")))
	return stmts, nil
}

func alterColumnType(op diff.Operation) ([]string, error) {
	var stmts []string
	oldC, newC := op.OldColumn, op.Column

	if newC.Type == schema.TypeEnum && oldC.Type == schema.TypeEnum && newC.EnumRef == oldC.EnumRef {
		// Same enum, new values. Values can only be added.
		known := map[string]bool{}
		for _, v := range oldC.EnumValues {
			known[v] = true
		}
		for _, v := range newC.EnumValues {
			if !known[v] {
				stmts = append(stmts, fmt.Sprintf(`ALTER TYPE %s ADD VALUE IF NOT EXISTS %s;`,
					ident(newC.EnumRef), literal(v)))
			}
		}
	} else if newC.Type != oldC.Type || newC.EnumRef != oldC.EnumRef {
		stmts = append(stmts, ensureEnumType(newC)...)
		typ, err := sqlType(*newC)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, fmt.Sprintf(`ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s;`,
			ident(op.TableName), ident(newC.Name), typ, ident(newC.Name), typ))
	}

	switch {
	case newC.Generated != oldC.Generated:
		gen, err := generatedTransition(op.TableName, *oldC, *newC)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, gen...)
	case newC.Default != nil:
		stmts = append(stmts, fmt.Sprintf(`ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s;`,
			ident(op.TableName), ident(newC.Name), *newC.Default))
	case oldC.Default != nil:
		stmts = append(stmts, fmt.Sprintf(`ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT;`,
			ident(op.TableName), ident(newC.Name)))
	}
	return stmts, nil
}

// generatedTransition renders a column gaining or losing its generated
// form. Identity columns add or drop the identity proper; timestamp and
// uuid columns are generated through their defaults, so the transition
// sets or clears those instead.
func generatedTransition(table string, oldC, newC schema.Column) ([]string, error) {
	col := fmt.Sprintf(`ALTER TABLE %s ALTER COLUMN %s`, ident(table), ident(newC.Name))

	if newC.Generated {
		switch newC.Type {
		case schema.TypeInteger, schema.TypeBigint:
			return []string{col + ` ADD GENERATED BY DEFAULT AS IDENTITY;`}, nil
		case schema.TypeTimestamp:
			return []string{col + ` SET DEFAULT now();`}, nil
		case schema.TypeUUID:
			return []string{col + ` SET DEFAULT gen_random_uuid();`}, nil
		}
		return nil, fmt.Errorf("column %q: type %s cannot be generated", newC.Name, newC.Type)
	}

	switch oldC.Type {
	case schema.TypeInteger, schema.TypeBigint:
		return []string{col + ` DROP IDENTITY IF EXISTS;`}, nil
	}
	if newC.Default != nil {
		return []string{fmt.Sprintf(`%s SET DEFAULT %s;`, col, *newC.Default)}, nil
	}
	return []string{col + ` DROP DEFAULT;`}, nil
}

func addConstraint(op diff.Operation) ([]string, error) {
	c := *op.Constraint
	name := c.Name
	if name == "" {
		name = schema.DefaultConstraintName(op.TableName, c)
	}

	body, err := constraintBody(c)
	if err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf(`ALTER TABLE %s ADD CONSTRAINT %s %s;`,
		ident(op.TableName), ident(name), body)}, nil
}

func constraintBody(c schema.Constraint) (string, error) {
	switch c.Kind {
	case schema.PrimaryKey:
		return fmt.Sprintf("PRIMARY KEY (%s)", identList(c.Columns)), nil
	case schema.Unique:
		return fmt.Sprintf("UNIQUE (%s)", identList(c.Columns)), nil
	case schema.Check:
		return fmt.Sprintf("CHECK (%s)", c.CheckExpr), nil
	case schema.ForeignKey:
		body := fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
			identList(c.Columns), ident(c.RefTable), identList(c.RefColumns))
		if c.OnDelete != "" {
			body += " ON DELETE " + onDelete(c.OnDelete)
		}
		return body, nil
	}
	return "", fmt.Errorf("unsupported constraint kind %s", c.Kind)
}

func createIndex(table string, ix schema.Index) string {
	name := ix.Name
	if name == "" {
		name = schema.DefaultIndexName(table, ix)
	}
	unique := ""
	if ix.Unique {
		unique = "UNIQUE "
	}
	stmt := fmt.Sprintf(`CREATE %sINDEX %s ON %s (%s)`,
		unique, ident(name), ident(table), identList(ix.Columns))
	if ix.Where != "" {
		stmt += " WHERE " + ix.Where
	}
	return stmt + ";"
}

func columnClause(c schema.Column) (string, error) {
	t, err := sqlType(c)
	if err != nil {
		return "", err
	}
	clause := fmt.Sprintf("%s %s", ident(c.Name), t)
	if c.Generated {
		g, err := generatedClause(c)
		if err != nil {
			return "", err
		}
		clause += " " + g
	}
	if !c.Nullable {
		clause += " NOT NULL"
	}
	if c.Default != nil {
		clause += " DEFAULT " + *c.Default
	}
	return clause, nil
}

func generatedClause(c schema.Column) (string, error) {
	switch c.Type {
	case schema.TypeInteger, schema.TypeBigint:
		return "GENERATED BY DEFAULT AS IDENTITY", nil
	case schema.TypeTimestamp:
		return "DEFAULT now()", nil
	case schema.TypeUUID:
		return "DEFAULT gen_random_uuid()", nil
	}
	return "", fmt.Errorf("column %q: type %s cannot be generated", c.Name, c.Type)
}

func sqlType(c schema.Column) (string, error) {
	switch c.Type {
	case schema.TypeInteger:
		return "integer", nil
	case schema.TypeBigint:
		return "bigint", nil
	case schema.TypeFloat:
		return "double precision", nil
	case schema.TypeBoolean:
		return "boolean", nil
	case schema.TypeText:
		return "text", nil
	case schema.TypeTimestamp:
		return "timestamp", nil
	case schema.TypeUUID:
		return "uuid", nil
	case schema.TypeJSON:
		return "jsonb", nil
	case schema.TypeEnum:
		return ident(c.EnumRef), nil
	}
	return "", fmt.Errorf("unknown column type %q", c.Type)
}

// ensureEnumType emits an idempotent CREATE TYPE for an enum column's
// backing type. Enum types ride along with the column DDL that first
// needs them instead of being separate change operations.
func ensureEnumType(c *schema.Column) []string {
	if c.Type != schema.TypeEnum {
		return nil
	}
	vals := make([]string, len(c.EnumValues))
	for i, v := range c.EnumValues {
		vals[i] = literal(v)
	}
	return []string{fmt.Sprintf(
		"DO $$ BEGIN CREATE TYPE %s AS ENUM (%s); EXCEPTION WHEN duplicate_object THEN NULL; END $$;",
		ident(c.EnumRef), strings.Join(vals, ", "))}
}

func onDelete(a schema.ReferentialAction) string {
	switch a {
	case schema.Cascade:
		return "CASCADE"
	case schema.SetNull:
		return "SET NULL"
	case schema.NoAction:
		return "NO ACTION"
	default:
		return "RESTRICT"
	}
}

func ident(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func identList(names []string) string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = ident(n)
	}
	return strings.Join(out, ", ")
}

func literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
