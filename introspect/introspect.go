package introspect

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/schemaplan/schemaplan/history"
	"github.com/schemaplan/schemaplan/schema"
)

// Snapshot reads the live database's actual structure into a schema model.
// It exists for drift detection: the result is compared, via canonical
// serialization, against what the history store reconstructs. Types that
// cannot be expressed in the closed model are a SemanticError rather than
// a silent pass-through.
func Snapshot(ctx context.Context, pool *pgxpool.Pool) (*schema.Model, error) {
	enums, err := loadEnums(ctx, pool)
	if err != nil {
		return nil, err
	}

	names, err := tableNames(ctx, pool)
	if err != nil {
		return nil, err
	}

	model := &schema.Model{}
	for _, name := range names {
		t := schema.Table{Name: name}

		t.Columns, err = loadColumns(ctx, pool, name, enums)
		if err != nil {
			return nil, fmt.Errorf("columns of %s: %w", name, err)
		}
		t.Constraints, err = loadConstraints(ctx, pool, name)
		if err != nil {
			return nil, fmt.Errorf("constraints of %s: %w", name, err)
		}
		t.Indexes, err = loadIndexes(ctx, pool, name)
		if err != nil {
			return nil, fmt.Errorf("indexes of %s: %w", name, err)
		}

		model.Tables = append(model.Tables, t)
	}
	return model, nil
}

func tableNames(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	rows, err := pool.Query(ctx, `
	SELECT table_name
	FROM information_schema.tables
	WHERE table_schema = 'public' AND table_type = 'BASE TABLE' AND table_name <> $1
	ORDER BY table_name;`, history.RecordsTable)
	if err != nil {
		return nil, fmt.Errorf("querying tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scanning table name: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func loadEnums(ctx context.Context, pool *pgxpool.Pool) (map[string][]string, error) {
	rows, err := pool.Query(ctx, `
	SELECT t.typname, e.enumlabel
	FROM pg_type t
	JOIN pg_enum e ON e.enumtypid = t.oid
	ORDER BY t.typname, e.enumsortorder;`)
	if err != nil {
		return nil, fmt.Errorf("querying enums: %w", err)
	}
	defer rows.Close()

	enums := map[string][]string{}
	for rows.Next() {
		var name, label string
		if err := rows.Scan(&name, &label); err != nil {
			return nil, fmt.Errorf("scanning enum: %w", err)
		}
		enums[name] = append(enums[name], label)
	}
	return enums, rows.Err()
}

func loadColumns(ctx context.Context, pool *pgxpool.Pool, table string, enums map[string][]string) ([]schema.Column, error) {
	rows, err := pool.Query(ctx, `
	SELECT c.column_name, c.data_type, c.udt_name,
	       (c.is_nullable = 'YES'), c.column_default, (c.is_identity = 'YES')
	FROM information_schema.columns c
	WHERE c.table_schema = 'public' AND c.table_name = $1
	ORDER BY c.ordinal_position;`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []schema.Column
	for rows.Next() {
		var name, dataType, udtName string
		var nullable, identity bool
		var rawDefault *string
		if err := rows.Scan(&name, &dataType, &udtName, &nullable, &rawDefault, &identity); err != nil {
			return nil, err
		}
		col, err := mapColumn(table, name, dataType, udtName, nullable, rawDefault, identity, enums)
		if err != nil {
			return nil, err
		}
		cols = append(cols, *col)
	}
	return cols, rows.Err()
}

func mapColumn(table, name, dataType, udtName string, nullable bool, rawDefault *string, identity bool, enums map[string][]string) (*schema.Column, error) {
	col := &schema.Column{Name: name, Nullable: nullable, Generated: identity}

	switch dataType {
	case "integer":
		col.Type = schema.TypeInteger
	case "bigint":
		col.Type = schema.TypeBigint
	case "double precision":
		col.Type = schema.TypeFloat
	case "boolean":
		col.Type = schema.TypeBoolean
	case "text":
		col.Type = schema.TypeText
	case "timestamp without time zone":
		col.Type = schema.TypeTimestamp
	case "uuid":
		col.Type = schema.TypeUUID
	case "jsonb":
		col.Type = schema.TypeJSON
	case "USER-DEFINED":
		values, ok := enums[udtName]
		if !ok {
			return nil, &schema.SemanticError{Description: fmt.Sprintf(
				"column %s.%s has user-defined type %q which is not an enum", table, name, udtName)}
		}
		col.Type = schema.TypeEnum
		col.EnumRef = udtName
		col.EnumValues = append([]string(nil), values...)
	default:
		return nil, &schema.SemanticError{Description: fmt.Sprintf(
			"column %s.%s has type %q outside the supported set", table, name, dataType)}
	}

	if rawDefault != nil && !identity {
		def := normalizeDefault(*rawDefault)
		// Generator-style defaults read back as the generated flag, the
		// same way authoring them wrote the DDL.
		switch {
		case def == "now()" && col.Type == schema.TypeTimestamp:
			col.Generated = true
		case def == "gen_random_uuid()" && col.Type == schema.TypeUUID:
			col.Generated = true
		default:
			col.Default = &def
		}
	}
	return col, nil
}

// normalizeDefault strips the cast suffix Postgres appends when echoing
// column defaults, e.g. 'active'::text -> 'active'.
func normalizeDefault(def string) string {
	if i := strings.Index(def, "::"); i > 0 {
		return def[:i]
	}
	return def
}

func loadConstraints(ctx context.Context, pool *pgxpool.Pool, table string) ([]schema.Constraint, error) {
	rows, err := pool.Query(ctx, `
	SELECT con.conname, con.contype,
	       ARRAY(SELECT a.attname FROM unnest(con.conkey) WITH ORDINALITY AS k(attnum, ord)
	             JOIN pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.attnum
	             ORDER BY k.ord),
	       COALESCE(ref.relname, ''),
	       ARRAY(SELECT a.attname FROM unnest(con.confkey) WITH ORDINALITY AS k(attnum, ord)
	             JOIN pg_attribute a ON a.attrelid = con.confrelid AND a.attnum = k.attnum
	             ORDER BY k.ord),
	       con.confdeltype,
	       COALESCE(pg_get_expr(con.conbin, con.conrelid), '')
	FROM pg_constraint con
	JOIN pg_class rel ON rel.oid = con.conrelid
	JOIN pg_namespace ns ON ns.oid = rel.relnamespace
	LEFT JOIN pg_class ref ON ref.oid = con.confrelid
	WHERE ns.nspname = 'public' AND rel.relname = $1 AND con.contype IN ('p', 'u', 'f', 'c')
	ORDER BY con.conname;`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cons []schema.Constraint
	for rows.Next() {
		var name, conType, refTable, delType, checkExpr string
		var columns, refColumns []string
		if err := rows.Scan(&name, &conType, &columns, &refTable, &refColumns, &delType, &checkExpr); err != nil {
			return nil, err
		}

		c := schema.Constraint{Name: name, Columns: columns}
		switch conType {
		case "p":
			c.Kind = schema.PrimaryKey
		case "u":
			c.Kind = schema.Unique
		case "c":
			c.Kind = schema.Check
			c.Columns = nil
			c.CheckExpr = normalizeCheckExpr(checkExpr)
		case "f":
			c.Kind = schema.ForeignKey
			c.RefTable = refTable
			c.RefColumns = refColumns
			c.OnDelete = mapDeleteAction(delType)
		}
		cons = append(cons, c)
	}
	return cons, rows.Err()
}

// normalizeCheckExpr strips the outer parentheses pg_get_expr wraps a
// check expression in, so the snapshot matches how the expression was
// authored.
func normalizeCheckExpr(expr string) string {
	if strings.HasPrefix(expr, "(") && strings.HasSuffix(expr, ")") {
		return expr[1 : len(expr)-1]
	}
	return expr
}

func mapDeleteAction(t string) schema.ReferentialAction {
	switch t {
	case "c":
		return schema.Cascade
	case "n":
		return schema.SetNull
	case "r":
		return schema.Restrict
	case "a":
		return schema.NoAction
	}
	return ""
}

func loadIndexes(ctx context.Context, pool *pgxpool.Pool, table string) ([]schema.Index, error) {
	rows, err := pool.Query(ctx, `
	SELECT ic.relname, ix.indisunique,
	       ARRAY(SELECT a.attname FROM generate_subscripts(ix.indkey, 1) AS s
	             JOIN pg_attribute a ON a.attrelid = ix.indrelid AND a.attnum = ix.indkey[s]
	             WHERE ix.indkey[s] > 0 ORDER BY s),
	       COALESCE(pg_get_expr(ix.indpred, ix.indrelid), '')
	FROM pg_index ix
	JOIN pg_class ic ON ic.oid = ix.indexrelid
	JOIN pg_class tc ON tc.oid = ix.indrelid
	JOIN pg_namespace ns ON ns.oid = tc.relnamespace
	WHERE ns.nspname = 'public' AND tc.relname = $1
	  AND NOT ix.indisprimary
	  AND NOT EXISTS (SELECT 1 FROM pg_constraint cc WHERE cc.conindid = ix.indexrelid)
	ORDER BY ic.relname;`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var idxs []schema.Index
	for rows.Next() {
		var ix schema.Index
		if err := rows.Scan(&ix.Name, &ix.Unique, &ix.Columns, &ix.Where); err != nil {
			return nil, err
		}
		idxs = append(idxs, ix)
	}
	return idxs, rows.Err()
}
