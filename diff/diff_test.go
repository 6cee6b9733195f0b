package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schemaplan/schemaplan/schema"
)

func usersTable() schema.Table {
	return schema.Table{
		Name: "users",
		Columns: []schema.Column{
			{Name: "id", Type: schema.TypeInteger, Generated: true},
			{Name: "email", Type: schema.TypeText},
		},
		Constraints: []schema.Constraint{
			{Kind: schema.PrimaryKey, Columns: []string{"id"}},
		},
	}
}

func model(tables ...schema.Table) *schema.Model {
	return &schema.Model{Tables: tables}
}

func opTypes(ops []Operation) []OperationType {
	var out []OperationType
	for _, op := range ops {
		out = append(out, op.Type)
	}
	return out
}

func TestDiff_Identical(t *testing.T) {
	ops, err := Diff(model(usersTable()), model(usersTable()))
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestDiff_AddColumn(t *testing.T) {
	old := model(usersTable())

	updated := usersTable()
	updated.Columns = append(updated.Columns, schema.Column{
		Name: "nickname", Type: schema.TypeText, Nullable: true,
	})
	ops, err := Diff(old, model(updated))
	require.NoError(t, err)

	require.Len(t, ops, 1)
	assert.Equal(t, AddColumn, ops[0].Type)
	assert.Equal(t, "users", ops[0].TableName)
	assert.Equal(t, "nickname", ops[0].Column.Name)
	assert.True(t, ops[0].Column.Nullable)
}

func TestDiff_CreateTable(t *testing.T) {
	posts := schema.Table{
		Name: "posts",
		Columns: []schema.Column{
			{Name: "id", Type: schema.TypeInteger, Generated: true},
			{Name: "author_id", Type: schema.TypeInteger},
		},
		Constraints: []schema.Constraint{
			{Kind: schema.PrimaryKey, Columns: []string{"id"}},
			{Kind: schema.ForeignKey, Columns: []string{"author_id"},
				RefTable: "users", RefColumns: []string{"id"}, OnDelete: schema.Cascade},
		},
		Indexes: []schema.Index{{Columns: []string{"author_id"}}},
	}

	ops, err := Diff(model(usersTable()), model(usersTable(), posts))
	require.NoError(t, err)

	// The create carries the primary key inline; the remaining constraints
	// and indexes come after everything exists.
	assert.Equal(t, []OperationType{CreateTable, AddConstraint, AddIndex}, opTypes(ops))
	assert.Len(t, ops[0].TableDef.Columns, 2)
	require.Len(t, ops[0].TableDef.Constraints, 1)
	assert.Equal(t, schema.PrimaryKey, ops[0].TableDef.Constraints[0].Kind)
	assert.Equal(t, schema.ForeignKey, ops[1].Constraint.Kind)
}

func TestDiff_DropTable(t *testing.T) {
	posts := schema.Table{
		Name:        "posts",
		Columns:     []schema.Column{{Name: "id", Type: schema.TypeInteger}},
		Constraints: []schema.Constraint{{Kind: schema.PrimaryKey, Columns: []string{"id"}}},
	}

	ops, err := Diff(model(usersTable(), posts), model(usersTable()))
	require.NoError(t, err)

	require.Len(t, ops, 1)
	assert.Equal(t, DropTable, ops[0].Type)
	assert.Equal(t, "posts", ops[0].TableName)
	// The dropped definition rides along for audit.
	require.NotNil(t, ops[0].TableDef)
	assert.Equal(t, "posts", ops[0].TableDef.Name)
}

func TestDiff_RenameTable(t *testing.T) {
	renamed := usersTable()
	renamed.Name = "members"
	renamed.PrevName = "users"

	ops, err := Diff(model(usersTable()), model(renamed))
	require.NoError(t, err)

	require.Len(t, ops, 1)
	assert.Equal(t, RenameTable, ops[0].Type)
	assert.Equal(t, "users", ops[0].TableName)
	assert.Equal(t, "members", ops[0].NewTableName)
}

func TestDiff_RenameWithoutAnnotationIsDropAdd(t *testing.T) {
	renamed := usersTable()
	renamed.Name = "members"

	ops, err := Diff(model(usersTable()), model(renamed))
	require.NoError(t, err)

	types := opTypes(ops)
	assert.Contains(t, types, DropTable)
	assert.Contains(t, types, CreateTable)
	assert.NotContains(t, types, RenameTable)
}

func TestDiff_RenameColumn(t *testing.T) {
	updated := usersTable()
	updated.Columns[1] = schema.Column{Name: "address", PrevName: "email", Type: schema.TypeText}

	ops, err := Diff(model(usersTable()), model(updated))
	require.NoError(t, err)

	require.Len(t, ops, 1)
	assert.Equal(t, RenameColumn, ops[0].Type)
	assert.Equal(t, "email", ops[0].ColumnName)
	assert.Equal(t, "address", ops[0].NewColumnName)
}

func TestDiff_DropsOnRenamedTableUseOldName(t *testing.T) {
	old := usersTable()
	old.Indexes = []schema.Index{{Columns: []string{"email"}}}

	renamed := usersTable()
	renamed.Name = "members"
	renamed.PrevName = "users"
	// The index is gone in the new model.

	ops, err := Diff(model(old), model(renamed))
	require.NoError(t, err)

	require.Len(t, ops, 2)
	// The index drop executes before the rename, so it must address the
	// table by the name it still has.
	assert.Equal(t, DropIndex, ops[0].Type)
	assert.Equal(t, "users", ops[0].TableName)
	assert.Equal(t, RenameTable, ops[1].Type)
}

func TestDiff_ColumnChanges(t *testing.T) {
	defaultVal := "0"

	tests := []struct {
		name   string
		mutate func(*schema.Column)
		want   []OperationType
	}{
		{
			name:   "type widened",
			mutate: func(c *schema.Column) { c.Type = schema.TypeBigint },
			want:   []OperationType{AlterColumnType},
		},
		{
			name:   "nullability loosened",
			mutate: func(c *schema.Column) { c.Nullable = true },
			want:   []OperationType{AlterColumnNullability},
		},
		{
			name: "type and nullability together",
			mutate: func(c *schema.Column) {
				c.Type = schema.TypeBigint
				c.Nullable = true
			},
			want: []OperationType{AlterColumnType, AlterColumnNullability},
		},
		{
			name:   "default changed rides type alter",
			mutate: func(c *schema.Column) { c.Default = &defaultVal },
			want:   []OperationType{AlterColumnType},
		},
		{
			name:   "generated toggled rides type alter",
			mutate: func(c *schema.Column) { c.Generated = true },
			want:   []OperationType{AlterColumnType},
		},
		{
			name:   "no change",
			mutate: func(c *schema.Column) {},
			want:   nil,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			updated := usersTable()
			col := updated.Column("email")
			test.mutate(col)

			ops, err := Diff(model(usersTable()), model(updated))
			require.NoError(t, err)
			assert.Equal(t, test.want, opTypes(ops))

			for _, op := range ops {
				require.NotNil(t, op.OldColumn)
				require.NotNil(t, op.Column)
			}
		})
	}
}

func TestDiff_ConstraintChangeIsDropAdd(t *testing.T) {
	old := usersTable()
	old.Constraints = append(old.Constraints, schema.Constraint{
		Kind: schema.Unique, Columns: []string{"email"},
	})

	updated := usersTable()
	updated.Columns = append(updated.Columns, schema.Column{Name: "tenant", Type: schema.TypeText})
	updated.Constraints = append(updated.Constraints, schema.Constraint{
		Kind: schema.Unique, Columns: []string{"tenant", "email"},
	})

	ops, err := Diff(model(old), model(updated))
	require.NoError(t, err)

	assert.Equal(t, []OperationType{DropConstraint, AddColumn, AddConstraint}, opTypes(ops))
	assert.Equal(t, []string{"email"}, ops[0].Constraint.Columns)
	assert.Equal(t, []string{"tenant", "email"}, ops[2].Constraint.Columns)
}

func TestDiff_ConstraintRenameOnlyIsNoop(t *testing.T) {
	old := usersTable()
	old.Constraints = append(old.Constraints, schema.Constraint{
		Kind: schema.Unique, Name: "users_email_key", Columns: []string{"email"},
	})

	updated := usersTable()
	updated.Constraints = append(updated.Constraints, schema.Constraint{
		Kind: schema.Unique, Name: "uq_users_email", Columns: []string{"email"},
	})

	ops, err := Diff(model(old), model(updated))
	require.NoError(t, err)
	assert.Empty(t, ops)
}

// phaseRank maps each operation type to its dependency bucket. Diff must
// emit buckets in ascending rank regardless of input.
func phaseRank(t OperationType) int {
	switch t {
	case DropConstraint, DropIndex:
		return 0
	case DropColumn:
		return 1
	case DropTable:
		return 2
	case RenameTable, RenameColumn:
		return 3
	case CreateTable:
		return 4
	case AddColumn, AlterColumnType, AlterColumnNullability:
		return 5
	default: // AddConstraint, AddIndex
		return 6
	}
}

func TestDiff_Ordering(t *testing.T) {
	old := model(
		usersTable(),
		schema.Table{
			Name: "sessions",
			Columns: []schema.Column{
				{Name: "id", Type: schema.TypeUUID, Generated: true},
				{Name: "token", Type: schema.TypeText},
			},
			Constraints: []schema.Constraint{
				{Kind: schema.PrimaryKey, Columns: []string{"id"}},
				{Kind: schema.Unique, Columns: []string{"token"}},
			},
			Indexes: []schema.Index{{Columns: []string{"token"}}},
		},
	)

	users := usersTable()
	users.Columns = append(users.Columns, schema.Column{Name: "created_at", Type: schema.TypeTimestamp, Generated: true})
	users.Indexes = []schema.Index{{Columns: []string{"email"}, Unique: true}}
	new := model(
		users,
		schema.Table{
			Name: "audit_log",
			Columns: []schema.Column{
				{Name: "id", Type: schema.TypeBigint, Generated: true},
				{Name: "user_id", Type: schema.TypeInteger},
			},
			Constraints: []schema.Constraint{
				{Kind: schema.PrimaryKey, Columns: []string{"id"}},
				{Kind: schema.ForeignKey, Columns: []string{"user_id"},
					RefTable: "users", RefColumns: []string{"id"}},
			},
		},
	)

	ops, err := Diff(old, new)
	require.NoError(t, err)
	require.NotEmpty(t, ops)

	last := -1
	for _, op := range ops {
		rank := phaseRank(op.Type)
		assert.GreaterOrEqual(t, rank, last, "operation %q out of order", op.Describe())
		if rank > last {
			last = rank
		}
	}
}

// Applying a diff to its old model must reproduce the new model exactly,
// by canonical serialization.
func TestDiff_ApplyCompleteness(t *testing.T) {
	old := model(
		usersTable(),
		schema.Table{
			Name: "sessions",
			Columns: []schema.Column{
				{Name: "id", Type: schema.TypeUUID, Generated: true},
			},
			Constraints: []schema.Constraint{{Kind: schema.PrimaryKey, Columns: []string{"id"}}},
		},
	)

	users := usersTable()
	users.Columns[0].Type = schema.TypeBigint
	users.Columns = append(users.Columns, schema.Column{
		Name: "status", Type: schema.TypeEnum, EnumRef: "user_status",
		EnumValues: []string{"active", "banned"},
	})
	users.Indexes = []schema.Index{{Columns: []string{"email"}, Unique: true, Where: "email IS NOT NULL"}}
	new := model(
		users,
		schema.Table{
			Name: "posts",
			Columns: []schema.Column{
				{Name: "id", Type: schema.TypeInteger, Generated: true},
				{Name: "author_id", Type: schema.TypeInteger},
			},
			Constraints: []schema.Constraint{
				{Kind: schema.PrimaryKey, Columns: []string{"id"}},
				{Kind: schema.ForeignKey, Columns: []string{"author_id"},
					RefTable: "users", RefColumns: []string{"id"}, OnDelete: schema.SetNull},
			},
		},
	)

	ops, err := Diff(old, new)
	require.NoError(t, err)

	applied, err := Apply(old, ops)
	require.NoError(t, err)

	assert.Equal(t, string(schema.Serialize(new)), string(schema.Serialize(applied)))
}

func TestApply_RejectsInconsistentOps(t *testing.T) {
	m := model(usersTable())

	tests := []struct {
		name string
		op   Operation
	}{
		{"drop missing table", Operation{Type: DropTable, TableName: "ghosts"}},
		{"add duplicate column", Operation{Type: AddColumn, TableName: "users",
			Column: &schema.Column{Name: "email", Type: schema.TypeText}}},
		{"drop missing column", Operation{Type: DropColumn, TableName: "users", ColumnName: "ghost"}},
		{"rename onto existing column", Operation{Type: RenameColumn, TableName: "users",
			ColumnName: "id", NewColumnName: "email"}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Apply(m, []Operation{test.op})
			assert.Error(t, err)
		})
	}
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	m := model(usersTable())
	_, err := Apply(m, []Operation{{
		Type:      AddColumn,
		TableName: "users",
		Column:    &schema.Column{Name: "extra", Type: schema.TypeText, Nullable: true},
	}})
	require.NoError(t, err)
	assert.Len(t, m.Table("users").Columns, 2)
}
