package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schemaplan/schemaplan/diff"
	"github.com/schemaplan/schemaplan/risk"
	"github.com/schemaplan/schemaplan/schema"
)

func addNullableColumn(table, name string) diff.Operation {
	return diff.Operation{
		Type:      diff.AddColumn,
		TableName: table,
		Column:    &schema.Column{Name: name, Type: schema.TypeText, Nullable: true},
	}
}

func addRequiredColumn(table, name string) diff.Operation {
	return diff.Operation{
		Type:      diff.AddColumn,
		TableName: table,
		Column:    &schema.Column{Name: name, Type: schema.TypeText},
	}
}

func addIndex(table string, cols ...string) diff.Operation {
	return diff.Operation{
		Type:      diff.AddIndex,
		TableName: table,
		Index:     &schema.Index{Columns: cols},
	}
}

func TestBuild_Empty(t *testing.T) {
	units, err := Build(nil, Options{})
	require.NoError(t, err)
	assert.Empty(t, units)
}

func TestBuild_SingleUnit(t *testing.T) {
	ops := []diff.Operation{
		addNullableColumn("users", "bio"),
		addIndex("users", "email"),
	}

	units, err := Build(ops, Options{})
	require.NoError(t, err)

	require.Len(t, units, 1)
	u := units[0]
	assert.Equal(t, 1, u.Sequence)
	assert.Equal(t, PhaseNone, u.Phase)
	assert.Len(t, u.Operations, 2)
	assert.NotEmpty(t, u.Checksum)
	assert.False(t, u.IsBackfillMarker())
	assert.Contains(t, u.ID(), "0001_")
}

func TestBuild_StartSequence(t *testing.T) {
	units, err := Build([]diff.Operation{addNullableColumn("users", "bio")}, Options{StartSequence: 7})
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, 7, units[0].Sequence)
	assert.Contains(t, units[0].ID(), "0007_")
}

func TestBuild_PhasedRequiresClassifier(t *testing.T) {
	_, err := Build([]diff.Operation{addNullableColumn("users", "bio")}, Options{Phased: true})
	assert.Error(t, err)
}

func TestBuild_PhasedSplitsRequiredColumn(t *testing.T) {
	ops := []diff.Operation{
		addNullableColumn("users", "bio"),
		addRequiredColumn("users", "tenant"),
		addIndex("users", "tenant"),
	}

	units, err := Build(ops, Options{Phased: true, Classifier: risk.NewClassifier(nil)})
	require.NoError(t, err)

	require.Len(t, units, 3)
	expand, marker, contract := units[0], units[1], units[2]

	assert.Equal(t, PhaseExpand, expand.Phase)
	require.Len(t, expand.Operations, 2)
	// The required column goes in relaxed: nullable until backfilled.
	relaxed := expand.Operations[1]
	assert.Equal(t, diff.AddColumn, relaxed.Type)
	assert.Equal(t, "tenant", relaxed.Column.Name)
	assert.True(t, relaxed.Column.Nullable)

	assert.Equal(t, PhaseBackfill, marker.Phase)
	assert.True(t, marker.IsBackfillMarker())
	assert.Empty(t, marker.Operations)
	assert.NotEmpty(t, marker.Checksum)

	assert.Equal(t, PhaseContract, contract.Phase)
	require.Len(t, contract.Operations, 2)
	tighten := contract.Operations[0]
	assert.Equal(t, diff.AlterColumnNullability, tighten.Type)
	assert.Equal(t, "tenant", tighten.ColumnName)
	assert.False(t, tighten.Column.Nullable)
	// Trailing safe operations join the contract unit; nothing reorders.
	assert.Equal(t, diff.AddIndex, contract.Operations[1].Type)

	for i, u := range units {
		assert.Equal(t, i+1, u.Sequence)
	}
}

func TestBuild_PhasedContractOnly(t *testing.T) {
	// Tightening an existing column: there is nothing to expand, so the
	// plan is just the marker and the contract step.
	tighten := diff.Operation{
		Type:       diff.AlterColumnNullability,
		TableName:  "users",
		ColumnName: "email",
		OldColumn:  &schema.Column{Name: "email", Type: schema.TypeText, Nullable: true},
		Column:     &schema.Column{Name: "email", Type: schema.TypeText},
	}

	units, err := Build([]diff.Operation{tighten}, Options{Phased: true, Classifier: risk.NewClassifier(nil)})
	require.NoError(t, err)

	require.Len(t, units, 2)
	assert.Equal(t, PhaseBackfill, units[0].Phase)
	assert.Equal(t, PhaseContract, units[1].Phase)
	require.Len(t, units[1].Operations, 1)
	assert.Equal(t, diff.AlterColumnNullability, units[1].Operations[0].Type)
}

func TestBuild_PhasedAllSafe(t *testing.T) {
	ops := []diff.Operation{
		addNullableColumn("users", "bio"),
		addIndex("users", "bio"),
	}
	units, err := Build(ops, Options{Phased: true, Classifier: risk.NewClassifier(nil)})
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Len(t, units[0].Operations, 2)
}

func TestBuild_PhasedPreservesOperationOrder(t *testing.T) {
	ops := []diff.Operation{
		addNullableColumn("users", "a"),
		addRequiredColumn("users", "b"),
		addNullableColumn("users", "c"),
		addRequiredColumn("users", "d"),
		addIndex("users", "a"),
	}

	units, err := Build(ops, Options{Phased: true, Classifier: risk.NewClassifier(nil)})
	require.NoError(t, err)

	// Each backfill point gets its own expand/marker/contract run; the
	// second point's expand never shares a unit with the first contract.
	var phases []Phase
	for _, u := range units {
		phases = append(phases, u.Phase)
	}
	assert.Equal(t, []Phase{
		PhaseExpand, PhaseBackfill, PhaseContract,
		PhaseExpand, PhaseBackfill, PhaseContract,
	}, phases)

	// Concatenating the non-marker units must replay the input sequence
	// with expand-form substitutions in place.
	var replay []string
	for _, u := range units {
		for _, op := range u.Operations {
			name := op.ColumnName
			if op.Column != nil {
				name = op.Column.Name
			}
			replay = append(replay, string(op.Type)+":"+name)
		}
	}
	assert.Equal(t, []string{
		"ADD_COLUMN:a",
		"ADD_COLUMN:b", // relaxed
		"ALTER_COLUMN_NULLABILITY:b",
		"ADD_COLUMN:c",
		"ADD_COLUMN:d", // relaxed
		"ALTER_COLUMN_NULLABILITY:d",
		"ADD_INDEX:",
	}, replay)
}

func TestBuild_PhasedReplanWhileBackfillPending(t *testing.T) {
	users := schema.Table{
		Name: "users",
		Columns: []schema.Column{
			{Name: "id", Type: schema.TypeInteger, Generated: true},
			{Name: "email", Type: schema.TypeText},
		},
		Constraints: []schema.Constraint{{Kind: schema.PrimaryKey, Columns: []string{"id"}}},
	}
	old := &schema.Model{Tables: []schema.Table{users}}

	updated := users
	updated.Columns = append([]schema.Column(nil), users.Columns...)
	updated.Columns = append(updated.Columns, schema.Column{Name: "tenant", Type: schema.TypeText})
	audit := schema.Table{
		Name: "audit",
		Columns: []schema.Column{
			{Name: "id", Type: schema.TypeBigint, Generated: true},
			{Name: "user_id", Type: schema.TypeInteger},
		},
		Constraints: []schema.Constraint{
			{Kind: schema.PrimaryKey, Columns: []string{"id"}},
			{Kind: schema.ForeignKey, Columns: []string{"user_id"},
				RefTable: "users", RefColumns: []string{"id"}},
		},
	}
	desired := &schema.Model{Tables: []schema.Table{updated, audit}}

	ops, err := diff.Diff(old, desired)
	require.NoError(t, err)

	units, err := Build(ops, Options{Phased: true, Classifier: risk.NewClassifier(nil), Context: desired})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(units), 3)
	require.Equal(t, PhaseExpand, units[0].Phase)

	// Only the expand unit has run so far. Replanning from that
	// intermediate model must work: the new table already carries its
	// primary key, so the baseline stays valid while the backfill is
	// pending and the contract unit can still be planned and applied.
	mid, err := diff.Apply(old, units[0].Operations)
	require.NoError(t, err)

	remaining, err := diff.Diff(mid, desired)
	require.NoError(t, err)
	require.NotEmpty(t, remaining)

	var types []diff.OperationType
	for _, op := range remaining {
		types = append(types, op.Type)
	}
	assert.Contains(t, types, diff.AlterColumnNullability)
	assert.Contains(t, types, diff.AddConstraint)
	assert.NotContains(t, types, diff.CreateTable)
}

func TestChecksumOps_Deterministic(t *testing.T) {
	ops := []diff.Operation{addNullableColumn("users", "bio")}

	first := ChecksumOps(PhaseNone, ops)
	second := ChecksumOps(PhaseNone, ops)
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)

	// Phase participates; a structurally different op list diverges.
	assert.NotEqual(t, first, ChecksumOps(PhaseExpand, ops))
	assert.NotEqual(t, first, ChecksumOps(PhaseNone, []diff.Operation{addNullableColumn("users", "nick")}))
}

func TestBuild_ChecksumIgnoresSequence(t *testing.T) {
	ops := []diff.Operation{addNullableColumn("users", "bio")}

	a, err := Build(ops, Options{StartSequence: 1})
	require.NoError(t, err)
	b, err := Build(ops, Options{StartSequence: 42})
	require.NoError(t, err)

	// A replan numbering the same work differently still produces the same
	// identity, which is what lets history recognize it as applied.
	assert.Equal(t, a[0].Checksum, b[0].Checksum)
	assert.NotEqual(t, a[0].ID(), b[0].ID())
}

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"add column users.bio (text)", "add_column_users_bio_text"},
		{"Drop Table users", "drop_table_users"},
		{"--weird--", "weird"},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, slug(test.in))
	}
}
