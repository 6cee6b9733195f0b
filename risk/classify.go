package risk

import (
	"github.com/schemaplan/schemaplan/diff"
	"github.com/schemaplan/schemaplan/schema"
)

// Tier grades a change operation's potential for harm. The tier is
// advisory metadata for the planner and the operator; it never blocks an
// operation on its own.
type Tier string

const (
	Safe             Tier = "safe"
	DataLoss         Tier = "data-loss"
	Locking          Tier = "locking"
	RequiresBackfill Tier = "requires-backfill"
)

// RowEstimator reports an approximate row count for a table. The pgx
// executor answers from pg_class.reltuples; tests supply a fixed map.
// A nil estimator means table sizes are unknown and nothing is "large".
type RowEstimator func(table string) (int64, error)

// DefaultLargeTableRows is the row estimate above which index and unique
// constraint builds are graded as locking.
const DefaultLargeTableRows = 100_000

type Classifier struct {
	Estimator      RowEstimator
	LargeTableRows int64
}

func NewClassifier(est RowEstimator) *Classifier {
	return &Classifier{Estimator: est, LargeTableRows: DefaultLargeTableRows}
}

// widenings maps a column type to the types it can widen into without
// losing values. Everything widens to text. Any conversion not listed
// here is graded data-loss.
var widenings = map[schema.ColumnType][]schema.ColumnType{
	schema.TypeInteger:   {schema.TypeBigint, schema.TypeFloat, schema.TypeText},
	schema.TypeBigint:    {schema.TypeText},
	schema.TypeFloat:     {schema.TypeText},
	schema.TypeBoolean:   {schema.TypeText},
	schema.TypeTimestamp: {schema.TypeText},
	schema.TypeUUID:      {schema.TypeText},
	schema.TypeEnum:      {schema.TypeText},
	schema.TypeJSON:      {schema.TypeText},
}

// Classify grades one operation against the model it applies to.
func (cl *Classifier) Classify(op diff.Operation, context *schema.Model) Tier {
	switch op.Type {
	case diff.DropTable, diff.DropColumn:
		return DataLoss

	case diff.AddColumn:
		if op.Column.Nullable || op.Column.Default != nil || op.Column.Generated {
			return Safe
		}
		return RequiresBackfill

	case diff.AlterColumnType:
		return cl.classifyTypeChange(op)

	case diff.AlterColumnNullability:
		if !op.Column.Nullable {
			return RequiresBackfill
		}
		return Safe

	case diff.AddIndex:
		if cl.tableIsLarge(op.TableName) {
			return Locking
		}
		return Safe

	case diff.AddConstraint:
		switch op.Constraint.Kind {
		case schema.Unique, schema.PrimaryKey:
			if cl.tableIsLarge(op.TableName) {
				return Locking
			}
		}
		// Foreign keys and checks validate existing rows but do not
		// rewrite the table.
		return Safe

	case diff.DropConstraint, diff.DropIndex,
		diff.RenameTable, diff.RenameColumn, diff.CreateTable:
		return Safe
	}
	return Safe
}

func (cl *Classifier) classifyTypeChange(op diff.Operation) Tier {
	oldT, newT := op.OldColumn.Type, op.Column.Type
	if oldT == newT {
		if oldT == schema.TypeEnum {
			// Adding enum values is safe; removing one strands rows.
			if !containsAll(op.Column.EnumValues, op.OldColumn.EnumValues) {
				return DataLoss
			}
		}
		// Otherwise a default or generated tweak, metadata only.
		return Safe
	}
	for _, w := range widenings[oldT] {
		if newT == w {
			return Safe
		}
	}
	return DataLoss
}

func containsAll(haystack, needles []string) bool {
	set := map[string]bool{}
	for _, v := range haystack {
		set[v] = true
	}
	for _, v := range needles {
		if !set[v] {
			return false
		}
	}
	return true
}

func (cl *Classifier) tableIsLarge(table string) bool {
	if cl.Estimator == nil {
		return false
	}
	threshold := cl.LargeTableRows
	if threshold <= 0 {
		threshold = DefaultLargeTableRows
	}
	rows, err := cl.Estimator(table)
	if err != nil {
		// Unknown size grades as not large; the tier is advisory.
		return false
	}
	return rows >= threshold
}
