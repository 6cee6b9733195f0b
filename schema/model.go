package schema

import (
	"fmt"
	"strings"
)

// ColumnType is the closed set of scalar types a column may carry.
type ColumnType string

const (
	TypeInteger   ColumnType = "integer"
	TypeBigint    ColumnType = "bigint"
	TypeFloat     ColumnType = "float"
	TypeBoolean   ColumnType = "boolean"
	TypeText      ColumnType = "text"
	TypeTimestamp ColumnType = "timestamp"
	TypeUUID      ColumnType = "uuid"
	TypeJSON      ColumnType = "json"
	TypeEnum      ColumnType = "enum"
)

// ColumnTypes lists every valid ColumnType, in canonical order.
var ColumnTypes = []ColumnType{
	TypeInteger, TypeBigint, TypeFloat, TypeBoolean,
	TypeText, TypeTimestamp, TypeUUID, TypeJSON, TypeEnum,
}

// ConstraintKind discriminates Constraint variants.
type ConstraintKind string

const (
	PrimaryKey ConstraintKind = "primary-key"
	Unique     ConstraintKind = "unique"
	ForeignKey ConstraintKind = "foreign-key"
	Check      ConstraintKind = "check"
)

// ReferentialAction is a foreign key's on-delete policy.
type ReferentialAction string

const (
	Restrict ReferentialAction = "restrict"
	Cascade  ReferentialAction = "cascade"
	SetNull  ReferentialAction = "set-null"
	NoAction ReferentialAction = "no-action"
)

// Model is the in-memory representation of a desired database schema.
// Table names are unique and case-sensitive.
type Model struct {
	Enums  []Enum
	Tables []Table
}

type Enum struct {
	Name   string
	Values []string
}

// Table holds one table's columns, constraints and indexes. PrevName is
// the explicit rename annotation: when set, the differ emits a rename
// instead of a drop+add pair.
type Table struct {
	Name        string
	PrevName    string
	Columns     []Column
	Constraints []Constraint
	Indexes     []Index
}

// Column is one column definition. Enum-typed columns carry both the enum
// name (EnumRef) and its resolved values, so a column definition is
// self-contained: change operations and DDL generation never need to look
// the enum up again.
type Column struct {
	Name       string
	PrevName   string
	Type       ColumnType
	EnumRef    string
	EnumValues []string
	Nullable   bool
	Default    *string
	Generated  bool
}

// Constraint covers primary-key, unique, foreign-key and check kinds in
// one struct; the referencing fields are only set for the kind that uses
// them. Name may be empty, in which case DefaultConstraintName applies.
type Constraint struct {
	Kind       ConstraintKind
	Name       string
	Columns    []string
	RefTable   string
	RefColumns []string
	OnDelete   ReferentialAction
	CheckExpr  string
}

type Index struct {
	Name    string
	Columns []string
	Unique  bool
	Where   string
}

// Table returns the named table, or nil.
func (m *Model) Table(name string) *Table {
	for i := range m.Tables {
		if m.Tables[i].Name == name {
			return &m.Tables[i]
		}
	}
	return nil
}

// Enum returns the named enum, or nil.
func (m *Model) Enum(name string) *Enum {
	for i := range m.Enums {
		if m.Enums[i].Name == name {
			return &m.Enums[i]
		}
	}
	return nil
}

// Column returns the named column, or nil.
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// PrimaryKeyConstraint returns the table's primary key constraint, or nil.
// Validation guarantees exactly one on any parsed model.
func (t *Table) PrimaryKeyConstraint() *Constraint {
	for i := range t.Constraints {
		if t.Constraints[i].Kind == PrimaryKey {
			return &t.Constraints[i]
		}
	}
	return nil
}

// StructuralKey identifies a constraint by what it does rather than what
// it is called. Constraints with equal keys are the same constraint; names
// are often auto-generated and never participate in comparison.
func (c Constraint) StructuralKey() string {
	return strings.Join([]string{
		string(c.Kind),
		strings.Join(c.Columns, ","),
		c.RefTable,
		strings.Join(c.RefColumns, ","),
		string(c.OnDelete),
		c.CheckExpr,
	}, "|")
}

// StructuralKey identifies an index by column list, uniqueness and partial
// predicate, ignoring its name.
func (ix Index) StructuralKey() string {
	return strings.Join([]string{
		strings.Join(ix.Columns, ","),
		fmt.Sprintf("%t", ix.Unique),
		ix.Where,
	}, "|")
}

// DefaultConstraintName is the name used for a constraint authored without
// one. It is derived from structure only, so the same constraint always
// gets the same name.
func DefaultConstraintName(table string, c Constraint) string {
	switch c.Kind {
	case PrimaryKey:
		return fmt.Sprintf("pk_%s", table)
	case ForeignKey:
		return fmt.Sprintf("fk_%s_%s", table, strings.Join(c.Columns, "_"))
	case Check:
		return fmt.Sprintf("ck_%s", table)
	default:
		return fmt.Sprintf("uq_%s_%s", table, strings.Join(c.Columns, "_"))
	}
}

// DefaultIndexName is the name used for an index authored without one.
func DefaultIndexName(table string, ix Index) string {
	return fmt.Sprintf("idx_%s_%s", table, strings.Join(ix.Columns, "_"))
}

func validColumnType(t ColumnType) bool {
	for _, v := range ColumnTypes {
		if t == v {
			return true
		}
	}
	return false
}

func validReferentialAction(a ReferentialAction) bool {
	switch a {
	case Restrict, Cascade, SetNull, NoAction:
		return true
	}
	return false
}
