package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// wire structs mirror the schema source format. They are shared with
// serialize.go so that the canonical form and the parser never drift apart.

type wireFile struct {
	Enums  []wireEnum  `yaml:"enums,omitempty"`
	Tables []wireTable `yaml:"tables"`
}

type wireEnum struct {
	Name   string   `yaml:"name"`
	Values []string `yaml:"values"`
}

type wireTable struct {
	Name        string           `yaml:"name"`
	PrevName    string           `yaml:"prev_name,omitempty"`
	Columns     []wireColumn     `yaml:"columns"`
	Constraints []wireConstraint `yaml:"constraints,omitempty"`
	Indexes     []wireIndex      `yaml:"indexes,omitempty"`
}

type wireColumn struct {
	Name       string   `yaml:"name"`
	PrevName   string   `yaml:"prev_name,omitempty"`
	Type       string   `yaml:"type"`
	EnumRef    string   `yaml:"enum,omitempty"`
	EnumValues []string `yaml:"enum_values,omitempty"`
	Nullable   bool     `yaml:"nullable,omitempty"`
	Default    *string  `yaml:"default,omitempty"`
	Generated  bool     `yaml:"generated,omitempty"`
}

type wireConstraint struct {
	Kind       string         `yaml:"kind"`
	Name       string         `yaml:"name,omitempty"`
	Columns    []string       `yaml:"columns,omitempty"`
	References *wireReference `yaml:"references,omitempty"`
	OnDelete   string         `yaml:"on_delete,omitempty"`
	Check      string         `yaml:"check,omitempty"`
}

type wireReference struct {
	Table   string   `yaml:"table"`
	Columns []string `yaml:"columns"`
}

type wireIndex struct {
	Name    string   `yaml:"name,omitempty"`
	Columns []string `yaml:"columns"`
	Unique  bool     `yaml:"unique,omitempty"`
	Where   string   `yaml:"where,omitempty"`
}

var yamlLineRe = regexp.MustCompile(`(?:yaml: )?line (\d+):\s*(.*)`)

// Parse reads schema source text into a Model. Malformed input yields a
// *SyntaxError carrying the position of the offending node; a model that
// parses but violates its own referential integrity yields a *SemanticError.
func Parse(source []byte) (*Model, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(source, &doc); err != nil {
		return nil, syntaxFromYAML(err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, &SyntaxError{Message: "empty schema source"}
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, nodeErr(root, "expected a mapping with a 'tables' key")
	}

	model := &Model{}
	sawTables := false
	for i := 0; i < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		switch key.Value {
		case "enums":
			enums, err := parseEnums(val)
			if err != nil {
				return nil, err
			}
			model.Enums = enums
		case "tables":
			sawTables = true
			tables, err := parseTables(val)
			if err != nil {
				return nil, err
			}
			model.Tables = tables
		default:
			return nil, nodeErr(key, fmt.Sprintf("unknown key %q", key.Value))
		}
	}
	if !sawTables {
		return nil, nodeErr(root, "missing 'tables' key")
	}

	if err := Validate(model); err != nil {
		return nil, err
	}
	return model, nil
}

func parseEnums(node *yaml.Node) ([]Enum, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, nodeErr(node, "'enums' must be a sequence")
	}
	var out []Enum
	for _, n := range node.Content {
		if err := checkFields(n, "name", "values"); err != nil {
			return nil, err
		}
		var we wireEnum
		if err := n.Decode(&we); err != nil {
			return nil, nodeErr(n, err.Error())
		}
		if we.Name == "" {
			return nil, nodeErr(n, "enum is missing a name")
		}
		out = append(out, Enum{Name: we.Name, Values: we.Values})
	}
	return out, nil
}

func parseTables(node *yaml.Node) ([]Table, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, nodeErr(node, "'tables' must be a sequence")
	}
	var out []Table
	for _, n := range node.Content {
		t, err := parseTable(n)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, nil
}

func parseTable(node *yaml.Node) (*Table, error) {
	if node.Kind != yaml.MappingNode {
		return nil, nodeErr(node, "table entry must be a mapping")
	}
	if err := checkFields(node, "name", "prev_name", "columns", "constraints", "indexes"); err != nil {
		return nil, err
	}

	t := &Table{}
	for i := 0; i < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		switch key.Value {
		case "name":
			t.Name = val.Value
		case "prev_name":
			t.PrevName = val.Value
		case "columns":
			if val.Kind != yaml.SequenceNode {
				return nil, nodeErr(val, "'columns' must be a sequence")
			}
			for _, cn := range val.Content {
				col, err := parseColumn(cn)
				if err != nil {
					return nil, err
				}
				t.Columns = append(t.Columns, *col)
			}
		case "constraints":
			if val.Kind != yaml.SequenceNode {
				return nil, nodeErr(val, "'constraints' must be a sequence")
			}
			for _, cn := range val.Content {
				c, err := parseConstraint(cn)
				if err != nil {
					return nil, err
				}
				t.Constraints = append(t.Constraints, *c)
			}
		case "indexes":
			if val.Kind != yaml.SequenceNode {
				return nil, nodeErr(val, "'indexes' must be a sequence")
			}
			for _, in := range val.Content {
				if err := checkFields(in, "name", "columns", "unique", "where"); err != nil {
					return nil, err
				}
				var wi wireIndex
				if err := in.Decode(&wi); err != nil {
					return nil, nodeErr(in, err.Error())
				}
				t.Indexes = append(t.Indexes, Index{
					Name:    wi.Name,
					Columns: wi.Columns,
					Unique:  wi.Unique,
					Where:   wi.Where,
				})
			}
		}
	}
	if t.Name == "" {
		return nil, nodeErr(node, "table is missing a name")
	}
	return t, nil
}

func parseColumn(node *yaml.Node) (*Column, error) {
	if err := checkFields(node, "name", "prev_name", "type", "enum", "enum_values", "nullable", "default", "generated"); err != nil {
		return nil, err
	}
	var wc wireColumn
	if err := node.Decode(&wc); err != nil {
		return nil, nodeErr(node, err.Error())
	}
	if wc.Name == "" {
		return nil, nodeErr(node, "column is missing a name")
	}
	ct := ColumnType(wc.Type)
	if !validColumnType(ct) {
		return nil, nodeErr(node, fmt.Sprintf("column %q has unknown type %q", wc.Name, wc.Type))
	}
	return &Column{
		Name:       wc.Name,
		PrevName:   wc.PrevName,
		Type:       ct,
		EnumRef:    wc.EnumRef,
		EnumValues: wc.EnumValues,
		Nullable:   wc.Nullable,
		Default:    wc.Default,
		Generated:  wc.Generated,
	}, nil
}

func parseConstraint(node *yaml.Node) (*Constraint, error) {
	if err := checkFields(node, "kind", "name", "columns", "references", "on_delete", "check"); err != nil {
		return nil, err
	}
	var wc wireConstraint
	if err := node.Decode(&wc); err != nil {
		return nil, nodeErr(node, err.Error())
	}
	kind := ConstraintKind(wc.Kind)
	switch kind {
	case PrimaryKey, Unique, ForeignKey, Check:
	default:
		return nil, nodeErr(node, fmt.Sprintf("unknown constraint kind %q", wc.Kind))
	}

	c := &Constraint{
		Kind:      kind,
		Name:      wc.Name,
		Columns:   wc.Columns,
		CheckExpr: wc.Check,
	}
	if wc.References != nil {
		c.RefTable = wc.References.Table
		c.RefColumns = wc.References.Columns
	}
	if wc.OnDelete != "" {
		act := ReferentialAction(wc.OnDelete)
		if !validReferentialAction(act) {
			return nil, nodeErr(node, fmt.Sprintf("unknown on_delete action %q", wc.OnDelete))
		}
		c.OnDelete = act
	}
	return c, nil
}

// checkFields rejects mapping keys outside the allowed set, pointing at
// the stray key's position.
func checkFields(node *yaml.Node, allowed ...string) error {
	if node.Kind != yaml.MappingNode {
		return nodeErr(node, "expected a mapping")
	}
	for i := 0; i < len(node.Content); i += 2 {
		key := node.Content[i]
		ok := false
		for _, a := range allowed {
			if key.Value == a {
				ok = true
				break
			}
		}
		if !ok {
			return nodeErr(key, fmt.Sprintf("unknown key %q", key.Value))
		}
	}
	return nil
}

func nodeErr(node *yaml.Node, msg string) *SyntaxError {
	return &SyntaxError{Line: node.Line, Column: node.Column, Message: msg}
}

// syntaxFromYAML converts a yaml.v3 error into a SyntaxError, recovering
// the line number the library embeds in its message.
func syntaxFromYAML(err error) *SyntaxError {
	msg := err.Error()
	if m := yamlLineRe.FindStringSubmatch(msg); m != nil {
		line, _ := strconv.Atoi(m[1])
		return &SyntaxError{Line: line, Column: 1, Message: m[2]}
	}
	return &SyntaxError{Message: strings.TrimPrefix(msg, "yaml: ")}
}
