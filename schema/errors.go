package schema

import "fmt"

// SyntaxError reports malformed schema source. Line and Column point at
// the offending YAML node when one is known.
type SyntaxError struct {
	Line    int
	Column  int
	Message string
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("syntax error at line %d, column %d: %s", e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("syntax error: %s", e.Message)
}

// SemanticError reports a model that parsed but is internally inconsistent,
// such as a foreign key referencing a nonexistent table.
type SemanticError struct {
	Description string
}

func (e *SemanticError) Error() string {
	return fmt.Sprintf("semantic error: %s", e.Description)
}

func semanticf(format string, args ...interface{}) *SemanticError {
	return &SemanticError{Description: fmt.Sprintf(format, args...)}
}
