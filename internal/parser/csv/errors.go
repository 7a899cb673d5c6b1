package csv

import "fmt"

// SchemaNotFoundError is returned when the JSON sidecar of a CSV file does not
// exist or cannot be opened.
type SchemaNotFoundError struct {
	Path string
	Err  error
}

func (e *SchemaNotFoundError) Error() string {
	return fmt.Sprintf("csv schema %s not found: %v", e.Path, e.Err)
}

func (e *SchemaNotFoundError) Unwrap() error { return e.Err }

// SchemaParseError is returned when a sidecar is malformed or lacks required
// fields.
type SchemaParseError struct {
	Path   string
	Reason string
	Err    error
}

func (e *SchemaParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("csv schema %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("csv schema %s: %s", e.Path, e.Reason)
}

func (e *SchemaParseError) Unwrap() error { return e.Err }

// RowParseError is returned when a data row does not fit its schema.
type RowParseError struct {
	Path   string
	Line   int
	Reason string
	Err    error
}

func (e *RowParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("csv %s line %d: %s: %v", e.Path, e.Line, e.Reason, e.Err)
	}
	return fmt.Sprintf("csv %s line %d: %s", e.Path, e.Line, e.Reason)
}

func (e *RowParseError) Unwrap() error { return e.Err }
