package csv

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/spf13/afero"

	"calibprep/internal/table"
)

// SidecarSuffix is appended to a CSV path to locate its schema descriptor.
const SidecarSuffix = ".json"

// ColumnDef describes one column of a headerless CSV file.
type ColumnDef struct {
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Nullable *bool  `json:"nullable,omitempty"`
}

// Schema is the parsed content of a sidecar: ordered columns plus separator.
type Schema struct {
	Columns   []ColumnDef
	Separator rune
}

type sidecarConfig struct {
	Separator *string `json:"separator"`
}

type sidecar struct {
	Columns []ColumnDef    `json:"columns"`
	Config  *sidecarConfig `json:"config"`
}

// Names returns the column names in file order.
func (s Schema) Names() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Name
	}
	return out
}

// DeclaredKind maps the sidecar type of column i to a table kind. The second
// result is false when the type is absent or unknown and must be inferred.
func (s Schema) DeclaredKind(i int) (table.Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s.Columns[i].Type)) {
	case "int", "long", "float", "double", "integer", "bigint", "number":
		return table.KindNumber, true
	case "string", "text":
		return table.KindString, true
	case "bool", "boolean":
		return table.KindBool, true
	default:
		return 0, false
	}
}

// ReadSchema reads the sidecar of the CSV file at path (path + SidecarSuffix).
//
// Errors:
//   - *SchemaNotFoundError if the sidecar cannot be opened.
//   - *SchemaParseError if it is not valid JSON, has no columns, has an
//     empty or duplicate column name, or lacks a single-character separator.
func ReadSchema(fs afero.Fs, path string) (Schema, error) {
	metaPath := path + SidecarSuffix

	raw, err := afero.ReadFile(fs, metaPath)
	if err != nil {
		return Schema{}, &SchemaNotFoundError{Path: metaPath, Err: err}
	}

	var sc sidecar
	if err := json.Unmarshal(raw, &sc); err != nil {
		return Schema{}, &SchemaParseError{Path: metaPath, Reason: "decode", Err: err}
	}
	if len(sc.Columns) == 0 {
		return Schema{}, &SchemaParseError{Path: metaPath, Reason: "no columns"}
	}

	seen := make(map[string]bool, len(sc.Columns))
	for i, c := range sc.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return Schema{}, &SchemaParseError{Path: metaPath, Reason: fmt.Sprintf("column %d has no name", i)}
		}
		if seen[c.Name] {
			return Schema{}, &SchemaParseError{Path: metaPath, Reason: fmt.Sprintf("duplicate column %q", c.Name)}
		}
		seen[c.Name] = true
	}

	if sc.Config == nil || sc.Config.Separator == nil {
		return Schema{}, &SchemaParseError{Path: metaPath, Reason: "missing config.separator"}
	}
	sep := *sc.Config.Separator
	if utf8.RuneCountInString(sep) != 1 {
		return Schema{}, &SchemaParseError{Path: metaPath, Reason: fmt.Sprintf("separator must be a single character, got %q", sep)}
	}
	r, _ := utf8.DecodeRuneInString(sep)

	return Schema{Columns: sc.Columns, Separator: r}, nil
}
