package storage

import (
	"fmt"
	"strings"
	"unicode"

	"calibprep/internal/table"
)

// RunIDColumn is the first column of every persisted table. It holds the id
// of the run that wrote the row.
const RunIDColumn = "RUN_ID"

// ColumnType is a backend-neutral column type. Backends map it to their own
// SQL types.
type ColumnType string

const (
	TypeText  ColumnType = "text"
	TypeFloat ColumnType = "float"
	TypeBool  ColumnType = "bool"
)

// TableSpec describes a table to create.
type TableSpec struct {
	Name    string
	Columns []ColumnSpec
	// Replace drops an existing table before creating it.
	Replace bool
}

// ColumnSpec describes one column. Nullable columns are created without
// NOT NULL.
type ColumnSpec struct {
	Name     string
	Type     ColumnType
	Nullable bool
}

// ColumnNames returns the column names in order.
func (s TableSpec) ColumnNames() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Name
	}
	return out
}

// TypeFor maps a table kind to a column type.
func TypeFor(k table.Kind) ColumnType {
	switch k {
	case table.KindNumber:
		return TypeFloat
	case table.KindBool:
		return TypeBool
	default:
		return TypeText
	}
}

// TableSpecFor derives the spec of the SQL table that stores t: RUN_ID
// followed by one column per table column. Columns are nullable because the
// null fill policy may leave missing cells.
func TableSpecFor(name string, t *table.Table, replace bool) TableSpec {
	spec := TableSpec{Name: name, Replace: replace}
	spec.Columns = append(spec.Columns, ColumnSpec{Name: RunIDColumn, Type: TypeText})
	for _, n := range t.Names() {
		k, _ := t.Kind(n)
		spec.Columns = append(spec.Columns, ColumnSpec{Name: n, Type: TypeFor(k), Nullable: true})
	}
	return spec
}

// RowsFor converts rows [from, to) of t into driver values, prefixed with
// runID.
func RowsFor(t *table.Table, runID string, from, to int) [][]any {
	if to > t.NumRows() {
		to = t.NumRows()
	}
	if from >= to {
		return nil
	}
	out := make([][]any, 0, to-from)
	for i := from; i < to; i++ {
		vals := t.Row(i)
		row := make([]any, 0, len(vals)+1)
		row = append(row, runID)
		for _, v := range vals {
			row = append(row, driverValue(v))
		}
		out = append(out, row)
	}
	return out
}

func driverValue(v table.Value) any {
	if v.Null {
		return nil
	}
	switch v.Kind {
	case table.KindNumber:
		return v.Num
	case table.KindBool:
		return v.Bool
	default:
		return v.Str
	}
}

// TableName builds a SQL-safe table name from prefix and a dataset name:
// letters and digits are lower-cased, everything else becomes '_'.
func TableName(prefix, dataset string) (string, error) {
	raw := prefix + dataset
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteByte('_')
		}
	}
	name := b.String()
	if name == "" || strings.Trim(name, "_") == "" {
		return "", fmt.Errorf("storage: table name %q has no usable characters", raw)
	}
	if unicode.IsDigit(rune(name[0])) {
		name = "t_" + name
	}
	return name, nil
}
