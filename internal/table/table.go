// Package table implements the in-memory, immutable column table the
// calibration pipeline passes between stages.
//
// Every operation returns a new *Table. Column value slices are never written
// after construction, so derived tables may share them with their source.
package table

import (
	"fmt"
)

// Column is a named, typed vector of values.
type Column struct {
	Name   string
	Kind   Kind
	Values []Value
}

// Table is an ordered set of equally long columns.
type Table struct {
	cols  []Column
	index map[string]int
	rows  int
}

// New builds a table from columns. Values are coerced to the column kind.
//
// Errors:
//   - duplicate or empty column names
//   - columns of differing length
func New(cols ...Column) (*Table, error) {
	t := &Table{
		cols:  make([]Column, 0, len(cols)),
		index: make(map[string]int, len(cols)),
	}
	for i, c := range cols {
		if c.Name == "" {
			return nil, fmt.Errorf("table: column %d has empty name", i)
		}
		if _, dup := t.index[c.Name]; dup {
			return nil, fmt.Errorf("table: duplicate column %q", c.Name)
		}
		if i == 0 {
			t.rows = len(c.Values)
		} else if len(c.Values) != t.rows {
			return nil, fmt.Errorf("table: column %q has %d rows, want %d", c.Name, len(c.Values), t.rows)
		}
		vals := make([]Value, len(c.Values))
		for j, v := range c.Values {
			vals[j] = v.As(c.Kind)
		}
		t.index[c.Name] = len(t.cols)
		t.cols = append(t.cols, Column{Name: c.Name, Kind: c.Kind, Values: vals})
	}
	return t, nil
}

// Empty returns a zero-row table with the given column layout.
func Empty(names []string, kinds []Kind) *Table {
	cols := make([]Column, len(names))
	for i, n := range names {
		cols[i] = Column{Name: n, Kind: kinds[i]}
	}
	t, err := New(cols...)
	if err != nil {
		panic(err)
	}
	return t
}

// derive builds a table from columns already known to be valid.
func derive(cols []Column, rows int) *Table {
	t := &Table{cols: cols, index: make(map[string]int, len(cols)), rows: rows}
	for i, c := range cols {
		t.index[c.Name] = i
	}
	return t
}

func (t *Table) NumRows() int { return t.rows }
func (t *Table) NumCols() int { return len(t.cols) }

// Names returns the column names in order.
func (t *Table) Names() []string {
	out := make([]string, len(t.cols))
	for i, c := range t.cols {
		out[i] = c.Name
	}
	return out
}

func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Column returns a copy of the named column.
func (t *Table) Column(name string) (Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return Column{}, false
	}
	c := t.cols[i]
	c.Values = append([]Value(nil), c.Values...)
	return c, true
}

// Kind returns the kind of the named column.
func (t *Table) Kind(name string) (Kind, bool) {
	i, ok := t.index[name]
	if !ok {
		return 0, false
	}
	return t.cols[i].Kind, true
}

// At returns the value at row i of the named column. It panics on an unknown
// column or an out-of-range row, like a slice index.
func (t *Table) At(name string, i int) Value {
	ci, ok := t.index[name]
	if !ok {
		panic(fmt.Sprintf("table: unknown column %q", name))
	}
	return t.cols[ci].Values[i]
}

// Row returns row i as values in column order.
func (t *Table) Row(i int) []Value {
	out := make([]Value, len(t.cols))
	for c := range t.cols {
		out[c] = t.cols[c].Values[i]
	}
	return out
}

// Filter keeps the rows for which keep returns true.
func (t *Table) Filter(keep func(row int) bool) *Table {
	sel := make([]int, 0, t.rows)
	for i := 0; i < t.rows; i++ {
		if keep(i) {
			sel = append(sel, i)
		}
	}
	return t.take(sel)
}

func (t *Table) take(sel []int) *Table {
	cols := make([]Column, len(t.cols))
	for ci, c := range t.cols {
		vals := make([]Value, len(sel))
		for j, r := range sel {
			vals[j] = c.Values[r]
		}
		cols[ci] = Column{Name: c.Name, Kind: c.Kind, Values: vals}
	}
	return derive(cols, len(sel))
}

// Rename renames columns per the old→new mapping. Unknown old names are
// ignored. Renaming onto an existing, not itself renamed column is an error.
func (t *Table) Rename(mapping map[string]string) (*Table, error) {
	cols := make([]Column, len(t.cols))
	seen := make(map[string]bool, len(t.cols))
	for i, c := range t.cols {
		if to, ok := mapping[c.Name]; ok && to != "" {
			c.Name = to
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("table: rename produces duplicate column %q", c.Name)
		}
		seen[c.Name] = true
		cols[i] = c
	}
	return derive(cols, t.rows), nil
}

// Drop removes the named columns. Unknown names are ignored.
func (t *Table) Drop(names ...string) *Table {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	cols := make([]Column, 0, len(t.cols))
	for _, c := range t.cols {
		if !drop[c.Name] {
			cols = append(cols, c)
		}
	}
	return derive(cols, t.rows)
}

// WithColumn returns a table with c appended, or replacing the column of the
// same name in place.
func (t *Table) WithColumn(c Column) (*Table, error) {
	if c.Name == "" {
		return nil, fmt.Errorf("table: column has empty name")
	}
	if len(c.Values) != t.rows {
		return nil, fmt.Errorf("table: column %q has %d rows, want %d", c.Name, len(c.Values), t.rows)
	}
	vals := make([]Value, len(c.Values))
	for i, v := range c.Values {
		vals[i] = v.As(c.Kind)
	}
	c.Values = vals

	cols := append([]Column(nil), t.cols...)
	if i, ok := t.index[c.Name]; ok {
		cols[i] = c
	} else {
		cols = append(cols, c)
	}
	return derive(cols, t.rows), nil
}

// Map returns a table where every cell has been passed through fn.
// fn must return a value of the column's kind; other kinds are coerced.
func (t *Table) Map(fn func(col Column, v Value) Value) *Table {
	cols := make([]Column, len(t.cols))
	for ci, c := range t.cols {
		vals := make([]Value, len(c.Values))
		for i, v := range c.Values {
			vals[i] = fn(c, v).As(c.Kind)
		}
		cols[ci] = Column{Name: c.Name, Kind: c.Kind, Values: vals}
	}
	return derive(cols, t.rows)
}

// DropNullRows removes every row that has a missing value in any column.
func (t *Table) DropNullRows() *Table {
	return t.Filter(func(row int) bool {
		for _, c := range t.cols {
			if c.Values[row].Null {
				return false
			}
		}
		return true
	})
}

// Equal reports whether both tables have the same columns in the same order
// with equal values.
func (t *Table) Equal(o *Table) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.rows != o.rows || len(t.cols) != len(o.cols) {
		return false
	}
	for i, c := range t.cols {
		oc := o.cols[i]
		if c.Name != oc.Name || c.Kind != oc.Kind {
			return false
		}
		for j := range c.Values {
			if !c.Values[j].Equal(oc.Values[j]) {
				return false
			}
		}
	}
	return true
}
