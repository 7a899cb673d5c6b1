package table

import (
	"fmt"
	"strings"
)

// JoinOptions controls LeftJoin.
type JoinOptions struct {
	// Suffix is appended to non-key right columns whose name already exists
	// on the left. Defaults to "_right_dup" when empty.
	Suffix string
}

// JoinStats reports how many left rows found at least one match.
type JoinStats struct {
	Matched   int
	Unmatched int
}

// LeftJoin joins right onto t on equality of the given key columns.
//
// Semantics follow a relational left outer join:
//   - every left row appears at least once, in order
//   - a left row with k matches appears k times, in right-table order
//   - right columns of unmatched rows are missing
//   - rows with a missing key never match
//
// Keys compare by their rendered value, so a key column may be numeric on one
// side and string on the other. Comparison is case-sensitive. The key columns
// of the result are taken from the left table.
func (t *Table) LeftJoin(right *Table, on []string, opt JoinOptions) (*Table, JoinStats, error) {
	var st JoinStats
	if len(on) == 0 {
		return nil, st, fmt.Errorf("table: join without key columns")
	}
	for _, k := range on {
		if !t.Has(k) {
			return nil, st, fmt.Errorf("table: join key %q missing on left", k)
		}
		if !right.Has(k) {
			return nil, st, fmt.Errorf("table: join key %q missing on right", k)
		}
	}
	suffix := opt.Suffix
	if suffix == "" {
		suffix = "_right_dup"
	}

	isKey := make(map[string]bool, len(on))
	for _, k := range on {
		isKey[k] = true
	}

	// Build hash index on the right table.
	idx := make(map[string][]int, right.rows)
	for i := 0; i < right.rows; i++ {
		k, ok := right.joinKey(on, i)
		if !ok {
			continue
		}
		idx[k] = append(idx[k], i)
	}

	// Probe with the left table.
	leftRows := make([]int, 0, t.rows)
	rightRows := make([]int, 0, t.rows)
	for i := 0; i < t.rows; i++ {
		k, ok := t.joinKey(on, i)
		matches := idx[k]
		if !ok || len(matches) == 0 {
			st.Unmatched++
			leftRows = append(leftRows, i)
			rightRows = append(rightRows, -1)
			continue
		}
		st.Matched++
		for _, r := range matches {
			leftRows = append(leftRows, i)
			rightRows = append(rightRows, r)
		}
	}

	out := t.take(leftRows)
	cols := out.cols
	names := make(map[string]bool, len(cols)+len(right.cols))
	for _, c := range cols {
		names[c.Name] = true
	}
	for _, rc := range right.cols {
		if isKey[rc.Name] {
			continue
		}
		name := rc.Name
		if names[name] {
			name += suffix
			if names[name] {
				return nil, st, fmt.Errorf("table: join produces duplicate column %q", name)
			}
		}
		names[name] = true

		vals := make([]Value, len(rightRows))
		for j, r := range rightRows {
			if r < 0 {
				vals[j] = Null(rc.Kind)
				continue
			}
			vals[j] = rc.Values[r]
		}
		cols = append(cols, Column{Name: name, Kind: rc.Kind, Values: vals})
	}
	return derive(cols, len(leftRows)), st, nil
}

func (t *Table) joinKey(on []string, row int) (string, bool) {
	if len(on) == 1 {
		v := t.At(on[0], row)
		return v.String(), !v.Null
	}
	var b strings.Builder
	for i, k := range on {
		v := t.At(k, row)
		if v.Null {
			return "", false
		}
		if i > 0 {
			b.WriteByte(0)
		}
		b.WriteString(v.String())
	}
	return b.String(), true
}
