package calib

import (
	"fmt"

	"calibprep/internal/table"
)

// metaSuffix marks metadata columns whose name already exists on the
// operator table.
const metaSuffix = "_META"

type metaTables struct {
	tables   *table.Table
	columns  *table.Table
	segments *table.Table
}

func (a *Assembler) loadMeta(dir string) (metaTables, error) {
	var m metaTables
	var err error
	f := a.Options.Files
	if m.tables, err = a.load(dir, f.TableMeta); err != nil {
		return m, err
	}
	if m.columns, err = a.load(dir, f.ColumnMeta); err != nil {
		return m, err
	}
	segs, err := a.load(dir, f.SegmentMeta)
	if err != nil {
		return m, err
	}
	if !segs.Has(colChunkID) {
		return m, fmt.Errorf("segment metadata: column %s missing", colChunkID)
	}
	// Only the first segment of every column describes it.
	m.segments = segs.Filter(func(i int) bool {
		v := segs.At(colChunkID, i).As(table.KindNumber)
		return v.Finite() && v.Num == 0
	})
	return m, nil
}

// enrich attaches table, column and segment metadata. Operator tables with a
// TABLE_NAME column are joined directly. Two-input tables that only carry
// side-labelled table and column names are joined once per side, with the
// metadata columns labelled the same way so Disambiguate can resolve them.
//
// The second result counts operator rows without table metadata.
func (a *Assembler) enrich(dir string, t *table.Table) (*table.Table, int, error) {
	m, err := a.loadMeta(dir)
	if err != nil {
		return nil, 0, err
	}
	if t.Has(colTableName) {
		return attachMeta(t, m, "")
	}

	sides := a.Options.Sides.withDefaults()
	left, right := sides.LeftLabel+"_", sides.RightLabel+"_"
	if !t.Has(left+colTableName) || !t.Has(right+colTableName) {
		return nil, 0, fmt.Errorf("enrich: no %s or %s%s/%s%s columns", colTableName, left, colTableName, right, colTableName)
	}
	unmatched := 0
	for _, prefix := range []string{left, right} {
		var n int
		if t, n, err = attachMeta(t, m, prefix); err != nil {
			return nil, 0, err
		}
		unmatched += n
	}
	return t, unmatched, nil
}

func attachMeta(t *table.Table, m metaTables, prefix string) (*table.Table, int, error) {
	tables, columns, segments := m.tables, m.columns, m.segments
	if prefix != "" {
		var err error
		if tables, err = withPrefix(tables, prefix); err != nil {
			return nil, 0, err
		}
		if columns, err = withPrefix(columns, prefix); err != nil {
			return nil, 0, err
		}
		if segments, err = withPrefix(segments, prefix); err != nil {
			return nil, 0, err
		}
	}
	tableKey := []string{prefix + colTableName}
	columnKey := []string{prefix + colTableName, prefix + colColumnName}
	opt := table.JoinOptions{Suffix: metaSuffix}

	out, st, err := t.LeftJoin(tables, tableKey, opt)
	if err != nil {
		return nil, 0, fmt.Errorf("join table metadata: %w", err)
	}
	// Operators that do not name a column only get table metadata.
	if out.Has(prefix + colColumnName) {
		if out, _, err = out.LeftJoin(columns, columnKey, opt); err != nil {
			return nil, 0, fmt.Errorf("join column metadata: %w", err)
		}
		if out, _, err = out.LeftJoin(segments, columnKey, opt); err != nil {
			return nil, 0, fmt.Errorf("join segment metadata: %w", err)
		}
	}

	rename := make(map[string]string, len(canonicalNames))
	for from, to := range canonicalNames {
		rename[prefix+from] = prefix + to
	}
	if out, err = out.Rename(rename); err != nil {
		return nil, 0, fmt.Errorf("canonical metadata names: %w", err)
	}
	return out, st.Unmatched, nil
}

func withPrefix(t *table.Table, prefix string) (*table.Table, error) {
	mapping := make(map[string]string, t.NumCols())
	for _, n := range t.Names() {
		mapping[n] = prefix + n
	}
	return t.Rename(mapping)
}
