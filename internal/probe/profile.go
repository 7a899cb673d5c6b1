package probe

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"calibprep/internal/table"
)

// distinctCapPerColumn bounds distinct tracking per column. Once reached the
// column is reported as capped and its value set is released.
const distinctCapPerColumn = 10000

// DeclaredColumn is a column as the sidecar describes it. Declared is false
// when the sidecar leaves the type to inference.
type DeclaredColumn struct {
	Name     string
	Kind     table.Kind
	Declared bool
}

// ColumnProfile summarizes the sampled cells of one column.
type ColumnProfile struct {
	DeclaredColumn

	// Inferred is what InferKinds picks for the sampled cells.
	Inferred table.Kind

	// Values counts non-empty cells. Distinct is bounded by
	// distinctCapPerColumn; Capped reports when the bound was hit.
	Values   int
	Missing  int
	Distinct int
	Capped   bool

	// Invalid counts cells that do not parse as the effective kind. The loader
	// rejects the rows that contain them.
	Invalid int
}

// Effective is the kind the loader will use: the declared kind if any,
// otherwise the inferred one.
func (c ColumnProfile) Effective() table.Kind {
	if c.Declared {
		return c.Kind
	}
	return c.Inferred
}

// Conflict reports a declared type that the data does not satisfy.
func (c ColumnProfile) Conflict() bool { return c.Declared && c.Invalid > 0 }

// Report is the profile of one sampled file.
type Report struct {
	Path    string
	Rows    int
	BadRows int
	Columns []ColumnProfile
}

// Conflicts returns the columns whose declared type does not fit the data.
func (r Report) Conflicts() []ColumnProfile {
	var out []ColumnProfile
	for _, c := range r.Columns {
		if c.Conflict() {
			out = append(out, c)
		}
	}
	return out
}

// Profile computes per-column statistics for rows, which must be aligned with
// cols. Rows of a different width are skipped.
func Profile(cols []DeclaredColumn, rows [][]string) Report {
	width := len(cols)
	rep := Report{Columns: make([]ColumnProfile, width)}

	aligned := make([][]string, 0, len(rows))
	for _, r := range rows {
		if len(r) != width {
			rep.BadRows++
			continue
		}
		aligned = append(aligned, r)
	}
	rep.Rows = len(aligned)

	inferred := InferKinds(width, aligned)
	for i, c := range cols {
		p := ColumnProfile{DeclaredColumn: c, Inferred: inferred[i]}
		kind := p.Effective()

		seen := make(map[string]struct{})
		for _, r := range aligned {
			v := strings.TrimSpace(r[i])
			if v == "" {
				p.Missing++
				continue
			}
			p.Values++
			if _, ok := ParseCell(v, kind); !ok {
				p.Invalid++
			}
			if p.Capped {
				continue
			}
			seen[v] = struct{}{}
			if len(seen) >= distinctCapPerColumn {
				p.Capped = true
				seen = nil
			}
		}
		if p.Capped {
			p.Distinct = distinctCapPerColumn
		} else {
			p.Distinct = len(seen)
		}
		rep.Columns[i] = p
	}
	return rep
}

// WriteReport renders rep as a tab-separated text table. Columns are listed
// in file order; conflicting columns are marked with "!".
func WriteReport(w io.Writer, rep Report) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\trows=%d\tbad_rows=%d\n", rep.Path, rep.Rows, rep.BadRows)
	fmt.Fprintf(&b, "%-28s\t%-8s\t%-8s\t%-7s\t%-7s\tunique\tinvalid\n", "column", "declared", "inferred", "values", "missing")
	for _, c := range rep.Columns {
		declared := "-"
		if c.Declared {
			declared = c.Kind.String()
		}
		unique := fmt.Sprintf("%d", c.Distinct)
		if c.Capped {
			unique = ">=" + unique
		}
		mark := ""
		if c.Conflict() {
			mark = " !"
		}
		fmt.Fprintf(&b, "%-28s\t%-8s\t%-8s\t%-7d\t%-7d\t%s\t%d%s\n",
			c.Name, declared, c.Inferred, c.Values, c.Missing, unique, c.Invalid, mark)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// LowCardinality returns the names of columns whose distinct ratio is at most
// maxRatio, lowest ratio first. These are the natural join and grouping keys
// of an export.
func LowCardinality(rep Report, maxRatio float64) []string {
	type cand struct {
		name  string
		ratio float64
	}
	var cs []cand
	for _, c := range rep.Columns {
		if c.Values == 0 || c.Capped {
			continue
		}
		r := float64(c.Distinct) / float64(c.Values)
		if r <= maxRatio {
			cs = append(cs, cand{c.Name, r})
		}
	}
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].ratio == cs[j].ratio {
			return cs[i].name < cs[j].name
		}
		return cs[i].ratio < cs[j].ratio
	})
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.name
	}
	return out
}
