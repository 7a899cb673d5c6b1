// Package calib turns raw calibration exports into the operator datasets a
// cost model trains on: scans, joins and join stages with runtime outliers
// removed, input selectivities derived, table metadata attached and join sides
// resolved to probe and build.
package calib

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/afero"

	"calibprep/internal/logging"
	"calibprep/internal/metrics"
	csvparser "calibprep/internal/parser/csv"
	"calibprep/internal/table"
)

// Assembler builds operator datasets from CSV exports on FS.
type Assembler struct {
	FS      afero.Fs
	Logger  *slog.Logger
	Options Options
}

// New returns an Assembler. A nil logger discards output.
func New(fs afero.Fs, opts Options, logger *slog.Logger) *Assembler {
	return &Assembler{FS: fs, Logger: logging.OrDiscard(logger), Options: opts}
}

// FamilyStats counts what assembly did to one operator family.
type FamilyStats struct {
	Loaded         int
	Outliers       int
	ExpressionRows int
	UnmatchedMeta  int
	Incomplete     int
	Rows           int
}

func (a *Assembler) logger() *slog.Logger { return logging.OrDiscard(a.Logger) }

func (a *Assembler) sigma() float64 {
	if a.Options.OutlierSigma > 0 {
		return a.Options.OutlierSigma
	}
	return 3
}

func (a *Assembler) load(dir, file string) (*table.Table, error) {
	return csvparser.Load(a.FS, filepath.Join(dir, file), csvparser.LoadOptions{
		SkipBadRows:   a.Options.SkipBadRows,
		StringColumns: a.keyColumns(),
		Logger:        a.logger(),
	})
}

// keyColumns lists every column used as a join key, plain and side-labelled.
// Files are typed independently, so keys are compared as raw text.
func (a *Assembler) keyColumns() []string {
	sides := a.Options.Sides.withDefaults()
	keys := []string{colJoinID}
	for _, k := range []string{colTableName, colColumnName} {
		keys = append(keys, k, sides.LeftLabel+"_"+k, sides.RightLabel+"_"+k)
	}
	return keys
}

// step runs fn as a named, timed and counted pipeline step.
func (a *Assembler) step(ctx context.Context, name string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	err := fn()
	metrics.RecordStep(name, start, err)
	if err != nil {
		a.logger().Error("step failed", slog.String("step", name), slog.Any("err", err))
		return err
	}
	a.logger().Debug("step done", slog.String("step", name), slog.Duration("duration", time.Since(start)))
	return nil
}

// AssembleSingleInput builds the dataset for a single-input operator family
// such as scans:
//
//  1. load file from dir
//  2. drop runtime outliers
//  3. derive SELECTIVITY_LEFT (and SELECTIVITY_RIGHT if INPUT_ROWS_RIGHT exists)
//  4. attach table, column and first-segment metadata
//  5. drop ExpressionEvaluator scans
//  6. apply the fill policy
func (a *Assembler) AssembleSingleInput(ctx context.Context, dir, file string) (*table.Table, FamilyStats, error) {
	var st FamilyStats
	family := familyName(file)

	var t *table.Table
	err := a.step(ctx, "load_"+family, func() error {
		var err error
		t, err = a.load(dir, file)
		return err
	})
	if err != nil {
		return nil, st, err
	}
	st.Loaded = t.NumRows()
	metrics.RecordRows(family, "loaded", st.Loaded)

	err = a.step(ctx, "outliers_"+family, func() error {
		var err error
		t, st.Outliers, err = dropOutliers(t, colRuntime, a.sigma())
		return err
	})
	if err != nil {
		return nil, st, err
	}
	metrics.RecordRows(family, "outlier", st.Outliers)

	err = a.step(ctx, "selectivity_"+family, func() error {
		var err error
		if t, err = withSelectivity(t, colInputRowsLeft, ColSelectivityLeft); err != nil {
			return err
		}
		if t.Has(colInputRowsRight) {
			t, err = withSelectivity(t, colInputRowsRight, ColSelectivityRight)
		}
		return err
	})
	if err != nil {
		return nil, st, err
	}

	err = a.step(ctx, "enrich_"+family, func() error {
		var err error
		t, st.UnmatchedMeta, err = a.enrich(dir, t)
		return err
	})
	if err != nil {
		return nil, st, err
	}
	metrics.RecordRows(family, "unmatched_meta", st.UnmatchedMeta)

	// Scans without an implementation column cannot be ExpressionEvaluator
	// rows, so the filter is skipped instead of failing.
	if t.Has(colOperatorImpl) {
		before := t.NumRows()
		t = dropExpressionRows(t)
		st.ExpressionRows = before - t.NumRows()
		metrics.RecordRows(family, "expression_evaluator", st.ExpressionRows)
	}

	t = fill(t, a.Options.FillPolicy)
	st.Rows = t.NumRows()
	a.logger().Info("assembled single-input family",
		slog.String("family", family),
		slog.Int("loaded", st.Loaded),
		slog.Int("outliers", st.Outliers),
		slog.Int("expression_rows", st.ExpressionRows),
		slog.Int("unmatched_meta", st.UnmatchedMeta),
		slog.Int("rows", st.Rows))
	return t, st, nil
}

// AssembleTwoInput builds the dataset for a two-input operator family such as
// joins. It follows AssembleSingleInput, except that both selectivities are
// always derived and metadata is only attached when Options.EnrichTwoInput is
// set. The result still carries left/right columns; see Disambiguate.
func (a *Assembler) AssembleTwoInput(ctx context.Context, dir, file string) (*table.Table, FamilyStats, error) {
	var st FamilyStats
	family := familyName(file)

	var t *table.Table
	err := a.step(ctx, "load_"+family, func() error {
		var err error
		t, err = a.load(dir, file)
		return err
	})
	if err != nil {
		return nil, st, err
	}
	st.Loaded = t.NumRows()
	metrics.RecordRows(family, "loaded", st.Loaded)

	err = a.step(ctx, "outliers_"+family, func() error {
		var err error
		t, st.Outliers, err = dropOutliers(t, colRuntime, a.sigma())
		return err
	})
	if err != nil {
		return nil, st, err
	}
	metrics.RecordRows(family, "outlier", st.Outliers)

	err = a.step(ctx, "selectivity_"+family, func() error {
		var err error
		if t, err = withSelectivity(t, colInputRowsLeft, ColSelectivityLeft); err != nil {
			return err
		}
		t, err = withSelectivity(t, colInputRowsRight, ColSelectivityRight)
		return err
	})
	if err != nil {
		return nil, st, err
	}

	if a.Options.EnrichTwoInput {
		err = a.step(ctx, "enrich_"+family, func() error {
			var err error
			t, st.UnmatchedMeta, err = a.enrich(dir, t)
			return err
		})
		if err != nil {
			return nil, st, err
		}
		metrics.RecordRows(family, "unmatched_meta", st.UnmatchedMeta)
	}

	if t.Has(colOperatorImpl) {
		before := t.NumRows()
		t = dropExpressionRows(t)
		st.ExpressionRows = before - t.NumRows()
		metrics.RecordRows(family, "expression_evaluator", st.ExpressionRows)
	}

	// The flip flag is not filled: a missing flag must reach Disambiguate as
	// missing, not as "right side is probe".
	t = fill(t, a.Options.FillPolicy, a.Options.Sides.withDefaults().FlipColumn)
	st.Rows = t.NumRows()
	a.logger().Info("assembled two-input family",
		slog.String("family", family),
		slog.Int("loaded", st.Loaded),
		slog.Int("outliers", st.Outliers),
		slog.Int("expression_rows", st.ExpressionRows),
		slog.Int("rows", st.Rows))
	return t, st, nil
}

// familyName derives the metric and log label from a file name:
// "scans.csv" → "scans".
func familyName(file string) string {
	base := filepath.Base(file)
	if ext := filepath.Ext(base); ext != "" {
		base = base[:len(base)-len(ext)]
	}
	return base
}

// dropOutliers removes rows whose runtime exceeds mean + sigma*stdev, using the
// population standard deviation over the finite runtimes. Rows with a missing
// or non-finite runtime are removed as well.
func dropOutliers(t *table.Table, col string, sigma float64) (*table.Table, int, error) {
	k, ok := t.Kind(col)
	if !ok {
		return nil, 0, fmt.Errorf("outlier filter: column %s missing", col)
	}
	if k != table.KindNumber {
		return nil, 0, fmt.Errorf("outlier filter: column %s is %s, want number", col, k)
	}

	var sum float64
	n := 0
	for i := 0; i < t.NumRows(); i++ {
		v := t.At(col, i)
		if v.Finite() {
			sum += v.Num
			n++
		}
	}
	if n == 0 {
		out := t.Filter(func(int) bool { return false })
		return out, t.NumRows(), nil
	}
	mean := sum / float64(n)
	var sq float64
	for i := 0; i < t.NumRows(); i++ {
		v := t.At(col, i)
		if v.Finite() {
			d := v.Num - mean
			sq += d * d
		}
	}
	limit := mean + sigma*math.Sqrt(sq/float64(n))

	out := t.Filter(func(i int) bool {
		v := t.At(col, i)
		return v.Finite() && v.Num <= limit
	})
	return out, t.NumRows() - out.NumRows(), nil
}

// withSelectivity adds out = OUTPUT_ROWS / in. A missing, zero or non-finite
// quotient is 0.
func withSelectivity(t *table.Table, in, out string) (*table.Table, error) {
	if !t.Has(colOutputRows) {
		return nil, fmt.Errorf("selectivity: column %s missing", colOutputRows)
	}
	if !t.Has(in) {
		return nil, fmt.Errorf("selectivity: column %s missing", in)
	}
	vals := make([]table.Value, t.NumRows())
	for i := range vals {
		num := t.At(colOutputRows, i).As(table.KindNumber)
		den := t.At(in, i).As(table.KindNumber)
		s := 0.0
		if !num.Null && !den.Null && den.Num != 0 {
			if q := num.Num / den.Num; !math.IsNaN(q) && !math.IsInf(q, 0) {
				s = q
			}
		}
		vals[i] = table.Number(s)
	}
	return t.WithColumn(table.Column{Name: out, Kind: table.KindNumber, Values: vals})
}

func dropExpressionRows(t *table.Table) *table.Table {
	return t.Filter(func(i int) bool {
		v := t.At(colOperatorImpl, i)
		return v.Null || v.String() != expressionEvaluatorImpl
	})
}

// fill applies the missing-value policy to every column except skip.
func fill(t *table.Table, policy FillPolicy, skip ...string) *table.Table {
	if policy == FillNull {
		return t.Map(func(c table.Column, v table.Value) table.Value {
			if slices.Contains(skip, c.Name) {
				return v
			}
			if c.Kind == table.KindNumber && !v.Null && !v.Finite() {
				return table.Number(0)
			}
			return v
		})
	}
	return t.Map(func(c table.Column, v table.Value) table.Value {
		if slices.Contains(skip, c.Name) {
			return v
		}
		switch c.Kind {
		case table.KindNumber:
			if !v.Finite() {
				return table.Number(0)
			}
		case table.KindString:
			if v.Null {
				return table.String("0")
			}
		case table.KindBool:
			if v.Null {
				return table.Bool(false)
			}
		}
		return v
	})
}
