package calib

import (
	"context"
	"errors"
	"os"
	"path"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	csvparser "calibprep/internal/parser/csv"
	"calibprep/internal/table"
)

func incompleteRows(tb *table.Table) int {
	n := 0
	for i := 0; i < tb.NumRows(); i++ {
		for _, v := range tb.Row(i) {
			if v.Null {
				n++
				break
			}
		}
	}
	return n
}

func TestAssembleAll(t *testing.T) {
	t.Parallel()

	a := New(seedExport(t), DefaultOptions(), nil)
	res, st, err := a.AssembleAll(context.Background(), exportDir)
	if err != nil {
		t.Fatalf("AssembleAll: %v", err)
	}

	if got := res.General.NumRows(); got != 3 {
		t.Fatalf("general rows = %d, want 3", got)
	}

	wantJoins := []string{
		"OUTPUT_ROWS", "RUNTIME_NS",
		"PROBE_TABLE_NAME", "BUILD_TABLE_NAME",
		"PROBE_INPUT_ROWS", "BUILD_INPUT_ROWS",
		"PROBE_SELECTIVITY", "BUILD_SELECTIVITY",
	}
	if diff := cmp.Diff(wantJoins, res.Joins.Names()); diff != "" {
		t.Fatalf("join columns (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"t1", "t1"}, render(res.Joins, "PROBE_TABLE_NAME")); diff != "" {
		t.Fatalf("PROBE_TABLE_NAME (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"100", "200"}, render(res.Joins, "PROBE_INPUT_ROWS")); diff != "" {
		t.Fatalf("PROBE_INPUT_ROWS (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"0.2", "0.125"}, render(res.Joins, "PROBE_SELECTIVITY")); diff != "" {
		t.Fatalf("PROBE_SELECTIVITY (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]string{"build", "probe", "build"}, render(res.JoinStages, "STAGE")); diff != "" {
		t.Fatalf("stages (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"500", "500", "600"}, render(res.JoinStages, "RUNTIME_NS_JOIN")); diff != "" {
		t.Fatalf("RUNTIME_NS_JOIN (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"200", "300", "100"}, render(res.JoinStages, "RUNTIME_NS")); diff != "" {
		t.Fatalf("stage RUNTIME_NS (-want +got):\n%s", diff)
	}

	for name, tb := range map[string][]string{"joins": res.Joins.Names(), "join_stages": res.JoinStages.Names()} {
		if slices.Contains(tb, "JOIN_ID") {
			t.Errorf("%s still has JOIN_ID", name)
		}
		for _, c := range tb {
			if hasToken(c, "LEFT") || hasToken(c, "RIGHT") || c == "PROBE_SIDE_FLIP" {
				t.Errorf("%s has side column %s", name, c)
			}
		}
	}

	if st.JoinStages.Incomplete != 1 || st.JoinStages.Rows != 3 || st.JoinStages.Loaded != 4 {
		t.Fatalf("join stage stats = %+v", st.JoinStages)
	}
	if st.General.ExpressionRows != 1 {
		t.Fatalf("general stats = %+v", st.General)
	}
}

func TestAssembleAll_Idempotent(t *testing.T) {
	t.Parallel()

	fsys := seedExport(t)
	first, _, err := New(fsys, DefaultOptions(), nil).AssembleAll(context.Background(), exportDir)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, _, err := New(fsys, DefaultOptions(), nil).AssembleAll(context.Background(), exportDir)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !first.General.Equal(second.General) || !first.Joins.Equal(second.Joins) || !first.JoinStages.Equal(second.JoinStages) {
		t.Fatalf("repeated runs differ")
	}
}

func TestAssembleAll_NoRowHasMissingValues(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	opts.FillPolicy = FillNull
	res, st, err := New(seedExport(t), opts, nil).AssembleAll(context.Background(), exportDir)
	if err != nil {
		t.Fatalf("AssembleAll: %v", err)
	}
	// t3 has no metadata and stays incomplete under the null policy.
	if st.General.Incomplete != 1 || res.General.NumRows() != 2 {
		t.Fatalf("general stats = %+v", st.General)
	}
	for name, tb := range map[string]*table.Table{"general": res.General, "joins": res.Joins, "join_stages": res.JoinStages} {
		if n := incompleteRows(tb); n != 0 {
			t.Errorf("%s has %d rows with missing values", name, n)
		}
	}
}

func TestAssembleAll_MissingFlipDropsRow(t *testing.T) {
	t.Parallel()

	for _, policy := range []FillPolicy{FillZero, FillNull} {
		t.Run(string(policy), func(t *testing.T) {
			t.Parallel()
			fsys := seedExport(t)
			writeExport(t, fsys, path.Join(exportDir, "joins.csv"),
				[]string{"JOIN_ID", "LEFT_TABLE_NAME", "RIGHT_TABLE_NAME", "LEFT_SORTED", "RIGHT_SORTED", "INPUT_ROWS_LEFT", "INPUT_ROWS_RIGHT", "OUTPUT_ROWS", "RUNTIME_NS", "PROBE_SIDE_FLIP"},
				"1|t1|t2|1|2|100|10|20|500|1",
				"2|t2|t1|10|20|50|200|25|600|",
			)
			opts := DefaultOptions()
			opts.FillPolicy = policy
			res, st, err := New(fsys, opts, nil).AssembleAll(context.Background(), exportDir)
			if err != nil {
				t.Fatalf("AssembleAll: %v", err)
			}
			if diff := cmp.Diff([]string{"1"}, render(res.Joins, "PROBE_SORTED")); diff != "" {
				t.Fatalf("PROBE_SORTED (-want +got):\n%s", diff)
			}
			if st.Joins.Incomplete != 1 || st.Joins.Rows != 1 {
				t.Fatalf("join stats = %+v, want 1 incomplete and 1 row", st.Joins)
			}
			// Stages of join 2 inherit its missing sides.
			if diff := cmp.Diff([]string{"build", "probe"}, render(res.JoinStages, "STAGE")); diff != "" {
				t.Fatalf("stages (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAssembleAll_JoinIDKeepsLeadingZeros(t *testing.T) {
	t.Parallel()

	fsys := seedExport(t)
	// Numeric-looking ids in joins, mixed ids in stages: both files must
	// compare the raw text.
	writeExport(t, fsys, path.Join(exportDir, "joins.csv"),
		[]string{"JOIN_ID", "LEFT_TABLE_NAME", "RIGHT_TABLE_NAME", "INPUT_ROWS_LEFT", "INPUT_ROWS_RIGHT", "OUTPUT_ROWS", "RUNTIME_NS", "PROBE_SIDE_FLIP"},
		"01|t1|t2|100|10|20|500|1",
		"1|t2|t1|50|200|25|600|0",
	)
	writeExport(t, fsys, path.Join(exportDir, "join_stages.csv"),
		[]string{"JOIN_ID", "STAGE", "RUNTIME_NS"},
		"01|build|200",
		"1|probe|300",
		"j9|build|50",
	)
	res, st, err := New(fsys, DefaultOptions(), nil).AssembleAll(context.Background(), exportDir)
	if err != nil {
		t.Fatalf("AssembleAll: %v", err)
	}
	if diff := cmp.Diff([]string{"500", "600"}, render(res.JoinStages, "RUNTIME_NS_JOIN")); diff != "" {
		t.Fatalf("RUNTIME_NS_JOIN (-want +got):\n%s", diff)
	}
	if st.JoinStages.UnmatchedMeta != 1 {
		t.Fatalf("unmatched stages = %d, want 1", st.JoinStages.UnmatchedMeta)
	}
}

func TestAssembleAll_Errors(t *testing.T) {
	t.Parallel()

	t.Run("missing joins export", func(t *testing.T) {
		t.Parallel()
		fsys := seedExport(t)
		if err := fsys.Remove(path.Join(exportDir, "joins.csv.json")); err != nil {
			t.Fatal(err)
		}
		_, _, err := New(fsys, DefaultOptions(), nil).AssembleAll(context.Background(), exportDir)
		var nf *csvparser.SchemaNotFoundError
		if !errors.As(err, &nf) {
			t.Fatalf("err = %v, want *SchemaNotFoundError", err)
		}
		if !strings.HasPrefix(err.Error(), "joins:") {
			t.Fatalf("err = %q, want joins prefix", err)
		}
	})

	t.Run("ambiguous join sides", func(t *testing.T) {
		t.Parallel()
		fsys := seedExport(t)
		writeExport(t, fsys, path.Join(exportDir, "joins.csv"),
			[]string{"JOIN_ID", "LEFT_TABLE_NAME", "RIGHT_TABLE_NAME", "RIGHT_TABLE_NAME_ALIAS", "INPUT_ROWS_LEFT", "INPUT_ROWS_RIGHT", "OUTPUT_ROWS", "RUNTIME_NS", "PROBE_SIDE_FLIP"},
			"1|t1|t2|t2|100|10|20|500|1",
		)
		_, _, err := New(fsys, DefaultOptions(), nil).AssembleAll(context.Background(), exportDir)
		var amb *AmbiguousSideMatchError
		if !errors.As(err, &amb) {
			t.Fatalf("err = %v, want *AmbiguousSideMatchError", err)
		}
	})

	t.Run("bad row fails unless skipped", func(t *testing.T) {
		t.Parallel()
		fsys := seedExport(t)
		f, err := fsys.OpenFile(path.Join(exportDir, "join_stages.csv"), os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.WriteString("2|build\n"); err != nil {
			t.Fatal(err)
		}
		f.Close()

		_, _, err = New(fsys, DefaultOptions(), nil).AssembleAll(context.Background(), exportDir)
		var rp *csvparser.RowParseError
		if !errors.As(err, &rp) {
			t.Fatalf("err = %v, want *RowParseError", err)
		}

		opts := DefaultOptions()
		opts.SkipBadRows = true
		res, _, err := New(fsys, opts, nil).AssembleAll(context.Background(), exportDir)
		if err != nil {
			t.Fatalf("AssembleAll with skip: %v", err)
		}
		if got := res.JoinStages.NumRows(); got != 3 {
			t.Fatalf("join stage rows = %d, want 3", got)
		}
	})
}
