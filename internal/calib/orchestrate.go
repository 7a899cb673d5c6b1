package calib

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"calibprep/internal/metrics"
	"calibprep/internal/table"
)

// joinSuffix marks join columns whose name already exists on a join stage.
const joinSuffix = "_JOIN"

// Result holds the three datasets of a calibration run.
type Result struct {
	General    *table.Table
	Joins      *table.Table
	JoinStages *table.Table
}

// Stats reports per-family counts of a run.
type Stats struct {
	General    FamilyStats
	Joins      FamilyStats
	JoinStages FamilyStats
	Duration   time.Duration
}

// AssembleAll builds the scan, join and join-stage datasets from the exports
// in dir:
//
//  1. general: AssembleSingleInput over the scans file
//  2. joins: AssembleTwoInput over the joins file, then Disambiguate
//  3. join stages: the stages file left-joined with joins on JOIN_ID; join
//     columns clashing with stage columns get the suffix _JOIN
//  4. JOIN_ID is dropped from joins and join stages
//  5. every row with a missing value is dropped from all three
//
// Returned tables never share rows with one another.
func (a *Assembler) AssembleAll(ctx context.Context, dir string) (Result, Stats, error) {
	var res Result
	var st Stats
	start := time.Now()
	f := a.Options.Files

	general, gs, err := a.AssembleSingleInput(ctx, dir, f.Scans)
	st.General = gs
	if err != nil {
		return res, st, fmt.Errorf("general: %w", err)
	}

	rawJoins, js, err := a.AssembleTwoInput(ctx, dir, f.Joins)
	st.Joins = js
	if err != nil {
		return res, st, fmt.Errorf("joins: %w", err)
	}
	var joins *table.Table
	err = a.step(ctx, "disambiguate_"+familyName(f.Joins), func() error {
		var err error
		joins, err = Disambiguate(rawJoins, a.Options.Sides, a.logger())
		return err
	})
	if err != nil {
		return res, st, fmt.Errorf("joins: %w", err)
	}

	var stages *table.Table
	stagesFamily := familyName(f.JoinStages)
	err = a.step(ctx, "load_"+stagesFamily, func() error {
		var err error
		stages, err = a.load(dir, f.JoinStages)
		return err
	})
	if err != nil {
		return res, st, fmt.Errorf("join stages: %w", err)
	}
	st.JoinStages.Loaded = stages.NumRows()
	metrics.RecordRows(stagesFamily, "loaded", st.JoinStages.Loaded)

	err = a.step(ctx, "join_"+stagesFamily, func() error {
		joined, js, err := stages.LeftJoin(joins, []string{colJoinID}, table.JoinOptions{Suffix: joinSuffix})
		if err != nil {
			return err
		}
		st.JoinStages.UnmatchedMeta = js.Unmatched
		stages = joined
		return nil
	})
	if err != nil {
		return res, st, fmt.Errorf("join stages: %w", err)
	}
	if st.JoinStages.UnmatchedMeta > 0 {
		a.logger().Warn("join stages without a matching join",
			slog.Int("rows", st.JoinStages.UnmatchedMeta))
	}

	joins = joins.Drop(colJoinID)
	stages = stages.Drop(colJoinID)

	res.General, st.General.Incomplete = dropIncomplete(general)
	res.Joins, st.Joins.Incomplete = dropIncomplete(joins)
	res.JoinStages, st.JoinStages.Incomplete = dropIncomplete(stages)
	st.General.Rows = res.General.NumRows()
	st.Joins.Rows = res.Joins.NumRows()
	st.JoinStages.Rows = res.JoinStages.NumRows()

	metrics.RecordRows(familyName(f.Scans), "incomplete", st.General.Incomplete)
	metrics.RecordRows(familyName(f.Joins), "incomplete", st.Joins.Incomplete)
	metrics.RecordRows(stagesFamily, "incomplete", st.JoinStages.Incomplete)

	st.Duration = time.Since(start)
	a.logger().Info("calibration data assembled",
		slog.String("dir", dir),
		slog.Int("general_rows", st.General.Rows),
		slog.Int("join_rows", st.Joins.Rows),
		slog.Int("join_stage_rows", st.JoinStages.Rows),
		slog.Duration("duration", st.Duration))
	return res, st, nil
}

func dropIncomplete(t *table.Table) (*table.Table, int) {
	out := t.DropNullRows()
	return out, t.NumRows() - out.NumRows()
}
