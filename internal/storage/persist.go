package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"calibprep/internal/logging"
	"calibprep/internal/metrics"
	"calibprep/internal/table"
)

// Mode selects what happens to tables that already exist.
type Mode string

const (
	// ModeReplace drops and recreates every table.
	ModeReplace Mode = "replace"
	// ModeAppend creates missing tables and appends rows.
	ModeAppend Mode = "append"
)

// maxParams bounds the bind parameters of one insert statement. SQL Server
// accepts 2100 and older SQLite builds 999.
const maxParams = 900

// Dataset is a result table together with its unqualified name.
type Dataset struct {
	Name  string
	Table *table.Table
}

// PersistOptions controls Persist.
type PersistOptions struct {
	Prefix string
	Mode   Mode
	// RunID tags every row. A new UUIDv7 is generated when empty.
	RunID  string
	Logger *slog.Logger
}

// PersistResult reports what Persist wrote.
type PersistResult struct {
	RunID string
	// Rows maps SQL table name to inserted rows.
	Rows map[string]int64
}

// Persist creates one SQL table per dataset and inserts its rows in batches.
// Datasets are written in the given order. An error leaves the tables written
// so far in place.
func Persist(ctx context.Context, repo Repository, datasets []Dataset, opt PersistOptions) (PersistResult, error) {
	logger := logging.OrDiscard(opt.Logger)
	res := PersistResult{RunID: opt.RunID, Rows: make(map[string]int64, len(datasets))}
	if res.RunID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return res, fmt.Errorf("storage: run id: %w", err)
		}
		res.RunID = id.String()
	}
	mode := opt.Mode
	if mode == "" {
		mode = ModeReplace
	}
	if mode != ModeReplace && mode != ModeAppend {
		return res, fmt.Errorf("storage: unknown mode %q", mode)
	}

	specs := make([]TableSpec, len(datasets))
	for i, ds := range datasets {
		name, err := TableName(opt.Prefix, ds.Name)
		if err != nil {
			return res, err
		}
		specs[i] = TableSpecFor(name, ds.Table, mode == ModeReplace)
	}

	start := time.Now()
	err := repo.EnsureTables(ctx, specs)
	metrics.RecordStep("persist_ddl", start, err)
	if err != nil {
		return res, fmt.Errorf("storage: ensure tables: %w", err)
	}

	for i, ds := range datasets {
		spec := specs[i]
		cols := spec.ColumnNames()
		batch := maxParams / len(cols)
		if batch < 1 {
			batch = 1
		}

		start := time.Now()
		var total int64
		for from := 0; from < ds.Table.NumRows(); from += batch {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			rows := RowsFor(ds.Table, res.RunID, from, from+batch)
			n, err := repo.InsertRows(ctx, spec.Name, cols, rows)
			if err != nil {
				metrics.RecordStep("persist_"+ds.Name, start, err)
				return res, fmt.Errorf("storage: insert into %s at row %d: %w", spec.Name, from, err)
			}
			total += n
		}
		metrics.RecordStep("persist_"+ds.Name, start, nil)
		metrics.RecordRows(ds.Name, "persisted", int(total))
		res.Rows[spec.Name] = total

		logger.Info("persisted table",
			slog.String("table", spec.Name),
			slog.Int64("rows", total),
			slog.String("run_id", res.RunID),
			slog.Duration("duration", time.Since(start)))
	}
	return res, nil
}
