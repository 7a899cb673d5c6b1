// Package csv loads headerless calibration CSV exports into typed tables,
// using the JSON sidecar written next to each file for column names,
// declared types and the field separator.
package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/pierrec/lz4/v4"
	"github.com/spf13/afero"

	"calibprep/internal/logging"
	"calibprep/internal/probe"
	"calibprep/internal/table"
)

// LZ4Suffix marks an lz4-framed CSV file.
const LZ4Suffix = ".lz4"

// LoadOptions controls Load.
type LoadOptions struct {
	// SkipBadRows drops rows whose field count or cell types do not match the
	// schema instead of failing the load. Each skipped row is logged.
	SkipBadRows bool

	// StringColumns are kept as their raw cell text regardless of the
	// sidecar type or inference. Use it for join keys, so that "01" in one
	// file still equals "01" in another.
	StringColumns []string

	// Logger receives skipped-row warnings. Nil discards them.
	Logger *slog.Logger
}

// Load reads the sidecar for path, then parses the headerless file at path.
// Paths ending in LZ4Suffix are decompressed as an lz4 frame.
//
// Cells are trimmed; empty cells are missing values. Columns with a declared
// sidecar type are parsed as that type, the rest are typed by
// probe.InferKinds over the whole file. opt.StringColumns override both.
//
// Errors:
//   - schema errors from ReadSchema
//   - an error wrapping fs.ErrNotExist if the data file is missing
//   - *RowParseError for a malformed row, unless opt.SkipBadRows is set
func Load(fs afero.Fs, path string, opt LoadOptions) (*table.Table, error) {
	sch, err := ReadSchema(fs, path)
	if err != nil {
		return nil, err
	}

	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, LZ4Suffix) {
		r = lz4.NewReader(f)
	}
	return parse(r, path, sch, opt)
}

func parse(r io.Reader, path string, sch Schema, opt LoadOptions) (*table.Table, error) {
	logger := logging.OrDiscard(opt.Logger)

	width := len(sch.Columns)

	cr := csv.NewReader(r)
	cr.Comma = sch.Separator
	cr.FieldsPerRecord = -1 // validated below
	cr.LazyQuotes = true

	type record struct {
		line   int
		fields []string
	}
	recs := make([]record, 0, 1024)

	reject := func(e *RowParseError) error {
		if !opt.SkipBadRows {
			return e
		}
		logger.Warn("skipping malformed row",
			slog.String("path", path),
			slog.Int("line", e.Line),
			slog.String("reason", e.Reason))
		return nil
	}

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			line := 0
			if errors.As(err, &pe) {
				line = pe.StartLine
			}
			if rerr := reject(&RowParseError{Path: path, Line: line, Reason: "csv read", Err: err}); rerr != nil {
				return nil, rerr
			}
			continue
		}
		line, _ := cr.FieldPos(0)

		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" && width > 1 {
			continue
		}
		if len(rec) != width {
			e := &RowParseError{
				Path:   path,
				Line:   line,
				Reason: fmt.Sprintf("got %d fields, want %d", len(rec), width),
			}
			if rerr := reject(e); rerr != nil {
				return nil, rerr
			}
			continue
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		recs = append(recs, record{line: line, fields: rec})
	}

	raw := make([][]string, len(recs))
	for i, rc := range recs {
		raw[i] = rc.fields
	}
	kinds := probe.InferKinds(width, raw)
	for i, c := range sch.Columns {
		if k, ok := sch.DeclaredKind(i); ok {
			kinds[i] = k
		}
		if slices.Contains(opt.StringColumns, c.Name) {
			kinds[i] = table.KindString
		}
	}

	cols := make([]table.Column, width)
	for i, c := range sch.Columns {
		cols[i] = table.Column{Name: c.Name, Kind: kinds[i], Values: make([]table.Value, 0, len(recs))}
	}

rows:
	for _, rc := range recs {
		vals := make([]table.Value, width)
		for i, cell := range rc.fields {
			v, ok := probe.ParseCell(cell, kinds[i])
			if !ok {
				e := &RowParseError{
					Path:   path,
					Line:   rc.line,
					Reason: fmt.Sprintf("column %s: %q is not a %s", sch.Columns[i].Name, cell, kinds[i]),
				}
				if rerr := reject(e); rerr != nil {
					return nil, rerr
				}
				continue rows
			}
			vals[i] = v
		}
		for i := range cols {
			cols[i].Values = append(cols[i].Values, vals[i])
		}
	}

	return table.New(cols...)
}
