package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pierrec/lz4/v4"
	"github.com/spf13/afero"
)

// Sample reads the schema of path and up to maxRows raw records (all records
// when maxRows <= 0). Cells are trimmed. Records are returned as read, so
// callers can count rows of the wrong width; unreadable lines are skipped and
// counted in bad.
func Sample(fs afero.Fs, path string, maxRows int) (sch Schema, rows [][]string, bad int, err error) {
	sch, err = ReadSchema(fs, path)
	if err != nil {
		return Schema{}, nil, 0, err
	}

	f, err := fs.Open(path)
	if err != nil {
		return Schema{}, nil, 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, LZ4Suffix) {
		r = lz4.NewReader(f)
	}

	cr := csv.NewReader(r)
	cr.Comma = sch.Separator
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	for maxRows <= 0 || len(rows) < maxRows {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				bad++
				continue
			}
			return Schema{}, nil, 0, fmt.Errorf("read %s: %w", path, err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" && len(sch.Columns) > 1 {
			continue
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		rows = append(rows, rec)
	}
	return sch, rows, bad, nil
}
