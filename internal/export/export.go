// Package export writes assembled tables back out in the same layout the
// loader reads: a headerless CSV file plus a "<file>.json" sidecar naming the
// columns, their types and the separator.
package export

import (
	stdcsv "encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/pierrec/lz4/v4"
	"github.com/spf13/afero"

	"calibprep/internal/metrics"
	"calibprep/internal/parser/csv"
	"calibprep/internal/table"
)

// DefaultSeparator is used when Options.Separator is zero.
const DefaultSeparator = '|'

// Options controls Write.
type Options struct {
	Separator rune
	// Compress frames the CSV file with lz4 and appends csv.LZ4Suffix to its
	// name. The sidecar stays plain JSON.
	Compress bool
}

type sidecarColumn struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

type sidecar struct {
	Columns []sidecarColumn `json:"columns"`
	Config  struct {
		Separator string `json:"separator"`
	} `json:"config"`
}

// Write stores t as dir/<name>.csv (or .csv.lz4) with its sidecar and
// returns the data file path. Files are written under a temporary name and
// renamed into place, so a failed write never leaves a partial export.
func Write(fs afero.Fs, dir, name string, t *table.Table, opt Options) (path string, err error) {
	start := time.Now()
	defer func() { metrics.RecordStep("export_"+name, start, err) }()

	sep := opt.Separator
	if sep == 0 {
		sep = DefaultSeparator
	}
	path = filepath.Join(dir, name+".csv")
	if opt.Compress {
		path += csv.LZ4Suffix
	}

	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("export: mkdir %s: %w", dir, err)
	}
	if err := writeAtomic(fs, path, func(w io.Writer) error {
		if !opt.Compress {
			return writeRows(w, t, sep)
		}
		zw := lz4.NewWriter(w)
		if err := writeRows(zw, t, sep); err != nil {
			return err
		}
		return zw.Close()
	}); err != nil {
		return "", err
	}

	meta, err := json.MarshalIndent(sidecarFor(t, sep), "", "  ")
	if err != nil {
		return "", fmt.Errorf("export: encode sidecar: %w", err)
	}
	if err := writeAtomic(fs, path+csv.SidecarSuffix, func(w io.Writer) error {
		_, err := w.Write(append(meta, '\n'))
		return err
	}); err != nil {
		return "", err
	}
	metrics.RecordRows(name, "exported", t.NumRows())
	return path, nil
}

func writeRows(w io.Writer, t *table.Table, sep rune) error {
	cw := stdcsv.NewWriter(w)
	cw.Comma = sep

	rec := make([]string, t.NumCols())
	for i := 0; i < t.NumRows(); i++ {
		for j, v := range t.Row(i) {
			rec[j] = v.String()
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func sidecarFor(t *table.Table, sep rune) sidecar {
	var sc sidecar
	sc.Config.Separator = string(sep)
	for _, n := range t.Names() {
		k, _ := t.Kind(n)
		sc.Columns = append(sc.Columns, sidecarColumn{Name: n, Type: typeName(k), Nullable: true})
	}
	return sc
}

func typeName(k table.Kind) string {
	switch k {
	case table.KindNumber:
		return "double"
	case table.KindBool:
		return "boolean"
	default:
		return "string"
	}
}

func writeAtomic(fs afero.Fs, path string, fill func(io.Writer) error) error {
	tmp := path + ".tmp"
	f, err := fs.Create(tmp)
	if err != nil {
		return fmt.Errorf("export: create %s: %w", tmp, err)
	}
	if err := fill(f); err != nil {
		_ = f.Close()
		_ = fs.Remove(tmp)
		return fmt.Errorf("export: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = fs.Remove(tmp)
		return fmt.Errorf("export: close %s: %w", path, err)
	}
	if err := fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("export: rename %s: %w", path, err)
	}
	return nil
}
