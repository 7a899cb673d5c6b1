// Command calibprobe profiles the CSV exports of a calibration run before they
// are assembled.
//
// For every sidecar ("<file>.json") in -dir it samples the data file, infers a
// kind per column and reports, per column, the declared and inferred kinds,
// value and missing counts, a bounded distinct count, and how many cells do
// not parse as the kind the loader will use. A declared type that the data
// violates is a conflict: calibprep would reject those rows.
//
// Output modes
//
//   - Default: a tab-separated text report per file on stdout.
//   - -json: one JSON document with all reports on stdout.
//
// Exit codes: 0 success, 1 read error or (with -strict) conflicts, 2 usage.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/afero"

	"calibprep/internal/parser/csv"
	"calibprep/internal/probe"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, afero.NewOsFs()))
}

func run(args []string, stdout, stderr io.Writer, fs afero.Fs) int {
	fset := flag.NewFlagSet("calibprobe", flag.ContinueOnError)
	fset.SetOutput(stderr)
	dir := fset.String("dir", "", "directory with CSV exports and their .json sidecars")
	maxRows := fset.Int("rows", 10000, "rows sampled per file (0 = all)")
	asJSON := fset.Bool("json", false, "emit reports as JSON")
	strict := fset.Bool("strict", false, "exit 1 when a declared column type conflicts with the data")
	keyRatio := fset.Float64("key-ratio", 0.1, "list columns whose distinct/values ratio is at most this as key candidates (text mode)")
	if err := fset.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*dir) == "" {
		fmt.Fprintln(stderr, "missing -dir")
		fset.Usage()
		return 2
	}

	paths, err := dataFiles(fs, *dir)
	if err != nil {
		fmt.Fprintf(stderr, "list %s: %v\n", *dir, err)
		return 1
	}
	if len(paths) == 0 {
		fmt.Fprintf(stderr, "no sidecars found in %s\n", *dir)
		return 1
	}

	reports := make([]probe.Report, 0, len(paths))
	for _, p := range paths {
		rep, err := profileFile(fs, p, *maxRows)
		if err != nil {
			fmt.Fprintf(stderr, "probe %s: %v\n", p, err)
			return 1
		}
		reports = append(reports, rep)
	}

	conflicts := 0
	for _, r := range reports {
		conflicts += len(r.Conflicts())
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			fmt.Fprintf(stderr, "encode: %v\n", err)
			return 1
		}
	} else {
		for i, r := range reports {
			if i > 0 {
				fmt.Fprintln(stdout)
			}
			if err := probe.WriteReport(stdout, r); err != nil {
				fmt.Fprintf(stderr, "write report: %v\n", err)
				return 1
			}
			if keys := probe.LowCardinality(r, *keyRatio); len(keys) > 0 {
				fmt.Fprintf(stdout, "key candidates: %s\n", strings.Join(keys, ", "))
			}
		}
		if conflicts > 0 {
			color.New(color.FgRed).Fprintf(stderr, "%d column(s) conflict with their declared type\n", conflicts)
		}
	}

	if *strict && conflicts > 0 {
		return 1
	}
	return 0
}

// dataFiles returns the data file of every sidecar in dir, sorted.
func dataFiles(fs afero.Fs, dir string) ([]string, error) {
	matches, err := afero.Glob(fs, filepath.Join(dir, "*"+csv.SidecarSuffix))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSuffix(m, csv.SidecarSuffix))
	}
	sort.Strings(out)
	return out, nil
}

func profileFile(fs afero.Fs, path string, maxRows int) (probe.Report, error) {
	sch, rows, bad, err := csv.Sample(fs, path, maxRows)
	if err != nil {
		return probe.Report{}, err
	}
	cols := make([]probe.DeclaredColumn, len(sch.Columns))
	for i, c := range sch.Columns {
		k, ok := sch.DeclaredKind(i)
		cols[i] = probe.DeclaredColumn{Name: c.Name, Kind: k, Declared: ok}
	}
	rep := probe.Profile(cols, rows)
	rep.Path = path
	rep.BadRows += bad
	return rep, nil
}
