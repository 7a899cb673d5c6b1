package config

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path is a dotted config path.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

// knownStorageKinds must stay in sync with the backends linked into cmd/calibprep.
var knownStorageKinds = map[string]bool{"sqlite": true, "postgres": true, "mssql": true}

// ValidatePipeline checks p and returns every issue found, errors first.
// A config with no error-severity issues is runnable.
func ValidatePipeline(p Pipeline) []Issue {
	var out []Issue
	add := func(sev Severity, path, format string, a ...any) {
		out = append(out, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	if strings.TrimSpace(p.Input.Dir) == "" {
		add(SeverityError, "input.dir", "input directory is required")
	}

	files := map[string]string{
		"input.files.scans":        p.Input.Files.Scans,
		"input.files.joins":        p.Input.Files.Joins,
		"input.files.join_stages":  p.Input.Files.JoinStages,
		"input.files.table_meta":   p.Input.Files.TableMeta,
		"input.files.column_meta":  p.Input.Files.ColumnMeta,
		"input.files.segment_meta": p.Input.Files.SegmentMeta,
	}
	for path, name := range files {
		if strings.TrimSpace(name) == "" {
			add(SeverityError, path, "file name is required")
		} else if strings.ContainsAny(name, `/\`) {
			add(SeverityWarning, path, "file name %q contains a path separator; it is resolved relative to input.dir", name)
		}
	}

	switch p.Assemble.FillPolicy {
	case FillZero, FillNull:
	default:
		add(SeverityError, "assemble.fill_policy", "unknown fill policy %q (want %q or %q)", p.Assemble.FillPolicy, FillZero, FillNull)
	}

	if s := p.Assemble.OutlierSigma; s < 0 || math.IsNaN(s) || math.IsInf(s, 0) {
		add(SeverityError, "assemble.outlier_sigma", "must be a finite number >= 0, got %v", s)
	}

	if strings.TrimSpace(p.Assemble.Sides.FlipColumn) == "" {
		add(SeverityError, "assemble.sides.flip_column", "flip column is required")
	}
	for base, pair := range p.Assemble.Sides.Pairs {
		path := "assemble.sides.pairs." + base
		if pair.Left == "" || pair.Right == "" {
			add(SeverityError, path, "both left and right columns are required")
		} else if pair.Left == pair.Right {
			add(SeverityError, path, "left and right name the same column %q", pair.Left)
		}
	}

	if p.Storage.Kind != "" {
		if !knownStorageKinds[p.Storage.Kind] {
			add(SeverityError, "storage.kind", "unsupported storage kind %q", p.Storage.Kind)
		}
		if strings.TrimSpace(p.Storage.DSN) == "" {
			add(SeverityError, "storage.dsn", "dsn is required when storage.kind is set")
		}
		switch p.Storage.Mode {
		case ModeReplace, ModeAppend:
		default:
			add(SeverityError, "storage.mode", "unknown mode %q (want %q or %q)", p.Storage.Mode, ModeReplace, ModeAppend)
		}
	}

	if p.Export.Compress && p.Export.Dir == "" {
		add(SeverityWarning, "export.compress", "compression has no effect without export.dir")
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return out[i].Severity == SeverityError
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// HasErrors reports whether issues contain an error-severity entry.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}
