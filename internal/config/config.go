// Package config defines the calibprep pipeline configuration file.
//
// The file is YAML; since YAML is a superset of JSON, JSON configs decode as
// well. Unset fields take the values from Default.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Fill policies for missing values left after assembly.
const (
	// FillZero replaces missing numbers with 0, missing strings with "0" and
	// missing bools with false. This matches what the training code expects.
	FillZero = "zero"
	// FillNull keeps missing cells (only non-finite numbers become 0); the final
	// strictness pass then drops incomplete rows.
	FillNull = "null"
)

// Storage modes.
const (
	ModeReplace = "replace"
	ModeAppend  = "append"
)

type Pipeline struct {
	Job      string   `yaml:"job"`
	Input    Input    `yaml:"input"`
	Assemble Assemble `yaml:"assemble"`
	Export   Export   `yaml:"export"`
	Storage  Storage  `yaml:"storage"`
}

type Input struct {
	Dir   string `yaml:"dir"`
	Files Files  `yaml:"files"`
}

// Files names the CSV exports inside Input.Dir. Every file needs a
// "<name>.json" sidecar next to it.
type Files struct {
	Scans       string `yaml:"scans"`
	Joins       string `yaml:"joins"`
	JoinStages  string `yaml:"join_stages"`
	TableMeta   string `yaml:"table_meta"`
	ColumnMeta  string `yaml:"column_meta"`
	SegmentMeta string `yaml:"segment_meta"`
}

type Assemble struct {
	FillPolicy string `yaml:"fill_policy"`

	// EnrichTwoInput joins table/column/chunk metadata onto two-input
	// operator rows as well. Off by default.
	EnrichTwoInput bool `yaml:"enrich_two_input"`

	SkipBadRows bool `yaml:"skip_bad_rows"`

	// OutlierSigma is the number of standard deviations above the mean runtime
	// beyond which a measurement is dropped. Zero means 3.
	OutlierSigma float64 `yaml:"outlier_sigma"`

	Sides Sides `yaml:"sides"`
}

// Sides configures left/right → probe/build collapsing for join rows.
type Sides struct {
	FlipColumn string `yaml:"flip_column"`

	// Pairs maps an attribute base name to its explicit left/right columns.
	// Attributes listed here skip heuristic column matching.
	Pairs map[string]SidePair `yaml:"pairs"`
}

type SidePair struct {
	Left  string `yaml:"left"`
	Right string `yaml:"right"`
}

type Export struct {
	Dir      string `yaml:"dir"`
	Compress bool   `yaml:"compress"`
}

type Storage struct {
	// Kind selects the backend: "sqlite", "postgres", "mssql". Empty disables
	// persistence.
	Kind        string `yaml:"kind"`
	DSN         string `yaml:"dsn"`
	TablePrefix string `yaml:"table_prefix"`
	Mode        string `yaml:"mode"`
}

// Default returns the configuration used when no file is given.
func Default() Pipeline {
	return Pipeline{
		Job: "calibprep",
		Input: Input{
			Files: Files{
				Scans:       "scans.csv",
				Joins:       "joins.csv",
				JoinStages:  "join_stages.csv",
				TableMeta:   "table_meta.csv",
				ColumnMeta:  "column_meta.csv",
				SegmentMeta: "segment_meta.csv",
			},
		},
		Assemble: Assemble{
			FillPolicy:   FillZero,
			OutlierSigma: 3,
			Sides:        Sides{FlipColumn: "PROBE_SIDE_FLIP"},
		},
		Storage: Storage{
			TablePrefix: "calib_",
			Mode:        ModeReplace,
		},
	}
}

var errMultipleDocuments = errors.New("config contains multiple documents")

// Decode reads a single YAML document over Default(). Unknown fields are
// rejected. An empty document yields Default().
func Decode(r io.Reader) (Pipeline, error) {
	p := Default()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Pipeline{}, fmt.Errorf("decode config: %w", err)
	}
	if err := dec.Decode(&Pipeline{}); !errors.Is(err, io.EOF) {
		return Pipeline{}, errMultipleDocuments
	}
	return p, nil
}

// Load reads and decodes the config file at path.
func Load(fs afero.Fs, path string) (Pipeline, error) {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("open config: %w", err)
	}
	return Decode(bytes.NewReader(raw))
}
