package calib

// Column names written by the calibration exporter and produced by this
// package.
const (
	colTableName      = "TABLE_NAME"
	colColumnName     = "COLUMN_NAME"
	colChunkID        = "CHUNK_ID"
	colRuntime        = "RUNTIME_NS"
	colOutputRows     = "OUTPUT_ROWS"
	colInputRowsLeft  = "INPUT_ROWS_LEFT"
	colInputRowsRight = "INPUT_ROWS_RIGHT"
	colOperatorImpl   = "OPERATOR_IMPLEMENTATION"
	colJoinID         = "JOIN_ID"

	ColSelectivityLeft  = "SELECTIVITY_LEFT"
	ColSelectivityRight = "SELECTIVITY_RIGHT"

	// expressionEvaluatorImpl marks scans evaluated through the generic
	// expression path. The comparison data sets contain no such scans.
	expressionEvaluatorImpl = "ExpressionEvaluator"
)

// canonicalNames renames joined metadata columns to the names the cost model
// training code expects.
var canonicalNames = map[string]string{
	"CHUNK_SIZE":       "MAX_CHUNK_SIZE",
	"COLUMN_DATA_TYPE": "DATA_TYPE",
	"ENCODING_TYPE":    "ENCODING",
}

// FillPolicy selects how missing cells are handled after assembly.
type FillPolicy string

const (
	// FillZero: missing or non-finite numbers become 0, missing strings "0",
	// missing bools false.
	FillZero FillPolicy = "zero"
	// FillNull: only non-finite numbers become 0; missing cells stay missing.
	FillNull FillPolicy = "null"
)

// Files names the CSV exports inside an input directory.
type Files struct {
	Scans       string
	Joins       string
	JoinStages  string
	TableMeta   string
	ColumnMeta  string
	SegmentMeta string
}

// SidePair names the left and right column of one side-dependent attribute.
type SidePair struct {
	Left  string
	Right string
}

// SideConfig controls Disambiguate.
type SideConfig struct {
	// FlipColumn holds the per-row flip indicator.
	FlipColumn string
	// LeftLabel and RightLabel are the side tokens in column names.
	LeftLabel  string
	RightLabel string
	// ProbePrefix and BuildPrefix name the collapsed output columns.
	ProbePrefix string
	BuildPrefix string
	// Pairs declares attribute base name → columns explicitly. Attributes not
	// listed are matched heuristically.
	Pairs map[string]SidePair
}

// Options controls an Assembler.
type Options struct {
	Files          Files
	FillPolicy     FillPolicy
	EnrichTwoInput bool
	SkipBadRows    bool
	// OutlierSigma is k in "drop runtime > mean + k*stdev". Zero means 3.
	OutlierSigma float64
	Sides        SideConfig
}

// DefaultOptions returns the file names and policies of a standard
// calibration export.
func DefaultOptions() Options {
	return Options{
		Files: Files{
			Scans:       "scans.csv",
			Joins:       "joins.csv",
			JoinStages:  "join_stages.csv",
			TableMeta:   "table_meta.csv",
			ColumnMeta:  "column_meta.csv",
			SegmentMeta: "segment_meta.csv",
		},
		FillPolicy:   FillZero,
		OutlierSigma: 3,
		Sides:        DefaultSideConfig(),
	}
}

// DefaultSideConfig returns the exporter's flip column and side labels.
func DefaultSideConfig() SideConfig {
	return SideConfig{
		FlipColumn:  "PROBE_SIDE_FLIP",
		LeftLabel:   "LEFT",
		RightLabel:  "RIGHT",
		ProbePrefix: "PROBE_",
		BuildPrefix: "BUILD_",
	}
}

func (c SideConfig) withDefaults() SideConfig {
	d := DefaultSideConfig()
	if c.FlipColumn == "" {
		c.FlipColumn = d.FlipColumn
	}
	if c.LeftLabel == "" {
		c.LeftLabel = d.LeftLabel
	}
	if c.RightLabel == "" {
		c.RightLabel = d.RightLabel
	}
	if c.ProbePrefix == "" {
		c.ProbePrefix = d.ProbePrefix
	}
	if c.BuildPrefix == "" {
		c.BuildPrefix = d.BuildPrefix
	}
	return c
}
