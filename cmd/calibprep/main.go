// Command calibprep assembles calibration training tables from a directory of
// headerless CSV exports, then optionally writes them back out as CSV and
// persists them to a SQL database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"calibprep/internal/calib"
	"calibprep/internal/config"
	"calibprep/internal/export"
	"calibprep/internal/logging"
	"calibprep/internal/metrics"
	"calibprep/internal/metrics/datadog"
	"calibprep/internal/storage"
	"calibprep/internal/table"

	// register all backends with the storage factory.
	_ "calibprep/internal/storage/all"
)

// appDeps holds the side-effecting seams of runMain so tests can replace them.
type appDeps struct {
	fs          afero.Fs
	initMetrics func(ctx context.Context, backend, job string, logger *slog.Logger) (func(), error)
	openRepo    func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
}

func defaultDeps() appDeps {
	return appDeps{
		fs:          afero.NewOsFs(),
		initMetrics: initMetrics,
		openRepo:    storage.New,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

type cliFlags struct {
	configPath     string
	dir            string
	out            string
	compress       bool
	storageKind    string
	dsn            string
	metricsBackend string
	seqURL         string
	validate       bool
	verbose        bool
}

// runMain is main without os.Exit. Exit codes: 0 success, 1 runtime or
// config error, 2 usage error.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	var f cliFlags
	fset := flag.NewFlagSet("calibprep", flag.ContinueOnError)
	fset.SetOutput(stderr)
	fset.StringVar(&f.configPath, "config", "", "pipeline config YAML/JSON path (optional)")
	fset.StringVar(&f.dir, "dir", "", "input directory with the CSV exports (overrides input.dir)")
	fset.StringVar(&f.out, "out", "", "export directory for the result tables (overrides export.dir)")
	fset.BoolVar(&f.compress, "compress", false, "lz4-compress exported CSV files")
	fset.StringVar(&f.storageKind, "storage-kind", "", "storage backend: sqlite, postgres, mssql (overrides storage.kind)")
	fset.StringVar(&f.dsn, "dsn", "", "storage DSN (overrides env CALIBPREP_DSN and storage.dsn)")
	fset.StringVar(&f.metricsBackend, "metrics-backend", "", "metrics backend: datadog or none (overrides env METRICS_BACKEND)")
	fset.StringVar(&f.seqURL, "seq-url", "", "ship logs to this Seq server as well")
	fset.BoolVar(&f.validate, "validate", false, "validate the configuration and exit")
	fset.BoolVar(&f.verbose, "v", false, "enable verbose logs")

	if err := fset.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fset.NArg() > 0 {
		fmt.Fprintf(stderr, "usage: calibprep [flags]; unexpected argument %q\n", fset.Arg(0))
		return 2
	}

	p := config.Default()
	if strings.TrimSpace(f.configPath) != "" {
		var err error
		if p, err = config.Load(deps.fs, f.configPath); err != nil {
			fmt.Fprintf(stderr, "load config: %v\n", err)
			return 1
		}
	}
	if err := applyOverrides(&p, f); err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}

	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		fmt.Fprintln(stderr, "configuration is invalid")
		return 1
	}
	if f.validate {
		fmt.Fprintln(stdout, "configuration is valid")
		return 0
	}

	level := slog.LevelInfo
	if f.verbose {
		level = slog.LevelDebug
	}
	logger, flushLogs := logging.Setup(logging.Options{Writer: stderr, Level: level, SeqURL: f.seqURL})
	defer flushLogs()

	// Decide metrics backend: flag → env → none.
	backend := f.metricsBackend
	if backend == "" {
		backend = os.Getenv("METRICS_BACKEND")
	}
	closeMetrics, err := deps.initMetrics(ctx, backend, p.Job, logger)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer closeMetrics()

	if err := run(ctx, p, deps, stdout, logger); err != nil {
		logger.Error("run failed", slog.String("error", err.Error()))
		fmt.Fprintf(stderr, "run: %v\n", err)
		return 1
	}
	return 0
}

// applyOverrides layers flags and environment over the config file.
func applyOverrides(p *config.Pipeline, f cliFlags) error {
	if f.dir != "" {
		p.Input.Dir = f.dir
	}
	if f.out != "" {
		p.Export.Dir = f.out
	}
	if f.compress {
		p.Export.Compress = true
	}
	if f.storageKind != "" {
		p.Storage.Kind = f.storageKind
	}
	if p.Storage.Kind == "" {
		return nil
	}
	dsn, err := resolveDSN(p.Storage.Kind, f.dsn, p.Storage.DSN)
	if err != nil {
		return err
	}
	p.Storage.DSN = dsn
	return nil
}

// assemblerOptions maps the config file onto calib.Options.
func assemblerOptions(p config.Pipeline) calib.Options {
	opts := calib.DefaultOptions()
	opts.Files = calib.Files{
		Scans:       p.Input.Files.Scans,
		Joins:       p.Input.Files.Joins,
		JoinStages:  p.Input.Files.JoinStages,
		TableMeta:   p.Input.Files.TableMeta,
		ColumnMeta:  p.Input.Files.ColumnMeta,
		SegmentMeta: p.Input.Files.SegmentMeta,
	}
	opts.FillPolicy = calib.FillPolicy(p.Assemble.FillPolicy)
	opts.EnrichTwoInput = p.Assemble.EnrichTwoInput
	opts.SkipBadRows = p.Assemble.SkipBadRows
	opts.OutlierSigma = p.Assemble.OutlierSigma
	opts.Sides.FlipColumn = p.Assemble.Sides.FlipColumn
	if len(p.Assemble.Sides.Pairs) > 0 {
		opts.Sides.Pairs = make(map[string]calib.SidePair, len(p.Assemble.Sides.Pairs))
		for base, pair := range p.Assemble.Sides.Pairs {
			opts.Sides.Pairs[base] = calib.SidePair{Left: pair.Left, Right: pair.Right}
		}
	}
	return opts
}

func run(ctx context.Context, p config.Pipeline, deps appDeps, stdout io.Writer, logger *slog.Logger) error {
	start := time.Now()

	a := calib.New(deps.fs, assemblerOptions(p), logger)
	res, stats, err := a.AssembleAll(ctx, p.Input.Dir)
	if err != nil {
		return err
	}

	datasets := []storage.Dataset{
		{Name: "general", Table: res.General},
		{Name: "joins", Table: res.Joins},
		{Name: "join_stages", Table: res.JoinStages},
	}

	var exported []string
	if p.Export.Dir != "" {
		for _, ds := range datasets {
			path, err := export.Write(deps.fs, p.Export.Dir, ds.Name, ds.Table, export.Options{Compress: p.Export.Compress})
			if err != nil {
				return err
			}
			exported = append(exported, path)
			logger.Debug("exported table", slog.String("path", path))
		}
	}

	var persisted storage.PersistResult
	if p.Storage.Kind != "" {
		repo, err := deps.openRepo(ctx, storage.Config{Kind: p.Storage.Kind, DSN: p.Storage.DSN})
		if err != nil {
			return fmt.Errorf("open %s storage: %w", p.Storage.Kind, err)
		}
		defer repo.Close()

		persisted, err = storage.Persist(ctx, repo, datasets, storage.PersistOptions{
			Prefix: p.Storage.TablePrefix,
			Mode:   storage.Mode(p.Storage.Mode),
			Logger: logger,
		})
		if err != nil {
			return err
		}
	}

	printSummary(stdout, res, stats, exported, persisted, time.Since(start))
	return nil
}

func printSummary(w io.Writer, res calib.Result, stats calib.Stats, exported []string, persisted storage.PersistResult, took time.Duration) {
	pr := message.NewPrinter(language.English)
	bold := color.New(color.Bold)
	ok := color.New(color.FgGreen)
	warn := color.New(color.FgYellow)

	rows := []struct {
		name string
		t    *table.Table
		s    calib.FamilyStats
	}{
		{"general", res.General, stats.General},
		{"joins", res.Joins, stats.Joins},
		{"join_stages", res.JoinStages, stats.JoinStages},
	}

	bold.Fprintf(w, "%-12s %10s %10s %9s %9s %9s %10s\n", "dataset", "rows", "loaded", "outliers", "unmatched", "dropped", "columns")
	for _, r := range rows {
		dropped := r.s.Outliers + r.s.ExpressionRows + r.s.Incomplete
		line := pr.Sprintf("%-12s %10d %10d %9d %9d %9d %10d\n",
			r.name, r.t.NumRows(), r.s.Loaded, r.s.Outliers, r.s.UnmatchedMeta, dropped, r.t.NumCols())
		if r.t.NumRows() == 0 || r.s.UnmatchedMeta > 0 {
			warn.Fprint(w, line)
		} else {
			ok.Fprint(w, line)
		}
	}
	for _, path := range exported {
		fmt.Fprintf(w, "exported %s\n", path)
	}
	if persisted.RunID != "" {
		fmt.Fprintf(w, "persisted run %s\n", persisted.RunID)
	}
	fmt.Fprintf(w, "completed in %s\n", took.Truncate(time.Millisecond))
}

// initMetrics installs the selected metrics backend and returns its cleanup.
func initMetrics(ctx context.Context, backend, job string, logger *slog.Logger) (func(), error) {
	switch backend {
	case "", "none":
		logger.Debug("metrics disabled", slog.String("backend", backend))
		return func() {}, nil

	case "datadog":
		// Optional extra tags provided via the environment. The backend adds
		// env:<...> and job:<...> itself.
		extraTags := datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS"))
		b, err := datadog.NewBackend(ctx, datadog.Options{JobName: job, Tags: extraTags})
		if err != nil {
			return nil, err
		}
		logger.Info("metrics enabled", slog.String("backend", backend), slog.String("job", job), slog.Any("tags", extraTags))
		metrics.SetBackend(b)
		return func() {
			// Close stops the flush loop and then performs a final Flush.
			if err := b.Close(); err != nil {
				logger.Warn("metrics close", slog.String("error", err.Error()))
			}
		}, nil

	default:
		return nil, fmt.Errorf("unknown metrics backend %q", backend)
	}
}
