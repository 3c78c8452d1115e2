// Package cli implements the command-line interface for tenders-report.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/eunmann/tenders-report/internal/config"
	"github.com/eunmann/tenders-report/internal/pipeline"
	"github.com/eunmann/tenders-report/pkg/fileutil"
	"github.com/eunmann/tenders-report/pkg/logging"
	"github.com/eunmann/tenders-report/pkg/source"
)

const usage = `usage: tenders-report <command> [flags] [args]
commands:
  report   [flags] <store-id>     build the tenders report for one store
  batch    [flags] [store-id...]  build reports for several stores
  convert  [flags] <table>        convert a DBF table to CSV
flags must come before positional arguments`

// defaultEnvFile is loaded when present and --env-file is not given.
const defaultEnvFile = ".env"

// Run executes the CLI with the given arguments.
func Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}

	switch args[0] {
	case "report":
		return runReport(ctx, args[1:])
	case "batch":
		return runBatch(ctx, args[1:])
	case "convert":
		return runConvert(args[1:])
	case "help", "-h", "--help":
		fmt.Fprintln(os.Stderr, usage)
		return nil
	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

// configFlags are shared by report and batch. String flags override the
// config file and environment only when given on the command line.
type configFlags struct {
	configPath string
	envFile    string
	debug      bool
	human      bool
	s3URI      string

	overrides map[string]*string
}

func registerConfigFlags(fs *flag.FlagSet) *configFlags {
	cf := &configFlags{overrides: make(map[string]*string)}
	fs.StringVar(&cf.configPath, "config", "", "YAML config file")
	fs.StringVar(&cf.envFile, "env-file", "", "dotenv file to load (default .env when present)")
	fs.BoolVar(&cf.debug, "debug", false, "enable debug logging")
	fs.BoolVar(&cf.human, "human", false, "human-friendly console logs")
	fs.StringVar(&cf.s3URI, "s3-uri", "", "s3://bucket/prefix of the exports, replaces --s3-bucket and --s3-prefix")

	str := func(name, usage string) {
		cf.overrides[name] = fs.String(name, "", usage)
	}
	str("store-file", "store-info table path, may contain {store}")
	str("journal-file", "journal table path, may contain {store}")
	str("staging-db", "SQLite staging database path, may contain {store}")
	str("out", "report path (.csv or .parquet), may contain {store}")
	str("failed-log", "batch: file listing failed store ids")
	str("currency", "currency written on every row")
	str("from", "earliest sale date to include (inclusive)")
	str("to", "latest sale date to include (inclusive)")
	str("s3-bucket", "fetch exports from this S3 bucket")
	str("s3-prefix", "key prefix above the per-store export directories")
	str("s3-report-prefix", "upload reports under this key prefix")
	return cf
}

// load builds the configuration: defaults, config file, dotenv and
// environment, then explicitly set flags. It also initializes logging.
func (cf *configFlags) load(fs *flag.FlagSet) (config.Config, error) {
	if err := loadEnvFile(cf.envFile); err != nil {
		return config.Config{}, err
	}

	cfg := config.Default()
	if cf.configPath != "" {
		var err error
		if cfg, err = config.Load(cf.configPath); err != nil {
			return cfg, err
		}
	}
	cfg.ApplyEnv(os.Getenv)

	targets := map[string]*string{
		"store-file":       &cfg.Input.StoreFile,
		"journal-file":     &cfg.Input.JournalFile,
		"staging-db":       &cfg.Staging.Path,
		"out":              &cfg.Output.Path,
		"failed-log":       &cfg.Output.FailedLog,
		"currency":         &cfg.Report.Currency,
		"from":             &cfg.Report.DateFrom,
		"to":               &cfg.Report.DateTo,
		"s3-bucket":        &cfg.S3.Bucket,
		"s3-prefix":        &cfg.S3.Prefix,
		"s3-report-prefix": &cfg.S3.ReportPrefix,
	}
	var uriErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "debug":
			cfg.Log.Debug = cf.debug
		case "human":
			cfg.Log.Human = cf.human
		case "s3-uri":
			if err := cfg.SetS3Source(cf.s3URI); err != nil {
				uriErr = fmt.Errorf("--s3-uri: %w", err)
			}
		default:
			if dst, ok := targets[f.Name]; ok {
				*dst = *cf.overrides[f.Name]
			}
		}
	})
	if uriErr != nil {
		return cfg, uriErr
	}

	logging.Init(cfg.Log.Debug, cfg.Log.Human)
	return cfg, nil
}

func loadEnvFile(path string) error {
	if path == "" {
		if !fileutil.Exists(defaultEnvFile) {
			return nil
		}
		path = defaultEnvFile
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// positional returns the arguments left after flag parsing. Parsing stops
// at the first non-flag argument, so a flag placed after it would otherwise
// be taken as a store id.
func positional(fs *flag.FlagSet) ([]string, error) {
	args := fs.Args()
	for _, a := range args {
		if len(a) > 1 && strings.HasPrefix(a, "-") {
			return nil, fmt.Errorf("flag %s after %q: flags must come before positional arguments", a, args[0])
		}
	}
	return args, nil
}

func runReport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	cf := registerConfigFlags(fs)
	store := fs.String("store", "", "store id (or pass it as the only argument)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	ids, err := positional(fs)
	if err != nil {
		return err
	}
	if len(ids) > 1 {
		return errors.New("report takes at most one store id")
	}

	cfg, err := cf.load(fs)
	if err != nil {
		return err
	}
	switch {
	case *store != "":
		cfg.StoreID = *store
	case len(ids) == 1:
		cfg.StoreID = ids[0]
	}

	res, err := pipeline.Run(ctx, cfg)
	if errors.Is(err, pipeline.ErrNoJournal) {
		logging.L().Warn().Str("store_id", cfg.StoreID).Msg("no journal records, report skipped")
		return nil
	}
	if err != nil {
		return err
	}

	logging.L().Info().
		Str("store_id", res.StoreID).
		Str("output", res.OutputPath).
		Int("rows", res.Rows).
		Msg("report ready")
	return nil
}

func runBatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	cf := registerConfigFlags(fs)
	stores := fs.String("stores", "", "comma-separated store ids (default: list the S3 prefix)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	ids, err := positional(fs)
	if err != nil {
		return err
	}

	cfg, err := cf.load(fs)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	for _, id := range strings.Split(*stores, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	p := pipeline.New(cfg)
	if len(ids) == 0 {
		if ids, err = p.DiscoverStores(ctx); err != nil {
			return fmt.Errorf("discover stores: %w", err)
		}
	}
	if len(ids) == 0 {
		return errors.New("no store ids given or found")
	}

	_, err = p.RunBatch(ctx, ids)
	return err
}

func runConvert(args []string) error {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	out := fs.String("out", "", "output CSV path (default: input path with .csv extension)")
	debug := fs.Bool("debug", false, "enable debug logging")
	human := fs.Bool("human", false, "human-friendly console logs")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("convert takes exactly one input table")
	}
	logging.Init(*debug, *human)

	in := fs.Arg(0)
	outPath := *out
	if outPath == "" {
		outPath = strings.TrimSuffix(in, filepath.Ext(in)) + ".csv"
	}
	if filepath.Clean(outPath) == filepath.Clean(in) {
		return fmt.Errorf("output %s would overwrite the input", outPath)
	}

	start := time.Now()
	r, err := source.Open(in)
	if err != nil {
		return err
	}
	defer r.Close()

	var rows int
	err = fileutil.WriteAtomic(outPath, func(w io.Writer) error {
		var werr error
		rows, werr = source.WriteCSV(w, r)
		return werr
	})
	if err != nil {
		return fmt.Errorf("convert %s: %w", in, err)
	}

	logging.FileCreated(*logging.L(), logging.PhaseConvert, time.Since(start)).
		Str("input", in).
		Str("path", outPath).
		Count("rows", int64(rows)).
		Log("table converted")
	return nil
}
