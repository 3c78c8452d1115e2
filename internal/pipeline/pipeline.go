// Package pipeline runs the tenders report for one store or a batch of
// stores: fetch exports, stage them, aggregate the journal and write the
// report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/eunmann/tenders-report/internal/config"
	"github.com/eunmann/tenders-report/internal/logctx"
	"github.com/eunmann/tenders-report/pkg/fileutil"
	"github.com/eunmann/tenders-report/pkg/logging"
	"github.com/eunmann/tenders-report/pkg/report"
	"github.com/eunmann/tenders-report/pkg/s3fetch"
	"github.com/eunmann/tenders-report/pkg/source"
	"github.com/eunmann/tenders-report/pkg/staging"
)

// ErrNoJournal is returned when the journal staged zero rows. No report is
// written in that case.
var ErrNoJournal = errors.New("no journal records")

// Result describes one completed store run.
type Result struct {
	RunID       string
	StoreID     string
	StoreName   string
	StoreRows   int
	JournalRows int
	Pairs       int
	Rows        int
	OutputPath  string
	// UploadURI is set when the report was uploaded to S3.
	UploadURI string
	Elapsed   time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithS3Client sets the client used for fetching exports and uploading
// reports. Without it a client is built from the default AWS configuration
// the first time S3 is needed.
func WithS3Client(c *s3fetch.Client) Option {
	return func(p *Pipeline) { p.s3 = c }
}

// Pipeline runs stores one at a time against a fixed configuration.
type Pipeline struct {
	cfg config.Config
	s3  *s3fetch.Client
}

// New creates a pipeline. cfg.StoreID is ignored; store ids are passed to
// Run and RunBatch.
func New(cfg config.Config, opts ...Option) *Pipeline {
	p := &Pipeline{cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes the pipeline for cfg.StoreID.
func Run(ctx context.Context, cfg config.Config, opts ...Option) (*Result, error) {
	if err := cfg.ValidateStore(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return New(cfg, opts...).Run(ctx, cfg.StoreID)
}

func (p *Pipeline) s3Enabled() bool {
	return p.cfg.S3.Bucket != ""
}

func (p *Pipeline) s3Client(ctx context.Context) (*s3fetch.Client, error) {
	if p.s3 != nil {
		return p.s3, nil
	}
	c, err := s3fetch.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	p.s3 = c
	return c, nil
}

// Run executes the pipeline for one store.
func (p *Pipeline) Run(ctx context.Context, storeID string) (*Result, error) {
	start := time.Now()

	cfg := p.cfg
	cfg.StoreID = storeID
	if err := cfg.ValidateStore(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	res := &Result{RunID: uuid.NewString(), StoreID: storeID}
	ctx = logctx.WithRun(ctx, res.RunID)
	ctx = logctx.WithStore(ctx, storeID)
	log := logctx.FromContext(ctx)

	paths := cfg.ForStore(storeID)
	res.OutputPath = paths.Output

	if p.s3Enabled() {
		var err error
		if paths, err = p.fetchInputs(ctx, storeID, paths); err != nil {
			return nil, err
		}
	}

	if err := fileutil.RemoveStaleTmp(paths.Output); err != nil {
		log.Debug().Err(err).Msg("tmp cleanup failed")
	}

	store, err := staging.Open(cfg.StagingFor(storeID))
	if err != nil {
		return nil, fmt.Errorf("open staging: %w", err)
	}
	defer store.Close()

	stageStart := time.Now()
	if res.StoreRows, err = stageTable(ctx, paths.StoreFile, "store-info", store.LoadStores); err != nil {
		return nil, err
	}
	if res.JournalRows, err = stageTable(ctx, paths.JournalFile, "journal", store.LoadJournal); err != nil {
		return nil, err
	}
	logging.PhaseComplete(log, logging.PhaseStaging, time.Since(stageStart)).
		Count("store_rows", int64(res.StoreRows)).
		Count("journal_rows", int64(res.JournalRows)).
		Log("staging complete")

	if res.JournalRows == 0 {
		log.Warn().Str("path", paths.JournalFile).Msg("journal is empty, no report written")
		return nil, fmt.Errorf("store %s: %w", storeID, ErrNoJournal)
	}

	// The staging connection is single-use: read the name before the
	// journal cursor is opened.
	if res.StoreName, err = store.StoreName(ctx, storeID); err != nil {
		return nil, err
	}

	rows, pairs, err := aggregate(ctx, store, cfg.ReportOptions(), storeID, res.StoreName)
	if err != nil {
		return nil, err
	}
	res.Rows, res.Pairs = len(rows), pairs

	writeStart := time.Now()
	format := report.FormatForPath(paths.Output)
	err = fileutil.WriteAtomic(paths.Output, func(w io.Writer) error {
		return report.Write(w, format, rows)
	})
	if err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}
	logging.FileCreated(log, logging.PhaseWrite, time.Since(writeStart)).
		Str("path", paths.Output).
		Str("format", string(format)).
		Count("rows", int64(len(rows))).
		Log("report written")

	if cfg.S3.ReportPrefix != "" {
		if res.UploadURI, err = p.uploadReport(ctx, paths.Output); err != nil {
			return nil, err
		}
	}

	res.Elapsed = time.Since(start)
	logging.StoreComplete(log, res.Elapsed).
		Str("store_name", res.StoreName).
		Count("pairs", int64(res.Pairs)).
		Count("rows", int64(res.Rows)).
		Log("store complete")

	return res, nil
}

// stageTable opens a source table and loads it with load. A missing source
// is logged and staged as an empty table.
func stageTable(ctx context.Context, path, table string, load func(context.Context, source.Reader) (int, error)) (int, error) {
	log := logctx.FromContext(ctx)

	r, err := source.Open(path)
	if errors.Is(err, source.ErrMissingSource) {
		log.Warn().Err(err).Str("table", table).Msg("source table missing, staging zero rows")
		return load(ctx, nil)
	}
	if err != nil {
		return 0, fmt.Errorf("open %s table: %w", table, err)
	}
	defer r.Close()

	n, err := load(ctx, r)
	if err != nil {
		return 0, fmt.Errorf("stage %s table from %s: %w", table, path, err)
	}
	return n, nil
}

func aggregate(ctx context.Context, store *staging.Store, opts report.Options, storeID, storeName string) ([]report.Row, int, error) {
	start := time.Now()

	it, err := store.IterateJournal(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer it.Close()

	rows, err := report.Build(opts, storeID, storeName, it)
	if err != nil {
		return nil, 0, err
	}
	pairs := report.PairCount(rows)

	logging.PhaseComplete(logctx.FromContext(ctx), logging.PhaseAggregate, time.Since(start)).
		Count("pairs", int64(pairs)).
		Count("groups", int64(len(rows))).
		Log("aggregation complete")

	return rows, pairs, nil
}
