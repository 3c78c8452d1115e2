package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/eunmann/tenders-report/internal/logctx"
	"github.com/eunmann/tenders-report/pkg/fileutil"
	"github.com/eunmann/tenders-report/pkg/logging"
)

// ErrStoresFailed is returned by RunBatch when at least one store failed.
var ErrStoresFailed = errors.New("stores failed")

// StoreFailure records why one store in a batch did not produce a report.
type StoreFailure struct {
	StoreID string
	Err     error
}

// BatchResult summarizes a batch run.
type BatchResult struct {
	Results []*Result
	// Skipped holds stores whose journal was empty.
	Skipped []string
	Failed  []StoreFailure
	Elapsed time.Duration
}

// FailedIDs returns the ids of failed stores in run order.
func (b *BatchResult) FailedIDs() []string {
	ids := make([]string, len(b.Failed))
	for i, f := range b.Failed {
		ids[i] = f.StoreID
	}
	return ids
}

// RunBatch runs each store in ascending id order, one at a time. A store
// that fails is recorded and the batch moves on. Failed ids are written to
// the configured failed-stores log. Runs over more than one store require
// per-store paths (see config.ValidateBatch). The returned error wraps
// ErrStoresFailed when any store failed, or the context error when the batch
// was cancelled.
func (p *Pipeline) RunBatch(ctx context.Context, storeIDs []string) (*BatchResult, error) {
	start := time.Now()
	log := logging.WithPhase(logging.PhaseBatch)
	// Event helpers add the phase field themselves.
	events := logctx.FromContext(ctx)

	ids := slices.Clone(storeIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	if len(ids) > 1 {
		if err := p.cfg.ValidateBatch(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
	}

	tracker := logging.NewProgressTracker(logging.PhaseBatch, int64(len(ids)), events)
	out := &BatchResult{}

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			out.Elapsed = time.Since(start)
			return out, fmt.Errorf("batch cancelled after %d of %d stores: %w", i, len(ids), err)
		}

		logging.StoreStarted(events, id, int64(i), int64(len(ids)))
		storeStart := time.Now()

		res, err := p.Run(ctx, id)
		switch {
		case errors.Is(err, ErrNoJournal):
			tracker.RecordSkip()
			out.Skipped = append(out.Skipped, id)
		case err != nil:
			tracker.RecordFailure()
			out.Failed = append(out.Failed, StoreFailure{StoreID: id, Err: err})
			log.Error().Err(err).Str("store_id", id).Msg("store failed")
		default:
			tracker.RecordCompletion(time.Since(storeStart))
			out.Results = append(out.Results, res)
		}
		tracker.LogProgress(id)
	}

	out.Elapsed = time.Since(start)

	if len(out.Failed) > 0 && p.cfg.Output.FailedLog != "" {
		if err := writeFailedLog(p.cfg.Output.FailedLog, out.FailedIDs()); err != nil {
			return out, err
		}
		log.Info().
			Str("path", p.cfg.Output.FailedLog).
			Int("stores", len(out.Failed)).
			Msg("failed stores recorded")
	}

	logging.PhaseComplete(events, logging.PhaseBatch, out.Elapsed).
		ProgressFromTracker(tracker).
		Log("batch complete")

	if len(out.Failed) > 0 {
		return out, fmt.Errorf("%w: %d of %d", ErrStoresFailed, len(out.Failed), len(ids))
	}
	return out, nil
}

func writeFailedLog(path string, ids []string) error {
	err := fileutil.WriteAtomic(path, func(w io.Writer) error {
		for _, id := range ids {
			if _, err := fmt.Fprintln(w, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write failed-stores log: %w", err)
	}
	return nil
}
