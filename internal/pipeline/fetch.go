package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/eunmann/tenders-report/internal/config"
	"github.com/eunmann/tenders-report/internal/logctx"
	"github.com/eunmann/tenders-report/pkg/logging"
	"github.com/eunmann/tenders-report/pkg/s3fetch"
)

// fetchInputs downloads the store's exports into its download directory
// and returns paths pointing at the local copies. An absent object is not
// an error: any stale local copy is removed so staging sees a missing source.
func (p *Pipeline) fetchInputs(ctx context.Context, storeID string, paths config.Paths) (config.Paths, error) {
	start := time.Now()
	log := logctx.FromContext(ctx)

	client, err := p.s3Client(ctx)
	if err != nil {
		return paths, fmt.Errorf("s3 client: %w", err)
	}

	var total int64
	fetch := func(local string) (string, error) {
		name := filepath.Base(local)
		key := s3fetch.JoinKey(p.cfg.S3.Prefix, storeID, name)
		dest := filepath.Join(paths.DownloadDir, name)

		n, err := client.DownloadFile(ctx, p.cfg.S3.Bucket, key, dest)
		if errors.Is(err, s3fetch.ErrNotFound) {
			log.Warn().Str("s3_uri", s3fetch.FormatS3URI(p.cfg.S3.Bucket, key)).Msg("export not found in s3")
			if rmErr := os.Remove(dest); rmErr != nil && !os.IsNotExist(rmErr) {
				return "", fmt.Errorf("remove stale export: %w", rmErr)
			}
			return dest, nil
		}
		if err != nil {
			return "", fmt.Errorf("fetch %s: %w", name, err)
		}
		total += n
		return dest, nil
	}

	if paths.StoreFile, err = fetch(paths.StoreFile); err != nil {
		return paths, err
	}
	if paths.JournalFile, err = fetch(paths.JournalFile); err != nil {
		return paths, err
	}

	logging.PhaseComplete(log, logging.PhaseFetch, time.Since(start)).
		Bytes("bytes", total).
		Str("bucket", p.cfg.S3.Bucket).
		Log("exports fetched")
	return paths, nil
}

func (p *Pipeline) uploadReport(ctx context.Context, outPath string) (string, error) {
	client, err := p.s3Client(ctx)
	if err != nil {
		return "", fmt.Errorf("s3 client: %w", err)
	}
	key := s3fetch.JoinKey(p.cfg.S3.ReportPrefix, filepath.Base(outPath))
	if err := client.UploadFile(ctx, outPath, p.cfg.S3.Bucket, key); err != nil {
		return "", fmt.Errorf("upload report: %w", err)
	}
	uri := s3fetch.FormatS3URI(p.cfg.S3.Bucket, key)
	log := logctx.FromContext(ctx)
	log.Info().Str("s3_uri", uri).Msg("report uploaded")
	return uri, nil
}

// DiscoverStores lists store ids under the configured S3 prefix.
func (p *Pipeline) DiscoverStores(ctx context.Context) ([]string, error) {
	if !p.s3Enabled() {
		return nil, errors.New("store discovery requires s3.bucket")
	}
	client, err := p.s3Client(ctx)
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return client.ListStorePrefixes(ctx, p.cfg.S3.Bucket, p.cfg.S3.Prefix)
}
