package s3fetch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/eunmann/tenders-report/pkg/fileutil"
	"github.com/eunmann/tenders-report/pkg/logging"
)

// DownloadFile copies s3://bucket/key to destPath. The file is written to a
// temporary name first, so destPath is either complete or untouched.
// Returns the number of bytes written.
func (c *Client) DownloadFile(ctx context.Context, bucket, key, destPath string) (int64, error) {
	start := time.Now()

	body, err := c.StreamObject(ctx, bucket, key)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	var n int64
	err = fileutil.WriteAtomic(destPath, func(w io.Writer) error {
		var copyErr error
		n, copyErr = io.Copy(w, body)
		if copyErr != nil {
			return fmt.Errorf("download s3://%s/%s: %w", bucket, key, copyErr)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	log := logging.WithPhase(logging.PhaseFetch)
	log.Debug().
		Str("s3_uri", FormatS3URI(bucket, key)).
		Str("path", destPath).
		Int64("bytes", n).
		Dur("elapsed", time.Since(start)).
		Msg("downloaded object")

	return n, nil
}

// UploadFile copies the local file at srcPath to s3://bucket/key.
func (c *Client) UploadFile(ctx context.Context, srcPath, bucket, key string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open upload source: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat upload source: %w", err)
	}

	_, err = c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType(srcPath)),
	})
	if err != nil {
		return fmt.Errorf("put object s3://%s/%s: %w", bucket, key, err)
	}

	log := logging.WithPhase(logging.PhaseWrite)
	log.Debug().
		Str("s3_uri", FormatS3URI(bucket, key)).
		Int64("bytes", info.Size()).
		Msg("uploaded object")
	return nil
}

func contentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return "text/csv"
	case ".parquet":
		return "application/vnd.apache.parquet"
	default:
		return "application/octet-stream"
	}
}

// ListStorePrefixes returns the names of the immediate "directories" under
// prefix, sorted. With prefix "exports/" and keys "exports/0042/STR.DBF" and
// "exports/0043/JNL.DBF" it returns ["0042", "0043"].
func (c *Client) ListStorePrefixes(ctx context.Context, bucket, prefix string) ([]string, error) {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	p := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	seen := make(map[string]struct{})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", bucket, prefix, err)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name != "" {
				seen[name] = struct{}{}
			}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
