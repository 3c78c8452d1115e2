// Package s3fetchtest provides an in-memory S3 fake for tests.
package s3fetchtest

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Fake implements s3fetch.API over a map of bucket/key to content.
type Fake struct {
	// PageSize caps entries per ListObjectsV2 page. Zero means 1000.
	PageSize int
	// GetErr, when set, is returned by every GetObject call.
	GetErr error

	mu      sync.Mutex
	objects map[string][]byte
	puts    []string
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{objects: make(map[string][]byte)}
}

func objectID(bucket, key string) string {
	return bucket + "/" + key
}

// Put stores an object.
func (f *Fake) Put(bucket, key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[objectID(bucket, key)] = append([]byte(nil), data...)
}

// Object returns a stored object and whether it exists.
func (f *Fake) Object(bucket, key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[objectID(bucket, key)]
	return data, ok
}

// Uploads returns the object ids written through PutObject, in call order.
func (f *Fake) Uploads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.puts...)
}

// GetObject implements s3fetch.API.
func (f *Fake) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	data, ok := f.Object(aws.ToString(in.Bucket), aws.ToString(in.Key))
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

// PutObject implements s3fetch.API.
func (f *Fake) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	bucket, key := aws.ToString(in.Bucket), aws.ToString(in.Key)
	f.Put(bucket, key, data)

	f.mu.Lock()
	f.puts = append(f.puts, objectID(bucket, key))
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

// ListObjectsV2 implements s3fetch.API. Common prefixes and keys are
// listed together in key order and paged by PageSize.
func (f *Fake) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	bucket, prefix, delim := aws.ToString(in.Bucket), aws.ToString(in.Prefix), aws.ToString(in.Delimiter)

	type entry struct {
		name     string
		isPrefix bool
	}
	var entries []entry
	seenPrefix := make(map[string]bool)

	f.mu.Lock()
	for id := range f.objects {
		b, key, _ := strings.Cut(id, "/")
		if b != bucket || !strings.HasPrefix(key, prefix) {
			continue
		}
		if delim != "" {
			rest := key[len(prefix):]
			if i := strings.Index(rest, delim); i >= 0 {
				cp := prefix + rest[:i+len(delim)]
				if !seenPrefix[cp] {
					seenPrefix[cp] = true
					entries = append(entries, entry{name: cp, isPrefix: true})
				}
				continue
			}
		}
		entries = append(entries, entry{name: key})
	}
	f.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	startIdx := 0
	if tok := aws.ToString(in.ContinuationToken); tok != "" {
		n, err := strconv.Atoi(tok)
		if err != nil {
			return nil, err
		}
		startIdx = n
	}
	size := f.PageSize
	if size <= 0 {
		size = 1000
	}
	end := min(startIdx+size, len(entries))

	out := &s3.ListObjectsV2Output{}
	for _, e := range entries[startIdx:end] {
		if e.isPrefix {
			out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(e.name)})
		} else {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(e.name)})
		}
	}
	if end < len(entries) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	} else {
		out.IsTruncated = aws.Bool(false)
	}
	out.KeyCount = aws.Int32(int32(end - startIdx))
	return out, nil
}
