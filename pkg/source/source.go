// Package source opens exported point-of-sale tables as ordered record streams.
//
// A table may be a dBASE file (.dbf) or a CSV conversion of one (.csv,
// .csv.gz, .csv.zst). Every value is text. A field absent from a row reads as
// the empty string.
package source

import (
	"compress/gzip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/eunmann/tenders-report/pkg/dbf"
	"github.com/klauspost/compress/zstd"
)

// ErrMissingSource marks a table that could not be opened: the file is absent
// or its header is unreadable. Callers treat it as a table with zero rows.
var ErrMissingSource = errors.New("missing source")

// Record maps field name to text value.
type Record map[string]string

// Get returns the value of field, or "" when the field is absent.
func (r Record) Get(field string) string {
	return r[field]
}

// Reader yields records in source order.
type Reader interface {
	// Read returns the next record. Returns io.EOF when done.
	Read() (Record, error)
	// Fields returns the column names in source order.
	Fields() []string
	// Close releases resources.
	Close() error
}

// Format identifies the on-disk encoding of a table.
type Format int

const (
	FormatUnknown Format = iota
	FormatDBF
	FormatCSV
)

func (f Format) String() string {
	switch f {
	case FormatDBF:
		return "dbf"
	case FormatCSV:
		return "csv"
	default:
		return "unknown"
	}
}

// DetectFormat infers the format from the file name, ignoring a trailing
// .gz or .zst compression suffix.
func DetectFormat(path string) Format {
	name := strings.ToLower(filepath.Base(path))
	name = strings.TrimSuffix(name, ".gz")
	name = strings.TrimSuffix(name, ".zst")
	switch filepath.Ext(name) {
	case ".dbf":
		return FormatDBF
	case ".csv":
		return FormatCSV
	default:
		return FormatUnknown
	}
}

// Open opens the table at path. Failures to locate the file or to parse its
// header are reported as ErrMissingSource; failures while reading records
// later are returned as-is by Read.
func Open(path string) (Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMissingSource, path, err)
	}

	var (
		r   Reader
		err error
	)
	switch DetectFormat(path) {
	case FormatDBF:
		r, err = openDBF(path)
	case FormatCSV:
		r, err = openCSV(path)
	default:
		err = errors.New("unrecognized table format")
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMissingSource, path, err)
	}
	return r, nil
}

type dbfReader struct {
	r *dbf.Reader
}

func openDBF(path string) (Reader, error) {
	r, err := dbf.Open(path)
	if err != nil {
		return nil, err
	}
	return &dbfReader{r: r}, nil
}

func (d *dbfReader) Read() (Record, error) {
	rec, err := d.r.ReadMap()
	if err != nil {
		return nil, err
	}
	return Record(rec), nil
}

func (d *dbfReader) Fields() []string { return d.r.FieldNames() }
func (d *dbfReader) Close() error     { return d.r.Close() }

type csvReader struct {
	csvr    *csv.Reader
	header  []string
	closers []func() error
}

// newTableReader creates a csv.Reader configured for POS exports.
// Exports have ragged rows and stray quotes in free-text columns.
func newTableReader(r io.Reader) *csv.Reader {
	csvr := csv.NewReader(r)
	csvr.FieldsPerRecord = -1
	csvr.LazyQuotes = true
	return csvr
}

func openCSV(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	closers := []func() error{f.Close}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	r, closer, err := decompressReader(f, path)
	if err != nil {
		closeAll()
		return nil, err
	}
	if closer != nil {
		closers = append(closers, closer)
	}

	csvr := newTableReader(r)
	header, err := csvr.Read()
	if err != nil {
		closeAll()
		if errors.Is(err, io.EOF) {
			return nil, errors.New("no header row")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	header = append([]string(nil), header...)
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	return &csvReader{csvr: csvr, header: header, closers: closers}, nil
}

func (c *csvReader) Read() (Record, error) {
	row, err := c.csvr.Read()
	if err != nil {
		return nil, err
	}
	rec := make(Record, len(c.header))
	for i, name := range c.header {
		if i < len(row) {
			rec[name] = row[i]
		}
	}
	return rec, nil
}

func (c *csvReader) Fields() []string { return c.header }

func (c *csvReader) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// decompressReader wraps r according to the compression suffix of name.
// The returned closer may be nil if no wrapper was added.
func decompressReader(r io.Reader, name string) (io.Reader, func() error, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".gz"):
		gzr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("create gzip reader: %w", err)
		}
		return gzr, gzr.Close, nil
	case strings.HasSuffix(lower, ".zst"):
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("create zstd reader: %w", err)
		}
		return zr, func() error { zr.Close(); return nil }, nil
	default:
		return r, nil, nil
	}
}

// ReadAll drains r. It is meant for small tables and tests.
func ReadAll(r Reader) ([]Record, error) {
	var out []Record
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
