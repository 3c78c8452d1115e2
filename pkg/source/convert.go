package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// WriteCSV copies every record of r to w as CSV, with a header row of the
// source field names. Returns the number of data rows written.
func WriteCSV(w io.Writer, r Reader) (int, error) {
	fields := r.Fields()
	cw := csv.NewWriter(w)
	if err := cw.Write(fields); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	row := make([]string, len(fields))
	var n int
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, fmt.Errorf("read record %d: %w", n+1, err)
		}
		for i, f := range fields {
			row[i] = rec.Get(f)
		}
		if err := cw.Write(row); err != nil {
			return n, fmt.Errorf("write record %d: %w", n+1, err)
		}
		n++
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return n, fmt.Errorf("flush csv: %w", err)
	}
	return n, nil
}
