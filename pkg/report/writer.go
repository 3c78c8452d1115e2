package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"
)

// Header is the fixed CSV column order.
var Header = []string{"Astoreid", "Storename", "date", "Type", "sale_amount", "sale_count", "currency"}

// OutputFormat selects the report encoding.
type OutputFormat string

const (
	FormatCSV     OutputFormat = "csv"
	FormatParquet OutputFormat = "parquet"
)

// FormatForPath picks parquet for *.parquet paths and CSV otherwise.
func FormatForPath(path string) OutputFormat {
	if strings.HasSuffix(strings.ToLower(path), ".parquet") {
		return FormatParquet
	}
	return FormatCSV
}

// Write encodes rows in the given format.
func Write(w io.Writer, format OutputFormat, rows []Row) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, rows)
	case FormatParquet:
		return WriteParquet(w, rows)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// WriteCSV writes the header and one line per row.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	record := make([]string, len(Header))
	for i, r := range rows {
		record[0] = r.StoreID
		record[1] = r.StoreName
		record[2] = r.Date
		record[3] = r.Type
		record[4] = FormatAmount(r.SaleAmount)
		record[5] = strconv.Itoa(r.SaleCount)
		record[6] = r.Currency
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// FormatAmount renders a float in its shortest round-tripping decimal form
// and always keeps a fractional part: 9.99 -> "9.99", 8 -> "8.0".
// Magnitudes below 1e-4 or from 1e16 up switch to exponent form
// ("1e+16", "1.5e-05").
func FormatAmount(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	e := strconv.FormatFloat(v, 'e', -1, 64)
	if exp, err := strconv.Atoi(e[strings.IndexByte(e, 'e')+1:]); err == nil && (exp < -4 || exp >= 16) {
		return e
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// parquetRow mirrors Row with the CSV column names.
type parquetRow struct {
	StoreID    string  `parquet:"Astoreid"`
	StoreName  string  `parquet:"Storename"`
	Date       string  `parquet:"date"`
	Type       string  `parquet:"Type"`
	SaleAmount float64 `parquet:"sale_amount"`
	SaleCount  int64   `parquet:"sale_count"`
	Currency   string  `parquet:"currency"`
}

// WriteParquet writes rows as a single-row-group parquet file.
func WriteParquet(w io.Writer, rows []Row) error {
	out := make([]parquetRow, len(rows))
	for i, r := range rows {
		out[i] = parquetRow{
			StoreID:    r.StoreID,
			StoreName:  r.StoreName,
			Date:       r.Date,
			Type:       r.Type,
			SaleAmount: r.SaleAmount,
			SaleCount:  int64(r.SaleCount),
			Currency:   r.Currency,
		}
	}

	pw := parquet.NewGenericWriter[parquetRow](w)
	if _, err := pw.Write(out); err != nil {
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

// ReadParquet decodes a report written by WriteParquet.
func ReadParquet(r io.ReaderAt, size int64) ([]Row, error) {
	in, err := parquet.Read[parquetRow](r, size)
	if err != nil {
		return nil, fmt.Errorf("read parquet rows: %w", err)
	}

	rows := make([]Row, len(in))
	for i, p := range in {
		rows[i] = Row{
			StoreID:    p.StoreID,
			StoreName:  p.StoreName,
			Date:       p.Date,
			Type:       p.Type,
			SaleAmount: p.SaleAmount,
			SaleCount:  int(p.SaleCount),
			Currency:   p.Currency,
		}
	}
	return rows, nil
}
