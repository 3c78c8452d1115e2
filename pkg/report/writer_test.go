package report

import (
	"bytes"
	"math"
	"reflect"
	"testing"
)

func TestFormatAmount(t *testing.T) {
	// Summed at run time so the constant is not folded to exactly 0.3.
	a, b := 0.1, 0.2
	tests := []struct {
		in   float64
		want string
	}{
		{9.99, "9.99"},
		{8, "8.0"},
		{0, "0.0"},
		{-2.5, "-2.5"},
		{a + b, "0.30000000000000004"},
		{math.Copysign(0, -1), "-0.0"},
		{0.0001, "0.0001"},
		{1.5e-05, "1.5e-05"},
		{-2e-07, "-2e-07"},
		{9999999999999998, "9999999999999998.0"},
		{1e16, "1e+16"},
		{1.2345e20, "1.2345e+20"},
		{1234567.25, "1234567.25"},
		{math.Inf(1), "inf"},
		{math.NaN(), "nan"},
	}
	for _, tt := range tests {
		if got := FormatAmount(tt.in); got != tt.want {
			t.Errorf("FormatAmount(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWriteCSV(t *testing.T) {
	rows := []Row{
		{StoreID: "0042", StoreName: "Store 42", Date: "2024-01-01", Type: "Widget", SaleAmount: 9.99, SaleCount: 1, Currency: "USD"},
		{StoreID: "0042", StoreName: "Store 42", Date: "2024-01-02", Type: "Gift, Card", SaleAmount: 8, SaleCount: 2, Currency: "USD"},
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, rows); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	want := "Astoreid,Storename,date,Type,sale_amount,sale_count,currency\n" +
		"0042,Store 42,2024-01-01,Widget,9.99,1,USD\n" +
		"0042,Store 42,2024-01-02,\"Gift, Card\",8.0,2,USD\n"
	if buf.String() != want {
		t.Errorf("csv =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestWriteCSV_HeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, nil); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	if buf.String() != "Astoreid,Storename,date,Type,sale_amount,sale_count,currency\n" {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestWriteParquet_RoundTrip(t *testing.T) {
	rows := []Row{
		{StoreID: "0042", StoreName: "Store 42", Date: "2024-01-01", Type: "Widget", SaleAmount: 9.99, SaleCount: 1, Currency: "USD"},
		{StoreID: "0042", StoreName: "Store 42", Date: "2024-01-02", Type: "Cash", SaleAmount: 8, SaleCount: 2, Currency: "USD"},
	}

	var buf bytes.Buffer
	if err := Write(&buf, FormatParquet, rows); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := ReadParquet(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("ReadParquet: %v", err)
	}
	if !reflect.DeepEqual(got, rows) {
		t.Errorf("round trip = %+v, want %+v", got, rows)
	}
}

func TestFormatForPath(t *testing.T) {
	tests := map[string]OutputFormat{
		"reports/0042.csv":     FormatCSV,
		"reports/0042":         FormatCSV,
		"reports/0042.parquet": FormatParquet,
		"REPORT.PARQUET":       FormatParquet,
	}
	for path, want := range tests {
		if got := FormatForPath(path); got != want {
			t.Errorf("FormatForPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestWrite_UnknownFormat(t *testing.T) {
	if err := Write(&bytes.Buffer{}, OutputFormat("xml"), nil); err == nil {
		t.Error("expected error for unknown format")
	}
}
