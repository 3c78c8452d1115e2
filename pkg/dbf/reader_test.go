package dbf

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/eunmann/tenders-report/pkg/dbf/dbftest"
)

func readAll(t *testing.T, r *Reader) [][]string {
	t.Helper()
	var rows [][]string
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return rows
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		rows = append(rows, row)
	}
}

func TestReader_Journal(t *testing.T) {
	table := dbftest.JournalTable(
		dbftest.JournalLine{Line: "950", Price: "9.99", Date: "2024-01-01"},
		dbftest.JournalLine{Line: "980", Descript: "Widget"},
	)

	r, err := NewReader(bytes.NewReader(table.Bytes()))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	if got, want := r.FieldNames(), []string{"LINE", "PRICE", "DATE", "DESCRIPT"}; !reflect.DeepEqual(got, want) {
		t.Errorf("FieldNames() = %v, want %v", got, want)
	}
	if r.Header().RecordCount != 2 {
		t.Errorf("RecordCount = %d, want 2", r.Header().RecordCount)
	}

	want := [][]string{
		{"950", "9.99", "2024-01-01", ""},
		{"980", "", "", "Widget"},
	}
	if got := readAll(t, r); !reflect.DeepEqual(got, want) {
		t.Errorf("rows = %q, want %q", got, want)
	}
}

func TestReader_SkipsDeleted(t *testing.T) {
	table := dbftest.StoreTable("first", "gone", "third")
	table.Deleted = map[int]bool{1: true}

	r, err := NewReader(bytes.NewReader(table.Bytes()))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	want := [][]string{{"first"}, {"third"}}
	if got := readAll(t, r); !reflect.DeepEqual(got, want) {
		t.Errorf("rows = %q, want %q", got, want)
	}
}

func TestReader_WithoutEOFMarker(t *testing.T) {
	table := dbftest.StoreTable("only")
	table.OmitEOF = true

	r, err := NewReader(bytes.NewReader(table.Bytes()))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if got := readAll(t, r); len(got) != 1 || got[0][0] != "only" {
		t.Errorf("rows = %q, want [[only]]", got)
	}
}

func TestReader_Latin1(t *testing.T) {
	table := dbftest.StoreTable("Caf\xe9 Ren\xe9")

	r, err := NewReader(bytes.NewReader(table.Bytes()))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	rec, err := r.ReadMap()
	if err != nil {
		t.Fatalf("ReadMap: %v", err)
	}
	if rec["NAME"] != "Café René" {
		t.Errorf("NAME = %q, want %q", rec["NAME"], "Café René")
	}
}

func TestReader_TypedFields(t *testing.T) {
	table := dbftest.Table{
		Fields: []dbftest.Field{
			{Name: "D", Type: 'D', Length: 8},
			{Name: "BLANKD", Type: 'D', Length: 8},
			{Name: "L", Type: 'L', Length: 1},
			{Name: "M", Type: 'M', Length: 10},
			{Name: "N", Type: 'N', Length: 6},
		},
		Rows: [][]string{{"20240131", "", "T", "0000000012", "-3.5"}},
	}

	r, err := NewReader(bytes.NewReader(table.Bytes()))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	rec, err := r.ReadMap()
	if err != nil {
		t.Fatalf("ReadMap: %v", err)
	}
	want := map[string]string{"D": "2024-01-31", "BLANKD": "", "L": "True", "M": "", "N": "-3.5"}
	if !reflect.DeepEqual(rec, want) {
		t.Errorf("record = %v, want %v", rec, want)
	}
}

func TestReader_InvalidHeader(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short", []byte{0x03, 0x00}},
		{"zero lengths", make([]byte, 64)},
		{"no terminator", func() []byte {
			b := dbftest.StoreTable("x").Bytes()
			b[32+32] = 'X' // overwrite 0x0D
			return b
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReader(bytes.NewReader(tt.data))
			if !errors.Is(err, ErrInvalidHeader) {
				t.Errorf("expected ErrInvalidHeader, got %v", err)
			}
		})
	}
}

func TestReader_Truncated(t *testing.T) {
	table := dbftest.StoreTable("first", "second")
	table.OmitEOF = true
	data := table.Bytes()
	data = data[:len(data)-5]

	r, err := NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if _, err := r.Read(); err != nil {
		t.Fatalf("first Read: %v", err)
	}
	if _, err := r.Read(); !errors.Is(err, ErrTruncated) {
		t.Errorf("expected ErrTruncated, got %v", err)
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	path := dbftest.WriteFile(t, dir, "STR.DBF", dbftest.StoreTable("Store 42"))

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	rec, err := r.ReadMap()
	if err != nil {
		t.Fatalf("ReadMap: %v", err)
	}
	if rec["NAME"] != "Store 42" {
		t.Errorf("NAME = %q, want %q", rec["NAME"], "Store 42")
	}

	if _, err := Open(filepath.Join(dir, "missing.dbf")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}
