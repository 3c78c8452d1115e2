// Package dbftest builds small dBASE III tables for tests.
package dbftest

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// Field declares a column of the generated table.
type Field struct {
	Name   string
	Type   byte // 'C', 'N', 'D', 'L' or 'M'
	Length int
}

// Char returns a character field of the given width.
func Char(name string, length int) Field {
	return Field{Name: name, Type: 'C', Length: length}
}

// Table describes a table to encode.
type Table struct {
	Fields []Field
	Rows   [][]string
	// Deleted marks row indexes written with the '*' deletion flag.
	Deleted map[int]bool
	// OmitEOF leaves off the trailing 0x1A marker.
	OmitEOF bool
}

// Bytes encodes the table. Values are padded or truncated to field width;
// numeric fields are right-aligned, everything else left-aligned.
func (t Table) Bytes() []byte {
	recordLen := 1
	for _, f := range t.Fields {
		recordLen += f.Length
	}
	headerLen := 32 + 32*len(t.Fields) + 1

	var buf bytes.Buffer
	header := make([]byte, 32)
	header[0] = 0x03
	header[1], header[2], header[3] = 124, 1, 1
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(t.Rows)))
	binary.LittleEndian.PutUint16(header[8:10], uint16(headerLen))
	binary.LittleEndian.PutUint16(header[10:12], uint16(recordLen))
	buf.Write(header)

	for _, f := range t.Fields {
		desc := make([]byte, 32)
		copy(desc[:11], f.Name)
		desc[11] = f.Type
		desc[16] = byte(f.Length)
		buf.Write(desc)
	}
	buf.WriteByte(0x0D)

	for i, row := range t.Rows {
		if t.Deleted[i] {
			buf.WriteByte('*')
		} else {
			buf.WriteByte(' ')
		}
		for j, f := range t.Fields {
			var v string
			if j < len(row) {
				v = row[j]
			}
			buf.Write(pad(v, f))
		}
	}
	if !t.OmitEOF {
		buf.WriteByte(0x1A)
	}
	return buf.Bytes()
}

func pad(v string, f Field) []byte {
	out := bytes.Repeat([]byte{' '}, f.Length)
	b := []byte(v)
	if len(b) > f.Length {
		b = b[:f.Length]
	}
	if f.Type == 'N' {
		copy(out[f.Length-len(b):], b)
	} else {
		copy(out, b)
	}
	return out
}

// WriteFile encodes t into dir/name and returns the path.
func WriteFile(tb testing.TB, dir, name string, t Table) string {
	tb.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		tb.Fatal(err)
	}
	if err := os.WriteFile(path, t.Bytes(), 0644); err != nil {
		tb.Fatal(err)
	}
	return path
}

// StoreTable returns a STR table with a NAME column.
func StoreTable(names ...string) Table {
	rows := make([][]string, len(names))
	for i, n := range names {
		rows[i] = []string{n}
	}
	return Table{Fields: []Field{Char("NAME", 30)}, Rows: rows}
}

// JournalLine is one row of a JNL table.
type JournalLine struct {
	Line, Price, Date, Descript string
}

// JournalTable returns a JNL table with LINE, PRICE, DATE and DESCRIPT columns.
// DATE is a character column so tests control the exact text.
func JournalTable(lines ...JournalLine) Table {
	rows := make([][]string, len(lines))
	for i, l := range lines {
		rows[i] = []string{l.Line, l.Price, l.Date, l.Descript}
	}
	return Table{
		Fields: []Field{
			Char("LINE", 3),
			{Name: "PRICE", Type: 'N', Length: 10},
			Char("DATE", 10),
			Char("DESCRIPT", 20),
		},
		Rows: rows,
	}
}
