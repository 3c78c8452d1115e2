// Package dbf reads dBASE III/IV table files (.DBF) as exported by legacy
// point-of-sale back offices.
//
// File layout:
//
//	header     32 bytes: version(1) date(3) count(4) headerLen(2) recordLen(2) reserved(20)
//	fields     32 bytes each: name(11) type(1) reserved(4) length(1) decimals(1) reserved(14)
//	terminator 0x0D
//	records    recordLen bytes each: deletion flag(1) + fixed-width fields
//	EOF        optional 0x1A
//
// All values are returned as text. Character data is decoded as Latin-1.
// Memo fields are returned empty; the companion memo file is never opened.
package dbf

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

const (
	headerSize      = 32
	fieldDescSize   = 32
	fieldTerminator = 0x0D
	eofMarker       = 0x1A
	deletedFlag     = '*'
)

var (
	// ErrInvalidHeader indicates the table header or field descriptors are corrupt.
	ErrInvalidHeader = errors.New("invalid dbf header")
	// ErrTruncated indicates the file ended in the middle of a record.
	ErrTruncated = errors.New("truncated dbf record")
)

// Field describes one column of the table.
type Field struct {
	Name     string
	Type     byte
	Length   int
	Decimals int
	offset   int
}

// Header holds the table-level metadata.
type Header struct {
	Version      byte
	RecordCount  uint32
	HeaderLength uint16
	RecordLength uint16
	Fields       []Field
}

// Reader streams records from a DBF table in file order.
type Reader struct {
	r       *bufio.Reader
	closer  io.Closer
	header  Header
	buf     []byte
	read    uint32
	decoder *encoding.Decoder
}

// Open opens a DBF file and parses its header.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	r.closer = f
	return r, nil
}

// NewReader parses the header from r and positions it at the first record.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)

	var raw [headerSize]byte
	if _, err := io.ReadFull(br, raw[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}

	h := Header{
		Version:      raw[0],
		RecordCount:  binary.LittleEndian.Uint32(raw[4:8]),
		HeaderLength: binary.LittleEndian.Uint16(raw[8:10]),
		RecordLength: binary.LittleEndian.Uint16(raw[10:12]),
	}
	if h.HeaderLength < headerSize+1 || h.RecordLength < 1 {
		return nil, fmt.Errorf("%w: header length %d, record length %d", ErrInvalidHeader, h.HeaderLength, h.RecordLength)
	}

	fields, consumed, err := readFields(br, int(h.HeaderLength)-headerSize)
	if err != nil {
		return nil, err
	}
	h.Fields = fields

	width := 1
	for _, f := range fields {
		width += f.Length
	}
	if width > int(h.RecordLength) {
		return nil, fmt.Errorf("%w: fields span %d bytes, record length is %d", ErrInvalidHeader, width, h.RecordLength)
	}

	// Skip whatever padding sits between the terminator and the first record.
	if skip := int(h.HeaderLength) - headerSize - consumed; skip > 0 {
		if _, err := br.Discard(skip); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
		}
	}

	return &Reader{
		r:       br,
		header:  h,
		buf:     make([]byte, h.RecordLength),
		decoder: charmap.ISO8859_1.NewDecoder(),
	}, nil
}

func readFields(br *bufio.Reader, limit int) ([]Field, int, error) {
	var (
		fields   []Field
		consumed int
		offset   = 1
	)
	for {
		if consumed >= limit {
			return nil, 0, fmt.Errorf("%w: missing field terminator", ErrInvalidHeader)
		}
		b, err := br.Peek(1)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
		}
		if b[0] == fieldTerminator {
			_, _ = br.Discard(1)
			consumed++
			break
		}

		var desc [fieldDescSize]byte
		if _, err := io.ReadFull(br, desc[:]); err != nil {
			return nil, 0, fmt.Errorf("%w: field %d: %v", ErrInvalidHeader, len(fields), err)
		}
		consumed += fieldDescSize

		name := desc[:11]
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		f := Field{
			Name:     strings.TrimSpace(string(name)),
			Type:     desc[11],
			Length:   int(desc[16]),
			Decimals: int(desc[17]),
			offset:   offset,
		}
		if f.Name == "" {
			return nil, 0, fmt.Errorf("%w: field %d has no name", ErrInvalidHeader, len(fields))
		}
		offset += f.Length
		fields = append(fields, f)
	}
	if len(fields) == 0 {
		return nil, 0, fmt.Errorf("%w: no fields", ErrInvalidHeader)
	}
	return fields, consumed, nil
}

// Header returns the parsed table header.
func (r *Reader) Header() Header {
	return r.header
}

// FieldNames returns the column names in table order.
func (r *Reader) FieldNames() []string {
	names := make([]string, len(r.header.Fields))
	for i, f := range r.header.Fields {
		names[i] = f.Name
	}
	return names
}

// Read returns the next live record as parallel values for FieldNames.
// Deleted records are skipped. Returns io.EOF after the last record.
func (r *Reader) Read() ([]string, error) {
	for {
		if r.read >= r.header.RecordCount {
			return nil, io.EOF
		}

		n, err := io.ReadFull(r.r, r.buf)
		if err != nil {
			if n > 0 && r.buf[0] == eofMarker {
				return nil, io.EOF
			}
			if errors.Is(err, io.EOF) {
				// Header overstated the count; an absent trailing record is fine.
				return nil, io.EOF
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: record %d: got %d of %d bytes", ErrTruncated, r.read+1, n, len(r.buf))
			}
			return nil, fmt.Errorf("read record %d: %w", r.read+1, err)
		}
		r.read++

		if r.buf[0] == eofMarker {
			return nil, io.EOF
		}
		if r.buf[0] == deletedFlag {
			continue
		}

		values := make([]string, len(r.header.Fields))
		for i, f := range r.header.Fields {
			values[i] = r.decode(f, r.buf[f.offset:f.offset+f.Length])
		}
		return values, nil
	}
}

// ReadMap is like Read but keys each value by field name.
func (r *Reader) ReadMap() (map[string]string, error) {
	values, err := r.Read()
	if err != nil {
		return nil, err
	}
	rec := make(map[string]string, len(values))
	for i, f := range r.header.Fields {
		rec[f.Name] = values[i]
	}
	return rec, nil
}

func (r *Reader) decode(f Field, raw []byte) string {
	switch f.Type {
	case 'M', 'B', 'G':
		// Memo pointers into the .DBT/.FPT companion, which we never open.
		return ""
	case 'D':
		return formatDate(strings.TrimSpace(string(raw)))
	case 'L':
		switch strings.TrimSpace(string(raw)) {
		case "T", "t", "Y", "y":
			return "True"
		case "F", "f", "N", "n":
			return "False"
		default:
			return ""
		}
	case 'N', 'F':
		return strings.TrimSpace(string(raw))
	default:
		raw = trimRight(raw)
		text, err := r.decoder.Bytes(raw)
		if err != nil {
			// Latin-1 maps every byte, so this never fires in practice.
			return string(raw)
		}
		return string(text)
	}
}

// formatDate turns a YYYYMMDD date field into YYYY-MM-DD. Blank or
// malformed dates become empty.
func formatDate(s string) string {
	if len(s) != 8 {
		return ""
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return ""
		}
	}
	return s[0:4] + "-" + s[4:6] + "-" + s[6:8]
}

func trimRight(b []byte) []byte {
	end := len(b)
	for end > 0 && (b[end-1] == ' ' || b[end-1] == 0) {
		end--
	}
	return b[:end]
}

// Close releases the underlying file, if Open created it.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
