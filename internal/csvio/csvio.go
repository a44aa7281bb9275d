// Package csvio reads and writes the CSV files exchanged with the
// platform's bulk import and the operator-prepared account data files.
package csvio

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Warning is a non-fatal problem with one row.
type Warning struct {
	Row     int
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("row %d: %s", w.Row, w.Message)
}

// Table is a parsed CSV file.
type Table struct {
	Headers  []string
	Rows     []map[string]string
	Warnings []Warning
	Encoding string
}

// Has reports whether the file has the named column.
func (t *Table) Has(column string) bool {
	for _, h := range t.Headers {
		if h == column {
			return true
		}
	}
	return false
}

// Require returns an error naming the first missing column.
func (t *Table) Require(columns ...string) error {
	for _, c := range columns {
		if !t.Has(c) {
			return fmt.Errorf("missing column %q", c)
		}
	}
	return nil
}

// ReadFile parses the CSV file at path.
func ReadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return t, nil
}

// Parse decodes data to UTF-8 and reads it as a header row followed by data
// rows. Short rows are padded and long rows truncated, each with a warning.
// A file with a header and no rows is valid.
func Parse(data []byte) (*Table, error) {
	decoded, enc, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("encoding detection failed: %w", err)
	}

	r := csv.NewReader(bytes.NewReader(decoded))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	headers, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty file: no header row found")
		}
		return nil, fmt.Errorf("failed to read header row: %w", err)
	}
	for i, h := range headers {
		headers[i] = strings.Trim(strings.TrimSpace(h), `"`)
	}

	t := &Table{Headers: headers, Encoding: enc}
	row := 1
	for {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		row++
		if err != nil {
			t.Warnings = append(t.Warnings, Warning{Row: row, Message: fmt.Sprintf("parse error: %v", err)})
			continue
		}
		switch {
		case len(fields) < len(headers):
			t.Warnings = append(t.Warnings, Warning{Row: row,
				Message: fmt.Sprintf("row has %d columns, expected %d; padding with empty values", len(fields), len(headers))})
			padded := make([]string, len(headers))
			copy(padded, fields)
			fields = padded
		case len(fields) > len(headers):
			t.Warnings = append(t.Warnings, Warning{Row: row,
				Message: fmt.Sprintf("row has %d columns, expected %d; truncating extra columns", len(fields), len(headers))})
			fields = fields[:len(headers)]
		}

		rec := make(map[string]string, len(headers))
		for i, h := range headers {
			rec[h] = fields[i]
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}

// Decode converts data to UTF-8. Byte-order marks select UTF-8 or UTF-16;
// otherwise valid UTF-8 is returned unchanged and anything else is read as
// Latin-1.
func Decode(data []byte) ([]byte, string, error) {
	switch {
	case len(data) == 0:
		return data, "utf-8", nil
	case bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}):
		return data[3:], "utf-8-bom", nil
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}):
		out, _, err := transform.Bytes(unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder(), data)
		return out, "utf-16le", err
	case bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		out, _, err := transform.Bytes(unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder(), data)
		return out, "utf-16be", err
	case utf8.Valid(data):
		return data, "utf-8", nil
	}
	out, _, err := transform.Bytes(charmap.ISO8859_1.NewDecoder(), data)
	return out, "latin-1", err
}

// Write renders rows under headers. Missing cells are written empty.
func Write(w io.Writer, headers []string, rows []map[string]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(headers); err != nil {
		return err
	}
	line := make([]string, len(headers))
	for _, row := range rows {
		for i, h := range headers {
			line[i] = row[h]
		}
		if err := cw.Write(line); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Encode returns the CSV bytes of rows.
func Encode(headers []string, rows []map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, headers, rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile writes rows to path, creating parent directories.
func WriteFile(path string, headers []string, rows []map[string]string) error {
	data, err := Encode(headers, rows)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
