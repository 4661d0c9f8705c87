package readers

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"github.com/mmrzaf/etlflow/internal/domain"
)

// Reader is a restartable forward-only cursor over source rows.
//
// Next advances and reports whether a row is available; Row and Index describe the current
// row. Index is 0-based and increases by one per row. Rewind restarts from the first row.
type Reader interface {
	Next() bool
	Row() domain.Row
	Index() int
	Err() error
	Rewind() error
	Close() error
}

type Options struct {
	Sheet         string
	RecordElement string
}

func OptionsFrom(cfg *domain.FormatConfig) Options {
	if cfg == nil {
		return Options{}
	}
	return Options{Sheet: cfg.Sheet, RecordElement: cfg.RecordElement}
}

// Open returns the reader for the detected kind. The source is opened immediately so that
// unreadable input fails here rather than on the first Next.
func Open(format domain.DetectedFormat, src Source, opts Options) (Reader, error) {
	var (
		r   Reader
		err error
	)
	switch format.Kind {
	case domain.FileKindCSV, domain.FileKindText:
		r, err = NewDelimitedReader(src, format)
	case domain.FileKindSpreadsheet:
		r, err = NewSpreadsheetReader(src, format, opts.Sheet)
	case domain.FileKindJSON:
		r, err = NewJSONReader(src, format.Encoding)
	case domain.FileKindXML:
		r, err = NewXMLReader(src, format.Encoding, opts.RecordElement)
	default:
		return nil, fmt.Errorf("unsupported file kind: %s", format.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s reader for %s: %w", format.Kind, src.Name, err)
	}
	return r, nil
}

// Count walks the reader once and rewinds it.
func Count(r Reader) (int, error) {
	n := 0
	for r.Next() {
		n++
	}
	if err := r.Err(); err != nil {
		return n, err
	}
	return n, r.Rewind()
}

// decode wraps single-byte encodings with a UTF-8 decoder and drops a leading UTF-8 BOM.
func decode(r io.Reader, encoding string) io.Reader {
	switch strings.ToUpper(encoding) {
	case strings.ToUpper(domain.EncodingISO88591), "LATIN1", "LATIN-1":
		return charmap.ISO8859_1.NewDecoder().Reader(r)
	case strings.ToUpper(domain.EncodingWindows1252), "CP1252":
		return charmap.Windows1252.NewDecoder().Reader(r)
	}
	br := bufio.NewReader(r)
	if b, err := br.Peek(3); err == nil && string(b) == "\xEF\xBB\xBF" {
		_, _ = br.Discard(3)
	}
	return br
}

// headerNames fills blanks with positional names and suffixes duplicates.
func headerNames(raw []string) []string {
	seen := make(map[string]int, len(raw))
	out := make([]string, len(raw))
	for i, h := range raw {
		name := strings.TrimSpace(h)
		if name == "" {
			name = columnName(i)
		}
		seen[name]++
		if n := seen[name]; n > 1 {
			name = fmt.Sprintf("%s_%d", name, n)
		}
		out[i] = name
	}
	return out
}

func columnName(i int) string {
	return fmt.Sprintf("column_%d", i+1)
}

func generatedHeader(width int) []string {
	out := make([]string, width)
	for i := range out {
		out[i] = columnName(i)
	}
	return out
}

func rowFromFields(header, fields []string, line int) domain.Row {
	values := make(map[string]any, len(fields))
	for i, f := range fields {
		key := columnName(i)
		if i < len(header) {
			key = header[i]
		}
		values[key] = f
	}
	return domain.Row{Values: values, Line: line}
}
