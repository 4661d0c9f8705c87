package readers

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mmrzaf/etlflow/internal/domain"
)

// DelimitedReader reads CSV and other delimited text. Double-quoted input goes through
// encoding/csv, which handles quoted newlines; other quote characters are split line by line.
type DelimitedReader struct {
	src    Source
	format domain.DetectedFormat

	rc     io.ReadCloser
	csv    *csv.Reader
	lines  *bufio.Scanner
	lineNo int

	header []string
	// pending holds the first data record when the file has no header row.
	pending []string
	row     domain.Row
	index   int
	err     error
}

func NewDelimitedReader(src Source, format domain.DetectedFormat) (*DelimitedReader, error) {
	if format.Delimiter == "" {
		format.Delimiter = ","
	}
	if format.Quote == "" {
		format.Quote = `"`
	}
	r := &DelimitedReader{src: src, format: format}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *DelimitedReader) open() error {
	rc, err := r.src.Open()
	if err != nil {
		return err
	}
	r.rc = rc
	in := decode(rc, r.format.Encoding)
	r.csv, r.lines, r.lineNo = nil, nil, 0
	if r.format.Quote == `"` {
		cr := csv.NewReader(in)
		cr.Comma = []rune(r.format.Delimiter)[0]
		cr.LazyQuotes = true
		cr.FieldsPerRecord = -1
		cr.ReuseRecord = false
		r.csv = cr
	} else {
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		r.lines = sc
	}
	r.index = -1
	r.err = nil
	r.pending = nil
	r.row = domain.Row{}

	first, _, err := r.readRecord()
	if errors.Is(err, io.EOF) {
		r.header = nil
		return nil
	}
	if err != nil {
		_ = rc.Close()
		return err
	}
	if r.format.HasHeader {
		r.header = headerNames(first)
	} else {
		r.header = generatedHeader(len(first))
		r.pending = first
	}
	return nil
}

func (r *DelimitedReader) readRecord() ([]string, int, error) {
	if r.csv != nil {
		rec, err := r.csv.Read()
		if err != nil {
			return nil, 0, err
		}
		line, _ := r.csv.FieldPos(0)
		return rec, line, nil
	}
	for r.lines.Scan() {
		r.lineNo++
		text := strings.TrimRight(r.lines.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		return SplitLine(text, r.format.Delimiter, r.format.Quote), r.lineNo, nil
	}
	if err := r.lines.Err(); err != nil {
		return nil, 0, err
	}
	return nil, 0, io.EOF
}

func (r *DelimitedReader) Next() bool {
	if r.err != nil || r.rc == nil {
		return false
	}
	var (
		rec  []string
		line int
		err  error
	)
	if r.pending != nil {
		rec, line = r.pending, 1
		r.pending = nil
	} else {
		rec, line, err = r.readRecord()
	}
	if errors.Is(err, io.EOF) {
		return false
	}
	if err != nil {
		r.err = fmt.Errorf("read %s: %w", r.src.Name, err)
		return false
	}
	r.index++
	r.row = rowFromFields(r.header, rec, line)
	return true
}

func (r *DelimitedReader) Row() domain.Row { return r.row }
func (r *DelimitedReader) Index() int      { return r.index }
func (r *DelimitedReader) Err() error      { return r.err }

// Header returns the column names in file order.
func (r *DelimitedReader) Header() []string {
	return append([]string(nil), r.header...)
}

func (r *DelimitedReader) Rewind() error {
	if err := r.Close(); err != nil {
		return err
	}
	return r.open()
}

func (r *DelimitedReader) Close() error {
	if r.rc == nil {
		return nil
	}
	err := r.rc.Close()
	r.rc = nil
	r.csv = nil
	r.lines = nil
	return err
}
