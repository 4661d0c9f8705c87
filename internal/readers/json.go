package readers

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mmrzaf/etlflow/internal/domain"
)

// JSONReader reads either a top-level array of objects or JSON Lines. Line mode accepts
// objects spread over several lines by tracking brace depth outside of strings; blocks
// that fail to parse are skipped and counted.
type JSONReader struct {
	src      Source
	encoding string

	rc    io.ReadCloser
	array *json.Decoder
	lines *bufio.Reader
	rest  string
	line  int

	row     domain.Row
	index   int
	skipped int
	err     error
}

func NewJSONReader(src Source, encoding string) (*JSONReader, error) {
	r := &JSONReader{src: src, encoding: encoding}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *JSONReader) open() error {
	rc, err := r.src.Open()
	if err != nil {
		return err
	}
	r.rc = rc
	br := bufio.NewReader(decode(rc, r.encoding))
	r.array, r.lines, r.rest = nil, nil, ""
	r.line, r.index, r.skipped, r.err = 0, -1, 0, nil

	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		r.lines = br
		return nil
	}
	if err != nil {
		_ = rc.Close()
		return err
	}
	if first == '[' {
		dec := json.NewDecoder(br)
		dec.UseNumber()
		if _, err := dec.Token(); err != nil {
			_ = rc.Close()
			return fmt.Errorf("invalid json array: %w", err)
		}
		r.array = dec
		return nil
	}
	r.lines = br
	return nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		if b == ' ' || b == '\t' || b == '\n' || b == '\r' {
			continue
		}
		return b, br.UnreadByte()
	}
}

func (r *JSONReader) Next() bool {
	if r.err != nil || r.rc == nil {
		return false
	}
	if r.array != nil {
		return r.nextFromArray()
	}
	return r.nextFromLines()
}

func (r *JSONReader) nextFromArray() bool {
	for r.array.More() {
		var v any
		if err := r.array.Decode(&v); err != nil {
			r.err = fmt.Errorf("read %s: %w", r.src.Name, err)
			return false
		}
		obj, ok := normalizeJSON(v).(map[string]any)
		if !ok {
			r.skipped++
			continue
		}
		r.index++
		r.row = domain.Row{Values: obj, Line: r.index + 1}
		return true
	}
	return false
}

func (r *JSONReader) nextFromLines() bool {
	for {
		block, startLine, err := r.readBlock()
		if errors.Is(err, io.EOF) && block == "" {
			return false
		}
		if err != nil && !errors.Is(err, io.EOF) {
			r.err = fmt.Errorf("read %s: %w", r.src.Name, err)
			return false
		}
		dec := json.NewDecoder(strings.NewReader(block))
		dec.UseNumber()
		var v map[string]any
		if derr := dec.Decode(&v); derr != nil {
			r.skipped++
			continue
		}
		r.index++
		r.row = domain.Row{Values: normalizeJSON(v).(map[string]any), Line: startLine}
		return true
	}
}

// readBlock collects one brace-balanced object. Text outside objects is ignored, and
// several objects on one line are returned one at a time.
func (r *JSONReader) readBlock() (string, int, error) {
	var (
		buf       bytes.Buffer
		depth     int
		inString  bool
		escaped   bool
		startLine int
	)
	for {
		if r.rest == "" {
			raw, err := r.lines.ReadString('\n')
			if raw == "" && err != nil {
				if depth > 0 {
					r.skipped++
				}
				return "", startLine, err
			}
			r.line++
			r.rest = raw
			if depth > 0 && startsObject(raw) && (inString || !precedesValue(buf.Bytes())) {
				// The open record can never be completed; drop it and start over here.
				r.skipped++
				buf.Reset()
				depth, inString, escaped = 0, false, false
			}
		}
		raw := r.rest
		r.rest = ""
		for i := 0; i < len(raw); i++ {
			c := raw[i]
			if depth == 0 && c != '{' {
				continue
			}
			if depth == 0 {
				startLine = r.line
			}
			buf.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case inString && c == '\\':
				escaped = true
			case c == '"':
				inString = !inString
			case inString:
			case c == '{':
				depth++
			case c == '}':
				depth--
				if depth == 0 {
					r.rest = raw[i+1:]
					return buf.String(), startLine, nil
				}
			}
		}
	}
}

func startsObject(line string) bool {
	return strings.HasPrefix(strings.TrimLeft(line, " \t"), "{")
}

// precedesValue reports whether a JSON value may follow the text, i.e. it ends in ':', ',' or an opener.
func precedesValue(b []byte) bool {
	t := bytes.TrimRight(b, " \t\r\n")
	if len(t) == 0 {
		return true
	}
	switch t[len(t)-1] {
	case ':', ',', '[', '{':
		return true
	}
	return false
}

// normalizeJSON turns json.Number into int64 or float64 throughout a decoded value.
func normalizeJSON(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeJSON(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = normalizeJSON(val)
		}
		return t
	default:
		return v
	}
}

func (r *JSONReader) Row() domain.Row { return r.row }
func (r *JSONReader) Index() int      { return r.index }
func (r *JSONReader) Err() error      { return r.err }

// Skipped counts malformed or non-object records passed over so far.
func (r *JSONReader) Skipped() int { return r.skipped }

func (r *JSONReader) Rewind() error {
	if err := r.Close(); err != nil {
		return err
	}
	return r.open()
}

func (r *JSONReader) Close() error {
	if r.rc == nil {
		return nil
	}
	err := r.rc.Close()
	r.rc, r.array, r.lines = nil, nil, nil
	return err
}
