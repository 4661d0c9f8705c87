package detect

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/mmrzaf/etlflow/internal/domain"
	"github.com/mmrzaf/etlflow/internal/readers"
)

const (
	DefaultSampleLines = 10
	sampleBytes        = 64 * 1024
	headerNumericRatio = 0.3
)

var (
	ErrEmptySource = errors.New("source is empty")

	delimiterCandidates = []string{",", ";", "\t", "|", ":"}
)

type Detector struct {
	sampleLines int
}

func NewDetector() *Detector {
	return &Detector{sampleLines: DefaultSampleLines}
}

// Detect infers kind, delimiter, quote, header presence and encoding from a small sample.
func (d *Detector) Detect(src readers.Source) (domain.DetectedFormat, error) {
	raw, err := readSample(src)
	if err != nil {
		return domain.DetectedFormat{}, err
	}
	if len(raw) == 0 {
		return domain.DetectedFormat{}, fmt.Errorf("%s: %w", src.Name, ErrEmptySource)
	}

	format := domain.DetectedFormat{Encoding: DetectEncoding(raw)}
	lines := sampleLines(raw, d.sampleLines)
	if len(lines) == 0 {
		return domain.DetectedFormat{}, fmt.Errorf("%s: %w", src.Name, ErrEmptySource)
	}

	first := strings.TrimSpace(lines[0])
	if strings.HasPrefix(first, "<?xml") || strings.HasPrefix(first, "<") {
		format.Kind = domain.FileKindXML
		return format, nil
	}

	format.Kind = kindFromExtension(src.Extension())
	switch format.Kind {
	case domain.FileKindSpreadsheet:
		format.HasHeader = true
		return format, nil
	case domain.FileKindJSON, domain.FileKindXML:
		return format, nil
	}

	format.Quote = DetectQuote(lines)
	format.Delimiter = DetectDelimiter(lines, format.Quote)
	format.HasHeader = DetectHeader(lines, format.Delimiter, format.Quote)
	return format, nil
}

func readSample(src readers.Source) ([]byte, error) {
	rc, err := src.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", src.Name, err)
	}
	defer rc.Close()

	buf := make([]byte, sampleBytes)
	n, err := io.ReadFull(rc, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read %s: %w", src.Name, err)
	}
	if n == sampleBytes {
		return trimPartialRune(buf), nil
	}
	return buf[:n], nil
}

// trimPartialRune drops a multi-byte sequence cut off by the end of a truncated sample.
func trimPartialRune(b []byte) []byte {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if !utf8.FullRune(b[i:]) {
			return b[:i]
		}
		return b
	}
	return b
}

func sampleLines(raw []byte, limit int) []string {
	text := strings.TrimPrefix(string(raw), "\xEF\xBB\xBF")
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, len(text)+1), len(text)+1)
	var lines []string
	for sc.Scan() && len(lines) < limit {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func kindFromExtension(ext string) domain.FileKind {
	switch ext {
	case "xls", "xlsx":
		return domain.FileKindSpreadsheet
	case "txt", "tsv":
		return domain.FileKindText
	case "json", "jsonl", "ndjson":
		return domain.FileKindJSON
	case "xml":
		return domain.FileKindXML
	default:
		return domain.FileKindCSV
	}
}

// DetectQuote picks whichever quote character occurs more often, double quote on ties.
func DetectQuote(lines []string) string {
	double, single := 0, 0
	for _, l := range lines {
		double += strings.Count(l, `"`)
		single += strings.Count(l, `'`)
	}
	if single > double {
		return `'`
	}
	return `"`
}

// DetectDelimiter chooses among the candidates whose per-line count stays within one of the
// first line's count on at least half the lines, preferring the largest total.
func DetectDelimiter(lines []string, quote string) string {
	best, bestTotal := ",", 0
	for _, cand := range delimiterCandidates {
		counts := make([]int, len(lines))
		total := 0
		for i, l := range lines {
			counts[i] = countOutsideQuotes(l, cand[0], quote)
			total += counts[i]
		}
		if counts[0] == 0 {
			continue
		}
		consistent := 0
		for _, c := range counts {
			if abs(c-counts[0]) <= 1 {
				consistent++
			}
		}
		if float64(consistent) < float64(len(lines))*0.5 {
			continue
		}
		if total > bestTotal {
			best, bestTotal = cand, total
		}
	}
	return best
}

// DetectHeader compares the first two lines: different field counts mean no header, otherwise
// the first line is a header when fewer than 30% of its fields are numeric.
func DetectHeader(lines []string, delimiter, quote string) bool {
	if len(lines) == 0 {
		return false
	}
	first := readers.SplitLine(lines[0], delimiter, quote)
	if len(lines) > 1 {
		second := readers.SplitLine(lines[1], delimiter, quote)
		if len(first) != len(second) {
			return false
		}
	}
	numeric := 0
	for _, f := range first {
		if isNumeric(f) {
			numeric++
		}
	}
	return float64(numeric)/float64(len(first)) < headerNumericRatio
}

func countOutsideQuotes(line string, d byte, quote string) int {
	var q byte = '"'
	if quote != "" {
		q = quote[0]
	}
	n := 0
	inQuotes := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case q:
			inQuotes = !inQuotes
		case d:
			if !inQuotes {
				n++
			}
		}
	}
	return n
}

func isNumeric(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// DetectEncoding is best effort over a byte sample.
func DetectEncoding(sample []byte) string {
	ascii := true
	for _, b := range sample {
		if b >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return domain.EncodingASCII
	}
	if utf8.Valid(sample) {
		return domain.EncodingUTF8
	}
	for _, b := range sample {
		if b >= 0x80 && b <= 0x9F {
			if decoded, err := charmap.Windows1252.NewDecoder().Bytes(sample); err == nil && !strings.ContainsRune(string(decoded), utf8.RuneError) {
				return domain.EncodingWindows1252
			}
			break
		}
	}
	return domain.EncodingISO88591
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
