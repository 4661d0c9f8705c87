package sanitize

import (
	"fmt"
	"strings"

	"github.com/mmrzaf/etlflow/internal/domain"
)

const maxExamples = 3

const (
	StatBOMRemoved          = "bom_removed"
	StatNewlinesNormalized  = "newlines_normalized"
	StatControlCharsRemoved = "control_chars_removed"
	StatTrailingNewline     = "trailing_newline_added"
)

var boms = []struct {
	name   string
	marker string
}{
	{"UTF-8", "\xEF\xBB\xBF"},
	{"UTF-16LE", "\xFF\xFE"},
	{"UTF-16BE", "\xFE\xFF"},
}

type Sanitizer struct {
	cfg domain.SanitizerConfig
}

func New(cfg domain.SanitizerConfig) *Sanitizer {
	if cfg.Newline == "" {
		cfg.Newline = domain.NewlineLF
	}
	return &Sanitizer{cfg: cfg}
}

// Sanitize cleans raw file content according to the configured toggles. The report is
// returned even when nothing changed.
func (s *Sanitizer) Sanitize(raw string) (string, domain.SanitizationReport) {
	report := domain.NewSanitizationReport()
	if !s.cfg.Enabled {
		report.Decisions = append(report.Decisions, "sanitizer disabled")
		return raw, report
	}

	out := raw
	if s.cfg.RemoveBOM {
		out = removeBOM(out, &report)
	}
	if s.cfg.StripControlChars {
		out = stripControlChars(out, &report)
	}
	if s.cfg.NormalizeNewlines {
		out = normalizeNewlines(out, s.cfg.Newline.Sequence(), &report)
	}
	if s.cfg.EnsureTrailingNewline {
		out = ensureTrailingNewline(out, s.cfg.Newline.Sequence(), &report)
	}
	return out, report
}

func removeBOM(s string, report *domain.SanitizationReport) string {
	for _, b := range boms {
		if strings.HasPrefix(s, b.marker) {
			report.Stats[StatBOMRemoved]++
			report.Decisions = append(report.Decisions, fmt.Sprintf("removed %s byte order mark", b.name))
			addExample(report, StatBOMRemoved, fmt.Sprintf("% X", b.marker))
			return s[len(b.marker):]
		}
	}
	return s
}

func isStrippable(c byte) bool {
	if c == '\t' || c == '\n' || c == '\r' {
		return false
	}
	return c < 0x20 || c == 0x7F
}

// stripControlChars works on bytes: control characters are single ASCII bytes and never
// occur inside multi-byte sequences, so non-UTF-8 input passes through untouched.
func stripControlChars(s string, report *domain.SanitizationReport) string {
	var b strings.Builder
	b.Grow(len(s))
	removed := 0
	for i := 0; i < len(s); i++ {
		if isStrippable(s[i]) {
			removed++
			addExample(report, StatControlCharsRemoved, fmt.Sprintf("U+%04X at offset %d", s[i], i))
			continue
		}
		b.WriteByte(s[i])
	}
	if removed == 0 {
		return s
	}
	report.Stats[StatControlCharsRemoved] += removed
	report.Decisions = append(report.Decisions, fmt.Sprintf("removed %d control characters", removed))
	return b.String()
}

func normalizeNewlines(s, target string, report *domain.SanitizationReport) string {
	var b strings.Builder
	b.Grow(len(s))
	changed := 0
	line := 1
	for i := 0; i < len(s); i++ {
		var seq string
		switch {
		case s[i] == '\r' && i+1 < len(s) && s[i+1] == '\n':
			seq = "\r\n"
			i++
		case s[i] == '\r':
			seq = "\r"
		case s[i] == '\n':
			seq = "\n"
		default:
			b.WriteByte(s[i])
			continue
		}
		if seq != target {
			changed++
			addExample(report, StatNewlinesNormalized, fmt.Sprintf("%q -> %q at line %d", seq, target, line))
		}
		b.WriteString(target)
		line++
	}
	if changed == 0 {
		return s
	}
	report.Stats[StatNewlinesNormalized] += changed
	report.Decisions = append(report.Decisions, fmt.Sprintf("normalized %d line endings to %q", changed, target))
	return b.String()
}

func ensureTrailingNewline(s, newline string, report *domain.SanitizationReport) string {
	if s == "" || strings.HasSuffix(s, "\n") || strings.HasSuffix(s, "\r") {
		return s
	}
	report.Stats[StatTrailingNewline] = 1
	report.Decisions = append(report.Decisions, "added trailing newline")
	return s + newline
}

func addExample(report *domain.SanitizationReport, stat, example string) {
	if len(report.Examples[stat]) >= maxExamples {
		return
	}
	report.Examples[stat] = append(report.Examples[stat], example)
}
