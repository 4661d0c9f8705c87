package transforms

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	tagRe         = regexp.MustCompile(`<[^>]*>`)
	slugInvalidRe = regexp.MustCompile(`[^a-z0-9]+`)
	blankLinesRe  = regexp.MustCompile(`\n{3,}`)
	groupRefRe    = regexp.MustCompile(`\$(\d+)`)
)

// onString lifts a string function into a Func that passes other types through.
func onString(fn func(string) string) Func {
	return func(v any, _ *Context) any {
		s, ok := v.(string)
		if !ok {
			return v
		}
		return fn(s)
	}
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func title(s string) string {
	return cases.Title(language.Und).String(s)
}

func stripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func slugify(s string) string {
	s = strings.ToLower(stripAccents(s))
	s = slugInvalidRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// words splits on non-alphanumerics and on case boundaries, so "parseHTTPRequest" and
// "parse_http-request" yield the same words.
func words(s string) []string {
	var (
		out []string
		cur []rune
	)
	flush := func() {
		if len(cur) > 0 {
			out = append(out, string(cur))
			cur = cur[:0]
		}
	}
	rs := []rune(s)
	for i, r := range rs {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if unicode.IsUpper(r) && len(cur) > 0 {
			prev := rs[i-1]
			nextLower := i+1 < len(rs) && unicode.IsLower(rs[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return out
}

func snakeCase(s string) string {
	ws := words(stripAccents(s))
	for i, w := range ws {
		ws[i] = strings.ToLower(w)
	}
	return strings.Join(ws, "_")
}

func camelCase(s string) string {
	ws := words(stripAccents(s))
	for i, w := range ws {
		w = strings.ToLower(w)
		if i > 0 {
			w = capitalize(w)
		}
		ws[i] = w
	}
	return strings.Join(ws, "")
}

func cleanWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func normalizeMultiline(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(line, unicode.IsSpace)
	}
	s = strings.Join(lines, "\n")
	s = blankLinesRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func newTruncate(p Params) (Transform, error) {
	raw, _ := p.Arg(0)
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return nil, errInvalidParam("truncate", "length", raw)
	}
	suffix, _ := p.Arg(1)
	return Func(func(v any, _ *Context) any {
		s, ok := v.(string)
		if !ok || utf8.RuneCountInString(s) <= n {
			return v
		}
		return string([]rune(s)[:n]) + suffix
	}), nil
}

func affix(prepend bool) Factory {
	return func(p Params) (Transform, error) {
		text := p.Raw
		if p.Paren {
			text, _ = p.Arg(0)
		}
		return Func(func(v any, _ *Context) any {
			if v == nil {
				return v
			}
			s, ok := stringify(v)
			if !ok {
				return v
			}
			if prepend {
				return text + s
			}
			return s + text
		}), nil
	}
}

func newSplit(p Params) (Transform, error) {
	delim := p.Raw
	if p.Paren {
		delim, _ = p.Arg(0)
	}
	if delim == "" {
		delim = ","
	}
	return Func(func(v any, _ *Context) any {
		s, ok := v.(string)
		if !ok {
			return v
		}
		return splitList(s, delim)
	}), nil
}

func splitList(s, delim string) []any {
	out := []any{}
	for _, part := range strings.Split(s, delim) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// newConcat supports two forms. concat(first, " ", last) joins row columns and quoted
// literals, with $value standing for the current value. concat:sep:col1:col2 joins the
// current value and the named columns with sep, skipping blanks.
func newConcat(p Params) (Transform, error) {
	if p.Paren {
		args := p.Args
		if len(args) == 0 {
			return nil, errInvalidParam("concat", "arguments", p.Raw)
		}
		return Func(func(v any, tc *Context) any {
			var b strings.Builder
			for _, a := range args {
				var part any
				switch {
				case a.Quoted:
					part = a.Value
				case a.Value == "$value" || a.Value == "value":
					part = v
				default:
					part = tc.column(a.Value)
				}
				if s, ok := stringify(part); ok {
					b.WriteString(s)
				}
			}
			return b.String()
		}), nil
	}
	if len(p.Args) == 0 {
		return nil, errInvalidParam("concat", "separator", "")
	}
	sep := p.Args[0].Value
	cols := make([]string, 0, len(p.Args)-1)
	for _, a := range p.Args[1:] {
		cols = append(cols, a.Value)
	}
	return Func(func(v any, tc *Context) any {
		parts := make([]string, 0, len(cols)+1)
		for _, part := range append([]any{v}, columns(tc, cols)...) {
			s, ok := stringify(part)
			if ok && strings.TrimSpace(s) != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, sep)
	}), nil
}

func columns(tc *Context, names []string) []any {
	out := make([]any, len(names))
	for i, name := range names {
		out[i] = tc.column(name)
	}
	return out
}

// newRegexReplace accepts regex_replace(/pat/flags, "repl") or regex_replace:pat:repl.
// Replacement is always global, so a trailing g flag is dropped.
func newRegexReplace(p Params) (Transform, error) {
	var pattern, repl string
	if p.Paren {
		if len(p.Args) < 1 {
			return nil, errInvalidParam("regex_replace", "pattern", p.Raw)
		}
		pattern = p.Args[0].Value
		if len(p.Args) > 1 {
			repl = p.Args[1].Value
		}
	} else {
		parts := strings.SplitN(p.Raw, ":", 2)
		pattern = parts[0]
		if len(parts) > 1 {
			repl = parts[1]
		}
	}
	re, err := compileLiteral(pattern)
	if err != nil {
		return nil, err
	}
	repl = groupRefRe.ReplaceAllString(repl, "$${$1}")
	return Func(func(v any, _ *Context) any {
		s, ok := v.(string)
		if !ok {
			return v
		}
		return re.ReplaceAllString(s, repl)
	}), nil
}

func compileLiteral(lit string) (*regexp.Regexp, error) {
	pattern := lit
	if strings.HasPrefix(lit, "/") {
		if end := strings.LastIndexByte(lit, '/'); end > 0 {
			pattern = lit[1:end]
			var inline strings.Builder
			for _, f := range lit[end+1:] {
				switch f {
				case 'i', 'm', 's':
					inline.WriteRune(f)
				}
			}
			if inline.Len() > 0 {
				pattern = "(?" + inline.String() + ")" + pattern
			}
		}
	}
	if pattern == "" {
		return nil, errInvalidParam("regex_replace", "pattern", lit)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errInvalidParam("regex_replace", "pattern", lit)
	}
	return re, nil
}
