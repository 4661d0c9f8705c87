package transforms

import (
	"fmt"
	"strings"
)

// Arg is one argument of a parenthesized spec such as concat(first, " ", last).
type Arg struct {
	Value  string
	Quoted bool
	Regex  bool
}

// Params is a parsed transform spec. Colon specs ("truncate:10:...") keep everything after
// the first colon in Raw and split it on ":" into Args; paren specs split on commas
// outside quotes and /regex/ literals.
type Params struct {
	Name  string
	Raw   string
	Args  []Arg
	Paren bool
}

func (p Params) Arg(i int) (string, bool) {
	if i < 0 || i >= len(p.Args) {
		return "", false
	}
	return p.Args[i].Value, true
}

func (p Params) HasArgs() bool { return p.Raw != "" || len(p.Args) > 0 }

func ParseSpec(spec string) (Params, error) {
	spec = strings.TrimSpace(spec)
	open := strings.IndexByte(spec, '(')
	colon := strings.IndexByte(spec, ':')
	if open > 0 && strings.HasSuffix(spec, ")") && (colon < 0 || open < colon) {
		inner := spec[open+1 : len(spec)-1]
		args, err := splitArgs(inner)
		if err != nil {
			return Params{}, fmt.Errorf("parse transform %q: %w", spec, err)
		}
		return Params{Name: strings.TrimSpace(spec[:open]), Raw: inner, Args: args, Paren: true}, nil
	}
	if colon >= 0 {
		name, raw := spec[:colon], spec[colon+1:]
		if name == "" {
			return Params{}, fmt.Errorf("parse transform %q: missing name", spec)
		}
		parts := strings.Split(raw, ":")
		args := make([]Arg, len(parts))
		for i, part := range parts {
			args[i] = Arg{Value: part}
		}
		return Params{Name: name, Raw: raw, Args: args}, nil
	}
	if spec == "" {
		return Params{}, fmt.Errorf("parse transform: empty spec")
	}
	return Params{Name: spec}, nil
}

// splitArgs splits on commas that are outside "..." / '...' strings and /regex/flags
// literals. Backslash escapes the next character inside string quotes and is kept
// verbatim inside regex literals.
func splitArgs(s string) ([]Arg, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var (
		args  []Arg
		buf   strings.Builder
		cur   Arg
		quote byte
		done  bool
		begun bool
	)
	emit := func() {
		v := buf.String()
		if !cur.Quoted {
			v = strings.TrimSpace(v)
		}
		cur.Value = v
		args = append(args, cur)
		buf.Reset()
		cur, done, begun = Arg{}, false, false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote == '/':
			buf.WriteByte(c)
			if c == '\\' && i+1 < len(s) {
				i++
				buf.WriteByte(s[i])
				continue
			}
			if c == '/' {
				quote = 0
			}
		case quote != 0:
			if c == '\\' && i+1 < len(s) {
				i++
				buf.WriteByte(s[i])
				continue
			}
			if c == quote {
				quote, done = 0, true
				continue
			}
			buf.WriteByte(c)
		case c == ',':
			emit()
		case !begun && (c == ' ' || c == '\t'):
		case !begun && (c == '"' || c == '\''):
			quote, begun, cur.Quoted = c, true, true
		case !begun && c == '/':
			quote, begun, cur.Regex = '/', true, true
			buf.WriteByte(c)
		case done:
			// text after a closing quote is ignored
		default:
			begun = true
			buf.WriteByte(c)
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %q in arguments", string(quote))
	}
	emit()
	return args, nil
}
