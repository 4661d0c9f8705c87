package transforms

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"math"
	"strings"

	"github.com/mmrzaf/etlflow/internal/domain"
)

var isBlank = domain.IsBlank

func errInvalidParam(name, what, raw string) error {
	return fmt.Errorf("%s: invalid %s %q", name, what, raw)
}

var simpleBuiltins = map[string]Func{
	"trim":                onString(strings.TrimSpace),
	"upper":               onString(strings.ToUpper),
	"lower":               onString(strings.ToLower),
	"capitalize":          onString(capitalize),
	"title":               onString(title),
	"slugify":             onString(slugify),
	"snake_case":          onString(snakeCase),
	"camel_case":          onString(camelCase),
	"strip_tags":          onString(func(s string) string { return tagRe.ReplaceAllString(s, "") }),
	"clean_whitespace":    onString(cleanWhitespace),
	"normalize_multiline": onString(normalizeMultiline),
	"null_if_empty": func(v any, _ *Context) any {
		if isBlank(v) {
			return nil
		}
		return v
	},
	"floor":       numeric(func(f float64) any { return int64(math.Floor(f)) }),
	"ceil":        numeric(func(f float64) any { return int64(math.Ceil(f)) }),
	"to_cents":    numeric(func(f float64) any { return int64(math.Round(f * 100)) }),
	"from_cents":  numeric(func(f float64) any { return f / 100 }),
	"timestamp":   timestamp,
	"json_decode": decodeJSON,
}

var factoryBuiltins = map[string]Factory{
	"cast":          newCast,
	"default":       newDefault,
	"hash":          newHash,
	"truncate":      newTruncate,
	"prefix":        affix(true),
	"suffix":        affix(false),
	"round":         newRound,
	"multiply":      newMultiply,
	"divide":        newDivide,
	"date_format":   newDateFormat,
	"parse_date":    newParseDate,
	"coalesce":      newCoalesce,
	"split":         newSplit,
	"concat":        newConcat,
	"regex_replace": newRegexReplace,
}

func decodeJSON(v any, tc *Context) any {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return v
	}
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		tc.Warn("invalid json: %v", err)
		return v
	}
	return out
}

func newCast(p Params) (Transform, error) {
	kind, _ := p.Arg(0)
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "int", "integer":
		return Func(castInt), nil
	case "float", "double", "decimal":
		return Func(castFloat), nil
	case "bool", "boolean":
		return Func(castBool), nil
	case "string":
		return Func(castString), nil
	case "date":
		return Func(castDate), nil
	case "datetime":
		return Func(castDatetime), nil
	case "array":
		return Func(castArray), nil
	case "json":
		return Func(decodeJSON), nil
	default:
		return nil, errInvalidParam("cast", "type", kind)
	}
}

func castInt(v any, tc *Context) any {
	if isBlank(v) {
		return v
	}
	if b, ok := v.(bool); ok {
		if b {
			return int64(1)
		}
		return int64(0)
	}
	n, ok := toInt(v)
	if !ok {
		tc.Warn("cannot cast %v to integer", v)
		return v
	}
	return n
}

func castFloat(v any, tc *Context) any {
	if isBlank(v) {
		return v
	}
	f, ok := toFloat(v)
	if !ok {
		tc.Warn("cannot cast %v to float", v)
		return v
	}
	return f
}

func castBool(v any, tc *Context) any {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "t", "yes", "y", "1", "on":
			return true
		case "false", "f", "no", "n", "0", "off":
			return false
		case "":
			return v
		}
	}
	if f, ok := toFloat(v); ok {
		if _, isString := v.(string); !isString {
			return f != 0
		}
	}
	if v != nil {
		tc.Warn("cannot cast %v to boolean", v)
	}
	return v
}

func castString(v any, _ *Context) any {
	if s, ok := stringify(v); ok {
		return s
	}
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	return string(b)
}

func castArray(v any, _ *Context) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	case string:
		return splitList(t, ",")
	default:
		return []any{v}
	}
}

func newDefault(p Params) (Transform, error) {
	var fallback any = p.Raw
	if p.Paren {
		raw, _ := p.Arg(0)
		fallback = raw
	}
	return Func(func(v any, _ *Context) any {
		if isBlank(v) {
			return fallback
		}
		return v
	}), nil
}

// newCoalesce keeps the current value when present, otherwise takes the first non-blank
// argument. Quoted arguments are literals, bare ones are row columns.
func newCoalesce(p Params) (Transform, error) {
	if !p.HasArgs() {
		return nil, errInvalidParam("coalesce", "arguments", p.Raw)
	}
	args := p.Args
	return Func(func(v any, tc *Context) any {
		if !isBlank(v) {
			return v
		}
		for _, a := range args {
			var candidate any = a.Value
			if !a.Quoted {
				candidate = tc.column(a.Value)
			}
			if !isBlank(candidate) {
				return candidate
			}
		}
		return v
	}), nil
}

func newHash(p Params) (Transform, error) {
	algo, _ := p.Arg(0)
	var newHasher func() hash.Hash
	switch strings.ToLower(strings.TrimSpace(algo)) {
	case "", "sha256":
		newHasher = sha256.New
	case "sha1":
		newHasher = sha1.New
	case "md5":
		newHasher = md5.New
	default:
		return nil, errInvalidParam("hash", "algorithm", algo)
	}
	return Func(func(v any, _ *Context) any {
		s, ok := stringify(v)
		if !ok {
			return v
		}
		h := newHasher()
		h.Write([]byte(s))
		return hex.EncodeToString(h.Sum(nil))
	}), nil
}
