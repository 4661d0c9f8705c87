package relations

import (
	"strings"
	"unicode"

	"github.com/mmrzaf/etlflow/internal/domain"
)

var metadataKeys = map[string]bool{"id": true, "_pivot": true, "pivot": true, "_meta": true}

// Extract reads key from a nested payload, trying the exact key, then its camelCase,
// PascalCase and underscore-free spellings, then a case-insensitive match that ignores
// separators.
func Extract(m map[string]any, key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	for _, k := range KeyVariants(key) {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	want := normalizeKey(key)
	for k, v := range m {
		if normalizeKey(k) == want {
			return v, true
		}
	}
	return nil, false
}

// KeyVariants lists the spellings Extract tries before falling back to normalization.
func KeyVariants(key string) []string {
	words := splitWords(key)
	var camel, pascal strings.Builder
	for i, w := range words {
		w = strings.ToLower(w)
		head := strings.ToUpper(w[:1]) + w[1:]
		if i == 0 {
			camel.WriteString(w)
		} else {
			camel.WriteString(head)
		}
		pascal.WriteString(head)
	}
	out := []string{key}
	for _, v := range []string{camel.String(), pascal.String(), strings.ReplaceAll(key, "_", "")} {
		if v == "" {
			continue
		}
		dup := false
		for _, seen := range out {
			if seen == v {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	return out
}

func splitWords(s string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || r == ' ' || r == '.':
			flush()
		case unicode.IsUpper(r) && i > 0 && unicode.IsLower(runes[i-1]):
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return words
}

func normalizeKey(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '_' || r == '-' || r == ' ' {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// IsEmptyPayload reports a nested payload that carries nothing to persist: only metadata
// keys, or every other value blank.
func IsEmptyPayload(m map[string]any) bool {
	for k, v := range m {
		if metadataKeys[k] {
			continue
		}
		if !domain.IsBlank(v) {
			return false
		}
	}
	return true
}

// Attributes strips metadata keys from a payload.
func Attributes(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if !metadataKeys[k] {
			out[k] = v
		}
	}
	return out
}

// PivotData merges the "pivot" and "_pivot" maps of an item, "_pivot" winning.
func PivotData(m map[string]any) map[string]any {
	out := map[string]any{}
	for _, k := range []string{"pivot", "_pivot"} {
		if p, ok := m[k].(map[string]any); ok {
			for pk, pv := range p {
				out[pk] = pv
			}
		}
	}
	return out
}
