package profile

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/mmrzaf/etlflow/internal/domain"
	"github.com/mmrzaf/etlflow/internal/readers"
	"github.com/mmrzaf/etlflow/internal/timeutil"
)

const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeFloat   = "float"
	TypeBoolean = "boolean"
	TypeDate    = "date"
	TypeObject  = "object"
	TypeArray   = "array"
)

const DefaultSampleRows = 1000

const maxSamples = 3

type column struct {
	name    string
	kind    string
	seen    int
	blank   int
	samples []string
}

// Profile reads up to limit rows and infers one SourceColumn per source key. Column order
// follows the header when the reader has one, first appearance otherwise.
func Profile(r readers.Reader, limit int) (*domain.SourceSchema, error) {
	if limit <= 0 {
		limit = DefaultSampleRows
	}
	cols := make(map[string]*column)
	order := make([]string, 0)
	if h, ok := r.(interface{ Header() []string }); ok {
		for _, name := range h.Header() {
			if _, dup := cols[name]; dup {
				continue
			}
			cols[name] = &column{name: name}
			order = append(order, name)
		}
	}

	rows := 0
	for rows < limit && r.Next() {
		rows++
		values := r.Row().Values
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			c, ok := cols[k]
			if !ok {
				c = &column{name: k, blank: rows - 1}
				cols[k] = c
				order = append(order, k)
			}
			c.observe(values[k])
		}
		for _, k := range order {
			if _, ok := values[k]; !ok {
				cols[k].blank++
			}
		}
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}

	out := &domain.SourceSchema{Columns: make([]domain.SourceColumn, 0, len(order))}
	for _, name := range order {
		c := cols[name]
		kind := c.kind
		if kind == "" {
			kind = TypeString
		}
		out.Columns = append(out.Columns, domain.SourceColumn{
			Name:     name,
			Type:     kind,
			Nullable: c.blank > 0 || c.seen == 0,
			Samples:  c.samples,
		})
	}
	return out, nil
}

func (c *column) observe(v any) {
	if domain.IsBlank(v) {
		c.blank++
		return
	}
	c.seen++
	c.kind = widen(c.kind, infer(v))
	if len(c.samples) >= maxSamples {
		return
	}
	s := fmt.Sprint(v)
	for _, existing := range c.samples {
		if existing == s {
			return
		}
	}
	c.samples = append(c.samples, s)
}

func infer(v any) string {
	switch t := v.(type) {
	case bool:
		return TypeBoolean
	case int, int64, int32:
		return TypeInteger
	case float64:
		if t == float64(int64(t)) {
			return TypeInteger
		}
		return TypeFloat
	case float32:
		return TypeFloat
	case time.Time:
		return TypeDate
	case map[string]any:
		return TypeObject
	case []any:
		return TypeArray
	case string:
		return inferString(strings.TrimSpace(t))
	default:
		return TypeString
	}
}

func inferString(s string) string {
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return TypeInteger
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return TypeFloat
	}
	switch strings.ToLower(s) {
	case "true", "false", "yes", "no":
		return TypeBoolean
	}
	if looksLikeDate(s) {
		if _, err := timeutil.ParseDate(s, time.Now()); err == nil {
			return TypeDate
		}
	}
	return TypeString
}

// Relative phrases like "tomorrow" parse as dates too; only digit-led values count here.
func looksLikeDate(s string) bool {
	return len(s) >= 6 && unicode.IsDigit(rune(s[0])) && !timeutil.IsBareYear(s)
}

func widen(current, next string) string {
	switch {
	case current == "" || current == next:
		return next
	case (current == TypeInteger && next == TypeFloat) || (current == TypeFloat && next == TypeInteger):
		return TypeFloat
	default:
		return TypeString
	}
}

// DraftMapping proposes a single-entity mapping from a profile. Targets are the
// snake_case column names; nothing is validated against a catalog.
func DraftMapping(schema *domain.SourceSchema, model string) *domain.MappingDefinition {
	cols := make([]domain.ColumnMapping, 0, len(schema.Columns))
	for _, c := range schema.Columns {
		cm := domain.ColumnMapping{Source: c.Name, Target: SnakeCase(c.Name)}
		switch c.Type {
		case TypeString:
			cm.Transforms = []string{"trim"}
		case TypeInteger:
			cm.Transforms = []string{"cast:int"}
		case TypeFloat:
			cm.Transforms = []string{"cast:float"}
		case TypeBoolean:
			cm.Transforms = []string{"cast:bool"}
		case TypeDate:
			cm.Transforms = []string{"cast:date"}
		}
		if !c.Nullable {
			cm.ValidationRule = "required"
		}
		cols = append(cols, cm)
	}
	return &domain.MappingDefinition{
		Name:         model,
		SourceSchema: schema,
		Mappings: []domain.EntityMapping{
			{Model: model, ExecutionOrder: 1, Columns: cols},
		},
	}
}

// SnakeCase lowercases and joins words with underscores: "First Name" and "firstName"
// both become "first_name".
func SnakeCase(s string) string {
	var b strings.Builder
	prevLower := false
	pendingSep := false
	for _, r := range strings.TrimSpace(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if (pendingSep || (unicode.IsUpper(r) && prevLower)) && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToLower(r))
			prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
		default:
			pendingSep = true
			prevLower = false
		}
	}
	return b.String()
}
