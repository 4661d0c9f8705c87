package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/mmrzaf/etlflow/internal/domain"
	"github.com/mmrzaf/etlflow/internal/relations"
	"github.com/mmrzaf/etlflow/internal/transforms"
)

// RowResult holds the transformed values of one row for one entity mapping, keyed by
// target path, and the rule failures grouped by target.
type RowResult struct {
	Passes   bool
	Errors   map[string][]string
	Values   map[string]any
	Warnings []string
}

// Messages flattens Errors into one list.
func (r RowResult) Messages() []string {
	var out []string
	for _, msgs := range r.Errors {
		out = append(out, msgs...)
	}
	return out
}

type RowValidator struct {
	engine   *transforms.Engine
	validate *validator.Validate

	mu   sync.RWMutex
	tags map[string]string
}

func NewRowValidator(engine *transforms.Engine) *RowValidator {
	if engine == nil {
		engine = transforms.NewEngine(nil)
	}
	v := validator.New()
	registerCustom(v)
	return &RowValidator{engine: engine, validate: v, tags: make(map[string]string)}
}

func (rv *RowValidator) Engine() *transforms.Engine { return rv.engine }

func (rv *RowValidator) tag(rule string) (string, error) {
	rv.mu.RLock()
	tag, ok := rv.tags[rule]
	rv.mu.RUnlock()
	if ok {
		return tag, nil
	}
	tag, err := TranslateRule(rule)
	if err != nil {
		return "", err
	}
	rv.mu.Lock()
	rv.tags[rule] = tag
	rv.mu.Unlock()
	return tag, nil
}

// ValidateRow runs every column of the mapping: source value (or default when absent or
// blank), then transforms, then the validation rule. Nested targets read their last
// segment out of object values first; "rel.*.field" targets run once per list element.
func (rv *RowValidator) ValidateRow(row domain.Row, m domain.EntityMapping) RowResult {
	res := RowResult{
		Errors: make(map[string][]string),
		Values: make(map[string]any, len(m.Columns)),
	}
	for _, col := range m.Columns {
		value, ok := row.Get(col.Source)
		if (!ok || domain.IsBlank(value)) && col.Default != nil {
			value = col.Default
		}

		path := col.TargetPath()
		field := path[len(path)-1]
		if wildcard(path) {
			list := asList(value)
			outs := make([]any, 0, len(list))
			failed := false
			for _, el := range list {
				if obj, isObj := el.(map[string]any); isObj {
					el, _ = relations.Extract(obj, field)
				}
				out, msgs := rv.one(row, col, el, &res)
				if len(msgs) > 0 {
					res.Errors[col.Target] = append(res.Errors[col.Target], msgs...)
					failed = true
					break
				}
				outs = append(outs, out)
			}
			if !failed {
				res.Values[col.Target] = outs
			}
			continue
		}

		if obj, isObj := value.(map[string]any); isObj && len(path) > 1 {
			value, _ = relations.Extract(obj, field)
		}
		out, msgs := rv.one(row, col, value, &res)
		if len(msgs) > 0 {
			res.Errors[col.Target] = append(res.Errors[col.Target], msgs...)
			continue
		}
		res.Values[col.Target] = out
	}
	res.Passes = len(res.Errors) == 0
	return res
}

func (rv *RowValidator) one(row domain.Row, col domain.ColumnMapping, value any, res *RowResult) (any, []string) {
	tc := transforms.NewContext(row.Values, col.Target)
	out, err := rv.engine.Apply(value, col.Transforms, tc)
	res.Warnings = append(res.Warnings, tc.Warnings()...)
	if err != nil {
		return nil, []string{err.Error()}
	}
	return out, rv.check(col, out)
}

func wildcard(path []string) bool {
	for _, seg := range path {
		if seg == "*" {
			return true
		}
	}
	return false
}

func asList(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case nil:
		return nil
	default:
		if domain.IsBlank(t) {
			return nil
		}
		return []any{t}
	}
}

func (rv *RowValidator) check(col domain.ColumnMapping, value any) []string {
	if col.ValidationRule == "" {
		return nil
	}
	tag, err := rv.tag(col.ValidationRule)
	if err != nil {
		return []string{fmt.Sprintf("invalid validation rule for %s: %v", col.Target, err)}
	}
	if tag == "" {
		return nil
	}
	required, rest := presence(tag)
	if domain.IsBlank(value) {
		if required {
			return []string{fmt.Sprintf("The %s field is required.", col.Target)}
		}
		return nil
	}
	if rest == "" {
		return nil
	}
	if err := rv.run(value, rest); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return []string{fmt.Sprintf("The %s field could not be validated: %v", col.Target, err)}
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, message(col.Target, fe))
		}
		return msgs
	}
	return nil
}

// presence splits the leading required or omitempty off a tag. Presence means "not blank",
// so 0 and false satisfy required, unlike the validator's zero-value check.
func presence(tag string) (bool, string) {
	first, rest, _ := strings.Cut(tag, ",")
	switch first {
	case "required":
		return true, rest
	case "omitempty":
		return false, rest
	}
	return false, tag
}

// run guards against validator panics on kinds a tag does not support, such as min on a bool.
func (rv *RowValidator) run(value any, tag string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule %q does not apply to %T", tag, value)
		}
	}()
	return rv.validate.Var(value, tag)
}
