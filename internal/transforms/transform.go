package transforms

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

var ErrUnknownTransform = errors.New("unknown transform")

// Transform maps one value to another. Implementations are total: input they cannot
// handle is returned unchanged, and anomalies are reported through the Context.
type Transform interface {
	Apply(value any, tc *Context) any
}

// Func adapts a plain function to Transform.
type Func func(value any, tc *Context) any

func (f Func) Apply(value any, tc *Context) any { return f(value, tc) }

// Factory builds a parameterized transform from a parsed spec.
type Factory func(p Params) (Transform, error)

// Context carries the row being processed so transforms such as concat and coalesce can
// read sibling columns.
type Context struct {
	Row   map[string]any
	Field string
	Now   time.Time

	warnings []string
}

func NewContext(row map[string]any, field string) *Context {
	return &Context{Row: row, Field: field}
}

func (c *Context) Warn(format string, args ...any) {
	if c == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if c.Field != "" {
		msg = c.Field + ": " + msg
	}
	c.warnings = append(c.warnings, msg)
}

func (c *Context) Warnings() []string {
	if c == nil {
		return nil
	}
	return c.warnings
}

func (c *Context) column(name string) any {
	if c == nil || c.Row == nil {
		return nil
	}
	return c.Row[name]
}

func (c *Context) now() time.Time {
	if c == nil || c.Now.IsZero() {
		return time.Now()
	}
	return c.Now
}

type pipeline []Transform

func (p pipeline) Apply(value any, tc *Context) any {
	for _, t := range p {
		value = t.Apply(value, tc)
	}
	return value
}

// stringify renders scalar values as text. Maps, slices and nil are not scalars.
func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	case bool:
		return strconv.FormatBool(t), true
	case int:
		return strconv.Itoa(t), true
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", t), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case fmt.Stringer:
		return t.String(), true
	default:
		return "", false
	}
}
