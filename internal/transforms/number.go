package transforms

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var numericRe = regexp.MustCompile(`^-?\d+(\.\d+)?([eE][-+]?\d+)?$`)

// toFloat accepts numbers and numeric strings, including "$1,200.50" and accounting
// negatives written as "(42)".
func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		return parseNumber(t)
	default:
		return 0, false
	}
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "").Replace(s)
	if strings.HasPrefix(s, "+") {
		s = s[1:]
	}
	if !numericRe.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if negative {
		f = -f
	}
	return f, true
}

func toInt(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int64:
		return t, true
	case int32:
		return int64(t), true
	}
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(f), true
}

func numeric(fn func(float64) any) Func {
	return func(v any, _ *Context) any {
		f, ok := toFloat(v)
		if !ok {
			return v
		}
		return fn(f)
	}
}

func floatParam(name string, p Params, fallback float64) (float64, error) {
	raw, ok := p.Arg(0)
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errInvalidParam(name, "number", raw)
	}
	return f, nil
}

func newRound(p Params) (Transform, error) {
	precision, err := floatParam("round", p, 0)
	if err != nil {
		return nil, err
	}
	scale := math.Pow(10, math.Trunc(precision))
	return numeric(func(f float64) any {
		return math.Round(f*scale) / scale
	}), nil
}

func newMultiply(p Params) (Transform, error) {
	factor, err := floatParam("multiply", p, 1)
	if err != nil {
		return nil, err
	}
	return numeric(func(f float64) any { return f * factor }), nil
}

func newDivide(p Params) (Transform, error) {
	divisor, err := floatParam("divide", p, 1)
	if err != nil {
		return nil, err
	}
	return Func(func(v any, tc *Context) any {
		f, ok := toFloat(v)
		if !ok {
			return v
		}
		if divisor == 0 {
			tc.Warn("division by zero, value left unchanged")
			return v
		}
		return f / divisor
	}), nil
}
