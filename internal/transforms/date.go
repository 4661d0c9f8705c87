package transforms

import (
	"strings"
	"time"

	"github.com/mmrzaf/etlflow/internal/timeutil"
)

const (
	dateLayout     = "2006-01-02"
	datetimeLayout = "2006-01-02 15:04:05"
)

// toTime interprets strings with timeutil.ParseDate and integers as unix seconds.
func toTime(v any, now time.Time) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		parsed, err := timeutil.ParseDate(t, now)
		return parsed, err == nil
	}
	if sec, ok := toInt(v); ok {
		return time.Unix(sec, 0).UTC(), true
	}
	return time.Time{}, false
}

// castDate normalizes to YYYY-MM-DD. Unparsable and epoch-zero values become nil with
// a warning; a bare year becomes January 1st of that year, also with a warning.
func castDate(v any, tc *Context) any {
	if isBlank(v) {
		return nil
	}
	if s, ok := v.(string); ok && timeutil.IsBareYear(s) {
		year := strings.TrimSpace(s)
		tc.Warn("bare year %s interpreted as %s-01-01", year, year)
		return year + "-01-01"
	}
	t, ok := toTime(v, tc.now())
	if !ok {
		tc.Warn("unparsable date %v", v)
		return nil
	}
	if t.Unix() == 0 {
		tc.Warn("epoch-zero date %v rejected", v)
		return nil
	}
	return t.Format(dateLayout)
}

func castDatetime(v any, tc *Context) any {
	if isBlank(v) {
		return nil
	}
	t, ok := toTime(v, tc.now())
	if !ok {
		tc.Warn("unparsable datetime %v", v)
		return nil
	}
	return t.Format(datetimeLayout)
}

func timestamp(v any, tc *Context) any {
	switch v.(type) {
	case string, time.Time, *time.Time:
	default:
		return v
	}
	t, ok := toTime(v, tc.now())
	if !ok {
		tc.Warn("cannot convert %v to timestamp", v)
		return v
	}
	return t.Unix()
}

func newDateFormat(p Params) (Transform, error) {
	format := p.Raw
	if p.Paren {
		format, _ = p.Arg(0)
	}
	if strings.TrimSpace(format) == "" {
		return nil, errInvalidParam("date_format", "format", format)
	}
	return Func(func(v any, tc *Context) any {
		if isBlank(v) {
			return v
		}
		t, ok := toTime(v, tc.now())
		if !ok {
			tc.Warn("cannot format %v as date", v)
			return v
		}
		return timeutil.Format(t, format)
	}), nil
}

// newParseDate reads the value with an explicit input format. The colon form
// parse_date:d/m/Y outputs Y-m-d; parse_date("d/m/Y", "Y-m-d H:i") sets both.
func newParseDate(p Params) (Transform, error) {
	in, out := p.Raw, "Y-m-d"
	if p.Paren {
		in, _ = p.Arg(0)
		if o, ok := p.Arg(1); ok && o != "" {
			out = o
		}
	}
	if strings.TrimSpace(in) == "" {
		return nil, errInvalidParam("parse_date", "format", in)
	}
	return Func(func(v any, tc *Context) any {
		s, ok := v.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return v
		}
		t, err := timeutil.ParseWith(in, s)
		if err != nil {
			tc.Warn("date %q does not match format %s", s, in)
			return v
		}
		return timeutil.Format(t, out)
	}), nil
}
