package timeutil

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TwoDigitYearPivot bounds how far into the future a two-digit year may land before it is
// moved back a century.
var TwoDigitYearPivot = 20

var (
	fourDigitYearLayouts = []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
		"2006/01/02",
		"2006.01.02",
		"1/2/2006 15:04:05",
		"1/2/2006 15:04",
		"1/2/2006",
		"01/02/2006",
		"1-2-2006",
		"01-02-2006",
		"1.2.2006",
		"02.01.2006",
		"Jan 2, 2006",
		"January 2, 2006",
		"2 Jan 2006",
		"2 January 2006",
		"Mon, 02 Jan 2006 15:04:05 MST",
		"20060102",
	}
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}

	bareYearRe = regexp.MustCompile(`^\d{4}$`)

	ErrUnparsable = errors.New("unrecognized date")
)

// ParseDate accepts the common date shapes found in spreadsheets and exports, plus unix
// timestamps in seconds.
func ParseDate(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrUnparsable
	}
	if bareYearRe.MatchString(s) {
		y, _ := strconv.Atoi(s)
		return time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC), nil
	}
	if isDigits(s) && len(s) >= 9 {
		sec, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			return time.Unix(sec, 0).UTC(), nil
		}
	}
	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	pivotYear := now.Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnparsable, s)
}

// IsBareYear reports input that is only a four-digit year.
func IsBareYear(s string) bool {
	return bareYearRe.MatchString(strings.TrimSpace(s))
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

var phpTokens = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "01",
	'n': "1",
	'd': "02",
	'j': "2",
	'H': "15",
	'G': "15",
	'h': "03",
	'g': "3",
	'i': "04",
	's': "05",
	'A': "PM",
	'a': "pm",
	'D': "Mon",
	'l': "Monday",
	'M': "Jan",
	'F': "January",
	'T': "MST",
	'P': "-07:00",
	'O': "-0700",
	'e': "MST",
	'u': "000000",
	'v': "000",
}

// PHPLayout converts a PHP date() format such as "Y-m-d H:i" to a Go layout.
// A backslash escapes the next character. Go layout formats pass through unchanged.
func PHPLayout(format string) string {
	if strings.Contains(format, "2006") || strings.Contains(format, "15:04") {
		return format
	}
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c == '\\' && i+1 < len(format) {
			b.WriteByte(format[i+1])
			i++
			continue
		}
		if tok, ok := phpTokens[c]; ok {
			b.WriteString(tok)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Format renders t with a PHP or Go format. "U" yields unix seconds.
func Format(t time.Time, format string) string {
	if format == "U" {
		return strconv.FormatInt(t.Unix(), 10)
	}
	return t.Format(PHPLayout(format))
}

// ParseWith parses s using an explicit PHP or Go format.
func ParseWith(format, s string) (time.Time, error) {
	return time.Parse(PHPLayout(format), strings.TrimSpace(s))
}
