package readers

import "strings"

// SplitLine splits one delimited line, honoring the quote character and doubled-quote escapes.
func SplitLine(line, delimiter, quote string) []string {
	if delimiter == "" {
		delimiter = ","
	}
	var q byte = '"'
	if quote != "" {
		q = quote[0]
	}
	d := delimiter[0]

	var fields []string
	var cur strings.Builder
	inQuotes := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == q && inQuotes && i+1 < len(line) && line[i+1] == q:
			cur.WriteByte(q)
			i++
		case c == q:
			inQuotes = !inQuotes
		case c == d && !inQuotes:
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(fields, cur.String())
}
