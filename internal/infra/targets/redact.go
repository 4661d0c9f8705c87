package targets

import (
	"net/url"
	"strings"
)

// RedactDSN masks passwords in URL and keyword DSNs. Anything else is masked whole.
func RedactDSN(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return ""
	}

	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" && u.Host != "" {
		if u.User != nil {
			u.User = url.UserPassword(u.User.Username(), "****")
		}
		q := u.Query()
		for _, k := range []string{"password", "pass", "pwd"} {
			if q.Has(k) {
				q.Set(k, "****")
			}
		}
		u.RawQuery = q.Encode()
		return u.String()
	}

	parts := strings.Fields(dsn)
	redacted := false
	for i := range parts {
		l := strings.ToLower(parts[i])
		if strings.HasPrefix(l, "password=") || strings.HasPrefix(l, "pwd=") || strings.HasPrefix(l, "pass=") {
			parts[i] = parts[i][:strings.IndexByte(parts[i], '=')+1] + "****"
			redacted = true
		}
	}
	if redacted {
		return strings.Join(parts, " ")
	}
	return "****"
}
