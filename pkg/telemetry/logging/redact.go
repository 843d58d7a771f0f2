package logging

import (
	"log/slog"
	"net/url"
	"strings"
)

// Redacted replaces masked attribute values.
const Redacted = "***"

// DefaultRedactKeys are masked unless Config.RedactKeys says otherwise.
var DefaultRedactKeys = []string{"password", "dsn", "token", "authorization", "secret"}

// Redactor masks the values of sensitive log attributes. Matching is by
// attribute key, case-insensitive, at any group depth.
type Redactor struct {
	keys map[string]struct{}
}

// NewRedactor creates a Redactor for keys.
func NewRedactor(keys ...string) *Redactor {
	r := &Redactor{keys: make(map[string]struct{}, len(keys))}
	for _, k := range keys {
		r.keys[strings.ToLower(k)] = struct{}{}
	}
	return r
}

// ReplaceAttr is a slog.HandlerOptions.ReplaceAttr hook.
func (r *Redactor) ReplaceAttr(_ []string, a slog.Attr) slog.Attr {
	if _, ok := r.keys[strings.ToLower(a.Key)]; !ok {
		return a
	}
	if strings.EqualFold(a.Key, "dsn") {
		return slog.String(a.Key, RedactURL(a.Value.String()))
	}
	return slog.String(a.Key, Redacted)
}

// RedactURL masks the password of a URL-shaped connection string and
// leaves the host visible. Values that do not parse are masked whole.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return Redacted
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), Redacted)
		}
	}
	return u.String()
}
