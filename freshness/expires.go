package freshness

import (
	"net/http"
	"net/mail"
	"strings"
	"time"
)

// ParseExpires parses an Expires value.
// HTTP dates (RFC 1123, RFC 850, asctime) are tried first, then the general
// RFC 5322 date syntax with numeric zones.
func ParseExpires(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := http.ParseTime(value); err == nil {
		return t, nil
	}
	t, err := mail.ParseDate(value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
