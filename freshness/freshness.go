// Package freshness decides whether a stored response may be served without
// contacting the origin again.
//
// A response is only fresh when it carries an explicit, parseable signal
// saying so. Missing or malformed signals mean "refetch".
package freshness

import (
	"time"

	serializer "github.com/always-cache/prefetch-proxy/pkg/response-serializer"
)

// Headers is the lookup the evaluator needs from a stored response.
// serializer.Header implements it.
type Headers interface {
	Get(name string) (string, bool)
}

// IsValid evaluates the stored headers against now.
//
// In priority order:
//  1. Expires present: valid iff it parses and now is before it.
//  2. Cache-Control present: no-cache / no-store are never valid; otherwise
//     max-age together with a cache-timestamp decides.
//  3. Neither present: invalid.
func IsValid(h Headers, now time.Time) bool {
	if expires, ok := h.Get("Expires"); ok {
		exp, err := ParseExpires(expires)
		if err != nil {
			return false
		}
		return now.UTC().Before(exp)
	}
	if ccHeader, ok := h.Get("Cache-Control"); ok {
		cc := ParseCacheControl(ccHeader)
		if cc.HasDirective("no-cache") || cc.HasDirective("no-store") {
			return false
		}
		maxAge, ok := cc.MaxAge()
		if !ok {
			return false
		}
		storedAt, ok := timestamp(h)
		if !ok {
			return false
		}
		return now.Sub(storedAt) < maxAge
	}
	return false
}

func timestamp(h Headers) (time.Time, bool) {
	ts, ok := h.Get(serializer.TimestampHeaderName)
	if !ok {
		return time.Time{}, false
	}
	storedAt, err := serializer.ParseTimestamp(ts)
	if err != nil {
		return time.Time{}, false
	}
	return storedAt, true
}
