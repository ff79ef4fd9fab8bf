package freshness

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// CacheControl holds the parsed directives of a Cache-Control header.
type CacheControl struct {
	directives map[string]string
}

func (c CacheControl) Get(directive string) (string, bool) {
	val, ok := c.directives[directive]
	return val, ok
}

func (c CacheControl) HasDirective(directive string) bool {
	_, ok := c.Get(directive)
	return ok
}

// MaxAge returns the max-age directive as a duration.
// A missing or non-numeric argument reports false.
func (c CacheControl) MaxAge() (time.Duration, bool) {
	arg, ok := c.Get("max-age")
	if !ok {
		return 0, false
	}
	seconds, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, false
	}
	// larger values would overflow time.Duration
	if seconds > uint64(math.MaxInt64/int64(time.Second)) {
		return time.Duration(math.MaxInt64), true
	}
	return time.Duration(seconds) * time.Second, true
}

// ParseCacheControl parses a comma-separated list of directives.
// Directive names are compared case-insensitively and the last one wins.
func ParseCacheControl(header string) CacheControl {
	m := make(map[string]string)
	for _, directive := range strings.Split(header, ",") {
		directive = strings.TrimSpace(directive)
		if directive == "" {
			continue
		}
		name, arg, _ := strings.Cut(directive, "=")
		m[strings.ToLower(strings.TrimSpace(name))] = strings.Trim(strings.TrimSpace(arg), "\"")
	}
	return CacheControl{m}
}
