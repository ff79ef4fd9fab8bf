package cachekey

import "strings"

// placeholder replaces every character of a URL that is not an ASCII letter or digit.
const placeholder = '_'

// GetKey returns the cache key for a (scheme-stripped) request target.
// The key doubles as a flat file name, so every character outside [A-Za-z0-9]
// is replaced by an underscore.
//
// The mapping is not injective: "a.com/x" and "a_com_x" share a key.
// Such collisions are accepted, the later write simply replaces the earlier one.
func GetKey(url string) string {
	var b strings.Builder
	b.Grow(len(url))
	for _, c := range url {
		if isAlnum(c) {
			b.WriteRune(c)
		} else {
			b.WriteRune(placeholder)
		}
	}
	return b.String()
}

func isAlnum(c rune) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}
