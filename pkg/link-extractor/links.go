// Package links scrapes href and src attribute values out of HTML and turns
// them into absolute URLs.
//
// Extraction is a pattern match over attribute syntax, not a document parse.
// Quotes inside scripts or malformed markup yield false matches, and unquoted
// attributes are missed.
package links

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	hrefPattern = regexp.MustCompile(`href=['"]([^'"]+)['"]`)
	srcPattern  = regexp.MustCompile(`src=['"]([^'"]+)['"]`)
)

// Extract returns the distinct href and src values found in html,
// hrefs first, each in document order.
func Extract(html []byte) []string {
	seen := make(map[string]struct{})
	var found []string
	for _, pattern := range []*regexp.Regexp{hrefPattern, srcPattern} {
		for _, m := range pattern.FindAllSubmatch(html, -1) {
			ref := string(m[1])
			if _, ok := seen[ref]; ok {
				continue
			}
			seen[ref] = struct{}{}
			found = append(found, ref)
		}
	}
	return found
}

// Skip reports whether ref points nowhere worth fetching.
func Skip(ref string) bool {
	return ref == "" || ref == "#" || strings.HasPrefix(ref, "javascript:")
}

// Resolve makes ref absolute against the page URL base.
// It returns false for refs that Skip rejects.
func Resolve(base, ref string) (string, bool) {
	if Skip(ref) {
		return "", false
	}
	scheme, host := "http", ""
	if u, err := url.Parse(base); err == nil {
		if u.Scheme != "" {
			scheme = u.Scheme
		}
		host = u.Host
	}
	switch {
	case strings.HasPrefix(ref, "http"):
		return ref, true
	case strings.HasPrefix(ref, "//"):
		return scheme + ":" + ref, true
	case strings.HasPrefix(ref, "/"):
		return scheme + "://" + host + ref, true
	default:
		dir := base
		if i := strings.LastIndex(base, "/"); i >= 0 {
			dir = base[:i]
		}
		return dir + "/" + ref, true
	}
}

// ResolveAll extracts the links of html and resolves them against base.
// The result keeps extraction order and holds no duplicates.
func ResolveAll(base string, html []byte) []string {
	refs := Extract(html)
	resolved := make([]string, 0, len(refs))
	seen := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		abs, ok := Resolve(base, ref)
		if !ok {
			continue
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		resolved = append(resolved, abs)
	}
	return resolved
}
