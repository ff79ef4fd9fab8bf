package serializer

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// TimestampHeaderName is the header the store appends to every entry.
// Origins never send it.
const TimestampHeaderName = "cache-timestamp"

var (
	separator   = []byte("\r\n\r\n")
	lineBreak   = []byte("\r\n")
	fieldDelim  = ": "
	htmlMarker  = []byte("Content-Type: text/html")
	contentType = "Content-Type"
)

// Field is a single header line of a stored response.
type Field struct {
	Name  string
	Value string
}

// Header is the ordered list of header fields of a stored response.
// Names may repeat; lookups return the last occurrence.
type Header []Field

// Get returns the value of the last field with the given name.
// Names are compared case-insensitively.
func (h Header) Get(name string) (string, bool) {
	for i := len(h) - 1; i >= 0; i-- {
		if strings.EqualFold(h[i].Name, name) {
			return h[i].Value, true
		}
	}
	return "", false
}

// Map returns the last-wins mapping of the fields, keyed by the names as stored.
func (h Header) Map() map[string]string {
	m := make(map[string]string, len(h))
	for _, f := range h {
		m[f.Name] = f.Value
	}
	return m
}

// CachedResponse is a stored response split into its parts.
type CachedResponse struct {
	Key string
	// Raw holds the exact stored bytes, timestamp line included.
	Raw    []byte
	Header Header
	Body   []byte
	// StoredAt is the time from the cache-timestamp header; zero if absent.
	StoredAt time.Time
}

// IsHTML reports whether the stored Content-Type mentions text/html.
func (c CachedResponse) IsHTML() bool {
	ct, _ := c.Header.Get(contentType)
	return strings.Contains(ct, "text/html")
}

// Split cuts a raw response at the first blank line.
// It returns ok=false when the bytes contain no head/body separator.
func Split(raw []byte) (head, body []byte, ok bool) {
	return bytes.Cut(raw, separator)
}

// ParseHeader parses the head section of a raw response.
// The first line (status or request line) is skipped, as are lines without ": ".
func ParseHeader(head []byte) Header {
	lines := bytes.Split(head, lineBreak)
	header := make(Header, 0, len(lines))
	for _, line := range lines[1:] {
		name, value, found := strings.Cut(string(line), fieldDelim)
		if !found {
			continue
		}
		header = append(header, Field{Name: name, Value: value})
	}
	return header
}

// HeaderFromBytes parses the header section of a raw response.
// Responses without a head/body separator yield an empty header.
func HeaderFromBytes(raw []byte) Header {
	head, _, ok := Split(raw)
	if !ok {
		return Header{}
	}
	return ParseHeader(head)
}

// HeadIsHTML reports whether a raw response head carries the literal
// "Content-Type: text/html" header line prefix.
func HeadIsHTML(head []byte) bool {
	return bytes.Contains(head, htmlMarker)
}

// Stamp appends a cache-timestamp line to the head of a raw response.
// Bytes without a head/body separator are returned unchanged.
func Stamp(raw []byte, storedAt time.Time) []byte {
	head, body, ok := Split(raw)
	if !ok {
		return raw
	}
	line := fmt.Sprintf("\r\n%s%s%s", TimestampHeaderName, fieldDelim, FormatTimestamp(storedAt))
	buf := bytes.NewBuffer(make([]byte, 0, len(raw)+len(line)))
	buf.Write(head)
	buf.WriteString(line)
	buf.Write(separator)
	buf.Write(body)
	return buf.Bytes()
}

// FormatTimestamp renders t as fractional seconds since the epoch.
func FormatTimestamp(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixNano())/float64(time.Second), 'f', 6, 64)
}

// ParseTimestamp parses fractional seconds since the epoch.
func ParseTimestamp(s string) (time.Time, error) {
	secs, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return time.Time{}, err
	}
	if math.IsNaN(secs) || math.IsInf(secs, 0) {
		return time.Time{}, fmt.Errorf("timestamp %q out of range", s)
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*float64(time.Second))), nil
}

// BytesToCachedResponse splits stored bytes into a CachedResponse.
// It fails if the bytes have no head/body separator or carry a malformed timestamp.
func BytesToCachedResponse(key string, raw []byte) (CachedResponse, error) {
	head, body, ok := Split(raw)
	if !ok {
		return CachedResponse{}, fmt.Errorf("stored response %s has no header separator", key)
	}
	cr := CachedResponse{
		Key:    key,
		Raw:    raw,
		Header: ParseHeader(head),
		Body:   body,
	}
	if ts, found := cr.Header.Get(TimestampHeaderName); found {
		storedAt, err := ParseTimestamp(ts)
		if err != nil {
			return CachedResponse{}, fmt.Errorf("stored response %s has invalid timestamp: %w", key, err)
		}
		cr.StoredAt = storedAt
	}
	return cr, nil
}
