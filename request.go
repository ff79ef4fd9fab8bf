package prefetchproxy

import (
	"bytes"
	"strings"
)

var (
	crlf        = []byte("\r\n")
	headEnd     = []byte("\r\n\r\n")
	closeHeader = []byte("Connection: close")
)

// Hop-by-hop headers that would keep the origin connection open.
// Ref: https://developer.mozilla.org/en-US/docs/Web/HTTP/Headers#hop-by-hop_headers
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
}

// rewriteRequest prepares a client request for the origin.
// The request line becomes "GET <path> HTTP/1.1" and the connection is
// forced to close, since responses are delimited by the origin closing it.
// Other header lines and any body bytes are passed through as received.
func rewriteRequest(request []byte, path string) []byte {
	head, body, found := bytes.Cut(request, headEnd)
	if !found {
		head = bytes.TrimRight(head, "\r\n")
	}
	lines := bytes.Split(head, crlf)

	var buf bytes.Buffer
	buf.Grow(len(request) + len(closeHeader) + len(path))
	buf.WriteString("GET " + path + " HTTP/1.1")
	for _, line := range lines[1:] {
		if isHopByHop(line) {
			continue
		}
		buf.Write(crlf)
		buf.Write(line)
	}
	buf.Write(crlf)
	buf.Write(closeHeader)
	buf.Write(headEnd)
	buf.Write(body)
	return buf.Bytes()
}

func isHopByHop(line []byte) bool {
	name, _, found := strings.Cut(string(line), ":")
	if !found {
		return false
	}
	name = strings.TrimSpace(name)
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}

// hostHeader returns the Host header value of a raw request.
func hostHeader(request []byte) string {
	head, _, _ := bytes.Cut(request, headEnd)
	for _, line := range bytes.Split(head, crlf)[1:] {
		name, value, found := strings.Cut(string(line), ":")
		if found && strings.EqualFold(strings.TrimSpace(name), "Host") {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
