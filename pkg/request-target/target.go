package target

import (
	"bytes"
	"net"
	"strconv"
	"strings"

	proxyerror "github.com/always-cache/prefetch-proxy/pkg/proxy-error"
)

// DefaultPort is used when a target names no port, or an unusable one.
const DefaultPort = 80

const httpPrefix = "http://"

// RequestTarget is the origin a request is sent to.
type RequestTarget struct {
	Host string
	Port int
	// Path always starts with "/" and includes any query string.
	Path string
}

// Address returns the host:port pair to dial.
func (t RequestTarget) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// HostHeader returns the Host header value, with the port only when it is not the default.
func (t RequestTarget) HostHeader() string {
	if t.Port == DefaultPort {
		return t.Host
	}
	return t.Host + ":" + strconv.Itoa(t.Port)
}

// URL reconstructs the absolute origin URL of the target.
func (t RequestTarget) URL() string {
	return httpPrefix + t.HostHeader() + t.Path
}

// CustomPort reports whether the target names a port other than 80.
func (t RequestTarget) CustomPort() bool {
	return t.Port != DefaultPort
}

// RequestLine is the first line of a client request.
type RequestLine struct {
	Method string
	Target string
	Proto  string
	// Raw is the line as received, without the line terminator.
	Raw string
}

// ParseRequestLine decodes the first line of a raw request.
// Only the request line is looked at; headers and body are left alone.
func ParseRequestLine(request []byte) (RequestLine, error) {
	line, _, _ := bytes.Cut(request, []byte("\n"))
	raw := strings.TrimSuffix(string(line), "\r")
	if raw == "" {
		return RequestLine{}, proxyerror.New(proxyerror.KindParse, "parse request line", "empty request line")
	}
	parts := strings.Split(raw, " ")
	if len(parts) < 2 || parts[1] == "" {
		return RequestLine{}, proxyerror.New(proxyerror.KindParse, "parse request line", "no request target in "+strconv.Quote(raw))
	}
	rl := RequestLine{Method: parts[0], Target: parts[1], Raw: raw}
	if len(parts) > 2 {
		rl.Proto = parts[2]
	}
	return rl, nil
}

// StripScheme removes a leading "http://" from a request target.
func StripScheme(target string) string {
	return strings.TrimPrefix(target, httpPrefix)
}

// Parse resolves a request target such as "example.com:8080/path" into its parts.
// A "scheme://" prefix before the first "/" is dropped first; one inside the
// path or query is left alone.
// A missing path becomes "/"; a missing, non-numeric or out-of-range port becomes 80.
func Parse(raw string) RequestTarget {
	if i := strings.Index(raw, "://"); i >= 0 && !strings.Contains(raw[:i], "/") {
		raw = raw[i+len("://"):]
	}
	hostPort, path, found := strings.Cut(raw, "/")
	if found {
		path = "/" + path
	} else {
		path = "/"
	}
	host, portStr, found := strings.Cut(hostPort, ":")
	port := DefaultPort
	if found {
		if p, err := strconv.Atoi(portStr); err == nil && p > 0 && p <= 65535 {
			port = p
		}
	}
	return RequestTarget{Host: host, Port: port, Path: path}
}

// FromURL resolves an absolute URL, as produced by link resolution, into a target.
// It fails only when the URL names no host.
func FromURL(rawURL string) (RequestTarget, error) {
	t := Parse(rawURL)
	if t.Host == "" {
		return t, proxyerror.New(proxyerror.KindParse, "parse url", "no host in "+strconv.Quote(rawURL))
	}
	return t, nil
}
