package target

import (
	"testing"

	proxyerror "github.com/always-cache/prefetch-proxy/pkg/proxy-error"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		expect RequestTarget
	}{
		{"custom port", "example.com:8080/path", RequestTarget{"example.com", 8080, "/path"}},
		{"no port", "example.com/path", RequestTarget{"example.com", 80, "/path"}},
		{"bad port", "example.com:notanumber/path", RequestTarget{"example.com", 80, "/path"}},
		{"port out of range", "example.com:70000/path", RequestTarget{"example.com", 80, "/path"}},
		{"no path", "example.com", RequestTarget{"example.com", 80, "/"}},
		{"port without path", "example.com:81", RequestTarget{"example.com", 81, "/"}},
		{"query kept", "example.com/a/b?c=d", RequestTarget{"example.com", 80, "/a/b?c=d"}},
		{"scheme dropped", "ftp://example.com/x", RequestTarget{"example.com", 80, "/x"}},
		{"empty port", "example.com:/x", RequestTarget{"example.com", 80, "/x"}},
		{"url in query", "ex.com/r?u=http://evil.com/x", RequestTarget{"ex.com", 80, "/r?u=http://evil.com/x"}},
		{"url in query after scheme", "ftp://ex.com/r?u=http://evil.com/x", RequestTarget{"ex.com", 80, "/r?u=http://evil.com/x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expect, Parse(tt.raw))
		})
	}
}

func TestStripScheme(t *testing.T) {
	require.Equal(t, "ex.com/", StripScheme("http://ex.com/"))
	require.Equal(t, "ex.com/", StripScheme("ex.com/"))
	require.Equal(t, "https://ex.com/", StripScheme("https://ex.com/"))
}

func TestURL(t *testing.T) {
	require.Equal(t, "http://ex.com/a", RequestTarget{"ex.com", 80, "/a"}.URL())
	require.Equal(t, "http://ex.com:8080/a", RequestTarget{"ex.com", 8080, "/a"}.URL())
	require.Equal(t, "ex.com:8080", RequestTarget{"ex.com", 8080, "/a"}.Address())
	require.Equal(t, "ex.com", RequestTarget{"ex.com", 80, "/a"}.HostHeader())
}

func TestParseRequestLine(t *testing.T) {
	rl, err := ParseRequestLine([]byte("GET http://ex.com/ HTTP/1.1\r\nHost: ex.com\r\n\r\n"))
	require.NoError(t, err)
	require.Equal(t, "GET", rl.Method)
	require.Equal(t, "http://ex.com/", rl.Target)
	require.Equal(t, "HTTP/1.1", rl.Proto)
	require.Equal(t, "GET http://ex.com/ HTTP/1.1", rl.Raw)
}

func TestParseRequestLineMalformed(t *testing.T) {
	for _, raw := range []string{"", "\r\n", "GET\r\n", "GET  HTTP/1.1\r\n"} {
		_, err := ParseRequestLine([]byte(raw))
		require.Error(t, err, raw)
		require.True(t, proxyerror.Is(err, proxyerror.KindParse), raw)
	}
}

func TestFromURL(t *testing.T) {
	tgt, err := FromURL("http://cdn.com:8081/d.js?v=2")
	require.NoError(t, err)
	require.Equal(t, RequestTarget{"cdn.com", 8081, "/d.js?v=2"}, tgt)

	_, err = FromURL("http:///nohost")
	require.Error(t, err)
}
