package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	proxyerror "github.com/always-cache/prefetch-proxy/pkg/proxy-error"
	target "github.com/always-cache/prefetch-proxy/pkg/request-target"
)

const defaultBufferSize = 8192

// Fetcher issues one-shot HTTP/1.1 requests to origins.
// Every call dials a fresh connection and reads until the origin closes it;
// Content-Length and chunked framing are not interpreted.
type Fetcher struct {
	dialer     net.Dialer
	timeout    time.Duration
	bufferSize int
}

type Option func(*Fetcher)

// WithTimeout bounds a whole fetch, from dial to the last byte read.
// Zero means no bound.
func WithTimeout(timeout time.Duration) Option {
	return func(f *Fetcher) {
		f.timeout = timeout
	}
}

// WithBufferSize sets the size of the chunks read from the origin.
func WithBufferSize(size int) Option {
	return func(f *Fetcher) {
		if size > 0 {
			f.bufferSize = size
		}
	}
}

func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		bufferSize: defaultBufferSize,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Get sends a minimal GET for the target and returns the raw response.
func (f *Fetcher) Get(ctx context.Context, t target.RequestTarget) ([]byte, error) {
	return f.Forward(ctx, t, BuildRequest(t))
}

// Forward writes request to the target origin and returns everything the
// origin sends back, status line and headers included.
func (f *Fetcher) Forward(ctx context.Context, t target.RequestTarget, request []byte) ([]byte, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	addr := t.Address()

	conn, err := f.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classify("dial "+addr, err)
	}
	defer conn.Close()

	// unblock reads and writes when the context ends
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if _, err := conn.Write(request); err != nil {
		return nil, classify("send to "+addr, err)
	}

	response, err := f.readAll(conn)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, classify("receive from "+addr, err)
	}
	return response, nil
}

func (f *Fetcher) readAll(r io.Reader) ([]byte, error) {
	var response bytes.Buffer
	buf := make([]byte, f.bufferSize)
	for {
		n, err := r.Read(buf)
		response.Write(buf[:n])
		if err == io.EOF {
			return response.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// BuildRequest renders the minimal request used for prefetching.
func BuildRequest(t target.RequestTarget) []byte {
	return []byte(fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\nConnection: close\r\n\r\n", t.Path, t.HostHeader()))
}

func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return proxyerror.Wrap(proxyerror.KindTimeout, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return proxyerror.Wrap(proxyerror.KindTimeout, op, err)
	}
	return proxyerror.Wrap(proxyerror.KindConnect, op, err)
}
