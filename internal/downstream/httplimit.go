package downstream

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

// limitTransport caps how many bytes a downstream may send in one HTTP
// response, so an oversized reply aborts mid-stream instead of being
// buffered and decoded first. The long-lived SSE event stream (a GET with
// text/event-stream) carries many responses over its lifetime and is
// exempt; per-call accounting for it happens after decode.
type limitTransport struct {
	base  http.RoundTripper
	limit int64
}

func newLimitTransport(limit int64) *limitTransport {
	return &limitTransport{base: http.DefaultTransport, limit: limit}
}

func (t *limitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.Body == nil {
		return resp, err
	}
	if req.Method == http.MethodGet &&
		strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		return resp, nil
	}
	resp.Body = &cappedBody{rc: resp.Body, limit: t.limit, remaining: t.limit}
	return resp, nil
}

// cappedBody fails the read that crosses the limit.
type cappedBody struct {
	rc        io.ReadCloser
	limit     int64
	remaining int64
}

func (b *cappedBody) Read(p []byte) (int, error) {
	if b.remaining < 0 {
		return 0, fmt.Errorf("response body exceeds %d bytes", b.limit)
	}
	n, err := b.rc.Read(p)
	b.remaining -= int64(n)
	if b.remaining < 0 {
		return 0, fmt.Errorf("response body exceeds %d bytes", b.limit)
	}
	return n, err
}

func (b *cappedBody) Close() error { return b.rc.Close() }
