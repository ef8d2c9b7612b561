package router

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"mockhttp/pkg/metrics"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func newTestRequest(method, uri string, body []byte, contentType string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetHost("mock")
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(uri)
	if contentType != "" {
		ctx.Request.Header.SetContentType(contentType)
	}
	if body != nil {
		ctx.Request.SetBody(body)
	}
	return ctx
}

// startServer runs the router behind a real fasthttp server on an in-memory listener.
func startServer(t *testing.T, r *RequestRouter) *fasthttputil.InmemoryListener {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	server := &fasthttp.Server{
		Handler:              r.Handle,
		DisableKeepalive:     true,
		NoDefaultContentType: true,
	}
	go func() {
		_ = server.Serve(ln)
	}()
	t.Cleanup(func() {
		_ = server.Shutdown()
	})
	return ln
}

func clientFor(ln *fasthttputil.InmemoryListener) *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DisableKeepAlives: true,
			DialContext: func(context.Context, string, string) (net.Conn, error) {
				return ln.Dial()
			},
		},
	}
}

// rawExchange writes a raw request and returns every byte the server sent before closing.
func rawExchange(t *testing.T, ln *fasthttputil.InmemoryListener, request string) []byte {
	t.Helper()
	conn, err := ln.Dial()
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(request))
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))

	data, err := io.ReadAll(conn)
	require.NoError(t, err)
	return data
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

// ==========================================
// Handler tests on a bare RequestCtx
// ==========================================

func TestHandle_SlowWithoutParams(t *testing.T) {
	r := NewRequestRouter(nil)
	ctx := newTestRequest(fasthttp.MethodGet, "/slow", nil, "")

	r.Handle(ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, TEXT_PLAIN_UTF8, string(ctx.Response.Header.ContentType()))
	assert.Equal(t, "The delay is set to : 0\r\n", string(ctx.Response.Body()))
	assert.True(t, ctx.Response.ConnectionClose())
	assert.False(t, ctx.Hijacked())
}

func TestHandle_SlowFixedDelay(t *testing.T) {
	r := NewRequestRouter(nil, WithDelayUnit(10*time.Millisecond))
	ctx := newTestRequest(fasthttp.MethodGet, "/slow?delay=3", nil, "")

	start := time.Now()
	r.Handle(ctx)

	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, "The delay is set to : 3\r\n", string(ctx.Response.Body()))
}

func TestHandle_SlowRandomDelayHasEmptyBody(t *testing.T) {
	var bound int
	r := NewRequestRouter(nil,
		WithDelayUnit(time.Millisecond),
		WithPicker(func(n int) int { bound = n; return n - 1 }),
	)
	ctx := newTestRequest(fasthttp.MethodGet, "/slow?randomdelay=5", nil, "")

	r.Handle(ctx)

	assert.Equal(t, 5, bound)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, TEXT_PLAIN_UTF8, string(ctx.Response.Header.ContentType()))
	assert.Empty(t, ctx.Response.Body())
}

func TestHandle_SlowInvalidDelayDropsConnection(t *testing.T) {
	m := metrics.New("test")
	r := NewRequestRouter(nil, WithMetrics(m))
	ctx := newTestRequest(fasthttp.MethodGet, "/slow?delay=abc", nil, "")

	r.Handle(ctx)

	assert.True(t, ctx.Hijacked())
	assert.Empty(t, ctx.Response.Body())
	expected := `
# HELP test_dropped_connections_total Connections closed without a response, by reason.
# TYPE test_dropped_connections_total counter
test_dropped_connections_total{reason="invalid_parameter"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "test_dropped_connections_total"))
}

func TestHandle_ConClose(t *testing.T) {
	r := NewRequestRouter(nil, WithDelayUnit(time.Millisecond))
	ctx := newTestRequest(fasthttp.MethodGet, "/conclose?delay=2", nil, "")

	r.Handle(ctx)

	assert.True(t, ctx.Hijacked())
}

func TestHandle_EchoMirrorsContentType(t *testing.T) {
	r := NewRequestRouter(nil)
	payload := []byte(`{"hello":"world"}`)
	ctx := newTestRequest(fasthttp.MethodPost, "/echo", payload, "application/json")

	r.Handle(ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, payload, ctx.Response.Body())
	assert.Equal(t, "application/json", string(ctx.Response.Header.ContentType()))
	assert.True(t, ctx.Response.ConnectionClose())
}

func TestHandle_EchoBodyIsACopy(t *testing.T) {
	r := NewRequestRouter(nil)
	ctx := newTestRequest(fasthttp.MethodPost, "/echo", []byte("original"), "text/plain")

	r.Handle(ctx)
	ctx.Request.SetBody([]byte("mutated!"))

	assert.Equal(t, "original", string(ctx.Response.Body()))
}

func TestHandle_NotFound(t *testing.T) {
	tests := []string{"/", "/anything-unmapped", "/SLOW", "/slow/", "/echo/extra", "/conclose2", "//slow", "/x/../slow", "/./echo"}

	for _, uri := range tests {
		t.Run(uri, func(t *testing.T) {
			r := NewRequestRouter(nil)
			ctx := newTestRequest(fasthttp.MethodGet, uri, nil, "")

			r.Handle(ctx)

			assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
			assert.Equal(t, TEXT_PLAIN_UTF8, string(ctx.Response.Header.ContentType()))
			assert.Equal(t, NOT_FOUND_BODY, string(ctx.Response.Body()))
			assert.True(t, ctx.Response.ConnectionClose())
		})
	}
}

func TestHandle_PercentEncodedPathIsDecoded(t *testing.T) {
	r := NewRequestRouter(nil)
	ctx := newTestRequest(fasthttp.MethodGet, "/%73low", nil, "")

	r.Handle(ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "The delay is set to : 0\r\n", string(ctx.Response.Body()))
}

func TestHandle_EchoEmptyContentTypeIsKept(t *testing.T) {
	r := NewRequestRouter(nil)
	ctx := &fasthttp.RequestCtx{}
	raw := "POST /echo HTTP/1.1\r\nHost: mock\r\nContent-Type: \r\nContent-Length: 2\r\n\r\nhi"
	require.NoError(t, ctx.Request.Read(bufio.NewReader(strings.NewReader(raw))))

	r.Handle(ctx)

	assert.True(t, ctx.Hijacked())
	assert.Equal(t, "hi", string(ctx.Response.Body()))
}

func TestContentTypeSent(t *testing.T) {
	tests := []struct {
		name    string
		headers string
		want    bool
	}{
		{"absent", "Host: mock\r\n", false},
		{"empty value", "Host: mock\r\nContent-Type: \r\n", true},
		{"lower case name", "Host: mock\r\ncontent-type:\r\n", true},
		{"with value", "Host: mock\r\nContent-Type: text/plain\r\n", true},
		{"similar name", "Host: mock\r\nX-Content-Type: a\r\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var h fasthttp.RequestHeader
			raw := "GET /echo HTTP/1.1\r\n" + tt.headers + "\r\n"
			require.NoError(t, h.Read(bufio.NewReader(strings.NewReader(raw))))
			assert.Equal(t, tt.want, contentTypeSent(&h))
		})
	}
}

func TestHandle_AnyMethod(t *testing.T) {
	for _, method := range []string{fasthttp.MethodGet, fasthttp.MethodPost, fasthttp.MethodPut, fasthttp.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			r := NewRequestRouter(nil)
			ctx := newTestRequest(method, "/slow?delay=0", nil, "")

			r.Handle(ctx)

			assert.Equal(t, "The delay is set to : 0\r\n", string(ctx.Response.Body()))
		})
	}
}

func TestHandle_CountsRoutes(t *testing.T) {
	m := metrics.New("test")
	r := NewRequestRouter(nil, WithMetrics(m))

	r.Handle(newTestRequest(fasthttp.MethodGet, "/slow", nil, ""))
	r.Handle(newTestRequest(fasthttp.MethodPost, "/echo", []byte("x"), ""))
	r.Handle(newTestRequest(fasthttp.MethodGet, "/missing", nil, ""))

	expected := `
# HELP test_requests_total Requests dispatched, by route.
# TYPE test_requests_total counter
test_requests_total{route="echo"} 1
test_requests_total{route="not_found"} 1
test_requests_total{route="slow"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "test_requests_total"))
}

func TestHandle_DelayInterruptedByBaseContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRequestRouter(nil, WithBaseContext(ctx))
	req := newTestRequest(fasthttp.MethodGet, "/slow?delay=600", nil, "")

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	r.Handle(req)

	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, fasthttp.StatusOK, req.Response.StatusCode())
	assert.Equal(t, "The delay is set to : 600\r\n", string(req.Response.Body()))
}

// ==========================================
// End-to-end tests over a fasthttp server
// ==========================================

func TestServer_SlowDelayInSeconds(t *testing.T) {
	ln := startServer(t, NewRequestRouter(nil))
	client := clientFor(ln)

	start := time.Now()
	resp, err := client.Get("http://mock/slow?delay=1")
	require.NoError(t, err)
	elapsed := time.Since(start)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, TEXT_PLAIN_UTF8, resp.Header.Get("Content-Type"))
	assert.True(t, resp.Close)
	assert.Equal(t, "The delay is set to : 1\r\n", readBody(t, resp))
	assert.GreaterOrEqual(t, elapsed, time.Second)
	assert.Less(t, elapsed, 5*time.Second)
}

func TestServer_SlowRandomDelay(t *testing.T) {
	ln := startServer(t, NewRequestRouter(nil, WithDelayUnit(10*time.Millisecond)))
	client := clientFor(ln)

	start := time.Now()
	resp, err := client.Get("http://mock/slow?randomdelay=5")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "", readBody(t, resp))
	assert.Equal(t, int64(0), resp.ContentLength)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestServer_EchoWithContentType(t *testing.T) {
	ln := startServer(t, NewRequestRouter(nil))
	client := clientFor(ln)
	payload := []byte{0x00, 0x01, 0xfe, 0xff, '\r', '\n', 'z'}

	req, err := http.NewRequest(http.MethodPost, "http://mock/echo", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := client.Do(req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, int64(len(payload)), resp.ContentLength)
	assert.True(t, resp.Close)
	assert.Equal(t, string(payload), readBody(t, resp))
}

func TestServer_EchoWithoutContentType(t *testing.T) {
	ln := startServer(t, NewRequestRouter(nil))
	client := clientFor(ln)

	req, err := http.NewRequest(http.MethodPost, "http://mock/echo", strings.NewReader("plain bytes"))
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)

	_, hasContentType := resp.Header["Content-Type"]
	assert.False(t, hasContentType)
	assert.Equal(t, int64(len("plain bytes")), resp.ContentLength)
	assert.Equal(t, "plain bytes", readBody(t, resp))
}

func TestServer_NotFound(t *testing.T) {
	ln := startServer(t, NewRequestRouter(nil))

	resp, err := clientFor(ln).Get("http://mock/anything-unmapped")
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, TEXT_PLAIN_UTF8, resp.Header.Get("Content-Type"))
	assert.Equal(t, NOT_FOUND_BODY, readBody(t, resp))
}

func TestServer_UnnormalizedPathsAreNotFound(t *testing.T) {
	ln := startServer(t, NewRequestRouter(nil))

	for _, path := range []string{"//slow", "/x/../slow", "/echo/."} {
		t.Run(path, func(t *testing.T) {
			data := rawExchange(t, ln, "GET "+path+" HTTP/1.1\r\nHost: mock\r\n\r\n")

			assert.True(t, bytes.HasPrefix(data, []byte("HTTP/1.1 404 Not Found\r\n")), string(data))
			assert.True(t, bytes.HasSuffix(data, []byte(NOT_FOUND_BODY)), string(data))
		})
	}
}

func TestServer_EchoWithEmptyContentType(t *testing.T) {
	ln := startServer(t, NewRequestRouter(nil))

	data := rawExchange(t, ln, "POST /echo HTTP/1.1\r\nHost: mock\r\nContent-Type: \r\nContent-Length: 4\r\n\r\nping")

	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(data)), nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{""}, resp.Header["Content-Type"])
	assert.Equal(t, int64(4), resp.ContentLength)
	assert.True(t, resp.Close)
	assert.Equal(t, "ping", readBody(t, resp))
}

func TestServer_ConCloseWritesNothing(t *testing.T) {
	ln := startServer(t, NewRequestRouter(nil, WithDelayUnit(50*time.Millisecond)))

	start := time.Now()
	data := rawExchange(t, ln, "GET /conclose?delay=2 HTTP/1.1\r\nHost: mock\r\n\r\n")

	assert.Empty(t, data)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestServer_InvalidDelayFailsOnlyThatRequest(t *testing.T) {
	ln := startServer(t, NewRequestRouter(nil))

	data := rawExchange(t, ln, "GET /slow?delay=abc HTTP/1.1\r\nHost: mock\r\n\r\n")
	assert.Empty(t, data)

	resp, err := clientFor(ln).Get("http://mock/slow")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "The delay is set to : 0\r\n", readBody(t, resp))
}

func TestServer_EchoNotBlockedBySlowRequest(t *testing.T) {
	ln := startServer(t, NewRequestRouter(nil, WithDelayUnit(200*time.Millisecond)))
	client := clientFor(ln)

	slowDone := make(chan struct{})
	go func() {
		defer close(slowDone)
		resp, err := client.Get("http://mock/slow?delay=5")
		if err == nil {
			resp.Body.Close()
		}
	}()

	// Give the slow request time to reach its delay.
	time.Sleep(50 * time.Millisecond)

	req, err := http.NewRequest(http.MethodPost, "http://mock/echo", strings.NewReader("ping"))
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	assert.Equal(t, "ping", readBody(t, resp))

	select {
	case <-slowDone:
		t.Fatal("slow request finished before echo returned")
	default:
	}
	<-slowDone
}
