package router

import (
	"bytes"
	"context"
	"fmt"
	"mockhttp/pkg/metrics"
	"mockhttp/pkg/utils/logger"
	"net"
	"net/url"
	"time"

	"github.com/valyala/fasthttp"
)

// Routes are matched exactly against the decoded request path.
const (
	ROUTE_SLOW      = "/slow"
	ROUTE_CONCLOSE  = "/conclose"
	ROUTE_ECHO      = "/echo"
	TEXT_PLAIN_UTF8 = "text/plain; charset=UTF-8"
	NOT_FOUND_BODY  = "The server couldn't locate the requested resource\r\n"

	EMPTY_CONTENT_TYPE_LINE = "Content-Type: \r\n"
)

// Drop reasons label connections closed without a response.
const (
	DROP_REASON_CONCLOSE      = "conclose"
	DROP_REASON_INVALID_PARAM = "invalid_parameter"
)

// RequestRouter maps every request onto exactly one terminal action: a response
// followed by connection close, or a close with no response at all.
// It holds no per-request state and is safe for concurrent use.
type RequestRouter struct {
	logger  *logger.Logger
	metrics *metrics.Metrics
	baseCtx context.Context
	unit    time.Duration
	pick    Picker
}

// Option configures a RequestRouter.
type Option func(*RequestRouter)

// WithBaseContext bounds pending delays; when ctx is done every sleeping
// request resumes immediately.
func WithBaseContext(ctx context.Context) Option {
	return func(r *RequestRouter) { r.baseCtx = ctx }
}

// WithDelayUnit sets how long one unit of delay lasts. Defaults to a second.
func WithDelayUnit(unit time.Duration) Option {
	return func(r *RequestRouter) { r.unit = unit }
}

// WithPicker replaces the random source used for randomdelay.
func WithPicker(pick Picker) Option {
	return func(r *RequestRouter) { r.pick = pick }
}

// WithMetrics records routing, drops and delays on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *RequestRouter) { r.metrics = m }
}

// NewRequestRouter builds a router; a nil log discards output.
func NewRequestRouter(log *logger.Logger, opts ...Option) *RequestRouter {
	if log == nil {
		log = logger.Nop()
	}
	r := &RequestRouter{
		logger:  log,
		baseCtx: context.Background(),
		unit:    time.Second,
		pick:    defaultPicker,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle is the fasthttp.RequestHandler for the mock routes.
func (r *RequestRouter) Handle(ctx *fasthttp.RequestCtx) {
	path := routePath(ctx)
	r.logger.Info(fmt.Sprintf("Incoming request - Method: %s, Path: %s", ctx.Method(), path))

	done := r.metrics.TrackInFlight()
	defer done()

	switch path {
	case ROUTE_SLOW:
		r.metrics.RequestRouted(metrics.ROUTE_SLOW)
		r.slowResponse(ctx)
	case ROUTE_CONCLOSE:
		r.metrics.RequestRouted(metrics.ROUTE_CONCLOSE)
		r.closeConnection(ctx)
	case ROUTE_ECHO:
		r.metrics.RequestRouted(metrics.ROUTE_ECHO)
		r.echoMessage(ctx)
	default:
		r.metrics.RequestRouted(metrics.ROUTE_NOT_FOUND)
		r.resourceNotFound(ctx)
	}
}

func (r *RequestRouter) slowResponse(ctx *fasthttp.RequestCtx) {
	plan, ok := r.delay(ctx)
	if !ok {
		return
	}

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType(TEXT_PLAIN_UTF8)
	ctx.SetBodyString(plan.Message())
	ctx.SetConnectionClose()
}

func (r *RequestRouter) closeConnection(ctx *fasthttp.RequestCtx) {
	if _, ok := r.delay(ctx); !ok {
		return
	}
	r.dropConnection(ctx, DROP_REASON_CONCLOSE)
}

func (r *RequestRouter) echoMessage(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.SetNoDefaultContentType(true)
	ctx.SetStatusCode(fasthttp.StatusOK)
	// SetBody copies, so the echoed bytes outlive the request buffer.
	ctx.SetBody(ctx.PostBody())
	ctx.SetConnectionClose()
	r.logger.Debug(fmt.Sprintf("Echoed %d bytes", len(ctx.PostBody())))

	contentType := ctx.Request.Header.ContentType()
	switch {
	case len(contentType) > 0:
		ctx.Response.Header.SetContentTypeBytes(contentType)
	case contentTypeSent(&ctx.Request.Header):
		r.writeWithEmptyContentType(ctx)
	}
}

// writeWithEmptyContentType sends the prepared response itself with an empty
// Content-Type line, which fasthttp never writes on its own.
func (r *RequestRouter) writeWithEmptyContentType(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.SetContentLength(len(ctx.Response.Body()))
	head := ctx.Response.Header.Header()
	raw := make([]byte, 0, len(head)+len(EMPTY_CONTENT_TYPE_LINE)+len(ctx.Response.Body()))
	raw = append(raw, head[:len(head)-2]...)
	raw = append(raw, EMPTY_CONTENT_TYPE_LINE...)
	raw = append(raw, "\r\n"...)
	raw = append(raw, ctx.Response.Body()...)

	ctx.HijackSetNoResponse(true)
	ctx.Hijack(func(c net.Conn) {
		if _, err := c.Write(raw); err != nil {
			r.logger.Warn(fmt.Sprintf("Failed to write echo response: %v", err))
		}
	})
}

func (r *RequestRouter) resourceNotFound(ctx *fasthttp.RequestCtx) {
	ctx.SetStatusCode(fasthttp.StatusNotFound)
	ctx.SetContentType(TEXT_PLAIN_UTF8)
	ctx.SetBodyString(NOT_FOUND_BODY)
	ctx.SetConnectionClose()
}

// routePath is the percent-decoded request path as sent, without slash
// collapsing or dot-segment resolution.
func routePath(ctx *fasthttp.RequestCtx) string {
	original := string(ctx.URI().PathOriginal())
	if decoded, err := url.PathUnescape(original); err == nil {
		return decoded
	}
	return original
}

// contentTypeSent reports whether the request carried a Content-Type header,
// including one with an empty value.
func contentTypeSent(h *fasthttp.RequestHeader) bool {
	raw := h.RawHeaders()
	for len(raw) > 0 {
		line := raw
		if i := bytes.IndexByte(raw, '\n'); i >= 0 {
			line, raw = raw[:i], raw[i+1:]
		} else {
			raw = nil
		}
		name, _, found := bytes.Cut(line, []byte{':'})
		if found && bytes.EqualFold(bytes.TrimSpace(name), []byte(fasthttp.HeaderContentType)) {
			return true
		}
	}
	return false
}

// delay resolves and applies the requested delay. It returns false when the
// request was aborted because of a malformed parameter.
func (r *RequestRouter) delay(ctx *fasthttp.RequestCtx) (DelaySpec, bool) {
	plan, err := ResolveDelay(ctx.QueryArgs(), r.pick)
	if err != nil {
		r.logger.Error(fmt.Sprintf("Rejecting %s: %v", ctx.Path(), err))
		r.dropConnection(ctx, DROP_REASON_INVALID_PARAM)
		return DelaySpec{}, false
	}

	wait := plan.Duration(r.unit)
	r.metrics.ObserveDelay(plan.Kind.String(), wait)
	if wait <= 0 {
		return plan, true
	}

	r.logger.Debug(fmt.Sprintf("Sleeping %s (%s delay) for %s", wait, plan.Kind, ctx.Path()))
	if !Sleep(r.baseCtx, wait) {
		r.logger.Warn(fmt.Sprintf("Delay of %s for %s interrupted", wait, ctx.Path()))
	}
	return plan, true
}

// dropConnection closes the connection once the handler returns, without
// writing a status line or headers.
func (r *RequestRouter) dropConnection(ctx *fasthttp.RequestCtx, reason string) {
	r.metrics.ConnectionDropped(reason)
	remote := ctx.RemoteAddr().String()

	ctx.HijackSetNoResponse(true)
	ctx.Hijack(func(c net.Conn) {
		r.logger.Debug(fmt.Sprintf("Closing connection from %s without response (%s)", remote, reason))
	})
}
