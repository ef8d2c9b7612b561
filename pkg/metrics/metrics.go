package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const (
	ROUTE_SLOW      = "slow"
	ROUTE_CONCLOSE  = "conclose"
	ROUTE_ECHO      = "echo"
	ROUTE_NOT_FOUND = "not_found"
)

// Metrics owns a private registry so several servers (and tests) can live in
// one process. All methods are no-ops on a nil receiver.
type Metrics struct {
	registry  *prometheus.Registry
	requests  *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	delays    *prometheus.HistogramVec
	throttled prometheus.Counter
	inFlight  prometheus.Gauge
}

func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests dispatched, by route.",
		}, []string{"route"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_connections_total",
			Help:      "Connections closed without a response, by reason.",
		}, []string{"reason"}),
		delays: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delay_seconds",
			Help:      "Delay applied before answering, by delay kind.",
			Buckets:   []float64{0, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"kind"}),
		throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "throttled_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "in_flight_requests",
			Help:      "Requests currently being handled, including sleeping ones.",
		}),
	}

	m.registry.MustRegister(
		m.requests,
		m.dropped,
		m.delays,
		m.throttled,
		m.inFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RequestRouted(route string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route).Inc()
}

func (m *Metrics) ConnectionDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveDelay(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.delays.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) Throttled() {
	if m == nil {
		return
	}
	m.throttled.Inc()
}

// TrackInFlight increments the in-flight gauge and returns the matching decrement.
func (m *Metrics) TrackInFlight() func() {
	if m == nil {
		return func() {}
	}
	m.inFlight.Inc()
	return m.inFlight.Dec
}

// AdminHandler serves /metrics and /healthz for the admin listener.
func (m *Metrics) AdminHandler() fasthttp.RequestHandler {
	var metricsHandler fasthttp.RequestHandler
	if m != nil {
		metricsHandler = fasthttpadaptor.NewFastHTTPHandler(
			promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}),
		)
	}

	return func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/metrics":
			if metricsHandler == nil {
				ctx.Error("metrics disabled", fasthttp.StatusNotFound)
				return
			}
			metricsHandler(ctx)
		case "/healthz":
			ctx.SetContentType("text/plain; charset=utf-8")
			ctx.SetBodyString("ok")
		default:
			ctx.Error("not found", fasthttp.StatusNotFound)
		}
	}
}
