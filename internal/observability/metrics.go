package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_http_requests_total",
			Help: "HTTP requests by method, route pattern and status code",
		}, []string{"method", "route", "code"},
	)
	Latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "router_http_request_duration_seconds",
		Help:    "Request latency seconds by route pattern",
		Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"route"})
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "router_http_in_flight",
		Help: "In-flight HTTP requests",
	})
	RequestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_request_errors_total",
			Help: "Failed requests by cause: store, corrupt, bad_request, rate_limited",
		}, []string{"type"},
	)
	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_decisions_total",
			Help: "Routing outcomes: accept, reject, no_targets, error",
		}, []string{"outcome"},
	)
	QuotaRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "router_quota_rejections_total",
		Help: "Accept attempts refused because the daily cap was reached",
	})
)

func init() {
	prometheus.MustRegister(RequestsTotal, Latency, InFlight, RequestErrors, Decisions, QuotaRejections)
}

func MetricsHandler() http.Handler { return promhttp.Handler() }

// unmatched labels requests that hit no route, so raw paths never become
// label values.
const unmatched = "unmatched"

// routePattern is the chi pattern that served r, e.g. /target/{id}. It is
// only known once the router has run.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return unmatched
}

// status is the code written through ww; handlers that never call
// WriteHeader answered 200.
func status(ww middleware.WrapResponseWriter) int {
	if ww.Status() == 0 {
		return http.StatusOK
	}
	return ww.Status()
}

// Measure must be mounted with Use on a chi router so the route pattern
// is resolved by the time the request completes.
func Measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		InFlight.Inc()
		defer InFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		timer := time.Now()
		next.ServeHTTP(ww, r)

		route := routePattern(r)
		Latency.WithLabelValues(route).Observe(time.Since(timer).Seconds())
		RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status(ww))).Inc()
	})
}
