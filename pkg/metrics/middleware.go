package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	RequestsCollectorName = "http_requests_total"
	LatencyCollectorName  = "http_request_duration_milliseconds"

	// unmatchedRoute labels requests no route matched, keeping raw paths out of the labels
	unmatchedRoute = "unmatched"
)

var DefaultLatencyBuckets = []float64{25, 100, 300, 1000, 5000}

// Middleware counts and times the api requests by status code, method and
// route pattern.
type Middleware struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewMiddleware returns the middleware of the named server. Without buckets the
// latency histogram uses DefaultLatencyBuckets.
func NewMiddleware(name string, buckets ...float64) *Middleware {
	if len(buckets) == 0 {
		buckets = DefaultLatencyBuckets
	}
	labels := prometheus.Labels{"service": name}

	return &Middleware{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   proxmoxManager,
			Name:        RequestsCollectorName,
			Help:        "Number of HTTP requests by status code, method and route.",
			ConstLabels: labels,
		}, []string{"code", "method", "route"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   proxmoxManager,
			Name:        LatencyCollectorName,
			Help:        "Time spent serving HTTP requests by status code, method and route.",
			ConstLabels: labels,
			Buckets:     buckets,
		}, []string{"code", "method", "route"}),
	}
}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := unmatchedRoute
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		code := strconv.Itoa(ww.Status())
		m.requests.WithLabelValues(code, r.Method, route).Inc()
		m.latency.WithLabelValues(code, r.Method, route).Observe(float64(time.Since(start).Milliseconds()))
	})
}

// Register adds the collectors to reg.
func (m *Middleware) Register(reg prometheus.Registerer) error {
	return errors.Join(reg.Register(m.requests), reg.Register(m.latency))
}

func (m *Middleware) MustRegisterDefault() {
	if err := m.Register(prometheus.DefaultRegisterer); err != nil {
		panic(err)
	}
}
