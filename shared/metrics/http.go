package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	statusRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairchat_status_requests_total",
		Help: "Requests served by the status endpoint",
	}, []string{"method", "path", "status"})

	statusLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pairchat_status_request_duration_seconds",
		Help:    "Status endpoint latency; /v1/state includes rendering the log",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"path"})

	statusResponseBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pairchat_status_response_bytes",
		Help:    "Response body size; grows with the rendered log on /v1/state",
		Buckets: prometheus.ExponentialBuckets(256, 4, 8),
	}, []string{"path"})

	// Submits counts POST /v1/messages by outcome: accepted, busy, invalid or failed.
	Submits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairchat_status_submits_total",
		Help: "Messages submitted through the status endpoint",
	}, []string{"outcome"})
)

// recorder captures the status code and body size of a response.
type recorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rec *recorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *recorder) Write(b []byte) (int, error) {
	n, err := rec.ResponseWriter.Write(b)
	rec.bytes += n
	return n, err
}

// Middleware records count, latency and response size per chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &recorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		// route pattern keeps label cardinality bounded; /objects/* would otherwise explode
		path := r.URL.Path
		if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
			if pattern := routeCtx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}

		statusRequests.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		statusLatency.WithLabelValues(path).Observe(time.Since(start).Seconds())
		statusResponseBytes.WithLabelValues(path).Observe(float64(rec.bytes))
	})
}
