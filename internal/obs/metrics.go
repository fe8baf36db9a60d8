package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	engineOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_operations_total",
			Help: "Total number of engine operations by outcome.",
		},
		[]string{"engine", "op", "outcome"},
	)
)

// Init registers all service metrics in the default registry.
func Init() {
	prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration, engineOpsTotal)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveEngineOp counts one engine operation, labelled ok or error.
func ObserveEngineOp(engine, op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	engineOpsTotal.WithLabelValues(engine, op, outcome).Inc()
}

// Instrument measures RPS, latency and in-flight count for every request.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// Resource collections whose next path segment is an opaque id. Collapsing
// ids keeps the path label cardinality bounded.
var idCollections = map[string]map[string]bool{
	"accounts":              {"balance": true},
	"escrows":               {"fund": true, "claim": true, "cancel": true},
	"recurring":             {"execute": true, "cancel": true},
	"multisigs":             {"transactions": true},
	"multisig-transactions": {"approve": true, "execute": true, "reject": true},
}

// CanonicalPath replaces resource ids with :id placeholders and strips the
// query string. Unrecognized shapes come back unchanged.
func CanonicalPath(raw string) string {
	path := raw
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == "/" {
		return "/"
	}

	seg := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if seg[0] != "v1" || len(seg) < 3 {
		return path
	}

	// /v1/staking/pools/:id[/action]
	if seg[1] == "staking" && seg[2] == "pools" && len(seg) >= 4 {
		switch len(seg) {
		case 4:
			return "/v1/staking/pools/:id"
		case 5:
			switch seg[4] {
			case "stake", "unstake", "claim", "compound":
				return "/v1/staking/pools/:id/" + seg[4]
			}
		case 6:
			if seg[4] == "positions" {
				return "/v1/staking/pools/:id/positions/:owner"
			}
		}
		return path
	}

	// /v1/<collection>/:id[/action]
	actions, ok := idCollections[seg[1]]
	if !ok {
		return path
	}
	switch len(seg) {
	case 3:
		return "/v1/" + seg[1] + "/:id"
	case 4:
		if actions[seg[3]] {
			return "/v1/" + seg[1] + "/:id/" + seg[3]
		}
	}
	return path
}

// statusWriter records the response code for labelling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
