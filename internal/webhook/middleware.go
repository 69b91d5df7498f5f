package webhook

import (
	"net/http"
	"time"

	"github.com/avku/reports-bot/internal/metrics"
)

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// WithMetrics emits RequestLatencyMs and RequestCount per request with an
// Endpoint dimension. Only routes in known are used as dimension values;
// everything else is reported as "other".
func WithMetrics(next http.Handler, known ...string) http.Handler {
	routes := make(map[string]bool, len(known))
	for _, k := range known {
		routes[k] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(sr, r)

		endpoint := "other"
		if routes[r.URL.Path] {
			endpoint = r.URL.Path
		}
		metrics.New(metrics.Namespace).
			Dimension("Endpoint", endpoint).
			Since("RequestLatencyMs", start).
			Count("RequestCount").
			Property("method", r.Method).
			Property("statusCode", sr.statusCode).
			Flush()
	})
}
