// Package metrics provides Prometheus metrics for the FlowLite sidecar.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowlite_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowlite_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Catalog metrics
	catalogRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowlite_catalog_refreshes_total",
			Help: "Total catalog refresh attempts",
		},
		[]string{"result"},
	)

	catalogRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flowlite_catalog_refresh_duration_seconds",
			Help:    "Time to query the host and rebuild the catalog",
			Buckets: prometheus.DefBuckets,
		},
	)

	catalogSnapshotAge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowlite_catalog_snapshot_age_seconds",
			Help: "Age of the served catalog snapshot at response time",
		},
	)

	// Image delivery metrics
	imageRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowlite_image_requests_total",
			Help: "Total image requests",
		},
		[]string{"result"},
	)

	imageBytesServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowlite_image_bytes_served_total",
			Help: "Total bytes written to image responses",
		},
	)

	imageBytesSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowlite_image_bytes_saved_total",
			Help: "Total bytes saved by lossy transcoding (original minus output)",
		},
	)

	transcodeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flowlite_transcode_duration_seconds",
			Help:    "PNG to JPEG transcode duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	originalsDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowlite_originals_deleted_total",
			Help: "Total original images deleted after successful transcode",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordCatalogRefresh records a catalog refresh attempt.
// result is one of "ok", "stale", "error".
func RecordCatalogRefresh(result string, duration time.Duration) {
	catalogRefreshesTotal.WithLabelValues(result).Inc()
	if result == "ok" {
		catalogRefreshDuration.Observe(duration.Seconds())
	}
}

// SetCatalogSnapshotAge sets the age of the snapshot being served.
func SetCatalogSnapshotAge(age time.Duration) {
	catalogSnapshotAge.Set(age.Seconds())
}

// RecordImageRequest records an image request outcome.
// result is one of "compressed", "passthrough", "fallback", "not_found", "invalid", "error".
func RecordImageRequest(result string) {
	imageRequestsTotal.WithLabelValues(result).Inc()
}

// RecordImageServed records bytes written and bytes saved for one response.
func RecordImageServed(outputBytes, savedBytes int64) {
	imageBytesServed.Add(float64(outputBytes))
	if savedBytes > 0 {
		imageBytesSaved.Add(float64(savedBytes))
	}
}

// RecordTranscode records a successful transcode duration.
func RecordTranscode(duration time.Duration) {
	transcodeDuration.Observe(duration.Seconds())
}

// RecordOriginalDeleted records deletion of an original after transcode.
func RecordOriginalDeleted() {
	originalsDeletedTotal.Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
