// Package metrics provides Prometheus metrics for the myDrive server.
package metrics

import (
	"bufio"
	"errors"
	"net"
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
			Name: "mydrive_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mydrive_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// File operation metrics
	fileOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mydrive_file_operations_total",
			Help: "File operations by operation and result",
		},
		[]string{"op", "result"},
	)

	listingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mydrive_listings_total",
			Help: "Directory listings by result",
		},
		[]string{"result"},
	)

	pathEscapesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mydrive_path_escapes_total",
			Help: "Requested paths that resolved outside the tenant root",
		},
	)

	// Content transfer metrics
	bytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mydrive_bytes_uploaded_total",
			Help: "Total bytes written by uploads",
		},
	)

	bytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mydrive_bytes_downloaded_total",
			Help: "Total bytes served by downloads and share links",
		},
	)

	// Share link metrics
	shareLinksCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mydrive_share_links_created_total",
			Help: "Share links created",
		},
	)

	shareRedemptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mydrive_share_redemptions_total",
			Help: "Share link redemptions by result",
		},
		[]string{"result"},
	)

	// Notification metrics
	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mydrive_change_notifications_total",
			Help: "Change notifications by delivery outcome",
		},
		[]string{"outcome"},
	)

	subscribersActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mydrive_subscribers_active",
			Help: "Active live-refresh subscribers by transport",
		},
		[]string{"transport"},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mydrive_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mydrive_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mydrive_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	// Storage volume metrics
	storageBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mydrive_storage_bytes",
			Help: "Storage volume size by state (total, used, free)",
		},
		[]string{"state"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordFileOp records the outcome of a single file operation item.
func RecordFileOp(op string, success bool) {
	fileOpsTotal.WithLabelValues(op, result(success)).Inc()
}

// RecordListing records a directory listing.
func RecordListing(success bool) {
	listingsTotal.WithLabelValues(result(success)).Inc()
}

// RecordPathEscape counts a confinement violation.
func RecordPathEscape() {
	pathEscapesTotal.Inc()
}

// RecordUpload adds uploaded bytes.
func RecordUpload(bytes int64) {
	bytesUploaded.Add(float64(bytes))
}

// RecordDownload adds downloaded bytes.
func RecordDownload(bytes int64) {
	bytesDownloaded.Add(float64(bytes))
}

// RecordShareLinkCreated counts a new share link.
func RecordShareLinkCreated() {
	shareLinksCreated.Inc()
}

// RecordShareRedemption records a share link redemption.
func RecordShareRedemption(success bool) {
	shareRedemptions.WithLabelValues(result(success)).Inc()
}

// RecordNotification records whether a change notification reached a subscriber.
func RecordNotification(delivered bool) {
	outcome := "delivered"
	if !delivered {
		outcome = "dropped"
	}
	notificationsTotal.WithLabelValues(outcome).Inc()
}

// SetSubscribers sets the number of live subscribers for a transport.
func SetSubscribers(transport string, count int) {
	subscribersActive.WithLabelValues(transport).Set(float64(count))
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	authAttemptsTotal.WithLabelValues(result(success)).Inc()
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// SetDBConnectionsOpen sets the number of open database connections.
func SetDBConnectionsOpen(count int) {
	dbConnectionsOpen.Set(float64(count))
}

// SetStorageBytes publishes the storage volume usage.
func SetStorageBytes(total, used, free uint64) {
	storageBytes.WithLabelValues("total").Set(float64(total))
	storageBytes.WithLabelValues("used").Set(float64(used))
	storageBytes.WithLabelValues("free").Set(float64(free))
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

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	return h.Hijack()
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
		RecordHTTPRequest(r.Method, rw.statusCode, time.Since(start))
	})
}
