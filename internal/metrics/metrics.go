package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cospace",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests received",
	}, []string{"method", "path", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cospace",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cospace",
		Name:      "active_connections",
		Help:      "Current number of live room connections",
	})

	activeRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cospace",
		Name:      "active_rooms",
		Help:      "Current number of room slots held in memory",
	})

	broadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cospace",
		Name:      "broadcasts_total",
		Help:      "Total number of room broadcasts",
	})

	droppedPeersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cospace",
		Name:      "dropped_peers_total",
		Help:      "Peers disconnected because their send queue overflowed",
	})

	persistFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cospace",
		Name:      "persist_flushes_total",
		Help:      "Debounced document persistence flushes by result",
	}, []string{"result"})
)

func ConnectionOpened() { activeConnections.Inc() }

func ConnectionClosed() { activeConnections.Dec() }

func SetActiveRooms(n int) { activeRooms.Set(float64(n)) }

func BroadcastSent() { broadcastsTotal.Inc() }

func PeerDropped() { droppedPeersTotal.Inc() }

func FlushSucceeded() { persistFlushes.WithLabelValues("success").Inc() }

func FlushFailed() { persistFlushes.WithLabelValues("failure").Inc() }

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler { return promhttp.Handler() }

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack keeps the WebSocket upgrade working behind the middleware.
func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := r.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("metrics: underlying ResponseWriter does not support hijacking")
}

// Middleware records request metrics with Prometheus labels.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		labels := prometheus.Labels{
			"method": r.Method,
			"path":   r.URL.Path,
			"status": strconv.Itoa(rec.status),
		}
		httpRequests.With(labels).Inc()
		httpLatency.With(labels).Observe(time.Since(start).Seconds())
	})
}
