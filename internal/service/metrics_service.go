package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oskarpl/media-relay/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and provides
// lightweight snapshots for API consumption.
type MetricsService struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	transfersTotal   *prometheus.CounterVec
	bytesMoved       prometheus.Counter
	transferDuration prometheus.Histogram
	sessionsGauge    prometheus.Gauge
	activeGauge      prometheus.Gauge
	pendingGauge     prometheus.Gauge

	completedCount        uint64
	failedCount           uint64
	cancelledCount        uint64
	bytesCount            uint64
	requestCount          uint64
	transferCount         uint64
	transferDurationTotal uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	transfersTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_transfers_total",
		Help: "Total transfers by terminal state",
	}, []string{"state"})

	bytesMoved := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_bytes_moved_total",
		Help: "Total bytes moved by completed transfers",
	})

	transferDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_transfer_duration_seconds",
		Help:    "Duration of transfers from start to terminal state",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 1800},
	})

	sessionsGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_sessions",
		Help: "Current session pool occupancy",
	})

	activeGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_active_transfers",
		Help: "Transfers currently executing",
	})

	pendingGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_pending_transfers",
		Help: "Transfers waiting in the queue",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, transfersTotal, bytesMoved,
		transferDuration, sessionsGauge, activeGauge, pendingGauge, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:         registry,
		handler:          handler,
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		transfersTotal:   transfersTotal,
		bytesMoved:       bytesMoved,
		transferDuration: transferDuration,
		sessionsGauge:    sessionsGauge,
		activeGauge:      activeGauge,
		pendingGauge:     pendingGauge,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
}

// RecordTransferOutcome records one transfer reaching a terminal state.
func (m *MetricsService) RecordTransferOutcome(state string, duration time.Duration, bytes int64) {
	if m == nil {
		return
	}
	m.transfersTotal.WithLabelValues(state).Inc()
	switch state {
	case string(models.TaskCompleted):
		atomic.AddUint64(&m.completedCount, 1)
		if bytes > 0 {
			m.bytesMoved.Add(float64(bytes))
			atomic.AddUint64(&m.bytesCount, uint64(bytes))
		}
	case string(models.TaskFailed):
		atomic.AddUint64(&m.failedCount, 1)
	case string(models.TaskCancelled):
		atomic.AddUint64(&m.cancelledCount, 1)
	}
	if duration > 0 {
		m.transferDuration.Observe(duration.Seconds())
		atomic.AddUint64(&m.transferCount, 1)
		atomic.AddUint64(&m.transferDurationTotal, uint64(duration.Nanoseconds()))
	}
}

// UpdateOccupancy refreshes the pool and queue gauges from a snapshot.
func (m *MetricsService) UpdateOccupancy(snap models.QueueSnapshot) {
	if m == nil {
		return
	}
	m.sessionsGauge.Set(float64(snap.Sessions))
	m.activeGauge.Set(float64(snap.Active))
	m.pendingGauge.Set(float64(snap.Pending))
}

// Snapshot returns aggregated metrics suitable for status endpoints.
func (m *MetricsService) Snapshot() models.RelayMetrics {
	if m == nil {
		return models.RelayMetrics{}
	}
	transfers := atomic.LoadUint64(&m.transferCount)
	durTotal := atomic.LoadUint64(&m.transferDurationTotal)

	var avgMs float64
	if transfers > 0 {
		avgMs = float64(durTotal) / float64(transfers) / float64(time.Millisecond)
	}

	return models.RelayMetrics{
		TransfersCompleted:        atomic.LoadUint64(&m.completedCount),
		TransfersFailed:           atomic.LoadUint64(&m.failedCount),
		TransfersCancelled:        atomic.LoadUint64(&m.cancelledCount),
		BytesMoved:                atomic.LoadUint64(&m.bytesCount),
		AverageTransferDurationMs: avgMs,
		RequestsTotal:             atomic.LoadUint64(&m.requestCount),
		Goroutines:                runtime.NumGoroutine(),
		GeneratedAt:               time.Now().UTC(),
	}
}
