package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP
// surface and the changeset execution pipeline.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	execDuration    *prometheus.HistogramVec
	execTotal       *prometheus.CounterVec
	recordsWritten  *prometheus.CounterVec
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

	execDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "changeset_execution_duration_seconds",
		Help:    "Duration of changeset executions",
		Buckets: []float64{.1, .5, 1, 5, 15, 60, 300, 900},
	}, []string{"kind"})

	execTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "changeset_executions_total",
		Help: "Total changeset executions by terminal status",
	}, []string{"kind", "status"})

	recordsWritten := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "change_records_written_total",
		Help: "Change records written during executions",
	}, []string{"changed"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, execDuration, execTotal, recordsWritten, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		execDuration:    execDuration,
		execTotal:       execTotal,
		recordsWritten:  recordsWritten,
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

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveExecution records the outcome of one changeset execution.
func (m *MetricsService) ObserveExecution(kind, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.execDuration.WithLabelValues(kind).Observe(duration.Seconds())
	m.execTotal.WithLabelValues(kind, status).Inc()
}

// ObserveRecords counts ledger entries written during an execution.
func (m *MetricsService) ObserveRecords(changed, unchanged int) {
	if m == nil {
		return
	}
	m.recordsWritten.WithLabelValues("true").Add(float64(changed))
	m.recordsWritten.WithLabelValues("false").Add(float64(unchanged))
}
