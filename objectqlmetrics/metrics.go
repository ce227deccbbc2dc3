// Package objectqlmetrics provides the Prometheus collectors every
// transport adapter and Repository operation reports through. Grounded on
// infrastructure/metrics/metrics.go (CounterVec/HistogramVec
// collectors registered against a Registerer) and its
// infrastructure/middleware/metrics.go HTTP middleware, generalized from a
// blockchain/database label set to ObjectQL's object/operation/datasource
// dimensions.
package objectqlmetrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/objectql-dev/objectql/apierr"
)

// Metrics holds every Prometheus collector this runtime registers.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	OperationsTotal    *prometheus.CounterVec
	OperationDuration  *prometheus.HistogramVec
	OperationErrors    *prometheus.CounterVec

	DriverCallsTotal   *prometheus.CounterVec
	DriverCallDuration *prometheus.HistogramVec
}

// New registers every collector against the default Prometheus registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry registers every collector against registerer, letting
// tests use a private registry instead of the process-global default.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "objectql_http_requests_total",
			Help: "Total HTTP requests served by this process's transport adapters.",
		}, []string{"service", "method", "path", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "objectql_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"service", "method", "path"}),
		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "objectql_http_requests_in_flight",
			Help: "HTTP requests currently being handled.",
		}),
		OperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "objectql_repository_operations_total",
			Help: "Total Repository operations (find/create/update/delete/count/execute), by object.",
		}, []string{"object", "operation", "status"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "objectql_repository_operation_duration_seconds",
			Help:    "Repository operation latency in seconds, by object.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"object", "operation"}),
		OperationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "objectql_repository_operation_errors_total",
			Help: "Repository operation failures, by object and error code.",
		}, []string{"object", "operation", "code"}),
		DriverCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "objectql_driver_calls_total",
			Help: "Total driver-level calls, by datasource and method.",
		}, []string{"datasource", "method", "status"}),
		DriverCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "objectql_driver_call_duration_seconds",
			Help:    "Driver-level call latency in seconds, by datasource.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"datasource", "method"}),
	}

	for _, c := range []prometheus.Collector{
		m.RequestsTotal, m.RequestDuration, m.RequestsInFlight,
		m.OperationsTotal, m.OperationDuration, m.OperationErrors,
		m.DriverCallsTotal, m.DriverCallDuration,
	} {
		_ = registerer.Register(c)
	}
	return m
}

// ObserveOperation records one Repository operation's outcome and latency.
// runtime.Repository calls it around every operation whenever
// Runtime.Metrics is set.
func (m *Metrics) ObserveOperation(object, operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.OperationsTotal.WithLabelValues(object, operation, status).Inc()
	m.OperationDuration.WithLabelValues(object, operation).Observe(time.Since(start).Seconds())
	if err != nil {
		code := errorCode(err)
		m.OperationErrors.WithLabelValues(object, operation, code).Inc()
	}
}

// ObserveDriverCall records one driver-level call.
func (m *Metrics) ObserveDriverCall(datasource, method string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.DriverCallsTotal.WithLabelValues(datasource, method, status).Inc()
	m.DriverCallDuration.WithLabelValues(datasource, method).Observe(time.Since(start).Seconds())
}

// errorCode extracts the apierr.Code string if err carries one, else
// "unknown" — keeping the error label cardinality bounded to the closed
// taxonomy rather than arbitrary Go error strings.
func errorCode(err error) string {
	if apiErr, ok := apierr.As(err); ok {
		return string(apiErr.Code)
	}
	return "unknown"
}

// HTTPMiddleware wraps an http.Handler to record request count, latency,
// and in-flight gauge, keyed by service and the route's path template (so
// :id-style segments don't explode cardinality).
func (m *Metrics) HTTPMiddleware(serviceName string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					path = tmpl
				}
			}
			status := strconv.Itoa(wrapped.status)
			m.RequestsTotal.WithLabelValues(serviceName, r.Method, path, status).Inc()
			m.RequestDuration.WithLabelValues(serviceName, r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.written {
		s.status = code
		s.written = true
		s.ResponseWriter.WriteHeader(code)
	}
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if !s.written {
		s.WriteHeader(http.StatusOK)
	}
	return s.ResponseWriter.Write(b)
}
