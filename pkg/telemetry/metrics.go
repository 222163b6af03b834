package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for hostgate.
//
// Every method is safe to call on a nil *Metrics or on an instance created with
// metrics disabled, so components can take an optional *Metrics.
type Metrics struct {
	config MetricsConfig

	// Operation metrics
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	activeOperations  *prometheus.GaugeVec
	retries           *prometheus.CounterVec

	// Lease metrics
	leaseAcquisitions *prometheus.CounterVec
	leasesSwept       prometheus.Counter

	// Remote metrics
	remoteCalls    *prometheus.CounterVec
	remoteDuration *prometheus.HistogramVec
	remoteErrors   *prometheus.CounterVec

	// Resource metrics
	resourceState *prometheus.GaugeVec
	appReady      *prometheus.GaugeVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of requested operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of requested operations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		activeOperations: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_operations",
				Help:      "Operations currently executing in this process",
			},
			[]string{"operation"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Total number of retried calls",
			},
			[]string{"call"},
		),

		leaseAcquisitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lease_acquisitions_total",
				Help:      "Lease acquisition attempts by result (acquired, held, error)",
			},
			[]string{"operation", "result"},
		),
		leasesSwept: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "leases_swept_total",
				Help:      "Total number of expired leases deleted by sweeps",
			},
		),

		remoteCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_calls_total",
				Help:      "Total number of remote control API calls",
			},
			[]string{"provider", "operation"},
		),
		remoteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "remote_call_duration_seconds",
				Help:      "Duration of remote control API calls in seconds",
				Buckets:   buckets,
			},
			[]string{"provider", "operation"},
		),
		remoteErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_errors_total",
				Help:      "Total number of failed remote control API calls",
			},
			[]string{"provider", "operation", "code"},
		),

		resourceState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "resource_state",
				Help:      "Last observed lifecycle state of the resource (1 for the current state)",
			},
			[]string{"resource_id", "state"},
		),
		appReady: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "app_ready",
				Help:      "Whether the application on the resource reported ready (1=ready, 0=not ready)",
			},
			[]string{"resource_id"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.operationsTotal,
		m.operationDuration,
		m.activeOperations,
		m.retries,
		m.leaseAcquisitions,
		m.leasesSwept,
		m.remoteCalls,
		m.remoteDuration,
		m.remoteErrors,
		m.resourceState,
		m.appReady,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// Operation Metrics

// OperationStarted marks an operation as executing.
func (m *Metrics) OperationStarted(operation string) {
	if !m.enabled() {
		return
	}
	m.activeOperations.WithLabelValues(operation).Inc()
}

// RecordOperation records a finished operation with its outcome and duration.
func (m *Metrics) RecordOperation(operation, outcome string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.activeOperations.WithLabelValues(operation).Dec()
	m.operationsTotal.WithLabelValues(operation, outcome).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRetry records one retry of call.
func (m *Metrics) RecordRetry(call string) {
	if !m.enabled() {
		return
	}
	m.retries.WithLabelValues(call).Inc()
}

// Lease Metrics

// RecordLeaseAcquisition records a lease acquisition attempt.
func (m *Metrics) RecordLeaseAcquisition(operation, result string) {
	if !m.enabled() {
		return
	}
	m.leaseAcquisitions.WithLabelValues(operation, result).Inc()
}

// RecordLeasesSwept adds n to the swept lease counter.
func (m *Metrics) RecordLeasesSwept(n int64) {
	if !m.enabled() || n <= 0 {
		return
	}
	m.leasesSwept.Add(float64(n))
}

// Remote Metrics

// RecordRemoteCall records a remote call with its duration.
func (m *Metrics) RecordRemoteCall(provider, operation string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.remoteCalls.WithLabelValues(provider, operation).Inc()
	m.remoteDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

// RecordRemoteError records a failed remote call.
func (m *Metrics) RecordRemoteError(provider, operation, code string) {
	if !m.enabled() {
		return
	}
	m.remoteErrors.WithLabelValues(provider, operation, code).Inc()
}

// Resource Metrics

// SetResourceState records state as the current state of resourceID.
// Series for previously observed states of the same resource are removed.
func (m *Metrics) SetResourceState(resourceID, state string) {
	if !m.enabled() {
		return
	}
	m.resourceState.DeletePartialMatch(prometheus.Labels{"resource_id": resourceID})
	m.resourceState.WithLabelValues(resourceID, state).Set(1)
}

// SetAppReady records the application readiness of resourceID.
func (m *Metrics) SetAppReady(resourceID string, ready bool) {
	if !m.enabled() {
		return
	}
	value := 0.0
	if ready {
		value = 1.0
	}
	m.appReady.WithLabelValues(resourceID).Set(value)
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if !m.enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Registry returns the underlying registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server exposing metrics. It returns nil when
// metrics are disabled. The caller owns shutdown of the returned server.
func (m *Metrics) StartMetricsServer() *http.Server {
	if !m.enabled() {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// Metrics are best effort; the application keeps running.
			log.Error().Err(err).Str("address", server.Addr).Msg("Metrics server stopped")
		}
	}()

	return server
}
