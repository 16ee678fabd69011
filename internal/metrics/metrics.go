// Package metrics exposes Prometheus metrics for the scene monitor.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	internalhttp "github.com/example/go-itslive/internal/http"
	"github.com/example/go-itslive/monitor"
)

// Manager owns the monitor's collectors and the registry they live in.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         *prometheus.Registry

	outcomes      *prometheus.CounterVec
	callDuration  *prometheus.HistogramVec
	inFlight      prometheus.Gauge
	transportErrs *prometheus.CounterVec
}

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithSubsystem sets the subsystem for all metrics.
func WithSubsystem(subsystem string) Option {
	return func(m *Manager) {
		if subsystem != "" {
			m.subsystem = subsystem
		}
	}
}

// WithHistogramBuckets sets custom histogram buckets for call latency.
func WithHistogramBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.histogramBuckets = buckets
		}
	}
}

// WithConstLabels adds constant labels such as the deployment environment.
func WithConstLabels(labels map[string]string) Option {
	return func(m *Manager) {
		if len(labels) > 0 {
			m.constLabels = labels
		}
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(m *Manager) {
		if registry != nil {
			m.registry = registry
		}
	}
}

// NewManager creates a Manager on a private registry unless one is given.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "itslive",
		subsystem:        "monitor",
		histogramBuckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		registry:         prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}

	auto := promauto.With(m.registry)
	m.outcomes = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "outcomes_total",
		Help:        "Terminal outcomes by mission, kind and reason.",
		ConstLabels: m.constLabels,
	}, []string{"mission", "kind", "reason"})

	m.callDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "remote_call_duration_seconds",
		Help:        "Duration of remote calls by result: ok, timeout, transient or rejected.",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}, []string{"call", "result"})

	m.inFlight = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "notifications_in_flight",
		Help:        "Notifications currently being processed.",
		ConstLabels: m.constLabels,
	})

	m.transportErrs = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "transport_errors_total",
		Help:        "Notification transport failures by operation.",
		ConstLabels: m.constLabels,
	}, []string{"operation"})
	return m
}

// RecordOutcome implements monitor.Recorder.
func (m *Manager) RecordOutcome(o monitor.Outcome) {
	reason := string(o.Reason)
	if reason == "" {
		reason = "none"
	}
	m.outcomes.WithLabelValues(o.Mission.String(), string(o.Kind), reason).Inc()
}

// ObserveCall implements monitor.Recorder.
func (m *Manager) ObserveCall(call string, d time.Duration, err error) {
	m.callDuration.WithLabelValues(call, callResult(err)).Observe(d.Seconds())
}

func callResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case internalhttp.IsTimeout(err):
		return "timeout"
	case errors.Is(err, monitor.ErrRejected), !internalhttp.IsTransient(err):
		return "rejected"
	default:
		return "transient"
	}
}

// TrackInFlight increments the in-flight gauge and returns its release func.
func (m *Manager) TrackInFlight() func() {
	m.inFlight.Inc()
	return m.inFlight.Dec
}

// RecordTransportError counts a failed transport operation.
func (m *Manager) RecordTransportError(operation string) {
	m.transportErrs.WithLabelValues(operation).Inc()
}

// Registry returns the registry backing the manager.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
