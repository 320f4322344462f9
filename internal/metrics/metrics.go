package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric names follow ttl_cache_{metric}_{unit}.
const (
	MetricOperationsTotal = "ttl_cache_operations_total"
	MetricEvictionsTotal  = "ttl_cache_lazy_evictions_total"
	MetricNamespacesOpen  = "ttl_cache_namespaces_open"
)

// Label names
const (
	LabelNamespace = "namespace"
	LabelOperation = "operation"
	LabelStatus    = "status"
)

// Operation outcomes
const (
	StatusOK    = "ok"
	StatusHit   = "hit"
	StatusMiss  = "miss"
	StatusError = "error"
)

// Metrics holds the daemon's collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	evictions  *prometheus.CounterVec
	namespaces prometheus.Gauge
}

// New registers the cache collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: MetricOperationsTotal,
			Help: "Cache operations by namespace, operation and outcome.",
		}, []string{LabelNamespace, LabelOperation, LabelStatus}),
		evictions: f.NewCounterVec(prometheus.CounterOpts{
			Name: MetricEvictionsTotal,
			Help: "Expired entries removed on read.",
		}, []string{LabelNamespace}),
		namespaces: f.NewGauge(prometheus.GaugeOpts{
			Name: MetricNamespacesOpen,
			Help: "Namespaces currently held open by the daemon.",
		}),
	}
}

// Registry returns the registry to expose over HTTP.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveOperation counts one handled request.
func (m *Metrics) ObserveOperation(namespace, op, status string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(namespace, op, status).Inc()
}

// ObserveEviction counts one lazily evicted key.
func (m *Metrics) ObserveEviction(namespace string) {
	if m == nil {
		return
	}
	m.evictions.WithLabelValues(namespace).Inc()
}

// SetNamespacesOpen records how many namespaces are loaded.
func (m *Metrics) SetNamespacesOpen(n int) {
	if m == nil {
		return
	}
	m.namespaces.Set(float64(n))
}
