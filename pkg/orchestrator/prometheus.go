package orchestrator

import (
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/kizashix/devstack/pkg/launch"
)

// PrometheusMetricsCollector implements MetricsCollector using Prometheus
// metrics backed by a private registry.
type PrometheusMetricsCollector struct {
	stateTransitions    *prometheus.CounterVec
	launchDuration      *prometheus.HistogramVec
	healthPollDuration  *prometheus.HistogramVec
	healthPollOutcomes  *prometheus.CounterVec
	portConflicts       *prometheus.CounterVec
	terminationDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewPrometheusMetricsCollector creates a new Prometheus metrics collector.
func NewPrometheusMetricsCollector(namespace string) *PrometheusMetricsCollector {
	if namespace == "" {
		namespace = "devstack"
	}

	pmc := &PrometheusMetricsCollector{
		registry: prometheus.NewRegistry(),
	}

	pmc.stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "service_state_transitions_total",
			Help:      "Total number of service state transitions",
		},
		[]string{"service", "from_state", "to_state"},
	)

	pmc.launchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "service_launch_duration_seconds",
			Help:      "Duration of service launch operations",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)

	pmc.healthPollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "health_poll_duration_seconds",
			Help:      "Duration of health polling loops",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"service", "outcome"},
	)

	pmc.healthPollOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_poll_outcomes_total",
			Help:      "Total number of completed health polling loops",
		},
		[]string{"service", "outcome"},
	)

	pmc.portConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "port_conflicts_total",
			Help:      "Total number of port conflicts by resolution",
		},
		[]string{"service", "resolution"},
	)

	pmc.terminationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "service_termination_duration_seconds",
			Help:      "Duration of service termination operations",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	pmc.registry.MustRegister(
		pmc.stateTransitions,
		pmc.launchDuration,
		pmc.healthPollDuration,
		pmc.healthPollOutcomes,
		pmc.portConflicts,
		pmc.terminationDuration,
	)

	return pmc
}

// ServiceStateTransition records a service moving between states.
func (pmc *PrometheusMetricsCollector) ServiceStateTransition(service string, from, to launch.State) {
	pmc.stateTransitions.WithLabelValues(service, from.String(), to.String()).Inc()
}

// LaunchDuration records how long a launch took and whether it succeeded.
func (pmc *PrometheusMetricsCollector) LaunchDuration(service string, d time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	pmc.launchDuration.WithLabelValues(service, status).Observe(d.Seconds())
}

// HealthPollOutcome records the result of a health polling loop.
func (pmc *PrometheusMetricsCollector) HealthPollOutcome(service string, attemptsAllowed int, d time.Duration, healthy bool) {
	outcome := "healthy"
	if !healthy {
		outcome = "timeout"
	}
	pmc.healthPollOutcomes.WithLabelValues(service, outcome).Inc()
	pmc.healthPollDuration.WithLabelValues(service, outcome).Observe(d.Seconds())
}

// PortConflict records a conflict and how it was resolved.
func (pmc *PrometheusMetricsCollector) PortConflict(service string, port int, resolution string) {
	pmc.portConflicts.WithLabelValues(service, resolution).Inc()
}

// TerminationDuration records how long tearing a service down took.
func (pmc *PrometheusMetricsCollector) TerminationDuration(service string, d time.Duration) {
	pmc.terminationDuration.WithLabelValues(service).Observe(d.Seconds())
}

// Registry exposes the private registry for test assertions.
func (pmc *PrometheusMetricsCollector) Registry() *prometheus.Registry {
	return pmc.registry
}

// WriteTextExposition writes all collected metrics to w in the Prometheus
// text format. Used by the CLI's --print-metrics flag.
func (pmc *PrometheusMetricsCollector) WriteTextExposition(w io.Writer) error {
	families, err := pmc.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, fam := range families {
		if err := enc.Encode(fam); err != nil {
			return fmt.Errorf("encode metric family %s: %w", fam.GetName(), err)
		}
	}
	return nil
}
