package orchestrator

import (
	"time"

	"github.com/kizashix/devstack/pkg/launch"
)

// MetricsCollector records orchestration metrics. Implementations must be
// safe for use from the orchestration goroutine.
type MetricsCollector interface {
	// ServiceStateTransition records a service moving between states
	ServiceStateTransition(service string, from, to launch.State)

	// LaunchDuration records how long a launch took and whether it succeeded
	LaunchDuration(service string, d time.Duration, success bool)

	// HealthPollOutcome records the result of a health polling loop
	HealthPollOutcome(service string, attemptsAllowed int, d time.Duration, healthy bool)

	// PortConflict records a conflict and how it was resolved
	// (resolution: "freed", "declined", "failed")
	PortConflict(service string, port int, resolution string)

	// TerminationDuration records how long tearing a service down took
	TerminationDuration(service string, d time.Duration)
}

// noopMetricsCollector discards all metrics.
type noopMetricsCollector struct{}

// NewNoopMetricsCollector returns a collector that discards all metrics.
func NewNoopMetricsCollector() MetricsCollector {
	return &noopMetricsCollector{}
}

func (noopMetricsCollector) ServiceStateTransition(string, launch.State, launch.State) {}
func (noopMetricsCollector) LaunchDuration(string, time.Duration, bool)                {}
func (noopMetricsCollector) HealthPollOutcome(string, int, time.Duration, bool)        {}
func (noopMetricsCollector) PortConflict(string, int, string)                          {}
func (noopMetricsCollector) TerminationDuration(string, time.Duration)                 {}
