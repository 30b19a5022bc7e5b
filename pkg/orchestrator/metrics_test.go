package orchestrator

import (
	"bytes"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kizashix/devstack/pkg/launch"
)

func TestPrometheusCollector_StateTransitions(t *testing.T) {
	pmc := NewPrometheusMetricsCollector("devstack")

	pmc.ServiceStateTransition("backend", launch.StateIdle, launch.StateStarting)
	pmc.ServiceStateTransition("backend", launch.StateStarting, launch.StateHealthy)
	pmc.ServiceStateTransition("backend", launch.StateIdle, launch.StateStarting)

	count := testutil.ToFloat64(pmc.stateTransitions.WithLabelValues("backend", "Idle", "Starting"))
	assert.Equal(t, float64(2), count)

	count = testutil.ToFloat64(pmc.stateTransitions.WithLabelValues("backend", "Starting", "Healthy"))
	assert.Equal(t, float64(1), count)
}

func TestPrometheusCollector_PortConflicts(t *testing.T) {
	pmc := NewPrometheusMetricsCollector("")

	pmc.PortConflict("backend", 8080, "freed")
	pmc.PortConflict("backend", 8080, "freed")
	pmc.PortConflict("frontend", 5173, "declined")

	assert.Equal(t, float64(2), testutil.ToFloat64(pmc.portConflicts.WithLabelValues("backend", "freed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(pmc.portConflicts.WithLabelValues("frontend", "declined")))
}

func TestPrometheusCollector_HealthPollOutcomes(t *testing.T) {
	pmc := NewPrometheusMetricsCollector("devstack")

	pmc.HealthPollOutcome("backend", 30, 2*time.Second, true)
	pmc.HealthPollOutcome("frontend", 30, time.Minute, false)

	assert.Equal(t, float64(1), testutil.ToFloat64(pmc.healthPollOutcomes.WithLabelValues("backend", "healthy")))
	assert.Equal(t, float64(1), testutil.ToFloat64(pmc.healthPollOutcomes.WithLabelValues("frontend", "timeout")))
}

func TestPrometheusCollector_TextExposition(t *testing.T) {
	pmc := NewPrometheusMetricsCollector("devstack")

	pmc.LaunchDuration("backend", 120*time.Millisecond, true)
	pmc.ServiceStateTransition("backend", launch.StateIdle, launch.StateStarting)

	var buf bytes.Buffer
	require.NoError(t, pmc.WriteTextExposition(&buf))

	out := buf.String()
	assert.Contains(t, out, "devstack_service_launch_duration_seconds")
	assert.Contains(t, out, "devstack_service_state_transitions_total")
}

func TestNoopCollector(t *testing.T) {
	// The noop collector must accept every call without side effects.
	mc := NewNoopMetricsCollector()
	mc.ServiceStateTransition("backend", launch.StateIdle, launch.StateHealthy)
	mc.LaunchDuration("backend", time.Second, false)
	mc.HealthPollOutcome("backend", 10, time.Second, true)
	mc.PortConflict("backend", 8080, "freed")
	mc.TerminationDuration("backend", time.Second)
}
