package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSessionStartedAndEndedUpdatesGaugesAndCounters(t *testing.T) {
	m := New("test")
	m.SessionStarted()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SessionsActive))

	m.SessionEnded("quick", "done", time.Now().Add(-2*time.Second))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.SessionsActive))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SessionsTotal.WithLabelValues("quick", "done")))
}

func TestAgentStartedAndFinishedTracksInFlight(t *testing.T) {
	m := New("test")
	m.AgentStarted()
	m.AgentStarted()
	assert.Equal(t, float64(2), testutil.ToFloat64(m.AgentsInFlight))
	m.AgentFinished()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AgentsInFlight))
}

func TestTaskCompletedAndRetriedIncrementCounters(t *testing.T) {
	m := New("test")
	m.TaskCompleted("analyst", "succeeded")
	m.TaskCompleted("analyst", "succeeded")
	m.TaskRetried("analyst", 2)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.TasksTotal.WithLabelValues("analyst", "succeeded")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.TaskRetries.WithLabelValues("analyst")))
}

func TestLLMCallStartedReturnsStopFunc(t *testing.T) {
	m := New("test")
	stop := m.LLMCallStarted("standard")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.LLMCallsInFlight))
	stop()
	assert.Equal(t, float64(0), testutil.ToFloat64(m.LLMCallsInFlight))
	assert.Equal(t, 1, testutil.CollectAndCount(m.LLMCallDuration))
}

func TestCircuitStateSetsGauge(t *testing.T) {
	m := New("test")
	m.CircuitState("anthropic:claude", true)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("anthropic:claude")))
	m.CircuitState("anthropic:claude", false)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("anthropic:claude")))
}

func TestReaperSweepCompletedAccumulates(t *testing.T) {
	m := New("test")
	m.ReaperSweepCompleted("ok", 3, 5)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ReaperSweeps.WithLabelValues("ok")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.ReaperSweptTotal))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.ReaperPurged))
}

func TestNilMetricsMethodsAreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionStarted()
		m.SessionEnded("quick", "done", time.Now())
		m.PhaseObserved("analyzing", time.Now())
		m.AgentStarted()
		m.AgentFinished()
		m.TaskCompleted("analyst", "succeeded")
		m.TaskRetried("analyst", 1)
		m.ClarificationRoundsObserved("proceed", 2)
		stop := m.LLMCallStarted("quick")
		stop()
		m.LLMCallError("transient")
		m.CircuitState("anthropic", true)
		m.ReaperSweepCompleted("ok", 1, 1)
	})
}

func TestNewRegistersUnderNamespace(t *testing.T) {
	m := New("reqflow_test")
	families, err := m.Registry().Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
	found := false
	for _, f := range families {
		if f.GetName() == "reqflow_test_sessions_active" {
			found = true
		}
	}
	assert.True(t, found)
}
