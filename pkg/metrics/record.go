package metrics

import "time"

// Every method below is a nil-receiver no-op: a *Metrics is optional
// everywhere it's threaded through (orchestrator, llmgateway, reaper), so
// a deployment that doesn't wire metrics pays nothing and call sites don't
// need their own "if m != nil" guard.

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionEnded(mode, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(mode, outcome).Inc()
	m.SessionDuration.WithLabelValues(mode).Observe(time.Since(started).Seconds())
}

func (m *Metrics) PhaseObserved(phase string, started time.Time) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(phase).Observe(time.Since(started).Seconds())
}

func (m *Metrics) AgentStarted() {
	if m == nil {
		return
	}
	m.AgentsInFlight.Inc()
}

func (m *Metrics) AgentFinished() {
	if m == nil {
		return
	}
	m.AgentsInFlight.Dec()
}

func (m *Metrics) TaskCompleted(role, status string) {
	if m == nil {
		return
	}
	m.TasksTotal.WithLabelValues(role, status).Inc()
}

func (m *Metrics) TaskRetried(role string, attempts int) {
	if m == nil || attempts <= 0 {
		return
	}
	m.TaskRetries.WithLabelValues(role).Add(float64(attempts))
}

func (m *Metrics) ClarificationRoundsObserved(outcome string, rounds int) {
	if m == nil {
		return
	}
	m.ClarificationRounds.WithLabelValues(outcome).Observe(float64(rounds))
}

// LLMCallStarted marks one call as in flight and returns a func to call on
// completion that records its duration and decrements the in-flight gauge.
func (m *Metrics) LLMCallStarted(mode string) func() {
	if m == nil {
		return func() {}
	}
	m.LLMCallsInFlight.Inc()
	stop := timer(m.LLMCallDuration.WithLabelValues(mode))
	return func() {
		stop()
		m.LLMCallsInFlight.Dec()
	}
}

func (m *Metrics) LLMCallError(kind string) {
	if m == nil {
		return
	}
	m.LLMCallErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) CircuitState(provider string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1.0
	}
	m.CircuitBreakerState.WithLabelValues(provider).Set(v)
}

func (m *Metrics) ReaperSweepCompleted(outcome string, reaped, purged int) {
	if m == nil {
		return
	}
	m.ReaperSweeps.WithLabelValues(outcome).Inc()
	m.ReaperSweptTotal.Add(float64(reaped))
	m.ReaperPurged.Add(float64(purged))
}
