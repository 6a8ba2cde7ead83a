// Package metrics holds every Prometheus instrument reqflow exports: session
// lifecycle counts and durations, per-phase task activity, the LLM Gateway's
// concurrency/circuit-breaker state, and the reaper's sweep outcomes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every metric this process exports. Each *Metrics owns a
// private registry rather than registering against the global default, so a
// process can safely construct more than one (as every package's tests do)
// without tripping prometheus's duplicate-registration panic.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec   // labels: mode, outcome
	SessionDuration *prometheus.HistogramVec // labels: mode

	PhaseDuration *prometheus.HistogramVec // labels: phase

	AgentsInFlight prometheus.Gauge
	TasksTotal     *prometheus.CounterVec // labels: role, status
	TaskRetries    *prometheus.CounterVec // labels: role

	ClarificationRounds *prometheus.HistogramVec // labels: outcome

	LLMCallsInFlight    prometheus.Gauge
	LLMCallDuration     *prometheus.HistogramVec // labels: mode
	LLMCallErrors       *prometheus.CounterVec   // labels: kind
	CircuitBreakerState *prometheus.GaugeVec     // labels: provider; 0=closed 1=open

	ReaperSweeps    *prometheus.CounterVec // labels: outcome
	ReaperSweptTotal prometheus.Counter
	ReaperPurged    prometheus.Counter
}

// New builds and registers every metric under namespace.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "reqflow"
	}
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sessions_active",
			Help: "Number of sessions currently running on this pod.",
		}),
		SessionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_total",
			Help: "Total sessions completed, by mode and terminal outcome.",
		}, []string{"mode", "outcome"}),
		SessionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "session_duration_seconds",
			Help:    "Wall-clock duration from Start to a terminal phase.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"mode"}),

		PhaseDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "phase_duration_seconds",
			Help:    "Duration of one phase's task-tree execution.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"phase"}),

		AgentsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "agents_in_flight",
			Help: "Number of Agent Runtime executions currently running across all sessions.",
		}),
		TasksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tasks_total",
			Help: "Total tasks completed, by role and terminal status.",
		}, []string{"role", "status"}),
		TaskRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "task_retries_total",
			Help: "Total transient-error retries issued by the task runner, by role.",
		}, []string{"role"}),

		ClarificationRounds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "clarification_rounds",
			Help:    "Number of clarification rounds a session ran before leaving PhaseClarifying.",
			Buckets: []float64{1, 2, 3, 4, 5, 8, 12},
		}, []string{"outcome"}),

		LLMCallsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "llm_calls_in_flight",
			Help: "Number of Gateway.Generate calls currently waiting on or executing against the provider.",
		}),
		LLMCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "llm_call_duration_seconds",
			Help:    "Duration of a completed Gateway.Generate call, by mode.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 60, 120},
		}, []string{"mode"}),
		LLMCallErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "llm_call_errors_total",
			Help: "Total Gateway.Generate failures, by error kind (transient, permanent, circuit_open).",
		}, []string{"kind"}),
		CircuitBreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "circuit_breaker_state",
			Help: "Per-provider circuit breaker state: 0 closed, 1 open.",
		}, []string{"provider"}),

		ReaperSweeps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "reaper_sweeps_total",
			Help: "Total reaper sweep runs, by outcome (ok, error).",
		}, []string{"outcome"}),
		ReaperSweptTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reaper_sessions_reaped_total",
			Help: "Total stale sessions failed by the reaper.",
		}),
		ReaperPurged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reaper_sessions_purged_total",
			Help: "Total terminal sessions deleted by the reaper's retention sweep.",
		}),
	}
}

// Registry returns the private registry New registered every metric
// against, for mounting behind promhttp.HandlerFor in pkg/api.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// timer starts a duration measurement, returning a func that observes it
// against obs when called.
func timer(obs prometheus.Observer) func() {
	start := time.Now()
	return func() { obs.Observe(time.Since(start).Seconds()) }
}
