package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reqflow/reqflow/pkg/collab"
	"github.com/reqflow/reqflow/pkg/domain"
	"github.com/reqflow/reqflow/pkg/events"
	"github.com/reqflow/reqflow/pkg/llmgateway"
	"github.com/reqflow/reqflow/pkg/masking"
	"github.com/reqflow/reqflow/pkg/metrics"
	"github.com/reqflow/reqflow/pkg/quality"
	"github.com/reqflow/reqflow/pkg/roles"
)

// --- in-memory Stores fakes ---

type memSessionStore struct {
	mu sync.Mutex
	m  map[string]*domain.Session
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{m: make(map[string]*domain.Session)}
}

func (s *memSessionStore) Insert(ctx context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.m[sess.ID] = &cp
	return nil
}

func (s *memSessionStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[id]
	if !ok {
		return nil, errNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *memSessionStore) UpdatePhase(ctx context.Context, id string, phase domain.Phase, terr *domain.TerminalError, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[id]
	if !ok {
		return errNotFound
	}
	sess.Phase = phase
	sess.TerminalError = terr
	sess.UpdatedAt = now
	return nil
}

func (s *memSessionStore) TouchActivity(ctx context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[id]
	if !ok {
		return errNotFound
	}
	sess.LastActivityAt = now
	return nil
}

type memTaskStore struct {
	mu sync.Mutex
	m  map[string]*domain.Task
}

func newMemTaskStore() *memTaskStore { return &memTaskStore{m: make(map[string]*domain.Task)} }

func (s *memTaskStore) Upsert(ctx context.Context, t *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.m[t.ID] = &cp
	return nil
}

func (s *memTaskStore) ListBySession(ctx context.Context, sessionID string) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Task
	for _, t := range s.m {
		if t.SessionID == sessionID {
			out = append(out, t)
		}
	}
	return out, nil
}

type memClarificationStore struct {
	mu     sync.Mutex
	rounds map[string][]*domain.ClarificationRound
}

func newMemClarificationStore() *memClarificationStore {
	return &memClarificationStore{rounds: make(map[string][]*domain.ClarificationRound)}
}

func (s *memClarificationStore) Insert(ctx context.Context, round *domain.ClarificationRound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *round
	s.rounds[round.SessionID] = append(s.rounds[round.SessionID], &cp)
	return nil
}

func (s *memClarificationStore) RecordAnswer(ctx context.Context, roundID string, answers map[string]string, q domain.QualitySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rs := range s.rounds {
		for _, r := range rs {
			if r.ID == roundID {
				r.Answers = answers
				return nil
			}
		}
	}
	return errNotFound
}

func (s *memClarificationStore) Latest(ctx context.Context, sessionID string) (*domain.ClarificationRound, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs := s.rounds[sessionID]
	if len(rs) == 0 {
		return nil, errNotFound
	}
	return rs[len(rs)-1], nil
}

func (s *memClarificationStore) ListBySession(ctx context.Context, sessionID string) ([]*domain.ClarificationRound, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.ClarificationRound, len(s.rounds[sessionID]))
	copy(out, s.rounds[sessionID])
	return out, nil
}

type memMessageStore struct {
	mu sync.Mutex
	ms []*domain.Message
}

func (s *memMessageStore) Insert(ctx context.Context, m *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ms = append(s.ms, m)
	return nil
}

type memArtifactStore struct {
	mu sync.Mutex
	as map[string][]*domain.Artifact
}

func newMemArtifactStore() *memArtifactStore {
	return &memArtifactStore{as: make(map[string][]*domain.Artifact)}
}

func (s *memArtifactStore) Insert(ctx context.Context, a *domain.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.as[a.SessionID] = append(s.as[a.SessionID], a)
	return nil
}

func (s *memArtifactStore) ListBySession(ctx context.Context, sessionID string) ([]*domain.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.as[sessionID], nil
}

type memCollabStore struct{}

func (memCollabStore) Save(ctx context.Context, sessionID string, snap collab.Snapshot) error {
	return nil
}
func (memCollabStore) Load(ctx context.Context, sessionID string) (collab.Snapshot, error) {
	return collab.Snapshot{}, errNotFound
}

var errNotFound = &domain.TerminalError{Kind: domain.ErrKindUnknownSession, Message: "not found"}

// memEventStore satisfies events.Store.
type memEventStore struct {
	mu  sync.Mutex
	evs map[string][]domain.Event
}

func newMemEventStore() *memEventStore { return &memEventStore{evs: make(map[string][]domain.Event)} }

func (s *memEventStore) Insert(ctx context.Context, e domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evs[e.SessionID] = append(s.evs[e.SessionID], e)
	return nil
}

func (s *memEventStore) ListFrom(ctx context.Context, sessionID string, after int64) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, e := range s.evs[sessionID] {
		if e.Sequence > after {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memEventStore) MaxSequence(ctx context.Context, sessionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max int64
	for _, e := range s.evs[sessionID] {
		if e.Sequence > max {
			max = e.Sequence
		}
	}
	return max, nil
}

// --- fake LLM provider ---

// scriptedProvider answers every Generate call with canned JSON shaped to
// satisfy whichever step is asking: the Clarification Engine's eight-
// dimension score request, or the Agent Runtime's think/reflect requests
// (answered with one object carrying both shapes' fields, since extractJSON
// only reads the keys it needs).
type scriptedProvider struct{}

func (scriptedProvider) Name() string { return "scripted" }

func (scriptedProvider) Generate(ctx context.Context, req llmgateway.Request) (string, error) {
	if strings.Contains(req.Prompt, "functional, non_functional") {
		reply := map[string]map[string]any{}
		for _, dim := range domain.AllDimensions {
			reply[string(dim)] = map[string]any{"score": 0.9, "deficiencies": []string{}}
		}
		b, _ := json.Marshal(reply)
		return string(b), nil
	}

	combined := map[string]any{
		"summary":          "analysis complete",
		"insights":         []string{"insight one"},
		"next_actions":     []string{},
		"confidence":       0.9,
		"reasoning_chain":  []string{"step one"},
		"completeness":     0.9,
		"accuracy":         0.9,
		"professionalism":  0.9,
		"clarity":          0.9,
		"actionability":    0.9,
		"innovation":       0.9,
	}
	b, _ := json.Marshal(combined)
	return string(b), nil
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *memSessionStore) {
	t.Helper()
	sessions := newMemSessionStore()
	stores := Stores{
		Sessions:       sessions,
		Tasks:          newMemTaskStore(),
		Clarifications: newMemClarificationStore(),
		Messages:       &memMessageStore{},
		Artifacts:      newMemArtifactStore(),
		Collab:         memCollabStore{},
	}

	bus := events.New(newMemEventStore(), nil)
	roleReg, err := roles.NewRegistry(roles.Builtins()...)
	require.NoError(t, err)
	gw := llmgateway.New(scriptedProvider{}, slog.Default())
	mask := masking.NewService(nil)

	cfg := DefaultConfig()
	cfg.IdleTimeout = 2 * time.Second

	orch := New(cfg, stores, bus, roleReg, gw, mask, nil, "test-pod")
	return orch, sessions
}

func waitForPhase(t *testing.T, sessions *memSessionStore, id string, phase domain.Phase, timeout time.Duration) *domain.Session {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		sess, err := sessions.Get(context.Background(), id)
		if err == nil && (sess.Phase == phase || sess.Phase.Terminal()) {
			return sess
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("session %s did not reach phase %s within %s", id, phase, timeout)
	return nil
}

func TestOrchestratorQuickModeHappyPath(t *testing.T) {
	orch, sessions := newTestOrchestrator(t)

	id, err := orch.Start(context.Background(), "As a user I want to reset my password via email.", domain.ModeQuick, "proj-1")
	require.NoError(t, err)

	sess := waitForPhase(t, sessions, id, domain.PhaseDone, 5*time.Second)
	require.Equal(t, domain.PhaseDone, sess.Phase)
	require.Nil(t, sess.TerminalError)

	snap, err := orch.GetSession(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, 1.0, snap.Progress)
	require.Len(t, snap.LatestArtifacts, 1)
	require.Equal(t, "requirements_spec.md", snap.LatestArtifacts[0].Name)
}

// TestOrchestratorAnalyzingPhaseSplitsIntoSubStepTasks verifies the Analyst
// role's four declared sub-steps each become their own dispatched Task,
// rather than looping inside one task, so the ready-set scheduler actually
// fans them out concurrently.
func TestOrchestratorAnalyzingPhaseSplitsIntoSubStepTasks(t *testing.T) {
	orch, sessions := newTestOrchestrator(t)
	tasks := orch.stores.Tasks.(*memTaskStore)

	id, err := orch.Start(context.Background(), "As a user I want to reset my password via email.", domain.ModeQuick, "proj-1")
	require.NoError(t, err)

	waitForPhase(t, sessions, id, domain.PhaseDocumenting, 5*time.Second)

	got, err := tasks.ListBySession(context.Background(), id)
	require.NoError(t, err)
	names := make(map[string]bool, len(got))
	for _, tsk := range got {
		names[tsk.Name] = true
		require.Equal(t, domain.StatusSucceeded, tsk.Status)
	}
	for _, step := range []string{"business_process", "business_rules", "value", "risk"} {
		require.True(t, names[step], "missing sub-step task %q", step)
	}
	require.False(t, names["analyze"], "analyze should not seed a single root task when sub-steps are declared")
}

func TestOrchestratorStartRejectsEmptyRequirement(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	_, err := orch.Start(context.Background(), "   ", domain.ModeQuick, "proj-1")
	require.Error(t, err)
	var terr *domain.TerminalError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, domain.ErrKindInvalidInput, terr.Kind)
}

func TestOrchestratorStartRejectsOverCapacity(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	orch.cfg.MaxSessionsPerProcess = 0
	_, err := orch.Start(context.Background(), "some requirement text", domain.ModeQuick, "proj-1")
	require.Error(t, err)
	var terr *domain.TerminalError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, domain.ErrKindBusy, terr.Kind)
}

func TestOrchestratorSubmitAnswerRejectsUnknownSession(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	err := orch.SubmitAnswer(context.Background(), "does-not-exist", map[string]string{"q1": "a1"})
	require.Error(t, err)
	var terr *domain.TerminalError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, domain.ErrKindUnknownSession, terr.Kind)
}

func TestOrchestratorCancelUnknownSessionReturnsFalse(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	require.False(t, orch.Cancel("nonexistent"))
}

func TestOrchestratorCancelMidRun(t *testing.T) {
	orch, sessions := newTestOrchestrator(t)
	id, err := orch.Start(context.Background(), "As a user I want to export my data as CSV.", domain.ModeQuick, "proj-1")
	require.NoError(t, err)

	orch.Cancel(id)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		sess, err := sessions.Get(context.Background(), id)
		if err == nil && sess.Phase.Terminal() {
			require.Equal(t, domain.PhaseFailed, sess.Phase)
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	sess, err := sessions.Get(context.Background(), id)
	require.NoError(t, err)
	require.True(t, sess.Phase == domain.PhaseFailed || sess.Phase == domain.PhaseDone)
}

func TestOrchestratorGetSessionUnknownSession(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	_, err := orch.GetSession(context.Background(), "nope")
	require.Error(t, err)
}

func TestOrchestratorQuality(t *testing.T) {
	cfg := quality.DefaultConfig()
	require.Equal(t, 0.8, cfg.OverallThreshold)
}

func TestOrchestratorRecordsMetricsOnHappyPath(t *testing.T) {
	orch, sessions := newTestOrchestrator(t)
	m := metrics.New("orch_test")
	orch.WithMetrics(m)

	id, err := orch.Start(context.Background(), "As a user I want to reset my password via email.", domain.ModeQuick, "proj-1")
	require.NoError(t, err)

	sess := waitForPhase(t, sessions, id, domain.PhaseDone, 5*time.Second)
	require.Equal(t, domain.PhaseDone, sess.Phase)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	require.True(t, names["orch_test_sessions_total"])
	require.True(t, names["orch_test_phase_duration_seconds"])
	require.True(t, names["orch_test_tasks_total"])
}
