package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reqflow/reqflow/pkg/agentruntime"
	"github.com/reqflow/reqflow/pkg/clock"
	"github.com/reqflow/reqflow/pkg/collab"
	"github.com/reqflow/reqflow/pkg/domain"
	"github.com/reqflow/reqflow/pkg/events"
	"github.com/reqflow/reqflow/pkg/knowledge"
	"github.com/reqflow/reqflow/pkg/llmgateway"
	"github.com/reqflow/reqflow/pkg/masking"
	"github.com/reqflow/reqflow/pkg/metrics"
	"github.com/reqflow/reqflow/pkg/notify"
	"github.com/reqflow/reqflow/pkg/quality"
	"github.com/reqflow/reqflow/pkg/roles"
)

// Config holds the limits start/dispatch enforce.
type Config struct {
	// MaxSessionsPerProcess bounds concurrently active sessions on one pod;
	// start() fails with Busy once it is reached. The spec leaves this
	// operator-tunable rather than fixing a default; 100 is a conservative
	// starting point for a single pod sized for pkg/llmgateway's default
	// 3-way concurrent LLM call cap.
	MaxSessionsPerProcess int
	// MaxAgentsPerSession bounds concurrent task dispatch within one
	// session's ready-set scheduler.
	MaxAgentsPerSession int
	// IdleTimeout fails a clarifying session automatically once this long
	// passes without a submit_answer call.
	IdleTimeout time.Duration
	Quality     quality.Config
}

// DefaultConfig returns the Orchestrator's default limits.
func DefaultConfig() Config {
	return Config{
		MaxSessionsPerProcess: 100,
		MaxAgentsPerSession:   3,
		IdleTimeout:           30 * time.Minute,
		Quality:               quality.DefaultConfig(),
	}
}

// Orchestrator drives every session through start → clarifying → analyzing
// → documenting → (reviewing) → done, owning the task tree and the quality
// gate for each.
type Orchestrator struct {
	cfg       Config
	stores    Stores
	bus       *events.Bus
	roleReg   *roles.Registry
	gateway   *llmgateway.Gateway
	mask      *masking.Service
	knowledge *knowledge.Client
	clock     clock.Clock
	sessions  *SessionRegistry
	pod       string
	metrics   *metrics.Metrics
	notify    *notify.Service

	mu          sync.Mutex
	live        int
	collabs     map[string]*collab.State
	answerWaits map[string]chan struct{}
	progress    map[string]float64
}

// errSessionCancelled is the cancellation cause SessionRegistry.Cancel
// delivers to a session's root clock.Scope; it propagates to every
// descendant scope (each in-flight task's own child scope), matching the
// requirement that a parent scope's cancellation cancels its whole subtree.
var errSessionCancelled = errors.New("orchestrator: session cancelled")

// New constructs an Orchestrator.
func New(cfg Config, stores Stores, bus *events.Bus, roleReg *roles.Registry, gateway *llmgateway.Gateway, mask *masking.Service, kb *knowledge.Client, podID string) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		stores:    stores,
		bus:       bus,
		roleReg:   roleReg,
		gateway:   gateway,
		mask:      mask,
		knowledge: kb,
		clock:     clock.New(),
		sessions:  NewSessionRegistry(),
		pod:       podID,
		collabs:   make(map[string]*collab.State),
		progress:  make(map[string]float64),
	}
}

// WithMetrics attaches a Metrics recorder, returning o for chaining. An
// Orchestrator with no attached recorder records nothing; every metrics call
// below is a nil-receiver no-op in that case.
func (o *Orchestrator) WithMetrics(m *metrics.Metrics) *Orchestrator {
	o.metrics = m
	return o
}

// WithNotify attaches a Slack notification sink, returning o for chaining.
// A nil *notify.Service (the zero value of this field) is itself a valid
// no-op, so this is only called when Slack is actually configured.
func (o *Orchestrator) WithNotify(n *notify.Service) *Orchestrator {
	o.notify = n
	return o
}

// Start allocates a session, seeds its root task, and launches its phase
// loop in the background. It returns as soon as the session is durably
// created; callers observe progress via Subscribe.
func (o *Orchestrator) Start(ctx context.Context, requirementText string, mode domain.Mode, project string) (string, error) {
	if strings.TrimSpace(requirementText) == "" {
		return "", &domain.TerminalError{Kind: domain.ErrKindInvalidInput, Message: "requirement text is empty"}
	}

	o.mu.Lock()
	if o.live >= o.cfg.MaxSessionsPerProcess {
		o.mu.Unlock()
		return "", &domain.TerminalError{Kind: domain.ErrKindBusy, Message: "per-process session cap exceeded"}
	}
	o.live++
	o.mu.Unlock()
	o.metrics.SessionStarted()

	now := o.clock.Now().UTC()
	sess := &domain.Session{
		ID:              uuid.NewString(),
		Mode:            mode,
		Phase:           domain.PhaseClarifying,
		Project:         project,
		PodID:           o.pod,
		CreatedAt:       now,
		UpdatedAt:       now,
		LastActivityAt:  now,
	}
	if err := o.stores.Sessions.Insert(ctx, sess); err != nil {
		o.mu.Lock()
		o.live--
		o.mu.Unlock()
		o.metrics.SessionEnded(string(mode), "insert_error", now)
		return "", fmt.Errorf("orchestrator: insert session: %w", err)
	}

	state := collab.New()
	state.CommitStaging(map[string]string{"requirement_text": requirementText})
	o.mu.Lock()
	o.collabs[sess.ID] = state
	o.mu.Unlock()

	if err := o.bus.Hydrate(ctx, sess.ID); err != nil {
		return "", fmt.Errorf("orchestrator: hydrate event sequence: %w", err)
	}
	if _, err := o.bus.Publish(ctx, sess.ID, domain.EventKindPhase, domain.PhasePayload{Phase: domain.PhaseClarifying}); err != nil {
		return "", fmt.Errorf("orchestrator: publish initial phase: %w", err)
	}

	o.notify.NotifySessionStarted(ctx, sess)

	// sessionScope is the root of this session's cancellation tree: every
	// task the session dispatches gets its own child scope (see
	// runPhaseTasks), so cancelling sessionScope cancels every in-flight
	// task along with it.
	sessionScope := clock.NewRootScope(context.Background())
	o.sessions.Register(sess.ID, func() { sessionScope.Cancel(errSessionCancelled) })

	go o.runSession(sessionScope, sess)

	return sess.ID, nil
}

// runSession drives one session from clarifying to a terminal phase. It
// always unregisters the session's cancel function and decrements the live
// counter on exit, however it ends.
func (o *Orchestrator) runSession(scope *clock.Scope, sess *domain.Session) {
	defer func() {
		o.sessions.Unregister(sess.ID)
		o.mu.Lock()
		o.live--
		delete(o.collabs, sess.ID)
		o.mu.Unlock()
		o.metrics.SessionEnded(string(sess.Mode), sessionOutcome(sess), sess.CreatedAt)
	}()

	reviewIterated := false
	for !sess.Phase.Terminal() {
		select {
		case <-scope.Done():
			o.fail(context.Background(), sess, &domain.TerminalError{Kind: domain.ErrKindCancelled, Message: "session cancelled"})
			return
		default:
		}

		switch sess.Phase {
		case domain.PhaseClarifying:
			if !o.runClarifyWait(scope, sess) {
				return
			}
		default:
			reviewFailed, ok := o.runPhaseTasks(scope, sess)
			if !ok {
				return
			}
			next := nextPhase(sess.Mode, sess.Phase, reviewFailed)
			if sess.Phase == domain.PhaseReviewing && reviewFailed && sess.Mode == domain.ModeDeep && !reviewIterated {
				reviewIterated = true
			} else if sess.Phase == domain.PhaseReviewing && reviewFailed {
				o.fail(scope.Context(), sess, &domain.TerminalError{Kind: domain.ErrKindInternal, Message: "review failed after re-document iteration"})
				return
			}
			if !o.transition(scope.Context(), sess, next) {
				return
			}
		}
	}

	if sess.Phase == domain.PhaseDone {
		o.publishTerminal(scope.Context(), sess, nil)
	}
}

// runClarifyWait scores the clarification round and, if the gate doesn't
// pass, publishes the next round's questions and blocks until SubmitAnswer
// wakes it (via the session's answer channel) or the idle timeout fires.
func (o *Orchestrator) runClarifyWait(scope *clock.Scope, sess *domain.Session) bool {
	ctx := scope.Context()
	roundPtrs, err := o.stores.Clarifications.ListBySession(ctx, sess.ID)
	if err != nil {
		o.fail(ctx, sess, &domain.TerminalError{Kind: domain.ErrKindInternal, Message: err.Error()})
		return false
	}
	rounds := make([]domain.ClarificationRound, 0, len(roundPtrs))
	for _, r := range roundPtrs {
		rounds = append(rounds, *r)
	}

	requirementText := o.collabValue(sess.ID, "requirement_text")
	turn, err := RunClarificationTurn(ctx, o.gateway, o.mask, requirementText, rounds, o.cfg.Quality, o.clock.Now().UTC())
	if err != nil {
		o.fail(ctx, sess, classifyTurnError(err))
		return false
	}

	if _, err := o.bus.Publish(ctx, sess.ID, domain.EventKindQuality, domain.QualityPayload{Quality: turn.Quality}); err != nil {
		o.fail(ctx, sess, &domain.TerminalError{Kind: domain.ErrKindInternal, Message: err.Error()})
		return false
	}

	switch turn.Outcome {
	case quality.OutcomeExhausted:
		o.metrics.ClarificationRoundsObserved(string(turn.Outcome), len(rounds)+1)
		o.fail(ctx, sess, &domain.TerminalError{Kind: domain.ErrKindClarificationExhausted, Message: "clarification rounds exhausted below floor"})
		return false
	case quality.OutcomeProceed:
		o.metrics.ClarificationRoundsObserved(string(turn.Outcome), len(rounds)+1)
		return o.transition(ctx, sess, domain.PhaseAnalyzing)
	default: // OutcomeAskMore
		round := &domain.ClarificationRound{
			ID:        uuid.NewString(),
			SessionID: sess.ID,
			Sequence:  len(rounds) + 1,
			Questions: turn.Questions,
			Answers:   map[string]string{},
			Quality:   turn.Quality,
			CreatedAt: o.clock.Now().UTC(),
		}
		if err := o.stores.Clarifications.Insert(ctx, round); err != nil {
			o.fail(ctx, sess, &domain.TerminalError{Kind: domain.ErrKindInternal, Message: err.Error()})
			return false
		}
		msg := &domain.Message{
			ID: uuid.NewString(), SessionID: sess.ID, Role: domain.MessageRoleAgent,
			Author: "clarifier", Kind: domain.MessageKindChat, Payload: formatQuestions(turn.Questions),
			CreatedAt: o.clock.Now().UTC(),
		}
		if err := o.stores.Messages.Insert(ctx, msg); err != nil {
			o.fail(ctx, sess, &domain.TerminalError{Kind: domain.ErrKindInternal, Message: err.Error()})
			return false
		}
		if _, err := o.bus.Publish(ctx, sess.ID, domain.EventKindMessage, domain.MessagePayload{Message: *msg}); err != nil {
			o.fail(ctx, sess, &domain.TerminalError{Kind: domain.ErrKindInternal, Message: err.Error()})
			return false
		}
		return o.awaitAnswer(scope, sess, round.ID)
	}
}

// awaitAnswer blocks until the round identified by roundID receives an
// answer via SubmitAnswer, the session is cancelled, or the idle timeout
// elapses.
func (o *Orchestrator) awaitAnswer(scope *clock.Scope, sess *domain.Session, roundID string) bool {
	ch := o.waitChan(sess.ID, roundID)
	select {
	case <-ch:
		return true
	case <-scope.Done():
		o.fail(context.Background(), sess, &domain.TerminalError{Kind: domain.ErrKindCancelled, Message: "session cancelled"})
		return false
	case <-o.clock.After(o.cfg.IdleTimeout):
		o.fail(context.Background(), sess, &domain.TerminalError{Kind: domain.ErrKindIdleTimeout, Message: "no answer submitted within idle timeout"})
		return false
	}
}

// runPhaseTasks seeds and runs the task tree for a non-clarifying phase,
// reporting whether a reviewing phase's review task failed.
func (o *Orchestrator) runPhaseTasks(scope *clock.Scope, sess *domain.Session) (reviewFailed bool, ok bool) {
	ctx := scope.Context()
	phaseStart := o.clock.Now().UTC()
	defer o.metrics.PhaseObserved(string(sess.Phase), phaseStart)

	roleID := roleForPhase(sess.Phase)
	spec, found := o.roleReg.Get(roleID)
	if !found {
		o.fail(ctx, sess, &domain.TerminalError{Kind: domain.ErrKindInternal, Message: fmt.Sprintf("no role registered for phase %s", sess.Phase)})
		return false, false
	}

	tree := NewTaskTree()
	if len(spec.SubSteps) == 0 {
		root := &domain.Task{
			ID: fmt.Sprintf("%s-%s", sess.ID, phaseTaskName(sess.Phase)), SessionID: sess.ID,
			Name: phaseTaskName(sess.Phase), Participants: []domain.Participant{{Role: roleID}},
			Status: domain.StatusIdle, CreatedAt: o.clock.Now().UTC(),
		}
		if err := tree.Insert(root); err != nil {
			o.fail(ctx, sess, asTerminal(err))
			return false, false
		}
	} else {
		// One task per declared sub-step, with no dependencies between them:
		// the ready-set scheduler dispatches all of them at once, bounded by
		// MaxAgentsPerSession, so sub-steps that can run in parallel do.
		for _, step := range spec.SubSteps {
			t := &domain.Task{
				ID: fmt.Sprintf("%s-%s", sess.ID, step), SessionID: sess.ID,
				Name: step, Participants: []domain.Participant{{Role: roleID}},
				Status: domain.StatusIdle, CreatedAt: o.clock.Now().UTC(),
			}
			if err := tree.Insert(t); err != nil {
				o.fail(ctx, sess, asTerminal(err))
				return false, false
			}
		}
	}

	state := o.collabState(sess.ID)
	execute := func(ctx context.Context, task *domain.Task) (*domain.TaskResult, error) {
		return runWithRetry(ctx, task, func(ctx context.Context) (*domain.TaskResult, error) {
			_ = o.stores.Sessions.TouchActivity(ctx, sess.ID, o.clock.Now().UTC())
			taskScope, cancelTask := scope.WithTimeout(agentruntime.TaskTimeout(sess.Mode))
			defer cancelTask()
			o.metrics.AgentStarted()
			defer o.metrics.AgentFinished()
			exec := agentruntime.NewExecutor(spec)
			return exec.Run(taskScope.Context(), agentruntime.RunContext{
				SessionID: sess.ID, Mode: sess.Mode, Collab: state, Gateway: o.gateway,
				Bus: o.bus, Mask: o.mask, Knowledge: o.knowledge,
			}, task)
		})
	}

	if err := RunTasks(ctx, tree, o.cfg.MaxAgentsPerSession, execute); err != nil {
		o.fail(ctx, sess, asTerminal(err))
		return false, false
	}
	o.mu.Lock()
	o.progress[sess.ID] = tree.Progress()
	o.mu.Unlock()
	if err := o.persistTasks(ctx, tree); err != nil {
		o.fail(ctx, sess, &domain.TerminalError{Kind: domain.ErrKindInternal, Message: err.Error()})
		return false, false
	}
	for _, t := range tree.All() {
		taskRole := roleID
		if len(t.Participants) > 0 {
			taskRole = t.Participants[0].Role
		}
		o.metrics.TaskCompleted(taskRole, string(t.Status))
		o.metrics.TaskRetried(taskRole, t.RetryCount)
	}

	if sess.Phase == domain.PhaseDocumenting {
		o.emitArtifact(ctx, sess, tree)
	}

	return sess.Phase == domain.PhaseReviewing && tree.AnyFailed(), true
}

func (o *Orchestrator) persistTasks(ctx context.Context, tree *TaskTree) error {
	for _, t := range tree.All() {
		if err := o.stores.Tasks.Upsert(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) emitArtifact(ctx context.Context, sess *domain.Session, tree *TaskTree) {
	var content strings.Builder
	for _, t := range tree.All() {
		if t.Result != nil {
			content.WriteString(t.Result.Content)
			content.WriteString("\n\n")
		}
	}
	artifact := &domain.Artifact{
		ID: uuid.NewString(), SessionID: sess.ID, Name: "requirements_spec.md",
		ContentType: "text/markdown", Content: []byte(content.String()),
		CreatedAt: o.clock.Now().UTC(),
	}
	_ = o.stores.Artifacts.Insert(ctx, artifact)
}

// transition moves sess to next, persisting and publishing the phase event.
func (o *Orchestrator) transition(ctx context.Context, sess *domain.Session, next domain.Phase) bool {
	sess.Phase = next
	now := o.clock.Now().UTC()
	sess.UpdatedAt = now
	if err := o.stores.Sessions.UpdatePhase(ctx, sess.ID, next, nil, now); err != nil {
		o.fail(ctx, sess, &domain.TerminalError{Kind: domain.ErrKindInternal, Message: err.Error()})
		return false
	}
	if _, err := o.bus.Publish(ctx, sess.ID, domain.EventKindPhase, domain.PhasePayload{Phase: next}); err != nil {
		o.fail(ctx, sess, &domain.TerminalError{Kind: domain.ErrKindInternal, Message: err.Error()})
		return false
	}
	return true
}

// fail transitions sess to failed with terr and publishes the terminal
// event. Uses a fresh background context for the persistence/publish calls
// since the caller's context may already be the one that's cancelled.
func (o *Orchestrator) fail(ctx context.Context, sess *domain.Session, terr *domain.TerminalError) {
	sess.Phase = domain.PhaseFailed
	sess.TerminalError = terr
	now := o.clock.Now().UTC()
	_ = o.stores.Sessions.UpdatePhase(ctx, sess.ID, domain.PhaseFailed, terr, now)
	o.publishTerminal(ctx, sess, terr)
}

func (o *Orchestrator) publishTerminal(ctx context.Context, sess *domain.Session, terr *domain.TerminalError) {
	_, _ = o.bus.Publish(ctx, sess.ID, domain.EventKindTerminal, domain.PhasePayload{Phase: sess.Phase, Error: terr})
	o.notify.NotifySessionTerminal(ctx, sess)
}

// SubmitAnswer appends answers to the current round and wakes the session's
// phase loop to re-evaluate the quality gate.
func (o *Orchestrator) SubmitAnswer(ctx context.Context, sessionID string, answers map[string]string) error {
	sess, err := o.stores.Sessions.Get(ctx, sessionID)
	if err != nil {
		return &domain.TerminalError{Kind: domain.ErrKindUnknownSession, Message: err.Error()}
	}
	if sess.Phase.Terminal() {
		return &domain.TerminalError{Kind: domain.ErrKindSessionTerminal, Message: "session already terminal"}
	}
	if sess.Phase != domain.PhaseClarifying {
		return &domain.TerminalError{Kind: domain.ErrKindNotClarifying, Message: "session is not awaiting clarification"}
	}

	round, err := o.stores.Clarifications.Latest(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("orchestrator: load latest round: %w", err)
	}
	merged := mergeAnswers(round.Answers, answers)
	if err := o.stores.Clarifications.RecordAnswer(ctx, round.ID, merged, round.Quality); err != nil {
		return fmt.Errorf("orchestrator: record answer: %w", err)
	}
	now := o.clock.Now().UTC()
	_ = o.stores.Sessions.TouchActivity(ctx, sessionID, now)

	o.notifyAnswer(sessionID, round.ID)
	return nil
}

// mergeAnswers applies incoming answers on top of a round's existing
// answers (last-writer-wins), making repeated submit_answer calls for the
// same question idempotent.
func mergeAnswers(existing, incoming map[string]string) map[string]string {
	out := make(map[string]string, len(existing)+len(incoming))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range incoming {
		out[k] = v
	}
	return out
}

// Subscribe opens a live event stream for a session.
func (o *Orchestrator) Subscribe(ctx context.Context, sessionID string, fromSequence *int64) (*events.Subscription, error) {
	return o.bus.Subscribe(ctx, sessionID, fromSequence)
}

// Cancel requests cooperative cancellation of a session owned by this pod.
func (o *Orchestrator) Cancel(sessionID string) bool {
	return o.sessions.Cancel(sessionID)
}

// GetSession returns a session's current snapshot.
func (o *Orchestrator) GetSession(ctx context.Context, sessionID string) (domain.Snapshot, error) {
	sess, err := o.stores.Sessions.Get(ctx, sessionID)
	if err != nil {
		return domain.Snapshot{}, &domain.TerminalError{Kind: domain.ErrKindUnknownSession, Message: err.Error()}
	}

	round, err := o.stores.Clarifications.Latest(ctx, sessionID)
	var latestRound *domain.ClarificationRound
	if err == nil {
		latestRound = round
	}

	artifactPtrs, _ := o.stores.Artifacts.ListBySession(ctx, sessionID)
	artifacts := make([]domain.Artifact, 0, len(artifactPtrs))
	for _, a := range artifactPtrs {
		artifacts = append(artifacts, *a)
	}

	return domain.Snapshot{
		Session:         *sess,
		Progress:        o.sessionProgress(sessionID),
		LatestRound:     latestRound,
		LatestArtifacts: artifacts,
	}, nil
}

// sessionProgress returns the most recently completed phase's task-tree
// progress for sessionID, persisted by runPhaseTasks once its RunTasks call
// returns. It is the weighted mean of that phase's task progress values
// (terminal-success tasks counting as 1.0), so a session whose last phase
// finished with every task successful reports 1.0.
func (o *Orchestrator) sessionProgress(sessionID string) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress[sessionID]
}

func (o *Orchestrator) collabState(sessionID string) *collab.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.collabs[sessionID]
	if !ok {
		s = collab.New()
		o.collabs[sessionID] = s
	}
	return s
}

func (o *Orchestrator) collabValue(sessionID, key string) string {
	return o.collabState(sessionID).Snapshot().Data[key]
}

// waitChan returns the per-(session,round) answer notification channel
// SubmitAnswer closes to wake awaitAnswer, creating it on first use.
func (o *Orchestrator) waitChan(sessionID, roundID string) <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.answerWaits == nil {
		o.answerWaits = make(map[string]chan struct{})
	}
	key := sessionID + "/" + roundID
	ch, ok := o.answerWaits[key]
	if !ok {
		ch = make(chan struct{})
		o.answerWaits[key] = ch
	}
	return ch
}

func (o *Orchestrator) notifyAnswer(sessionID, roundID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := sessionID + "/" + roundID
	if ch, ok := o.answerWaits[key]; ok {
		close(ch)
		delete(o.answerWaits, key)
	}
}

func formatQuestions(qs []domain.Question) string {
	var b strings.Builder
	for i, q := range qs {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. [%s] %s", i+1, q.Priority, q.Text)
	}
	return b.String()
}

func asTerminal(err error) *domain.TerminalError {
	var terr *domain.TerminalError
	if errors.As(err, &terr) {
		return terr
	}
	return &domain.TerminalError{Kind: domain.ErrKindInternal, Message: err.Error()}
}

// sessionOutcome labels a terminal session for SessionEnded: "done", or the
// TerminalError's Kind when failed.
func sessionOutcome(sess *domain.Session) string {
	if sess.Phase == domain.PhaseDone {
		return "done"
	}
	if sess.TerminalError != nil {
		return string(sess.TerminalError.Kind)
	}
	return "failed"
}

func classifyTurnError(err error) *domain.TerminalError {
	if errors.Is(err, llmgateway.ErrCircuitOpen) {
		return &domain.TerminalError{Kind: domain.ErrKindLLMUnavailable, Message: err.Error()}
	}
	return &domain.TerminalError{Kind: domain.ErrKindInternal, Message: err.Error()}
}
