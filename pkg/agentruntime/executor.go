package agentruntime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/reqflow/reqflow/pkg/collab"
	"github.com/reqflow/reqflow/pkg/domain"
	"github.com/reqflow/reqflow/pkg/events"
	"github.com/reqflow/reqflow/pkg/knowledge"
	"github.com/reqflow/reqflow/pkg/llmgateway"
	"github.com/reqflow/reqflow/pkg/masking"
	"github.com/reqflow/reqflow/pkg/roles"
)

// TaskTimeout maps a session Mode to the Agent Runtime's per-attempt budget:
// one Run call, including its quality-gate retry cycle, shares it.
// The caller is responsible for bounding ctx by this duration (the
// Orchestrator does so via a clock.Scope child of the session's root scope)
// before calling Run; Run itself no longer imposes its own timeout so that a
// session-wide cancellation reaches every in-flight task through one
// cancellation tree instead of a second, independent context chain.
func TaskTimeout(mode domain.Mode) time.Duration {
	switch mode {
	case domain.ModeQuick:
		return 30 * time.Second
	case domain.ModeDeep:
		return 180 * time.Second
	default: // standard, workflow
		return 90 * time.Second
	}
}

// llmModeFor maps a session Mode to the LLM Gateway mode the Act step calls
// with. Think always uses llmgateway.ModeQuick regardless of session mode.
func llmModeFor(mode domain.Mode) llmgateway.Mode {
	switch mode {
	case domain.ModeQuick:
		return llmgateway.ModeQuick
	case domain.ModeDeep:
		return llmgateway.ModeDeep
	default:
		return llmgateway.ModeStandard
	}
}

// maxCyclesTotal is the Think-Act-Reflect retry budget: the first attempt
// plus one retry if the quality gate fails.
const maxCyclesTotal = 2

// TransientError marks a failure the Flow Orchestrator should retry with
// backoff rather than fail the session outright.
type TransientError struct {
	Kind string
	Err  error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("agentruntime: transient (%s): %v", e.Kind, e.Err)
}
func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks a failure the Flow Orchestrator must not retry.
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("agentruntime: fatal (%s): %v", e.Reason, e.Err)
}
func (e *FatalError) Unwrap() error { return e.Err }

// RunContext is the set of collaborators one Run call needs: the session's
// shared CollaborationState, the LLM Gateway, the Event Bus, the masking
// service every outbound prompt passes through, and an optional knowledge
// base client (nil disables prior-art lookup for roles that would use it).
type RunContext struct {
	SessionID string
	Mode      domain.Mode
	Collab    *collab.State
	Gateway   *llmgateway.Gateway
	Bus       *events.Bus
	Mask      *masking.Service
	Knowledge *knowledge.Client
	Log       *slog.Logger
}

// Executor runs one RoleSpec's Think-Act-Reflect loop. There is exactly one
// Executor type for every role; behavior differs only via the RoleSpec
// passed to NewExecutor.
type Executor struct {
	spec *roles.RoleSpec
}

// NewExecutor builds an Executor for spec.
func NewExecutor(spec *roles.RoleSpec) *Executor {
	return &Executor{spec: spec}
}

// thinkResult is the parsed shape of a Think step's LLM reply.
type thinkResult struct {
	Summary        string   `json:"summary"`
	Insights       []string `json:"insights"`
	NextActions    []string `json:"next_actions"`
	Confidence     float64  `json:"confidence"`
	ReasoningChain []string `json:"reasoning_chain"`
}

// reflectResult is the parsed shape of a Reflect step's LLM reply.
type reflectResult struct {
	Completeness    float64 `json:"completeness"`
	Accuracy        float64 `json:"accuracy"`
	Professionalism float64 `json:"professionalism"`
	Clarity         float64 `json:"clarity"`
	Actionability   float64 `json:"actionability"`
	Innovation      float64 `json:"innovation"`
}

func (r reflectResult) weighted(weights roles.QualityWeights) float64 {
	dims := map[string]float64{
		"completeness":    r.Completeness,
		"accuracy":        r.Accuracy,
		"professionalism": r.Professionalism,
		"clarity":         r.Clarity,
		"actionability":   r.Actionability,
		"innovation":      r.Innovation,
	}
	if len(weights) == 0 {
		var sum float64
		for _, v := range dims {
			sum += v
		}
		return sum / float64(len(dims))
	}
	var sum, total float64
	for name, w := range weights {
		sum += dims[name] * w
		total += w
	}
	if total == 0 {
		return 0
	}
	return sum / total
}

// jsonObjectRe matches the span from the first '{' to the last '}' in text,
// tolerating a model that ignores instructions to emit nothing but JSON and
// wraps its reply in prose or a markdown fence.
var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

func extractJSON(text string, out any) error {
	match := jsonObjectRe.FindString(text)
	if match == "" {
		return errors.New("no JSON object found in response")
	}
	return json.Unmarshal([]byte(match), out)
}

// Run executes task through Think, Act, and Reflect, retrying the whole
// cycle once if Reflect's quality gate fails, and committing the resulting
// staging map to rc.Collab: the first accepted cycle's, or the last cycle's
// when the gate never passes.
func (e *Executor) Run(ctx context.Context, rc RunContext, task *domain.Task) (*domain.TaskResult, error) {
	threshold := e.spec.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	step := e.stepFor(task)

	var lastOutput StepOutput
	var lastErr error

	for cycle := 1; cycle <= maxCyclesTotal; cycle++ {
		out, err := e.runCycle(ctx, rc, task, step, cycle, lastOutput.Content)
		if err != nil {
			return nil, err
		}
		lastOutput = out
		if out.Quality >= threshold {
			return e.commit(ctx, rc, task, out)
		}
		lastErr = fmt.Errorf("agentruntime: cycle %d quality %.2f below threshold %.2f", cycle, out.Quality, threshold)
		rc.logf("quality gate failed, retrying", "role", e.spec.ID, "task_id", task.ID, "cycle", cycle, "quality", out.Quality)
	}

	// Cycles exhausted: fall back to the best attempt rather than fail the
	// task outright, matching the spec's "repeats up to 2 times total" —
	// the second attempt's result is still committed even if it didn't
	// clear the bar, since there is no third chance.
	rc.logf("quality gate never passed, committing best attempt", "role", e.spec.ID, "task_id", task.ID, "error", lastErr)
	return e.commit(ctx, rc, task, lastOutput)
}

// stepFor reports which of the role's declared sub-steps task represents
// (one Task per sub-step is seeded when a role declares any), or "" when the
// role has no sub-steps and runs as a single task end to end.
func (e *Executor) stepFor(task *domain.Task) string {
	for _, s := range e.spec.SubSteps {
		if task.Name == s {
			return s
		}
	}
	return ""
}

// runCycle runs one full Act-Reflect pass (preceded by Think, only for a
// role with no declared sub-steps), publishing progress events at each
// boundary. It does not commit the staging map; the caller decides whether
// to commit based on the returned quality.
func (e *Executor) runCycle(ctx context.Context, rc RunContext, task *domain.Task, step string, cycle int, lastOutput string) (StepOutput, error) {
	snap := rc.Collab.Snapshot()

	e.publishProgress(ctx, rc, task, domain.StatusRunning, 0)

	var staging map[string]string
	var content string
	var err error
	if step == "" {
		var think thinkResult
		think, err = e.think(ctx, rc, task, snap, cycle, lastOutput)
		if err != nil {
			return StepOutput{}, err
		}
		e.publishProgress(ctx, rc, task, domain.StatusRunning, 25)
		staging, content, err = e.actRoot(task, think)
	} else {
		e.publishProgress(ctx, rc, task, domain.StatusRunning, 25)
		staging, content, err = e.actStep(ctx, rc, task, snap, step)
	}
	if err != nil {
		return StepOutput{}, err
	}
	e.publishProgress(ctx, rc, task, domain.StatusRunning, 75)

	snap2, err := e.reflect(ctx, rc, content, threshold(e.spec))
	if err != nil {
		return StepOutput{}, err
	}
	e.publishProgress(ctx, rc, task, domain.StatusRunning, 90)

	return StepOutput{Content: content, Quality: snap2.Overall, Snapshot: snap2, Staging: staging}, nil
}

// threshold resolves a RoleSpec's quality-gate threshold, defaulting when
// unset.
func threshold(spec *roles.RoleSpec) float64 {
	if spec.Threshold == 0 {
		return DefaultThreshold
	}
	return spec.Threshold
}

// think composes the role's root prompt from spec, task, and collab
// snapshot, calls the LLM Gateway in quick mode, and parses the structured
// reply. A parse failure is retried once with the same prompt before giving
// up with a TransientError("think_parse").
func (e *Executor) think(ctx context.Context, rc RunContext, task *domain.Task, snap collab.Snapshot, cycle int, lastOutput string) (thinkResult, error) {
	tmpl, ok := e.spec.PromptTemplates[""]
	if !ok {
		return thinkResult{}, &FatalError{Reason: "no_root_template", Err: fmt.Errorf("role %q has no root prompt template", e.spec.ID)}
	}

	prompt, err := renderPrompt(tmpl, StepInput{
		Task: task, Collab: snap.Data, Iteration: cycle, LastOutput: lastOutput,
	})
	if err != nil {
		return thinkResult{}, &FatalError{Reason: "think_template", Err: err}
	}
	prompt = rc.Mask.Mask(prompt) + thinkOutputInstruction

	var result thinkResult
	var parseErr error
	for attempt := 0; attempt < 2; attempt++ {
		text, callErr := rc.Gateway.Generate(ctx, llmgateway.ModeQuick, prompt)
		if callErr != nil {
			return thinkResult{}, classifyGatewayError(callErr)
		}
		parseErr = extractJSON(text, &result)
		if parseErr == nil {
			return result, nil
		}
		rc.logf("think parse failed, retrying", "role", e.spec.ID, "task_id", task.ID, "attempt", attempt)
	}
	return thinkResult{}, &TransientError{Kind: "think_parse", Err: parseErr}
}

// actRoot handles a role with no declared sub-steps: Think's summary is the
// task's whole content, with no separate Act call.
func (e *Executor) actRoot(task *domain.Task, think thinkResult) (map[string]string, string, error) {
	key := fmt.Sprintf("%s.%s", task.ID, e.spec.ID)
	return map[string]string{key: think.Summary}, think.Summary, nil
}

// actStep runs one declared sub-step in isolation. Each sub-step is its own
// Task, dispatched by the ready-set scheduler alongside its sibling
// sub-steps (pkg/orchestrator seeds one per RoleSpec.SubSteps entry with no
// Dependencies between them), so this call never blocks on another
// sub-step's output. Knowledge-base lookup is keyed off the collaboration
// state's requirement text rather than a shared Think summary, since there
// is no single Think pass spanning every sub-step task.
func (e *Executor) actStep(ctx context.Context, rc RunContext, task *domain.Task, snap collab.Snapshot, step string) (map[string]string, string, error) {
	tmpl, ok := e.spec.PromptTemplates[step]
	if !ok {
		return nil, "", &FatalError{Reason: "missing_substep_template", Err: fmt.Errorf("role %q sub-step %q has no prompt template", e.spec.ID, step)}
	}

	query := snap.Data["requirement_text"]
	if query == "" {
		query = step
	}
	var snippets []string
	if rc.Knowledge != nil {
		if found, err := rc.Knowledge.Search(ctx, query); err != nil {
			rc.logf("knowledge search failed, proceeding without prior art", "role", e.spec.ID, "task_id", task.ID, "step", step, "error", err)
		} else {
			for _, s := range found {
				snippets = append(snippets, s.Text)
			}
		}
	}

	prompt, err := renderPrompt(tmpl, StepInput{
		Task: task, Step: step, Collab: snap.Data, Snippets: snippets,
	})
	if err != nil {
		return nil, "", &FatalError{Reason: "act_template", Err: err}
	}
	prompt = rc.Mask.Mask(prompt)

	text, err := rc.Gateway.Generate(ctx, llmModeFor(rc.Mode), prompt)
	if err != nil {
		return nil, "", classifyGatewayError(err)
	}

	return map[string]string{fmt.Sprintf("%s.%s", task.ID, step): text}, text, nil
}

// reflect scores content against the role's six-axis quality rubric via an
// LLM self-assessment call, returning a QualitySnapshot built from the
// rubric axes (distinct from pkg/quality's eight request-quality
// dimensions, which score the requirement rather than a role's prose).
func (e *Executor) reflect(ctx context.Context, rc RunContext, content string, gate float64) (domain.QualitySnapshot, error) {
	prompt := rc.Mask.Mask(reflectPrompt(e.spec.Name, content)) + reflectOutputInstruction

	var result reflectResult
	var parseErr error
	for attempt := 0; attempt < 2; attempt++ {
		text, err := rc.Gateway.Generate(ctx, llmgateway.ModeQuick, prompt)
		if err != nil {
			return domain.QualitySnapshot{}, classifyGatewayError(err)
		}
		parseErr = extractJSON(text, &result)
		if parseErr == nil {
			overall := result.weighted(e.spec.QualityWeights)
			return domain.QualitySnapshot{
				Dimensions: rubricDimensionScores(result),
				Overall:    overall,
				GatePassed: overall >= gate,
				ComputedAt: time.Now(),
			}, nil
		}
	}
	return domain.QualitySnapshot{}, &TransientError{Kind: "reflect_parse", Err: parseErr}
}

// rubricDimensionScores renders a reflectResult into QualitySnapshot's
// Dimensions slice for display/persistence alongside the overall score.
func rubricDimensionScores(r reflectResult) []domain.DimensionScore {
	return []domain.DimensionScore{
		{Dimension: domain.Dimension("completeness"), Score: r.Completeness},
		{Dimension: domain.Dimension("accuracy"), Score: r.Accuracy},
		{Dimension: domain.Dimension("professionalism"), Score: r.Professionalism},
		{Dimension: domain.Dimension("clarity"), Score: r.Clarity},
		{Dimension: domain.Dimension("actionability"), Score: r.Actionability},
		{Dimension: domain.Dimension("innovation"), Score: r.Innovation},
	}
}

// commit applies a cycle's staging map atomically to rc.Collab, publishes
// the resulting state-delta, and returns the TaskResult.
func (e *Executor) commit(ctx context.Context, rc RunContext, task *domain.Task, out StepOutput) (*domain.TaskResult, error) {
	revision, changed := rc.Collab.CommitStaging(out.Staging)
	if rc.Bus != nil && len(changed) > 0 {
		_, _ = rc.Bus.Publish(ctx, rc.SessionID, domain.EventKindStateDelta, domain.StateDeltaPayload{
			Revision: revision, Changed: changed,
		})
	}
	e.publishProgress(ctx, rc, task, domain.StatusSucceeded, 100)

	return &domain.TaskResult{
		Content: out.Content,
		Quality: out.Snapshot,
		Metadata: map[string]string{
			"role": e.spec.ID,
		},
	}, nil
}

func (e *Executor) publishProgress(ctx context.Context, rc RunContext, task *domain.Task, status domain.AgentStatus, progress float64) {
	if rc.Bus == nil {
		return
	}
	_, _ = rc.Bus.Publish(ctx, rc.SessionID, domain.EventKindTaskUpdate, domain.TaskUpdatePayload{
		TaskID: task.ID, Status: status, Progress: progress,
	})
}

func (rc RunContext) logf(msg string, args ...any) {
	if rc.Log == nil {
		return
	}
	rc.Log.Warn(msg, args...)
}

// classifyGatewayError maps an llmgateway error to the Agent Runtime's own
// error taxonomy: circuit-open and deadline errors become transient/timeout
// conditions the Flow Orchestrator can retry; anything else is fatal.
func classifyGatewayError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &TransientError{Kind: "timeout", Err: err}
	case errors.Is(err, context.Canceled):
		return &TransientError{Kind: "cancelled", Err: err}
	case errors.Is(err, llmgateway.ErrCircuitOpen):
		return &TransientError{Kind: "llm_unavailable", Err: err}
	default:
		var te *llmgateway.TransientError
		if errors.As(err, &te) {
			return &TransientError{Kind: "llm_transient", Err: err}
		}
		return &FatalError{Reason: "llm_call_failed", Err: err}
	}
}

func reflectPrompt(roleName, content string) string {
	return fmt.Sprintf(`You are reviewing your own output as the %s role.

Output to review:
%s

Score it honestly against each rubric dimension.`, roleName, content)
}
