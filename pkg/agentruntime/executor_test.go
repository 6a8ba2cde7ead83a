package agentruntime

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/reqflow/reqflow/pkg/collab"
	"github.com/reqflow/reqflow/pkg/domain"
	"github.com/reqflow/reqflow/pkg/llmgateway"
	"github.com/reqflow/reqflow/pkg/masking"
	"github.com/reqflow/reqflow/pkg/roles"
)

type scriptedProvider struct {
	replies []string
	i       int
}

func (p *scriptedProvider) Name() string { return "scripted" }
func (p *scriptedProvider) Generate(ctx context.Context, req llmgateway.Request) (string, error) {
	if p.i >= len(p.replies) {
		return "", fmt.Errorf("scriptedProvider: no more replies (call %d)", p.i)
	}
	out := p.replies[p.i]
	p.i++
	return out, nil
}

func testSpec() *roles.RoleSpec {
	return &roles.RoleSpec{
		ID:   "writer",
		Name: "Writer",
		PromptTemplates: map[string]string{
			"": "Write something about {{.Task.Name}}.",
		},
		Threshold:     0.7,
		MaxIterations: 2,
	}
}

const thinkReply = `{"summary": "draft summary", "insights": ["a"], "next_actions": ["b"], "confidence": 0.8, "reasoning_chain": ["c"]}`
const highQualityReflect = `{"completeness": 0.9, "accuracy": 0.9, "professionalism": 0.9, "clarity": 0.9, "actionability": 0.9, "innovation": 0.9}`
const lowQualityReflect = `{"completeness": 0.2, "accuracy": 0.2, "professionalism": 0.2, "clarity": 0.2, "actionability": 0.2, "innovation": 0.2}`

func newTestTask() *domain.Task {
	return &domain.Task{ID: "task-1", SessionID: "session-1", Name: "document"}
}

func TestExecutorRunAcceptsFirstCycleAboveThreshold(t *testing.T) {
	provider := &scriptedProvider{replies: []string{thinkReply, highQualityReflect}}
	gw := llmgateway.New(provider, nil)
	state := collab.New()

	rc := RunContext{
		SessionID: "session-1",
		Mode:      domain.ModeStandard,
		Collab:    state,
		Gateway:   gw,
		Mask:      masking.NewService(nil),
	}

	exec := NewExecutor(testSpec())
	result, err := exec.Run(context.Background(), rc, newTestTask())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Content != "draft summary" {
		t.Fatalf("result.Content = %q", result.Content)
	}
	if !result.Quality.GatePassed {
		t.Fatalf("want GatePassed true, got quality = %+v", result.Quality)
	}
	if state.Revision() != 1 {
		t.Fatalf("Collab.Revision() = %d, want 1 (exactly one commit)", state.Revision())
	}
}

func TestExecutorRunRetriesOnLowQualityThenCommitsBestAttempt(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		thinkReply, lowQualityReflect, // cycle 1: fails gate
		thinkReply, lowQualityReflect, // cycle 2: fails gate again, still committed
	}}
	gw := llmgateway.New(provider, nil)
	state := collab.New()

	rc := RunContext{
		SessionID: "session-1",
		Mode:      domain.ModeStandard,
		Collab:    state,
		Gateway:   gw,
		Mask:      masking.NewService(nil),
	}

	exec := NewExecutor(testSpec())
	result, err := exec.Run(context.Background(), rc, newTestTask())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Quality.GatePassed {
		t.Fatalf("want GatePassed false after exhausting retries below threshold")
	}
	if state.Revision() != 1 {
		t.Fatalf("Collab.Revision() = %d, want 1 (best attempt still committed once)", state.Revision())
	}
}

func TestExecutorThinkParseFailureIsTransient(t *testing.T) {
	provider := &scriptedProvider{replies: []string{"not json", "still not json"}}
	gw := llmgateway.New(provider, nil)
	state := collab.New()

	rc := RunContext{
		SessionID: "session-1",
		Mode:      domain.ModeStandard,
		Collab:    state,
		Gateway:   gw,
		Mask:      masking.NewService(nil),
	}

	exec := NewExecutor(testSpec())
	_, err := exec.Run(context.Background(), rc, newTestTask())
	if err == nil {
		t.Fatalf("Run() want error on unparseable Think reply")
	}
	var te *TransientError
	if !errors.As(err, &te) {
		t.Fatalf("Run() error = %v, want *TransientError", err)
	}
	if te.Kind != "think_parse" {
		t.Fatalf("TransientError.Kind = %q, want think_parse", te.Kind)
	}
}
