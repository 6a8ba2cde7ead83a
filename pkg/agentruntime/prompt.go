package agentruntime

import (
	"bytes"
	"fmt"
	"sort"
	"text/template"

	"github.com/reqflow/reqflow/pkg/domain"
)

// thinkOutputInstruction is appended to every Think prompt so the model's
// reply can be parsed mechanically instead of free-formed.
const thinkOutputInstruction = `
Respond with exactly one JSON object on its own line, no surrounding prose,
with this shape:
{"summary": "...", "insights": ["..."], "next_actions": ["..."], "confidence": 0.0, "reasoning_chain": ["..."]}`

// reflectOutputInstruction is appended to every Reflect prompt.
const reflectOutputInstruction = `
Respond with exactly one JSON object on its own line, no surrounding prose,
scoring each dimension in [0,1]:
{"completeness": 0.0, "accuracy": 0.0, "professionalism": 0.0, "clarity": 0.0, "actionability": 0.0, "innovation": 0.0}`

// renderPrompt fills a RoleSpec's named prompt template with the step
// input. Templates are plain text/template, not html/template: LLM prompts
// aren't rendered as HTML and the auto-escaping would corrupt code/JSON
// fragments pasted into the requirement text.
func renderPrompt(tmpl string, in StepInput) (string, error) {
	t, err := template.New("prompt").Funcs(template.FuncMap{
		"collabContext": collabContext,
	}).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("agentruntime: parsing prompt template: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, newPromptVars(in)); err != nil {
		return "", fmt.Errorf("agentruntime: rendering prompt template: %w", err)
	}
	return buf.String(), nil
}

// promptVars is the data a prompt template sees.
type promptVars struct {
	Task       *domain.Task
	Step       string
	Collab     map[string]string
	Snippets   []string
	Iteration  int
	LastOutput string
}

func newPromptVars(in StepInput) promptVars {
	return promptVars{
		Task:       in.Task,
		Step:       in.Step,
		Collab:     in.Collab,
		Snippets:   in.Snippets,
		Iteration:  in.Iteration,
		LastOutput: in.LastOutput,
	}
}

// collabContext renders a snapshot's shared data as stable, sorted
// "key: value" lines, so the same snapshot always produces byte-identical
// prompt text (LLM response caching upstream, and deterministic test
// fixtures, both depend on that).
func collabContext(data map[string]string) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s: %s\n", k, data[k])
	}
	return buf.String()
}
