package roles

// Builtins returns the four roles every deployment ships with: Clarifier,
// Analyst, Writer, and Reviewer. A project's YAML config may add further
// roles alongside these, but cannot override their ids.
func Builtins() []*RoleSpec {
	return []*RoleSpec{clarifierSpec(), analystSpec(), writerSpec(), reviewerSpec()}
}

func clarifierSpec() *RoleSpec {
	return &RoleSpec{
		ID:          "clarifier",
		Name:        "Clarifier",
		Description: "Drives the clarification dialogue: scores the request against the quality dimensions and proposes the next round of questions.",
		PromptTemplates: map[string]string{
			"": clarifierPrompt,
		},
		QualityWeights: QualityWeights{
			"completeness":  0.5,
			"actionability": 0.5,
		},
		Threshold:     0.6,
		MaxIterations: 3,
	}
}

func analystSpec() *RoleSpec {
	return &RoleSpec{
		ID:          "analyst",
		Name:        "Analyst",
		Description: "Breaks a clarified request into business process, business rules, value, and risk analysis.",
		SubSteps:    []string{"business_process", "business_rules", "value", "risk"},
		PromptTemplates: map[string]string{
			"business_process": analystBusinessProcessPrompt,
			"business_rules":   analystBusinessRulesPrompt,
			"value":            analystValuePrompt,
			"risk":             analystRiskPrompt,
		},
		QualityWeights: QualityWeights{
			"completeness": 0.5,
			"accuracy":     0.5,
		},
		Threshold:     0.65,
		MaxIterations: 4,
	}
}

func writerSpec() *RoleSpec {
	return &RoleSpec{
		ID:          "writer",
		Name:        "Writer",
		Description: "Produces the final requirements document from the analysis artifacts and clarification history.",
		PromptTemplates: map[string]string{
			"": writerPrompt,
		},
		QualityWeights: QualityWeights{
			"clarity":      0.5,
			"completeness": 0.5,
		},
		Threshold:     0.7,
		MaxIterations: 3,
	}
}

func reviewerSpec() *RoleSpec {
	return &RoleSpec{
		ID:          "reviewer",
		Name:        "Reviewer",
		Description: "Reviews the written document for internal consistency and unresolved ambiguity before the session is marked done.",
		PromptTemplates: map[string]string{
			"": reviewerPrompt,
		},
		QualityWeights: QualityWeights{
			"accuracy":        0.7,
			"professionalism": 0.3,
		},
		Threshold:     0.7,
		MaxIterations: 2,
	}
}

const clarifierPrompt = `You are the clarification agent for a requirements-engineering assistant.
Given the user's request and prior clarification rounds, score the request
against each quality dimension and, where the score is low, propose
concrete, specific questions. Prefer fewer, sharper questions over many
shallow ones.`

const analystBusinessProcessPrompt = `Identify the business process(es) the
request touches: actors, triggers, and the sequence of steps from trigger
to outcome.`

const analystBusinessRulesPrompt = `Extract the business rules implied or
stated by the request: constraints on data, sequencing, or authorization
that must hold regardless of implementation.`

const analystValuePrompt = `Articulate the value this request delivers: who
benefits, and what observable outcome changes.`

const analystRiskPrompt = `Identify risks: ambiguity that could cause rework,
edge cases the request does not address, and dependencies on systems
outside the stated scope.`

const writerPrompt = `Using the clarified request and the analyst's
business-process, business-rules, value, and risk artifacts, produce a
complete requirements document with numbered, traceable requirements and
explicit acceptance criteria.`

const reviewerPrompt = `Review the drafted requirements document for internal
consistency, unresolved ambiguity, and requirements that lack acceptance
criteria. Report specific line-level issues, not general impressions.`
