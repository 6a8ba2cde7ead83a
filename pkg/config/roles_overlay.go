package config

import (
	"fmt"

	"github.com/reqflow/reqflow/pkg/roles"
)

// roleOverlayYAML is one role entry under the roles: section. Against a
// built-in id it overrides only the fields present; as a new id it defines
// a wholly new role.
type roleOverlayYAML struct {
	Name            string             `yaml:"name,omitempty"`
	Description     string             `yaml:"description,omitempty"`
	SubSteps        []string           `yaml:"sub_steps,omitempty"`
	PromptTemplates map[string]string  `yaml:"prompt_templates,omitempty"`
	QualityWeights  map[string]float64 `yaml:"quality_weights,omitempty"`
	Threshold       *float64           `yaml:"threshold,omitempty"`
	MaxIterations   *int               `yaml:"max_iterations,omitempty"`
}

// mergeRoleOverlays layers a project's roles: overlay on top of the
// built-in role set: a known id is patched field-by-field (only fields the
// overlay actually sets are touched), an unknown id becomes a new role
// alongside the built-ins.
func mergeRoleOverlays(builtins []*roles.RoleSpec, overlay map[string]roleOverlayYAML) ([]*roles.RoleSpec, error) {
	byID := make(map[string]*roles.RoleSpec, len(builtins))
	order := make([]string, 0, len(builtins))
	for _, s := range builtins {
		cp := *s
		byID[s.ID] = &cp
		order = append(order, s.ID)
	}

	for id, o := range overlay {
		existing, known := byID[id]
		if !known {
			spec, err := newRoleFromOverlay(id, o)
			if err != nil {
				return nil, err
			}
			byID[id] = spec
			order = append(order, id)
			continue
		}
		applyRoleOverlay(existing, o)
	}

	out := make([]*roles.RoleSpec, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out, nil
}

func applyRoleOverlay(spec *roles.RoleSpec, o roleOverlayYAML) {
	if o.Name != "" {
		spec.Name = o.Name
	}
	if o.Description != "" {
		spec.Description = o.Description
	}
	if len(o.SubSteps) > 0 {
		spec.SubSteps = o.SubSteps
	}
	for step, tmpl := range o.PromptTemplates {
		if spec.PromptTemplates == nil {
			spec.PromptTemplates = map[string]string{}
		}
		spec.PromptTemplates[step] = tmpl
	}
	for dim, weight := range o.QualityWeights {
		if spec.QualityWeights == nil {
			spec.QualityWeights = roles.QualityWeights{}
		}
		spec.QualityWeights[dim] = weight
	}
	if o.Threshold != nil {
		spec.Threshold = *o.Threshold
	}
	if o.MaxIterations != nil {
		spec.MaxIterations = *o.MaxIterations
	}
}

func newRoleFromOverlay(id string, o roleOverlayYAML) (*roles.RoleSpec, error) {
	if len(o.PromptTemplates) == 0 {
		return nil, fmt.Errorf("config: role %q: a new role needs at least one prompt_templates entry", id)
	}
	name := o.Name
	if name == "" {
		name = id
	}
	threshold := o.Threshold
	maxIterations := 1
	if o.MaxIterations != nil {
		maxIterations = *o.MaxIterations
	}
	spec := &roles.RoleSpec{
		ID:              id,
		Name:            name,
		Description:     o.Description,
		SubSteps:        o.SubSteps,
		PromptTemplates: o.PromptTemplates,
		QualityWeights:  roles.QualityWeights(o.QualityWeights),
		MaxIterations:   maxIterations,
	}
	if threshold != nil {
		spec.Threshold = *threshold
	}
	return spec, nil
}
