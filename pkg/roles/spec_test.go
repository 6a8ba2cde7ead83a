package roles

import "testing"

func TestNewRegistryBuiltins(t *testing.T) {
	reg, err := NewRegistry(Builtins()...)
	if err != nil {
		t.Fatalf("NewRegistry(Builtins()): %v", err)
	}
	if reg.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", reg.Len())
	}
	for _, id := range []string{"clarifier", "analyst", "writer", "reviewer"} {
		if _, ok := reg.Get(id); !ok {
			t.Errorf("Get(%q) missing", id)
		}
	}
	if _, ok := reg.Get("nonexistent"); ok {
		t.Errorf("Get(nonexistent) = ok, want missing")
	}
}

func TestNewRegistryRejectsDuplicateID(t *testing.T) {
	a := &RoleSpec{ID: "dup", PromptTemplates: map[string]string{"": "x"}}
	b := &RoleSpec{ID: "dup", PromptTemplates: map[string]string{"": "y"}}
	if _, err := NewRegistry(a, b); err == nil {
		t.Fatalf("NewRegistry with duplicate ids: want error, got nil")
	}
}

func TestNewRegistryRejectsMissingRootTemplate(t *testing.T) {
	s := &RoleSpec{ID: "broken"}
	if _, err := NewRegistry(s); err == nil {
		t.Fatalf("NewRegistry with no root template and no sub-steps: want error, got nil")
	}
}

func TestAnalystHasFourSubSteps(t *testing.T) {
	s := analystSpec()
	if len(s.SubSteps) != 4 {
		t.Fatalf("analyst SubSteps = %v, want 4 entries", s.SubSteps)
	}
	for _, step := range s.SubSteps {
		if _, ok := s.PromptTemplates[step]; !ok {
			t.Errorf("analyst missing prompt template for sub-step %q", step)
		}
	}
}
