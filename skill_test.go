package aster

import "testing"

func testSkills(t *testing.T) *SkillRegistry {
	t.Helper()
	reg := NewSkillRegistry()
	skills := []Skill{
		{Name: "review", Description: "Review code for defects", Instructions: "Check error handling first."},
		{Name: "refactor", Description: "Restructure code safely", Instructions: "Preserve behavior."},
		{Name: "hidden", Description: "Internal only", Instructions: "secret", DisableModelInvocation: true},
	}
	for _, s := range skills {
		if err := reg.Register(s); err != nil {
			t.Fatal(err)
		}
	}
	return reg
}

func TestSkillRegisterDuplicate(t *testing.T) {
	reg := testSkills(t)
	if err := reg.Register(Skill{Name: "review"}); err == nil {
		t.Fatal("duplicate registration must fail")
	}
}

func TestSkillComposePhases(t *testing.T) {
	reg := testSkills(t)
	base := "You are a helper."

	prompt := reg.Compose(base)
	want := base + "\n\n" +
		"Available Skills:\n" +
		"- review: Review code for defects\n" +
		"- refactor: Restructure code safely"
	if prompt != want {
		t.Errorf("phase-1 prompt mismatch:\n got: %q\nwant: %q", prompt, want)
	}

	if err := reg.Activate("review"); err != nil {
		t.Fatal(err)
	}
	prompt = reg.Compose(base)
	want += "\n\n## Skill: review\n\nCheck error handling first."
	if prompt != want {
		t.Errorf("phase-2 prompt mismatch:\n got: %q\nwant: %q", prompt, want)
	}
}

func TestSkillComposeDeterministic(t *testing.T) {
	reg := testSkills(t)
	if err := reg.Activate("refactor"); err != nil {
		t.Fatal(err)
	}
	if err := reg.Activate("review"); err != nil {
		t.Fatal(err)
	}
	first := reg.Compose("base")
	for range 10 {
		if got := reg.Compose("base"); got != first {
			t.Fatalf("compose is not deterministic:\n got: %q\nwant: %q", got, first)
		}
	}
}

func TestSkillActivateUnknown(t *testing.T) {
	reg := testSkills(t)
	if err := reg.Activate("nope"); err == nil {
		t.Fatal("activating an unknown skill must fail")
	}
	// Deactivating an unknown skill is a no-op.
	reg.Deactivate("nope")
}

func TestSkillActivateDeactivateRestoresPrompt(t *testing.T) {
	reg := testSkills(t)
	before := reg.Compose("base")
	if err := reg.Activate("review"); err != nil {
		t.Fatal(err)
	}
	reg.Deactivate("review")
	if after := reg.Compose("base"); after != before {
		t.Errorf("activate+deactivate changed the prompt:\n got: %q\nwant: %q", after, before)
	}
}

func TestSkillComposeEmptyRegistry(t *testing.T) {
	reg := NewSkillRegistry()
	if got := reg.Compose("base"); got != "base" {
		t.Errorf("empty registry must return the base prompt, got %q", got)
	}
}
