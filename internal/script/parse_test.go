package script

import (
	"errors"
	"testing"
)

const solarYAML = `
name: Solar qualifier
industry: solar
personality: Friendly, concise, never pushy.
states:
  GREETING:
    prompt: Hi, is this the homeowner?
    transitions:
      positive: QUALIFY
      negative: GOODBYE
  QUALIFY:
    prompt: What is your average monthly bill?
    transitions:
      qualified: GOODBYE
  GOODBYE:
    prompt: Thanks, have a great day.
`

func TestParse_PreservesDeclarationOrder(t *testing.T) {
	s, err := Parse([]byte(solarYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.Name != "Solar qualifier" || s.Industry != "solar" {
		t.Fatalf("unexpected header: %+v", s)
	}
	if len(s.States) != 3 {
		t.Fatalf("expected 3 states, got %d", len(s.States))
	}
	if s.StartState() != "GREETING" {
		t.Fatalf("expected GREETING first, got %q", s.StartState())
	}
	if s.States[0].Transitions["positive"] != "QUALIFY" {
		t.Fatalf("transitions not decoded: %+v", s.States[0])
	}
	if err := Validate(s); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

func TestParse_KeepsDuplicateKeysForValidation(t *testing.T) {
	doc := `
name: dup
states:
  A:
    prompt: one
  A:
    prompt: two
`
	s, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := Validate(s); !errors.Is(err, ErrDuplicateStateKey) {
		t.Fatalf("expected ErrDuplicateStateKey, got %v", err)
	}
}

func TestParse_AcceptsJSON(t *testing.T) {
	doc := `{"name":"json","start":"B","states":{"A":{"prompt":"a"},"B":{"prompt":"b","transitions":{"go":"A"}}}}`
	s, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.StartState() != "B" || len(s.States) != 2 {
		t.Fatalf("unexpected script: %+v", s)
	}
}

func TestParse_RejectsNonMappingStates(t *testing.T) {
	if _, err := Parse([]byte("name: x\nstates: [a, b]\n")); err == nil {
		t.Fatalf("expected error")
	}
}
