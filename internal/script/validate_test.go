package script

import (
	"errors"
	"testing"
)

func bookingScript() Script {
	return Script{
		Name: "appointment setter",
		States: []StateDef{
			{Key: "GREETING", State: State{Prompt: "Hi, this is Ava.", Transitions: map[string]string{"positive": "QUALIFY", "negative": "GOODBYE"}}},
			{Key: "QUALIFY", State: State{Prompt: "Do you own your home?", Transitions: map[string]string{"qualified": "BOOKING", "unqualified": "GOODBYE"}}},
			{Key: "BOOKING", State: State{Prompt: "When works for you?", Transitions: map[string]string{"consented": "CONFIRM", "declined": "OBJECTION_HANDLE"}}},
			{Key: "OBJECTION_HANDLE", State: State{Prompt: "I understand.", Transitions: map[string]string{"positive": "BOOKING", "negative": "GOODBYE"}}},
			{Key: "CONFIRM", State: State{Prompt: "You're booked."}},
			{Key: "GOODBYE", State: State{Prompt: "Thanks for your time."}},
		},
	}
}

func TestValidate_AcceptsWellFormedScript(t *testing.T) {
	if err := Validate(bookingScript()); err != nil {
		t.Fatalf("expected valid script, got %v", err)
	}
}

func TestValidate_RejectsDanglingTransition(t *testing.T) {
	s := bookingScript()
	s.States[1].Transitions["maybe"] = "NOWHERE"

	err := Validate(s)
	if !errors.Is(err, ErrUnknownTransitionTarget) {
		t.Fatalf("expected ErrUnknownTransitionTarget, got %v", err)
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError")
	}
	if len(ve.Problems) != 1 || ve.Problems[0].Target != "NOWHERE" || ve.Problems[0].State != "QUALIFY" {
		t.Fatalf("unexpected problems: %+v", ve.Problems)
	}
}

func TestValidate_RejectsEmptyScript(t *testing.T) {
	if err := Validate(Script{Name: "empty"}); !errors.Is(err, ErrNoStartState) {
		t.Fatalf("expected ErrNoStartState, got %v", err)
	}
}

func TestValidate_RejectsUnknownStartMarker(t *testing.T) {
	s := bookingScript()
	s.Start = "INTRO"
	if err := Validate(s); !errors.Is(err, ErrNoStartState) {
		t.Fatalf("expected ErrNoStartState, got %v", err)
	}
}

func TestValidate_RejectsDuplicateKeys(t *testing.T) {
	s := bookingScript()
	s.States = append(s.States, StateDef{Key: "GOODBYE", State: State{Prompt: "Bye again."}})
	if err := Validate(s); !errors.Is(err, ErrDuplicateStateKey) {
		t.Fatalf("expected ErrDuplicateStateKey, got %v", err)
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	s := Script{
		Start: "MISSING",
		States: []StateDef{
			{Key: "A", State: State{Transitions: map[string]string{"x": "Z"}}},
			{Key: "A"},
		},
	}
	err := Validate(s)
	for _, want := range []error{ErrNoStartState, ErrDuplicateStateKey, ErrUnknownTransitionTarget} {
		if !errors.Is(err, want) {
			t.Fatalf("expected %v in %v", want, err)
		}
	}
}

func TestStartState_DefaultsToFirstDeclared(t *testing.T) {
	s := bookingScript()
	if got := s.StartState(); got != "GREETING" {
		t.Fatalf("expected GREETING, got %q", got)
	}
	s.Start = "QUALIFY"
	if got := s.StartState(); got != "QUALIFY" {
		t.Fatalf("expected explicit start, got %q", got)
	}
}

func TestSnapshot_IsIsolatedFromSource(t *testing.T) {
	s := bookingScript()
	s.ID = "s1"
	snap, err := NewSnapshot(s)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	s.States[2].Transitions["declined"] = "GOODBYE"

	if next, _ := snap.Next("BOOKING", "declined"); next != "OBJECTION_HANDLE" {
		t.Fatalf("snapshot changed with source edit: %q", next)
	}
	st, _ := snap.State("BOOKING")
	st.Transitions["declined"] = "GOODBYE"
	if next, _ := snap.Next("BOOKING", "declined"); next != "OBJECTION_HANDLE" {
		t.Fatalf("snapshot changed through State copy: %q", next)
	}
	if !snap.IsTerminal("CONFIRM") || snap.IsTerminal("BOOKING") {
		t.Fatalf("unexpected terminal classification")
	}
}
