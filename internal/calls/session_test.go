package calls

import (
	"errors"
	"testing"
	"time"

	"campaign-dialer/internal/disposition"
	"campaign-dialer/internal/pricing"
	"campaign-dialer/internal/script"
)

var t0 = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func bookingSnapshot(t testing.TB) script.Snapshot {
	t.Helper()
	snap, err := script.NewSnapshot(script.Script{
		ID:      "script-1",
		Name:    "booking",
		Version: 2,
		States: []script.StateDef{
			{Key: "GREETING", State: script.State{Prompt: "Hi", Transitions: map[string]string{"positive": "BOOKING", "negative": "GOODBYE"}}},
			{Key: "BOOKING", State: script.State{Prompt: "When?", Transitions: map[string]string{"declined": "OBJECTION_HANDLE", "consented": "CONFIRM"}}},
			{Key: "OBJECTION_HANDLE", State: script.State{Prompt: "I hear you", Transitions: map[string]string{"positive": "BOOKING", "negative": "GOODBYE"}}},
			{Key: "CONFIRM", State: script.State{Prompt: "Booked"}},
			{Key: "GOODBYE", State: script.State{Prompt: "Bye"}},
		},
	})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return snap
}

func turn(id string, at time.Duration, label string) Event {
	return Event{ID: id, Kind: EventTurn, Speaker: SpeakerLead, Label: label, At: t0.Add(at)}
}

func newTestSession(t *testing.T) *Session {
	snap := bookingSnapshot(t)
	return NewSession(Call{ID: "call-1", LeadID: "lead-1", Status: StatusInProgress}, snap)
}

func mustApply(t *testing.T, s *Session, ev Event) Step {
	t.Helper()
	_, step, applied, err := s.Apply(ev)
	if err != nil {
		t.Fatalf("apply %s: %v", ev.ID, err)
	}
	if !applied {
		t.Fatalf("apply %s: not applied", ev.ID)
	}
	return step
}

func TestSession_DeclinedMovesToObjectionHandle(t *testing.T) {
	s := newTestSession(t)
	mustApply(t, s, Event{ID: "e0", Kind: EventAnswered, At: t0})
	mustApply(t, s, turn("e1", time.Second, "positive"))
	if got := s.State().ScriptState; got != "BOOKING" {
		t.Fatalf("expected BOOKING, got %s", got)
	}

	step := mustApply(t, s, turn("e2", 2*time.Second, "declined"))
	if step.Kind != StepTransition || step.To != "OBJECTION_HANDLE" {
		t.Fatalf("unexpected step: %+v", step)
	}
	if got := s.State().ScriptState; got != "OBJECTION_HANDLE" {
		t.Fatalf("expected OBJECTION_HANDLE, got %s", got)
	}
}

func TestSession_UnknownLabelStaysInPlace(t *testing.T) {
	s := newTestSession(t)
	mustApply(t, s, turn("e1", time.Second, "positive"))

	step := mustApply(t, s, turn("e2", 2*time.Second, "unknown_label"))
	if step.Kind != StepMiss || step.From != "BOOKING" || step.To != "BOOKING" {
		t.Fatalf("expected classification miss, got %+v", step)
	}
	st := s.State()
	if st.ScriptState != "BOOKING" || st.Misses != 1 {
		t.Fatalf("unexpected state after miss: %+v", st)
	}
}

func TestSession_TurnBeforeAnsweredImpliesConnected(t *testing.T) {
	s := newTestSession(t)
	mustApply(t, s, Event{ID: "d", Kind: EventDialing, At: t0})
	mustApply(t, s, turn("e1", 3*time.Second, ""))
	st := s.State()
	if st.Phase != PhaseInScript || !st.AnsweredAt.Equal(t0.Add(3*time.Second)) {
		t.Fatalf("unexpected state: %+v", st)
	}
}

func TestSession_TerminalStateMovesToWrapUp(t *testing.T) {
	s := newTestSession(t)
	mustApply(t, s, turn("e1", time.Second, "positive"))
	step := mustApply(t, s, turn("e2", 2*time.Second, "consented"))
	if !step.Terminal || s.State().Phase != PhaseWrapUp {
		t.Fatalf("expected wrap up, got step=%+v state=%+v", step, s.State())
	}
	// Labels after the script ended are not misses.
	step = mustApply(t, s, turn("e3", 3*time.Second, "positive"))
	if step.Kind != StepNone || s.State().Misses != 0 {
		t.Fatalf("unexpected step after wrap up: %+v", step)
	}
}

func TestSession_DuplicateAndLateEvents(t *testing.T) {
	s := newTestSession(t)
	mustApply(t, s, turn("e2", 2*time.Second, "declined"))
	if _, _, applied, err := s.Apply(turn("e2", 2*time.Second, "declined")); err != nil || applied {
		t.Fatalf("duplicate must be ignored: applied=%v err=%v", applied, err)
	}
	// e1 was sent first but arrives late; replay puts it before e2.
	stamped, step, applied, err := s.Apply(turn("e1", time.Second, "positive"))
	if err != nil || !applied {
		t.Fatalf("late event: %v", err)
	}
	if stamped.ScriptState != "GREETING" || step.To != "BOOKING" {
		t.Fatalf("unexpected late step: %+v %+v", stamped, step)
	}
	if got := s.State().ScriptState; got != "OBJECTION_HANDLE" {
		t.Fatalf("expected OBJECTION_HANDLE after reorder, got %s", got)
	}
}

func TestSession_LateEventLeavesStoredEventsUntouched(t *testing.T) {
	s := newTestSession(t)
	mustApply(t, s, turn("e2", 2*time.Second, "negative"))
	before := s.Events()
	if len(before) != 1 || before[0].ScriptState != "GREETING" {
		t.Fatalf("unexpected log: %+v", before)
	}

	stamped, _, applied, err := s.Apply(turn("e1", time.Second, "positive"))
	if err != nil || !applied {
		t.Fatalf("late event: applied=%v err=%v", applied, err)
	}
	if stamped.ScriptState != "GREETING" {
		t.Fatalf("late event stamped with %s", stamped.ScriptState)
	}
	after := s.Events()
	if len(after) != 2 || after[0].ID != "e1" || after[1].ID != "e2" {
		t.Fatalf("unexpected order: %+v", after)
	}
	if after[1] != before[0] {
		t.Fatalf("stored event rewritten:\n got %+v\nwant %+v", after[1], before[0])
	}
}

func TestSession_TerminalStartStateWrapsUpOnAnswer(t *testing.T) {
	snap, err := script.NewSnapshot(script.Script{
		ID:      "script-2",
		Name:    "notice",
		Version: 1,
		States:  []script.StateDef{{Key: "NOTICE", State: script.State{Prompt: "This is a reminder."}}},
	})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	s := NewSession(Call{ID: "call-2", LeadID: "lead-2", Status: StatusInProgress}, snap)
	step := mustApply(t, s, Event{ID: "e0", Kind: EventAnswered, At: t0})
	if !step.Terminal || s.State().Phase != PhaseWrapUp {
		t.Fatalf("expected wrap up on answer, got step=%+v state=%+v", step, s.State())
	}

	// Speech without an answered event reaches the same place.
	s = NewSession(Call{ID: "call-3", LeadID: "lead-3", Status: StatusInProgress}, snap)
	step = mustApply(t, s, turn("e1", time.Second, "positive"))
	if step.Kind != StepNone || s.State().Phase != PhaseWrapUp || s.State().Misses != 0 {
		t.Fatalf("expected wrap up without a miss, got step=%+v state=%+v", step, s.State())
	}
}

func TestSession_RejectsMalformedEvents(t *testing.T) {
	s := newTestSession(t)
	bad := []Event{
		{Kind: EventTurn, At: t0},
		{ID: "x", Kind: "hangup", At: t0},
		{ID: "y", Kind: EventTurn},
		{ID: "z", Kind: EventCost, At: t0, Cost: pricing.Cost{TelephonyMicros: 10, TotalMicros: 5}},
	}
	for _, ev := range bad {
		if _, _, _, err := s.Apply(ev); !errors.Is(err, ErrInvalidEvent) {
			t.Fatalf("expected ErrInvalidEvent for %+v, got %v", ev, err)
		}
	}
}

func TestSession_FinalizeCostMustAddUp(t *testing.T) {
	s := newTestSession(t)
	mustApply(t, s, Event{ID: "a", Kind: EventAnswered, At: t0})

	bad := pricing.Cost{TelephonyMicros: 120_000, STTMicros: 30_000, LLMMicros: 80_000, TTSMicros: 20_000, TotalMicros: 300_000}
	_, err := s.Finalize(TerminalReport{Status: StatusCompleted, Disposition: disposition.Interested, Cost: &bad}, t0.Add(time.Minute))
	if !errors.Is(err, ErrCostMismatch) {
		t.Fatalf("expected ErrCostMismatch, got %v", err)
	}
	if s.Finalized() {
		t.Fatalf("rejected finalization must not end the session")
	}

	good := pricing.NewCost(120_000, 30_000, 20_000, 80_000)
	c, err := s.Finalize(TerminalReport{Status: StatusCompleted, Disposition: disposition.Interested, Cost: &good}, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if c.Cost.TotalMicros != 250_000 || c.DurationSeconds != 60 || c.EndedAt == nil || c.Phase != PhaseEnded {
		t.Fatalf("unexpected final call: %+v", c)
	}

	if _, err := s.Finalize(TerminalReport{Status: StatusCompleted, Disposition: disposition.Interested}, t0.Add(2*time.Minute)); !errors.Is(err, ErrFinalizationConflict) {
		t.Fatalf("expected ErrFinalizationConflict, got %v", err)
	}
	if _, _, _, err := s.Apply(turn("late", 3*time.Minute, "positive")); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}

func TestSession_FinalizeDispositionRules(t *testing.T) {
	cases := []struct {
		name string
		r    TerminalReport
		want disposition.Disposition
		err  error
	}{
		{"completed without disposition", TerminalReport{Status: StatusCompleted}, "", ErrMissingDisposition},
		{"voicemail defaults", TerminalReport{Status: StatusVoicemail}, disposition.Voicemail, nil},
		{"no answer defaults", TerminalReport{Status: StatusNoAnswer}, disposition.NoContact, nil},
		{"busy keeps explicit", TerminalReport{Status: StatusBusy, Disposition: disposition.Callback}, disposition.Callback, nil},
		{"in progress is not terminal", TerminalReport{Status: StatusInProgress}, "", ErrInvalidArgument},
		{"unknown disposition", TerminalReport{Status: StatusCompleted, Disposition: "maybe"}, "", ErrInvalidArgument},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := newTestSession(t)
			got, err := s.Finalize(c.r, t0)
			if c.err != nil {
				if !errors.Is(err, c.err) {
					t.Fatalf("expected %v, got %v", c.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("finalize: %v", err)
			}
			if got.Disposition != c.want {
				t.Fatalf("expected %s, got %s", c.want, got.Disposition)
			}
		})
	}
}

func TestSession_AccumulatesCostWhenReportHasNone(t *testing.T) {
	s := newTestSession(t)
	mustApply(t, s, Event{ID: "c1", Kind: EventCost, At: t0, Cost: pricing.NewCost(50_000, 0, 0, 0)})
	mustApply(t, s, Event{ID: "c2", Kind: EventCost, At: t0.Add(time.Second), Cost: pricing.NewCost(0, 10_000, 5_000, 20_000)})
	c, err := s.Finalize(TerminalReport{Status: StatusFailed}, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if c.Cost != pricing.NewCost(50_000, 10_000, 5_000, 20_000) {
		t.Fatalf("unexpected cost: %+v", c.Cost)
	}
	if c.DurationSeconds != 0 {
		t.Fatalf("unanswered call must have zero duration, got %d", c.DurationSeconds)
	}
}
