package calls

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"campaign-dialer/internal/disposition"
	"campaign-dialer/internal/pricing"
	"campaign-dialer/internal/script"
)

var (
	ErrNotFound             = errors.New("calls: not found")
	ErrInvalidArgument      = errors.New("calls: invalid argument")
	ErrInvalidEvent         = errors.New("calls: invalid event")
	ErrSessionClosed        = errors.New("calls: session already ended")
	ErrFinalizationConflict = errors.New("calls: call already finalized")
	ErrCostMismatch         = errors.New("calls: inconsistent cost")
	ErrMissingDisposition   = errors.New("calls: completed call requires a disposition")
)

// State is the fold of a session's event log.
type State struct {
	Phase       Phase        `json:"phase"`
	ScriptState string       `json:"script_state"`
	Turns       int          `json:"turns"`
	Misses      int          `json:"classification_misses"`
	Cost        pricing.Cost `json:"cost"`
	AnsweredAt  time.Time    `json:"answered_at,omitempty"`
	LastEventAt time.Time    `json:"last_event_at,omitempty"`
}

func Initial(snap script.Snapshot) State {
	return State{Phase: PhasePending, ScriptState: snap.Start()}
}

type StepKind string

const (
	StepNone       StepKind = "none"
	StepPhase      StepKind = "phase"
	StepTransition StepKind = "transition"
	// StepMiss is a ClassificationMiss: the label has no transition from the
	// current state, so the session stays where it is.
	StepMiss StepKind = "classification_miss"
)

// Step describes what one event did to the session.
type Step struct {
	Kind  StepKind `json:"kind"`
	From  string   `json:"from,omitempty"`
	To    string   `json:"to,omitempty"`
	Label string   `json:"label,omitempty"`
	// Terminal is set when a transition lands on a state with no outgoing transitions.
	Terminal bool `json:"terminal,omitempty"`
}

// Advance applies one event to st. It is pure: the same state, snapshot and
// event always give the same result.
func Advance(st State, snap script.Snapshot, ev Event) (State, Step) {
	if st.Phase == PhaseEnded {
		return st, Step{Kind: StepNone}
	}
	if ev.At.After(st.LastEventAt) {
		st.LastEventAt = ev.At
	}
	st.Cost = st.Cost.Add(ev.Cost)

	switch ev.Kind {
	case EventDialing:
		if st.Phase == PhasePending {
			st.Phase = PhaseDialing
			return st, Step{Kind: StepPhase, From: string(PhasePending), To: string(PhaseDialing)}
		}
	case EventAnswered:
		if st.Phase == PhasePending || st.Phase == PhaseDialing {
			from := st.Phase
			st.Phase = PhaseConnected
			st.AnsweredAt = ev.At
			// A start state with no transitions has nothing left to say.
			if snap.IsTerminal(st.ScriptState) {
				st.Phase = PhaseWrapUp
				return st, Step{Kind: StepPhase, From: string(from), To: string(PhaseWrapUp), Terminal: true}
			}
			return st, Step{Kind: StepPhase, From: string(from), To: string(PhaseConnected)}
		}
	case EventTurn:
		st.Turns++
		// A turn proves the line is up even if the answered event was lost.
		if st.Phase == PhasePending || st.Phase == PhaseDialing {
			st.Phase = PhaseConnected
			if st.AnsweredAt.IsZero() {
				st.AnsweredAt = ev.At
			}
		}
		if st.Phase == PhaseConnected {
			st.Phase = PhaseInScript
			if snap.IsTerminal(st.ScriptState) {
				st.Phase = PhaseWrapUp
			}
		}
		if ev.Label == "" || st.Phase == PhaseWrapUp {
			return st, Step{Kind: StepNone}
		}
		next, ok := snap.Next(st.ScriptState, ev.Label)
		if !ok {
			st.Misses++
			return st, Step{Kind: StepMiss, From: st.ScriptState, To: st.ScriptState, Label: ev.Label}
		}
		step := Step{Kind: StepTransition, From: st.ScriptState, To: next, Label: ev.Label}
		st.ScriptState = next
		if snap.IsTerminal(next) {
			st.Phase = PhaseWrapUp
			step.Terminal = true
		}
		return st, step
	}
	return st, Step{Kind: StepNone}
}

// eventLess is the canonical log order: timestamp, then id.
func eventLess(a, b Event) bool {
	if !a.At.Equal(b.At) {
		return a.At.Before(b.At)
	}
	return a.ID < b.ID
}

// Replay folds events from scratch in canonical order, ignoring duplicate ids.
// The result does not depend on the order events were delivered in.
func Replay(snap script.Snapshot, events []Event) State {
	st, _ := replay(snap, canonical(events))
	return st
}

func canonical(events []Event) []Event {
	seen := make(map[string]struct{}, len(events))
	out := make([]Event, 0, len(events))
	for _, ev := range events {
		if _, dup := seen[ev.ID]; dup {
			continue
		}
		seen[ev.ID] = struct{}{}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool { return eventLess(out[i], out[j]) })
	return out
}

// replay folds an already canonical log and returns the step of every event.
// The log itself is left as stored.
func replay(snap script.Snapshot, log []Event) (State, []Step) {
	st := Initial(snap)
	steps := make([]Step, len(log))
	for i := range log {
		st, steps[i] = Advance(st, snap, log[i])
	}
	return st, steps
}

// Session is the live state machine of one call. Callers serialize access with Lock/Unlock;
// the Manager holds the lock for the whole of an event delivery.
type Session struct {
	sync.Mutex

	call      Call
	snap      script.Snapshot
	seen      map[string]struct{}
	log       []Event
	state     State
	finalized bool
}

func NewSession(c Call, snap script.Snapshot) *Session {
	s := &Session{
		call:  c,
		snap:  snap,
		seen:  map[string]struct{}{},
		state: Initial(snap),
	}
	return s
}

// RestoreSession rebuilds a session from a persisted log.
func RestoreSession(c Call, snap script.Snapshot, events []Event) *Session {
	s := NewSession(c, snap)
	s.log = canonical(events)
	for _, ev := range s.log {
		s.seen[ev.ID] = struct{}{}
	}
	s.state, _ = replay(snap, s.log)
	return s
}

func (s *Session) ID() string                 { return s.call.ID }
func (s *Session) Snapshot() script.Snapshot { return s.snap }
func (s *Session) State() State               { return s.state }
func (s *Session) Finalized() bool            { return s.finalized }

// Call returns the call record with the session state folded in.
func (s *Session) Call() Call {
	c := s.call
	c.Phase = s.state.Phase
	c.ScriptState = s.state.ScriptState
	c.ClassificationMisses = s.state.Misses
	if !s.finalized {
		c.Cost = s.state.Cost
	}
	return c
}

func (s *Session) Events() []Event {
	out := make([]Event, len(s.log))
	copy(out, s.log)
	return out
}

func (s *Session) setExecutorSessionID(id string) { s.call.ExecutorSessionID = id }

func validateEvent(ev Event) error {
	switch {
	case ev.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	case !ev.Kind.Valid():
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, ev.Kind)
	case ev.At.IsZero():
		return fmt.Errorf("%w: missing timestamp", ErrInvalidEvent)
	}
	if err := ev.Cost.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return nil
}

// Apply adds ev to the log. Duplicates (same id) are ignored and reported with
// applied=false. An event older than the log tail is inserted in order and the
// state is replayed, so late delivery never changes the outcome.
func (s *Session) Apply(ev Event) (stamped Event, step Step, applied bool, err error) {
	if s.finalized {
		return ev, Step{}, false, ErrSessionClosed
	}
	if err := validateEvent(ev); err != nil {
		return ev, Step{}, false, err
	}
	if _, dup := s.seen[ev.ID]; dup {
		return ev, Step{Kind: StepNone}, false, nil
	}
	s.seen[ev.ID] = struct{}{}

	n := len(s.log)
	if n == 0 || !eventLess(ev, s.log[n-1]) {
		ev.ScriptState = s.state.ScriptState
		s.state, step = Advance(s.state, s.snap, ev)
		s.log = append(s.log, ev)
		return ev, step, true, nil
	}

	i := sort.Search(n, func(i int) bool { return eventLess(ev, s.log[i]) })
	before, _ := replay(s.snap, s.log[:i])
	ev.ScriptState = before.ScriptState
	s.log = append(s.log, Event{})
	copy(s.log[i+1:], s.log[i:])
	s.log[i] = ev
	var steps []Step
	s.state, steps = replay(s.snap, s.log)
	return s.log[i], steps[i], true, nil
}

// Forget removes an event that could not be persisted and replays the rest.
func (s *Session) Forget(id string) {
	if _, ok := s.seen[id]; !ok {
		return
	}
	delete(s.seen, id)
	for i, ev := range s.log {
		if ev.ID == id {
			s.log = append(s.log[:i], s.log[i+1:]...)
			break
		}
	}
	s.state, _ = replay(s.snap, s.log)
}

// TerminalReport is the executor's end-of-call summary.
type TerminalReport struct {
	Status      Status                  `json:"status"`
	Disposition disposition.Disposition `json:"disposition,omitempty"`
	Sentiment   Sentiment               `json:"sentiment,omitempty"`
	// Cost, when present, replaces the accumulated cost and must be internally consistent.
	Cost            *pricing.Cost `json:"cost,omitempty"`
	DurationSeconds int           `json:"duration,omitempty"`
	EndedAt         time.Time     `json:"ended_at,omitempty"`
}

// PrepareFinal computes the finalized call without changing the session, so a
// failed write can be retried.
func (s *Session) PrepareFinal(r TerminalReport, now time.Time) (Call, error) {
	if s.finalized {
		return Call{}, ErrFinalizationConflict
	}
	if !r.Status.Terminal() {
		return Call{}, fmt.Errorf("%w: status %q is not terminal", ErrInvalidArgument, r.Status)
	}
	cost := s.state.Cost
	if r.Cost != nil {
		if err := r.Cost.Validate(); err != nil {
			return Call{}, fmt.Errorf("%w: %v", ErrCostMismatch, err)
		}
		cost = *r.Cost
	}

	d := r.Disposition
	if d != "" && !d.Valid() {
		return Call{}, fmt.Errorf("%w: disposition %q", ErrInvalidArgument, d)
	}
	if d == "" {
		switch r.Status {
		case StatusCompleted:
			return Call{}, ErrMissingDisposition
		case StatusVoicemail:
			d = disposition.Voicemail
		default:
			d = disposition.NoContact
		}
	}

	ended := r.EndedAt
	if ended.IsZero() {
		ended = now
	}
	ended = ended.UTC()

	dur := r.DurationSeconds
	if dur <= 0 && !s.state.AnsweredAt.IsZero() && ended.After(s.state.AnsweredAt) {
		dur = int(ended.Sub(s.state.AnsweredAt) / time.Second)
	}
	if dur < 0 {
		dur = 0
	}

	c := s.Call()
	c.Status = r.Status
	c.Phase = PhaseEnded
	c.Disposition = d
	c.Sentiment = r.Sentiment
	c.Cost = cost
	c.DurationSeconds = dur
	c.EndedAt = &ended
	c.UpdatedAt = now.UTC()
	return c, nil
}

// MarkFinal commits a call produced by PrepareFinal.
func (s *Session) MarkFinal(c Call) {
	s.call = c
	s.state.Phase = PhaseEnded
	s.finalized = true
}

// Finalize is PrepareFinal followed by MarkFinal.
func (s *Session) Finalize(r TerminalReport, now time.Time) (Call, error) {
	c, err := s.PrepareFinal(r, now)
	if err != nil {
		return Call{}, err
	}
	s.MarkFinal(c)
	return c, nil
}
