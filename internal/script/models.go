package script

import (
	"encoding/json"
	"time"
)

// State is one node of a conversation script.
// A state with no outgoing transitions is terminal.
type State struct {
	Prompt      string            `json:"prompt" yaml:"prompt"`
	Transitions map[string]string `json:"transitions,omitempty" yaml:"transitions,omitempty"`
}

func (s State) IsTerminal() bool { return len(s.Transitions) == 0 }

// StateDef is a keyed state in declaration order.
// Scripts keep the declared order so "first declared" is a stable start convention.
type StateDef struct {
	Key   string `json:"key" yaml:"key"`
	State `yaml:",inline"`
}

// Script is an editable, versioned conversation state machine.
//
// Invariants (checked by Validate at write time):
// - every transition target references a declared state key
// - exactly one start state: Start if set, otherwise the first declared state
// - state keys are unique
type Script struct {
	ID          string `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	Industry    string `json:"industry,omitempty" db:"industry"`
	Personality string `json:"personality,omitempty" db:"personality"`

	// Start optionally marks the start state explicitly.
	Start  string     `json:"start,omitempty" db:"start_state"`
	States []StateDef `json:"states" db:"states"`

	// Version increments on every edit and on every activation.
	Version int  `json:"version" db:"version"`
	Active  bool `json:"active" db:"active"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// StartState returns the designated start state key.
func (s Script) StartState() string {
	if s.Start != "" {
		return s.Start
	}
	if len(s.States) == 0 {
		return ""
	}
	return s.States[0].Key
}

// Snapshot is an immutable view of one script version.
// In-flight calls hold a Snapshot, so later edits never change the states they run against.
type Snapshot struct {
	scriptID    string
	version     int
	name        string
	personality string
	start       string
	order       []string
	states      map[string]State
}

// NewSnapshot validates s and freezes it.
func NewSnapshot(s Script) (Snapshot, error) {
	if err := Validate(s); err != nil {
		return Snapshot{}, err
	}
	return newSnapshot(s), nil
}

func newSnapshot(s Script) Snapshot {
	states := make(map[string]State, len(s.States))
	order := make([]string, 0, len(s.States))
	for _, d := range s.States {
		tr := make(map[string]string, len(d.Transitions))
		for label, target := range d.Transitions {
			tr[label] = target
		}
		states[d.Key] = State{Prompt: d.Prompt, Transitions: tr}
		order = append(order, d.Key)
	}
	return Snapshot{
		scriptID:    s.ID,
		version:     s.Version,
		name:        s.Name,
		personality: s.Personality,
		start:       s.StartState(),
		order:       order,
		states:      states,
	}
}

func (s Snapshot) ScriptID() string { return s.scriptID }
func (s Snapshot) Version() int     { return s.version }
func (s Snapshot) Start() string    { return s.start }
func (s Snapshot) IsZero() bool     { return s.scriptID == "" }

// State returns a copy of the state for key.
func (s Snapshot) State(key string) (State, bool) {
	st, ok := s.states[key]
	if !ok {
		return State{}, false
	}
	tr := make(map[string]string, len(st.Transitions))
	for k, v := range st.Transitions {
		tr[k] = v
	}
	return State{Prompt: st.Prompt, Transitions: tr}, true
}

// Next looks up current.transitions[label].
func (s Snapshot) Next(current, label string) (string, bool) {
	st, ok := s.states[current]
	if !ok {
		return "", false
	}
	target, ok := st.Transitions[label]
	return target, ok
}

// IsTerminal reports whether key has no outgoing transitions.
func (s Snapshot) IsTerminal(key string) bool {
	st, ok := s.states[key]
	return ok && st.IsTerminal()
}

type snapshotJSON struct {
	ScriptID    string     `json:"script_id"`
	Version     int        `json:"version"`
	Name        string     `json:"name"`
	Personality string     `json:"personality,omitempty"`
	Start       string     `json:"start"`
	States      []StateDef `json:"states"`
}

// MarshalJSON renders the snapshot for the call executor.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	out := snapshotJSON{
		ScriptID:    s.scriptID,
		Version:     s.version,
		Name:        s.name,
		Personality: s.personality,
		Start:       s.start,
		States:      make([]StateDef, 0, len(s.order)),
	}
	for _, k := range s.order {
		st, _ := s.State(k)
		out.States = append(out.States, StateDef{Key: k, State: st})
	}
	return json.Marshal(out)
}
