package script

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownTransitionTarget = errors.New("script: unknown transition target")
	ErrNoStartState            = errors.New("script: no start state")
	ErrDuplicateStateKey       = errors.New("script: duplicate state key")
	ErrEmptyStateKey           = errors.New("script: empty state key")
	ErrEmptyTransitionLabel    = errors.New("script: empty transition label")
)

// Problem is one validation finding.
type Problem struct {
	Kind   error  `json:"-"`
	State  string `json:"state,omitempty"`
	Label  string `json:"label,omitempty"`
	Target string `json:"target,omitempty"`
}

func (p Problem) String() string {
	switch {
	case p.Label != "":
		return fmt.Sprintf("%v: %s --%s--> %s", p.Kind, p.State, p.Label, p.Target)
	case p.State != "":
		return fmt.Sprintf("%v: %s", p.Kind, p.State)
	default:
		return p.Kind.Error()
	}
}

// ValidationError collects every problem found in a script.
// errors.Is matches any of the sentinel kinds it contains.
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.String())
	}
	return "script validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() []error {
	out := make([]error, 0, len(e.Problems))
	for _, p := range e.Problems {
		out = append(out, p.Kind)
	}
	return out
}

// Validate checks the structural invariants of s. It returns nil or a *ValidationError.
func Validate(s Script) error {
	var problems []Problem

	if len(s.States) == 0 {
		return &ValidationError{Problems: []Problem{{Kind: ErrNoStartState}}}
	}

	keys := make(map[string]struct{}, len(s.States))
	for _, d := range s.States {
		if strings.TrimSpace(d.Key) == "" {
			problems = append(problems, Problem{Kind: ErrEmptyStateKey})
			continue
		}
		if _, dup := keys[d.Key]; dup {
			problems = append(problems, Problem{Kind: ErrDuplicateStateKey, State: d.Key})
			continue
		}
		keys[d.Key] = struct{}{}
	}

	if start := s.StartState(); start == "" {
		problems = append(problems, Problem{Kind: ErrNoStartState})
	} else if _, ok := keys[start]; !ok {
		problems = append(problems, Problem{Kind: ErrNoStartState, State: start})
	}

	for _, d := range s.States {
		for label, target := range d.Transitions {
			if strings.TrimSpace(label) == "" {
				problems = append(problems, Problem{Kind: ErrEmptyTransitionLabel, State: d.Key, Target: target})
				continue
			}
			if _, ok := keys[target]; !ok {
				problems = append(problems, Problem{Kind: ErrUnknownTransitionTarget, State: d.Key, Label: label, Target: target})
			}
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: problems}
}
