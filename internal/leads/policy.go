package leads

import (
	"errors"
	"fmt"
	"strings"

	"campaign-dialer/internal/disposition"
)

var ErrPolicyIncomplete = errors.New("leads: outcome policy does not cover every disposition")

// Effect is what a disposition does to a lead's status.
type Effect struct {
	// Keep leaves the status unchanged. It is an explicit choice, not a missing entry.
	Keep   bool
	Status Status
}

func Set(s Status) Effect { return Effect{Status: s} }

var Keep = Effect{Keep: true}

func (e Effect) String() string {
	if e.Keep {
		return "keep"
	}
	return string(e.Status)
}

// OutcomePolicy maps every disposition to a lead status effect.
// It is total by construction: NewOutcomePolicy refuses partial tables.
type OutcomePolicy struct {
	effects map[disposition.Disposition]Effect
}

func DefaultEffects() map[disposition.Disposition]Effect {
	return map[disposition.Disposition]Effect{
		disposition.AppointmentBooked: Set(StatusAppointmentSet),
		disposition.Qualified:         Set(StatusQualified),
		disposition.Interested:        Set(StatusContacted),
		disposition.Callback:          Set(StatusContacted),
		disposition.NotInterested:     Set(StatusLost),
		disposition.DoNotCall:         Set(StatusDNC),
		disposition.Voicemail:         Set(StatusContacted),
		disposition.NoContact:         Keep,
	}
}

func DefaultOutcomePolicy() OutcomePolicy {
	p, err := NewOutcomePolicy(DefaultEffects())
	if err != nil {
		panic(err)
	}
	return p
}

func NewOutcomePolicy(effects map[disposition.Disposition]Effect) (OutcomePolicy, error) {
	var missing []string
	for _, d := range disposition.All() {
		e, ok := effects[d]
		if !ok {
			missing = append(missing, string(d))
			continue
		}
		if !e.Keep && !e.Status.Valid() {
			return OutcomePolicy{}, fmt.Errorf("leads: disposition %q maps to unknown status %q", d, e.Status)
		}
	}
	if len(missing) > 0 {
		return OutcomePolicy{}, fmt.Errorf("%w: %s", ErrPolicyIncomplete, strings.Join(missing, ", "))
	}
	for d := range effects {
		if !d.Valid() {
			return OutcomePolicy{}, fmt.Errorf("leads: unknown disposition %q in policy", d)
		}
	}
	cp := make(map[disposition.Disposition]Effect, len(effects))
	for d, e := range effects {
		cp[d] = e
	}
	return OutcomePolicy{effects: cp}, nil
}

// PolicyFromTable overlays a textual table ("keep" or a status name per
// disposition) on the default effects.
func PolicyFromTable(table map[string]string) (OutcomePolicy, error) {
	effects := DefaultEffects()
	for k, v := range table {
		d := disposition.Disposition(strings.TrimSpace(k))
		if !d.Valid() {
			return OutcomePolicy{}, fmt.Errorf("leads: unknown disposition %q in policy", k)
		}
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "keep" {
			effects[d] = Keep
			continue
		}
		effects[d] = Set(Status(v))
	}
	return NewOutcomePolicy(effects)
}

// Next returns the status a lead moves to after a call ends with d.
// dnc is sticky: once a lead is dnc no outcome moves it back.
func (p OutcomePolicy) Next(current Status, d disposition.Disposition) Status {
	if current == StatusDNC {
		return StatusDNC
	}
	e, ok := p.effects[d]
	if !ok || e.Keep {
		return current
	}
	return e.Status
}

func (p OutcomePolicy) Effect(d disposition.Disposition) (Effect, bool) {
	e, ok := p.effects[d]
	return e, ok
}
