package leads

import (
	"errors"
	"testing"

	"campaign-dialer/internal/disposition"
)

func TestDefaultOutcomePolicy_IsTotal(t *testing.T) {
	p := DefaultOutcomePolicy()
	for _, d := range disposition.All() {
		if _, ok := p.Effect(d); !ok {
			t.Fatalf("disposition %q has no effect", d)
		}
	}
}

func TestDefaultOutcomePolicy_Mapping(t *testing.T) {
	p := DefaultOutcomePolicy()
	cases := []struct {
		d    disposition.Disposition
		from Status
		want Status
	}{
		{disposition.AppointmentBooked, StatusNew, StatusAppointmentSet},
		{disposition.Qualified, StatusNew, StatusQualified},
		{disposition.Interested, StatusNew, StatusContacted},
		{disposition.Callback, StatusNew, StatusContacted},
		{disposition.NotInterested, StatusContacted, StatusLost},
		{disposition.DoNotCall, StatusContacted, StatusDNC},
		{disposition.Voicemail, StatusNew, StatusContacted},
		{disposition.NoContact, StatusNew, StatusNew},
		{disposition.NoContact, StatusContacted, StatusContacted},
		{disposition.AppointmentBooked, StatusDNC, StatusDNC},
	}
	for _, c := range cases {
		if got := p.Next(c.from, c.d); got != c.want {
			t.Fatalf("%s from %s: expected %s, got %s", c.d, c.from, c.want, got)
		}
	}
}

func TestNewOutcomePolicy_RejectsPartialTable(t *testing.T) {
	effects := DefaultEffects()
	delete(effects, disposition.Callback)
	if _, err := NewOutcomePolicy(effects); !errors.Is(err, ErrPolicyIncomplete) {
		t.Fatalf("expected ErrPolicyIncomplete, got %v", err)
	}
}

func TestPolicyFromTable_OverlaysDefaults(t *testing.T) {
	p, err := PolicyFromTable(map[string]string{
		"voicemail":  "keep",
		"interested": "qualified",
	})
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	if got := p.Next(StatusNew, disposition.Voicemail); got != StatusNew {
		t.Fatalf("expected keep, got %s", got)
	}
	if got := p.Next(StatusNew, disposition.Interested); got != StatusQualified {
		t.Fatalf("expected qualified, got %s", got)
	}
	if got := p.Next(StatusNew, disposition.NotInterested); got != StatusLost {
		t.Fatalf("expected default lost, got %s", got)
	}

	if _, err := PolicyFromTable(map[string]string{"hung_up": "lost"}); err == nil {
		t.Fatalf("expected unknown disposition error")
	}
	if _, err := PolicyFromTable(map[string]string{"callback": "archived"}); err == nil {
		t.Fatalf("expected unknown status error")
	}
}
