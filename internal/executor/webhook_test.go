package executor

import (
	"errors"
	"testing"
	"time"

	"campaign-dialer/internal/calls"
	"campaign-dialer/internal/pricing"
)

func TestTerminalPayload_CostConsistency(t *testing.T) {
	total := 0.25
	p := TerminalPayload{
		Status:      "completed",
		Disposition: "appointment_booked",
		Cost:        &CostPayload{Telephony: 0.12, STT: 0.03, LLM: 0.08, TTS: 0.02, Total: &total},
		EndedAt:     time.Date(2026, 3, 2, 9, 5, 0, 0, time.UTC),
	}
	r, err := p.ToReport()
	if err != nil {
		t.Fatalf("to report: %v", err)
	}
	if r.Cost.TotalMicros != 250_000 || r.Cost.Validate() != nil {
		t.Fatalf("expected consistent 0.25 total, got %+v", r.Cost)
	}

	bad := 0.30
	p.Cost.Total = &bad
	r, err = p.ToReport()
	if err != nil {
		t.Fatalf("to report: %v", err)
	}
	if !errors.Is(r.Cost.Validate(), pricing.ErrTotalMismatch) {
		t.Fatalf("expected ErrTotalMismatch for 0.30 total")
	}
}

func TestTerminalPayload_Rejects(t *testing.T) {
	if _, err := (TerminalPayload{Status: "in_progress"}).ToReport(); !errors.Is(err, calls.ErrInvalidEvent) {
		t.Fatalf("expected non-terminal status to be rejected, got %v", err)
	}
	if _, err := (TerminalPayload{Status: "completed", Disposition: "maybe"}).ToReport(); !errors.Is(err, calls.ErrInvalidEvent) {
		t.Fatalf("expected unknown disposition to be rejected, got %v", err)
	}
}

func TestEventPayload_ToEvent(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 0, 30, 0, time.FixedZone("EST", -5*3600))
	ev := EventPayload{
		ID:      " e1 ",
		Kind:    "TURN",
		Speaker: "Lead",
		Label:   "declined",
		Usage:   &UsagePayload{LLMInputTokens: 300},
		At:      at,
	}.ToEvent("call-1", calls.DirectionOutbound)

	if ev.ID != "e1" || ev.Kind != calls.EventTurn || ev.Speaker != calls.SpeakerLead {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Usage == nil || ev.Usage.Direction != pricing.DirectionOutbound || ev.Usage.LLMInputTokens != 300 {
		t.Fatalf("unexpected usage %+v", ev.Usage)
	}
	if ev.At.Location() != time.UTC {
		t.Fatalf("expected UTC timestamp")
	}
}
