package executor

import (
	"fmt"
	"strings"
	"time"

	"campaign-dialer/internal/calls"
	"campaign-dialer/internal/disposition"
	"campaign-dialer/internal/pricing"
)

// CostPayload is a cost breakdown in USD as executors report it.
type CostPayload struct {
	Telephony float64  `json:"telephony"`
	STT       float64  `json:"stt"`
	TTS       float64  `json:"tts"`
	LLM       float64  `json:"llm"`
	Total     *float64 `json:"total,omitempty"`
}

// ToCost converts to micro-USD. A reported total is kept as-is so that an
// inconsistent report is caught by validation instead of being recomputed.
func (p CostPayload) ToCost() pricing.Cost {
	c := pricing.NewCost(
		pricing.MicrosFromUSD(p.Telephony),
		pricing.MicrosFromUSD(p.STT),
		pricing.MicrosFromUSD(p.TTS),
		pricing.MicrosFromUSD(p.LLM),
	)
	if p.Total != nil {
		c.TotalMicros = pricing.MicrosFromUSD(*p.Total)
	}
	return c
}

type UsagePayload struct {
	TelephonySeconds int `json:"telephony_seconds,omitempty"`
	STTSeconds       int `json:"stt_seconds,omitempty"`
	TTSCharacters    int `json:"tts_characters,omitempty"`
	LLMInputTokens   int `json:"llm_input_tokens,omitempty"`
	LLMOutputTokens  int `json:"llm_output_tokens,omitempty"`
}

// EventPayload is one event webhook: POST /executor/sessions/:id/events.
type EventPayload struct {
	ID        string        `json:"id"`
	Kind      string        `json:"kind"`
	Speaker   string        `json:"speaker,omitempty"`
	Content   string        `json:"content,omitempty"`
	Label     string        `json:"label,omitempty"`
	LatencyMs int           `json:"latency_ms,omitempty"`
	Usage     *UsagePayload `json:"usage,omitempty"`
	Cost      *CostPayload  `json:"cost,omitempty"`
	At        time.Time     `json:"at"`
}

func (p EventPayload) ToEvent(callID string, direction calls.Direction) calls.Event {
	ev := calls.Event{
		ID:        strings.TrimSpace(p.ID),
		CallID:    callID,
		Kind:      calls.EventKind(strings.ToLower(p.Kind)),
		Speaker:   calls.Speaker(strings.ToLower(p.Speaker)),
		Content:   p.Content,
		Label:     strings.TrimSpace(p.Label),
		LatencyMs: p.LatencyMs,
		At:        p.At.UTC(),
	}
	if p.Cost != nil {
		ev.Cost = p.Cost.ToCost()
	}
	if p.Usage != nil {
		ev.Usage = &pricing.Usage{
			Direction:        pricing.Direction(direction),
			TelephonySeconds: p.Usage.TelephonySeconds,
			STTSeconds:       p.Usage.STTSeconds,
			TTSCharacters:    p.Usage.TTSCharacters,
			LLMInputTokens:   p.Usage.LLMInputTokens,
			LLMOutputTokens:  p.Usage.LLMOutputTokens,
			At:               ev.At,
		}
	}
	return ev
}

// TerminalPayload is the end-of-call webhook: POST /executor/sessions/:id/terminal.
type TerminalPayload struct {
	Status          string       `json:"status"`
	Disposition     string       `json:"disposition,omitempty"`
	Sentiment       string       `json:"sentiment,omitempty"`
	Cost            *CostPayload `json:"cost,omitempty"`
	DurationSeconds int          `json:"duration_seconds,omitempty"`
	EndedAt         time.Time    `json:"ended_at"`
}

func (p TerminalPayload) ToReport() (calls.TerminalReport, error) {
	r := calls.TerminalReport{
		Status:          calls.Status(strings.ToLower(p.Status)),
		Sentiment:       calls.Sentiment(strings.ToLower(p.Sentiment)),
		DurationSeconds: p.DurationSeconds,
		EndedAt:         p.EndedAt.UTC(),
	}
	if !r.Status.Terminal() {
		return calls.TerminalReport{}, fmt.Errorf("%w: status %q is not terminal", calls.ErrInvalidEvent, p.Status)
	}
	if p.Disposition != "" {
		d := disposition.Disposition(strings.ToLower(p.Disposition))
		if !d.Valid() {
			return calls.TerminalReport{}, fmt.Errorf("%w: unknown disposition %q", calls.ErrInvalidEvent, p.Disposition)
		}
		r.Disposition = d
	}
	if p.Cost != nil {
		c := p.Cost.ToCost()
		r.Cost = &c
	}
	return r, nil
}

// InboundPayload announces a call the executor answered: POST /executor/inbound.
type InboundPayload struct {
	SessionID  string    `json:"session_id"`
	CampaignID string    `json:"campaign_id"`
	From       string    `json:"from"`
	To         string    `json:"to,omitempty"`
	At         time.Time `json:"at"`
}
