package pricing

import (
	"errors"
	"fmt"
	"time"
)

// Amounts are micro-USD (1e-6 USD) in int64 so that component sums are exact.

// Service names one cost component of a call.
type Service string

const (
	ServiceTelephony Service = "telephony"
	ServiceSTT       Service = "stt"
	ServiceTTS       Service = "tts"
	ServiceLLM       Service = "llm"
)

func Services() []Service {
	return []Service{ServiceTelephony, ServiceSTT, ServiceTTS, ServiceLLM}
}

var (
	ErrNegativeCost  = errors.New("pricing: cost component is negative")
	ErrTotalMismatch = errors.New("pricing: total does not equal the sum of components")
	ErrNoRateCard    = errors.New("pricing: no rate card effective at the requested time")
)

// Cost is a per-service breakdown.
// Invariant: every component is non-negative and TotalMicros is their sum.
type Cost struct {
	TelephonyMicros int64 `json:"telephony_micros"`
	STTMicros       int64 `json:"stt_micros"`
	TTSMicros       int64 `json:"tts_micros"`
	LLMMicros       int64 `json:"llm_micros"`
	TotalMicros     int64 `json:"total_micros"`
}

// NewCost builds a consistent cost from components.
func NewCost(telephony, stt, tts, llm int64) Cost {
	c := Cost{TelephonyMicros: telephony, STTMicros: stt, TTSMicros: tts, LLMMicros: llm}
	c.TotalMicros = c.Sum()
	return c
}

func (c Cost) Sum() int64 {
	return c.TelephonyMicros + c.STTMicros + c.TTSMicros + c.LLMMicros
}

func (c Cost) Validate() error {
	for _, s := range Services() {
		if v := c.Component(s); v < 0 {
			return fmt.Errorf("%w: %s=%d", ErrNegativeCost, s, v)
		}
	}
	if c.TotalMicros < 0 || c.TotalMicros != c.Sum() {
		return fmt.Errorf("%w: total=%s sum=%s", ErrTotalMismatch, FormatUSD(c.TotalMicros), FormatUSD(c.Sum()))
	}
	return nil
}

func (c Cost) Component(s Service) int64 {
	switch s {
	case ServiceTelephony:
		return c.TelephonyMicros
	case ServiceSTT:
		return c.STTMicros
	case ServiceTTS:
		return c.TTSMicros
	case ServiceLLM:
		return c.LLMMicros
	}
	return 0
}

func (c Cost) Add(o Cost) Cost {
	return Cost{
		TelephonyMicros: c.TelephonyMicros + o.TelephonyMicros,
		STTMicros:       c.STTMicros + o.STTMicros,
		TTSMicros:       c.TTSMicros + o.TTSMicros,
		LLMMicros:       c.LLMMicros + o.LLMMicros,
		TotalMicros:     c.TotalMicros + o.TotalMicros,
	}
}

// Neg is used for compensating entries.
func (c Cost) Neg() Cost {
	return Cost{
		TelephonyMicros: -c.TelephonyMicros,
		STTMicros:       -c.STTMicros,
		TTSMicros:       -c.TTSMicros,
		LLMMicros:       -c.LLMMicros,
		TotalMicros:     -c.TotalMicros,
	}
}

func (c Cost) IsZero() bool { return c == Cost{} }

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Usage is raw metered consumption reported by the executor.
type Usage struct {
	Direction Direction `json:"direction,omitempty"`

	TelephonySeconds int `json:"telephony_seconds,omitempty"`
	STTSeconds       int `json:"stt_seconds,omitempty"`
	TTSCharacters    int `json:"tts_characters,omitempty"`
	LLMInputTokens   int `json:"llm_input_tokens,omitempty"`
	LLMOutputTokens  int `json:"llm_output_tokens,omitempty"`

	// At selects the effective rate card. Zero means now.
	At time.Time `json:"at,omitempty"`
}

func (u Usage) IsZero() bool {
	return u.TelephonySeconds == 0 && u.STTSeconds == 0 && u.TTSCharacters == 0 &&
		u.LLMInputTokens == 0 && u.LLMOutputTokens == 0
}

// TelephonyRate prices carrier minutes for one direction.
type TelephonyRate struct {
	Direction Direction `json:"direction" yaml:"direction"`

	RatePerMinuteMicros int64 `json:"rate_per_minute_micros" yaml:"rate_per_minute_micros"`

	// BillingIncrementSeconds (e.g., 60 for per-minute, 1 for per-second billing).
	BillingIncrementSeconds int `json:"billing_increment_seconds" yaml:"billing_increment_seconds"`

	// MinimumBillableSeconds enforces a minimum charge duration.
	MinimumBillableSeconds int `json:"minimum_billable_seconds" yaml:"minimum_billable_seconds"`
}

// RateCard is one effective set of unit prices.
type RateCard struct {
	ID string `json:"id" yaml:"id"`

	Telephony []TelephonyRate `json:"telephony" yaml:"telephony"`

	STTPerMinuteMicros         int64 `json:"stt_per_minute_micros" yaml:"stt_per_minute_micros"`
	TTSPerThousandCharsMicros  int64 `json:"tts_per_thousand_chars_micros" yaml:"tts_per_thousand_chars_micros"`
	LLMPerThousandInputMicros  int64 `json:"llm_per_thousand_input_micros" yaml:"llm_per_thousand_input_micros"`
	LLMPerThousandOutputMicros int64 `json:"llm_per_thousand_output_micros" yaml:"llm_per_thousand_output_micros"`

	EffectiveFrom time.Time  `json:"effective_from" yaml:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty" yaml:"effective_to,omitempty"`
}
