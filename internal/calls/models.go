package calls

import (
	"time"

	"campaign-dialer/internal/disposition"
	"campaign-dialer/internal/pricing"
)

// Call is one dialed or received conversation.
//
// Invariants:
// - Cost components are non-negative and Cost.TotalMicros equals their sum
// - Status completed requires EndedAt and a Disposition
// - at most one in-progress Call per lead (enforced by the lead reservation)
//
// Call.ID doubles as the session id. It is minted before the executor is asked to
// dial, so executor events can never arrive for an unknown id.
type Call struct {
	ID                string `json:"id" db:"id"`
	ExecutorSessionID string `json:"executor_session_id,omitempty" db:"executor_session_id"`

	LeadID     string `json:"lead_id" db:"lead_id"`
	CampaignID string `json:"campaign_id,omitempty" db:"campaign_id"`
	Phone      string `json:"phone" db:"phone"`

	Direction Direction `json:"direction" db:"direction"`
	Status    Status    `json:"status" db:"status"`
	Phase     Phase     `json:"phase" db:"phase"`

	ScriptID      string `json:"script_id" db:"script_id"`
	ScriptVersion int    `json:"script_version" db:"script_version"`
	ScriptState   string `json:"script_state" db:"script_state"`

	Disposition disposition.Disposition `json:"disposition,omitempty" db:"disposition"`
	Sentiment   Sentiment               `json:"sentiment,omitempty" db:"sentiment"`

	// DurationSeconds is the connected talk time.
	DurationSeconds int `json:"duration" db:"duration"`

	Cost pricing.Cost `json:"cost" db:"cost"`

	// ClassificationMisses counts turn labels the script had no transition for.
	ClassificationMisses int `json:"classification_misses" db:"classification_misses"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	// VoidedAt is set when the call was voided after finalization; rollups exclude it.
	VoidedAt *time.Time `json:"voided_at,omitempty" db:"voided_at"`
}

func (c Call) Terminal() bool { return c.Status.Terminal() }
func (c Call) Voided() bool   { return c.VoidedAt != nil }

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusNoAnswer   Status = "no_answer"
	StatusBusy       Status = "busy"
	StatusVoicemail  Status = "voicemail"
)

func (s Status) Valid() bool {
	switch s {
	case StatusInProgress, StatusCompleted, StatusFailed, StatusNoAnswer, StatusBusy, StatusVoicemail:
		return true
	}
	return false
}

func (s Status) Terminal() bool { return s.Valid() && s != StatusInProgress }

// Connected reports whether a person or machine picked up.
func (s Status) Connected() bool { return s != StatusNoAnswer && s != StatusBusy }

type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Phase is the session lifecycle, separate from the script state.
type Phase string

const (
	PhasePending   Phase = "pending"
	PhaseDialing   Phase = "dialing"
	PhaseConnected Phase = "connected"
	PhaseInScript  Phase = "in_script"
	PhaseWrapUp    Phase = "wrap_up"
	PhaseEnded     Phase = "ended"
)

// EventKind classifies CallEvents.
type EventKind string

const (
	EventDialing  EventKind = "dialing"
	EventAnswered EventKind = "answered"
	EventTurn     EventKind = "turn"
	EventCost     EventKind = "cost"
)

func (k EventKind) Valid() bool {
	switch k {
	case EventDialing, EventAnswered, EventTurn, EventCost:
		return true
	}
	return false
}

type Speaker string

const (
	SpeakerAgent Speaker = "agent"
	SpeakerLead  Speaker = "lead"
)

// Event is one append-only entry of a call's log. Events are never mutated after insert.
type Event struct {
	ID     string    `json:"id" db:"id"`
	CallID string    `json:"call_id" db:"call_id"`
	Kind   EventKind `json:"kind" db:"kind"`

	Speaker Speaker `json:"speaker,omitempty" db:"speaker"`
	Content string  `json:"content,omitempty" db:"content"`
	// Label is the executor's classification of a lead turn, matched against the
	// current state's transitions.
	Label string `json:"label,omitempty" db:"label"`
	// ScriptState is the state the session was in when the turn was spoken.
	ScriptState string `json:"script_state,omitempty" db:"script_state"`
	LatencyMs   int    `json:"latency_ms,omitempty" db:"latency_ms"`

	// Usage is raw metering; it is priced into Cost before the event is stored.
	Usage *pricing.Usage `json:"usage,omitempty" db:"-"`
	Cost  pricing.Cost   `json:"cost,omitempty" db:"cost"`

	At time.Time `json:"at" db:"at"`
}
