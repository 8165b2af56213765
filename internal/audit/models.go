package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - actor and ip capture are best-effort; do not block lifecycle operations on audit failures.
type Event struct {
	ID string `json:"id" db:"id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	// ActorID is the operator causing the event; "system" for automatic transitions.
	ActorID   string `json:"actor_id,omitempty" db:"actor_id"`
	ActorRole string `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	// Target identifiers (optional, depending on the event type).
	CampaignID string `json:"campaign_id,omitempty" db:"campaign_id"`
	CallID     string `json:"call_id,omitempty" db:"call_id"`
	ScriptID   string `json:"script_id,omitempty" db:"script_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCampaignStatus EventType = "campaign_status"
	EventTypeAutoPause      EventType = "campaign_auto_pause"
	EventTypeScriptActivate EventType = "script_activated"
	EventTypeCallVoided     EventType = "call_voided"
	EventTypeCallCorrected  EventType = "call_corrected"
)

// Actor identifies who caused an audited change.
type Actor struct {
	ID   string
	Role string
	IP   string
}

// System is the actor for transitions the dialer makes on its own.
var System = Actor{ID: "system", Role: "system"}
