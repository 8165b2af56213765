package executor

import (
	"context"
	"errors"
	"time"

	"campaign-dialer/internal/script"
)

// Executor is the boundary to the external system that conducts calls
// (telephony, speech and language model). Business logic never talks to
// providers directly; it only starts calls here and receives webhooks back.
type Executor interface {
	Name() string
	HealthCheck(ctx context.Context) error
	StartCall(ctx context.Context, req StartRequest) (StartResult, error)
}

var (
	ErrNotConfigured = errors.New("executor: not configured")
	// ErrRejected is a permanent refusal; retrying the same request will not help.
	ErrRejected = errors.New("executor: call rejected")
)

// StartRequest asks the executor to dial a lead with a frozen script version.
// CallID doubles as the idempotency key: a retried request must not place a second call.
type StartRequest struct {
	CallID     string `json:"call_id"`
	CampaignID string `json:"campaign_id,omitempty"`
	LeadID     string `json:"lead_id"`
	LeadName   string `json:"lead_name,omitempty"`
	Phone      string `json:"phone"`
	Direction  string `json:"direction"`

	ScriptID      string          `json:"script_id"`
	ScriptVersion int             `json:"script_version"`
	Script        script.Snapshot `json:"script"`

	// CallbackURL is where the executor posts events for this call.
	CallbackURL string `json:"callback_url,omitempty"`

	RequestedAt time.Time `json:"requested_at"`
}

type StartResult struct {
	// SessionID is the executor's own identifier for the call.
	SessionID string `json:"session_id"`
}

// Unavailable is used when no executor is configured; every dial fails,
// which trips the auto-pause of active campaigns.
type Unavailable struct{}

func (Unavailable) Name() string                          { return "unavailable" }
func (Unavailable) HealthCheck(ctx context.Context) error { return ErrNotConfigured }
func (Unavailable) StartCall(ctx context.Context, req StartRequest) (StartResult, error) {
	return StartResult{}, ErrNotConfigured
}
