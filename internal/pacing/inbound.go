package pacing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"campaign-dialer/internal/calls"
	"campaign-dialer/internal/campaigns"
	"campaign-dialer/internal/executor"
	"campaign-dialer/internal/leads"
)

// Decision is the outcome of an inbound admission, returned to the executor.
//
// Priority:
//  1. Campaign accepts inbound calls (active, inbound or blended)
//  2. Concurrency slot (non-blocking, shared with outbound dials)
//  3. Caller lead (matched by phone or created, not already on a call)
type Decision struct {
	Action     Action `json:"action"`
	CampaignID string `json:"campaign_id,omitempty"`
	CallID     string `json:"call_id,omitempty"`
	// Reason is intended for logs and the executor, never for the caller.
	Reason string `json:"reason,omitempty"`
}

type Action string

const (
	ActionAccept Action = "accept"
	ActionReject Action = "reject"
)

// InboundRequest mirrors executor.InboundPayload.
type InboundRequest struct {
	ExecutorSessionID string
	CampaignID        string
	From              string
}

func reject(campaignID, reason string) Decision {
	return Decision{Action: ActionReject, CampaignID: campaignID, Reason: reason}
}

// AdmitInbound decides whether an inbound call can be taken and, when it can,
// opens and confirms its session. Rejections are decisions, not errors.
func (c *Controller) AdmitInbound(ctx context.Context, req InboundRequest) (Decision, error) {
	if req.ExecutorSessionID == "" || req.CampaignID == "" || req.From == "" {
		return Decision{}, ErrInvalidArgument
	}

	cp, err := c.campaigns.Get(ctx, req.CampaignID)
	if errors.Is(err, campaigns.ErrNotFound) {
		return reject(req.CampaignID, "unknown_campaign"), nil
	}
	if err != nil {
		return Decision{}, err
	}
	if cp.Status != campaigns.StatusActive || !cp.Type.Answers() {
		return reject(cp.ID, "campaign_not_answering"), nil
	}

	ok, err := c.gate.TryAcquire(ctx, cp.ID, cp.MaxConcurrent)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		c.log.Info("inbound call rejected", "campaign_id", cp.ID, "reason", SkipNoSlot)
		return reject(cp.ID, string(SkipNoSlot)), nil
	}

	callID := uuid.NewString()
	lead, err := c.leads.ReserveInbound(ctx, req.From, cp.ID, callID)
	if err != nil {
		c.releaseSlot(ctx, cp.ID)
		if errors.Is(err, leads.ErrInProgress) {
			return reject(cp.ID, "lead_in_progress"), nil
		}
		return Decision{}, err
	}

	snap, err := c.scripts.Resolve(ctx, cp.ScriptID, cp.ScriptVersion)
	if err == nil {
		_, err = c.sessions.Open(calls.Call{
			ID:         callID,
			LeadID:     lead.ID,
			CampaignID: cp.ID,
			Phone:      lead.Phone,
			Direction:  calls.DirectionInbound,
		}, snap)
	}
	if err != nil {
		c.releaseLead(ctx, lead.ID, callID)
		c.releaseSlot(ctx, cp.ID)
		return Decision{}, err
	}

	c.mu.Lock()
	c.held[callID] = cp.ID
	c.mu.Unlock()

	if _, err := c.sessions.Confirm(ctx, callID, req.ExecutorSessionID); err != nil {
		c.sessions.Discard(callID)
		c.releaseLead(ctx, lead.ID, callID)
		c.releaseHeld(ctx, callID)
		return Decision{}, err
	}
	c.log.Info("inbound call admitted", "campaign_id", cp.ID, "call_id", callID, "lead_id", lead.ID)
	return Decision{Action: ActionAccept, CampaignID: cp.ID, CallID: callID}, nil
}

// DialAdHoc places a single call outside any campaign using the script's active
// version. It takes no slot and does not count toward any campaign's failures.
func (c *Controller) DialAdHoc(ctx context.Context, leadID, scriptID string) (calls.Call, error) {
	if leadID == "" || scriptID == "" {
		return calls.Call{}, ErrInvalidArgument
	}
	snap, err := c.scripts.Current(ctx, scriptID)
	if err != nil {
		return calls.Call{}, err
	}
	callID := uuid.NewString()
	lead, err := c.leads.Reserve(ctx, leadID, callID)
	if err != nil {
		return calls.Call{}, err
	}
	if _, err := c.sessions.Open(calls.Call{
		ID:        callID,
		LeadID:    lead.ID,
		Phone:     lead.Phone,
		Direction: calls.DirectionOutbound,
	}, snap); err != nil {
		c.releaseLead(ctx, lead.ID, callID)
		return calls.Call{}, err
	}

	res, err := c.exec.StartCall(ctx, executor.StartRequest{
		CallID:        callID,
		LeadID:        lead.ID,
		LeadName:      lead.Name,
		Phone:         lead.Phone,
		Direction:     string(calls.DirectionOutbound),
		ScriptID:      snap.ScriptID(),
		ScriptVersion: snap.Version(),
		Script:        snap,
		RequestedAt:   c.clock().UTC(),
	})
	if err != nil {
		c.sessions.Discard(callID)
		c.releaseLead(context.WithoutCancel(ctx), lead.ID, callID)
		return calls.Call{}, fmt.Errorf("%w: %v", ErrExecutorFailure, err)
	}
	if err := c.leads.MarkDialed(ctx, lead.ID, callID); err != nil {
		c.log.Warn("mark dialed failed", "lead_id", lead.ID, "call_id", callID, "err", err)
	}
	return c.sessions.Confirm(ctx, callID, res.SessionID)
}
