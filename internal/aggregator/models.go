package aggregator

import (
	"time"

	"campaign-dialer/internal/calls"
	"campaign-dialer/internal/disposition"
	"campaign-dialer/internal/pricing"
)

// Entry is one immutable row of the rollup ledger.
// Rollups are the fold of every entry; nothing is ever decremented in place.
type Entry struct {
	ID     string `json:"id" db:"id"`
	CallID string `json:"call_id" db:"call_id"`
	// Key is unique across the ledger; a repeated key is a redelivery.
	Key       string    `json:"key" db:"key"`
	Kind      Kind      `json:"kind" db:"kind"`
	Delta     Delta     `json:"delta" db:"delta"`
	Reason    string    `json:"reason,omitempty" db:"reason"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Kind string

const (
	KindApply      Kind = "apply"
	KindCompensate Kind = "compensate"
)

// Delta is the signed contribution of one call to every rollup.
type Delta struct {
	CampaignID    string                  `json:"campaign_id,omitempty"`
	ScriptID      string                  `json:"script_id"`
	ScriptVersion int                     `json:"script_version"`
	Disposition   disposition.Disposition `json:"disposition,omitempty"`
	// Hour is the hour of day of the call's creation in the rollup timezone.
	Hour int `json:"hour"`

	Calls        int64        `json:"calls"`
	Connected    int64        `json:"connected"`
	Qualified    int64        `json:"qualified"`
	Appointments int64        `json:"appointments"`
	Cost         pricing.Cost `json:"cost"`
}

// DeltaFor is what a finalized call contributes.
func DeltaFor(c calls.Call, loc *time.Location) Delta {
	if loc == nil {
		loc = time.UTC
	}
	d := Delta{
		CampaignID:    c.CampaignID,
		ScriptID:      c.ScriptID,
		ScriptVersion: c.ScriptVersion,
		Disposition:   c.Disposition,
		Hour:          c.CreatedAt.In(loc).Hour(),
		Calls:         1,
		Cost:          c.Cost,
	}
	if c.Status.Connected() {
		d.Connected = 1
	}
	if c.Disposition.IsQualified() {
		d.Qualified = 1
	}
	if c.Disposition == disposition.AppointmentBooked {
		d.Appointments = 1
	}
	return d
}

// Neg returns the compensating delta.
func (d Delta) Neg() Delta {
	out := d
	out.Calls = -d.Calls
	out.Connected = -d.Connected
	out.Qualified = -d.Qualified
	out.Appointments = -d.Appointments
	out.Cost = d.Cost.Neg()
	return out
}

func (d Delta) IsZero() bool {
	return d.Calls == 0 && d.Connected == 0 && d.Qualified == 0 && d.Appointments == 0 && d.Cost.IsZero()
}

// CampaignStats is the per-campaign rollup. TotalLeads is filled by readers
// from the lead pool; the ledger does not track it.
type CampaignStats struct {
	CampaignID   string       `json:"campaign_id"`
	TotalLeads   int          `json:"total_leads"`
	Dialed       int64        `json:"dialed"`
	Connected    int64        `json:"connected"`
	Qualified    int64        `json:"qualified"`
	Appointments int64        `json:"appointments"`
	Cost         pricing.Cost `json:"cost"`
	TotalUSD     string       `json:"total_usd"`
}

type ServiceCost struct {
	Service pricing.Service `json:"service"`
	Micros  int64           `json:"micros"`
	USD     string          `json:"usd"`
}

type CostBreakdown struct {
	Services    []ServiceCost `json:"services"`
	TotalMicros int64         `json:"total_micros"`
	TotalUSD    string        `json:"total_usd"`
}

type DispositionCount struct {
	Disposition disposition.Disposition `json:"disposition"`
	Count       int64                   `json:"count"`
}

type HourBucket struct {
	Hour         int   `json:"hour"`
	Calls        int64 `json:"calls"`
	Connected    int64 `json:"connected"`
	Appointments int64 `json:"appointments"`
}

type ScriptStats struct {
	ScriptID      string  `json:"script_id"`
	ScriptVersion int     `json:"script_version"`
	Calls         int64   `json:"calls"`
	Appointments  int64   `json:"appointments"`
	SuccessRate   float64 `json:"success_rate"`
}
