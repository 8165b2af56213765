package aggregator

import (
	"sort"
	"time"

	"campaign-dialer/internal/calls"
	"campaign-dialer/internal/disposition"
	"campaign-dialer/internal/pricing"
)

type scriptKey struct {
	id      string
	version int
}

// Rollups is the projection of the ledger. It is not safe for concurrent use;
// Service guards it.
type Rollups struct {
	campaigns    map[string]*CampaignStats
	cost         pricing.Cost
	dispositions map[disposition.Disposition]int64
	hours        [24]HourBucket
	scripts      map[scriptKey]*ScriptStats
}

func NewRollups() *Rollups {
	r := &Rollups{
		campaigns:    map[string]*CampaignStats{},
		dispositions: map[disposition.Disposition]int64{},
		scripts:      map[scriptKey]*ScriptStats{},
	}
	for h := range r.hours {
		r.hours[h].Hour = h
	}
	return r
}

// Add folds one signed delta.
func (r *Rollups) Add(d Delta) {
	if d.CampaignID != "" {
		cs, ok := r.campaigns[d.CampaignID]
		if !ok {
			cs = &CampaignStats{CampaignID: d.CampaignID}
			r.campaigns[d.CampaignID] = cs
		}
		cs.Dialed += d.Calls
		cs.Connected += d.Connected
		cs.Qualified += d.Qualified
		cs.Appointments += d.Appointments
		cs.Cost = cs.Cost.Add(d.Cost)
	}

	r.cost = r.cost.Add(d.Cost)

	if d.Disposition != "" {
		r.dispositions[d.Disposition] += d.Calls
	}

	if d.Hour >= 0 && d.Hour < len(r.hours) {
		b := &r.hours[d.Hour]
		b.Calls += d.Calls
		b.Connected += d.Connected
		b.Appointments += d.Appointments
	}

	if d.ScriptID != "" {
		k := scriptKey{id: d.ScriptID, version: d.ScriptVersion}
		ss, ok := r.scripts[k]
		if !ok {
			ss = &ScriptStats{ScriptID: d.ScriptID, ScriptVersion: d.ScriptVersion}
			r.scripts[k] = ss
		}
		ss.Calls += d.Calls
		ss.Appointments += d.Appointments
	}
}

func (r *Rollups) Campaign(id string) CampaignStats {
	out := CampaignStats{CampaignID: id}
	if cs, ok := r.campaigns[id]; ok {
		out = *cs
	}
	out.TotalUSD = pricing.FormatUSD(out.Cost.TotalMicros)
	return out
}

func (r *Rollups) Costs() CostBreakdown {
	out := CostBreakdown{TotalMicros: r.cost.TotalMicros, TotalUSD: pricing.FormatUSD(r.cost.TotalMicros)}
	for _, s := range pricing.Services() {
		m := r.cost.Component(s)
		out.Services = append(out.Services, ServiceCost{Service: s, Micros: m, USD: pricing.FormatUSD(m)})
	}
	return out
}

// Dispositions lists every known disposition, zero counts included.
func (r *Rollups) Dispositions() []DispositionCount {
	out := make([]DispositionCount, 0, len(disposition.All()))
	for _, d := range disposition.All() {
		out = append(out, DispositionCount{Disposition: d, Count: r.dispositions[d]})
	}
	return out
}

func (r *Rollups) Hourly() []HourBucket {
	out := make([]HourBucket, len(r.hours))
	copy(out, r.hours[:])
	return out
}

// Scripts returns per-version performance ordered by script id, then version.
func (r *Rollups) Scripts() []ScriptStats {
	out := make([]ScriptStats, 0, len(r.scripts))
	for _, ss := range r.scripts {
		v := *ss
		if v.Calls > 0 {
			v.SuccessRate = float64(v.Appointments) / float64(v.Calls)
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScriptID != out[j].ScriptID {
			return out[i].ScriptID < out[j].ScriptID
		}
		return out[i].ScriptVersion < out[j].ScriptVersion
	})
	return out
}

// Equal reports whether two projections hold the same figures.
func (r *Rollups) Equal(o *Rollups) bool {
	if r.cost != o.cost || r.hours != o.hours {
		return false
	}
	if !sameCounts(r.dispositions, o.dispositions) {
		return false
	}
	if len(nonZeroCampaigns(r)) != len(nonZeroCampaigns(o)) {
		return false
	}
	for id, cs := range nonZeroCampaigns(r) {
		oc := o.Campaign(id)
		oc.TotalUSD, oc.TotalLeads = "", 0
		if *cs != oc {
			return false
		}
	}
	mine, theirs := r.Scripts(), o.Scripts()
	mine, theirs = dropEmptyScripts(mine), dropEmptyScripts(theirs)
	if len(mine) != len(theirs) {
		return false
	}
	for i := range mine {
		if mine[i] != theirs[i] {
			return false
		}
	}
	return true
}

func sameCounts(a, b map[disposition.Disposition]int64) bool {
	for _, d := range disposition.All() {
		if a[d] != b[d] {
			return false
		}
	}
	return true
}

func nonZeroCampaigns(r *Rollups) map[string]*CampaignStats {
	out := map[string]*CampaignStats{}
	for id, cs := range r.campaigns {
		if cs.Dialed != 0 || cs.Connected != 0 || cs.Qualified != 0 || cs.Appointments != 0 || !cs.Cost.IsZero() {
			out[id] = cs
		}
	}
	return out
}

func dropEmptyScripts(in []ScriptStats) []ScriptStats {
	out := in[:0]
	for _, s := range in {
		if s.Calls != 0 || s.Appointments != 0 {
			out = append(out, s)
		}
	}
	return out
}

// Compute folds the current call log directly: every terminal call that was not
// voided contributes its present delta.
func Compute(cs []calls.Call, loc *time.Location) *Rollups {
	r := NewRollups()
	for _, c := range cs {
		if d, ok := desired(c, loc); ok {
			r.Add(d)
		}
	}
	return r
}

// desired is the net delta the ledger should hold for a call.
func desired(c calls.Call, loc *time.Location) (Delta, bool) {
	if !c.Terminal() || c.Voided() {
		return Delta{}, false
	}
	return DeltaFor(c, loc), true
}
