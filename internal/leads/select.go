package leads

import "sort"

// Eligible reports whether l may be dialed under f. dnc, tombstoned and
// already-reserved leads are never eligible.
func Eligible(l Lead, f Filter) bool {
	if l.Status == StatusDNC || l.Deleted() || l.InProgress() {
		return false
	}
	if l.CampaignID != "" && l.CampaignID != f.CampaignID {
		return false
	}
	if !statusAllowed(l.Status, f.Statuses) {
		return false
	}
	if len(f.Sources) > 0 && !contains(f.Sources, l.Source) {
		return false
	}
	if f.MinPriority > 0 && l.Priority < f.MinPriority {
		return false
	}
	if f.MaxAttempts > 0 && l.Attempts >= f.MaxAttempts {
		return false
	}
	return true
}

func statusAllowed(s Status, allowed []Status) bool {
	if len(allowed) == 0 {
		return s == StatusNew
	}
	for _, a := range allowed {
		if a == s {
			return true
		}
	}
	return false
}

func contains(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

// Less orders leads for selection: highest priority first, then oldest
// created_at (FIFO within a tier), then id so the order is total.
func Less(a, b Lead) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// SelectNext picks the next lead to dial from candidates, or false when none is eligible.
func SelectNext(candidates []Lead, f Filter) (Lead, bool) {
	var best Lead
	found := false
	for _, l := range candidates {
		if !Eligible(l, f) {
			continue
		}
		if !found || Less(l, best) {
			best = l
			found = true
		}
	}
	return best, found
}

func sortLeads(ls []Lead) {
	sort.Slice(ls, func(i, j int) bool { return Less(ls[i], ls[j]) })
}
