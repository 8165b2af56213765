package leads

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo keeps leads in a map. A single mutex makes reservation atomic.
type MemoryRepo struct {
	mu    sync.Mutex
	leads map[string]Lead
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{leads: map[string]Lead{}} }

func (r *MemoryRepo) Create(ctx context.Context, l Lead) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.leads[l.ID]; ok {
		return ErrInvalidArgument
	}
	r.leads[l.ID] = l
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leads[id]
	if !ok {
		return Lead{}, ErrNotFound
	}
	return l, nil
}

func (r *MemoryRepo) List(ctx context.Context, q ListQuery) ([]Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Lead
	for _, l := range r.leads {
		if !q.IncludeDeleted && l.Deleted() {
			continue
		}
		if q.CampaignID != "" && l.CampaignID != q.CampaignID {
			continue
		}
		if q.Status != "" && l.Status != q.Status {
			continue
		}
		if q.Source != "" && l.Source != q.Source {
			continue
		}
		out = append(out, l)
	}
	sortLeads(out)
	if q.Offset >= len(out) {
		return []Lead{}, nil
	}
	out = out[q.Offset:]
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r *MemoryRepo) Update(ctx context.Context, l Lead) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.leads[l.ID]
	if !ok {
		return ErrNotFound
	}
	// Reservation and dial bookkeeping are owned by the pacing path.
	l.InProgressCallID = cur.InProgressCallID
	l.Attempts = cur.Attempts
	l.LastDialedAt = cur.LastDialedAt
	r.leads[l.ID] = l
	return nil
}

func (r *MemoryRepo) FindByPhone(ctx context.Context, phone string) (Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found Lead
	ok := false
	for _, l := range r.leads {
		if l.Phone != phone || l.Deleted() {
			continue
		}
		if !ok || l.CreatedAt.Before(found.CreatedAt) {
			found, ok = l, true
		}
	}
	if !ok {
		return Lead{}, ErrNotFound
	}
	return found, nil
}

func (r *MemoryRepo) SoftDelete(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leads[id]
	if !ok || l.Deleted() {
		return ErrNotFound
	}
	l.DeletedAt = &at
	l.UpdatedAt = at
	r.leads[id] = l
	return nil
}

func (r *MemoryRepo) CountForCampaign(ctx context.Context, campaignID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, l := range r.leads {
		if l.CampaignID == campaignID && !l.Deleted() {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) ReserveNext(ctx context.Context, f Filter, callID string, at time.Time) (Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	candidates := make([]Lead, 0, len(r.leads))
	for _, l := range r.leads {
		candidates = append(candidates, l)
	}
	l, ok := SelectNext(candidates, f)
	if !ok {
		return Lead{}, ErrNoEligibleLead
	}
	l.InProgressCallID = callID
	l.UpdatedAt = at
	r.leads[l.ID] = l
	return l, nil
}

func (r *MemoryRepo) Reserve(ctx context.Context, id, callID string, at time.Time) (Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leads[id]
	if !ok || l.Deleted() {
		return Lead{}, ErrNotFound
	}
	if l.InProgress() && l.InProgressCallID != callID {
		return Lead{}, ErrInProgress
	}
	l.InProgressCallID = callID
	l.UpdatedAt = at
	r.leads[id] = l
	return l, nil
}

func (r *MemoryRepo) Release(ctx context.Context, id, callID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leads[id]
	if !ok {
		return ErrNotFound
	}
	if l.InProgressCallID != callID {
		return nil
	}
	l.InProgressCallID = ""
	l.UpdatedAt = at
	r.leads[id] = l
	return nil
}

func (r *MemoryRepo) MarkDialed(ctx context.Context, id, callID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leads[id]
	if !ok {
		return ErrNotFound
	}
	l.Attempts++
	l.LastDialedAt = &at
	l.UpdatedAt = at
	r.leads[id] = l
	return nil
}

func (r *MemoryRepo) ApplyOutcome(ctx context.Context, id, callID string, next func(Status) Status, at time.Time) (Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leads[id]
	if !ok {
		return Lead{}, ErrNotFound
	}
	l.Status = next(l.Status)
	if l.InProgressCallID == callID {
		l.InProgressCallID = ""
	}
	l.UpdatedAt = at
	r.leads[id] = l
	return l, nil
}
