package calls

import (
	"context"
	"sort"
	"sync"
	"time"

	"campaign-dialer/internal/disposition"
)

// MemoryRepo is an in-memory call log for tests and the memory storage backend.
type MemoryRepo struct {
	mu     sync.Mutex
	calls  map[string]Call
	events map[string][]Event
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{calls: map[string]Call{}, events: map[string][]Event{}}
}

func (r *MemoryRepo) Create(ctx context.Context, c Call, evs []Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[c.ID]; ok {
		return ErrInvalidArgument
	}
	r.calls[c.ID] = c
	r.events[c.ID] = append([]Event(nil), evs...)
	return nil
}

func (r *MemoryRepo) AppendEvent(ctx context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[ev.CallID]; !ok {
		return ErrNotFound
	}
	for _, e := range r.events[ev.CallID] {
		if e.ID == ev.ID {
			return nil
		}
	}
	r.events[ev.CallID] = append(r.events[ev.CallID], ev)
	return nil
}

func (r *MemoryRepo) SaveProgress(ctx context.Context, c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.calls[c.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Terminal() {
		return ErrFinalizationConflict
	}
	cur.Phase = c.Phase
	cur.ScriptState = c.ScriptState
	cur.ClassificationMisses = c.ClassificationMisses
	cur.Cost = c.Cost
	cur.ExecutorSessionID = c.ExecutorSessionID
	cur.UpdatedAt = c.UpdatedAt
	r.calls[c.ID] = cur
	return nil
}

func (r *MemoryRepo) Finalize(ctx context.Context, c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.calls[c.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Terminal() {
		return ErrFinalizationConflict
	}
	r.calls[c.ID] = c
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) Events(ctx context.Context, callID string) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[callID]; !ok {
		return nil, ErrNotFound
	}
	return canonical(r.events[callID]), nil
}

func (r *MemoryRepo) List(ctx context.Context, q ListQuery) ([]Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Call{}
	for _, c := range r.calls {
		if q.CampaignID != "" && c.CampaignID != q.CampaignID {
			continue
		}
		if q.LeadID != "" && c.LeadID != q.LeadID {
			continue
		}
		if q.Finished {
			if !c.Terminal() {
				continue
			}
		} else if q.Status != "" && c.Status != q.Status {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return []Call{}, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r *MemoryRepo) SetVoided(ctx context.Context, id string, at time.Time) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	if !c.Terminal() || c.Voided() {
		return Call{}, ErrInvalidArgument
	}
	c.VoidedAt = &at
	c.UpdatedAt = at
	r.calls[id] = c
	return c, nil
}

func (r *MemoryRepo) SetDisposition(ctx context.Context, id string, d disposition.Disposition, at time.Time) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	if !c.Terminal() || c.Voided() {
		return Call{}, ErrInvalidArgument
	}
	c.Disposition = d
	c.UpdatedAt = at
	r.calls[id] = c
	return c, nil
}
