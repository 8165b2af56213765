package campaigns

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type MemoryRepo struct {
	mu   sync.Mutex
	byID map[string]Campaign
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{byID: map[string]Campaign{}} }

func (r *MemoryRepo) Create(ctx context.Context, c Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[c.ID]; ok {
		return ErrInvalidArgument
	}
	r.byID[c.ID] = c
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return Campaign{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) List(ctx context.Context, q ListQuery) ([]Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Campaign{}
	for _, c := range r.byID {
		if q.Status != "" && c.Status != q.Status {
			continue
		}
		if q.Type != "" && c.Type != q.Type {
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
	if q.Offset >= len(out) {
		return []Campaign{}, nil
	}
	out = out[q.Offset:]
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r *MemoryRepo) Save(ctx context.Context, c Campaign, from Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[c.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != from {
		return fmt.Errorf("%w: status changed to %s", ErrPreconditionFailed, cur.Status)
	}
	r.byID[c.ID] = c
	return nil
}
