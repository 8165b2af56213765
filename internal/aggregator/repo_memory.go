package aggregator

import (
	"context"
	"sync"
)

type MemoryRepo struct {
	mu      sync.Mutex
	entries []Entry
	keys    map[string]struct{}
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{keys: map[string]struct{}{}} }

func (r *MemoryRepo) Append(ctx context.Context, entries ...Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch := map[string]struct{}{}
	for _, e := range entries {
		if _, ok := r.keys[e.Key]; ok {
			return ErrDuplicate
		}
		if _, ok := batch[e.Key]; ok {
			return ErrDuplicate
		}
		batch[e.Key] = struct{}{}
	}
	for _, e := range entries {
		r.keys[e.Key] = struct{}{}
		r.entries = append(r.entries, e)
	}
	return nil
}

func (r *MemoryRepo) All(ctx context.Context) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...), nil
}

func (r *MemoryRepo) ForCall(ctx context.Context, callID string) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, e := range r.entries {
		if e.CallID == callID {
			out = append(out, e)
		}
	}
	return out, nil
}
