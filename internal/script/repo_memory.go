package script

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory version store for tests and the memory storage backend.
type MemoryRepo struct {
	mu       sync.Mutex
	versions map[string][]Script
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{versions: map[string][]Script{}} }

func (r *MemoryRepo) AppendVersion(ctx context.Context, s Script) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := r.versions[s.ID]
	if s.Active {
		for i := range rows {
			rows[i].Active = false
		}
	}
	r.versions[s.ID] = append(rows, cloneScript(s))
	return nil
}

func (r *MemoryRepo) Latest(ctx context.Context, id string) (Script, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := r.versions[id]
	if len(rows) == 0 {
		return Script{}, ErrNotFound
	}
	return cloneScript(rows[len(rows)-1]), nil
}

func (r *MemoryRepo) Version(ctx context.Context, id string, version int) (Script, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.versions[id] {
		if s.Version == version {
			return cloneScript(s), nil
		}
	}
	return Script{}, ErrNotFound
}

func (r *MemoryRepo) Active(ctx context.Context, id string) (Script, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows, ok := r.versions[id]
	if !ok {
		return Script{}, ErrNotFound
	}
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].Active {
			return cloneScript(rows[i]), nil
		}
	}
	return Script{}, ErrNotActive
}

func (r *MemoryRepo) List(ctx context.Context) ([]Script, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Script, 0, len(r.versions))
	for _, rows := range r.versions {
		out = append(out, cloneScript(rows[len(rows)-1]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func cloneScript(s Script) Script {
	out := s
	out.States = make([]StateDef, len(s.States))
	for i, d := range s.States {
		tr := make(map[string]string, len(d.Transitions))
		for k, v := range d.Transitions {
			tr[k] = v
		}
		out.States[i] = StateDef{Key: d.Key, State: State{Prompt: d.Prompt, Transitions: tr}}
	}
	return out
}
