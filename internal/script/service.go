package script

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("script: not found")
	ErrInvalidArgument = errors.New("script: invalid argument")
	ErrNotActive       = errors.New("script: no active version")
)

// Repository persists script versions. Versions are append-only: a row for
// (id, version) is never rewritten except for the active flag.
type Repository interface {
	// AppendVersion stores a new version. When s.Active is set, every other
	// version of the same script is deactivated atomically.
	AppendVersion(ctx context.Context, s Script) error
	Latest(ctx context.Context, id string) (Script, error)
	Version(ctx context.Context, id string, version int) (Script, error)
	// Active returns the active version or ErrNotActive.
	Active(ctx context.Context, id string) (Script, error)
	List(ctx context.Context) ([]Script, error)
}

// Service validates scripts at write time and hands out immutable snapshots.
type Service struct {
	repo  Repository
	clock func() time.Time

	// mu serializes version allocation within this process.
	mu sync.Mutex
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// Create validates and stores version 1 of a new script.
func (s *Service) Create(ctx context.Context, in Script) (Script, error) {
	if strings.TrimSpace(in.Name) == "" {
		return Script{}, ErrInvalidArgument
	}
	if err := Validate(in); err != nil {
		return Script{}, err
	}
	now := s.clock().UTC()
	in.ID = uuid.NewString()
	in.Version = 1
	in.Active = false
	in.CreatedAt = now
	in.UpdatedAt = now
	if err := s.repo.AppendVersion(ctx, in); err != nil {
		return Script{}, err
	}
	return in, nil
}

// Update stores an edit as a new version. Calls already bound to an older
// version keep it; only new activations see the edit.
func (s *Service) Update(ctx context.Context, id string, edit Script) (Script, error) {
	if id == "" {
		return Script{}, ErrInvalidArgument
	}
	if err := Validate(edit); err != nil {
		return Script{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.repo.Latest(ctx, id)
	if err != nil {
		return Script{}, err
	}
	now := s.clock().UTC()
	next := edit
	next.ID = id
	if next.Name == "" {
		next.Name = cur.Name
	}
	next.Version = cur.Version + 1
	next.Active = false
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = now
	if err := s.repo.AppendVersion(ctx, next); err != nil {
		return Script{}, err
	}
	return next, nil
}

// Activate freezes the latest version of a script into a new, active version and
// returns its snapshot. An invalid script can never be activated.
func (s *Service) Activate(ctx context.Context, id string) (Snapshot, error) {
	if id == "" {
		return Snapshot{}, ErrInvalidArgument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.repo.Latest(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	if err := Validate(cur); err != nil {
		return Snapshot{}, err
	}
	next := cur
	next.Version = cur.Version + 1
	next.Active = true
	next.UpdatedAt = s.clock().UTC()
	if err := s.repo.AppendVersion(ctx, next); err != nil {
		return Snapshot{}, err
	}
	return newSnapshot(next), nil
}

// Resolve returns the snapshot of a specific version. Historical versions stay resolvable.
func (s *Service) Resolve(ctx context.Context, id string, version int) (Snapshot, error) {
	if id == "" || version <= 0 {
		return Snapshot{}, ErrInvalidArgument
	}
	v, err := s.repo.Version(ctx, id, version)
	if err != nil {
		return Snapshot{}, err
	}
	return newSnapshot(v), nil
}

// Current returns the snapshot of the active version, used for ad hoc calls.
func (s *Service) Current(ctx context.Context, id string) (Snapshot, error) {
	if id == "" {
		return Snapshot{}, ErrInvalidArgument
	}
	v, err := s.repo.Active(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	return newSnapshot(v), nil
}

func (s *Service) Get(ctx context.Context, id string) (Script, error) {
	return s.repo.Latest(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Script, error) {
	return s.repo.List(ctx)
}
