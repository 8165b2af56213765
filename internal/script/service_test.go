package script

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestService() *Service {
	svc := NewService(NewMemoryRepo())
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	svc.clock = func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	return svc
}

func TestService_EditCreatesNewVersionAndKeepsOldResolvable(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	created, err := svc.Create(ctx, bookingScript())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Version != 1 || created.Active {
		t.Fatalf("unexpected created script: %+v", created)
	}

	snap1, err := svc.Activate(ctx, created.ID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if snap1.Version() != 2 {
		t.Fatalf("expected activation to allocate version 2, got %d", snap1.Version())
	}

	edit := bookingScript()
	edit.States[2].Transitions["declined"] = "GOODBYE"
	updated, err := svc.Update(ctx, created.ID, edit)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Version != 3 || updated.Active {
		t.Fatalf("unexpected updated script: %+v", updated)
	}

	// The active version is still the one activated before the edit.
	cur, err := svc.Current(ctx, created.ID)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if cur.Version() != 2 {
		t.Fatalf("expected active version 2, got %d", cur.Version())
	}

	old, err := svc.Resolve(ctx, created.ID, 2)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if next, _ := old.Next("BOOKING", "declined"); next != "OBJECTION_HANDLE" {
		t.Fatalf("historical version changed: %q", next)
	}

	snap2, err := svc.Activate(ctx, created.ID)
	if err != nil {
		t.Fatalf("activate edit: %v", err)
	}
	if snap2.Version() != 4 {
		t.Fatalf("expected version 4, got %d", snap2.Version())
	}
	if next, _ := snap2.Next("BOOKING", "declined"); next != "GOODBYE" {
		t.Fatalf("expected edit in new snapshot, got %q", next)
	}
}

func TestService_RejectsInvalidScripts(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	bad := bookingScript()
	bad.States[0].Transitions["positive"] = "MISSING"
	if _, err := svc.Create(ctx, bad); !errors.Is(err, ErrUnknownTransitionTarget) {
		t.Fatalf("expected ErrUnknownTransitionTarget, got %v", err)
	}

	created, err := svc.Create(ctx, bookingScript())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Update(ctx, created.ID, bad); !errors.Is(err, ErrUnknownTransitionTarget) {
		t.Fatalf("expected update rejection, got %v", err)
	}
	latest, _ := svc.Get(ctx, created.ID)
	if latest.Version != 1 {
		t.Fatalf("rejected edit must not allocate a version, got %d", latest.Version)
	}
}

func TestService_CurrentWithoutActivation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	created, _ := svc.Create(ctx, bookingScript())
	if _, err := svc.Current(ctx, created.ID); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
	if _, err := svc.Resolve(ctx, created.ID, 9); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Create(ctx, Script{States: bookingScript().States}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for missing name, got %v", err)
	}
}
