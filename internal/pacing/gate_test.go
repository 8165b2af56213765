package pacing

import (
	"context"
	"testing"
	"time"
)

func TestMemoryGate(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGate()
	for i := 0; i < 2; i++ {
		if ok, _ := g.TryAcquire(ctx, "c", 2); !ok {
			t.Fatalf("acquire %d failed", i)
		}
	}
	if ok, _ := g.TryAcquire(ctx, "c", 2); ok {
		t.Fatalf("gate over capacity")
	}
	if ok, _ := g.TryAcquire(ctx, "other", 1); !ok {
		t.Fatalf("gates must be per campaign")
	}
	_ = g.Release(ctx, "c")
	_ = g.Release(ctx, "c")
	_ = g.Release(ctx, "c")
	if n, _ := g.InUse(ctx, "c"); n != 0 {
		t.Fatalf("release must not go negative, got %d", n)
	}
}

func TestMemoryWindow(t *testing.T) {
	ctx := context.Background()
	w := NewMemoryWindow()
	t0 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	if ok, _ := w.Allow(ctx, "c", "a", 2, time.Hour, t0); !ok {
		t.Fatalf("a")
	}
	if ok, _ := w.Allow(ctx, "c", "b", 2, time.Hour, t0.Add(time.Minute)); !ok {
		t.Fatalf("b")
	}
	if ok, _ := w.Allow(ctx, "c", "x", 2, time.Hour, t0.Add(2*time.Minute)); ok {
		t.Fatalf("window over limit")
	}
	_ = w.Cancel(ctx, "c", "b")
	if ok, _ := w.Allow(ctx, "c", "c", 2, time.Hour, t0.Add(2*time.Minute)); !ok {
		t.Fatalf("cancel must free room")
	}
	if n, _ := w.Count(ctx, "c", time.Hour, t0.Add(time.Hour)); n != 1 {
		t.Fatalf("expected the first entry to slide out, got %d", n)
	}
	_ = w.Reset(ctx, "c")
	if n, _ := w.Count(ctx, "c", time.Hour, t0); n != 0 {
		t.Fatalf("reset must empty the window")
	}
}
