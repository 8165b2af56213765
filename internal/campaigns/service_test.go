package campaigns

import (
	"context"
	"errors"
	"testing"
	"time"

	"campaign-dialer/internal/audit"
	"campaign-dialer/internal/events"
	"campaign-dialer/internal/script"
)

type recordingListener struct {
	seen []Status
}

func (l *recordingListener) CampaignStatusChanged(ctx context.Context, c Campaign) {
	l.seen = append(l.seen, c.Status)
}

type fixture struct {
	svc      *Service
	scripts  *script.Service
	audit    *audit.MemoryRepo
	bus      *events.Bus
	listener *recordingListener
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	scripts := script.NewService(script.NewMemoryRepo())
	auditRepo := audit.NewMemoryRepo()
	bus := events.NewBus()
	svc := NewService(NewMemoryRepo(), scripts, audit.NewService(auditRepo), bus, nil)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	svc.clock = func() time.Time { return now }
	l := &recordingListener{}
	svc.OnStatusChange(l)
	return fixture{svc: svc, scripts: scripts, audit: auditRepo, bus: bus, listener: l}
}

func (f fixture) script(t *testing.T) script.Script {
	t.Helper()
	s, err := f.scripts.Create(context.Background(), script.Script{
		Name: "qualifier",
		States: []script.StateDef{
			{Key: "GREETING", State: script.State{Prompt: "Hi", Transitions: map[string]string{"positive": "GOODBYE"}}},
			{Key: "GOODBYE", State: script.State{Prompt: "Bye"}},
		},
	})
	if err != nil {
		t.Fatalf("create script: %v", err)
	}
	return s
}

func (f fixture) draft(t *testing.T, scriptID string) Campaign {
	t.Helper()
	c, err := f.svc.Create(context.Background(), Campaign{Name: "spring solar", ScriptID: scriptID, MaxConcurrent: 2, CallsPerHour: 30})
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	return c
}

var operator = audit.Actor{ID: "op-1", Role: "supervisor"}

func TestCreate_AppliesDefaults(t *testing.T) {
	f := newFixture(t)
	c := f.draft(t, "")
	if c.Status != StatusDraft || c.Type != TypeOutbound {
		t.Fatalf("unexpected campaign: %+v", c)
	}
	if len(c.Schedule.Weekdays) != 5 {
		t.Fatalf("expected default schedule, got %+v", c.Schedule)
	}
	if _, err := f.svc.Create(context.Background(), Campaign{Name: "x", MaxConcurrent: 9}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestActivate_RequiresBoundScript(t *testing.T) {
	f := newFixture(t)
	c := f.draft(t, "")

	_, err := f.svc.Activate(context.Background(), operator, c.ID)
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}
	got, _ := f.svc.Get(context.Background(), c.ID)
	if got.Status != StatusDraft {
		t.Fatalf("expected draft to stay draft, got %s", got.Status)
	}

	missing := f.draft(t, "no-such-script")
	if _, err := f.svc.Activate(context.Background(), operator, missing.ID); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed for missing script, got %v", err)
	}
}

type invalidScripts struct{}

func (invalidScripts) Activate(ctx context.Context, id string) (script.Snapshot, error) {
	return script.Snapshot{}, &script.ValidationError{Problems: []script.Problem{{Kind: script.ErrUnknownTransitionTarget, State: "A", Label: "x", Target: "Z"}}}
}

func TestActivate_SurfacesScriptValidation(t *testing.T) {
	svc := NewService(NewMemoryRepo(), invalidScripts{}, nil, nil, nil)
	c, err := svc.Create(context.Background(), Campaign{Name: "c", ScriptID: "s", MaxConcurrent: 1, CallsPerHour: 10})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = svc.Activate(context.Background(), operator, c.ID)
	if !errors.Is(err, script.ErrUnknownTransitionTarget) {
		t.Fatalf("expected script validation error, got %v", err)
	}
}

func TestLifecycle_PauseResumeKeepsBoundVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.script(t)
	c := f.draft(t, s.ID)
	sub := f.bus.Subscribe(8, events.CampaignStatus)
	defer sub.Close()

	active, err := f.svc.Activate(ctx, operator, c.ID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if active.Status != StatusActive || active.ScriptVersion != 2 || active.ActivatedAt == nil {
		t.Fatalf("unexpected active campaign: %+v", active)
	}

	if _, err := f.svc.Activate(ctx, operator, c.ID); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected second activate to fail, got %v", err)
	}
	if _, err := f.svc.Resume(ctx, operator, c.ID); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected resume of active to fail, got %v", err)
	}

	paused, err := f.svc.Pause(ctx, operator, c.ID, PauseManual, "")
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if paused.PauseReason != PauseManual {
		t.Fatalf("expected manual pause reason")
	}

	// An edit while paused must not leak into the bound version.
	if _, err := f.scripts.Update(ctx, s.ID, script.Script{States: []script.StateDef{{Key: "ONLY"}}}); err != nil {
		t.Fatalf("update script: %v", err)
	}

	resumed, err := f.svc.Resume(ctx, operator, c.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.ScriptVersion != 2 || resumed.PauseReason != "" {
		t.Fatalf("unexpected resumed campaign: %+v", resumed)
	}

	done, err := f.svc.Complete(ctx, operator, c.ID)
	if err != nil || done.Status != StatusCompleted || done.CompletedAt == nil {
		t.Fatalf("complete: %+v %v", done, err)
	}
	if _, err := f.svc.Complete(ctx, operator, c.ID); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed on second complete, got %v", err)
	}

	want := []Status{StatusActive, StatusPaused, StatusActive, StatusCompleted}
	if len(f.listener.seen) != len(want) {
		t.Fatalf("listener saw %v", f.listener.seen)
	}
	for i := range want {
		if f.listener.seen[i] != want[i] {
			t.Fatalf("listener saw %v, want %v", f.listener.seen, want)
		}
	}
	if n := len(f.audit.Events()); n != 4 {
		t.Fatalf("expected 4 audit events, got %d", n)
	}
	if n := len(sub.C()); n != 4 {
		t.Fatalf("expected 4 notifications, got %d", n)
	}
}

func TestPause_AutoPauseRecordsReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.draft(t, f.script(t).ID)
	if _, err := f.svc.Activate(ctx, operator, c.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	got, err := f.svc.Pause(ctx, audit.System, c.ID, PauseExecutorFailures, "3 consecutive executor failures")
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if got.PauseReason != PauseExecutorFailures || got.PauseDetail == "" {
		t.Fatalf("unexpected pause: %+v", got)
	}
	if _, err := f.svc.Pause(ctx, audit.System, c.ID, PauseExecutorFailures, ""); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected pausing a paused campaign to fail, got %v", err)
	}
}

func TestUpdate_RefusesScriptChangeWhileActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.draft(t, f.script(t).ID)
	if _, err := f.svc.Activate(ctx, operator, c.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	other := "s-2"
	if _, err := f.svc.Update(ctx, c.ID, Patch{ScriptID: &other}); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}
	cph := 60
	got, err := f.svc.Update(ctx, c.ID, Patch{CallsPerHour: &cph})
	if err != nil || got.CallsPerHour != 60 {
		t.Fatalf("update pacing: %+v %v", got, err)
	}
}
