package pacing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"campaign-dialer/internal/audit"
	"campaign-dialer/internal/calls"
	"campaign-dialer/internal/campaigns"
	"campaign-dialer/internal/executor"
	"campaign-dialer/internal/leads"
	"campaign-dialer/internal/pricing"
	"campaign-dialer/internal/script"
)

var operator = audit.Actor{ID: "op-1", Role: "supervisor"}

type fakeExec struct {
	mu      sync.Mutex
	err     error
	started []executor.StartRequest
}

func (f *fakeExec) Name() string                          { return "fake" }
func (f *fakeExec) HealthCheck(ctx context.Context) error { return nil }

func (f *fakeExec) StartCall(ctx context.Context, req executor.StartRequest) (executor.StartResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return executor.StartResult{}, f.err
	}
	f.started = append(f.started, req)
	return executor.StartResult{SessionID: "exec-" + req.CallID}, nil
}

func (f *fakeExec) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeExec) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.started)
}

type idleTicker struct{ ch chan time.Time }

func (t idleTicker) C() <-chan time.Time { return t.ch }
func (t idleTicker) Stop()               {}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	ctl     *Controller
	camps   *campaigns.Service
	pool    *leads.Pool
	mgr     *calls.Manager
	scripts *script.Service
	audit   *audit.MemoryRepo
	exec    *fakeExec
	gate    *MemoryGate
	window  *MemoryWindow
	clock   *testClock
}

func everyDay() campaigns.Schedule {
	return campaigns.Schedule{
		Weekdays: []time.Weekday{time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday},
		Timezone: "UTC",
	}
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	scripts := script.NewService(script.NewMemoryRepo())
	h := &harness{
		scripts: scripts,
		pool:    leads.NewPool(leads.NewMemoryRepo(), leads.DefaultOutcomePolicy(), nil),
		mgr:     calls.NewManager(calls.NewMemoryRepo(), pricing.NewBook(), scripts, nil, nil),
		audit:   audit.NewMemoryRepo(),
		exec:    &fakeExec{},
		gate:    NewMemoryGate(),
		window:  NewMemoryWindow(),
		clock:   &testClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)},
	}
	auditSvc := audit.NewService(h.audit)
	h.camps = campaigns.NewService(campaigns.NewMemoryRepo(), h.scripts, auditSvc, nil, nil)
	h.ctl = NewController(Deps{
		Campaigns: h.camps,
		Leads:     h.pool,
		Sessions:  h.mgr,
		Scripts:   h.scripts,
		Executor:  h.exec,
		Gate:      h.gate,
		Window:    h.window,
		Audit:     auditSvc,
	}, cfg, nil)
	h.ctl.clock = h.clock.Now
	h.ctl.newTicker = func(time.Duration) ticker { return idleTicker{ch: make(chan time.Time)} }

	h.camps.OnStatusChange(h.ctl)
	h.mgr.OnFinalized(h.ctl.CallFinalized, func(ctx context.Context, c calls.Call) {
		if _, err := h.pool.MarkOutcome(ctx, c.LeadID, c.ID, c.Disposition); err != nil {
			t.Errorf("mark outcome: %v", err)
		}
	})
	t.Cleanup(h.ctl.Stop)
	return h
}

// campaign creates and activates a campaign with n leads.
func (h *harness) campaign(t *testing.T, in campaigns.Campaign, n int) campaigns.Campaign {
	t.Helper()
	ctx := context.Background()
	s, err := h.scripts.Create(ctx, script.Script{
		Name: "qualifier",
		States: []script.StateDef{
			{Key: "GREETING", State: script.State{Prompt: "Hi", Transitions: map[string]string{"positive": "GOODBYE"}}},
			{Key: "GOODBYE", State: script.State{Prompt: "Bye"}},
		},
	})
	if err != nil {
		t.Fatalf("create script: %v", err)
	}
	if in.Name == "" {
		in.Name = "test campaign"
	}
	in.ScriptID = s.ID
	if len(in.Schedule.Weekdays) == 0 {
		in.Schedule = everyDay()
	}
	cp, err := h.camps.Create(ctx, in)
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	for i := 0; i < n; i++ {
		if _, err := h.pool.Create(ctx, leads.Lead{Name: fmt.Sprintf("lead %d", i), Phone: fmt.Sprintf("+1555010%04d", i), CampaignID: cp.ID}); err != nil {
			t.Fatalf("create lead: %v", err)
		}
	}
	cp, err = h.camps.Activate(ctx, operator, cp.ID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	return cp
}

func (h *harness) tick(t *testing.T, campaignID string) (string, SkipReason) {
	t.Helper()
	id, reason := h.ctl.Tick(context.Background(), campaignID)
	h.ctl.Wait()
	return id, reason
}

func (h *harness) finish(t *testing.T, callID string, status calls.Status) {
	t.Helper()
	if _, err := h.mgr.OnTerminal(context.Background(), callID, calls.TerminalReport{Status: status, EndedAt: h.clock.Now()}); err != nil {
		t.Fatalf("terminal %s: %v", callID, err)
	}
}

func (h *harness) inUse(t *testing.T, campaignID string) int {
	t.Helper()
	n, err := h.gate.InUse(context.Background(), campaignID)
	if err != nil {
		t.Fatalf("in use: %v", err)
	}
	return n
}

var errTransport = errors.New("dial tcp: connection refused")
