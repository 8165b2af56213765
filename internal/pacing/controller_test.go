package pacing

import (
	"context"
	"testing"
	"time"

	"campaign-dialer/internal/calls"
	"campaign-dialer/internal/campaigns"
	"campaign-dialer/internal/leads"
)

func TestPeriod(t *testing.T) {
	cases := []struct {
		cph  int
		want time.Duration
	}{
		{30, 2 * time.Minute},
		{60, time.Minute},
		{10, 6 * time.Minute},
		{7200, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := Period(tc.cph, 30*time.Second); got != tc.want {
			t.Fatalf("Period(%d) = %s, want %s", tc.cph, got, tc.want)
		}
	}
}

func TestScenario_TwoMinutesAtThirtyPerHour(t *testing.T) {
	h := newHarness(t, Config{})
	cp := h.campaign(t, campaigns.Campaign{CallsPerHour: 30, MaxConcurrent: 2}, 10)

	period := Period(cp.CallsPerHour, h.ctl.cfg.MinTick)
	admitted := 0
	for elapsed := time.Second; elapsed <= 2*time.Minute; elapsed += time.Second {
		h.clock.Advance(time.Second)
		if elapsed%period != 0 {
			continue
		}
		if id, _ := h.tick(t, cp.ID); id != "" {
			admitted++
		}
		if n := h.mgr.InFlight(cp.ID); n > 2 {
			t.Fatalf("%d calls in progress, max 2", n)
		}
	}
	if admitted != 1 || h.exec.count() != 1 {
		t.Fatalf("expected exactly one admission in two minutes, got %d (executor saw %d)", admitted, h.exec.count())
	}
	if n := h.mgr.InFlight(cp.ID); n > 2 {
		t.Fatalf("%d calls in progress", n)
	}
}

func TestTick_SlotsBoundConcurrencyAndAreReleasedOnFinalize(t *testing.T) {
	h := newHarness(t, Config{})
	cp := h.campaign(t, campaigns.Campaign{CallsPerHour: 60, MaxConcurrent: 2}, 5)

	first, _ := h.tick(t, cp.ID)
	second, _ := h.tick(t, cp.ID)
	if first == "" || second == "" {
		t.Fatalf("expected two admissions")
	}
	if _, reason := h.tick(t, cp.ID); reason != SkipNoSlot {
		t.Fatalf("expected no_slot, got %q", reason)
	}
	if st := h.ctl.RuntimeState(cp.ID); st.InFlight != 2 || st.LastSkipReason != SkipNoSlot {
		t.Fatalf("unexpected runtime state: %+v", st)
	}

	h.finish(t, first, calls.StatusNoAnswer)
	if h.inUse(t, cp.ID) != 1 {
		t.Fatalf("expected finalize to release a slot")
	}
	if id, reason := h.tick(t, cp.ID); id == "" {
		t.Fatalf("expected admission after release, got %q", reason)
	}
}

func TestTick_RateWindowCapsCallsPerHour(t *testing.T) {
	h := newHarness(t, Config{})
	cp := h.campaign(t, campaigns.Campaign{CallsPerHour: 10, MaxConcurrent: 5}, 20)

	for i := 0; i < 10; i++ {
		id, reason := h.tick(t, cp.ID)
		if id == "" {
			t.Fatalf("tick %d: expected admission, got %q", i, reason)
		}
		h.finish(t, id, calls.StatusBusy)
		h.clock.Advance(time.Minute)
	}
	if _, reason := h.tick(t, cp.ID); reason != SkipRateLimited {
		t.Fatalf("expected rate_limited, got %q", reason)
	}
	if h.inUse(t, cp.ID) != 0 {
		t.Fatalf("rate-limited tick must release its slot")
	}

	// The first admission leaves the window an hour after it happened.
	h.clock.Advance(51 * time.Minute)
	if id, reason := h.tick(t, cp.ID); id == "" {
		t.Fatalf("expected admission once the window slides, got %q", reason)
	}
}

func TestTick_SkipReasons(t *testing.T) {
	t.Run("no lead", func(t *testing.T) {
		h := newHarness(t, Config{})
		cp := h.campaign(t, campaigns.Campaign{CallsPerHour: 30, MaxConcurrent: 1}, 0)
		if _, reason := h.tick(t, cp.ID); reason != SkipNoLead {
			t.Fatalf("expected no_lead, got %q", reason)
		}
		n, _ := h.window.Count(context.Background(), cp.ID, time.Hour, h.clock.Now())
		if h.inUse(t, cp.ID) != 0 || n != 0 {
			t.Fatalf("empty tick must not hold a slot (%d) or rate entry (%d)", h.inUse(t, cp.ID), n)
		}
	})

	t.Run("outside window", func(t *testing.T) {
		h := newHarness(t, Config{})
		night := campaigns.Schedule{StartMinute: 20 * 60, EndMinute: 22 * 60, Weekdays: everyDay().Weekdays}
		cp := h.campaign(t, campaigns.Campaign{CallsPerHour: 30, MaxConcurrent: 1, Schedule: night}, 3)
		if _, reason := h.tick(t, cp.ID); reason != SkipOutsideWindow {
			t.Fatalf("expected outside_window, got %q", reason)
		}
		// Deferred, not dropped: the same lead is dialed once the window opens.
		h.clock.Advance(10 * time.Hour)
		if id, reason := h.tick(t, cp.ID); id == "" {
			t.Fatalf("expected admission inside window, got %q", reason)
		}
	})

	t.Run("paused", func(t *testing.T) {
		h := newHarness(t, Config{})
		cp := h.campaign(t, campaigns.Campaign{CallsPerHour: 30, MaxConcurrent: 1}, 3)
		if _, err := h.camps.Pause(context.Background(), operator, cp.ID, campaigns.PauseManual, ""); err != nil {
			t.Fatalf("pause: %v", err)
		}
		if _, reason := h.tick(t, cp.ID); reason != SkipPaused {
			t.Fatalf("expected paused, got %q", reason)
		}
		if h.ctl.RuntimeState(cp.ID).Running {
			t.Fatalf("loop must stop on pause")
		}
	})
}

func TestPause_DoesNotInterruptInFlightCalls(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	cp := h.campaign(t, campaigns.Campaign{CallsPerHour: 30, MaxConcurrent: 2}, 3)

	id, _ := h.tick(t, cp.ID)
	if _, err := h.camps.Pause(ctx, operator, cp.ID, campaigns.PauseManual, ""); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, _, live := h.mgr.Live(id); !live {
		t.Fatalf("in-flight call must survive a pause")
	}
	h.finish(t, id, calls.StatusNoAnswer)
	if h.inUse(t, cp.ID) != 0 {
		t.Fatalf("slot not released after pause")
	}

	if _, err := h.camps.Resume(ctx, operator, cp.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	st := h.ctl.RuntimeState(cp.ID)
	if !st.Running || st.TickPeriod != "2m0s" {
		t.Fatalf("expected loop restarted, got %+v", st)
	}
}

func TestScenario_ExecutorFailuresAutoPause(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	cp := h.campaign(t, campaigns.Campaign{CallsPerHour: 60, MaxConcurrent: 2}, 5)
	h.exec.fail(errTransport)

	for i := 0; i < 3; i++ {
		if id, reason := h.tick(t, cp.ID); id == "" {
			t.Fatalf("tick %d: expected an admission attempt, got %q", i, reason)
		}
	}

	got, _ := h.camps.Get(ctx, cp.ID)
	if got.Status != campaigns.StatusPaused || got.PauseReason != campaigns.PauseExecutorFailures || got.PauseDetail == "" {
		t.Fatalf("expected auto-pause with reason, got %+v", got)
	}
	if st := h.ctl.RuntimeState(cp.ID); st.ConsecutiveFailures != 3 || st.Running || st.LastError == "" {
		t.Fatalf("unexpected runtime state: %+v", st)
	}
	if h.inUse(t, cp.ID) != 0 || h.mgr.InFlight(cp.ID) != 0 {
		t.Fatalf("failed admissions must release slots and sessions")
	}
	ls, _ := h.pool.List(ctx, leads.ListQuery{CampaignID: cp.ID})
	for _, l := range ls {
		if l.InProgress() || l.Attempts != 0 || l.Status != leads.StatusNew {
			t.Fatalf("lead not returned unmarked: %+v", l)
		}
	}
	autoPauses := 0
	for _, e := range h.audit.Events() {
		if e.CampaignID == cp.ID && e.Type == "campaign_auto_pause" {
			autoPauses++
		}
	}
	if autoPauses != 1 {
		t.Fatalf("expected one auto-pause audit record, got %d", autoPauses)
	}

	// Next activation cycle: a success resets the counter.
	if _, err := h.camps.Resume(ctx, operator, cp.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	h.exec.fail(nil)
	if id, _ := h.tick(t, cp.ID); id == "" {
		t.Fatalf("expected admission after resume")
	}
	if st := h.ctl.RuntimeState(cp.ID); st.ConsecutiveFailures != 0 {
		t.Fatalf("success must reset failures, got %d", st.ConsecutiveFailures)
	}

	h.exec.fail(errTransport)
	h.tick(t, cp.ID)
	h.tick(t, cp.ID)
	got, _ = h.camps.Get(ctx, cp.ID)
	if got.Status != campaigns.StatusActive {
		t.Fatalf("two failures after a success must not pause, got %s", got.Status)
	}
}

func TestStart_RecoversActiveCampaigns(t *testing.T) {
	h := newHarness(t, Config{})
	cp := h.campaign(t, campaigns.Campaign{CallsPerHour: 30, MaxConcurrent: 2}, 3)
	id, _ := h.tick(t, cp.ID)

	// A second controller over the same state, as after a restart.
	ctl := NewController(Deps{
		Campaigns: h.camps,
		Leads:     h.pool,
		Sessions:  h.mgr,
		Scripts:   h.scripts,
		Executor:  h.exec,
	}, Config{}, nil)
	ctl.newTicker = h.ctl.newTicker
	defer ctl.Stop()
	if err := ctl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	st := ctl.RuntimeState(cp.ID)
	if !st.Running || st.InFlight != 1 {
		t.Fatalf("expected running loop with one adopted call, got %+v", st)
	}
	ctl.CallFinalized(context.Background(), calls.Call{ID: id})
	if st := ctl.RuntimeState(cp.ID); st.InFlight != 0 {
		t.Fatalf("adopted slot not released")
	}
}
