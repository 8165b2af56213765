package pacing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"campaign-dialer/internal/audit"
	"campaign-dialer/internal/calls"
	"campaign-dialer/internal/campaigns"
	"campaign-dialer/internal/events"
	"campaign-dialer/internal/executor"
	"campaign-dialer/internal/leads"
	"campaign-dialer/internal/script"
)

var (
	ErrExecutorFailure = errors.New("pacing: executor failure")
	ErrInvalidArgument = errors.New("pacing: invalid argument")
)

// SkipReason explains why a tick admitted nothing. Skips are expected and never errors.
type SkipReason string

const (
	SkipNone          SkipReason = ""
	SkipPaused        SkipReason = "paused"
	SkipOutsideWindow SkipReason = "outside_window"
	SkipNoSlot        SkipReason = "no_slot"
	SkipRateLimited   SkipReason = "rate_limited"
	SkipNoLead        SkipReason = "no_lead"
	SkipError         SkipReason = "error"
)

// CampaignStore is the part of the campaign service the controller needs.
type CampaignStore interface {
	Get(ctx context.Context, id string) (campaigns.Campaign, error)
	List(ctx context.Context, q campaigns.ListQuery) ([]campaigns.Campaign, error)
	Pause(ctx context.Context, actor audit.Actor, id string, reason campaigns.PauseReason, detail string) (campaigns.Campaign, error)
}

type LeadPool interface {
	NextEligible(ctx context.Context, f leads.Filter, callID string) (leads.Lead, error)
	Reserve(ctx context.Context, id, callID string) (leads.Lead, error)
	ReserveInbound(ctx context.Context, phone, campaignID, callID string) (leads.Lead, error)
	Release(ctx context.Context, id, callID string) error
	MarkDialed(ctx context.Context, id, callID string) error
}

// Sessions is implemented by *calls.Manager.
type Sessions interface {
	Open(c calls.Call, snap script.Snapshot) (calls.Call, error)
	Confirm(ctx context.Context, callID, executorSessionID string) (calls.Call, error)
	Discard(callID string)
	InFlightIDs(campaignID string) []string
}

type Scripts interface {
	Resolve(ctx context.Context, id string, version int) (script.Snapshot, error)
	Current(ctx context.Context, id string) (script.Snapshot, error)
}

type Auditor interface {
	LogAutoPause(ctx context.Context, campaignID string, failures int, lastErr string) error
}

type Config struct {
	// MinTick clamps the tick period for high calls_per_hour values.
	MinTick time.Duration
	// FailureThreshold is the number of consecutive executor failures that auto-pauses a campaign.
	FailureThreshold int
	// RateWindow is the sliding window calls_per_hour is measured over.
	RateWindow time.Duration
	// StartTimeout bounds one admission, retries included.
	StartTimeout time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.MinTick <= 0 {
		out.MinTick = 30 * time.Second
	}
	if out.FailureThreshold <= 0 {
		out.FailureThreshold = 3
	}
	if out.RateWindow <= 0 {
		out.RateWindow = time.Hour
	}
	if out.StartTimeout <= 0 {
		out.StartTimeout = 30 * time.Second
	}
	return out
}

// Period is the tick interval for a calls_per_hour budget.
func Period(callsPerHour int, minTick time.Duration) time.Duration {
	if callsPerHour <= 0 {
		return time.Hour
	}
	p := time.Hour / time.Duration(callsPerHour)
	if p < minTick {
		return minTick
	}
	return p
}

// RuntimeState is the controller's live view of one campaign.
type RuntimeState struct {
	CampaignID          string     `json:"campaign_id"`
	Running             bool       `json:"running"`
	TickPeriod          string     `json:"tick_period,omitempty"`
	InFlight            int        `json:"in_flight"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastSkipReason      SkipReason `json:"last_skip_reason,omitempty"`
	LastSkipAt          *time.Time `json:"last_skip_at,omitempty"`
	LastAdmitAt         *time.Time `json:"last_admit_at,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	Admitted            int64      `json:"admitted"`
}

type runtime struct {
	active   bool
	failures int
	lastSkip SkipReason
	skipAt   time.Time
	admitAt  time.Time
	lastErr  string
	admitted int64

	cancel context.CancelFunc
	period time.Duration
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// Controller runs one tick loop per active outbound campaign and admits leads
// into calls within the campaign's concurrency, rate and schedule limits.
type Controller struct {
	campaigns CampaignStore
	leads     LeadPool
	sessions  Sessions
	scripts   Scripts
	exec      executor.Executor
	gate      SlotGate
	window    RateWindow
	audit     Auditor
	pub       events.Publisher
	log       *slog.Logger
	cfg       Config

	clock     func() time.Time
	newTicker func(time.Duration) ticker

	mu    sync.Mutex
	state map[string]*runtime
	// held maps call id to campaign id for every call that owns a slot.
	held map[string]string
	base context.Context

	admissions sync.WaitGroup
	loops      sync.WaitGroup
}

type Deps struct {
	Campaigns CampaignStore
	Leads     LeadPool
	Sessions  Sessions
	Scripts   Scripts
	Executor  executor.Executor
	Gate      SlotGate
	Window    RateWindow
	Audit     Auditor
	Publisher events.Publisher
}

func NewController(d Deps, cfg Config, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	if d.Gate == nil {
		d.Gate = NewMemoryGate()
	}
	if d.Window == nil {
		d.Window = NewMemoryWindow()
	}
	if d.Publisher == nil {
		d.Publisher = events.Nop{}
	}
	if d.Executor == nil {
		d.Executor = executor.Unavailable{}
	}
	return &Controller{
		campaigns: d.Campaigns,
		leads:     d.Leads,
		sessions:  d.Sessions,
		scripts:   d.Scripts,
		exec:      d.Executor,
		gate:      d.Gate,
		window:    d.Window,
		audit:     d.Audit,
		pub:       d.Publisher,
		log:       log.With("component", "pacing"),
		cfg:       cfg.withDefaults(),
		clock:     time.Now,
		newTicker: func(d time.Duration) ticker { return realTicker{time.NewTicker(d)} },
		state:     map[string]*runtime{},
		held:      map[string]string{},
		base:      context.Background(),
	}
}

// rt returns the runtime record for a campaign. Caller holds c.mu.
func (c *Controller) rt(campaignID string) *runtime {
	r, ok := c.state[campaignID]
	if !ok {
		r = &runtime{}
		c.state[campaignID] = r
	}
	return r
}

// Start adopts recovered in-flight calls and starts loops for every active campaign.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	c.base = context.WithoutCancel(ctx)
	c.mu.Unlock()

	for offset := 0; ; offset += 500 {
		page, err := c.campaigns.List(ctx, campaigns.ListQuery{Status: campaigns.StatusActive, Limit: 500, Offset: offset})
		if err != nil {
			return fmt.Errorf("pacing: list active campaigns: %w", err)
		}
		for _, cp := range page {
			c.adopt(ctx, cp)
			c.apply(ctx, cp, false)
		}
		if len(page) < 500 {
			return nil
		}
	}
}

// adopt re-acquires slots for calls that survived a restart. A slot that
// cannot be acquired is not tracked, which can only under-admit.
func (c *Controller) adopt(ctx context.Context, cp campaigns.Campaign) {
	for _, id := range c.sessions.InFlightIDs(cp.ID) {
		ok, err := c.gate.TryAcquire(ctx, cp.ID, cp.MaxConcurrent)
		if err != nil || !ok {
			continue
		}
		c.mu.Lock()
		c.held[id] = cp.ID
		c.mu.Unlock()
	}
}

// Stop cancels every loop and waits for loops and pending admissions.
func (c *Controller) Stop() {
	c.mu.Lock()
	for _, r := range c.state {
		if r.cancel != nil {
			r.cancel()
			r.cancel = nil
		}
	}
	c.mu.Unlock()
	c.loops.Wait()
	c.admissions.Wait()
}

// Wait blocks until every admission started so far has finished.
func (c *Controller) Wait() { c.admissions.Wait() }

// CampaignStatusChanged flips the admission flag and (re)starts or stops the
// campaign's loop. It implements campaigns.StatusListener.
func (c *Controller) CampaignStatusChanged(ctx context.Context, cp campaigns.Campaign) {
	c.apply(ctx, cp, true)
}

// apply reconciles the runtime with cp. With fresh set, entering the active
// status starts a new activation cycle.
func (c *Controller) apply(ctx context.Context, cp campaigns.Campaign, fresh bool) {
	c.mu.Lock()
	r := c.rt(cp.ID)
	wasActive := r.active
	r.active = cp.Status == campaigns.StatusActive

	if !r.active {
		if r.cancel != nil {
			r.cancel()
			r.cancel = nil
		}
		c.mu.Unlock()
		return
	}
	if fresh && !wasActive {
		// A fresh activation cycle: no failure or rate debt carries over.
		r.failures = 0
		r.lastErr = ""
		if err := c.window.Reset(ctx, cp.ID); err != nil {
			c.log.Warn("rate window reset failed", "campaign_id", cp.ID, "err", err)
		}
	}

	period := Period(cp.CallsPerHour, c.cfg.MinTick)
	if !cp.Type.Dials() {
		if r.cancel != nil {
			r.cancel()
			r.cancel = nil
		}
		c.mu.Unlock()
		return
	}
	if r.cancel != nil && r.period == period {
		c.mu.Unlock()
		return
	}
	if r.cancel != nil {
		r.cancel()
	}
	loopCtx, cancel := context.WithCancel(c.base)
	r.cancel = cancel
	r.period = period
	c.loops.Add(1)
	c.mu.Unlock()

	c.log.Info("pacing loop started", "campaign_id", cp.ID, "period", period.String())
	go c.run(loopCtx, cp.ID, period)
}

func (c *Controller) run(ctx context.Context, campaignID string, period time.Duration) {
	defer c.loops.Done()
	t := c.newTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			c.Tick(ctx, campaignID)
		}
	}
}

// Tick attempts one admission. It returns the new call id, or the reason nothing was admitted.
func (c *Controller) Tick(ctx context.Context, campaignID string) (string, SkipReason) {
	c.mu.Lock()
	active := c.rt(campaignID).active
	c.mu.Unlock()
	if !active {
		return "", c.skip(campaignID, SkipPaused)
	}

	cp, err := c.campaigns.Get(ctx, campaignID)
	if err != nil {
		c.log.Warn("campaign lookup failed", "campaign_id", campaignID, "err", err)
		return "", c.skip(campaignID, SkipError)
	}
	if cp.Status != campaigns.StatusActive || !cp.Type.Dials() {
		return "", c.skip(campaignID, SkipPaused)
	}
	now := c.clock()
	if !cp.Schedule.Contains(now) {
		return "", c.skip(campaignID, SkipOutsideWindow)
	}

	ok, err := c.gate.TryAcquire(ctx, cp.ID, cp.MaxConcurrent)
	if err != nil {
		c.log.Warn("slot acquire failed", "campaign_id", cp.ID, "err", err)
		return "", c.skip(campaignID, SkipError)
	}
	if !ok {
		return "", c.skip(campaignID, SkipNoSlot)
	}

	callID := uuid.NewString()
	ok, err = c.window.Allow(ctx, cp.ID, callID, cp.CallsPerHour, c.cfg.RateWindow, now)
	if err != nil || !ok {
		c.releaseSlot(ctx, cp.ID)
		if err != nil {
			c.log.Warn("rate window check failed", "campaign_id", cp.ID, "err", err)
			return "", c.skip(campaignID, SkipError)
		}
		return "", c.skip(campaignID, SkipRateLimited)
	}

	lead, err := c.leads.NextEligible(ctx, cp.LeadFilter(), callID)
	if err != nil {
		c.releaseSlot(ctx, cp.ID)
		c.cancelRate(ctx, cp.ID, callID)
		if errors.Is(err, leads.ErrNoEligibleLead) {
			return "", c.skip(campaignID, SkipNoLead)
		}
		c.log.Warn("lead selection failed", "campaign_id", cp.ID, "err", err)
		return "", c.skip(campaignID, SkipError)
	}

	snap, err := c.scripts.Resolve(ctx, cp.ScriptID, cp.ScriptVersion)
	if err == nil {
		_, err = c.sessions.Open(calls.Call{
			ID:         callID,
			LeadID:     lead.ID,
			CampaignID: cp.ID,
			Phone:      lead.Phone,
			Direction:  calls.DirectionOutbound,
		}, snap)
	}
	if err != nil {
		c.log.Error("session open failed", "campaign_id", cp.ID, "call_id", callID, "err", err)
		c.releaseLead(ctx, lead.ID, callID)
		c.releaseSlot(ctx, cp.ID)
		c.cancelRate(ctx, cp.ID, callID)
		return "", c.skip(campaignID, SkipError)
	}

	c.mu.Lock()
	c.held[callID] = cp.ID
	r := c.rt(cp.ID)
	r.lastSkip = SkipNone
	r.admitAt = now
	r.admitted++
	base := c.base
	c.mu.Unlock()

	c.admissions.Add(1)
	go c.admit(base, cp, lead, snap, callID)
	return callID, SkipNone
}

// admit hands the call to the executor. It runs detached from the tick loop so
// pausing never interrupts an admission that already started.
func (c *Controller) admit(ctx context.Context, cp campaigns.Campaign, lead leads.Lead, snap script.Snapshot, callID string) {
	defer c.admissions.Done()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.StartTimeout)
	defer cancel()

	res, err := c.exec.StartCall(ctx, executor.StartRequest{
		CallID:        callID,
		CampaignID:    cp.ID,
		LeadID:        lead.ID,
		LeadName:      lead.Name,
		Phone:         lead.Phone,
		Direction:     string(calls.DirectionOutbound),
		ScriptID:      snap.ScriptID(),
		ScriptVersion: snap.Version(),
		Script:        snap,
		RequestedAt:   c.clock().UTC(),
	})
	if err != nil {
		cleanup := context.WithoutCancel(ctx)
		c.sessions.Discard(callID)
		c.releaseLead(cleanup, lead.ID, callID)
		c.releaseHeld(cleanup, callID)
		c.recordFailure(cleanup, cp.ID, err)
		return
	}

	if err := c.leads.MarkDialed(ctx, lead.ID, callID); err != nil {
		c.log.Warn("mark dialed failed", "lead_id", lead.ID, "call_id", callID, "err", err)
	}
	if _, err := c.sessions.Confirm(ctx, callID, res.SessionID); err != nil {
		c.log.Error("call confirm failed", "call_id", callID, "err", err)
	}
	c.recordSuccess(cp.ID)
	c.log.Info("call admitted", "campaign_id", cp.ID, "call_id", callID, "lead_id", lead.ID)
}

func (c *Controller) recordSuccess(campaignID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.rt(campaignID)
	r.failures = 0
	r.lastErr = ""
}

func (c *Controller) recordFailure(ctx context.Context, campaignID string, cause error) {
	c.mu.Lock()
	r := c.rt(campaignID)
	r.failures++
	r.lastErr = cause.Error()
	failures := r.failures
	trip := r.active && failures >= c.cfg.FailureThreshold
	c.mu.Unlock()

	c.log.Warn("executor rejected admission", "campaign_id", campaignID, "consecutive_failures", failures, "err", cause)
	c.pub.Publish(events.Notification{
		Type:       events.ExecutorFailure,
		CampaignID: campaignID,
		At:         c.clock().UTC(),
		Data:       map[string]any{"consecutive_failures": failures, "error": cause.Error()},
	})
	if !trip {
		return
	}

	detail := fmt.Sprintf("%d consecutive executor failures: %v", failures, cause)
	if _, err := c.campaigns.Pause(ctx, audit.System, campaignID, campaigns.PauseExecutorFailures, detail); err != nil {
		if !errors.Is(err, campaigns.ErrPreconditionFailed) {
			c.log.Error("auto-pause failed", "campaign_id", campaignID, "err", err)
		}
		return
	}
	if c.audit != nil {
		if err := c.audit.LogAutoPause(ctx, campaignID, failures, cause.Error()); err != nil {
			c.log.Warn("audit append failed", "campaign_id", campaignID, "err", err)
		}
	}
}

// CallFinalized frees the slot of a finished call. Register it as a calls.FinalizeHook.
func (c *Controller) CallFinalized(ctx context.Context, call calls.Call) {
	c.releaseHeld(ctx, call.ID)
}

func (c *Controller) releaseHeld(ctx context.Context, callID string) {
	c.mu.Lock()
	campaignID, ok := c.held[callID]
	delete(c.held, callID)
	c.mu.Unlock()
	if ok {
		c.releaseSlot(ctx, campaignID)
	}
}

func (c *Controller) releaseSlot(ctx context.Context, campaignID string) {
	if err := c.gate.Release(ctx, campaignID); err != nil {
		c.log.Warn("slot release failed", "campaign_id", campaignID, "err", err)
	}
}

func (c *Controller) releaseLead(ctx context.Context, leadID, callID string) {
	if err := c.leads.Release(ctx, leadID, callID); err != nil {
		c.log.Warn("lead release failed", "lead_id", leadID, "call_id", callID, "err", err)
	}
}

func (c *Controller) cancelRate(ctx context.Context, campaignID, callID string) {
	if err := c.window.Cancel(ctx, campaignID, callID); err != nil {
		c.log.Warn("rate window cancel failed", "campaign_id", campaignID, "err", err)
	}
}

func (c *Controller) skip(campaignID string, reason SkipReason) SkipReason {
	now := c.clock()
	c.mu.Lock()
	r := c.rt(campaignID)
	r.lastSkip = reason
	r.skipAt = now
	c.mu.Unlock()

	c.log.Debug("admission skipped", "campaign_id", campaignID, "reason", string(reason))
	c.pub.Publish(events.Notification{
		Type:       events.AdmissionSkip,
		CampaignID: campaignID,
		At:         now.UTC(),
		Data:       map[string]string{"reason": string(reason)},
	})
	return reason
}

// RuntimeState reports the live counters of a campaign.
func (c *Controller) RuntimeState(campaignID string) RuntimeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := RuntimeState{CampaignID: campaignID}
	for _, cid := range c.held {
		if cid == campaignID {
			out.InFlight++
		}
	}
	r, ok := c.state[campaignID]
	if !ok {
		return out
	}
	out.Running = r.cancel != nil
	if out.Running {
		out.TickPeriod = r.period.String()
	}
	out.ConsecutiveFailures = r.failures
	out.LastSkipReason = r.lastSkip
	out.LastError = r.lastErr
	out.Admitted = r.admitted
	if !r.skipAt.IsZero() && r.lastSkip != SkipNone {
		t := r.skipAt
		out.LastSkipAt = &t
	}
	if !r.admitAt.IsZero() {
		t := r.admitAt
		out.LastAdmitAt = &t
	}
	return out
}
