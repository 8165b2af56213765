package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"campaign-dialer/internal/disposition"
	"campaign-dialer/internal/events"
	"campaign-dialer/internal/pricing"
	"campaign-dialer/internal/script"
)

// Repository persists calls and their append-only event logs.
type Repository interface {
	Create(ctx context.Context, c Call, events []Event) error
	// AppendEvent inserts ev; an existing (call_id, id) is not an error.
	AppendEvent(ctx context.Context, ev Event) error
	// SaveProgress updates the live fields of an in-progress call.
	SaveProgress(ctx context.Context, c Call) error
	// Finalize writes the terminal record. It returns ErrFinalizationConflict
	// when the stored call is no longer in progress.
	Finalize(ctx context.Context, c Call) error
	Get(ctx context.Context, id string) (Call, error)
	Events(ctx context.Context, callID string) ([]Event, error)
	List(ctx context.Context, q ListQuery) ([]Call, error)
	SetVoided(ctx context.Context, id string, at time.Time) (Call, error)
	// SetDisposition corrects the outcome of a finalized call.
	SetDisposition(ctx context.Context, id string, d disposition.Disposition, at time.Time) (Call, error)
}

type ListQuery struct {
	CampaignID string
	LeadID     string
	Status     Status
	// Finished selects every terminal call; it wins over Status.
	Finished bool
	Limit    int
	Offset   int
}

// Pricer prices raw executor usage.
type Pricer interface {
	Price(u pricing.Usage) (pricing.Cost, error)
}

// SnapshotResolver loads the script version a call is bound to.
type SnapshotResolver interface {
	Resolve(ctx context.Context, id string, version int) (script.Snapshot, error)
}

// FinalizeHook runs exactly once per call, after its terminal record is stored.
type FinalizeHook func(ctx context.Context, c Call)

type entry struct {
	sess       *Session
	campaignID string
	confirmed  bool
}

// Manager owns live sessions. Delivery to one session is serialized by the
// session lock; different sessions proceed in parallel.
type Manager struct {
	repo    Repository
	pricer  Pricer
	scripts SnapshotResolver
	pub     events.Publisher
	log     *slog.Logger
	clock   func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
	hooks    []FinalizeHook
}

func NewManager(repo Repository, pricer Pricer, scripts SnapshotResolver, pub events.Publisher, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Manager{
		repo:     repo,
		pricer:   pricer,
		scripts:  scripts,
		pub:      pub,
		log:      log.With(slog.String("component", "calls")),
		clock:    time.Now,
		sessions: map[string]*entry{},
	}
}

// OnFinalized registers hooks. Register before traffic starts.
func (m *Manager) OnFinalized(h ...FinalizeHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, h...)
}

// Open registers a session for a call that is about to be dialed. Nothing is
// persisted until Confirm; events that arrive in between are buffered in the session.
func (m *Manager) Open(c Call, snap script.Snapshot) (Call, error) {
	if c.ID == "" || c.LeadID == "" || snap.IsZero() {
		return Call{}, ErrInvalidArgument
	}
	if c.Direction == "" {
		c.Direction = DirectionOutbound
	}
	now := m.clock().UTC()
	c.Status = StatusInProgress
	c.Phase = PhasePending
	c.ScriptID = snap.ScriptID()
	c.ScriptVersion = snap.Version()
	c.ScriptState = snap.Start()
	c.CreatedAt = now
	c.UpdatedAt = now

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[c.ID]; exists {
		return Call{}, fmt.Errorf("%w: session %s already open", ErrInvalidArgument, c.ID)
	}
	m.sessions[c.ID] = &entry{sess: NewSession(c, snap), campaignID: c.CampaignID}
	return c, nil
}

// Confirm persists an opened call once the executor accepted it.
func (m *Manager) Confirm(ctx context.Context, callID, executorSessionID string) (Call, error) {
	m.mu.Lock()
	e, ok := m.sessions[callID]
	m.mu.Unlock()
	if !ok {
		// Already finalized (the executor can report the end before the dial returns).
		return m.repo.Get(ctx, callID)
	}

	e.sess.Lock()
	defer e.sess.Unlock()
	e.sess.setExecutorSessionID(executorSessionID)
	if err := m.persistOpened(ctx, e); err != nil {
		return Call{}, err
	}
	c := e.sess.Call()
	m.pub.Publish(events.Notification{Type: events.CallStarted, CampaignID: c.CampaignID, CallID: c.ID, Data: c})
	return c, nil
}

// persistOpened writes the call and any buffered events. Caller holds the session lock.
func (m *Manager) persistOpened(ctx context.Context, e *entry) error {
	if e.confirmed {
		return nil
	}
	c := e.sess.Call()
	c.UpdatedAt = m.clock().UTC()
	if err := m.repo.Create(ctx, c, e.sess.Events()); err != nil {
		return err
	}
	e.confirmed = true
	return nil
}

// Discard drops an opened session that the executor never accepted.
func (m *Manager) Discard(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[callID]; ok && !e.confirmed {
		delete(m.sessions, callID)
	}
}

// entry returns the live session, reloading it from storage after a restart.
func (m *Manager) entry(ctx context.Context, callID string) (*entry, error) {
	m.mu.Lock()
	e, ok := m.sessions[callID]
	m.mu.Unlock()
	if ok {
		return e, nil
	}

	c, err := m.repo.Get(ctx, callID)
	if err != nil {
		return nil, err
	}
	if c.Terminal() {
		return nil, ErrSessionClosed
	}
	if m.scripts == nil {
		return nil, ErrNotFound
	}
	snap, err := m.scripts.Resolve(ctx, c.ScriptID, c.ScriptVersion)
	if err != nil {
		return nil, fmt.Errorf("resolve script for call %s: %w", callID, err)
	}
	evs, err := m.repo.Events(ctx, callID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[callID]; ok {
		return e, nil
	}
	e = &entry{sess: RestoreSession(c, snap, evs), campaignID: c.CampaignID, confirmed: true}
	m.sessions[callID] = e
	return e, nil
}

// OnEvent applies one executor event. Duplicate deliveries are no-ops.
func (m *Manager) OnEvent(ctx context.Context, callID string, ev Event) (Step, error) {
	e, err := m.entry(ctx, callID)
	if err != nil {
		return Step{}, err
	}

	e.sess.Lock()
	defer e.sess.Unlock()

	ev.CallID = callID
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = m.clock().UTC()
	}
	if ev.Usage != nil && !ev.Usage.IsZero() && m.pricer != nil {
		u := *ev.Usage
		if u.Direction == "" {
			u.Direction = pricing.Direction(e.sess.call.Direction)
		}
		if u.At.IsZero() {
			u.At = ev.At
		}
		priced, err := m.pricer.Price(u)
		if err != nil {
			m.log.Warn("usage not priced", slog.String("call_id", callID), slog.Any("err", err))
		} else {
			ev.Cost = ev.Cost.Add(priced)
		}
	}

	stamped, step, applied, err := e.sess.Apply(ev)
	if err != nil || !applied {
		return step, err
	}

	if e.confirmed {
		if err := m.repo.AppendEvent(ctx, stamped); err != nil {
			e.sess.Forget(stamped.ID)
			return Step{}, err
		}
		c := e.sess.Call()
		c.UpdatedAt = m.clock().UTC()
		if err := m.repo.SaveProgress(ctx, c); err != nil {
			m.log.Warn("call progress not saved", slog.String("call_id", callID), slog.Any("err", err))
		}
	}

	c := e.sess.Call()
	switch step.Kind {
	case StepTransition:
		m.pub.Publish(events.Notification{Type: events.CallTransition, CampaignID: c.CampaignID, CallID: callID, Data: step})
	case StepMiss:
		m.log.Info("classification miss",
			slog.String("call_id", callID),
			slog.String("state", step.From),
			slog.String("label", step.Label),
		)
		m.pub.Publish(events.Notification{Type: events.CallMiss, CampaignID: c.CampaignID, CallID: callID, Data: step})
	}
	return step, nil
}

// OnTerminal finalizes a call. A second terminal report for the same call
// returns ErrFinalizationConflict and changes nothing.
func (m *Manager) OnTerminal(ctx context.Context, callID string, r TerminalReport) (Call, error) {
	e, err := m.entry(ctx, callID)
	if errors.Is(err, ErrSessionClosed) {
		return Call{}, ErrFinalizationConflict
	}
	if err != nil {
		return Call{}, err
	}

	e.sess.Lock()
	if e.sess.Finalized() {
		e.sess.Unlock()
		return Call{}, ErrFinalizationConflict
	}
	if err := m.persistOpened(ctx, e); err != nil {
		e.sess.Unlock()
		return Call{}, err
	}
	c, err := e.sess.PrepareFinal(r, m.clock())
	if err != nil {
		e.sess.Unlock()
		return Call{}, err
	}
	if err := m.repo.Finalize(ctx, c); err != nil {
		e.sess.Unlock()
		return Call{}, err
	}
	e.sess.MarkFinal(c)
	e.sess.Unlock()

	m.mu.Lock()
	delete(m.sessions, callID)
	hooks := append([]FinalizeHook(nil), m.hooks...)
	m.mu.Unlock()

	m.log.Info("call finalized",
		slog.String("call_id", c.ID),
		slog.String("campaign_id", c.CampaignID),
		slog.String("status", string(c.Status)),
		slog.String("disposition", string(c.Disposition)),
		slog.String("total", pricing.FormatUSD(c.Cost.TotalMicros)),
	)
	// The record is committed; hooks must run to completion even if the
	// caller has gone away.
	hctx := context.WithoutCancel(ctx)
	for _, h := range hooks {
		h(hctx, c)
	}
	m.pub.Publish(events.Notification{Type: events.CallFinalized, CampaignID: c.CampaignID, CallID: c.ID, Data: c})
	return c, nil
}

// Live returns the current view of an open session.
func (m *Manager) Live(callID string) (Call, State, bool) {
	m.mu.Lock()
	e, ok := m.sessions[callID]
	m.mu.Unlock()
	if !ok {
		return Call{}, State{}, false
	}
	e.sess.Lock()
	defer e.sess.Unlock()
	return e.sess.Call(), e.sess.State(), true
}

// InFlight counts open sessions for a campaign.
func (m *Manager) InFlight(campaignID string) int {
	return len(m.InFlightIDs(campaignID))
}

// InFlightIDs lists the call ids of open sessions for a campaign.
func (m *Manager) InFlightIDs(campaignID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, e := range m.sessions {
		if e.campaignID == campaignID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Recover reloads every stored in-progress call into memory.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	open, err := m.repo.List(ctx, ListQuery{Status: StatusInProgress})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range open {
		if _, err := m.entry(ctx, c.ID); err != nil {
			m.log.Warn("call not recovered", slog.String("call_id", c.ID), slog.Any("err", err))
			continue
		}
		n++
	}
	return n, nil
}

func (m *Manager) Get(ctx context.Context, callID string) (Call, error) {
	if c, _, ok := m.Live(callID); ok {
		return c, nil
	}
	return m.repo.Get(ctx, callID)
}

func (m *Manager) Events(ctx context.Context, callID string) ([]Event, error) {
	m.mu.Lock()
	e, ok := m.sessions[callID]
	m.mu.Unlock()
	if ok {
		e.sess.Lock()
		defer e.sess.Unlock()
		return e.sess.Events(), nil
	}
	return m.repo.Events(ctx, callID)
}

func (m *Manager) List(ctx context.Context, q ListQuery) ([]Call, error) {
	if q.Limit <= 0 || q.Limit > 500 {
		q.Limit = 100
	}
	return m.repo.List(ctx, q)
}
