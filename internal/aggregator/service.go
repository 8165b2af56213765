package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"campaign-dialer/internal/audit"
	"campaign-dialer/internal/calls"
	"campaign-dialer/internal/disposition"
	"campaign-dialer/internal/events"
)

var (
	ErrInvalidArgument = errors.New("aggregator: invalid argument")
	ErrNotFinalized    = errors.New("aggregator: call is not finalized")
	ErrAlreadyVoided   = errors.New("aggregator: call already voided")
	// ErrDuplicate is returned by repositories when an entry key already exists.
	ErrDuplicate = errors.New("aggregator: ledger key already recorded")
)

// Repository stores the ledger. Entries are never updated or deleted.
type Repository interface {
	// Append stores every entry or none. It returns ErrDuplicate when any key exists.
	Append(ctx context.Context, entries ...Entry) error
	// All returns the ledger in append order.
	All(ctx context.Context) ([]Entry, error)
	ForCall(ctx context.Context, callID string) ([]Entry, error)
}

// CallStore is the call log; it is the source of truth the ledger is checked against.
type CallStore interface {
	Get(ctx context.Context, id string) (calls.Call, error)
	List(ctx context.Context, q calls.ListQuery) ([]calls.Call, error)
	SetVoided(ctx context.Context, id string, at time.Time) (calls.Call, error)
	SetDisposition(ctx context.Context, id string, d disposition.Disposition, at time.Time) (calls.Call, error)
}

type Auditor interface {
	LogCallVoided(ctx context.Context, a audit.Actor, callID, reason string) error
	LogCallCorrected(ctx context.Context, a audit.Actor, callID, from, to string) error
}

// Service folds finalized calls into rollups through the ledger. The projection
// lives in memory and is restored with Load or Rebuild.
type Service struct {
	repo  Repository
	calls CallStore
	audit Auditor
	pub   events.Publisher
	log   *slog.Logger
	loc   *time.Location
	clock func() time.Time

	mu      sync.Mutex
	rollups *Rollups
	// seen is the processed-key set; live is the delta currently applied per call.
	seen        map[string]struct{}
	live        map[string]Delta
	corrections map[string]int
}

func NewService(repo Repository, cs CallStore, auditor Auditor, pub events.Publisher, loc *time.Location, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if pub == nil {
		pub = events.Nop{}
	}
	if loc == nil {
		loc = time.UTC
	}
	s := &Service{
		repo:  repo,
		calls: cs,
		audit: auditor,
		pub:   pub,
		log:   log.With(slog.String("component", "aggregator")),
		loc:   loc,
		clock: time.Now,
	}
	s.reset()
	return s
}

func (s *Service) reset() {
	s.rollups = NewRollups()
	s.seen = map[string]struct{}{}
	s.live = map[string]Delta{}
	s.corrections = map[string]int{}
}

func (s *Service) fold(e Entry) {
	s.seen[e.Key] = struct{}{}
	s.rollups.Add(e.Delta)
	switch e.Kind {
	case KindApply:
		s.live[e.CallID] = e.Delta
		s.seen["final:"+e.CallID] = struct{}{}
	case KindCompensate:
		delete(s.live, e.CallID)
	}
	if strings.HasPrefix(e.Key, "correct:") && e.Kind == KindApply {
		s.corrections[e.CallID]++
	}
}

func (s *Service) entry(callID, key string, kind Kind, d Delta, reason string, at time.Time) Entry {
	return Entry{ID: uuid.NewString(), CallID: callID, Key: key, Kind: kind, Delta: d, Reason: reason, CreatedAt: at}
}

// commit appends entries and folds them. Caller holds s.mu.
func (s *Service) commit(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := s.repo.Append(ctx, entries...); err != nil {
		return err
	}
	for _, e := range entries {
		s.fold(e)
	}
	return nil
}

// Load replays the stored ledger into a fresh projection.
func (s *Service) Load(ctx context.Context) (int, error) {
	entries, err := s.repo.All(ctx)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	for _, e := range entries {
		s.fold(e)
	}
	return len(entries), nil
}

// Record folds a finalized call exactly once. It reports false when the call
// was already recorded.
func (s *Service) Record(ctx context.Context, c calls.Call) (bool, error) {
	if c.ID == "" {
		return false, ErrInvalidArgument
	}
	if !c.Terminal() {
		return false, ErrNotFinalized
	}
	key := "final:" + c.ID

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return false, nil
	}
	if c.Voided() {
		s.seen[key] = struct{}{}
		return false, nil
	}
	err := s.commit(ctx, s.entry(c.ID, key, KindApply, DeltaFor(c, s.loc), "finalized", s.clock().UTC()))
	if errors.Is(err, ErrDuplicate) {
		s.seen[key] = struct{}{}
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.pub.Publish(events.Notification{Type: events.RollupUpdated, CampaignID: c.CampaignID, CallID: c.ID})
	return true, nil
}

// OnCallFinalized is the calls.FinalizeHook form of Record.
func (s *Service) OnCallFinalized(ctx context.Context, c calls.Call) {
	applied, err := s.Record(ctx, c)
	if err != nil {
		s.log.Error("rollup update failed", "call_id", c.ID, "err", err)
		return
	}
	if !applied {
		s.log.Info("finalization already recorded", "call_id", c.ID)
	}
}

func (s *Service) finalized(ctx context.Context, callID string) (calls.Call, error) {
	if callID == "" {
		return calls.Call{}, ErrInvalidArgument
	}
	c, err := s.calls.Get(ctx, callID)
	if err != nil {
		return calls.Call{}, err
	}
	if !c.Terminal() {
		return calls.Call{}, ErrNotFinalized
	}
	if c.Voided() {
		return calls.Call{}, ErrAlreadyVoided
	}
	return c, nil
}

// Void excludes a finalized call from every rollup with a compensating entry.
func (s *Service) Void(ctx context.Context, a audit.Actor, callID, reason string) (calls.Call, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return calls.Call{}, ErrInvalidArgument
	}
	if _, err := s.finalized(ctx, callID); err != nil {
		return calls.Call{}, err
	}
	c, err := s.calls.SetVoided(ctx, callID, s.clock().UTC())
	if err != nil {
		return calls.Call{}, err
	}

	s.mu.Lock()
	if d, ok := s.live[callID]; ok {
		err = s.commit(ctx, s.entry(callID, "void:"+callID, KindCompensate, d.Neg(), reason, s.clock().UTC()))
	}
	s.mu.Unlock()
	if err != nil {
		return calls.Call{}, fmt.Errorf("aggregator: compensate %s: %w", callID, err)
	}

	if s.audit != nil {
		if err := s.audit.LogCallVoided(ctx, a, callID, reason); err != nil {
			s.log.Warn("audit append failed", "call_id", callID, "err", err)
		}
	}
	s.log.Info("call voided", "call_id", callID, "actor_id", a.ID, "reason", reason)
	s.pub.Publish(events.Notification{Type: events.RollupUpdated, CampaignID: c.CampaignID, CallID: callID})
	return c, nil
}

// Correct changes the disposition of a finalized call. The previous
// contribution is compensated and the corrected one applied.
func (s *Service) Correct(ctx context.Context, a audit.Actor, callID string, d disposition.Disposition) (calls.Call, error) {
	if !d.Valid() {
		return calls.Call{}, ErrInvalidArgument
	}
	cur, err := s.finalized(ctx, callID)
	if err != nil {
		return calls.Call{}, err
	}
	if cur.Disposition == d {
		return cur, nil
	}
	c, err := s.calls.SetDisposition(ctx, callID, d, s.clock().UTC())
	if err != nil {
		return calls.Call{}, err
	}

	s.mu.Lock()
	n := s.corrections[callID] + 1
	now := s.clock().UTC()
	reason := fmt.Sprintf("%s -> %s", cur.Disposition, d)
	var entries []Entry
	if prev, ok := s.live[callID]; ok {
		entries = append(entries, s.entry(callID, fmt.Sprintf("correct:%s:%d:compensate", callID, n), KindCompensate, prev.Neg(), reason, now))
	}
	entries = append(entries, s.entry(callID, fmt.Sprintf("correct:%s:%d:apply", callID, n), KindApply, DeltaFor(c, s.loc), reason, now))
	err = s.commit(ctx, entries...)
	s.mu.Unlock()
	if err != nil {
		return calls.Call{}, fmt.Errorf("aggregator: correct %s: %w", callID, err)
	}

	if s.audit != nil {
		if err := s.audit.LogCallCorrected(ctx, a, callID, string(cur.Disposition), string(d)); err != nil {
			s.log.Warn("audit append failed", "call_id", callID, "err", err)
		}
	}
	s.log.Info("call disposition corrected", "call_id", callID, "actor_id", a.ID, "from", cur.Disposition, "to", d)
	s.pub.Publish(events.Notification{Type: events.RollupUpdated, CampaignID: c.CampaignID, CallID: callID})
	return c, nil
}

type RebuildReport struct {
	Calls    int       `json:"calls"`
	Repaired int       `json:"repaired"`
	Drifted  bool      `json:"drifted"`
	At       time.Time `json:"at"`
}

const rebuildPage = 500

// Rebuild recomputes every rollup from the call log. Calls whose ledger
// contribution disagrees with the log get compensating and apply entries, so
// the ledger converges on the log and stays auditable.
//
// The projection stays locked from the first page read until the rollups are
// replaced, so a call recorded, voided or corrected meanwhile is applied after
// the rebuild and never against a stale listing.
func (s *Service) Rebuild(ctx context.Context) (RebuildReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []calls.Call
	for offset := 0; ; offset += rebuildPage {
		page, err := s.calls.List(ctx, calls.ListQuery{Finished: true, Limit: rebuildPage, Offset: offset})
		if err != nil {
			return RebuildReport{}, err
		}
		all = append(all, page...)
		if len(page) < rebuildPage {
			break
		}
	}

	now := s.clock().UTC()
	var entries []Entry
	for _, c := range all {
		want, ok := desired(c, s.loc)
		have, has := s.live[c.ID]
		if ok == has && want == have {
			continue
		}
		batch := uuid.NewString()
		if has {
			entries = append(entries, s.entry(c.ID, "rebuild:"+batch+":compensate", KindCompensate, have.Neg(), "rebuild", now))
		}
		if ok {
			entries = append(entries, s.entry(c.ID, "rebuild:"+batch+":apply", KindApply, want, "rebuild", now))
		}
	}
	if err := s.commit(ctx, entries...); err != nil {
		return RebuildReport{}, err
	}

	computed := Compute(all, s.loc)
	rep := RebuildReport{Calls: len(all), Repaired: len(entries), At: now}
	if !computed.Equal(s.rollups) {
		rep.Drifted = true
		s.log.Warn("ledger projection drifted from call log; using call log", "calls", len(all))
		s.rollups = computed
	}
	s.log.Info("rollups rebuilt", "calls", rep.Calls, "repaired", rep.Repaired)
	s.pub.Publish(events.Notification{Type: events.RollupUpdated, Data: rep})
	return rep, nil
}

func (s *Service) History(ctx context.Context, callID string) ([]Entry, error) {
	if callID == "" {
		return nil, ErrInvalidArgument
	}
	return s.repo.ForCall(ctx, callID)
}

func (s *Service) CampaignStats(campaignID string) CampaignStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollups.Campaign(campaignID)
}

func (s *Service) Costs() CostBreakdown {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollups.Costs()
}

func (s *Service) Dispositions() []DispositionCount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollups.Dispositions()
}

func (s *Service) Hourly() []HourBucket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollups.Hourly()
}

func (s *Service) Scripts() []ScriptStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollups.Scripts()
}
