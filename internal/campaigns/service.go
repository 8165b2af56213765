package campaigns

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
	"campaign-dialer/internal/events"
	"campaign-dialer/internal/leads"
	"campaign-dialer/internal/script"
)

var (
	ErrNotFound        = errors.New("campaigns: not found")
	ErrInvalidArgument = errors.New("campaigns: invalid argument")
	ErrInvalidConfig   = errors.New("campaigns: invalid config")
	// ErrPreconditionFailed rejects a lifecycle operation the current status does not allow.
	ErrPreconditionFailed = errors.New("campaigns: precondition failed")
)

type Repository interface {
	Create(ctx context.Context, c Campaign) error
	Get(ctx context.Context, id string) (Campaign, error)
	List(ctx context.Context, q ListQuery) ([]Campaign, error)
	// Save writes c only if the stored status still equals from; otherwise ErrPreconditionFailed.
	Save(ctx context.Context, c Campaign, from Status) error
}

type ListQuery struct {
	Status Status
	Type   Type
	Limit  int
	Offset int
}

// ScriptActivator freezes a script into an immutable version.
type ScriptActivator interface {
	Activate(ctx context.Context, id string) (script.Snapshot, error)
}

// Auditor is satisfied by *audit.Service.
type Auditor interface {
	LogCampaignStatus(ctx context.Context, a audit.Actor, campaignID, from, to, reason string) error
}

// StatusListener observes committed lifecycle transitions.
type StatusListener interface {
	CampaignStatusChanged(ctx context.Context, c Campaign)
}

type Service struct {
	repo    Repository
	scripts ScriptActivator
	audit   Auditor
	pub     events.Publisher
	log     *slog.Logger
	clock   func() time.Time

	mu        sync.Mutex
	listeners []StatusListener
}

func NewService(repo Repository, scripts ScriptActivator, auditor Auditor, pub events.Publisher, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{
		repo:    repo,
		scripts: scripts,
		audit:   auditor,
		pub:     pub,
		log:     log.With("component", "campaigns"),
		clock:   time.Now,
	}
}

// OnStatusChange registers listeners. Register before traffic starts.
func (s *Service) OnStatusChange(l ...StatusListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l...)
}

// Create stores a draft campaign. Zero pacing fields take conservative defaults.
func (s *Service) Create(ctx context.Context, in Campaign) (Campaign, error) {
	if in.Type == "" {
		in.Type = TypeOutbound
	}
	if in.MaxConcurrent == 0 {
		in.MaxConcurrent = MinConcurrency
	}
	if in.CallsPerHour == 0 {
		in.CallsPerHour = 30
	}
	if len(in.Schedule.Weekdays) == 0 && in.Schedule.StartMinute == 0 && in.Schedule.EndMinute == 0 {
		in.Schedule = DefaultSchedule()
	}
	in.Name = strings.TrimSpace(in.Name)
	if err := in.Validate(); err != nil {
		return Campaign{}, err
	}

	now := s.clock().UTC()
	in.ID = uuid.NewString()
	in.Status = StatusDraft
	in.ScriptVersion = 0
	in.PauseReason = ""
	in.PauseDetail = ""
	in.ActivatedAt = nil
	in.CompletedAt = nil
	in.CreatedAt = now
	in.UpdatedAt = now
	if err := s.repo.Create(ctx, in); err != nil {
		return Campaign{}, err
	}
	return in, nil
}

func (s *Service) Get(ctx context.Context, id string) (Campaign, error) {
	if id == "" {
		return Campaign{}, ErrInvalidArgument
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, q ListQuery) ([]Campaign, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
	return s.repo.List(ctx, q)
}

// Patch changes configuration. Nil fields are left alone.
type Patch struct {
	Name          *string
	Type          *Type
	ScriptID      *string
	MaxConcurrent *int
	CallsPerHour  *int
	Schedule      *Schedule
	Filter        *leads.Filter
}

// Update applies a configuration patch. Pacing changes take effect on the next tick.
// Rebinding the script of an active campaign is refused: pause it first.
func (s *Service) Update(ctx context.Context, id string, p Patch) (Campaign, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return Campaign{}, err
	}
	if c.Status == StatusCompleted {
		return Campaign{}, fmt.Errorf("%w: campaign is completed", ErrPreconditionFailed)
	}
	from := c.Status

	if p.Name != nil {
		c.Name = strings.TrimSpace(*p.Name)
	}
	if p.Type != nil {
		c.Type = *p.Type
	}
	if p.ScriptID != nil && *p.ScriptID != c.ScriptID {
		if c.Status == StatusActive {
			return Campaign{}, fmt.Errorf("%w: pause the campaign before changing its script", ErrPreconditionFailed)
		}
		c.ScriptID = *p.ScriptID
		c.ScriptVersion = 0
	}
	if p.MaxConcurrent != nil {
		c.MaxConcurrent = *p.MaxConcurrent
	}
	if p.CallsPerHour != nil {
		c.CallsPerHour = *p.CallsPerHour
	}
	if p.Schedule != nil {
		c.Schedule = *p.Schedule
	}
	if p.Filter != nil {
		c.Filter = *p.Filter
	}
	if err := c.Validate(); err != nil {
		return Campaign{}, err
	}
	c.UpdatedAt = s.clock().UTC()
	if err := s.repo.Save(ctx, c, from); err != nil {
		return Campaign{}, err
	}
	if c.Status == StatusActive {
		s.notify(ctx, c)
	}
	return c, nil
}

// Activate binds the campaign to a freshly activated script version and starts it.
// Only drafts can be activated; a paused campaign is resumed instead.
func (s *Service) Activate(ctx context.Context, actor audit.Actor, id string) (Campaign, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return Campaign{}, err
	}
	if c.Status != StatusDraft {
		return Campaign{}, fmt.Errorf("%w: cannot activate a %s campaign", ErrPreconditionFailed, c.Status)
	}
	if err := c.Validate(); err != nil {
		return Campaign{}, err
	}
	if err := s.bindScript(ctx, &c); err != nil {
		return Campaign{}, err
	}
	now := s.clock().UTC()
	c.Status = StatusActive
	c.ActivatedAt = &now
	return s.transition(ctx, actor, c, StatusDraft, "activate")
}

// bindScript freezes the campaign's script. Invalid scripts surface their
// validation error; a missing script is a failed precondition.
func (s *Service) bindScript(ctx context.Context, c *Campaign) error {
	if c.ScriptID == "" {
		return fmt.Errorf("%w: no script bound", ErrPreconditionFailed)
	}
	if s.scripts == nil {
		return fmt.Errorf("%w: script service not configured", ErrPreconditionFailed)
	}
	snap, err := s.scripts.Activate(ctx, c.ScriptID)
	if err != nil {
		if errors.Is(err, script.ErrNotFound) {
			return fmt.Errorf("%w: script %s not found", ErrPreconditionFailed, c.ScriptID)
		}
		return err
	}
	c.ScriptVersion = snap.Version()
	return nil
}

// Pause stops admission. In-flight calls are not interrupted.
func (s *Service) Pause(ctx context.Context, actor audit.Actor, id string, reason PauseReason, detail string) (Campaign, error) {
	if reason == "" {
		reason = PauseManual
	}
	if reason != PauseManual && reason != PauseExecutorFailures {
		return Campaign{}, ErrInvalidArgument
	}
	c, err := s.Get(ctx, id)
	if err != nil {
		return Campaign{}, err
	}
	if c.Status != StatusActive {
		return Campaign{}, fmt.Errorf("%w: cannot pause a %s campaign", ErrPreconditionFailed, c.Status)
	}
	c.Status = StatusPaused
	c.PauseReason = reason
	c.PauseDetail = detail
	return s.transition(ctx, actor, c, StatusActive, string(reason))
}

// Resume restarts admission with the version bound at activation. A script
// rebound while paused is activated again first.
func (s *Service) Resume(ctx context.Context, actor audit.Actor, id string) (Campaign, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return Campaign{}, err
	}
	if c.Status != StatusPaused {
		return Campaign{}, fmt.Errorf("%w: cannot resume a %s campaign", ErrPreconditionFailed, c.Status)
	}
	if c.ScriptVersion == 0 {
		if err := s.bindScript(ctx, &c); err != nil {
			return Campaign{}, err
		}
	}
	c.Status = StatusActive
	c.PauseReason = ""
	c.PauseDetail = ""
	return s.transition(ctx, actor, c, StatusPaused, "resume")
}

// Complete ends the campaign from any other status. In-flight calls still finalize.
func (s *Service) Complete(ctx context.Context, actor audit.Actor, id string) (Campaign, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return Campaign{}, err
	}
	if c.Status == StatusCompleted {
		return Campaign{}, fmt.Errorf("%w: campaign already completed", ErrPreconditionFailed)
	}
	from := c.Status
	now := s.clock().UTC()
	c.Status = StatusCompleted
	c.CompletedAt = &now
	return s.transition(ctx, actor, c, from, "complete")
}

func (s *Service) transition(ctx context.Context, actor audit.Actor, c Campaign, from Status, reason string) (Campaign, error) {
	c.UpdatedAt = s.clock().UTC()
	if err := s.repo.Save(ctx, c, from); err != nil {
		return Campaign{}, err
	}

	log := s.log.With("campaign_id", c.ID, "from", from, "to", c.Status, "actor", actor.ID)
	if c.PauseReason == PauseExecutorFailures {
		log.Error("campaign auto-paused", "detail", c.PauseDetail)
	} else {
		log.Info("campaign status changed", "reason", reason)
	}
	if s.audit != nil {
		if err := s.audit.LogCampaignStatus(ctx, actor, c.ID, string(from), string(c.Status), reason); err != nil {
			log.Warn("audit append failed", "err", err)
		}
	}
	s.pub.Publish(events.Notification{
		Type:       events.CampaignStatus,
		CampaignID: c.ID,
		At:         c.UpdatedAt,
		Data:       c,
	})
	s.notify(ctx, c)
	return c, nil
}

func (s *Service) notify(ctx context.Context, c Campaign) {
	s.mu.Lock()
	ls := append([]StatusListener(nil), s.listeners...)
	s.mu.Unlock()
	for _, l := range ls {
		l.CampaignStatusChanged(ctx, c)
	}
}
