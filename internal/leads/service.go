package leads

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"campaign-dialer/internal/disposition"
)

var (
	ErrNotFound        = errors.New("leads: not found")
	ErrInvalidArgument = errors.New("leads: invalid argument")
	ErrNoEligibleLead  = errors.New("leads: no eligible lead")
	ErrInProgress      = errors.New("leads: lead already has a call in progress")
	ErrDoNotCall       = errors.New("leads: lead is marked do-not-call")
)

// Repository is the storage behind the pool. Implementations must make
// ReserveNext and Reserve atomic: the select and the in-progress mark happen
// under one lock or one transaction so two campaigns can never reserve the same lead.
type Repository interface {
	Create(ctx context.Context, l Lead) error
	Get(ctx context.Context, id string) (Lead, error)
	List(ctx context.Context, q ListQuery) ([]Lead, error)
	Update(ctx context.Context, l Lead) error
	FindByPhone(ctx context.Context, phone string) (Lead, error)
	SoftDelete(ctx context.Context, id string, at time.Time) error
	CountForCampaign(ctx context.Context, campaignID string) (int, error)

	ReserveNext(ctx context.Context, f Filter, callID string, at time.Time) (Lead, error)
	Reserve(ctx context.Context, id, callID string, at time.Time) (Lead, error)
	// Release drops the reservation held by callID without touching attempts or status.
	Release(ctx context.Context, id, callID string, at time.Time) error
	MarkDialed(ctx context.Context, id, callID string, at time.Time) error
	// ApplyOutcome clears the reservation held by callID and sets the status returned by next.
	ApplyOutcome(ctx context.Context, id, callID string, next func(Status) Status, at time.Time) (Lead, error)
}

// Pool is the lead pool consumed by pacing and call finalization.
type Pool struct {
	repo   Repository
	policy OutcomePolicy
	log    *slog.Logger
	clock  func() time.Time
}

func NewPool(repo Repository, policy OutcomePolicy, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		repo:   repo,
		policy: policy,
		log:    log.With(slog.String("component", "leads")),
		clock:  time.Now,
	}
}

func (p *Pool) Policy() OutcomePolicy { return p.policy }

func (p *Pool) Create(ctx context.Context, l Lead) (Lead, error) {
	l.Phone = NormalizePhone(l.Phone)
	if l.Phone == "" {
		return Lead{}, ErrInvalidArgument
	}
	if l.Priority == 0 {
		l.Priority = DefaultPriority
	}
	if l.Priority < MinPriority || l.Priority > MaxPriority {
		return Lead{}, ErrInvalidArgument
	}
	if l.Status == "" {
		l.Status = StatusNew
	}
	if !l.Status.Valid() {
		return Lead{}, ErrInvalidArgument
	}
	now := p.clock().UTC()
	l.ID = uuid.NewString()
	l.Name = strings.TrimSpace(l.Name)
	l.Attempts = 0
	l.LastDialedAt = nil
	l.InProgressCallID = ""
	l.DeletedAt = nil
	l.CreatedAt = now
	l.UpdatedAt = now
	if err := p.repo.Create(ctx, l); err != nil {
		return Lead{}, err
	}
	return l, nil
}

func (p *Pool) Get(ctx context.Context, id string) (Lead, error) {
	if id == "" {
		return Lead{}, ErrInvalidArgument
	}
	return p.repo.Get(ctx, id)
}

func (p *Pool) List(ctx context.Context, q ListQuery) ([]Lead, error) {
	if q.Limit <= 0 || q.Limit > 500 {
		q.Limit = 100
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return p.repo.List(ctx, q)
}

// Patch is a manual override from an operator. Nil fields are left alone.
type Patch struct {
	Name     *string `json:"name,omitempty"`
	Email    *string `json:"email,omitempty"`
	Notes    *string `json:"notes,omitempty"`
	Source   *string `json:"source,omitempty"`
	Priority *int    `json:"priority,omitempty"`
	Status   *Status `json:"status,omitempty"`
}

func (p *Pool) Update(ctx context.Context, id string, patch Patch) (Lead, error) {
	l, err := p.Get(ctx, id)
	if err != nil {
		return Lead{}, err
	}
	if l.Deleted() {
		return Lead{}, ErrNotFound
	}
	if patch.Name != nil {
		l.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Email != nil {
		l.Email = strings.TrimSpace(*patch.Email)
	}
	if patch.Notes != nil {
		l.Notes = *patch.Notes
	}
	if patch.Source != nil {
		l.Source = strings.TrimSpace(*patch.Source)
	}
	if patch.Priority != nil {
		if *patch.Priority < MinPriority || *patch.Priority > MaxPriority {
			return Lead{}, ErrInvalidArgument
		}
		l.Priority = *patch.Priority
	}
	if patch.Status != nil {
		if !patch.Status.Valid() {
			return Lead{}, ErrInvalidArgument
		}
		l.Status = *patch.Status
	}
	l.UpdatedAt = p.clock().UTC()
	if err := p.repo.Update(ctx, l); err != nil {
		return Lead{}, err
	}
	return l, nil
}

// Delete tombstones a lead. The row stays resolvable for call history.
func (p *Pool) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidArgument
	}
	return p.repo.SoftDelete(ctx, id, p.clock().UTC())
}

func (p *Pool) CountForCampaign(ctx context.Context, campaignID string) (int, error) {
	return p.repo.CountForCampaign(ctx, campaignID)
}

// NextEligible atomically selects and reserves the next lead for callID.
// It returns ErrNoEligibleLead when the pool has nothing to dial.
func (p *Pool) NextEligible(ctx context.Context, f Filter, callID string) (Lead, error) {
	if callID == "" {
		return Lead{}, ErrInvalidArgument
	}
	return p.repo.ReserveNext(ctx, f, callID, p.clock().UTC())
}

// Reserve reserves a specific lead for an outbound ad hoc call. dnc leads are refused.
func (p *Pool) Reserve(ctx context.Context, id, callID string) (Lead, error) {
	if id == "" || callID == "" {
		return Lead{}, ErrInvalidArgument
	}
	l, err := p.repo.Get(ctx, id)
	if err != nil {
		return Lead{}, err
	}
	if l.Deleted() {
		return Lead{}, ErrNotFound
	}
	if l.Status == StatusDNC {
		return Lead{}, ErrDoNotCall
	}
	return p.repo.Reserve(ctx, id, callID, p.clock().UTC())
}

// ReserveInbound matches an inbound caller by phone, creating a lead when the
// number is unknown, and reserves it for callID. Inbound callers are accepted
// even when marked dnc; the flag only forbids dialing them.
func (p *Pool) ReserveInbound(ctx context.Context, phone, campaignID, callID string) (Lead, error) {
	phone = NormalizePhone(phone)
	if phone == "" || callID == "" {
		return Lead{}, ErrInvalidArgument
	}
	l, err := p.repo.FindByPhone(ctx, phone)
	if errors.Is(err, ErrNotFound) {
		l, err = p.Create(ctx, Lead{Phone: phone, CampaignID: campaignID, Source: SourceInbound})
	}
	if err != nil {
		return Lead{}, err
	}
	return p.repo.Reserve(ctx, l.ID, callID, p.clock().UTC())
}

func (p *Pool) Release(ctx context.Context, id, callID string) error {
	return p.repo.Release(ctx, id, callID, p.clock().UTC())
}

func (p *Pool) MarkDialed(ctx context.Context, id, callID string) error {
	return p.repo.MarkDialed(ctx, id, callID, p.clock().UTC())
}

// MarkOutcome applies the outcome policy for d and frees the lead.
func (p *Pool) MarkOutcome(ctx context.Context, id, callID string, d disposition.Disposition) (Lead, error) {
	if !d.Valid() {
		return Lead{}, ErrInvalidArgument
	}
	l, err := p.repo.ApplyOutcome(ctx, id, callID, func(cur Status) Status {
		return p.policy.Next(cur, d)
	}, p.clock().UTC())
	if err != nil {
		return Lead{}, err
	}
	p.log.Debug("lead outcome applied",
		slog.String("lead_id", id),
		slog.String("call_id", callID),
		slog.String("disposition", string(d)),
		slog.String("status", string(l.Status)),
	)
	return l, nil
}

// NormalizePhone strips formatting, keeping digits and a leading plus.
func NormalizePhone(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "+" {
		return ""
	}
	return out
}
