package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only; there is no Update or Delete.
type Repository interface {
	Append(ctx context.Context, e Event) error
	List(ctx context.Context, q Query) ([]Event, error)
}

type Query struct {
	CampaignID string
	CallID     string
	Type       EventType
	Limit      int
}

// Service logs internal audit information.
// Callers treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" || e.ActorID == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

func (s *Service) List(ctx context.Context, q Query) ([]Event, error) {
	if q.Limit <= 0 || q.Limit > 500 {
		q.Limit = 100
	}
	return s.repo.List(ctx, q)
}

func metadata(v map[string]any) string {
	if len(v) == 0 {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// LogCampaignStatus records a lifecycle transition.
func (s *Service) LogCampaignStatus(ctx context.Context, a Actor, campaignID, from, to, reason string) error {
	return s.Append(ctx, Event{
		Type:       EventTypeCampaignStatus,
		ActorID:    a.ID,
		ActorRole:  a.Role,
		IPAddress:  a.IP,
		CampaignID: campaignID,
		Message:    fmt.Sprintf("%s -> %s", from, to),
		Metadata:   metadata(map[string]any{"from": from, "to": to, "reason": reason}),
	})
}

// LogAutoPause records a pause the pacing controller made after repeated executor failures.
func (s *Service) LogAutoPause(ctx context.Context, campaignID string, failures int, lastErr string) error {
	return s.Append(ctx, Event{
		Type:       EventTypeAutoPause,
		ActorID:    System.ID,
		ActorRole:  System.Role,
		CampaignID: campaignID,
		Message:    fmt.Sprintf("auto-paused after %d consecutive executor failures", failures),
		Metadata:   metadata(map[string]any{"failures": failures, "last_error": lastErr}),
	})
}

func (s *Service) LogScriptActivated(ctx context.Context, a Actor, scriptID string, version int) error {
	return s.Append(ctx, Event{
		Type:      EventTypeScriptActivate,
		ActorID:   a.ID,
		ActorRole: a.Role,
		IPAddress: a.IP,
		ScriptID:  scriptID,
		Message:   fmt.Sprintf("version %d activated", version),
		Metadata:  metadata(map[string]any{"version": version}),
	})
}

func (s *Service) LogCallVoided(ctx context.Context, a Actor, callID, reason string) error {
	return s.Append(ctx, Event{
		Type:      EventTypeCallVoided,
		ActorID:   a.ID,
		ActorRole: a.Role,
		IPAddress: a.IP,
		CallID:    callID,
		Message:   reason,
	})
}

func (s *Service) LogCallCorrected(ctx context.Context, a Actor, callID, from, to string) error {
	return s.Append(ctx, Event{
		Type:      EventTypeCallCorrected,
		ActorID:   a.ID,
		ActorRole: a.Role,
		IPAddress: a.IP,
		CallID:    callID,
		Message:   fmt.Sprintf("disposition %s -> %s", from, to),
		Metadata:  metadata(map[string]any{"from": from, "to": to}),
	})
}
