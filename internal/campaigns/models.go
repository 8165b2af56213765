package campaigns

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"campaign-dialer/internal/leads"
)

// Campaign is a dialing program bound to one frozen script version.
//
// Invariants:
// - Status moves draft->active, active->paused, paused->active, any->completed.
// - An active campaign always has ScriptID and ScriptVersion set.
type Campaign struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status Status `json:"status"`
	Type   Type   `json:"type"`

	ScriptID string `json:"script_id,omitempty"`
	// ScriptVersion is bound at activation; 0 while unbound.
	ScriptVersion int `json:"script_version,omitempty"`

	MaxConcurrent int          `json:"max_concurrent"`
	CallsPerHour  int          `json:"calls_per_hour"`
	Schedule      Schedule     `json:"schedule"`
	Filter        leads.Filter `json:"filter"`

	PauseReason PauseReason `json:"pause_reason,omitempty"`
	PauseDetail string      `json:"pause_detail,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// LeadFilter returns the campaign's filter scoped to the campaign.
func (c Campaign) LeadFilter() leads.Filter {
	f := c.Filter
	f.CampaignID = c.ID
	return f
}

type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusPaused, StatusCompleted:
		return true
	default:
		return false
	}
}

type Type string

const (
	TypeOutbound Type = "outbound"
	TypeInbound  Type = "inbound"
	TypeBlended  Type = "blended"
)

func (t Type) Valid() bool {
	return t == TypeOutbound || t == TypeInbound || t == TypeBlended
}

// Dials reports whether the campaign places outbound calls.
func (t Type) Dials() bool { return t == TypeOutbound || t == TypeBlended }

// Answers reports whether the campaign accepts inbound calls.
func (t Type) Answers() bool { return t == TypeInbound || t == TypeBlended }

// PauseReason distinguishes an operator pause from an automatic one.
type PauseReason string

const (
	PauseManual           PauseReason = "manual"
	PauseExecutorFailures PauseReason = "executor_failures"
)

const (
	MinConcurrency  = 1
	MaxConcurrency  = 5
	MinCallsPerHour = 10
	MaxCallsPerHour = 60

	minutesPerDay = 24 * 60
)

// Schedule is a daily time-of-day window in a timezone plus a weekday set.
// StartMinute > EndMinute wraps midnight; StartMinute == EndMinute covers the whole day.
type Schedule struct {
	StartMinute int            `json:"start_minute"`
	EndMinute   int            `json:"end_minute"`
	Weekdays    []time.Weekday `json:"weekdays"`
	Timezone    string         `json:"timezone,omitempty"`
}

// DefaultSchedule is 09:00-17:00, Monday to Friday, UTC.
func DefaultSchedule() Schedule {
	return Schedule{
		StartMinute: 9 * 60,
		EndMinute:   17 * 60,
		Weekdays:    []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		Timezone:    "UTC",
	}
}

func (s Schedule) Validate() error {
	var errs []error
	if s.StartMinute < 0 || s.StartMinute >= minutesPerDay {
		errs = append(errs, fmt.Errorf("%w: schedule start_minute must be 0-1439", ErrInvalidConfig))
	}
	if s.EndMinute < 0 || s.EndMinute >= minutesPerDay {
		errs = append(errs, fmt.Errorf("%w: schedule end_minute must be 0-1439", ErrInvalidConfig))
	}
	if len(s.Weekdays) == 0 {
		errs = append(errs, fmt.Errorf("%w: schedule needs at least one weekday", ErrInvalidConfig))
	}
	for _, d := range s.Weekdays {
		if d < time.Sunday || d > time.Saturday {
			errs = append(errs, fmt.Errorf("%w: invalid weekday %d", ErrInvalidConfig, d))
		}
	}
	if _, err := s.location(); err != nil {
		errs = append(errs, fmt.Errorf("%w: timezone %q: %v", ErrInvalidConfig, s.Timezone, err))
	}
	return errors.Join(errs...)
}

func (s Schedule) location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.Timezone)
}

func (s Schedule) hasDay(d time.Weekday) bool {
	for _, w := range s.Weekdays {
		if w == d {
			return true
		}
	}
	return false
}

// Contains reports whether t falls inside the window. For overnight windows the
// part after midnight belongs to the previous day's window, so the weekday check
// uses the day the window opened.
func (s Schedule) Contains(t time.Time) bool {
	loc, err := s.location()
	if err != nil {
		return false
	}
	lt := t.In(loc)
	m := lt.Hour()*60 + lt.Minute()
	day := lt.Weekday()

	switch {
	case s.StartMinute == s.EndMinute:
		return s.hasDay(day)
	case s.StartMinute < s.EndMinute:
		return m >= s.StartMinute && m < s.EndMinute && s.hasDay(day)
	default:
		if m >= s.StartMinute {
			return s.hasDay(day)
		}
		if m < s.EndMinute {
			return s.hasDay((day + 6) % 7)
		}
		return false
	}
}

// Validate checks the dialing configuration. Every problem is reported.
func (c Campaign) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, fmt.Errorf("%w: name is required", ErrInvalidConfig))
	}
	if !c.Type.Valid() {
		errs = append(errs, fmt.Errorf("%w: type must be outbound, inbound or blended", ErrInvalidConfig))
	}
	if c.MaxConcurrent < MinConcurrency || c.MaxConcurrent > MaxConcurrency {
		errs = append(errs, fmt.Errorf("%w: max_concurrent must be %d-%d", ErrInvalidConfig, MinConcurrency, MaxConcurrency))
	}
	if c.CallsPerHour < MinCallsPerHour || c.CallsPerHour > MaxCallsPerHour {
		errs = append(errs, fmt.Errorf("%w: calls_per_hour must be %d-%d", ErrInvalidConfig, MinCallsPerHour, MaxCallsPerHour))
	}
	if err := c.Schedule.Validate(); err != nil {
		errs = append(errs, err)
	}
	for _, st := range c.Filter.Statuses {
		if !st.Valid() || st == leads.StatusDNC {
			errs = append(errs, fmt.Errorf("%w: filter status %q is not dialable", ErrInvalidConfig, st))
		}
	}
	return errors.Join(errs...)
}
