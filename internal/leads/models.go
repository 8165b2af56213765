package leads

import (
	"time"
)

// Lead is a callable contact.
//
// Invariants:
// - a dnc lead is never returned by selection, whatever the campaign filter says
// - at most one in-progress call per lead (InProgressCallID is the reservation)
// - leads are tombstoned (DeletedAt), never hard-deleted, because calls reference them
type Lead struct {
	ID         string `json:"id" db:"id"`
	CampaignID string `json:"campaign_id,omitempty" db:"campaign_id"`

	Name  string `json:"name" db:"name"`
	Phone string `json:"phone" db:"phone"`
	Email string `json:"email,omitempty" db:"email"`

	Status   Status `json:"status" db:"status"`
	Source   string `json:"source,omitempty" db:"source"`
	Priority int    `json:"priority" db:"priority"`
	Notes    string `json:"notes,omitempty" db:"notes"`

	Attempts         int        `json:"attempts" db:"attempts"`
	LastDialedAt     *time.Time `json:"last_dialed_at,omitempty" db:"last_dialed_at"`
	InProgressCallID string     `json:"in_progress_call_id,omitempty" db:"in_progress_call_id"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

func (l Lead) InProgress() bool { return l.InProgressCallID != "" }
func (l Lead) Deleted() bool    { return l.DeletedAt != nil }

type Status string

const (
	StatusNew            Status = "new"
	StatusContacted      Status = "contacted"
	StatusQualified      Status = "qualified"
	StatusAppointmentSet Status = "appointment_set"
	StatusConverted      Status = "converted"
	StatusLost           Status = "lost"
	StatusDNC            Status = "dnc"
)

func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusContacted, StatusQualified, StatusAppointmentSet, StatusConverted, StatusLost, StatusDNC:
		return true
	}
	return false
}

const (
	MinPriority     = 1
	MaxPriority     = 10
	DefaultPriority = 5

	// SourceInbound marks leads created from an unmatched inbound caller.
	SourceInbound = "inbound"
)

// Filter narrows which leads a campaign may dial.
// Empty fields do not constrain. An empty Statuses list means StatusNew only.
type Filter struct {
	CampaignID  string   `json:"campaign_id,omitempty"`
	Statuses    []Status `json:"statuses,omitempty"`
	Sources     []string `json:"sources,omitempty"`
	MinPriority int      `json:"min_priority,omitempty"`
	MaxAttempts int      `json:"max_attempts,omitempty"`
}

// ListQuery is the CRUD list surface.
type ListQuery struct {
	CampaignID     string
	Status         Status
	Source         string
	IncludeDeleted bool
	Limit          int
	Offset         int
}
