package campaigns

import (
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"campaign-dialer/internal/leads"
)

func TestSchedule_Contains(t *testing.T) {
	weekdays := DefaultSchedule()
	overnight := Schedule{StartMinute: 22 * 60, EndMinute: 6 * 60, Weekdays: []time.Weekday{time.Friday}}
	allDay := Schedule{StartMinute: 0, EndMinute: 0, Weekdays: []time.Weekday{time.Sunday}}
	ny := Schedule{StartMinute: 9 * 60, EndMinute: 17 * 60, Weekdays: weekdays.Weekdays, Timezone: "America/New_York"}

	at := func(day, hour, min int) time.Time { return time.Date(2026, 3, day, hour, min, 0, 0, time.UTC) }

	cases := []struct {
		name string
		s    Schedule
		t    time.Time
		want bool
	}{
		{"monday morning", weekdays, at(2, 9, 0), true},
		{"end is exclusive", weekdays, at(2, 17, 0), false},
		{"before start", weekdays, at(2, 8, 59), false},
		{"sunday", weekdays, at(1, 12, 0), false},
		{"friday night", overnight, at(6, 23, 0), true},
		{"after midnight belongs to friday", overnight, at(7, 2, 0), true},
		{"saturday night", overnight, at(7, 23, 0), false},
		{"early friday belongs to thursday", overnight, at(6, 2, 0), false},
		{"overnight gap", overnight, at(6, 12, 0), false},
		{"whole day", allDay, at(1, 3, 0), true},
		{"new york 09:30", ny, at(2, 14, 30), true},
		{"new york 08:30", ny, at(2, 13, 30), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.s.Contains(tc.t); got != tc.want {
				t.Fatalf("Contains(%s) = %v, want %v", tc.t, got, tc.want)
			}
		})
	}
}

func TestCampaign_ValidateReportsEveryProblem(t *testing.T) {
	c := Campaign{
		Type:          "robocall",
		MaxConcurrent: 6,
		CallsPerHour:  5,
		Schedule:      Schedule{StartMinute: 1440, Timezone: "Mars/Olympus"},
		Filter:        leads.Filter{Statuses: []leads.Status{leads.StatusDNC}},
	}
	err := c.Validate()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		t.Fatalf("expected joined errors")
	}
	// name, type, max_concurrent, calls_per_hour, schedule, filter
	if n := len(joined.Unwrap()); n != 6 {
		t.Fatalf("expected 6 problems, got %d: %v", n, err)
	}
}

func TestType_DialsAndAnswers(t *testing.T) {
	if !TypeOutbound.Dials() || TypeOutbound.Answers() {
		t.Fatalf("outbound")
	}
	if TypeInbound.Dials() || !TypeInbound.Answers() {
		t.Fatalf("inbound")
	}
	if !TypeBlended.Dials() || !TypeBlended.Answers() {
		t.Fatalf("blended")
	}
}
