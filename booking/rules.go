/*
rules.go - Configurable business thresholds

PURPOSE:
  Every number the resolver and the state machine compare against lives
  here, so deployments can tune them from config without code changes.

LOOKUP ORDER:
  Lead time:     teacher override -> location table -> default
  Cancel window: teacher override -> default

SEE ALSO:
  - config/config.go: Populates Rules from YAML/env
*/
package booking

import (
	"strings"
	"time"

	"github.com/warp/lesson-booking/deadline"
	"github.com/warp/lesson-booking/generic"
)

type Rules struct {
	// FallbackTeacherID may hold several lessons per slot and may be booked
	// into started slots. Zero disables the exemption.
	FallbackTeacherID generic.TeacherID

	DefaultLeadMinutes  int
	LocationLeadMinutes map[string]int

	DefaultCancelWindowMinutes int

	AbsenceWindows deadline.AbsenceWindows

	TrialMemoHours  int
	NormalMemoHours int

	BestMemoCap int

	// StartEarlyMinutes is how long before slot start a teacher may begin.
	StartEarlyMinutes int
}

// DefaultRules returns production defaults.
func DefaultRules() Rules {
	return Rules{
		DefaultLeadMinutes: 60,
		LocationLeadMinutes: map[string]int{
			"vn": 30,
			"ph": 120,
		},
		DefaultCancelWindowMinutes: 120,
		AbsenceWindows:             deadline.DefaultAbsenceWindows,
		TrialMemoHours:             deadline.TrialMemoHours,
		NormalMemoHours:            deadline.NormalMemoHours,
		BestMemoCap:                3,
		StartEarlyMinutes:          10,
	}
}

// IsFallback reports whether id is the fallback teacher.
func (r Rules) IsFallback(id generic.TeacherID) bool {
	return r.FallbackTeacherID != 0 && id == r.FallbackTeacherID
}

// LeadTime is the minimum gap between booking time and slot start.
func (r Rules) LeadTime(t generic.Teacher) time.Duration {
	if t.MinLeadMinutes > 0 {
		return time.Duration(t.MinLeadMinutes) * time.Minute
	}
	if m, ok := r.LocationLeadMinutes[strings.ToLower(t.Location)]; ok {
		return time.Duration(m) * time.Minute
	}
	return time.Duration(r.DefaultLeadMinutes) * time.Minute
}

// CancelWindow applies to non-manager customer care and teaching quality staff.
func (r Rules) CancelWindow(t *generic.Teacher) time.Duration {
	if t != nil && t.CancelWindowMinutes > 0 {
		return time.Duration(t.CancelWindowMinutes) * time.Minute
	}
	return time.Duration(r.DefaultCancelWindowMinutes) * time.Minute
}

func (r Rules) memoHours(trial bool) int {
	return deadline.MemoHours(trial, r.TrialMemoHours, r.NormalMemoHours)
}

func (r Rules) bestMemoCap() int {
	if r.BestMemoCap <= 0 {
		return 3
	}
	return r.BestMemoCap
}

func (r Rules) startEarly() int64 {
	return int64(r.StartEarlyMinutes) * generic.MinuteMs
}
