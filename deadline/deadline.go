/*
Package deadline computes time-window business rules.

PURPOSE:
  Pure functions of a reference timestamp and configured offsets. Nothing
  here reads the store or the clock; callers pass "now" explicitly so the
  same inputs always give the same answer.

RULES:
  Memo lateness:
    deadline = startOfDay(finished_at, UTC+7) + 1 day + H hours
    H = 8 for trial memos, 12 for normal memos. Late when now > deadline.

  Absence report timeliness, lead = slot start - reported_at:
    InTime        lead >  allowed
    LateNormal    nearly < lead <= allowed
    NearlyMissed  0 < lead <= nearly
    Missed        lead <= 0, or no report

  Overtime:
    An edit is overtime when its local date is after the slot's local date.

SEE ALSO:
  - booking/machine.go: Stamps late_memo and absence_report
  - generic/time.go: LocalZone and day helpers
*/
package deadline

import (
	"time"

	"github.com/warp/lesson-booking/generic"
)

// =============================================================================
// MEMO LATENESS
// =============================================================================

const (
	TrialMemoHours  = 8
	NormalMemoHours = 12
)

// MemoDeadline returns the memo deadline for a lesson finished at finishedAt.
func MemoDeadline(finishedAt int64, hours int) int64 {
	dayStart := generic.StartOfDay(finishedAt, generic.LocalZone)
	return dayStart + generic.DayMs + int64(hours)*generic.HourMs
}

// MemoHours picks the offset for trial or normal memos.
func MemoHours(trial bool, trialHours, normalHours int) int {
	if trial {
		if trialHours <= 0 {
			return TrialMemoHours
		}
		return trialHours
	}
	if normalHours <= 0 {
		return NormalMemoHours
	}
	return normalHours
}

// IsMemoLate reports whether a memo submitted at now misses the deadline.
func IsMemoLate(finishedAt, now int64, hours int) bool {
	return now > MemoDeadline(finishedAt, hours)
}

// =============================================================================
// ABSENCE REPORT
// =============================================================================

type AbsenceBand string

const (
	AbsenceInTime       AbsenceBand = "in_time"
	AbsenceLateNormal   AbsenceBand = "late_normal"
	AbsenceNearlyMissed AbsenceBand = "nearly_missed"
	AbsenceMissed       AbsenceBand = "missed"
)

// AbsenceWindows holds the two thresholds measured before slot start.
type AbsenceWindows struct {
	Allowed      time.Duration
	NearlyMissed time.Duration
}

// DefaultAbsenceWindows: report a day ahead to be in time, under two hours is nearly missed.
var DefaultAbsenceWindows = AbsenceWindows{
	Allowed:      24 * time.Hour,
	NearlyMissed: 2 * time.Hour,
}

// ClassifyAbsence places a report into its band. reportedAt == 0 means no report.
func ClassifyAbsence(slotStart, reportedAt int64, w AbsenceWindows) AbsenceBand {
	if reportedAt == 0 {
		return AbsenceMissed
	}
	lead := slotStart - reportedAt
	switch {
	case lead <= 0:
		return AbsenceMissed
	case lead <= w.NearlyMissed.Milliseconds():
		return AbsenceNearlyMissed
	case lead <= w.Allowed.Milliseconds():
		return AbsenceLateNormal
	default:
		return AbsenceInTime
	}
}

// =============================================================================
// OVERTIME
// =============================================================================

// IsOvertime reports whether an edit at editAt falls on a later local date
// than the slot starting at slotStart.
func IsOvertime(editAt, slotStart int64) bool {
	return generic.StartOfDay(editAt, generic.LocalZone) > generic.StartOfDay(slotStart, generic.LocalZone)
}

// =============================================================================
// QUOTAS
// =============================================================================

// BestMemoDay is the counter key for the best-memo quota of a slot.
func BestMemoDay(slotStart int64) string {
	return generic.DayKey(slotStart, generic.LocalZone)
}

// IsSameLocalDay reports whether two instants share a local calendar date.
func IsSameLocalDay(a, b int64) bool {
	return generic.StartOfDay(a, generic.LocalZone) == generic.StartOfDay(b, generic.LocalZone)
}
