package deadline_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/warp/lesson-booking/deadline"
	"github.com/warp/lesson-booking/generic"
)

func local(year int, month time.Month, day, hour, min int) int64 {
	return time.Date(year, month, day, hour, min, 0, 0, generic.LocalZone).UnixMilli()
}

// =============================================================================
// MEMO LATENESS
// =============================================================================

func TestMemoDeadline_NormalMemo(t *testing.T) {
	// GIVEN: A lesson finished at 15:00 local on March 10
	// WHEN: Computing the normal-memo deadline
	// THEN: Deadline is March 11 12:00 local

	finished := local(2025, time.March, 10, 15, 0)
	assert.Equal(t, local(2025, time.March, 11, 12, 0), deadline.MemoDeadline(finished, deadline.NormalMemoHours))
}

func TestMemoDeadline_TrialMemo(t *testing.T) {
	finished := local(2025, time.March, 10, 15, 0)
	assert.Equal(t, local(2025, time.March, 11, 8, 0), deadline.MemoDeadline(finished, deadline.TrialMemoHours))
}

func TestMemoDeadline_UsesLocalDayNotUTCDay(t *testing.T) {
	// GIVEN: A lesson finished at 00:30 local on March 10 (still March 9 in UTC)
	// WHEN: Computing the deadline
	// THEN: The day boundary is the local one, so the deadline is March 11

	finished := local(2025, time.March, 10, 0, 30)
	assert.Equal(t, 9, generic.FromMs(finished).Day(), "sanity: UTC date is the 9th")
	assert.Equal(t, local(2025, time.March, 11, 12, 0), deadline.MemoDeadline(finished, deadline.NormalMemoHours))
}

func TestIsMemoLate(t *testing.T) {
	finished := local(2025, time.March, 10, 21, 0)

	tests := []struct {
		name  string
		now   int64
		hours int
		late  bool
	}{
		{"same evening", local(2025, time.March, 10, 22, 0), 12, false},
		{"exactly at deadline", local(2025, time.March, 11, 12, 0), 12, false},
		{"one minute after", local(2025, time.March, 11, 12, 1), 12, true},
		{"trial after 08:00", local(2025, time.March, 11, 9, 0), 8, true},
		{"trial before 08:00", local(2025, time.March, 11, 7, 59), 8, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.late, deadline.IsMemoLate(finished, tt.now, tt.hours))
		})
	}
}

func TestMemoHours_Defaults(t *testing.T) {
	assert.Equal(t, 8, deadline.MemoHours(true, 0, 0))
	assert.Equal(t, 12, deadline.MemoHours(false, 0, 0))
	assert.Equal(t, 6, deadline.MemoHours(true, 6, 10))
	assert.Equal(t, 10, deadline.MemoHours(false, 6, 10))
}

// =============================================================================
// ABSENCE REPORT
// =============================================================================

func TestClassifyAbsence(t *testing.T) {
	start := local(2025, time.March, 10, 19, 0)
	w := deadline.DefaultAbsenceWindows

	tests := []struct {
		name     string
		reported int64
		want     deadline.AbsenceBand
	}{
		{"two days ahead", start - 48*generic.HourMs, deadline.AbsenceInTime},
		{"exactly 24h ahead", start - 24*generic.HourMs, deadline.AbsenceLateNormal},
		{"five hours ahead", start - 5*generic.HourMs, deadline.AbsenceLateNormal},
		{"exactly 2h ahead", start - 2*generic.HourMs, deadline.AbsenceNearlyMissed},
		{"ten minutes ahead", start - 10*generic.MinuteMs, deadline.AbsenceNearlyMissed},
		{"at start", start, deadline.AbsenceMissed},
		{"after start", start + generic.MinuteMs, deadline.AbsenceMissed},
		{"never reported", 0, deadline.AbsenceMissed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, deadline.ClassifyAbsence(start, tt.reported, w))
		})
	}
}

// =============================================================================
// OVERTIME
// =============================================================================

func TestIsOvertime(t *testing.T) {
	// GIVEN: A slot at 23:00 local on March 10
	// WHEN: Editing at various times
	// THEN: Only edits on a later local date are overtime

	slot := local(2025, time.March, 10, 23, 0)

	assert.False(t, deadline.IsOvertime(local(2025, time.March, 9, 10, 0), slot), "day before")
	assert.False(t, deadline.IsOvertime(local(2025, time.March, 10, 23, 59), slot), "same day, late")
	assert.True(t, deadline.IsOvertime(local(2025, time.March, 11, 0, 1), slot), "next local day")
}

func TestBestMemoDay(t *testing.T) {
	assert.Equal(t, "2025-03-10", deadline.BestMemoDay(local(2025, time.March, 10, 0, 30)))
	assert.True(t, deadline.IsSameLocalDay(local(2025, time.March, 10, 0, 30), local(2025, time.March, 10, 23, 30)))
}
