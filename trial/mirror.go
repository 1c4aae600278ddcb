/*
Package trial mirrors booking statuses onto trial bookings.

PURPOSE:
  A trial booking has its own status vocabulary used by the CRM and the
  recommendation-letter workflow. Its status is never set directly: it is
  always Map(parent booking status), applied in the same store transaction
  as the parent transition.

MAPPING:
  CONFIRMED, TEACHING, TEACHER_CONFIRMED -> CREATED_FOR_LEARNING
  COMPLETED                             -> SUCCESS
  STUDENT_ABSENT, CANCEL_BY_STUDENT     -> FAIL_BY_STUDENT
  TEACHER_ABSENT, CANCEL_BY_TEACHER     -> FAIL_BY_TEACHER
  CANCEL_BY_ADMIN                       -> FAIL_BY_TECHNOLOGY
  CHANGE_TIME                           -> CHANGE_TIME
  anything else                         -> illegal

SEE ALSO:
  - booking/machine.go: Calls Sync after every committed transition
*/
package trial

import (
	"context"
	"fmt"

	"github.com/warp/lesson-booking/generic"
)

var mapping = map[generic.Status]generic.TrialStatus{
	generic.StatusConfirmed:        generic.TrialCreatedForLearning,
	generic.StatusTeaching:         generic.TrialCreatedForLearning,
	generic.StatusTeacherConfirmed: generic.TrialCreatedForLearning,
	generic.StatusCompleted:        generic.TrialSuccess,
	generic.StatusStudentAbsent:    generic.TrialFailByStudent,
	generic.StatusCancelByStudent:  generic.TrialFailByStudent,
	generic.StatusTeacherAbsent:    generic.TrialFailByTeacher,
	generic.StatusCancelByTeacher:  generic.TrialFailByTeacher,
	generic.StatusCancelByAdmin:    generic.TrialFailByTechnology,
	generic.StatusChangeTime:       generic.TrialChangeTime,
}

// Map returns the trial status for a booking status.
func Map(s generic.Status) (generic.TrialStatus, error) {
	ts, ok := mapping[s]
	if !ok {
		return "", generic.Illegal("trial_status", "booking status %s has no trial equivalent", s)
	}
	return ts, nil
}

// New builds the mirror record for a freshly created trial booking.
func New(b generic.Booking, now int64) (*generic.TrialBooking, error) {
	ts, err := Map(b.Status)
	if err != nil {
		return nil, err
	}
	return &generic.TrialBooking{
		BookingID: b.ID,
		Status:    ts,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Sync recomputes the mirror of b and persists it. Bookings on non-trial
// packages are ignored.
func Sync(ctx context.Context, store generic.BookingStore, b generic.Booking, now int64) error {
	if !b.IsTrial() {
		return nil
	}
	ts, err := Map(b.Status)
	if err != nil {
		return err
	}

	tb, err := store.GetTrialBooking(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("trial.Sync: %w", err)
	}
	if tb == nil {
		return generic.Internal("trial_missing", fmt.Errorf("booking %d has a trial package but no trial booking", b.ID))
	}
	if tb.Status == ts {
		return nil
	}
	tb.Status = ts
	tb.UpdatedAt = now
	return store.UpdateTrialBooking(ctx, *tb)
}

// CheckMemoEditable rejects memo edits once the recommendation letter exists.
func CheckMemoEditable(tb *generic.TrialBooking) error {
	if tb != nil && tb.IsMemoLocked() {
		return generic.Invalid("memo_confirmed", "memo is locked by the recommendation letter")
	}
	return nil
}
