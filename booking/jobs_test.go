package booking_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lesson-booking/booking"
	"github.com/warp/lesson-booking/generic"
	"go.uber.org/multierr"
)

// =============================================================================
// ABSENT PERIOD
// =============================================================================

func TestCancelAbsentPeriod_PartialFailure(t *testing.T) {
	f := newFixture(t)

	// GIVEN: two lessons today and one tomorrow
	early := f.book(t, request(at(0, 10, 0)))
	late := f.book(t, request(at(0, 16, 0)))
	tomorrow := f.book(t, request(at(1, 16, 0)))

	// AND: CSKH files the leave at 09:00, inside the 10:00 lesson's cancel window
	f.clock.Set(time.UnixMilli(at(0, 9, 0)))
	res, err := f.svc.CancelAbsentPeriod(f.ctx, booking.AbsentPeriodRequest{
		StudentID: studentID,
		StartTime: at(0, 0, 0),
		EndTime:   at(1, 0, 0),
		Reason:    "family trip",
		Actor:     cskh,
	})
	require.NoError(t, err)

	// THEN: the late lesson is cancelled, the early one reported, tomorrow untouched
	assert.Equal(t, []generic.BookingID{late.ID}, res.Succeeded)
	assert.Equal(t, []generic.BookingID{early.ID}, res.Failed)
	require.Len(t, multierr.Errors(res.Err), 1)
	assert.Equal(t, generic.KindIllegalTransition, generic.KindOf(multierr.Errors(res.Err)[0]))

	got, err := f.svc.GetBooking(f.ctx, tomorrow.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.StatusConfirmed, got.Status)
	assert.Equal(t, 3, f.numberClass(t, packageID))
	f.assertConserved(t, packageID)

	// AND: the leave stays unprocessed for a retry
	pending, err := f.store.ListUnprocessedLeaves(f.ctx, generic.LeaveApproved)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestCancelAbsentPeriod_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CancelAbsentPeriod(f.ctx, booking.AbsentPeriodRequest{
		StudentID: studentID, StartTime: at(1, 0, 0), EndTime: at(0, 0, 0), Reason: "x", Actor: admin,
	})
	requireCode(t, err, generic.KindValidation, "invalid_period")

	_, err = f.svc.CancelAbsentPeriod(f.ctx, booking.AbsentPeriodRequest{
		StudentID: studentID, StartTime: at(0, 0, 0), EndTime: at(1, 0, 0), Reason: "x",
		Actor: generic.Actor{ID: int64(otherStudentID), Role: generic.RoleStudent},
	})
	requireCode(t, err, generic.KindIllegalTransition, "forbidden")
}

func TestProcessApprovedLeaves(t *testing.T) {
	f := newFixture(t)
	b := f.book(t, request(at(1, 14, 0)))
	_, err := f.store.SaveStudentLeave(f.ctx, generic.StudentLeave{
		StudentID: studentID, StartTime: at(1, 0, 0), EndTime: at(2, 0, 0),
		Status: generic.LeaveApproved, CreatedAt: at(0, 8, 0),
	})
	require.NoError(t, err)

	res, err := f.svc.ProcessApprovedLeaves(f.ctx)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, []generic.BookingID{b.ID}, res.Succeeded)

	got, err := f.svc.GetBooking(f.ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.StatusCancelByStudent, got.Status)
	assert.Equal(t, "student leave", got.Reason)

	// WHEN: the job runs again
	res, err = f.svc.ProcessApprovedLeaves(f.ctx)

	// THEN: the leave was marked processed
	require.NoError(t, err)
	assert.Empty(t, res.Succeeded)
}

// =============================================================================
// AUTO FINISH
// =============================================================================

func TestAutoFinish_CompletesEndedLessons(t *testing.T) {
	f := newFixture(t)
	ended := f.book(t, request(at(0, 10, 0)))
	running := f.book(t, request(at(0, 11, 0)))

	f.clock.Set(time.UnixMilli(at(0, 10, 0)))
	f.move(t, ended.ID, generic.StatusTeaching, teacher, "")
	f.clock.Set(time.UnixMilli(at(0, 11, 0)))
	f.move(t, running.ID, generic.StatusTeaching, teacher, "")

	// WHEN: the job runs at 11:10
	f.clock.Set(time.UnixMilli(at(0, 11, 10)))
	res, err := f.svc.AutoFinish(f.ctx)

	// THEN: only the 10:00 lesson is completed
	require.NoError(t, err)
	assert.Equal(t, []generic.BookingID{ended.ID}, res.Succeeded)
	got, err := f.svc.GetBooking(f.ctx, ended.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.StatusCompleted, got.Status)
	assert.Equal(t, at(0, 11, 10), got.FinishedAt)

	got, err = f.svc.GetBooking(f.ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.StatusTeaching, got.Status)
}

// =============================================================================
// REGULAR BOOKINGS
// =============================================================================

func TestCreateRegularBookings_Idempotent(t *testing.T) {
	f := newFixture(t)
	weekStart := f.svc.NextWeekStart()
	assert.Equal(t, at(7, 0, 0), weekStart)

	_, err := f.store.SaveRegularSlot(f.ctx, generic.RegularSlot{
		StudentID: studentID, TeacherID: teacherID, CourseID: courseID, UnitID: unitID,
		OrderedPackageID: packageID, WeekOffset: 2*generic.DayMs + 19*generic.HourMs, IsActive: true,
	})
	require.NoError(t, err)

	res, err := f.svc.CreateRegularBookings(f.ctx, weekStart)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	require.Len(t, res.Succeeded, 1)

	b, err := f.svc.GetBooking(f.ctx, res.Succeeded[0])
	require.NoError(t, err)
	assert.Equal(t, at(9, 19, 0), b.SlotStart())
	assert.True(t, b.IsRegularBooking)
	assert.Equal(t, generic.SourceCronjob, b.Source)

	// WHEN: the job runs a second time for the same week
	res, err = f.svc.CreateRegularBookings(f.ctx, weekStart)

	// THEN: nothing new is booked and nothing is debited twice
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Empty(t, res.Succeeded)
	assert.Equal(t, 4, f.numberClass(t, packageID))
}
