package booking_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lesson-booking/booking"
	"github.com/warp/lesson-booking/generic"
)

// =============================================================================
// ADMISSION CHECKS
// =============================================================================

func TestResolver_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *fixture)
		edit  func(r *booking.CreateRequest)
		kind  generic.Kind
		code  string
	}{
		{
			name: "unknown teacher",
			edit: func(r *booking.CreateRequest) { r.TeacherID = 404 },
			kind: generic.KindNotFound, code: "teacher_not_found",
		},
		{
			name: "inactive teacher",
			edit: func(r *booking.CreateRequest) { r.TeacherID = inactiveTeacherID },
			kind: generic.KindInactive, code: "teacher_inactive",
		},
		{
			name: "slot off the half hour",
			edit: func(r *booking.CreateRequest) {
				r.StartTime = at(0, 14, 10)
				r.EndTime = r.StartTime + generic.SlotMs
			},
			kind: generic.KindValidation, code: "slot_granularity",
		},
		{
			name: "slot already started",
			edit: func(r *booking.CreateRequest) {
				r.StartTime = at(0, 7, 30)
				r.EndTime = r.StartTime + generic.SlotMs
			},
			kind: generic.KindValidation, code: "slot_started",
		},
		{
			name: "inactive slot",
			setup: func(t *testing.T, f *fixture) {
				_, err := f.store.CreateSlot(f.ctx, generic.CalendarSlot{
					TeacherID: teacherID, StartTime: at(0, 14, 0), EndTime: at(0, 14, 30), IsActive: false,
				})
				require.NoError(t, err)
			},
			kind: generic.KindInactive, code: "slot_inactive",
		},
		{
			name: "student on leave",
			setup: func(t *testing.T, f *fixture) {
				_, err := f.store.SaveStudentLeave(f.ctx, generic.StudentLeave{
					StudentID: studentID, StartTime: at(0, 12, 0), EndTime: at(0, 18, 0),
					Status: generic.LeavePending, Reason: "travel",
				})
				require.NoError(t, err)
			},
			kind: generic.KindConflict, code: "student_leave",
		},
		{
			name: "student already booked at this start",
			setup: func(t *testing.T, f *fixture) {
				req := request(at(0, 14, 0))
				req.TeacherID = otherTeacherID
				f.book(t, req)
			},
			kind: generic.KindConflict, code: "student_busy",
		},
		{
			name: "substitute equal to teacher",
			edit: func(r *booking.CreateRequest) {
				r.SubstituteForTeacherID = teacherID
				r.Source = generic.SourceAdmin
				r.Actor = admin
			},
			kind: generic.KindValidation, code: "same_teacher",
		},
		{
			name: "substitution after the original slot ended",
			setup: func(t *testing.T, f *fixture) {
				_, err := f.store.CreateSlot(f.ctx, generic.CalendarSlot{
					TeacherID: teacherID, StartTime: at(0, 14, 0), EndTime: at(0, 14, 30), IsActive: true,
				})
				require.NoError(t, err)
				f.clock.Set(time.UnixMilli(at(0, 14, 40)))
			},
			edit: func(r *booking.CreateRequest) {
				r.TeacherID = fallbackTeacherID
				r.SubstituteForTeacherID = teacherID
				r.Source = generic.SourceAdmin
				r.Actor = admin
			},
			kind: generic.KindValidation, code: "slot_ended",
		},
		{
			name: "inside lead time",
			edit: func(r *booking.CreateRequest) {
				r.StartTime = at(0, 8, 30)
				r.EndTime = r.StartTime + generic.SlotMs
			},
			kind: generic.KindValidation, code: "lead_time",
		},
		{
			name: "inactive student",
			setup: func(t *testing.T, f *fixture) {
				require.NoError(t, f.store.SaveStudent(f.ctx, generic.Student{ID: studentID, Name: "Linh", IsActive: false}))
			},
			kind: generic.KindInactive, code: "student_inactive",
		},
		{
			name: "regular booking without regular slot",
			edit: func(r *booking.CreateRequest) { r.IsRegularBooking = true },
			kind: generic.KindValidation, code: "not_regular_slot",
		},
		{
			name: "unit from another course",
			edit: func(r *booking.CreateRequest) { r.UnitID = foreignUnitID },
			kind: generic.KindValidation, code: "unit_course_mismatch",
		},
		{
			name: "inactive course",
			setup: func(t *testing.T, f *fixture) {
				require.NoError(t, f.store.SaveCourse(f.ctx, generic.Course{ID: courseID, Name: "General English", IsActive: false}))
			},
			kind: generic.KindInactive, code: "course_inactive",
		},
		{
			name: "inactive unit",
			setup: func(t *testing.T, f *fixture) {
				require.NoError(t, f.store.SaveUnit(f.ctx, generic.Unit{ID: unitID, CourseID: courseID, Name: "Unit 1", IsActive: false}))
			},
			kind: generic.KindInactive, code: "unit_inactive",
		},
		{
			name: "package of another student",
			edit: func(r *booking.CreateRequest) { r.PackageID = otherPackageID },
			kind: generic.KindNotFound, code: "package_not_found",
		},
		{
			name: "no lessons left",
			setup: func(t *testing.T, f *fixture) {
				f.savePackage(t, generic.OrderedPackage{ID: 60, StudentID: studentID, Name: "Used", OriginalNumberClass: 5, NumberClass: 0})
			},
			edit: func(r *booking.CreateRequest) { r.PackageID = 60 },
			kind: generic.KindEntitlementExhausted, code: "no_lessons",
		},
		{
			name: "package not activated",
			setup: func(t *testing.T, f *fixture) {
				f.savePackage(t, generic.OrderedPackage{ID: 61, StudentID: studentID, Name: "New", ActivationDate: -1})
			},
			edit: func(r *booking.CreateRequest) { r.PackageID = 61 },
			kind: generic.KindEntitlementExhausted, code: "not_activated",
		},
		{
			name: "partially paid package used up",
			setup: func(t *testing.T, f *fixture) {
				f.savePackage(t, generic.OrderedPackage{ID: 62, StudentID: studentID, Name: "Instalment",
					OriginalNumberClass: 10, NumberClass: 7, PaidNumberClass: 3})
			},
			edit: func(r *booking.CreateRequest) { r.PackageID = 62 },
			kind: generic.KindEntitlementExhausted, code: "partial_payment",
		},
		{
			name: "package expired",
			setup: func(t *testing.T, f *fixture) {
				f.savePackage(t, generic.OrderedPackage{ID: 63, StudentID: studentID, Name: "Old",
					ActivationDate: at(-40, 8, 0), DayOfUse: 30})
			},
			edit: func(r *booking.CreateRequest) { r.PackageID = 63 },
			kind: generic.KindEntitlementExhausted, code: "expired",
		},
		{
			name: "trial created pending",
			edit: func(r *booking.CreateRequest) {
				r.PackageID = trialPackageID
				r.Status = generic.StatusPending
				r.Source = generic.SourceAdmin
				r.Actor = admin
			},
			kind: generic.KindValidation, code: "trial_pending",
		},
		{
			name: "daily package on another day",
			setup: func(t *testing.T, f *fixture) {
				f.savePackage(t, generic.OrderedPackage{ID: 64, StudentID: studentID, Name: "Daily",
					LearningFrequency: generic.FrequencyDaily})
			},
			edit: func(r *booking.CreateRequest) {
				r.PackageID = 64
				r.StartTime = at(1, 14, 0)
				r.EndTime = r.StartTime + generic.SlotMs
			},
			kind: generic.KindValidation, code: "not_today",
		},
		{
			name: "daily package already used today",
			setup: func(t *testing.T, f *fixture) {
				f.savePackage(t, generic.OrderedPackage{ID: 64, StudentID: studentID, Name: "Daily",
					LearningFrequency: generic.FrequencyDaily})
				req := request(at(0, 10, 0))
				req.PackageID = 64
				f.book(t, req)
			},
			edit: func(r *booking.CreateRequest) { r.PackageID = 64 },
			kind: generic.KindConflict, code: "daily_booked",
		},
		{
			name: "study paused",
			setup: func(t *testing.T, f *fixture) {
				_, err := f.store.SaveReservation(f.ctx, generic.Reservation{
					StudentID: studentID, StartTime: at(0, 0, 0), EndTime: at(7, 0, 0), Status: generic.LeavePaid,
				})
				require.NoError(t, err)
			},
			kind: generic.KindConflict, code: "reservation",
		},
		{
			name: "student cancelled by admin on this slot",
			setup: func(t *testing.T, f *fixture) {
				b := f.book(t, request(at(0, 14, 0)))
				f.move(t, b.ID, generic.StatusCancelByAdmin, admin, "duplicate request")
			},
			kind: generic.KindConflict, code: "calendar_student",
		},
		{
			name: "slot lost to teacher cancellation",
			setup: func(t *testing.T, f *fixture) {
				req := request(at(0, 14, 0))
				req.StudentID = otherStudentID
				req.PackageID = otherPackageID
				req.Actor = generic.Actor{ID: int64(otherStudentID), Role: generic.RoleStudent}
				b := f.book(t, req)
				f.move(t, b.ID, generic.StatusCancelByTeacher, teacher, "sick")
			},
			kind: generic.KindConflict, code: "calendar_teacher",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(t, f)
			}
			req := request(at(0, 14, 0))
			if tt.edit != nil {
				tt.edit(&req)
			}

			_, err := f.svc.CreateBooking(f.ctx, req)

			requireCode(t, err, tt.kind, tt.code)
		})
	}
}

func TestResolver_CalendarIDChecks(t *testing.T) {
	f := newFixture(t)

	// GIVEN: a slot that belongs to Ben and a deactivated slot of Anna
	bens, err := f.store.CreateSlot(f.ctx, generic.CalendarSlot{
		TeacherID: otherTeacherID, StartTime: at(0, 14, 0), EndTime: at(0, 14, 30), IsActive: true,
	})
	require.NoError(t, err)
	closed, err := f.store.CreateSlot(f.ctx, generic.CalendarSlot{
		TeacherID: teacherID, StartTime: at(0, 15, 0), EndTime: at(0, 15, 30), IsActive: false,
	})
	require.NoError(t, err)

	// WHEN: Anna is booked on Ben's slot
	req := request(at(0, 14, 0))
	req.CalendarID = bens.ID
	_, err = f.svc.CreateBooking(f.ctx, req)

	// THEN
	requireCode(t, err, generic.KindValidation, "slot_teacher_mismatch")

	// WHEN: the inactive slot is referenced by id
	req = request(at(0, 15, 0))
	req.CalendarID = closed.ID
	_, err = f.svc.CreateBooking(f.ctx, req)

	// THEN
	requireCode(t, err, generic.KindInactive, "slot_inactive")
	assert.Equal(t, 5, f.numberClass(t, packageID))
}

func TestResolver_SubstitutionBeforeOriginalEnds(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.CreateSlot(f.ctx, generic.CalendarSlot{
		TeacherID: teacherID, StartTime: at(0, 14, 0), EndTime: at(0, 14, 30), IsActive: true,
	})
	require.NoError(t, err)

	// GIVEN: the lesson started ten minutes ago
	f.clock.Set(time.UnixMilli(at(0, 14, 10)))

	// WHEN: the standby teacher takes over
	req := request(at(0, 14, 0))
	req.TeacherID = fallbackTeacherID
	req.SubstituteForTeacherID = teacherID
	req.Source = generic.SourceAdmin
	req.Actor = admin
	b := f.book(t, req)

	// THEN
	assert.Equal(t, fallbackTeacherID, b.TeacherID)
	assert.Equal(t, teacherID, b.SubstituteForTeacherID)
}

func TestResolver_RejectionLeavesNothingBehind(t *testing.T) {
	f := newFixture(t)
	req := request(at(0, 14, 0))
	req.UnitID = foreignUnitID

	_, err := f.svc.CreateBooking(f.ctx, req)
	require.Error(t, err)

	// THEN: the lazily created slot was rolled back with the booking
	slot, err := f.store.FindSlot(f.ctx, teacherID, at(0, 14, 0))
	require.NoError(t, err)
	assert.Nil(t, slot)
	assert.Equal(t, 5, f.numberClass(t, packageID))
}

func TestResolver_SlotReusedAfterStudentCancel(t *testing.T) {
	f := newFixture(t)
	first := f.book(t, request(at(0, 14, 0)))
	f.move(t, first.ID, generic.StatusCancelByStudent, student, "busy")

	// WHEN: another student takes the freed slot
	req := request(at(0, 14, 0))
	req.StudentID = otherStudentID
	req.PackageID = otherPackageID
	req.Actor = generic.Actor{ID: int64(otherStudentID), Role: generic.RoleStudent}
	second := f.book(t, req)

	// THEN: both bookings share the calendar slot
	assert.Equal(t, first.CalendarID, second.CalendarID)
}

func TestResolver_AdminBypassesLeadTime(t *testing.T) {
	f := newFixture(t)
	req := request(at(0, 8, 30))
	req.Source = generic.SourceAdmin
	req.Actor = admin

	b := f.book(t, req)

	assert.Equal(t, generic.SourceAdmin, b.Source)
}

func TestResolver_LocationLeadTime(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SaveTeacher(f.ctx, generic.Teacher{ID: 13, Name: "Pia", Location: "PH", IsActive: true}))

	// GIVEN: PH teachers need two hours
	req := request(at(0, 9, 30))
	req.TeacherID = 13
	_, err := f.svc.CreateBooking(f.ctx, req)
	requireCode(t, err, generic.KindValidation, "lead_time")

	req = request(at(0, 10, 0))
	req.TeacherID = 13
	f.book(t, req)
}

func TestResolver_FallbackTeacherHoldsManySlots(t *testing.T) {
	f := newFixture(t)

	a := request(at(0, 14, 0))
	a.TeacherID = fallbackTeacherID
	f.book(t, a)

	b := request(at(0, 14, 0))
	b.TeacherID = fallbackTeacherID
	b.StudentID = otherStudentID
	b.PackageID = otherPackageID
	b.Actor = generic.Actor{ID: int64(otherStudentID), Role: generic.RoleStudent}
	f.book(t, b)

	live, err := f.svc.ListBookings(f.ctx, generic.BookingFilter{TeacherID: fallbackTeacherID, Statuses: generic.LiveStatuses})
	require.NoError(t, err)
	assert.Len(t, live, 2)
}

func TestResolver_RegularBookingMatchesSlot(t *testing.T) {
	f := newFixture(t)
	start := at(1, 14, 0)
	_, err := f.store.SaveRegularSlot(f.ctx, generic.RegularSlot{
		StudentID: studentID, TeacherID: teacherID, CourseID: courseID, UnitID: unitID,
		OrderedPackageID: packageID, WeekOffset: generic.WeekOffset(start, generic.LocalZone), IsActive: true,
	})
	require.NoError(t, err)

	req := request(start)
	req.IsRegularBooking = true
	b := f.book(t, req)

	assert.True(t, b.IsRegularBooking)
}
