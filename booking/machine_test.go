package booking_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/warp/lesson-booking/booking"
	"github.com/warp/lesson-booking/generic"
)

func lesson(status generic.Status) generic.Booking {
	return generic.Booking{
		ID:        1,
		StudentID: studentID,
		TeacherID: teacherID,
		Status:    status,
		Calendar:  generic.CalendarSnapshot{StartTime: at(0, 14, 0), EndTime: at(0, 14, 30)},
	}
}

func TestMachine_Validate(t *testing.T) {
	m := booking.NewMachine(booking.DefaultRules(), nil, nil)

	tests := []struct {
		name   string
		from   generic.Status
		to     generic.Status
		actor  generic.Actor
		reason string
		now    int64
		code   string // empty means allowed
	}{
		{"teacher confirms", generic.StatusConfirmed, generic.StatusTeacherConfirmed, teacher, "", at(0, 8, 0), ""},
		{"completed is final for status changes", generic.StatusCompleted, generic.StatusTeaching, admin, "", at(0, 15, 0), "transition"},
		{"cancelled is terminal", generic.StatusCancelByStudent, generic.StatusConfirmed, admin, "", at(0, 8, 0), "transition"},
		{"confirmed cannot jump to completed", generic.StatusConfirmed, generic.StatusCompleted, teacher, "", at(0, 15, 0), "transition"},
		{"student absence needs reason", generic.StatusTeaching, generic.StatusStudentAbsent, teacher, "", at(0, 14, 10), "empty_reason"},
		{"student cannot start a lesson", generic.StatusConfirmed, generic.StatusTeaching, student, "", at(0, 13, 55), "forbidden"},
		{"other teacher cannot start", generic.StatusConfirmed, generic.StatusTeaching,
			generic.Actor{ID: int64(otherTeacherID), Role: generic.RoleTeacher}, "", at(0, 13, 55), "forbidden"},
		{"teacher cannot mark own absence", generic.StatusConfirmed, generic.StatusTeacherAbsent, teacher, "late", at(0, 14, 10), "forbidden"},
		{"cskh cannot mark absence during class", generic.StatusTeaching, generic.StatusStudentAbsent, cskh, "no show", at(0, 14, 10), "forbidden"},
		{"admin cannot mark absence during class", generic.StatusTeaching, generic.StatusStudentAbsent, admin, "no show", at(0, 14, 10), "forbidden"},
		{"admin cannot mark absence after teacher confirmed", generic.StatusTeacherConfirmed, generic.StatusStudentAbsent, admin, "no show", at(0, 14, 10), "forbidden"},
		{"teacher marks absence during class", generic.StatusTeaching, generic.StatusStudentAbsent, teacher, "no show", at(0, 14, 10), ""},
		{"cskh cannot correct absence", generic.StatusStudentAbsent, generic.StatusCompleted, cskh, "", at(0, 15, 0), "forbidden"},
		{"admin corrects absence", generic.StatusStudentAbsent, generic.StatusCompleted, admin, "", at(0, 15, 0), ""},
		{"start too early", generic.StatusConfirmed, generic.StatusTeaching, teacher, "", at(0, 13, 49), "start_early"},
		{"start ten minutes early", generic.StatusConfirmed, generic.StatusTeaching, teacher, "", at(0, 13, 50), ""},
		{"start after end", generic.StatusConfirmed, generic.StatusTeaching, teacher, "", at(0, 14, 31), "start_late"},
		{"complete before start", generic.StatusTeaching, generic.StatusCompleted, teacher, "", at(0, 13, 59), "not_started"},
		{"cskh cancel inside window", generic.StatusConfirmed, generic.StatusCancelByStudent, cskh, "sick", at(0, 12, 0), "cancel_window"},
		{"cskh cancel before window", generic.StatusConfirmed, generic.StatusCancelByStudent, cskh, "sick", at(0, 11, 59), ""},
		{"cskh absence too early", generic.StatusConfirmed, generic.StatusStudentAbsent, cskh, "no show", at(0, 11, 0), "cancel_window"},
		{"system completes", generic.StatusTeaching, generic.StatusCompleted, generic.SystemActor, "", at(0, 14, 30), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.Validate(lesson(tt.from), booking.Transition{To: tt.to, Actor: tt.actor, Reason: tt.reason}, nil, tt.now)
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			e, ok := generic.AsError(err)
			if assert.True(t, ok, "expected *generic.Error, got %v", err) {
				assert.Equal(t, tt.code, e.Code)
			}
		})
	}
}

func TestMachine_TeacherCancelWindowOverride(t *testing.T) {
	m := booking.NewMachine(booking.DefaultRules(), nil, nil)
	strict := &generic.Teacher{ID: teacherID, CancelWindowMinutes: 300}

	// GIVEN: the teacher asks for five hours notice; 10:00 is four hours ahead
	err := m.Validate(lesson(generic.StatusConfirmed),
		booking.Transition{To: generic.StatusCancelByStudent, Actor: cskh, Reason: "sick"}, strict, at(0, 10, 0))

	assert.Error(t, err)
	assert.Equal(t, generic.KindIllegalTransition, generic.KindOf(err))
}
