/*
status.go - Booking and trial-booking status enums with the transition table

PURPOSE:
  The booking status is the canonical lifecycle field. Every legal move is
  listed in bookingTransitions; anything not listed is rejected before any
  guard or side effect runs.

NUMERIC VALUES:
  The integer values are externally visible and persisted; they must not be
  renumbered.

    COMPLETED(1) PENDING(2) CONFIRMED(3) TEACHING(4) STUDENT_ABSENT(5)
    TEACHER_ABSENT(6) CANCEL_BY_STUDENT(7) CANCEL_BY_TEACHER(8)
    CANCEL_BY_ADMIN(9) TEACHER_CONFIRMED(10) CHANGE_TIME(11)

STATUS SETS:
  Live:             PENDING, CONFIRMED, TEACHER_CONFIRMED, TEACHING
                    At most one live booking per (teacher, start) and per
                    (student, start).
  CancelForStudent: TEACHER_ABSENT, CHANGE_TIME, CANCEL_BY_*
                    The lesson is refunded to the student's package while
                    the booking sits in this set.

SEE ALSO:
  - booking/machine.go: Guards and side effects for each transition
  - trial/mirror.go: Trial status mapping
*/
package generic

import (
	"fmt"
	"strings"
)

// =============================================================================
// BOOKING STATUS
// =============================================================================

type Status int

const (
	StatusCompleted        Status = 1
	StatusPending          Status = 2
	StatusConfirmed        Status = 3
	StatusTeaching         Status = 4
	StatusStudentAbsent    Status = 5
	StatusTeacherAbsent    Status = 6
	StatusCancelByStudent  Status = 7
	StatusCancelByTeacher  Status = 8
	StatusCancelByAdmin    Status = 9
	StatusTeacherConfirmed Status = 10
	StatusChangeTime       Status = 11
)

var statusNames = map[Status]string{
	StatusCompleted:        "COMPLETED",
	StatusPending:          "PENDING",
	StatusConfirmed:        "CONFIRMED",
	StatusTeaching:         "TEACHING",
	StatusStudentAbsent:    "STUDENT_ABSENT",
	StatusTeacherAbsent:    "TEACHER_ABSENT",
	StatusCancelByStudent:  "CANCEL_BY_STUDENT",
	StatusCancelByTeacher:  "CANCEL_BY_TEACHER",
	StatusCancelByAdmin:    "CANCEL_BY_ADMIN",
	StatusTeacherConfirmed: "TEACHER_CONFIRMED",
	StatusChangeTime:       "CHANGE_TIME",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// IsValid reports whether s is one of the eleven known statuses.
func (s Status) IsValid() bool {
	_, ok := statusNames[s]
	return ok
}

// ParseStatus accepts either the name ("CONFIRMED") or the number ("3").
func ParseStatus(v string) (Status, error) {
	v = strings.ToUpper(strings.TrimSpace(v))
	for s, name := range statusNames {
		if name == v || fmt.Sprint(int(s)) == v {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown booking status %q", v)
}

var bookingTransitions = map[Status][]Status{
	StatusPending: {
		StatusConfirmed, StatusTeacherConfirmed, StatusTeaching,
		StatusStudentAbsent, StatusTeacherAbsent,
		StatusCancelByStudent, StatusCancelByTeacher, StatusCancelByAdmin,
	},
	StatusConfirmed: {
		StatusTeacherConfirmed, StatusTeaching,
		StatusStudentAbsent, StatusTeacherAbsent,
		StatusCancelByStudent, StatusCancelByTeacher, StatusCancelByAdmin,
		StatusChangeTime,
	},
	StatusTeacherConfirmed: {
		StatusTeaching, StatusCompleted,
		StatusStudentAbsent, StatusTeacherAbsent,
		StatusCancelByStudent, StatusCancelByTeacher, StatusCancelByAdmin,
	},
	StatusTeaching: {
		StatusCompleted,
		StatusStudentAbsent, StatusTeacherAbsent,
		StatusCancelByStudent, StatusCancelByTeacher, StatusCancelByAdmin,
	},
	StatusStudentAbsent: {StatusCompleted, StatusTeacherAbsent, StatusChangeTime},
	StatusTeacherAbsent: {StatusCompleted, StatusStudentAbsent, StatusChangeTime},
	StatusCompleted:     {StatusChangeTime},
}

// CanTransitionTo reports whether target is reachable from s in one step.
func (s Status) CanTransitionTo(target Status) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// NextStatuses returns the statuses reachable from s.
func (s Status) NextStatuses() []Status {
	out := make([]Status, len(bookingTransitions[s]))
	copy(out, bookingTransitions[s])
	return out
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return len(bookingTransitions[s]) == 0
}

// LiveStatuses hold the slot for both teacher and student.
var LiveStatuses = []Status{StatusPending, StatusConfirmed, StatusTeacherConfirmed, StatusTeaching}

func (s Status) IsLive() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusTeacherConfirmed, StatusTeaching:
		return true
	}
	return false
}

// IsCancelForStudent reports whether the lesson is refunded in status s.
func (s Status) IsCancelForStudent() bool {
	switch s {
	case StatusTeacherAbsent, StatusChangeTime,
		StatusCancelByStudent, StatusCancelByTeacher, StatusCancelByAdmin:
		return true
	}
	return false
}

// RequiresReason reports whether entering s needs a non-empty reason.
func (s Status) RequiresReason() bool {
	switch s {
	case StatusCancelByStudent, StatusCancelByTeacher, StatusCancelByAdmin,
		StatusStudentAbsent, StatusTeacherAbsent:
		return true
	}
	return false
}

// =============================================================================
// TRIAL STATUS
// =============================================================================

type TrialStatus string

const (
	TrialCreatedForLearning TrialStatus = "CREATED_FOR_LEARNING"
	TrialSuccess            TrialStatus = "SUCCESS"
	TrialFailByStudent      TrialStatus = "FAIL_BY_STUDENT"
	TrialFailByTeacher      TrialStatus = "FAIL_BY_TEACHER"
	TrialFailByTechnology   TrialStatus = "FAIL_BY_TECHNOLOGY"
	TrialChangeTime         TrialStatus = "CHANGE_TIME"
)
