/*
resolver.go - Admission checks for new bookings

PURPOSE:
  Decides whether a booking may be created for a (student, teacher, slot,
  package) request. Checks run in a fixed order and the first violation
  wins. The resolver only reads, except for the lazy creation of a missing
  calendar slot, and always runs inside the caller's store transaction so a
  rejection leaves nothing behind.

CHECK ORDER:
  1.  Teacher exists and is active; slot resolved, active, not started
  2.  No pending/approved student leave covers the slot (student/admin source)
  3.  No live booking for the student, or the teacher, at this start
  4.  Substitution sanity, or
  5.  Lead time (teacher -> location -> default; bypassed for admin/cron)
  6.  Student exists and is active; regular bookings match a RegularSlot
  7.  Course and unit exist, are active, unit belongs to course
  8.  Package belongs to student, has lessons, is activated, paid, unexpired
  9.  DAILY packages: slot is today and no other live booking on it today
  10. No approved/paid reservation covers the slot
  11. Latest booking on this calendar id allows rebooking

REPLACEMENTS:
  Change-time passes ReplacesBookingID. That booking is ignored by checks
  3, 9 and 11 so a lesson can be moved onto or next to its own slot.

SEE ALSO:
  - service.go: CreateBooking and ChangeTime call Resolve inside WithTx
  - rules.go: Lead time and fallback teacher
*/
package booking

import (
	"context"
	"fmt"

	"github.com/warp/lesson-booking/deadline"
	"github.com/warp/lesson-booking/generic"
)

// Request is the input of the resolver. Either CalendarID or StartTime/EndTime
// identifies the slot.
type Request struct {
	StudentID        generic.StudentID
	TeacherID        generic.TeacherID
	CalendarID       generic.CalendarID
	StartTime        int64
	EndTime          int64
	CourseID         generic.CourseID
	UnitID           generic.UnitID
	PackageID        generic.PackageID
	IsRegularBooking bool
	Source           generic.Source
	Status           generic.Status

	SubstituteForTeacherID generic.TeacherID
	BypassLeadTime         bool
	ReplacesBookingID      generic.BookingID
}

// Resolution carries the live records read by the checks. The booking is
// built from it so snapshots match what was validated.
type Resolution struct {
	Teacher generic.Teacher
	Student generic.Student
	Course  generic.Course
	Unit    generic.Unit
	Package generic.OrderedPackage
	Slot    generic.CalendarSlot
}

type Resolver struct {
	rules Rules
	clock generic.Clock
}

func NewResolver(rules Rules, clock generic.Clock) *Resolver {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	return &Resolver{rules: rules, clock: clock}
}

// Resolve runs every check against store, which must be transaction-bound.
func (r *Resolver) Resolve(ctx context.Context, store generic.Store, req Request) (*Resolution, error) {
	now := generic.Ms(r.clock.Now())
	res := &Resolution{}

	// 1. teacher and slot
	teacher, err := store.GetTeacher(ctx, req.TeacherID)
	if err != nil {
		return nil, fmt.Errorf("resolver: %w", err)
	}
	if teacher == nil {
		return nil, generic.NotFound("teacher_not_found", "teacher %d not found", req.TeacherID)
	}
	if !teacher.IsActive {
		return nil, generic.Inactive("teacher_inactive", "teacher %d is inactive", req.TeacherID)
	}
	res.Teacher = *teacher

	slot, err := r.resolveSlot(ctx, store, req)
	if err != nil {
		return nil, err
	}
	res.Slot = *slot
	fallback := r.rules.IsFallback(teacher.ID)
	if slot.StartTime <= now && !fallback {
		return nil, generic.Invalid("slot_started", "slot %d has already started", slot.ID)
	}

	// 2. student leave
	if req.Source == generic.SourceStudent || req.Source == generic.SourceAdmin {
		leaves, err := store.FindStudentLeaves(ctx, req.StudentID, slot.StartTime,
			generic.LeavePending, generic.LeaveApproved)
		if err != nil {
			return nil, fmt.Errorf("resolver: %w", err)
		}
		if len(leaves) > 0 {
			return nil, generic.Conflict("student_leave", "student %d is on leave at this time", req.StudentID)
		}
	}

	// 3. live bookings at the same start
	busy, err := r.liveAt(ctx, store, generic.BookingFilter{StudentID: req.StudentID}, slot.StartTime, req.ReplacesBookingID)
	if err != nil {
		return nil, err
	}
	if busy {
		return nil, generic.Conflict("student_busy", "student %d already has a lesson at this time", req.StudentID)
	}
	if !fallback {
		busy, err = r.liveAt(ctx, store, generic.BookingFilter{TeacherID: teacher.ID}, slot.StartTime, req.ReplacesBookingID)
		if err != nil {
			return nil, err
		}
		if busy {
			return nil, generic.Conflict("teacher_busy", "teacher %d already has a lesson at this time", teacher.ID)
		}
	}

	// 4./5. substitution or lead time
	if req.SubstituteForTeacherID != 0 {
		if req.SubstituteForTeacherID == teacher.ID {
			return nil, generic.Invalid("same_teacher", "substitute must differ from the original teacher")
		}
		// The original teacher's slot at the same start decides; without
		// one, the substitute slot covers the same lesson.
		original, err := store.FindSlot(ctx, req.SubstituteForTeacherID, slot.StartTime)
		if err != nil {
			return nil, fmt.Errorf("resolver: %w", err)
		}
		ended := slot
		if original != nil {
			ended = original
		}
		if ended.EndTime < now {
			return nil, generic.Invalid("slot_ended", "slot %d has already ended", ended.ID)
		}
	} else if !r.bypassLeadTime(req) {
		lead := r.rules.LeadTime(*teacher).Milliseconds()
		if slot.StartTime < now+lead {
			return nil, generic.Invalid("lead_time", "lessons must be booked at least %d minutes ahead", lead/generic.MinuteMs)
		}
	}

	// 6. student
	student, err := store.GetStudent(ctx, req.StudentID)
	if err != nil {
		return nil, fmt.Errorf("resolver: %w", err)
	}
	if student == nil {
		return nil, generic.NotFound("student_not_found", "student %d not found", req.StudentID)
	}
	if !student.IsActive {
		return nil, generic.Inactive("student_inactive", "student %d is inactive", req.StudentID)
	}
	res.Student = *student
	if req.IsRegularBooking {
		if err := r.checkRegularSlot(ctx, store, req, slot.StartTime); err != nil {
			return nil, err
		}
	}

	// 7. course and unit
	if err := r.checkCurriculum(ctx, store, req, res); err != nil {
		return nil, err
	}

	// 8. package
	pkg, err := store.GetPackage(ctx, req.PackageID)
	if err != nil {
		return nil, fmt.Errorf("resolver: %w", err)
	}
	if pkg == nil || pkg.StudentID != req.StudentID {
		return nil, generic.NotFound("package_not_found", "package %d not found for student %d", req.PackageID, req.StudentID)
	}
	if err := checkEntitlement(*pkg, now); err != nil {
		return nil, err
	}
	if pkg.Type == generic.PackageTrial && req.Status == generic.StatusPending {
		return nil, generic.Invalid("trial_pending", "trial lessons cannot be created as pending")
	}
	res.Package = *pkg

	// 9. daily packages
	if pkg.LearningFrequency == generic.FrequencyDaily {
		if !deadline.IsSameLocalDay(slot.StartTime, now) {
			return nil, generic.Invalid("not_today", "daily packages only book lessons for today")
		}
		dayStart := generic.StartOfDay(slot.StartTime, generic.LocalZone)
		others, err := store.ListBookings(ctx, generic.BookingFilter{
			PackageID: pkg.ID,
			Statuses:  generic.LiveStatuses,
			From:      dayStart,
			To:        dayStart + generic.DayMs,
		})
		if err != nil {
			return nil, fmt.Errorf("resolver: %w", err)
		}
		for _, b := range others {
			if b.ID != req.ReplacesBookingID {
				return nil, generic.Conflict("daily_booked", "package %d already has a lesson today", pkg.ID)
			}
		}
	}

	// 10. reservations
	reservations, err := store.FindReservations(ctx, req.StudentID, slot.StartTime,
		generic.LeaveApproved, generic.LeavePaid)
	if err != nil {
		return nil, fmt.Errorf("resolver: %w", err)
	}
	if len(reservations) > 0 {
		return nil, generic.Conflict("reservation", "student %d has paused studying at this time", req.StudentID)
	}

	// 11. calendar history
	if err := r.checkCalendarHistory(ctx, store, req, slot.ID, fallback); err != nil {
		return nil, err
	}

	return res, nil
}

// =============================================================================
// CHECK HELPERS
// =============================================================================

func (r *Resolver) resolveSlot(ctx context.Context, store generic.Store, req Request) (*generic.CalendarSlot, error) {
	var (
		slot *generic.CalendarSlot
		err  error
	)
	if req.CalendarID != 0 {
		slot, err = store.GetSlot(ctx, req.CalendarID)
		if err != nil {
			return nil, fmt.Errorf("resolver: %w", err)
		}
		if slot == nil {
			return nil, generic.NotFound("slot_not_found", "calendar slot %d not found", req.CalendarID)
		}
		if slot.TeacherID != req.TeacherID {
			return nil, generic.Invalid("slot_teacher_mismatch", "slot %d belongs to teacher %d", slot.ID, slot.TeacherID)
		}
	} else {
		slot, err = store.FindSlot(ctx, req.TeacherID, req.StartTime)
		if err != nil {
			return nil, fmt.Errorf("resolver: %w", err)
		}
		if slot == nil {
			if !generic.IsSlotAligned(req.StartTime) || req.EndTime-req.StartTime != generic.SlotMs {
				return nil, generic.Invalid("slot_granularity", "slots start on the half hour and last 30 minutes")
			}
			created, err := store.CreateSlot(ctx, generic.CalendarSlot{
				TeacherID: req.TeacherID,
				StartTime: req.StartTime,
				EndTime:   req.EndTime,
				IsActive:  true,
			})
			if err != nil {
				return nil, writeConflict(err, "resolver")
			}
			slot = &created
		}
	}
	if !slot.IsActive {
		return nil, generic.Inactive("slot_inactive", "calendar slot %d is inactive", slot.ID)
	}
	return slot, nil
}

func (r *Resolver) liveAt(ctx context.Context, store generic.Store, f generic.BookingFilter, start int64, ignore generic.BookingID) (bool, error) {
	f.Statuses = generic.LiveStatuses
	f.From = start
	f.To = start + 1
	bookings, err := store.ListBookings(ctx, f)
	if err != nil {
		return false, fmt.Errorf("resolver: %w", err)
	}
	for _, b := range bookings {
		if b.ID != ignore {
			return true, nil
		}
	}
	return false, nil
}

func (r *Resolver) bypassLeadTime(req Request) bool {
	return req.BypassLeadTime || req.Source == generic.SourceAdmin || req.Source == generic.SourceCronjob
}

func (r *Resolver) checkRegularSlot(ctx context.Context, store generic.Store, req Request, start int64) error {
	slots, err := store.ListRegularSlots(ctx, req.StudentID)
	if err != nil {
		return fmt.Errorf("resolver: %w", err)
	}
	offset := generic.WeekOffset(start, generic.LocalZone)
	for _, rs := range slots {
		if rs.IsActive && rs.TeacherID == req.TeacherID && rs.WeekOffset == offset {
			return nil
		}
	}
	return generic.Invalid("not_regular_slot", "no regular slot registered for this weekly time")
}

func (r *Resolver) checkCurriculum(ctx context.Context, store generic.Store, req Request, res *Resolution) error {
	course, err := store.GetCourse(ctx, req.CourseID)
	if err != nil {
		return fmt.Errorf("resolver: %w", err)
	}
	if course == nil {
		return generic.NotFound("course_not_found", "course %d not found", req.CourseID)
	}
	if !course.IsActive {
		return generic.Inactive("course_inactive", "course %d is inactive", req.CourseID)
	}
	unit, err := loadUnit(ctx, store, req.UnitID)
	if err != nil {
		return err
	}
	if unit.CourseID != course.ID {
		return generic.Invalid("unit_course_mismatch", "unit %d does not belong to course %d", unit.ID, course.ID)
	}
	res.Course = *course
	res.Unit = *unit
	return nil
}

func loadUnit(ctx context.Context, store generic.CatalogStore, id generic.UnitID) (*generic.Unit, error) {
	unit, err := store.GetUnit(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolver: %w", err)
	}
	if unit == nil {
		return nil, generic.NotFound("unit_not_found", "unit %d not found", id)
	}
	if !unit.IsActive {
		return nil, generic.Inactive("unit_inactive", "unit %d is inactive", id)
	}
	return unit, nil
}

// checkEntitlement validates the live package row, never a snapshot.
func checkEntitlement(p generic.OrderedPackage, now int64) error {
	switch {
	case p.NumberClass <= 0:
		return generic.Exhausted("no_lessons", "package %d has no remaining lessons", p.ID)
	case !p.IsActivated():
		return generic.Exhausted("not_activated", "package %d is not activated", p.ID)
	case p.IsPartialPaymentBlocked():
		return generic.Exhausted("partial_payment", "package %d has used every paid lesson", p.ID)
	case p.IsExpired(now):
		return generic.Exhausted("expired", "package %d has expired", p.ID)
	}
	return nil
}

func (r *Resolver) checkCalendarHistory(ctx context.Context, store generic.Store, req Request, slotID generic.CalendarID, fallback bool) error {
	mine, err := store.LatestBookingOnCalendar(ctx, slotID, req.StudentID)
	if err != nil {
		return fmt.Errorf("resolver: %w", err)
	}
	if mine != nil && mine.ID != req.ReplacesBookingID {
		switch mine.Status {
		case generic.StatusCancelByTeacher, generic.StatusCancelByStudent, generic.StatusChangeTime:
		default:
			return generic.Conflict("calendar_student", "student already holds booking %d on this slot", mine.ID)
		}
	}
	if fallback {
		return nil
	}

	latest, err := store.LatestBookingOnCalendar(ctx, slotID, 0)
	if err != nil {
		return fmt.Errorf("resolver: %w", err)
	}
	if latest != nil && latest.ID != req.ReplacesBookingID {
		switch latest.Status {
		case generic.StatusCancelByStudent, generic.StatusChangeTime:
		default:
			return generic.Conflict("calendar_teacher", "slot %d is not available (booking %d is %s)", slotID, latest.ID, latest.Status)
		}
	}
	return nil
}
