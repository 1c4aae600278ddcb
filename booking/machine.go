/*
machine.go - Booking status state machine

PURPOSE:
  Validates and applies one status transition of one booking. The table of
  reachable statuses lives in generic/status.go; this file adds the guards
  that depend on the actor and the clock, and the side effects that must be
  committed together with the new status.

GUARD ORDER (first failure wins):
  1. Transition table                       IllegalTransition
  2. Reason for cancels and absences         ValidationError empty_reason
  3. Actor role                              IllegalTransition forbidden
  4. Timing (start_early, start_late, not_started, cancel_window)

  The self-transition no-op and the expected-status check run in the
  service before the machine is invoked.

SIDE EFFECTS (same transaction):
  - Booking CAS on version with started_at/finished_at stamped once
  - Ledger: entering the cancel-for-student set credits one lesson,
    leaving it debits one; key booking:<id>:v<version>:<direction>
  - Teacher stats on entering or leaving COMPLETED
  - Teacher absence on a teacher's own pre-start cancellation
  - Trial mirror sync and the status history row

SEE ALSO:
  - generic/status.go: Transition table and status sets
  - trial/mirror.go: Trial status mapping
  - deadline/: Absence report bands
*/
package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/warp/lesson-booking/deadline"
	"github.com/warp/lesson-booking/generic"
	"github.com/warp/lesson-booking/trial"
)

// Transition is one requested status change.
type Transition struct {
	To     generic.Status
	Actor  generic.Actor
	Reason string
}

type Machine struct {
	rules  Rules
	clock  generic.Clock
	ledger *generic.Ledger
}

func NewMachine(rules Rules, clock generic.Clock, ledger *generic.Ledger) *Machine {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	if ledger == nil {
		ledger = generic.NewLedger(clock)
	}
	return &Machine{rules: rules, clock: clock, ledger: ledger}
}

// =============================================================================
// GUARDS
// =============================================================================

// Validate checks table, reason, role and timing without touching the store.
// teacher may be nil; it only supplies the cancel-window override.
func (m *Machine) Validate(b generic.Booking, t Transition, teacher *generic.Teacher, now int64) error {
	from := b.Status
	if !from.CanTransitionTo(t.To) {
		return generic.Illegal("transition", "cannot move booking from %s to %s", from, t.To)
	}
	if t.To.RequiresReason() && t.Reason == "" {
		return generic.Invalid("empty_reason", "a reason is required for %s", t.To)
	}
	if !m.allowed(b, t.Actor, t.To) {
		return generic.Illegal("forbidden", "%s may not move booking %d to %s", t.Actor.Role, b.ID, t.To)
	}
	return m.checkTiming(b, t, teacher, now)
}

// allowed is the role matrix.
func (m *Machine) allowed(b generic.Booking, a generic.Actor, to generic.Status) bool {
	isTeacher := a.IsTeacher(b.TeacherID)
	isStudent := a.IsStudent(b.StudentID)
	isSystem := a.Role == generic.RoleSystem

	switch to {
	case generic.StatusConfirmed:
		return isStudent || a.IsStaff() || isSystem
	case generic.StatusTeacherConfirmed:
		return isTeacher || a.IsStaff() || isSystem
	case generic.StatusTeaching:
		return isTeacher
	case generic.StatusCompleted:
		correcting := b.Status == generic.StatusStudentAbsent || b.Status == generic.StatusTeacherAbsent
		return isTeacher || isSystem || (a.Role == generic.RoleAdmin && correcting)
	case generic.StatusStudentAbsent:
		if b.Status == generic.StatusTeaching || b.Status == generic.StatusTeacherConfirmed {
			return isTeacher
		}
		return isTeacher || a.IsStaff() || isSystem
	case generic.StatusTeacherAbsent:
		return a.IsStaff() || isSystem
	case generic.StatusCancelByStudent:
		return isStudent || a.IsStaff() || isSystem
	case generic.StatusCancelByTeacher:
		return isTeacher || a.IsStaff()
	case generic.StatusCancelByAdmin:
		return a.IsStaff() || isSystem
	case generic.StatusChangeTime:
		return a.IsStaff()
	}
	return false
}

func (m *Machine) checkTiming(b generic.Booking, t Transition, teacher *generic.Teacher, now int64) error {
	start, end := b.SlotStart(), b.SlotEnd()

	switch t.To {
	case generic.StatusTeaching:
		if now < start-m.rules.startEarly() {
			return generic.Illegal("start_early", "lesson %d cannot start before %d", b.ID, start-m.rules.startEarly())
		}
		if now > end {
			return generic.Illegal("start_late", "lesson %d ended at %d", b.ID, end)
		}
	case generic.StatusCompleted:
		if now < start {
			return generic.Illegal("not_started", "lesson %d has not started yet", b.ID)
		}
	}

	if t.Actor.IsRestrictedStaff() {
		window := m.rules.CancelWindow(teacher).Milliseconds()
		switch t.To {
		case generic.StatusCancelByStudent:
			if now >= start-window {
				return generic.Illegal("cancel_window", "too close to the lesson to cancel for the student")
			}
		case generic.StatusStudentAbsent:
			if now < start-window {
				return generic.Illegal("cancel_window", "too early to mark the student absent")
			}
		}
	}
	return nil
}

// =============================================================================
// APPLY
// =============================================================================

// Apply validates t against b and commits every side effect through store,
// which must be transaction-bound. b is updated in place. The caller has
// already handled the self-transition no-op.
func (m *Machine) Apply(ctx context.Context, store generic.Store, b *generic.Booking, t Transition) (Event, error) {
	now := generic.Ms(m.clock.Now())
	from := b.Status

	teacher, err := store.GetTeacher(ctx, b.TeacherID)
	if err != nil {
		return Event{}, fmt.Errorf("machine: %w", err)
	}
	if err := m.Validate(*b, t, teacher, now); err != nil {
		return Event{}, err
	}

	// Ledger key must use the version the transition was validated against.
	version := b.Version

	reported := false
	b.Status = t.To
	b.UpdatedAt = now
	if t.Reason != "" {
		b.Reason = t.Reason
	}
	switch t.To {
	case generic.StatusTeaching:
		if b.StartedAt == 0 {
			b.StartedAt = now
		}
	case generic.StatusCompleted:
		if b.FinishedAt == 0 {
			b.FinishedAt = now
		}
	case generic.StatusCancelByTeacher:
		if t.Actor.IsTeacher(b.TeacherID) && now < b.SlotStart() {
			if b.ReportedAbsenceAt == 0 {
				b.ReportedAbsenceAt = now
			}
			reported = true
			b.AbsenceReport = string(deadline.ClassifyAbsence(b.SlotStart(), b.ReportedAbsenceAt, m.rules.AbsenceWindows))
		}
	}

	if err := store.UpdateBooking(ctx, b); err != nil {
		return Event{}, writeConflict(err, "machine")
	}

	if err := m.applyLedger(ctx, store, *b, from, version, t.Actor); err != nil {
		return Event{}, err
	}
	if err := m.applyStats(ctx, store, *b, from, now); err != nil {
		return Event{}, err
	}
	if reported {
		if err := m.recordTeacherAbsence(ctx, store, *b, now); err != nil {
			return Event{}, err
		}
	}
	if err := trial.Sync(ctx, store, *b, now); err != nil {
		return Event{}, err
	}
	if err := store.AppendStatusEvent(ctx, generic.StatusEvent{
		BookingID: b.ID,
		From:      from,
		To:        b.Status,
		ActorID:   t.Actor.ID,
		ActorRole: t.Actor.Role,
		Reason:    t.Reason,
		CreatedAt: now,
	}); err != nil {
		return Event{}, fmt.Errorf("machine: %w", err)
	}

	ev := newEvent(EventStatusChanged, *b, t.Actor, now)
	ev.From = from
	ev.Reason = t.Reason
	return ev, nil
}

func (m *Machine) applyLedger(ctx context.Context, store generic.Store, b generic.Booking, from generic.Status, version int64, actor generic.Actor) error {
	wasCancelled := from.IsCancelForStudent()
	isCancelled := b.Status.IsCancelForStudent()
	if wasCancelled == isCancelled {
		return nil
	}

	dir := generic.LedgerCredit
	if wasCancelled {
		dir = generic.LedgerDebit
	}
	_, err := m.ledger.Apply(ctx, store, generic.Adjustment{
		PackageID:      b.OrderedPackageID,
		BookingID:      b.ID,
		Direction:      dir,
		Reason:         fmt.Sprintf("%s -> %s", from, b.Status),
		IdempotencyKey: fmt.Sprintf("booking:%d:v%d:%s", b.ID, version, dir),
		Actor:          actor,
	})
	return err
}

// applyStats keeps teacher counters in step with COMPLETED bookings.
func (m *Machine) applyStats(ctx context.Context, store generic.Store, b generic.Booking, from generic.Status, now int64) error {
	var sign int
	switch {
	case b.Status == generic.StatusCompleted && from != generic.StatusCompleted:
		sign = 1
	case from == generic.StatusCompleted && b.Status != generic.StatusCompleted:
		sign = -1
	default:
		return nil
	}
	return adjustTeacherStats(ctx, store, b.TeacherID, sign, generic.HoursBetween(b.SlotStart(), b.SlotEnd()), now)
}

// adjustTeacherStats is a read-modify-write retried on version conflicts.
func adjustTeacherStats(ctx context.Context, store generic.StatsStore, teacherID generic.TeacherID, sign int, hours generic.Amount, now int64) error {
	const maxRetries = 3

	for attempt := 0; ; attempt++ {
		st, err := store.GetTeacherStats(ctx, teacherID)
		if err != nil {
			return fmt.Errorf("machine: %w", err)
		}

		st.CompletedLessons += sign
		if sign > 0 {
			st.TaughtHours = st.TaughtHours.Add(hours)
		} else {
			st.TaughtHours = st.TaughtHours.Sub(hours)
		}
		if st.CompletedLessons < 0 || st.TaughtHours.IsNegative() {
			return generic.Internal("stats_negative",
				fmt.Errorf("teacher %d stats would drop to %d lessons / %s", teacherID, st.CompletedLessons, st.TaughtHours))
		}
		st.UpdatedAt = now

		err = store.CompareAndSwapTeacherStats(ctx, st)
		if generic.IsRetryable(err) && attempt < maxRetries {
			continue
		}
		if err != nil {
			return fmt.Errorf("machine: %w", err)
		}
		return nil
	}
}

func (m *Machine) recordTeacherAbsence(ctx context.Context, store generic.LeaveStore, b generic.Booking, now int64) error {
	existing, err := store.FindTeacherAbsence(ctx, b.TeacherID, b.SlotStart())
	if err != nil {
		return fmt.Errorf("machine: %w", err)
	}
	if existing != nil {
		return nil
	}
	_, err = store.CreateTeacherAbsence(ctx, generic.TeacherAbsence{
		TeacherID: b.TeacherID,
		StartTime: b.SlotStart(),
		EndTime:   b.SlotEnd(),
		BookingID: b.ID,
		Reason:    b.Reason,
		Auto:      true,
		CreatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("machine: %w", err)
	}
	return nil
}

// writeConflict turns store-level write conflicts into domain errors.
func writeConflict(err error, op string) error {
	switch {
	case errors.Is(err, generic.ErrSlotTaken):
		return generic.Conflict("slot_taken", "the slot was taken by another booking")
	case errors.Is(err, generic.ErrConcurrentModification):
		return generic.Conflict("stale_version", "the booking was changed by another request")
	}
	return fmt.Errorf("%s: %w", op, err)
}
