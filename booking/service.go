/*
service.go - Booking lifecycle operations

PURPOSE:
  The public surface of the engine. Each operation follows the same shape:

    validate -> commit (one store transaction) -> emit

  Everything that must stay consistent (booking row, ledger, trial mirror,
  history, counters) is written in the transaction. Events, join URLs and
  test sessions run afterwards and only log on failure.

OPERATIONS:
  CreateBooking          resolver + insert + debit + trial mirror
  ChangeStatus           one guarded transition
  ChangeTime             old -> CHANGE_TIME and a successor, atomically
  SubmitMemo             memo with late flag stamped on first submission
  MarkBestMemo           capped per local day of the lesson
  SetRecommendationLink  locks trial memos
  EditUnit               unit change before the lesson's day is over
  GetBooking, ListBookings, History, TeacherStats, Package

CONCURRENCY:
  Double booking is prevented by the partial unique indexes of the store.
  An optional SlotLocker narrows the race window across processes before
  the transaction starts; it is never required for correctness.

SEE ALSO:
  - resolver.go: Admission checks
  - machine.go: Transition guards and side effects
  - batch.go, jobs.go: Multi-booking operations
*/
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/warp/lesson-booking/deadline"
	"github.com/warp/lesson-booking/generic"
	"github.com/warp/lesson-booking/trial"
	"go.uber.org/zap"
)

const slotLockTTL = 10 * time.Second

type Service struct {
	store    generic.TxStore
	rules    Rules
	clock    generic.Clock
	ledger   *generic.Ledger
	resolver *Resolver
	machine  *Machine
	log      *zap.Logger

	emitter  Emitter
	linker   MeetingLinker
	sessions TestSessions
	locker   SlotLocker
}

type Option func(*Service)

func WithClock(c generic.Clock) Option { return func(s *Service) { s.clock = c } }
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }
func WithEmitter(e Emitter) Option { return func(s *Service) { s.emitter = e } }
func WithMeetingLinker(l MeetingLinker) Option { return func(s *Service) { s.linker = l } }
func WithTestSessions(t TestSessions) Option { return func(s *Service) { s.sessions = t } }
func WithSlotLocker(l SlotLocker) Option { return func(s *Service) { s.locker = l } }

func NewService(store generic.TxStore, rules Rules, opts ...Option) *Service {
	s := &Service{
		store:   store,
		rules:   rules,
		clock:   generic.SystemClock{},
		log:     zap.NewNop(),
		emitter: NopEmitter{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ledger = generic.NewLedger(s.clock)
	s.resolver = NewResolver(rules, s.clock)
	s.machine = NewMachine(rules, s.clock, s.ledger)
	return s
}

// Rules returns the thresholds the service was built with.
func (s *Service) Rules() Rules { return s.rules }

func (s *Service) now() int64 { return generic.Ms(s.clock.Now()) }

// =============================================================================
// CREATE
// =============================================================================

type CreateRequest struct {
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
	Status           generic.Status // zero means CONFIRMED

	SubstituteForTeacherID generic.TeacherID
	BypassLeadTime         bool
	Actor                  generic.Actor
}

func (r CreateRequest) resolverRequest() Request {
	return Request{
		StudentID:              r.StudentID,
		TeacherID:              r.TeacherID,
		CalendarID:             r.CalendarID,
		StartTime:              r.StartTime,
		EndTime:                r.EndTime,
		CourseID:               r.CourseID,
		UnitID:                 r.UnitID,
		PackageID:              r.PackageID,
		IsRegularBooking:       r.IsRegularBooking,
		Source:                 r.Source,
		Status:                 r.Status,
		SubstituteForTeacherID: r.SubstituteForTeacherID,
		BypassLeadTime:         r.BypassLeadTime,
	}
}

// CreateBooking admits and persists a new booking, debiting one lesson.
func (s *Service) CreateBooking(ctx context.Context, req CreateRequest) (*generic.Booking, error) {
	if req.Status == 0 {
		req.Status = generic.StatusConfirmed
	}
	if req.Source == "" {
		req.Source = generic.SourceStudent
	}
	if err := checkInitialStatus(req); err != nil {
		return nil, err
	}
	if req.Source == generic.SourceStudent && !req.Actor.IsStaff() && !req.Actor.IsStudent(req.StudentID) {
		return nil, generic.Illegal("forbidden", "only the student or staff may book for student %d", req.StudentID)
	}

	unlock, err := s.lockSlot(ctx, req)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var created *generic.Booking
	err = s.store.WithTx(ctx, func(tx generic.Store) error {
		b, err := s.insertBooking(ctx, tx, req.resolverRequest(), req.Actor, 0)
		if err != nil {
			return err
		}
		created = b
		return nil
	})
	if err != nil {
		return nil, s.fail("create booking", err)
	}

	s.log.Info("booking created",
		zap.Int64("booking_id", int64(created.ID)),
		zap.Int64("student_id", int64(created.StudentID)),
		zap.Int64("teacher_id", int64(created.TeacherID)),
		zap.Stringer("status", created.Status),
		zap.String("source", string(created.Source)),
	)
	s.emit(ctx, newEvent(EventBookingCreated, *created, req.Actor, created.CreatedAt))
	s.attachJoinURL(ctx, created)
	return created, nil
}

// checkInitialStatus allows CONFIRMED from any source and PENDING only from
// admin or cronjob. Every other status is reached through ChangeStatus.
func checkInitialStatus(req CreateRequest) error {
	switch req.Status {
	case generic.StatusConfirmed:
		return nil
	case generic.StatusPending:
		if req.Source == generic.SourceAdmin || req.Source == generic.SourceCronjob {
			return nil
		}
		return generic.Invalid("initial_status", "source %s cannot create PENDING bookings", req.Source)
	}
	return generic.Invalid("initial_status", "bookings cannot be created as %s", req.Status)
}

// insertBooking runs the resolver, then writes booking, debit, trial mirror
// and history through tx.
func (s *Service) insertBooking(ctx context.Context, tx generic.Store, req Request, actor generic.Actor, changedFrom generic.BookingID) (*generic.Booking, error) {
	res, err := s.resolver.Resolve(ctx, tx, req)
	if err != nil {
		return nil, err
	}

	now := s.now()
	b := buildBooking(res, req, actor, now)
	b.ChangedFromID = changedFrom

	if err := tx.InsertBooking(ctx, b); err != nil {
		return nil, writeConflict(err, "insert booking")
	}

	if _, err := s.ledger.Apply(ctx, tx, generic.Adjustment{
		PackageID:      b.OrderedPackageID,
		BookingID:      b.ID,
		Direction:      generic.LedgerDebit,
		Reason:         "booking created",
		IdempotencyKey: fmt.Sprintf("booking:%s:create", b.UID),
		Actor:          actor,
	}); err != nil {
		return nil, err
	}

	if b.IsTrial() {
		tb, err := trial.New(*b, now)
		if err != nil {
			return nil, err
		}
		if err := tx.InsertTrialBooking(ctx, tb); err != nil {
			return nil, fmt.Errorf("insert trial booking: %w", err)
		}
	}

	if err := tx.AppendStatusEvent(ctx, generic.StatusEvent{
		BookingID: b.ID,
		To:        b.Status,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("append status event: %w", err)
	}
	return b, nil
}

func buildBooking(res *Resolution, req Request, actor generic.Actor, now int64) *generic.Booking {
	return &generic.Booking{
		UID:              uuid.NewString(),
		StudentID:        res.Student.ID,
		TeacherID:        res.Teacher.ID,
		CourseID:         res.Course.ID,
		UnitID:           res.Unit.ID,
		OrderedPackageID: res.Package.ID,
		CalendarID:       res.Slot.ID,
		Status:           req.Status,

		Calendar: generic.CalendarSnapshot{ID: res.Slot.ID, StartTime: res.Slot.StartTime, EndTime: res.Slot.EndTime, AsOf: now},
		Student:  generic.PersonSnapshot{ID: int64(res.Student.ID), Name: res.Student.Name, Email: res.Student.Email, AsOf: now},
		Teacher:  generic.PersonSnapshot{ID: int64(res.Teacher.ID), Name: res.Teacher.Name, Email: res.Teacher.Email, AsOf: now},
		Course:   generic.CourseSnapshot{ID: res.Course.ID, Name: res.Course.Name, AsOf: now},
		Unit:     unitSnapshot(res.Unit, now),
		OrderedPackage: generic.PackageSnapshot{
			ID:                  res.Package.ID,
			Name:                res.Package.Name,
			Type:                res.Package.Type,
			LearningFrequency:   res.Package.LearningFrequency,
			OriginalNumberClass: res.Package.OriginalNumberClass,
			AsOf:                now,
		},

		SubstituteForTeacherID: req.SubstituteForTeacherID,
		Source:                 req.Source,
		IsRegularBooking:       req.IsRegularBooking,
		CreatedBy:              actor.ID,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

func unitSnapshot(u generic.Unit, now int64) generic.UnitSnapshot {
	return generic.UnitSnapshot{ID: u.ID, Name: u.Name, TestTopicID: u.TestTopicID, AsOf: now}
}

func (s *Service) lockSlot(ctx context.Context, req CreateRequest) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	key := fmt.Sprintf("booking:calendar:%d", req.CalendarID)
	if req.CalendarID == 0 {
		key = fmt.Sprintf("booking:teacher:%d:%d", req.TeacherID, req.StartTime)
	}
	unlock, err := s.locker.Lock(ctx, key, slotLockTTL)
	switch {
	case errors.Is(err, generic.ErrSlotLocked):
		return nil, generic.Conflict("slot_locked", "another booking for this slot is in progress")
	case err != nil:
		// The unique indexes still decide the winner.
		s.log.Warn("slot lock unavailable, continuing without it", zap.String("key", key), zap.Error(err))
		return func() {}, nil
	}
	return unlock, nil
}

// attachJoinURL stores a meeting link on a freshly created booking.
func (s *Service) attachJoinURL(ctx context.Context, b *generic.Booking) {
	if s.linker == nil {
		return
	}
	url, err := s.linker.GenerateJoinURL(ctx, *b)
	if err != nil {
		s.log.Warn("join url generation failed", zap.Int64("booking_id", int64(b.ID)), zap.Error(err))
		return
	}
	updated := *b
	updated.JoinURL = url
	if err := s.store.UpdateBooking(ctx, &updated); err != nil {
		s.log.Warn("join url not saved", zap.Int64("booking_id", int64(b.ID)), zap.Error(err))
		return
	}
	*b = updated
}

// =============================================================================
// STATUS CHANGE
// =============================================================================

type StatusRequest struct {
	BookingID generic.BookingID
	To        generic.Status
	Reason    string
	// ExpectedStatus, when set, must equal the stored status.
	ExpectedStatus generic.Status
	Actor          generic.Actor
}

// ChangeStatus applies one transition. Moving to the current status is a no-op.
func (s *Service) ChangeStatus(ctx context.Context, req StatusRequest) (*generic.Booking, error) {
	if !req.To.IsValid() {
		return nil, generic.Invalid("unknown_status", "unknown status %d", int(req.To))
	}

	var (
		out     *generic.Booking
		ev      Event
		changed bool
	)
	err := s.store.WithTx(ctx, func(tx generic.Store) error {
		b, err := findBooking(ctx, tx, req.BookingID)
		if err != nil {
			return err
		}
		out = b
		if b.Status == req.To {
			return nil
		}
		if req.ExpectedStatus != 0 && b.Status != req.ExpectedStatus {
			return generic.Conflict("stale_status", "booking %d is %s, expected %s", b.ID, b.Status, req.ExpectedStatus)
		}
		if req.To == generic.StatusChangeTime {
			return generic.Illegal("change_time_only", "use change-time to move a lesson")
		}

		ev, err = s.machine.Apply(ctx, tx, b, Transition{To: req.To, Actor: req.Actor, Reason: req.Reason})
		if err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, s.fail("change status", err)
	}
	if !changed {
		return out, nil
	}

	s.log.Info("booking status changed",
		zap.Int64("booking_id", int64(out.ID)),
		zap.Stringer("from", ev.From),
		zap.Stringer("to", ev.To),
		zap.Int64("actor_id", req.Actor.ID),
		zap.String("actor_role", string(req.Actor.Role)),
	)
	s.emit(ctx, ev)
	return out, nil
}

// =============================================================================
// CHANGE TIME
// =============================================================================

type ChangeTimeRequest struct {
	BookingID generic.BookingID
	// TeacherID zero keeps the current teacher.
	TeacherID  generic.TeacherID
	CalendarID generic.CalendarID
	StartTime  int64
	EndTime    int64
	Reason     string
	Actor      generic.Actor
}

// ChangeTime moves a lesson: the old booking becomes CHANGE_TIME and a
// successor is created, both in one transaction. The old booking's credit and
// the successor's debit cancel out on the package.
func (s *Service) ChangeTime(ctx context.Context, req ChangeTimeRequest) (*generic.Booking, error) {
	if !req.Actor.IsStaff() {
		return nil, generic.Illegal("forbidden", "only staff may change the time of a lesson")
	}

	var (
		old, successor *generic.Booking
		ev             Event
	)
	err := s.store.WithTx(ctx, func(tx generic.Store) error {
		b, err := findBooking(ctx, tx, req.BookingID)
		if err != nil {
			return err
		}
		switch b.Status {
		case generic.StatusConfirmed, generic.StatusStudentAbsent,
			generic.StatusTeacherAbsent, generic.StatusCompleted:
		default:
			return generic.Illegal("change_time_status", "cannot change the time of a %s booking", b.Status)
		}

		ev, err = s.machine.Apply(ctx, tx, b, Transition{To: generic.StatusChangeTime, Actor: req.Actor, Reason: req.Reason})
		if err != nil {
			return err
		}

		teacherID := req.TeacherID
		var substitute generic.TeacherID
		if teacherID == 0 {
			teacherID = b.TeacherID
		} else if teacherID != b.TeacherID {
			substitute = b.TeacherID
		}

		next, err := s.insertBooking(ctx, tx, Request{
			StudentID:              b.StudentID,
			TeacherID:              teacherID,
			CalendarID:             req.CalendarID,
			StartTime:              req.StartTime,
			EndTime:                req.EndTime,
			CourseID:               b.CourseID,
			UnitID:                 b.UnitID,
			PackageID:              b.OrderedPackageID,
			Source:                 generic.SourceAdmin,
			Status:                 generic.StatusConfirmed,
			SubstituteForTeacherID: substitute,
			BypassLeadTime:         true,
			ReplacesBookingID:      b.ID,
		}, req.Actor, b.ID)
		if err != nil {
			return err
		}

		b.ReplacedByID = next.ID
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return writeConflict(err, "change time")
		}
		old, successor = b, next
		return nil
	})
	if err != nil {
		return nil, s.fail("change time", err)
	}

	s.log.Info("booking time changed",
		zap.Int64("booking_id", int64(old.ID)),
		zap.Int64("successor_id", int64(successor.ID)),
		zap.Int64("actor_id", req.Actor.ID),
	)
	s.emit(ctx, ev)
	tc := newEvent(EventTimeChanged, *successor, req.Actor, successor.CreatedAt)
	tc.RelatedID = old.ID
	s.emit(ctx, tc)
	s.attachJoinURL(ctx, successor)
	return successor, nil
}

// =============================================================================
// MEMO
// =============================================================================

type MemoRequest struct {
	BookingID generic.BookingID
	Memo      generic.Memo
	Actor     generic.Actor
}

type MemoResult struct {
	Booking  *generic.Booking
	LateMemo bool
}

// SubmitMemo saves teacher feedback. Lateness is decided on the first
// submission and kept for every later edit.
func (s *Service) SubmitMemo(ctx context.Context, req MemoRequest) (*MemoResult, error) {
	var out *generic.Booking
	err := s.store.WithTx(ctx, func(tx generic.Store) error {
		b, err := findBooking(ctx, tx, req.BookingID)
		if err != nil {
			return err
		}
		if !req.Actor.IsTeacher(b.TeacherID) && !req.Actor.IsStaff() {
			return generic.Illegal("forbidden", "only the assigned teacher may write the memo")
		}
		if b.Status != generic.StatusCompleted && b.Status != generic.StatusStudentAbsent {
			return generic.Invalid("memo_status", "memos are written after the lesson, booking is %s", b.Status)
		}
		if err := validateMemo(req.Memo, b.IsTrial()); err != nil {
			return err
		}

		now := s.now()
		memo := req.Memo
		if memo.CreatedTime == 0 {
			memo.CreatedTime = now
		}

		if b.IsTrial() {
			tb, err := tx.GetTrialBooking(ctx, b.ID)
			if err != nil {
				return fmt.Errorf("submit memo: %w", err)
			}
			if tb == nil {
				return generic.Internal("trial_missing", fmt.Errorf("booking %d has no trial record", b.ID))
			}
			if err := trial.CheckMemoEditable(tb); err != nil {
				return err
			}
			tb.Memo = &memo
			tb.UpdatedAt = now
			if err := tx.UpdateTrialBooking(ctx, *tb); err != nil {
				return fmt.Errorf("submit memo: %w", err)
			}
		}

		if b.MemoSubmittedAt == 0 {
			b.MemoSubmittedAt = now
			b.LateMemo = deadline.IsMemoLate(lessonEnd(*b), now, s.rules.memoHours(b.IsTrial()))
		}
		b.Memo = &memo
		b.UpdatedAt = now
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return writeConflict(err, "submit memo")
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, s.fail("submit memo", err)
	}

	if out.LateMemo {
		s.log.Info("late memo", zap.Int64("booking_id", int64(out.ID)), zap.Int64("teacher_id", int64(out.TeacherID)))
	}
	s.emit(ctx, newEvent(EventMemoSubmitted, *out, req.Actor, out.UpdatedAt))
	return &MemoResult{Booking: out, LateMemo: out.LateMemo}, nil
}

// lessonEnd is the reference instant of the memo deadline.
func lessonEnd(b generic.Booking) int64 {
	if b.FinishedAt != 0 {
		return b.FinishedAt
	}
	return b.SlotEnd()
}

func validateMemo(m generic.Memo, isTrial bool) error {
	if len(m.Notes) == 0 {
		return generic.Invalid("memo_fields", "memo needs at least one scored note")
	}
	for _, n := range m.Notes {
		if n.Keyword == "" {
			return generic.Invalid("memo_fields", "memo note without keyword")
		}
		if n.Point < 0 || n.Point > 10 {
			return generic.Invalid("memo_fields", "point for %q must be between 0 and 10", n.Keyword)
		}
	}
	for _, o := range m.Others {
		if o.Keyword == "" || o.Comment == "" {
			return generic.Invalid("memo_fields", "free-text memo fields need keyword and comment")
		}
	}
	if isTrial && m.StudentStartingLevel == "" {
		return generic.Invalid("memo_fields", "trial memos need the student's starting level")
	}
	return nil
}

// =============================================================================
// BEST MEMO
// =============================================================================

const bestMemoCounter = "best_memo"

// MarkBestMemo sets or clears the best-memo flag.
func (s *Service) MarkBestMemo(ctx context.Context, id generic.BookingID, best bool, actor generic.Actor) (*generic.Booking, error) {
	if !actor.IsStaff() {
		return nil, generic.Illegal("forbidden", "only staff may pick best memos")
	}

	var (
		out     *generic.Booking
		changed bool
	)
	err := s.store.WithTx(ctx, func(tx generic.Store) error {
		b, err := findBooking(ctx, tx, id)
		if err != nil {
			return err
		}
		out = b
		if b.BestMemo == best {
			return nil
		}
		day := deadline.BestMemoDay(b.SlotStart())
		if best {
			if b.Memo == nil {
				return generic.Invalid("memo_missing", "booking %d has no memo", b.ID)
			}
			err := tx.IncrementDailyCounter(ctx, bestMemoCounter, day, s.rules.bestMemoCap())
			if errors.Is(err, generic.ErrQuotaReached) {
				return generic.Invalid("best_memo_quota", "already %d best memos on %s", s.rules.bestMemoCap(), day)
			}
			if err != nil {
				return fmt.Errorf("best memo: %w", err)
			}
		} else if err := tx.DecrementDailyCounter(ctx, bestMemoCounter, day); err != nil {
			return fmt.Errorf("best memo: %w", err)
		}

		b.BestMemo = best
		b.UpdatedAt = s.now()
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return writeConflict(err, "best memo")
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, s.fail("best memo", err)
	}
	if changed {
		s.emit(ctx, newEvent(EventBestMemoChanged, *out, actor, out.UpdatedAt))
	}
	return out, nil
}

// =============================================================================
// TRIAL RECOMMENDATION
// =============================================================================

// SetRecommendationLink records the recommendation letter of a trial lesson.
// Once set, memos of the booking are locked.
func (s *Service) SetRecommendationLink(ctx context.Context, id generic.BookingID, link string, actor generic.Actor) (*generic.TrialBooking, error) {
	if !actor.IsStaff() {
		return nil, generic.Illegal("forbidden", "only staff may issue recommendation letters")
	}
	if link == "" {
		return nil, generic.Invalid("empty_link", "recommendation letter link is required")
	}

	var (
		out *generic.TrialBooking
		b   *generic.Booking
	)
	err := s.store.WithTx(ctx, func(tx generic.Store) error {
		var err error
		b, err = findBooking(ctx, tx, id)
		if err != nil {
			return err
		}
		if !b.IsTrial() {
			return generic.Invalid("not_trial", "booking %d is not a trial lesson", id)
		}
		tb, err := tx.GetTrialBooking(ctx, id)
		if err != nil {
			return fmt.Errorf("recommendation: %w", err)
		}
		if tb == nil {
			return generic.Internal("trial_missing", fmt.Errorf("booking %d has no trial record", id))
		}
		tb.RecommendationLetterLink = link
		tb.UpdatedAt = s.now()
		if err := tx.UpdateTrialBooking(ctx, *tb); err != nil {
			return fmt.Errorf("recommendation: %w", err)
		}
		out = tb
		return nil
	})
	if err != nil {
		return nil, s.fail("recommendation", err)
	}
	s.emit(ctx, newEvent(EventRecommendation, *b, actor, out.UpdatedAt))
	return out, nil
}

// =============================================================================
// UNIT EDIT
// =============================================================================

// EditUnit changes the unit of a lesson. Edits are rejected once the local
// day of the lesson is over. IELTS units get their test session provisioned
// after commit.
func (s *Service) EditUnit(ctx context.Context, id generic.BookingID, unitID generic.UnitID, actor generic.Actor) (*generic.Booking, error) {
	var (
		out  *generic.Booking
		unit *generic.Unit
	)
	err := s.store.WithTx(ctx, func(tx generic.Store) error {
		b, err := findBooking(ctx, tx, id)
		if err != nil {
			return err
		}
		if !actor.IsTeacher(b.TeacherID) && !actor.IsStaff() {
			return generic.Illegal("forbidden", "only the assigned teacher or staff may change the unit")
		}
		now := s.now()
		if deadline.IsOvertime(now, b.SlotStart()) {
			return generic.Invalid("overtime", "the lesson day is over")
		}
		if b.Status.IsCancelForStudent() {
			return generic.Invalid("unit_status", "cannot change the unit of a %s booking", b.Status)
		}
		unit, err = loadUnit(ctx, tx, unitID)
		if err != nil {
			return err
		}
		if unit.CourseID != b.CourseID {
			return generic.Invalid("unit_course_mismatch", "unit %d does not belong to course %d", unit.ID, b.CourseID)
		}

		b.UnitID = unit.ID
		b.Unit = unitSnapshot(*unit, now)
		b.UpdatedAt = now
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return writeConflict(err, "edit unit")
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, s.fail("edit unit", err)
	}

	s.emit(ctx, newEvent(EventUnitChanged, *out, actor, out.UpdatedAt))
	if unit.TestTopicID != "" && s.sessions != nil {
		if err := s.sessions.CreateOrUpdateSession(ctx, *out, unit.TestTopicID); err != nil {
			s.log.Warn("test session provisioning failed",
				zap.Int64("booking_id", int64(out.ID)), zap.String("topic", unit.TestTopicID), zap.Error(err))
		}
	}
	return out, nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *Service) GetBooking(ctx context.Context, id generic.BookingID) (*generic.Booking, error) {
	return findBooking(ctx, s.store, id)
}

// GetTrialBooking returns the trial mirror of a booking, or NotFound.
func (s *Service) GetTrialBooking(ctx context.Context, id generic.BookingID) (*generic.TrialBooking, error) {
	tb, err := s.store.GetTrialBooking(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get trial booking: %w", err)
	}
	if tb == nil {
		return nil, generic.NotFound("trial_not_found", "booking %d has no trial record", id)
	}
	return tb, nil
}

const defaultListLimit = 100

func (s *Service) ListBookings(ctx context.Context, f generic.BookingFilter) ([]generic.Booking, error) {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	out, err := s.store.ListBookings(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return out, nil
}

func (s *Service) History(ctx context.Context, id generic.BookingID) ([]generic.StatusEvent, error) {
	if _, err := findBooking(ctx, s.store, id); err != nil {
		return nil, err
	}
	events, err := s.store.ListStatusEvents(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return events, nil
}

func (s *Service) TeacherStats(ctx context.Context, id generic.TeacherID) (generic.TeacherStats, error) {
	st, err := s.store.GetTeacherStats(ctx, id)
	if err != nil {
		return st, fmt.Errorf("teacher stats: %w", err)
	}
	return st, nil
}

// PackageView is a package with its ledger.
type PackageView struct {
	Package generic.OrderedPackage
	Entries []generic.LedgerEntry
}

func (s *Service) Package(ctx context.Context, id generic.PackageID) (*PackageView, error) {
	pkg, err := s.ledger.FindPackage(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.ListLedgerEntries(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("package: %w", err)
	}
	return &PackageView{Package: *pkg, Entries: entries}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func findBooking(ctx context.Context, store generic.BookingStore, id generic.BookingID) (*generic.Booking, error) {
	b, err := store.GetBooking(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	if b == nil {
		return nil, generic.NotFound("booking_not_found", "booking %d not found", id)
	}
	return b, nil
}

func (s *Service) emit(ctx context.Context, e Event) {
	if err := s.emitter.Emit(ctx, e); err != nil {
		s.log.Warn("event emit failed",
			zap.String("type", string(e.Type)),
			zap.Int64("booking_id", int64(e.BookingID)),
			zap.Error(err),
		)
	}
}

// fail logs Internal errors and passes every error through unchanged.
func (s *Service) fail(op string, err error) error {
	if generic.KindOf(err) == generic.KindInternal {
		s.log.Error(op+" failed", zap.Error(err))
	}
	return err
}
