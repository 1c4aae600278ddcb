package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/warp/lesson-booking/generic"
)

// =============================================================================
// BOOKINGS (generic.BookingStore)
// =============================================================================

// snapshots is the JSON document stored in bookings.snapshot_json.
type snapshots struct {
	Calendar       generic.CalendarSnapshot `json:"calendar"`
	Student        generic.PersonSnapshot   `json:"student"`
	Teacher        generic.PersonSnapshot   `json:"teacher"`
	Course         generic.CourseSnapshot   `json:"course"`
	Unit           generic.UnitSnapshot     `json:"unit"`
	OrderedPackage generic.PackageSnapshot  `json:"ordered_package"`
}

const bookingColumns = `id, uid, student_id, teacher_id, course_id, unit_id, ordered_package_id,
	calendar_id, status, snapshot_json, memo_json, memo_submitted_at, late_memo, best_memo,
	substitute_for_teacher_id, changed_from_id, replaced_by_id, reported_absence_at,
	absence_report, started_at, finished_at, reason, source, is_regular_booking, join_url,
	created_by, created_at, updated_at, version`

// exclusiveTeacher returns the value for exclusive_teacher_id. The fallback
// teacher gets NULL so the unique index never matches it.
func (s *Store) exclusiveTeacher(id generic.TeacherID) sql.NullInt64 {
	if s.fallbackTeacherID != 0 && id == s.fallbackTeacherID {
		return sql.NullInt64{}
	}
	return nullInt(int64(id))
}

func encodeBooking(b *generic.Booking) (snap string, memo sql.NullString, err error) {
	raw, err := json.Marshal(snapshots{
		Calendar:       b.Calendar,
		Student:        b.Student,
		Teacher:        b.Teacher,
		Course:         b.Course,
		Unit:           b.Unit,
		OrderedPackage: b.OrderedPackage,
	})
	if err != nil {
		return "", memo, err
	}
	if b.Memo != nil {
		m, err := json.Marshal(b.Memo)
		if err != nil {
			return "", memo, err
		}
		memo = sql.NullString{String: string(m), Valid: true}
	}
	return string(raw), memo, nil
}

// InsertBooking persists a new booking and assigns its ID.
func (s *Store) InsertBooking(ctx context.Context, b *generic.Booking) error {
	const op = "sqlstore.InsertBooking"

	snap, memo, err := encodeBooking(b)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	id, err := s.insertReturningID(ctx, `
		INSERT INTO bookings
		(uid, student_id, teacher_id, exclusive_teacher_id, course_id, unit_id, ordered_package_id,
		 calendar_id, status, start_time, end_time, snapshot_json, memo_json, memo_submitted_at,
		 late_memo, best_memo, substitute_for_teacher_id, changed_from_id, replaced_by_id,
		 reported_absence_at, absence_report, started_at, finished_at, reason, source,
		 is_regular_booking, join_url, created_by, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		RETURNING id
	`,
		b.UID, int64(b.StudentID), int64(b.TeacherID), s.exclusiveTeacher(b.TeacherID),
		int64(b.CourseID), int64(b.UnitID), int64(b.OrderedPackageID), int64(b.CalendarID),
		int(b.Status), b.Calendar.StartTime, b.Calendar.EndTime, snap, memo, b.MemoSubmittedAt,
		b.LateMemo, b.BestMemo, int64(b.SubstituteForTeacherID), int64(b.ChangedFromID), int64(b.ReplacedByID),
		b.ReportedAbsenceAt, b.AbsenceReport, b.StartedAt, b.FinishedAt, b.Reason, string(b.Source),
		b.IsRegularBooking, b.JoinURL, b.CreatedBy, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, s.classify(err))
	}

	b.ID = generic.BookingID(id)
	b.Version = 1
	return nil
}

// UpdateBooking is a compare-and-swap on version. Snapshot columns other
// than the unit are never rewritten.
func (s *Store) UpdateBooking(ctx context.Context, b *generic.Booking) error {
	const op = "sqlstore.UpdateBooking"

	snap, memo, err := encodeBooking(b)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	res, err := s.exec(ctx, `
		UPDATE bookings SET
			status = ?, unit_id = ?, snapshot_json = ?, memo_json = ?, memo_submitted_at = ?,
			late_memo = ?, best_memo = ?, replaced_by_id = ?, reported_absence_at = ?,
			absence_report = ?, started_at = ?, finished_at = ?, reason = ?, join_url = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`,
		int(b.Status), int64(b.UnitID), snap, memo, b.MemoSubmittedAt,
		b.LateMemo, b.BestMemo, int64(b.ReplacedByID), b.ReportedAbsenceAt,
		b.AbsenceReport, b.StartedAt, b.FinishedAt, b.Reason, b.JoinURL,
		b.UpdatedAt, int64(b.ID), b.Version,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, s.classify(err))
	}
	ok, err := affectedOne(res)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return generic.ErrConcurrentModification
	}

	b.Version++
	return nil
}

func (s *Store) GetBooking(ctx context.Context, id generic.BookingID) (*generic.Booking, error) {
	rows, err := s.query(ctx, "SELECT "+bookingColumns+" FROM bookings WHERE id = ?", int64(id))
	if err != nil {
		return nil, fmt.Errorf("sqlstore.GetBooking: %w", err)
	}
	bookings, err := collectBookings(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlstore.GetBooking: %w", err)
	}
	if len(bookings) == 0 {
		return nil, nil
	}
	return &bookings[0], nil
}

func (s *Store) ListBookings(ctx context.Context, f generic.BookingFilter) ([]generic.Booking, error) {
	var (
		where []string
		args  []any
	)
	if f.StudentID != 0 {
		where = append(where, "student_id = ?")
		args = append(args, int64(f.StudentID))
	}
	if f.TeacherID != 0 {
		where = append(where, "teacher_id = ?")
		args = append(args, int64(f.TeacherID))
	}
	if f.PackageID != 0 {
		where = append(where, "ordered_package_id = ?")
		args = append(args, int64(f.PackageID))
	}
	if f.CalendarID != 0 {
		where = append(where, "calendar_id = ?")
		args = append(args, int64(f.CalendarID))
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, st := range f.Statuses {
			args = append(args, int(st))
		}
	}
	if f.From != 0 {
		where = append(where, "start_time >= ?")
		args = append(args, f.From)
	}
	if f.To != 0 {
		where = append(where, "start_time < ?")
		args = append(args, f.To)
	}
	if f.BestMemo != nil {
		where = append(where, "best_memo = ?")
		args = append(args, *f.BestMemo)
	}

	query := "SELECT " + bookingColumns + " FROM bookings"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_time ASC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore.ListBookings: %w", err)
	}
	return collectBookings(rows)
}

func (s *Store) LatestBookingOnCalendar(ctx context.Context, calendarID generic.CalendarID, studentID generic.StudentID) (*generic.Booking, error) {
	query := "SELECT " + bookingColumns + " FROM bookings WHERE calendar_id = ?"
	args := []any{int64(calendarID)}
	if studentID != 0 {
		query += " AND student_id = ?"
		args = append(args, int64(studentID))
	}
	query += " ORDER BY id DESC LIMIT 1"

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore.LatestBookingOnCalendar: %w", err)
	}
	bookings, err := collectBookings(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlstore.LatestBookingOnCalendar: %w", err)
	}
	if len(bookings) == 0 {
		return nil, nil
	}
	return &bookings[0], nil
}

func collectBookings(rows *sql.Rows) ([]generic.Booking, error) {
	defer rows.Close()

	var out []generic.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBooking(rows *sql.Rows) (generic.Booking, error) {
	var (
		b    generic.Booking
		snap string
		memo sql.NullString
	)
	err := rows.Scan(
		&b.ID, &b.UID, &b.StudentID, &b.TeacherID, &b.CourseID, &b.UnitID, &b.OrderedPackageID,
		&b.CalendarID, &b.Status, &snap, &memo, &b.MemoSubmittedAt, &b.LateMemo, &b.BestMemo,
		&b.SubstituteForTeacherID, &b.ChangedFromID, &b.ReplacedByID, &b.ReportedAbsenceAt,
		&b.AbsenceReport, &b.StartedAt, &b.FinishedAt, &b.Reason, &b.Source, &b.IsRegularBooking,
		&b.JoinURL, &b.CreatedBy, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return b, fmt.Errorf("failed to scan booking: %w", err)
	}

	var sn snapshots
	if err := json.Unmarshal([]byte(snap), &sn); err != nil {
		return b, fmt.Errorf("failed to decode snapshots of booking %d: %w", b.ID, err)
	}
	b.Calendar = sn.Calendar
	b.Student = sn.Student
	b.Teacher = sn.Teacher
	b.Course = sn.Course
	b.Unit = sn.Unit
	b.OrderedPackage = sn.OrderedPackage

	if memo.Valid && memo.String != "" {
		b.Memo = &generic.Memo{}
		if err := json.Unmarshal([]byte(memo.String), b.Memo); err != nil {
			return b, fmt.Errorf("failed to decode memo of booking %d: %w", b.ID, err)
		}
	}
	return b, nil
}

// =============================================================================
// TRIAL BOOKINGS
// =============================================================================

func (s *Store) InsertTrialBooking(ctx context.Context, t *generic.TrialBooking) error {
	memo, err := encodeMemo(t.Memo)
	if err != nil {
		return fmt.Errorf("sqlstore.InsertTrialBooking: %w", err)
	}
	id, err := s.insertReturningID(ctx, `
		INSERT INTO trial_bookings (booking_id, status, memo_json, recommendation_letter_link, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`, int64(t.BookingID), string(t.Status), memo, t.RecommendationLetterLink, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlstore.InsertTrialBooking: %w", err)
	}
	t.ID = id
	return nil
}

func (s *Store) UpdateTrialBooking(ctx context.Context, t generic.TrialBooking) error {
	memo, err := encodeMemo(t.Memo)
	if err != nil {
		return fmt.Errorf("sqlstore.UpdateTrialBooking: %w", err)
	}
	_, err = s.exec(ctx, `
		UPDATE trial_bookings
		SET status = ?, memo_json = ?, recommendation_letter_link = ?, updated_at = ?
		WHERE booking_id = ?
	`, string(t.Status), memo, t.RecommendationLetterLink, t.UpdatedAt, int64(t.BookingID))
	if err != nil {
		return fmt.Errorf("sqlstore.UpdateTrialBooking: %w", err)
	}
	return nil
}

func (s *Store) GetTrialBooking(ctx context.Context, bookingID generic.BookingID) (*generic.TrialBooking, error) {
	var (
		t    generic.TrialBooking
		memo sql.NullString
	)
	err := s.queryRow(ctx, `
		SELECT id, booking_id, status, memo_json, recommendation_letter_link, created_at, updated_at
		FROM trial_bookings WHERE booking_id = ?
	`, int64(bookingID)).Scan(&t.ID, &t.BookingID, &t.Status, &memo, &t.RecommendationLetterLink, &t.CreatedAt, &t.UpdatedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore.GetTrialBooking: %w", err)
	}
	if memo.Valid && memo.String != "" {
		t.Memo = &generic.Memo{}
		if err := json.Unmarshal([]byte(memo.String), t.Memo); err != nil {
			return nil, fmt.Errorf("sqlstore.GetTrialBooking: %w", err)
		}
	}
	return &t, nil
}

func encodeMemo(m *generic.Memo) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

// =============================================================================
// STATUS HISTORY
// =============================================================================

func (s *Store) AppendStatusEvent(ctx context.Context, e generic.StatusEvent) error {
	_, err := s.exec(ctx, `
		INSERT INTO status_events (booking_id, from_status, to_status, actor_id, actor_role, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, int64(e.BookingID), int(e.From), int(e.To), e.ActorID, string(e.ActorRole), e.Reason, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("sqlstore.AppendStatusEvent: %w", err)
	}
	return nil
}

func (s *Store) ListStatusEvents(ctx context.Context, bookingID generic.BookingID) ([]generic.StatusEvent, error) {
	rows, err := s.query(ctx, `
		SELECT id, booking_id, from_status, to_status, actor_id, actor_role, reason, created_at
		FROM status_events WHERE booking_id = ? ORDER BY id ASC
	`, int64(bookingID))
	if err != nil {
		return nil, fmt.Errorf("sqlstore.ListStatusEvents: %w", err)
	}
	defer rows.Close()

	var out []generic.StatusEvent
	for rows.Next() {
		var e generic.StatusEvent
		if err := rows.Scan(&e.ID, &e.BookingID, &e.From, &e.To, &e.ActorID, &e.ActorRole, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
