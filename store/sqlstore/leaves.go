package sqlstore

import (
	"context"
	"fmt"

	"github.com/warp/lesson-booking/generic"
)

// =============================================================================
// STUDENT LEAVES
// =============================================================================

const leaveColumns = `id, student_id, start_time, end_time, status, reason, processed, created_at`

func (s *Store) SaveStudentLeave(ctx context.Context, l generic.StudentLeave) (int64, error) {
	const op = "sqlstore.SaveStudentLeave"

	if l.ID != 0 {
		_, err := s.exec(ctx, `
			UPDATE student_leaves
			SET start_time = ?, end_time = ?, status = ?, reason = ?, processed = ?
			WHERE id = ?
		`, l.StartTime, l.EndTime, string(l.Status), l.Reason, l.Processed, l.ID)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", op, err)
		}
		return l.ID, nil
	}

	id, err := s.insertReturningID(ctx, `
		INSERT INTO student_leaves (student_id, start_time, end_time, status, reason, processed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, int64(l.StudentID), l.StartTime, l.EndTime, string(l.Status), l.Reason, l.Processed, l.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

func (s *Store) FindStudentLeaves(ctx context.Context, studentID generic.StudentID, at int64, statuses ...generic.LeaveStatus) ([]generic.StudentLeave, error) {
	args := []any{int64(studentID), at, at}
	for _, st := range statuses {
		args = append(args, string(st))
	}
	query := "SELECT " + leaveColumns + " FROM student_leaves WHERE student_id = ? AND start_time <= ? AND end_time > ?"
	if len(statuses) > 0 {
		query += " AND status IN (" + placeholders(len(statuses)) + ")"
	}
	return s.queryLeaves(ctx, query+" ORDER BY id", args...)
}

func (s *Store) ListUnprocessedLeaves(ctx context.Context, status generic.LeaveStatus) ([]generic.StudentLeave, error) {
	return s.queryLeaves(ctx,
		"SELECT "+leaveColumns+" FROM student_leaves WHERE status = ? AND processed = ? ORDER BY id",
		string(status), false)
}

func (s *Store) MarkLeaveProcessed(ctx context.Context, id int64) error {
	_, err := s.exec(ctx, "UPDATE student_leaves SET processed = ? WHERE id = ?", true, id)
	if err != nil {
		return fmt.Errorf("sqlstore.MarkLeaveProcessed: %w", err)
	}
	return nil
}

func (s *Store) queryLeaves(ctx context.Context, query string, args ...any) ([]generic.StudentLeave, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore.queryLeaves: %w", err)
	}
	defer rows.Close()

	var out []generic.StudentLeave
	for rows.Next() {
		var l generic.StudentLeave
		if err := rows.Scan(&l.ID, &l.StudentID, &l.StartTime, &l.EndTime, &l.Status,
			&l.Reason, &l.Processed, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// =============================================================================
// RESERVATIONS (leave of study)
// =============================================================================

func (s *Store) SaveReservation(ctx context.Context, r generic.Reservation) (int64, error) {
	if r.ID != 0 {
		_, err := s.exec(ctx,
			"UPDATE reservations SET start_time = ?, end_time = ?, status = ? WHERE id = ?",
			r.StartTime, r.EndTime, string(r.Status), r.ID)
		if err != nil {
			return 0, fmt.Errorf("sqlstore.SaveReservation: %w", err)
		}
		return r.ID, nil
	}

	id, err := s.insertReturningID(ctx, `
		INSERT INTO reservations (student_id, start_time, end_time, status, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`, int64(r.StudentID), r.StartTime, r.EndTime, string(r.Status), r.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("sqlstore.SaveReservation: %w", err)
	}
	return id, nil
}

func (s *Store) FindReservations(ctx context.Context, studentID generic.StudentID, at int64, statuses ...generic.LeaveStatus) ([]generic.Reservation, error) {
	args := []any{int64(studentID), at, at}
	for _, st := range statuses {
		args = append(args, string(st))
	}
	query := `SELECT id, student_id, start_time, end_time, status, created_at
		FROM reservations WHERE student_id = ? AND start_time <= ? AND end_time > ?`
	if len(statuses) > 0 {
		query += " AND status IN (" + placeholders(len(statuses)) + ")"
	}

	rows, err := s.query(ctx, query+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore.FindReservations: %w", err)
	}
	defer rows.Close()

	var out []generic.Reservation
	for rows.Next() {
		var r generic.Reservation
		if err := rows.Scan(&r.ID, &r.StudentID, &r.StartTime, &r.EndTime, &r.Status, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// TEACHER ABSENCES
// =============================================================================

func (s *Store) FindTeacherAbsence(ctx context.Context, teacherID generic.TeacherID, at int64) (*generic.TeacherAbsence, error) {
	var a generic.TeacherAbsence
	err := s.queryRow(ctx, `
		SELECT id, teacher_id, start_time, end_time, booking_id, reason, is_auto, created_at
		FROM teacher_absences
		WHERE teacher_id = ? AND start_time <= ? AND end_time > ?
		ORDER BY id LIMIT 1
	`, int64(teacherID), at, at).Scan(&a.ID, &a.TeacherID, &a.StartTime, &a.EndTime,
		&a.BookingID, &a.Reason, &a.Auto, &a.CreatedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore.FindTeacherAbsence: %w", err)
	}
	return &a, nil
}

func (s *Store) CreateTeacherAbsence(ctx context.Context, a generic.TeacherAbsence) (int64, error) {
	id, err := s.insertReturningID(ctx, `
		INSERT INTO teacher_absences (teacher_id, start_time, end_time, booking_id, reason, is_auto, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, int64(a.TeacherID), a.StartTime, a.EndTime, int64(a.BookingID), a.Reason, a.Auto, a.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("sqlstore.CreateTeacherAbsence: %w", err)
	}
	return id, nil
}
