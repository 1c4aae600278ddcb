package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/warp/lesson-booking/generic"
)

// =============================================================================
// TEACHERS
// =============================================================================

func (s *Store) SaveTeacher(ctx context.Context, t generic.Teacher) error {
	const op = "sqlstore.SaveTeacher"

	_, err := s.exec(ctx, `
		INSERT INTO teachers (id, name, email, location, is_active, min_lead_minutes, cancel_window_minutes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			location = excluded.location,
			is_active = excluded.is_active,
			min_lead_minutes = excluded.min_lead_minutes,
			cancel_window_minutes = excluded.cancel_window_minutes
	`, int64(t.ID), t.Name, t.Email, t.Location, t.IsActive, t.MinLeadMinutes, t.CancelWindowMinutes)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Store) GetTeacher(ctx context.Context, id generic.TeacherID) (*generic.Teacher, error) {
	var t generic.Teacher
	err := s.queryRow(ctx, `
		SELECT id, name, email, location, is_active, min_lead_minutes, cancel_window_minutes
		FROM teachers WHERE id = ?
	`, int64(id)).Scan(&t.ID, &t.Name, &t.Email, &t.Location, &t.IsActive, &t.MinLeadMinutes, &t.CancelWindowMinutes)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore.GetTeacher: %w", err)
	}
	return &t, nil
}

// =============================================================================
// STUDENTS
// =============================================================================

func (s *Store) SaveStudent(ctx context.Context, st generic.Student) error {
	_, err := s.exec(ctx, `
		INSERT INTO students (id, name, email, is_active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			is_active = excluded.is_active
	`, int64(st.ID), st.Name, st.Email, st.IsActive)
	if err != nil {
		return fmt.Errorf("sqlstore.SaveStudent: %w", err)
	}
	return nil
}

func (s *Store) GetStudent(ctx context.Context, id generic.StudentID) (*generic.Student, error) {
	var st generic.Student
	err := s.queryRow(ctx,
		"SELECT id, name, email, is_active FROM students WHERE id = ?",
		int64(id),
	).Scan(&st.ID, &st.Name, &st.Email, &st.IsActive)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore.GetStudent: %w", err)
	}
	return &st, nil
}

// =============================================================================
// COURSES AND UNITS
// =============================================================================

func (s *Store) SaveCourse(ctx context.Context, c generic.Course) error {
	_, err := s.exec(ctx, `
		INSERT INTO courses (id, name, is_active)
		VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			is_active = excluded.is_active
	`, int64(c.ID), c.Name, c.IsActive)
	if err != nil {
		return fmt.Errorf("sqlstore.SaveCourse: %w", err)
	}
	return nil
}

func (s *Store) GetCourse(ctx context.Context, id generic.CourseID) (*generic.Course, error) {
	var c generic.Course
	err := s.queryRow(ctx,
		"SELECT id, name, is_active FROM courses WHERE id = ?",
		int64(id),
	).Scan(&c.ID, &c.Name, &c.IsActive)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore.GetCourse: %w", err)
	}
	return &c, nil
}

func (s *Store) SaveUnit(ctx context.Context, u generic.Unit) error {
	_, err := s.exec(ctx, `
		INSERT INTO units (id, course_id, name, is_active, test_topic_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			course_id = excluded.course_id,
			name = excluded.name,
			is_active = excluded.is_active,
			test_topic_id = excluded.test_topic_id
	`, int64(u.ID), int64(u.CourseID), u.Name, u.IsActive, u.TestTopicID)
	if err != nil {
		return fmt.Errorf("sqlstore.SaveUnit: %w", err)
	}
	return nil
}

func (s *Store) GetUnit(ctx context.Context, id generic.UnitID) (*generic.Unit, error) {
	var u generic.Unit
	err := s.queryRow(ctx,
		"SELECT id, course_id, name, is_active, test_topic_id FROM units WHERE id = ?",
		int64(id),
	).Scan(&u.ID, &u.CourseID, &u.Name, &u.IsActive, &u.TestTopicID)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore.GetUnit: %w", err)
	}
	return &u, nil
}

// =============================================================================
// REGULAR SLOTS
// =============================================================================

const regularSlotColumns = `id, student_id, teacher_id, course_id, unit_id, ordered_package_id, week_offset, is_active`

func (s *Store) SaveRegularSlot(ctx context.Context, r generic.RegularSlot) (int64, error) {
	const op = "sqlstore.SaveRegularSlot"

	if r.ID != 0 {
		_, err := s.exec(ctx, `
			UPDATE regular_slots
			SET teacher_id = ?, course_id = ?, unit_id = ?, ordered_package_id = ?, week_offset = ?, is_active = ?
			WHERE id = ?
		`, int64(r.TeacherID), int64(r.CourseID), int64(r.UnitID), int64(r.OrderedPackageID), r.WeekOffset, r.IsActive, r.ID)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", op, err)
		}
		return r.ID, nil
	}

	id, err := s.insertReturningID(ctx, `
		INSERT INTO regular_slots (student_id, teacher_id, course_id, unit_id, ordered_package_id, week_offset, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, int64(r.StudentID), int64(r.TeacherID), int64(r.CourseID), int64(r.UnitID), int64(r.OrderedPackageID), r.WeekOffset, r.IsActive)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

func (s *Store) ListRegularSlots(ctx context.Context, studentID generic.StudentID) ([]generic.RegularSlot, error) {
	return s.queryRegularSlots(ctx,
		"SELECT "+regularSlotColumns+" FROM regular_slots WHERE student_id = ? ORDER BY week_offset",
		int64(studentID))
}

func (s *Store) ListActiveRegularSlots(ctx context.Context) ([]generic.RegularSlot, error) {
	return s.queryRegularSlots(ctx,
		"SELECT "+regularSlotColumns+" FROM regular_slots WHERE is_active = ? ORDER BY student_id, week_offset",
		true)
}

func (s *Store) queryRegularSlots(ctx context.Context, query string, args ...any) ([]generic.RegularSlot, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore.queryRegularSlots: %w", err)
	}
	defer rows.Close()

	var out []generic.RegularSlot
	for rows.Next() {
		var r generic.RegularSlot
		if err := rows.Scan(&r.ID, &r.StudentID, &r.TeacherID, &r.CourseID, &r.UnitID,
			&r.OrderedPackageID, &r.WeekOffset, &r.IsActive); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// CALENDAR SLOTS (generic.SlotProvider)
// =============================================================================

func scanSlot(row *sql.Row) (*generic.CalendarSlot, error) {
	var c generic.CalendarSlot
	err := row.Scan(&c.ID, &c.TeacherID, &c.StartTime, &c.EndTime, &c.IsActive)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) GetSlot(ctx context.Context, id generic.CalendarID) (*generic.CalendarSlot, error) {
	slot, err := scanSlot(s.queryRow(ctx,
		"SELECT id, teacher_id, start_time, end_time, is_active FROM calendars WHERE id = ?",
		int64(id)))
	if err != nil {
		return nil, fmt.Errorf("sqlstore.GetSlot: %w", err)
	}
	return slot, nil
}

func (s *Store) FindSlot(ctx context.Context, teacherID generic.TeacherID, startTime int64) (*generic.CalendarSlot, error) {
	slot, err := scanSlot(s.queryRow(ctx,
		"SELECT id, teacher_id, start_time, end_time, is_active FROM calendars WHERE teacher_id = ? AND start_time = ?",
		int64(teacherID), startTime))
	if err != nil {
		return nil, fmt.Errorf("sqlstore.FindSlot: %w", err)
	}
	return slot, nil
}

func (s *Store) CreateSlot(ctx context.Context, slot generic.CalendarSlot) (generic.CalendarSlot, error) {
	const op = "sqlstore.CreateSlot"

	id, err := s.insertReturningID(ctx, `
		INSERT INTO calendars (teacher_id, start_time, end_time, is_active)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`, int64(slot.TeacherID), slot.StartTime, slot.EndTime, slot.IsActive)
	if err != nil {
		return slot, fmt.Errorf("%s: %w", op, s.classify(err))
	}
	slot.ID = generic.CalendarID(id)
	return slot, nil
}
