package sqlstore

import (
	"context"
	"fmt"

	"github.com/warp/lesson-booking/generic"
)

// =============================================================================
// TEACHER STATS (optimistic)
// =============================================================================

func (s *Store) GetTeacherStats(ctx context.Context, id generic.TeacherID) (generic.TeacherStats, error) {
	stats := generic.TeacherStats{
		TeacherID:   id,
		TaughtHours: generic.NewAmountFromInt(0, generic.MeasureHours),
	}

	var hours string
	err := s.queryRow(ctx, `
		SELECT completed_lessons, taught_hours, version, updated_at
		FROM teacher_stats WHERE teacher_id = ?
	`, int64(id)).Scan(&stats.CompletedLessons, &hours, &stats.Version, &stats.UpdatedAt)
	if isNoRows(err) {
		return stats, nil
	}
	if err != nil {
		return stats, fmt.Errorf("sqlstore.GetTeacherStats: %w", err)
	}
	stats.TaughtHours = generic.Amount{Value: generic.MustParseDecimal(hours), Measure: generic.MeasureHours}
	return stats, nil
}

// CompareAndSwapTeacherStats writes st when the stored version equals
// st.Version. Version 0 means the row must not exist yet.
func (s *Store) CompareAndSwapTeacherStats(ctx context.Context, st generic.TeacherStats) error {
	const op = "sqlstore.CompareAndSwapTeacherStats"

	var (
		query string
		args  []any
	)
	if st.Version == 0 {
		query = `
			INSERT INTO teacher_stats (teacher_id, completed_lessons, taught_hours, version, updated_at)
			VALUES (?, ?, ?, 1, ?)
			ON CONFLICT (teacher_id) DO NOTHING
		`
		args = []any{int64(st.TeacherID), st.CompletedLessons, st.TaughtHours.Value.String(), st.UpdatedAt}
	} else {
		query = `
			UPDATE teacher_stats
			SET completed_lessons = ?, taught_hours = ?, version = version + 1, updated_at = ?
			WHERE teacher_id = ? AND version = ?
		`
		args = []any{st.CompletedLessons, st.TaughtHours.Value.String(), st.UpdatedAt, int64(st.TeacherID), st.Version}
	}

	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	ok, err := affectedOne(res)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return generic.ErrConcurrentModification
	}
	return nil
}

// =============================================================================
// DAILY COUNTERS (capped)
// =============================================================================

func (s *Store) IncrementDailyCounter(ctx context.Context, name, day string, limit int) error {
	const op = "sqlstore.IncrementDailyCounter"

	if _, err := s.exec(ctx, `
		INSERT INTO daily_counters (name, day, value) VALUES (?, ?, 0)
		ON CONFLICT (name, day) DO NOTHING
	`, name, day); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	res, err := s.exec(ctx, `
		UPDATE daily_counters SET value = value + 1
		WHERE name = ? AND day = ? AND value < ?
	`, name, day, limit)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	ok, err := affectedOne(res)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return generic.ErrQuotaReached
	}
	return nil
}

func (s *Store) DecrementDailyCounter(ctx context.Context, name, day string) error {
	_, err := s.exec(ctx, `
		UPDATE daily_counters SET value = value - 1
		WHERE name = ? AND day = ? AND value > 0
	`, name, day)
	if err != nil {
		return fmt.Errorf("sqlstore.DecrementDailyCounter: %w", err)
	}
	return nil
}

func (s *Store) GetDailyCounter(ctx context.Context, name, day string) (int, error) {
	var value int
	err := s.queryRow(ctx,
		"SELECT value FROM daily_counters WHERE name = ? AND day = ?",
		name, day,
	).Scan(&value)
	if isNoRows(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sqlstore.GetDailyCounter: %w", err)
	}
	return value, nil
}
