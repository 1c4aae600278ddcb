package factory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lesson-booking/factory"
	"github.com/warp/lesson-booking/generic"
	"github.com/warp/lesson-booking/store/sqlite"
)

const catalogJSON = `{
  "teachers": [
    {"id": 10, "name": "Anna", "location": "VN"},
    {"id": 11, "name": "Ben", "is_active": false, "cancel_window_minutes": 60}
  ],
  "students": [{"id": 20, "name": "Linh"}],
  "courses": [
    {"id": 30, "name": "General English", "units": [
      {"id": 31, "name": "Unit 1"},
      {"id": 32, "name": "IELTS mock", "test_topic_id": "ielts-speaking-1"}
    ]}
  ],
  "packages": [
    {"id": 50, "student_id": 20, "name": "Standard 24", "original_number_class": 24,
     "number_class": 20, "activation_date": "2025-03-01", "day_of_use": 180},
    {"id": 51, "student_id": 20, "name": "Trial", "type": "trial", "original_number_class": 1}
  ],
  "slots": [{"teacher_id": 10, "start": "2025-03-10 19:00"}],
  "regular_slots": [
    {"student_id": 20, "teacher_id": 10, "course_id": 30, "unit_id": 31,
     "package_id": 50, "weekday": "wed", "time": "19:30"}
  ],
  "leaves": [{"student_id": 20, "start": "2025-03-12 00:00", "end": "2025-03-13 00:00", "reason": "exam"}],
  "reservations": [{"student_id": 20, "start": "2025-04-01 00:00", "end": "2025-05-01 00:00", "status": "pending"}]
}`

func local(y int, m time.Month, d, h, min int) int64 {
	return generic.Ms(time.Date(y, m, d, h, min, 0, 0, generic.LocalZone))
}

func TestParseCatalog_Converts(t *testing.T) {
	c, err := factory.NewCatalogFactory().ParseCatalog([]byte(catalogJSON))
	require.NoError(t, err)

	require.Len(t, c.Teachers, 2)
	assert.True(t, c.Teachers[0].IsActive, "omitted is_active means active")
	assert.False(t, c.Teachers[1].IsActive)
	assert.Equal(t, 60, c.Teachers[1].CancelWindowMinutes)

	require.Len(t, c.Units, 2)
	assert.Equal(t, generic.CourseID(30), c.Units[1].CourseID)
	assert.Equal(t, "ielts-speaking-1", c.Units[1].TestTopicID)

	require.Len(t, c.Packages, 2)
	std, trial := c.Packages[0], c.Packages[1]
	assert.Equal(t, 20, std.NumberClass)
	assert.Equal(t, local(2025, time.March, 1, 0, 0), std.ActivationDate)
	assert.Equal(t, generic.PackageTrial, trial.Type)
	assert.Equal(t, 1, trial.NumberClass, "remaining defaults to original")
	assert.False(t, trial.IsActivated())
	assert.Equal(t, 90, trial.DayOfUse)

	require.Len(t, c.Slots, 1)
	assert.Equal(t, local(2025, time.March, 10, 19, 0), c.Slots[0].StartTime)
	assert.Equal(t, c.Slots[0].StartTime+generic.SlotMs, c.Slots[0].EndTime)

	require.Len(t, c.RegularSlots, 1)
	assert.Equal(t, 2*generic.DayMs+19*generic.HourMs+30*generic.MinuteMs, c.RegularSlots[0].WeekOffset)

	require.Len(t, c.Leaves, 1)
	assert.Equal(t, generic.LeaveApproved, c.Leaves[0].Status)
	require.Len(t, c.Reservations, 1)
	assert.Equal(t, generic.LeavePending, c.Reservations[0].Status)
}

func TestCatalogSeed_WritesEverything(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	c, err := factory.NewCatalogFactory().ParseCatalog([]byte(catalogJSON))
	require.NoError(t, err)

	// WHEN
	require.NoError(t, c.Seed(ctx, store, local(2025, time.March, 9, 12, 0)))

	// THEN
	teacher, err := store.GetTeacher(ctx, 10)
	require.NoError(t, err)
	require.NotNil(t, teacher)
	assert.Equal(t, "VN", teacher.Location)

	unit, err := store.GetUnit(ctx, 32)
	require.NoError(t, err)
	require.NotNil(t, unit)
	assert.Equal(t, "IELTS mock", unit.Name)

	pkg, err := store.GetPackage(ctx, 50)
	require.NoError(t, err)
	require.NotNil(t, pkg)
	assert.Equal(t, 20, pkg.NumberClass)

	slot, err := store.FindSlot(ctx, 10, local(2025, time.March, 10, 19, 0))
	require.NoError(t, err)
	require.NotNil(t, slot)

	regular, err := store.ListRegularSlots(ctx, 20)
	require.NoError(t, err)
	assert.Len(t, regular, 1)

	leaves, err := store.FindStudentLeaves(ctx, 20, local(2025, time.March, 12, 19, 0), generic.LeaveApproved)
	require.NoError(t, err)
	assert.Len(t, leaves, 1)
}

func TestCatalogSeed_RollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	// GIVEN: two slots for the same teacher and start
	c, err := factory.NewCatalogFactory().FromJSON(factory.CatalogJSON{
		Teachers: []factory.TeacherJSON{{ID: 10, Name: "Anna"}},
		Slots: []factory.SlotJSON{
			{TeacherID: 10, Start: "2025-03-10 19:00"},
			{TeacherID: 10, Start: "2025-03-10 19:00"},
		},
	})
	require.NoError(t, err)

	// WHEN
	err = c.Seed(ctx, store, 0)

	// THEN: nothing was written
	assert.ErrorIs(t, err, generic.ErrSlotTaken)
	teacher, err := store.GetTeacher(ctx, 10)
	require.NoError(t, err)
	assert.Nil(t, teacher, "teacher should be rolled back")
}

func TestParseCatalog_Rejects(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"malformed", `{"teachers": [`},
		{"teacher without id", `{"teachers": [{"name": "Anna"}]}`},
		{"misaligned slot", `{"slots": [{"teacher_id": 10, "start": "2025-03-10 19:10"}]}`},
		{"bad time layout", `{"slots": [{"teacher_id": 10, "start": "2025-03-10T19:00"}]}`},
		{"remaining above original", `{"packages": [{"id": 1, "student_id": 2, "original_number_class": 3, "number_class": 4}]}`},
		{"unknown package type", `{"packages": [{"id": 1, "student_id": 2, "type": "gift"}]}`},
		{"bad activation date", `{"packages": [{"id": 1, "student_id": 2, "activation_date": "01/03/2025"}]}`},
		{"unknown weekday", `{"regular_slots": [{"weekday": "funday", "time": "19:00"}]}`},
		{"leave ends before start", `{"leaves": [{"student_id": 2, "start": "2025-03-12 00:00", "end": "2025-03-11 00:00"}]}`},
		{"unknown leave status", `{"leaves": [{"student_id": 2, "start": "2025-03-12 00:00", "end": "2025-03-13 00:00", "status": "maybe"}]}`},
	}

	f := factory.NewCatalogFactory()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParseCatalog([]byte(tt.json))
			assert.Equal(t, generic.KindValidation, generic.KindOf(err), "got %v", err)
		})
	}
}

func TestFormatLocal(t *testing.T) {
	ms := local(2025, time.March, 10, 19, 0)
	assert.Equal(t, "2025-03-10 19:00", factory.FormatLocal(ms))
	assert.Equal(t, "2025-03-10", factory.FormatDate(ms))
}
