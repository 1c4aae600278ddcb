package booking_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lesson-booking/booking"
	"github.com/warp/lesson-booking/generic"
	"github.com/warp/lesson-booking/store/sqlite"
	"github.com/warp/lesson-booking/store/sqlstore"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const (
	teacherID         generic.TeacherID = 10
	otherTeacherID    generic.TeacherID = 11
	fallbackTeacherID generic.TeacherID = 99
	inactiveTeacherID generic.TeacherID = 12

	studentID      generic.StudentID = 20
	otherStudentID generic.StudentID = 21

	courseID      generic.CourseID = 30
	otherCourseID generic.CourseID = 40

	unitID        generic.UnitID = 31
	ieltsUnitID   generic.UnitID = 32
	foreignUnitID generic.UnitID = 41

	packageID      generic.PackageID = 50
	trialPackageID generic.PackageID = 51
	otherPackageID generic.PackageID = 52
)

var (
	admin   = generic.Actor{ID: 1, Role: generic.RoleAdmin}
	cskh    = generic.Actor{ID: 2, Role: generic.RoleCSKH}
	teacher = generic.Actor{ID: int64(teacherID), Role: generic.RoleTeacher}
	student = generic.Actor{ID: int64(studentID), Role: generic.RoleStudent}
)

// Monday 2025-03-10 08:00 local time.
var day0 = time.Date(2025, time.March, 10, 8, 0, 0, 0, generic.LocalZone)

// at returns the epoch ms of h:m on the test day plus dayOffset days.
func at(dayOffset, h, m int) int64 {
	return generic.Ms(time.Date(2025, time.March, 10+dayOffset, h, m, 0, 0, generic.LocalZone))
}

type fixture struct {
	ctx    context.Context
	store  *sqlite.Store
	clock  *generic.FixedClock
	svc    *booking.Service
	events *booking.MemoryEmitter
}

func newFixture(t *testing.T, opts ...booking.Option) *fixture {
	t.Helper()

	store, err := sqlite.New(":memory:", sqlstore.WithFallbackTeacher(fallbackTeacherID))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		ctx:    context.Background(),
		store:  store,
		clock:  generic.NewFixedClock(day0),
		events: &booking.MemoryEmitter{},
	}
	f.seed(t)

	rules := booking.DefaultRules()
	rules.FallbackTeacherID = fallbackTeacherID
	opts = append([]booking.Option{booking.WithClock(f.clock), booking.WithEmitter(f.events)}, opts...)
	f.svc = booking.NewService(store, rules, opts...)
	return f
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	ctx := f.ctx

	for _, tc := range []generic.Teacher{
		{ID: teacherID, Name: "Anna", Email: "anna@example.com", IsActive: true},
		{ID: otherTeacherID, Name: "Ben", IsActive: true},
		{ID: fallbackTeacherID, Name: "Standby", IsActive: true},
		{ID: inactiveTeacherID, Name: "Gone", IsActive: false},
	} {
		require.NoError(t, f.store.SaveTeacher(ctx, tc))
	}
	require.NoError(t, f.store.SaveStudent(ctx, generic.Student{ID: studentID, Name: "Linh", IsActive: true}))
	require.NoError(t, f.store.SaveStudent(ctx, generic.Student{ID: otherStudentID, Name: "Minh", IsActive: true}))

	require.NoError(t, f.store.SaveCourse(ctx, generic.Course{ID: courseID, Name: "General English", IsActive: true}))
	require.NoError(t, f.store.SaveCourse(ctx, generic.Course{ID: otherCourseID, Name: "Business", IsActive: true}))
	require.NoError(t, f.store.SaveUnit(ctx, generic.Unit{ID: unitID, CourseID: courseID, Name: "Unit 1", IsActive: true}))
	require.NoError(t, f.store.SaveUnit(ctx, generic.Unit{ID: ieltsUnitID, CourseID: courseID, Name: "IELTS mock", IsActive: true, TestTopicID: "ielts-speaking-1"}))
	require.NoError(t, f.store.SaveUnit(ctx, generic.Unit{ID: foreignUnitID, CourseID: otherCourseID, Name: "Meetings", IsActive: true}))

	f.savePackage(t, generic.OrderedPackage{ID: packageID, StudentID: studentID, Name: "Standard 5"})
	f.savePackage(t, generic.OrderedPackage{ID: trialPackageID, StudentID: studentID, Name: "Trial", Type: generic.PackageTrial})
	f.savePackage(t, generic.OrderedPackage{ID: otherPackageID, StudentID: otherStudentID, Name: "Standard 5"})
}

// savePackage fills defaults: 5 of 5 lessons, activated yesterday, 90 days.
// ActivationDate -1 stores an unactivated package.
func (f *fixture) savePackage(t *testing.T, p generic.OrderedPackage) {
	t.Helper()
	if p.Type == "" {
		p.Type = generic.PackageStandard
	}
	if p.LearningFrequency == "" {
		p.LearningFrequency = generic.FrequencyNormal
	}
	if p.OriginalNumberClass == 0 {
		p.OriginalNumberClass = 5
		if p.NumberClass == 0 {
			p.NumberClass = 5
		}
	}
	if p.ActivationDate == 0 {
		p.ActivationDate = at(-1, 8, 0)
	} else if p.ActivationDate < 0 {
		p.ActivationDate = 0
	}
	if p.DayOfUse == 0 {
		p.DayOfUse = 90
	}
	require.NoError(t, f.store.SavePackage(f.ctx, p))
}

// request builds a booking request for the default student and teacher.
func request(start int64) booking.CreateRequest {
	return booking.CreateRequest{
		StudentID: studentID,
		TeacherID: teacherID,
		StartTime: start,
		EndTime:   start + generic.SlotMs,
		CourseID:  courseID,
		UnitID:    unitID,
		PackageID: packageID,
		Source:    generic.SourceStudent,
		Actor:     student,
	}
}

func (f *fixture) book(t *testing.T, req booking.CreateRequest) *generic.Booking {
	t.Helper()
	b, err := f.svc.CreateBooking(f.ctx, req)
	require.NoError(t, err)
	return b
}

func (f *fixture) move(t *testing.T, id generic.BookingID, to generic.Status, actor generic.Actor, reason string) *generic.Booking {
	t.Helper()
	b, err := f.svc.ChangeStatus(f.ctx, booking.StatusRequest{BookingID: id, To: to, Actor: actor, Reason: reason})
	require.NoError(t, err)
	return b
}

func (f *fixture) numberClass(t *testing.T, id generic.PackageID) int {
	t.Helper()
	p, err := f.store.GetPackage(f.ctx, id)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p.NumberClass
}

// requireCode asserts err is a *generic.Error of the given kind and code.
func requireCode(t *testing.T, err error, kind generic.Kind, code string) {
	t.Helper()
	require.Error(t, err)
	e, ok := generic.AsError(err)
	require.True(t, ok, "expected *generic.Error, got %v", err)
	assert.Equal(t, kind, e.Kind, "kind of %v", err)
	assert.Equal(t, code, e.Code, "code of %v", err)
}

// assertConserved checks original - current == debits - credits.
func (f *fixture) assertConserved(t *testing.T, id generic.PackageID) {
	t.Helper()
	p, err := f.store.GetPackage(f.ctx, id)
	require.NoError(t, err)
	entries, err := f.store.ListLedgerEntries(f.ctx, id)
	require.NoError(t, err)
	sum := 0
	for _, e := range entries {
		sum += e.Delta
	}
	assert.Equal(t, p.OriginalNumberClass+sum, p.NumberClass, "ledger conservation for package %d", id)
}
