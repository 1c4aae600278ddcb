/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Populates the database with a small school: two teachers, two students,
  a course with a regular and an IELTS unit, packages and open slots.
  Each scenario then drives the booking service into an interesting
  state. Times are relative to the server clock so lead-time and deadline
  rules behave the same whenever the demo is loaded.

AVAILABLE SCENARIOS:
  first-lessons:  Three booked lessons over the next days
  trial-lesson:   A trial booking with its mirror record
  regular-week:   Weekly regular slots ready for the regular_bookings job
  leave-request:  Booked lessons plus an approved, unprocessed leave

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Build a catalog in Go and seed it via factory
 3. Create bookings through booking.Service as an admin

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "trial-lesson"}

NOTE:
  Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler type
  - factory/catalog.go: Catalog JSON and seeding
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/warp/lesson-booking/booking"
	"github.com/warp/lesson-booking/factory"
	"github.com/warp/lesson-booking/generic"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "first-lessons",
		Name:        "First Lessons",
		Description: "A student books three lessons with two teachers",
	},
	{
		ID:          "trial-lesson",
		Name:        "Trial Lesson",
		Description: "A trial package booking and its mirror record",
	},
	{
		ID:          "regular-week",
		Name:        "Regular Week",
		Description: "Weekly regular slots waiting for next week's bookings",
	},
	{
		ID:          "leave-request",
		Name:        "Leave Request",
		Description: "Booked lessons covered by an approved student leave",
	},
}

// Demo catalog ids.
const (
	demoTeacherAnna = 10
	demoTeacherBen  = 11
	demoStudentLinh = 20
	demoStudentMinh = 21
	demoCourse      = 30
	demoUnit        = 31
	demoIELTSUnit   = 32
	demoPackage     = 50
	demoTrial       = 51
)

var scenarioAdmin = generic.Actor{ID: 1, Role: generic.RoleAdmin}

func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the loaded scenario, or null.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, r, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, r, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	if actorOf(r).Role != generic.RoleAdmin {
		writeStatus(w, r, http.StatusForbidden, "forbidden", "only admins may load scenarios")
		return
	}
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}

	loaders := map[string]func(context.Context) error{
		"first-lessons": h.loadFirstLessons,
		"trial-lesson":  h.loadTrialLesson,
		"regular-week":  h.loadRegularWeek,
		"leave-request": h.loadLeaveRequest,
	}
	load, ok := loaders[req.ScenarioID]
	if !ok {
		writeStatus(w, r, http.StatusBadRequest, "unknown_scenario", "unknown scenario "+req.ScenarioID)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		h.writeError(w, r, fmt.Errorf("reset: %w", err))
		return
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		h.writeError(w, r, fmt.Errorf("load scenario %s: %w", req.ScenarioID, err))
		return
	}
	h.currentScenario = req.ScenarioID

	writeJSON(w, r, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadFirstLessons(ctx context.Context) error {
	tomorrow := h.dayStart(1)
	if err := h.seed(ctx, baseCatalog(h.now(), tomorrow)); err != nil {
		return err
	}
	for _, l := range []struct {
		teacher int64
		start   int64
	}{
		{demoTeacherAnna, tomorrow + 19*generic.HourMs},
		{demoTeacherBen, tomorrow + 20*generic.HourMs},
		{demoTeacherAnna, tomorrow + generic.DayMs + 19*generic.HourMs},
	} {
		if _, err := h.book(ctx, demoStudentLinh, l.teacher, demoPackage, l.start, demoUnit); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadTrialLesson(ctx context.Context) error {
	tomorrow := h.dayStart(1)
	if err := h.seed(ctx, baseCatalog(h.now(), tomorrow)); err != nil {
		return err
	}
	_, err := h.book(ctx, demoStudentMinh, demoTeacherBen, demoTrial, tomorrow+18*generic.HourMs, demoUnit)
	return err
}

func (h *Handler) loadRegularWeek(ctx context.Context) error {
	cj := baseCatalog(h.now(), h.dayStart(1))
	cj.RegularSlots = []factory.RegularSlotJSON{
		{StudentID: demoStudentLinh, TeacherID: demoTeacherAnna, CourseID: demoCourse, UnitID: demoUnit,
			PackageID: demoPackage, Weekday: "tue", Time: "19:00"},
		{StudentID: demoStudentLinh, TeacherID: demoTeacherAnna, CourseID: demoCourse, UnitID: demoUnit,
			PackageID: demoPackage, Weekday: "thu", Time: "19:00"},
	}
	return h.seed(ctx, cj)
}

// loadLeaveRequest books first; the leave is seeded afterwards because
// the resolver refuses slots that a leave already covers.
func (h *Handler) loadLeaveRequest(ctx context.Context) error {
	tomorrow := h.dayStart(1)
	if err := h.seed(ctx, baseCatalog(h.now(), tomorrow)); err != nil {
		return err
	}
	for _, start := range []int64{tomorrow + 19*generic.HourMs, tomorrow + generic.DayMs + 19*generic.HourMs} {
		if _, err := h.book(ctx, demoStudentLinh, demoTeacherAnna, demoPackage, start, demoUnit); err != nil {
			return err
		}
	}
	return h.seed(ctx, factory.CatalogJSON{
		Leaves: []factory.LeaveJSON{{
			StudentID: demoStudentLinh,
			Start:     factory.FormatLocal(tomorrow),
			End:       factory.FormatLocal(tomorrow + 2*generic.DayMs),
			Reason:    "family trip",
		}},
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// baseCatalog is the demo school with the package activated yesterday.
func baseCatalog(now, tomorrow int64) factory.CatalogJSON {
	return factory.CatalogJSON{
		Teachers: []factory.TeacherJSON{
			{ID: demoTeacherAnna, Name: "Anna Tran", Email: "anna@example.com", Location: "VN"},
			{ID: demoTeacherBen, Name: "Ben Cruz", Email: "ben@example.com", Location: "PH"},
		},
		Students: []factory.StudentJSON{
			{ID: demoStudentLinh, Name: "Linh Nguyen", Email: "linh@example.com"},
			{ID: demoStudentMinh, Name: "Minh Pham", Email: "minh@example.com"},
		},
		Courses: []factory.CourseJSON{{
			ID: demoCourse, Name: "General English",
			Units: []factory.UnitJSON{
				{ID: demoUnit, Name: "Unit 1: Introductions"},
				{ID: demoIELTSUnit, Name: "IELTS Speaking Mock", TestTopicID: "ielts-speaking-1"},
			},
		}},
		Packages: []factory.PackageJSON{
			{ID: demoPackage, StudentID: demoStudentLinh, Name: "Standard 24", OriginalNumberClass: 24,
				ActivationDate: factory.FormatDate(now - generic.DayMs), DayOfUse: 180},
			{ID: demoTrial, StudentID: demoStudentMinh, Name: "Trial", Type: string(generic.PackageTrial),
				OriginalNumberClass: 1, ActivationDate: factory.FormatDate(now - generic.DayMs), DayOfUse: 14},
		},
		Slots: []factory.SlotJSON{
			{TeacherID: demoTeacherAnna, Start: factory.FormatLocal(tomorrow + 19*generic.HourMs)},
			{TeacherID: demoTeacherAnna, Start: factory.FormatLocal(tomorrow + 19*generic.HourMs + generic.SlotMs)},
			{TeacherID: demoTeacherBen, Start: factory.FormatLocal(tomorrow + 18*generic.HourMs)},
			{TeacherID: demoTeacherBen, Start: factory.FormatLocal(tomorrow + 20*generic.HourMs)},
		},
	}
}

func (h *Handler) seed(ctx context.Context, cj factory.CatalogJSON) error {
	catalog, err := h.Catalog.FromJSON(cj)
	if err != nil {
		return err
	}
	return catalog.Seed(ctx, h.Store, h.now())
}

func (h *Handler) book(ctx context.Context, student, teacher, pkg, start, unit int64) (*generic.Booking, error) {
	return h.Service.CreateBooking(ctx, booking.CreateRequest{
		StudentID: generic.StudentID(student),
		TeacherID: generic.TeacherID(teacher),
		StartTime: start,
		EndTime:   start + generic.SlotMs,
		CourseID:  demoCourse,
		UnitID:    generic.UnitID(unit),
		PackageID: generic.PackageID(pkg),
		Source:    generic.SourceAdmin,
		Actor:     scenarioAdmin,
	})
}

func (h *Handler) now() int64 { return generic.Ms(h.clock.Now()) }

// dayStart returns local midnight offset days from today.
func (h *Handler) dayStart(offset int) int64 {
	return generic.StartOfDay(h.now(), generic.LocalZone) + int64(offset)*generic.DayMs
}
