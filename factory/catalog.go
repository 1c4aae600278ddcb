/*
Package factory provides JSON to Go catalog conversion.

PURPOSE:
  Converts a JSON catalog (teachers, students, courses with units, ordered
  packages, calendar slots, weekly regular slots, leaves and reservations)
  into generic records and seeds them into a store in one transaction.
  Operations staff import catalogs through POST /api/catalog; the demo
  scenarios build theirs in Go and go through the same path.

JSON SCHEMA:
  {
    "teachers": [{"id": 10, "name": "Anna", "location": "VN"}],
    "students": [{"id": 20, "name": "Linh"}],
    "courses": [
      {"id": 30, "name": "General English",
       "units": [{"id": 31, "name": "Unit 1"},
                 {"id": 32, "name": "IELTS mock", "test_topic_id": "ielts-speaking-1"}]}
    ],
    "packages": [
      {"id": 50, "student_id": 20, "name": "Standard 24", "original_number_class": 24,
       "activation_date": "2025-03-01", "day_of_use": 180}
    ],
    "slots": [{"teacher_id": 10, "start": "2025-03-10 19:00"}],
    "regular_slots": [
      {"student_id": 20, "teacher_id": 10, "course_id": 30, "unit_id": 31,
       "package_id": 50, "weekday": "wed", "time": "19:00"}
    ],
    "leaves": [{"student_id": 20, "start": "2025-03-12 00:00", "end": "2025-03-13 00:00",
                "status": "APPROVED", "reason": "exam"}]
  }

  Times are wall-clock in generic.LocalZone. Omitted is_active means true.
  An empty activation_date stores an unactivated package.

SEE ALSO:
  - api/scenarios.go: Demo catalogs
  - generic/model.go: Record types
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/warp/lesson-booking/generic"
)

const (
	TimeLayout = "2006-01-02 15:04"
	DateLayout = "2006-01-02"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

type CatalogJSON struct {
	Teachers     []TeacherJSON     `json:"teachers,omitempty"`
	Students     []StudentJSON     `json:"students,omitempty"`
	Courses      []CourseJSON      `json:"courses,omitempty"`
	Packages     []PackageJSON     `json:"packages,omitempty"`
	Slots        []SlotJSON        `json:"slots,omitempty"`
	RegularSlots []RegularSlotJSON `json:"regular_slots,omitempty"`
	Leaves       []LeaveJSON       `json:"leaves,omitempty"`
	Reservations []LeaveJSON       `json:"reservations,omitempty"`
}

type TeacherJSON struct {
	ID                  int64  `json:"id"`
	Name                string `json:"name"`
	Email               string `json:"email,omitempty"`
	Location            string `json:"location,omitempty"`
	IsActive            *bool  `json:"is_active,omitempty"`
	MinLeadMinutes      int    `json:"min_lead_minutes,omitempty"`
	CancelWindowMinutes int    `json:"cancel_window_minutes,omitempty"`
}

type StudentJSON struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	IsActive *bool  `json:"is_active,omitempty"`
}

type CourseJSON struct {
	ID       int64      `json:"id"`
	Name     string     `json:"name"`
	IsActive *bool      `json:"is_active,omitempty"`
	Units    []UnitJSON `json:"units,omitempty"`
}

type UnitJSON struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	IsActive    *bool  `json:"is_active,omitempty"`
	TestTopicID string `json:"test_topic_id,omitempty"`
}

type PackageJSON struct {
	ID                  int64  `json:"id"`
	StudentID           int64  `json:"student_id"`
	Name                string `json:"name"`
	Type                string `json:"type,omitempty"`               // STANDARD, TRIAL
	LearningFrequency   string `json:"learning_frequency,omitempty"` // NORMAL, DAILY
	OriginalNumberClass int    `json:"original_number_class"`
	NumberClass         *int   `json:"number_class,omitempty"` // remaining; defaults to original
	PaidNumberClass     int    `json:"paid_number_class,omitempty"`
	ActivationDate      string `json:"activation_date,omitempty"`
	DayOfUse            int    `json:"day_of_use,omitempty"`
}

type SlotJSON struct {
	TeacherID int64  `json:"teacher_id"`
	Start     string `json:"start"`
}

type RegularSlotJSON struct {
	StudentID int64  `json:"student_id"`
	TeacherID int64  `json:"teacher_id"`
	CourseID  int64  `json:"course_id"`
	UnitID    int64  `json:"unit_id"`
	PackageID int64  `json:"package_id"`
	Weekday   string `json:"weekday"` // mon..sun
	Time      string `json:"time"`    // HH:MM
	IsActive  *bool  `json:"is_active,omitempty"`
}

type LeaveJSON struct {
	StudentID int64  `json:"student_id"`
	Start     string `json:"start"`
	End       string `json:"end"`
	Status    string `json:"status,omitempty"` // defaults to APPROVED
	Reason    string `json:"reason,omitempty"`
}

// =============================================================================
// CATALOG
// =============================================================================

// Catalog holds converted records ready to seed.
type Catalog struct {
	Teachers     []generic.Teacher
	Students     []generic.Student
	Courses      []generic.Course
	Units        []generic.Unit
	Packages     []generic.OrderedPackage
	Slots        []generic.CalendarSlot
	RegularSlots []generic.RegularSlot
	Leaves       []generic.StudentLeave
	Reservations []generic.Reservation
}

// CatalogFactory converts JSON catalogs to Go records.
type CatalogFactory struct {
	loc *time.Location
}

func NewCatalogFactory() *CatalogFactory {
	return &CatalogFactory{loc: generic.LocalZone}
}

// ParseCatalog parses a JSON document into a Catalog.
func (f *CatalogFactory) ParseCatalog(data []byte) (*Catalog, error) {
	var cj CatalogJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return nil, generic.Invalid("catalog_json", "failed to parse catalog JSON: %v", err)
	}
	return f.FromJSON(cj)
}

// FromJSON validates cj and converts it.
func (f *CatalogFactory) FromJSON(cj CatalogJSON) (*Catalog, error) {
	c := &Catalog{}

	for _, tj := range cj.Teachers {
		if tj.ID <= 0 {
			return nil, generic.Invalid("catalog_teacher", "teacher %q needs a positive id", tj.Name)
		}
		c.Teachers = append(c.Teachers, generic.Teacher{
			ID:                  generic.TeacherID(tj.ID),
			Name:                tj.Name,
			Email:               tj.Email,
			Location:            tj.Location,
			IsActive:            active(tj.IsActive),
			MinLeadMinutes:      tj.MinLeadMinutes,
			CancelWindowMinutes: tj.CancelWindowMinutes,
		})
	}

	for _, sj := range cj.Students {
		if sj.ID <= 0 {
			return nil, generic.Invalid("catalog_student", "student %q needs a positive id", sj.Name)
		}
		c.Students = append(c.Students, generic.Student{
			ID:       generic.StudentID(sj.ID),
			Name:     sj.Name,
			Email:    sj.Email,
			IsActive: active(sj.IsActive),
		})
	}

	for _, coj := range cj.Courses {
		if coj.ID <= 0 {
			return nil, generic.Invalid("catalog_course", "course %q needs a positive id", coj.Name)
		}
		c.Courses = append(c.Courses, generic.Course{
			ID:       generic.CourseID(coj.ID),
			Name:     coj.Name,
			IsActive: active(coj.IsActive),
		})
		for _, uj := range coj.Units {
			if uj.ID <= 0 {
				return nil, generic.Invalid("catalog_unit", "unit %q needs a positive id", uj.Name)
			}
			c.Units = append(c.Units, generic.Unit{
				ID:          generic.UnitID(uj.ID),
				CourseID:    generic.CourseID(coj.ID),
				Name:        uj.Name,
				IsActive:    active(uj.IsActive),
				TestTopicID: uj.TestTopicID,
			})
		}
	}

	for _, pj := range cj.Packages {
		p, err := f.parsePackage(pj)
		if err != nil {
			return nil, err
		}
		c.Packages = append(c.Packages, p)
	}

	for _, sj := range cj.Slots {
		start, err := f.parseTime(sj.Start)
		if err != nil {
			return nil, err
		}
		if !generic.IsSlotAligned(start) {
			return nil, generic.Invalid("catalog_slot", "slot %s is not on a 30-minute boundary", sj.Start)
		}
		c.Slots = append(c.Slots, generic.CalendarSlot{
			TeacherID: generic.TeacherID(sj.TeacherID),
			StartTime: start,
			EndTime:   start + generic.SlotMs,
			IsActive:  true,
		})
	}

	for _, rj := range cj.RegularSlots {
		offset, err := parseWeekOffset(rj.Weekday, rj.Time)
		if err != nil {
			return nil, err
		}
		c.RegularSlots = append(c.RegularSlots, generic.RegularSlot{
			StudentID:        generic.StudentID(rj.StudentID),
			TeacherID:        generic.TeacherID(rj.TeacherID),
			CourseID:         generic.CourseID(rj.CourseID),
			UnitID:           generic.UnitID(rj.UnitID),
			OrderedPackageID: generic.PackageID(rj.PackageID),
			WeekOffset:       offset,
			IsActive:         active(rj.IsActive),
		})
	}

	for _, lj := range cj.Leaves {
		start, end, status, err := f.parseLeave(lj)
		if err != nil {
			return nil, err
		}
		c.Leaves = append(c.Leaves, generic.StudentLeave{
			StudentID: generic.StudentID(lj.StudentID),
			StartTime: start,
			EndTime:   end,
			Status:    status,
			Reason:    lj.Reason,
		})
	}

	for _, lj := range cj.Reservations {
		start, end, status, err := f.parseLeave(lj)
		if err != nil {
			return nil, err
		}
		c.Reservations = append(c.Reservations, generic.Reservation{
			StudentID: generic.StudentID(lj.StudentID),
			StartTime: start,
			EndTime:   end,
			Status:    status,
		})
	}

	return c, nil
}

// Seed writes the catalog in one transaction. now stamps leave creation.
func (c *Catalog) Seed(ctx context.Context, store generic.TxStore, now int64) error {
	return store.WithTx(ctx, func(tx generic.Store) error {
		for _, t := range c.Teachers {
			if err := tx.SaveTeacher(ctx, t); err != nil {
				return err
			}
		}
		for _, s := range c.Students {
			if err := tx.SaveStudent(ctx, s); err != nil {
				return err
			}
		}
		for _, co := range c.Courses {
			if err := tx.SaveCourse(ctx, co); err != nil {
				return err
			}
		}
		for _, u := range c.Units {
			if err := tx.SaveUnit(ctx, u); err != nil {
				return err
			}
		}
		for _, p := range c.Packages {
			if err := tx.SavePackage(ctx, p); err != nil {
				return err
			}
		}
		for _, s := range c.Slots {
			if _, err := tx.CreateSlot(ctx, s); err != nil {
				return fmt.Errorf("slot teacher %d at %d: %w", s.TeacherID, s.StartTime, err)
			}
		}
		for _, r := range c.RegularSlots {
			if _, err := tx.SaveRegularSlot(ctx, r); err != nil {
				return err
			}
		}
		for _, l := range c.Leaves {
			l.CreatedAt = now
			if _, err := tx.SaveStudentLeave(ctx, l); err != nil {
				return err
			}
		}
		for _, r := range c.Reservations {
			r.CreatedAt = now
			if _, err := tx.SaveReservation(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func active(v *bool) bool {
	return v == nil || *v
}

func (f *CatalogFactory) parseTime(s string) (int64, error) {
	t, err := time.ParseInLocation(TimeLayout, s, f.loc)
	if err != nil {
		return 0, generic.Invalid("catalog_time", "time %q: want %q", s, TimeLayout)
	}
	return generic.Ms(t), nil
}

func (f *CatalogFactory) parsePackage(pj PackageJSON) (generic.OrderedPackage, error) {
	if pj.ID <= 0 || pj.StudentID <= 0 {
		return generic.OrderedPackage{}, generic.Invalid("catalog_package", "package %q needs id and student_id", pj.Name)
	}
	if pj.OriginalNumberClass < 0 {
		return generic.OrderedPackage{}, generic.Invalid("catalog_package", "package %d: negative original_number_class", pj.ID)
	}

	p := generic.OrderedPackage{
		ID:                  generic.PackageID(pj.ID),
		StudentID:           generic.StudentID(pj.StudentID),
		Name:                pj.Name,
		Type:                generic.PackageStandard,
		LearningFrequency:   generic.FrequencyNormal,
		OriginalNumberClass: pj.OriginalNumberClass,
		NumberClass:         pj.OriginalNumberClass,
		PaidNumberClass:     pj.PaidNumberClass,
		DayOfUse:            pj.DayOfUse,
	}
	if pj.NumberClass != nil {
		p.NumberClass = *pj.NumberClass
	}
	if p.NumberClass < 0 || p.NumberClass > p.OriginalNumberClass {
		return p, generic.Invalid("catalog_package", "package %d: number_class %d outside 0..%d", pj.ID, p.NumberClass, p.OriginalNumberClass)
	}
	if p.DayOfUse == 0 {
		p.DayOfUse = 90
	}

	switch strings.ToUpper(pj.Type) {
	case "", string(generic.PackageStandard):
	case string(generic.PackageTrial):
		p.Type = generic.PackageTrial
	default:
		return p, generic.Invalid("catalog_package", "package %d: unknown type %q", pj.ID, pj.Type)
	}

	switch strings.ToUpper(pj.LearningFrequency) {
	case "", string(generic.FrequencyNormal):
	case string(generic.FrequencyDaily):
		p.LearningFrequency = generic.FrequencyDaily
	default:
		return p, generic.Invalid("catalog_package", "package %d: unknown learning_frequency %q", pj.ID, pj.LearningFrequency)
	}

	if pj.ActivationDate != "" {
		t, err := time.ParseInLocation(DateLayout, pj.ActivationDate, f.loc)
		if err != nil {
			return p, generic.Invalid("catalog_package", "package %d: activation_date %q: want %q", pj.ID, pj.ActivationDate, DateLayout)
		}
		p.ActivationDate = generic.Ms(t)
	}
	return p, nil
}

var weekdays = map[string]int64{
	"mon": 0, "tue": 1, "wed": 2, "thu": 3, "fri": 4, "sat": 5, "sun": 6,
}

// parseWeekOffset returns ms since Monday 00:00 for a weekday and HH:MM.
func parseWeekOffset(weekday, hhmm string) (int64, error) {
	day, ok := weekdays[strings.ToLower(weekday)]
	if !ok {
		return 0, generic.Invalid("catalog_regular_slot", "weekday %q: want mon..sun", weekday)
	}
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, generic.Invalid("catalog_regular_slot", "time %q: want HH:MM", hhmm)
	}
	if t.Minute()%30 != 0 {
		return 0, generic.Invalid("catalog_regular_slot", "time %q is not on a 30-minute boundary", hhmm)
	}
	return day*generic.DayMs + int64(t.Hour())*generic.HourMs + int64(t.Minute())*generic.MinuteMs, nil
}

func (f *CatalogFactory) parseLeave(lj LeaveJSON) (int64, int64, generic.LeaveStatus, error) {
	start, err := f.parseTime(lj.Start)
	if err != nil {
		return 0, 0, "", err
	}
	end, err := f.parseTime(lj.End)
	if err != nil {
		return 0, 0, "", err
	}
	if end <= start {
		return 0, 0, "", generic.Invalid("catalog_leave", "leave %s..%s: end must be after start", lj.Start, lj.End)
	}

	status := generic.LeaveApproved
	switch generic.LeaveStatus(strings.ToUpper(lj.Status)) {
	case "", generic.LeaveApproved:
	case generic.LeavePending:
		status = generic.LeavePending
	case generic.LeaveRejected:
		status = generic.LeaveRejected
	case generic.LeavePaid:
		status = generic.LeavePaid
	default:
		return 0, 0, "", generic.Invalid("catalog_leave", "unknown leave status %q", lj.Status)
	}
	return start, end, status, nil
}

// FormatLocal renders ms in TimeLayout for building catalogs in Go.
func FormatLocal(ms int64) string {
	return time.UnixMilli(ms).In(generic.LocalZone).Format(TimeLayout)
}

// FormatDate renders ms in DateLayout.
func FormatDate(ms int64) string {
	return time.UnixMilli(ms).In(generic.LocalZone).Format(DateLayout)
}
