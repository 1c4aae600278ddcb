/*
Package generic provides the core types of the lesson booking engine.

PURPOSE:
  This package contains the vocabulary shared by every other package:
  identifiers, quantities, actors, the booking and trial status enums with
  their transition table, persistence interfaces and the entitlement ledger.
  It has no knowledge of HTTP, SQL dialects or scheduling jobs.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A quantity with a unit (e.g., 1 lesson, 0.5 hours)
  - Actor: Who is performing an operation (student, teacher, staff, system)
  - Typed IDs: Prevent passing a teacher id where a student id is expected

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal for fractional quantities (taught hours)
  2. Type Safety: Strong typing for IDs
  3. Auditability: Every write records the actor that caused it

SEE ALSO:
  - model.go: Booking, TrialBooking, OrderedPackage and supporting records
  - status.go: Status enums and the explicit transition table
  - ledger.go: Entitlement ledger
*/
package generic

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity with unit
// =============================================================================

type Amount struct {
	Value   decimal.Decimal
	Measure Measure
}

// Measure is the unit of an Amount.
type Measure string

const (
	MeasureLessons Measure = "lessons"
	MeasureHours   Measure = "hours"
	MeasureMinutes Measure = "minutes"
)

func NewAmount(value float64, m Measure) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Measure: m}
}

func NewAmountFromInt(value int, m Measure) Amount {
	return Amount{Value: decimal.NewFromInt(int64(value)), Measure: m}
}

// HoursBetween converts a millisecond interval to hours.
func HoursBetween(startMs, endMs int64) Amount {
	minutes := decimal.NewFromInt((endMs - startMs) / 60000)
	return Amount{Value: minutes.Div(decimal.NewFromInt(60)), Measure: MeasureHours}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (a Amount) Zero() Amount              { return Amount{Value: decimal.Zero, Measure: a.Measure} }
func (a Amount) Add(b Amount) Amount       { return Amount{Value: a.Value.Add(b.Value), Measure: a.Measure} }
func (a Amount) Sub(b Amount) Amount       { return Amount{Value: a.Value.Sub(b.Value), Measure: a.Measure} }
func (a Amount) Neg() Amount               { return Amount{Value: a.Value.Neg(), Measure: a.Measure} }
func (a Amount) IsNegative() bool          { return a.Value.IsNegative() }
func (a Amount) IsZero() bool              { return a.Value.IsZero() }
func (a Amount) GreaterThan(b Amount) bool { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool    { return a.Value.LessThan(b.Value) }
func (a Amount) String() string            { return a.Value.String() + " " + string(a.Measure) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type BookingID int64
type StudentID int64
type TeacherID int64
type CourseID int64
type UnitID int64
type PackageID int64
type CalendarID int64

func (id BookingID) String() string { return strconv.FormatInt(int64(id), 10) }
func (id TeacherID) String() string { return strconv.FormatInt(int64(id), 10) }
func (id StudentID) String() string { return strconv.FormatInt(int64(id), 10) }

// =============================================================================
// ACTOR - Who performs an operation
// =============================================================================

type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
	RoleCSKH    Role = "cskh" // customer care staff
	RoleTNG     Role = "tng"  // teaching quality staff
	RoleSystem  Role = "system"
)

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleStudent, RoleTeacher, RoleAdmin, RoleCSKH, RoleTNG, RoleSystem:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Actor identifies the caller of an operation.
// ID is the student id for students, the teacher id for teachers and the
// staff account id otherwise.
type Actor struct {
	ID        int64
	Role      Role
	IsManager bool
}

// SystemActor is used by scheduled jobs.
var SystemActor = Actor{Role: RoleSystem}

// IsStaff reports whether the actor belongs to the operations team.
func (a Actor) IsStaff() bool {
	return a.Role == RoleAdmin || a.Role == RoleCSKH || a.Role == RoleTNG
}

// IsRestrictedStaff reports whether cancel-window rules apply to the actor.
func (a Actor) IsRestrictedStaff() bool {
	return (a.Role == RoleCSKH || a.Role == RoleTNG) && !a.IsManager
}

// IsTeacher reports whether the actor is the given teacher.
func (a Actor) IsTeacher(id TeacherID) bool {
	return a.Role == RoleTeacher && TeacherID(a.ID) == id
}

// IsStudent reports whether the actor is the given student.
func (a Actor) IsStudent(id StudentID) bool {
	return a.Role == RoleStudent && StudentID(a.ID) == id
}

func (a Actor) String() string {
	return fmt.Sprintf("%s:%d", a.Role, a.ID)
}
