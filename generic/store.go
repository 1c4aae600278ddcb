/*
store.go - Persistence interfaces for bookings, catalog and entitlement data

PURPOSE:
  Defines the boundary between the domain logic and the database. Domain
  packages depend only on these interfaces; store/sqlstore implements them
  for SQLite and PostgreSQL.

KEY INTERFACES:
  CatalogStore: Teachers, students, courses, units, regular slots
  SlotProvider: Calendar slots (find or lazily create)
  PackageStore: Ordered packages and their append-only ledger entries
  LeaveStore:   Student leaves, reservations, teacher absences
  BookingStore: Bookings, trial bookings, status history
  StatsStore:   Teacher counters and capped daily counters
  TxStore:      All of the above plus WithTx for atomic multi-table writes

LOOKUPS:
  Get* methods return (nil, nil) when the record does not exist. Callers
  decide which error kind a missing record maps to.

OPTIMISTIC CONCURRENCY:
  UpdateBooking, CompareAndSwapNumberClass and CompareAndSwapTeacherStats
  only succeed when the stored version equals the expected one. Otherwise
  they return ErrConcurrentModification and change nothing.

UNIQUENESS:
  InsertBooking and UpdateBooking return ErrSlotTaken when the write would
  leave two live bookings on the same (teacher, start) or (student, start).
  AppendLedgerEntry returns ErrDuplicateIdempotencyKey on a replayed key.

SEE ALSO:
  - ledger.go: Entitlement ledger on top of PackageStore
  - store/sqlstore: SQL implementation
*/
package generic

import "context"

// =============================================================================
// CATALOG
// =============================================================================

type CatalogStore interface {
	GetTeacher(ctx context.Context, id TeacherID) (*Teacher, error)
	SaveTeacher(ctx context.Context, t Teacher) error
	GetStudent(ctx context.Context, id StudentID) (*Student, error)
	SaveStudent(ctx context.Context, s Student) error
	GetCourse(ctx context.Context, id CourseID) (*Course, error)
	SaveCourse(ctx context.Context, c Course) error
	GetUnit(ctx context.Context, id UnitID) (*Unit, error)
	SaveUnit(ctx context.Context, u Unit) error

	SaveRegularSlot(ctx context.Context, r RegularSlot) (int64, error)
	ListRegularSlots(ctx context.Context, studentID StudentID) ([]RegularSlot, error)
	ListActiveRegularSlots(ctx context.Context) ([]RegularSlot, error)
}

// SlotProvider exposes teacher calendar slots.
type SlotProvider interface {
	GetSlot(ctx context.Context, id CalendarID) (*CalendarSlot, error)
	FindSlot(ctx context.Context, teacherID TeacherID, startTime int64) (*CalendarSlot, error)
	CreateSlot(ctx context.Context, slot CalendarSlot) (CalendarSlot, error)
}

// =============================================================================
// ENTITLEMENT
// =============================================================================

type PackageStore interface {
	GetPackage(ctx context.Context, id PackageID) (*OrderedPackage, error)
	SavePackage(ctx context.Context, p OrderedPackage) error

	// CompareAndSwapNumberClass sets number_class and bumps the version when
	// the stored version equals expectedVersion.
	CompareAndSwapNumberClass(ctx context.Context, id PackageID, expectedVersion int64, numberClass int) error

	AppendLedgerEntry(ctx context.Context, e LedgerEntry) error
	LedgerEntryExists(ctx context.Context, idempotencyKey string) (bool, error)
	ListLedgerEntries(ctx context.Context, id PackageID) ([]LedgerEntry, error)
}

// =============================================================================
// LEAVES
// =============================================================================

type LeaveStore interface {
	SaveStudentLeave(ctx context.Context, l StudentLeave) (int64, error)
	// FindStudentLeaves returns leaves of the student covering at with one of statuses.
	FindStudentLeaves(ctx context.Context, studentID StudentID, at int64, statuses ...LeaveStatus) ([]StudentLeave, error)
	ListUnprocessedLeaves(ctx context.Context, status LeaveStatus) ([]StudentLeave, error)
	MarkLeaveProcessed(ctx context.Context, id int64) error

	SaveReservation(ctx context.Context, r Reservation) (int64, error)
	FindReservations(ctx context.Context, studentID StudentID, at int64, statuses ...LeaveStatus) ([]Reservation, error)

	FindTeacherAbsence(ctx context.Context, teacherID TeacherID, at int64) (*TeacherAbsence, error)
	CreateTeacherAbsence(ctx context.Context, a TeacherAbsence) (int64, error)
}

// =============================================================================
// BOOKINGS
// =============================================================================

// BookingFilter narrows ListBookings. Zero values are ignored.
// From/To bound the slot start time as [From, To).
type BookingFilter struct {
	StudentID  StudentID
	TeacherID  TeacherID
	PackageID  PackageID
	CalendarID CalendarID
	Statuses   []Status
	From       int64
	To         int64
	BestMemo   *bool
	Limit      int
	Offset     int
}

type BookingStore interface {
	// InsertBooking assigns b.ID and b.Version.
	InsertBooking(ctx context.Context, b *Booking) error
	// UpdateBooking writes b when the stored version equals b.Version, then
	// increments b.Version.
	UpdateBooking(ctx context.Context, b *Booking) error
	GetBooking(ctx context.Context, id BookingID) (*Booking, error)
	ListBookings(ctx context.Context, f BookingFilter) ([]Booking, error)

	// LatestBookingOnCalendar returns the most recent booking on the slot,
	// restricted to one student when studentID is non-zero.
	LatestBookingOnCalendar(ctx context.Context, calendarID CalendarID, studentID StudentID) (*Booking, error)

	InsertTrialBooking(ctx context.Context, t *TrialBooking) error
	UpdateTrialBooking(ctx context.Context, t TrialBooking) error
	GetTrialBooking(ctx context.Context, bookingID BookingID) (*TrialBooking, error)

	AppendStatusEvent(ctx context.Context, e StatusEvent) error
	ListStatusEvents(ctx context.Context, bookingID BookingID) ([]StatusEvent, error)
}

// =============================================================================
// COUNTERS
// =============================================================================

type StatsStore interface {
	// GetTeacherStats returns zeroed stats (Version 0) for unknown teachers.
	GetTeacherStats(ctx context.Context, id TeacherID) (TeacherStats, error)
	CompareAndSwapTeacherStats(ctx context.Context, s TeacherStats) error

	// IncrementDailyCounter adds one unless the counter already reached limit,
	// in which case it returns ErrQuotaReached.
	IncrementDailyCounter(ctx context.Context, name, day string, limit int) error
	DecrementDailyCounter(ctx context.Context, name, day string) error
	GetDailyCounter(ctx context.Context, name, day string) (int, error)
}

// =============================================================================
// COMPOSITE
// =============================================================================

type Store interface {
	CatalogStore
	SlotProvider
	PackageStore
	LeaveStore
	BookingStore
	StatsStore
}

// TxStore runs fn inside a single database transaction. The Store passed to
// fn must be used for every read and write that belongs to the transaction.
// A nested WithTx call on that Store joins the outer transaction.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}
