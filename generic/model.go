/*
model.go - Persisted records of the booking engine

PURPOSE:
  Plain data types shared by the store implementations, the resolver and
  the state machine. No behavior beyond small derived predicates.

SNAPSHOTS:
  A Booking embeds copies of the calendar slot, student, teacher, course,
  unit and package as they were when the booking was created. Each snapshot
  records AsOf. They are never refreshed from the live records; code that
  needs current values (package credit, teacher activity) re-reads the live
  record through the store.

TIMESTAMPS:
  All instants are epoch milliseconds. Zero means "not set". StartedAt,
  FinishedAt and ReportedAbsenceAt are written at most once.
*/
package generic

// =============================================================================
// CATALOG RECORDS
// =============================================================================

type Teacher struct {
	ID       TeacherID
	Name     string
	Email    string
	Location string
	IsActive bool

	// Per-teacher rule overrides; zero means "use the configured default".
	MinLeadMinutes      int
	CancelWindowMinutes int
}

type Student struct {
	ID       StudentID
	Name     string
	Email    string
	IsActive bool
}

// RegularSlot is a student's weekly recurring lesson.
// WeekOffset is ms since Monday 00:00 local time.
type RegularSlot struct {
	ID               int64
	StudentID        StudentID
	TeacherID        TeacherID
	CourseID         CourseID
	UnitID           UnitID
	OrderedPackageID PackageID
	WeekOffset       int64
	IsActive         bool
}

type Course struct {
	ID       CourseID
	Name     string
	IsActive bool
}

type Unit struct {
	ID       UnitID
	CourseID CourseID
	Name     string
	IsActive bool

	// TestTopicID links IELTS units to a test-session topic; empty otherwise.
	TestTopicID string
}

// CalendarSlot is one 30-minute teaching slot.
type CalendarSlot struct {
	ID        CalendarID
	TeacherID TeacherID
	StartTime int64
	EndTime   int64
	IsActive  bool
}

// =============================================================================
// ENTITLEMENT
// =============================================================================

type PackageType string

const (
	PackageStandard PackageType = "STANDARD"
	PackageTrial    PackageType = "TRIAL"
)

type LearningFrequency string

const (
	FrequencyNormal LearningFrequency = "NORMAL"
	FrequencyDaily  LearningFrequency = "DAILY"
)

// OrderedPackage is a purchased bundle of lessons.
type OrderedPackage struct {
	ID                  PackageID
	StudentID           StudentID
	Name                string
	Type                PackageType
	LearningFrequency   LearningFrequency
	NumberClass         int
	PaidNumberClass     int
	OriginalNumberClass int
	ActivationDate      int64 // 0 = not activated
	DayOfUse            int
	Version             int64
}

// IsActivated reports whether the package has an activation date.
func (p OrderedPackage) IsActivated() bool { return p.ActivationDate > 0 }

// IsExpired reports whether the usage window has closed at nowMs.
func (p OrderedPackage) IsExpired(nowMs int64) bool {
	return p.IsActivated() && p.ActivationDate+int64(p.DayOfUse)*DayMs < nowMs
}

// IsPartialPaymentBlocked reports whether a partially paid package has used
// up every paid lesson.
func (p OrderedPackage) IsPartialPaymentBlocked() bool {
	return p.PaidNumberClass > 0 && p.NumberClass+p.PaidNumberClass <= p.OriginalNumberClass
}

// LedgerDirection says whether an entry consumes or returns a lesson.
type LedgerDirection string

const (
	LedgerDebit  LedgerDirection = "debit"
	LedgerCredit LedgerDirection = "credit"
)

// LedgerEntry records one change of OrderedPackage.NumberClass.
type LedgerEntry struct {
	ID             string
	PackageID      PackageID
	BookingID      BookingID
	Direction      LedgerDirection
	Delta          int
	BalanceAfter   int
	Reason         string
	IdempotencyKey string
	ActorID        int64
	ActorRole      Role
	CreatedAt      int64
}

// =============================================================================
// LEAVE AND RESERVATION
// =============================================================================

type LeaveStatus string

const (
	LeavePending  LeaveStatus = "PENDING"
	LeaveApproved LeaveStatus = "APPROVED"
	LeaveRejected LeaveStatus = "REJECTED"
	LeavePaid     LeaveStatus = "PAID"
)

// StudentLeave is a student's request to skip lessons over [StartTime, EndTime).
// Processed is set once the absent-period batch has run for it.
type StudentLeave struct {
	ID        int64
	StudentID StudentID
	StartTime int64
	EndTime   int64
	Status    LeaveStatus
	Reason    string
	Processed bool
	CreatedAt int64
}

// Reservation is a leave-of-study (study pause) over [StartTime, EndTime).
type Reservation struct {
	ID        int64
	StudentID StudentID
	StartTime int64
	EndTime   int64
	Status    LeaveStatus
	CreatedAt int64
}

// TeacherAbsence is a teacher's leave record covering [StartTime, EndTime).
type TeacherAbsence struct {
	ID        int64
	TeacherID TeacherID
	StartTime int64
	EndTime   int64
	BookingID BookingID
	Reason    string
	Auto      bool
	CreatedAt int64
}

func covers(start, end, at int64) bool { return start <= at && at < end }

func (l StudentLeave) Covers(at int64) bool   { return covers(l.StartTime, l.EndTime, at) }
func (r Reservation) Covers(at int64) bool    { return covers(r.StartTime, r.EndTime, at) }
func (a TeacherAbsence) Covers(at int64) bool { return covers(a.StartTime, a.EndTime, at) }

// =============================================================================
// BOOKING
// =============================================================================

type Source string

const (
	SourceStudent Source = "student"
	SourceAdmin   Source = "admin"
	SourceCronjob Source = "cronjob"
)

type CalendarSnapshot struct {
	ID        CalendarID `json:"id"`
	StartTime int64      `json:"start_time"`
	EndTime   int64      `json:"end_time"`
	AsOf      int64      `json:"as_of"`
}

type PersonSnapshot struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	AsOf  int64  `json:"as_of"`
}

type CourseSnapshot struct {
	ID   CourseID `json:"id"`
	Name string   `json:"name"`
	AsOf int64    `json:"as_of"`
}

type UnitSnapshot struct {
	ID          UnitID `json:"id"`
	Name        string `json:"name"`
	TestTopicID string `json:"test_topic_id,omitempty"`
	AsOf        int64  `json:"as_of"`
}

type PackageSnapshot struct {
	ID                  PackageID         `json:"id"`
	Name                string            `json:"name"`
	Type                PackageType       `json:"type"`
	LearningFrequency   LearningFrequency `json:"learning_frequency"`
	OriginalNumberClass int               `json:"original_number_class"`
	AsOf                int64             `json:"as_of"`
}

// MemoNote is a scored feedback field.
type MemoNote struct {
	Keyword string `json:"keyword"`
	Point   int    `json:"point"`
	Comment string `json:"comment,omitempty"`
}

// MemoOther is a free-text feedback field.
type MemoOther struct {
	Keyword string `json:"keyword"`
	Comment string `json:"comment"`
}

type Memo struct {
	Notes                []MemoNote  `json:"note"`
	Others               []MemoOther `json:"other,omitempty"`
	StudentStartingLevel string      `json:"student_starting_level,omitempty"`
	CreatedTime          int64       `json:"created_time"`
}

type Booking struct {
	ID               BookingID
	UID              string
	StudentID        StudentID
	TeacherID        TeacherID
	CourseID         CourseID
	UnitID           UnitID
	OrderedPackageID PackageID
	CalendarID       CalendarID
	Status           Status

	Calendar       CalendarSnapshot
	Student        PersonSnapshot
	Teacher        PersonSnapshot
	Course         CourseSnapshot
	Unit           UnitSnapshot
	OrderedPackage PackageSnapshot

	Memo            *Memo
	MemoSubmittedAt int64
	LateMemo        bool
	BestMemo        bool

	SubstituteForTeacherID TeacherID
	ChangedFromID          BookingID
	ReplacedByID           BookingID

	ReportedAbsenceAt int64
	AbsenceReport     string
	StartedAt         int64
	FinishedAt        int64

	Reason           string
	Source           Source
	IsRegularBooking bool
	JoinURL          string
	CreatedBy        int64
	CreatedAt        int64
	UpdatedAt        int64
	Version          int64
}

// IsTrial reports whether the booking was made on a trial package.
func (b Booking) IsTrial() bool { return b.OrderedPackage.Type == PackageTrial }

// SlotStart and SlotEnd read the calendar snapshot.
func (b Booking) SlotStart() int64 { return b.Calendar.StartTime }
func (b Booking) SlotEnd() int64   { return b.Calendar.EndTime }

// TrialBooking mirrors a trial-package booking.
type TrialBooking struct {
	ID                       int64
	BookingID                BookingID
	Status                   TrialStatus
	Memo                     *Memo
	RecommendationLetterLink string
	CreatedAt                int64
	UpdatedAt                int64
}

// IsMemoLocked reports whether the recommendation letter has been issued.
func (t TrialBooking) IsMemoLocked() bool { return t.RecommendationLetterLink != "" }

// =============================================================================
// HISTORY AND COUNTERS
// =============================================================================

// StatusEvent is the audit record written with every committed transition.
type StatusEvent struct {
	ID        int64
	BookingID BookingID
	From      Status // 0 on creation
	To        Status
	ActorID   int64
	ActorRole Role
	Reason    string
	CreatedAt int64
}

// TeacherStats are the teacher's lesson counters.
type TeacherStats struct {
	TeacherID        TeacherID
	CompletedLessons int
	TaughtHours      Amount
	Version          int64
	UpdatedAt        int64
}
