/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures of the booking API. Statuses travel as
  names ("CONFIRMED"), times as epoch milliseconds.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

SEE ALSO:
  - handlers.go: Uses these types
  - factory/catalog.go: CatalogJSON, accepted by POST /api/catalog
*/
package api

import (
	"github.com/warp/lesson-booking/booking"
	"github.com/warp/lesson-booking/generic"
)

// =============================================================================
// REQUESTS
// =============================================================================

type CreateBookingRequest struct {
	StudentID              int64  `json:"student_id"`
	TeacherID              int64  `json:"teacher_id"`
	CalendarID             int64  `json:"calendar_id,omitempty"`
	StartTime              int64  `json:"start_time"`
	EndTime                int64  `json:"end_time"`
	CourseID               int64  `json:"course_id"`
	UnitID                 int64  `json:"unit_id"`
	PackageID              int64  `json:"package_id"`
	IsRegularBooking       bool   `json:"is_regular_booking,omitempty"`
	Source                 string `json:"source,omitempty"`
	Status                 string `json:"status,omitempty"`
	SubstituteForTeacherID int64  `json:"substitute_for_teacher_id,omitempty"`
}

type ChangeStatusRequest struct {
	Status         string `json:"status"`
	Reason         string `json:"reason,omitempty"`
	ExpectedStatus string `json:"expected_status,omitempty"`
}

type ChangeTimeRequest struct {
	TeacherID  int64  `json:"teacher_id,omitempty"`
	CalendarID int64  `json:"calendar_id,omitempty"`
	StartTime  int64  `json:"start_time"`
	EndTime    int64  `json:"end_time"`
	Reason     string `json:"reason,omitempty"`
}

type MemoRequest struct {
	Memo generic.Memo `json:"memo"`
}

type BestMemoRequest struct {
	Best bool `json:"best"`
}

type UnitRequest struct {
	UnitID int64 `json:"unit_id"`
}

type RecommendationRequest struct {
	Link string `json:"link"`
}

type AbsentPeriodRequest struct {
	StudentID int64  `json:"student_id"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
	Reason    string `json:"reason,omitempty"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type BookingDTO struct {
	ID               int64  `json:"id"`
	UID              string `json:"uid"`
	Status           string `json:"status"`
	StudentID        int64  `json:"student_id"`
	TeacherID        int64  `json:"teacher_id"`
	CourseID         int64  `json:"course_id"`
	UnitID           int64  `json:"unit_id"`
	OrderedPackageID int64  `json:"ordered_package_id"`
	CalendarID       int64  `json:"calendar_id"`
	IsTrial          bool   `json:"is_trial"`

	Calendar       generic.CalendarSnapshot `json:"calendar"`
	Student        generic.PersonSnapshot   `json:"student"`
	Teacher        generic.PersonSnapshot   `json:"teacher"`
	Course         generic.CourseSnapshot   `json:"course"`
	Unit           generic.UnitSnapshot     `json:"unit"`
	OrderedPackage generic.PackageSnapshot  `json:"ordered_package"`

	Memo            *generic.Memo `json:"memo,omitempty"`
	MemoSubmittedAt int64         `json:"memo_submitted_at,omitempty"`
	LateMemo        bool          `json:"late_memo"`
	BestMemo        bool          `json:"best_memo"`

	SubstituteForTeacherID int64 `json:"substitute_for_teacher_id,omitempty"`
	ChangedFromID          int64 `json:"changed_from_id,omitempty"`
	ReplacedByID           int64 `json:"replaced_by_id,omitempty"`

	ReportedAbsenceAt int64  `json:"reported_absence_at,omitempty"`
	AbsenceReport     string `json:"absence_report,omitempty"`
	StartedAt         int64  `json:"started_at,omitempty"`
	FinishedAt        int64  `json:"finished_at,omitempty"`

	Reason           string `json:"reason,omitempty"`
	Source           string `json:"source"`
	IsRegularBooking bool   `json:"is_regular_booking"`
	JoinURL          string `json:"join_url,omitempty"`
	CreatedBy        int64  `json:"created_by"`
	CreatedAt        int64  `json:"created_at"`
	UpdatedAt        int64  `json:"updated_at"`
	Version          int64  `json:"version"`
}

func toBookingDTO(b generic.Booking) BookingDTO {
	return BookingDTO{
		ID:                     int64(b.ID),
		UID:                    b.UID,
		Status:                 b.Status.String(),
		StudentID:              int64(b.StudentID),
		TeacherID:              int64(b.TeacherID),
		CourseID:               int64(b.CourseID),
		UnitID:                 int64(b.UnitID),
		OrderedPackageID:       int64(b.OrderedPackageID),
		CalendarID:             int64(b.CalendarID),
		IsTrial:                b.IsTrial(),
		Calendar:               b.Calendar,
		Student:                b.Student,
		Teacher:                b.Teacher,
		Course:                 b.Course,
		Unit:                   b.Unit,
		OrderedPackage:         b.OrderedPackage,
		Memo:                   b.Memo,
		MemoSubmittedAt:        b.MemoSubmittedAt,
		LateMemo:               b.LateMemo,
		BestMemo:               b.BestMemo,
		SubstituteForTeacherID: int64(b.SubstituteForTeacherID),
		ChangedFromID:          int64(b.ChangedFromID),
		ReplacedByID:           int64(b.ReplacedByID),
		ReportedAbsenceAt:      b.ReportedAbsenceAt,
		AbsenceReport:          b.AbsenceReport,
		StartedAt:              b.StartedAt,
		FinishedAt:             b.FinishedAt,
		Reason:                 b.Reason,
		Source:                 string(b.Source),
		IsRegularBooking:       b.IsRegularBooking,
		JoinURL:                b.JoinURL,
		CreatedBy:              b.CreatedBy,
		CreatedAt:              b.CreatedAt,
		UpdatedAt:              b.UpdatedAt,
		Version:                b.Version,
	}
}

func toBookingDTOs(bs []generic.Booking) []BookingDTO {
	out := make([]BookingDTO, 0, len(bs))
	for _, b := range bs {
		out = append(out, toBookingDTO(b))
	}
	return out
}

type MemoResultDTO struct {
	Booking  BookingDTO `json:"booking"`
	LateMemo bool       `json:"late_memo"`
}

type TrialBookingDTO struct {
	BookingID                int64         `json:"booking_id"`
	Status                   string        `json:"status"`
	Memo                     *generic.Memo `json:"memo,omitempty"`
	RecommendationLetterLink string        `json:"recommendation_letter_link,omitempty"`
	UpdatedAt                int64         `json:"updated_at"`
}

func toTrialDTO(t generic.TrialBooking) TrialBookingDTO {
	return TrialBookingDTO{
		BookingID:                int64(t.BookingID),
		Status:                   string(t.Status),
		Memo:                     t.Memo,
		RecommendationLetterLink: t.RecommendationLetterLink,
		UpdatedAt:                t.UpdatedAt,
	}
}

type StatusEventDTO struct {
	From      string `json:"from,omitempty"`
	To        string `json:"to"`
	ActorID   int64  `json:"actor_id"`
	ActorRole string `json:"actor_role"`
	Reason    string `json:"reason,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

func toStatusEventDTOs(events []generic.StatusEvent) []StatusEventDTO {
	out := make([]StatusEventDTO, 0, len(events))
	for _, e := range events {
		dto := StatusEventDTO{
			To:        e.To.String(),
			ActorID:   e.ActorID,
			ActorRole: string(e.ActorRole),
			Reason:    e.Reason,
			CreatedAt: e.CreatedAt,
		}
		if e.From != 0 {
			dto.From = e.From.String()
		}
		out = append(out, dto)
	}
	return out
}

type LedgerEntryDTO struct {
	ID           string `json:"id"`
	BookingID    int64  `json:"booking_id"`
	Direction    string `json:"direction"`
	Delta        int    `json:"delta"`
	BalanceAfter int    `json:"balance_after"`
	Reason       string `json:"reason,omitempty"`
	ActorID      int64  `json:"actor_id"`
	ActorRole    string `json:"actor_role"`
	CreatedAt    int64  `json:"created_at"`
}

type PackageDTO struct {
	ID                  int64            `json:"id"`
	StudentID           int64            `json:"student_id"`
	Name                string           `json:"name"`
	Type                string           `json:"type"`
	LearningFrequency   string           `json:"learning_frequency"`
	NumberClass         int              `json:"number_class"`
	PaidNumberClass     int              `json:"paid_number_class"`
	OriginalNumberClass int              `json:"original_number_class"`
	ActivationDate      int64            `json:"activation_date,omitempty"`
	DayOfUse            int              `json:"day_of_use"`
	Entries             []LedgerEntryDTO `json:"entries"`
}

func toPackageDTO(v booking.PackageView) PackageDTO {
	p := v.Package
	dto := PackageDTO{
		ID:                  int64(p.ID),
		StudentID:           int64(p.StudentID),
		Name:                p.Name,
		Type:                string(p.Type),
		LearningFrequency:   string(p.LearningFrequency),
		NumberClass:         p.NumberClass,
		PaidNumberClass:     p.PaidNumberClass,
		OriginalNumberClass: p.OriginalNumberClass,
		ActivationDate:      p.ActivationDate,
		DayOfUse:            p.DayOfUse,
		Entries:             make([]LedgerEntryDTO, 0, len(v.Entries)),
	}
	for _, e := range v.Entries {
		dto.Entries = append(dto.Entries, LedgerEntryDTO{
			ID:           e.ID,
			BookingID:    int64(e.BookingID),
			Direction:    string(e.Direction),
			Delta:        e.Delta,
			BalanceAfter: e.BalanceAfter,
			Reason:       e.Reason,
			ActorID:      e.ActorID,
			ActorRole:    string(e.ActorRole),
			CreatedAt:    e.CreatedAt,
		})
	}
	return dto
}

type TeacherStatsDTO struct {
	TeacherID        int64  `json:"teacher_id"`
	CompletedLessons int    `json:"completed_lessons"`
	TaughtHours      string `json:"taught_hours"`
	UpdatedAt        int64  `json:"updated_at,omitempty"`
}

type BatchResultDTO struct {
	Succeeded []int64 `json:"succeeded"`
	Failed    []int64 `json:"failed"`
	Error     string  `json:"error,omitempty"`
}

func toBatchDTO(r *booking.BatchResult) BatchResultDTO {
	dto := BatchResultDTO{Succeeded: []int64{}, Failed: []int64{}}
	for _, id := range r.Succeeded {
		dto.Succeeded = append(dto.Succeeded, int64(id))
	}
	for _, id := range r.Failed {
		dto.Failed = append(dto.Failed, int64(id))
	}
	if r.Err != nil {
		dto.Error = r.Err.Error()
	}
	return dto
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type HealthDTO struct {
	Status     string `json:"status"`
	Storage    string `json:"storage"`
	QueueDepth *int64 `json:"queue_depth,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
