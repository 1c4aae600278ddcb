/*
batch.go - Absent-period cancellation

PURPOSE:
  When a student's leave is approved, every live lesson inside the leave
  window is cancelled for the student. Each booking is handled in its own
  transaction: one failure (a stale status, a cancel-window rejection) does
  not stop or undo the others. Failures are aggregated with multierr.

SEE ALSO:
  - jobs.go: ProcessApprovedLeaves runs this for every new approved leave
  - api/handlers.go: POST /api/absent-periods
*/
package booking

import (
	"context"
	"fmt"

	"github.com/warp/lesson-booking/generic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type AbsentPeriodRequest struct {
	StudentID generic.StudentID
	StartTime int64
	EndTime   int64
	Reason    string
	Actor     generic.Actor
}

// BatchResult lists what a multi-booking operation did. Err aggregates the
// per-booking failures; it is nil when every booking succeeded.
type BatchResult struct {
	Succeeded []generic.BookingID
	Failed    []generic.BookingID
	Err       error
}

// CancelAbsentPeriod records an approved leave and cancels the student's
// live lessons that start inside it.
func (s *Service) CancelAbsentPeriod(ctx context.Context, req AbsentPeriodRequest) (*BatchResult, error) {
	if req.EndTime <= req.StartTime {
		return nil, generic.Invalid("invalid_period", "leave must end after it starts")
	}
	if req.Reason == "" {
		return nil, generic.Invalid("empty_reason", "a reason is required for a leave")
	}
	if !req.Actor.IsStaff() && req.Actor.Role != generic.RoleSystem && !req.Actor.IsStudent(req.StudentID) {
		return nil, generic.Illegal("forbidden", "cannot file a leave for student %d", req.StudentID)
	}

	leaveID, err := s.store.SaveStudentLeave(ctx, generic.StudentLeave{
		StudentID: req.StudentID,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Status:    generic.LeaveApproved,
		Reason:    req.Reason,
		CreatedAt: s.now(),
	})
	if err != nil {
		return nil, s.fail("absent period", fmt.Errorf("save leave: %w", err))
	}

	res, err := s.cancelWindow(ctx, req)
	if err != nil {
		return nil, err
	}
	if res.Err == nil {
		if err := s.store.MarkLeaveProcessed(ctx, leaveID); err != nil {
			s.log.Warn("leave not marked processed", zap.Int64("leave_id", leaveID), zap.Error(err))
		}
	}
	return res, nil
}

// cancelWindow cancels each live booking of the student starting in
// [StartTime, EndTime) independently.
func (s *Service) cancelWindow(ctx context.Context, req AbsentPeriodRequest) (*BatchResult, error) {
	bookings, err := s.store.ListBookings(ctx, generic.BookingFilter{
		StudentID: req.StudentID,
		Statuses:  generic.LiveStatuses,
		From:      req.StartTime,
		To:        req.EndTime,
	})
	if err != nil {
		return nil, s.fail("absent period", fmt.Errorf("list bookings: %w", err))
	}

	res := &BatchResult{}
	for _, b := range bookings {
		_, err := s.ChangeStatus(ctx, StatusRequest{
			BookingID:      b.ID,
			To:             generic.StatusCancelByStudent,
			Reason:         req.Reason,
			ExpectedStatus: b.Status,
			Actor:          req.Actor,
		})
		if err != nil {
			res.Failed = append(res.Failed, b.ID)
			res.Err = multierr.Append(res.Err, fmt.Errorf("booking %d: %w", b.ID, err))
			continue
		}
		res.Succeeded = append(res.Succeeded, b.ID)
	}

	s.log.Info("absent period processed",
		zap.Int64("student_id", int64(req.StudentID)),
		zap.Int("cancelled", len(res.Succeeded)),
		zap.Int("failed", len(res.Failed)),
	)
	return res, nil
}
