/*
jobs.go - Scheduled booking maintenance

PURPOSE:
  Operations the scheduler runs on a timer as the system actor:

  AutoFinish:            TEACHING lessons whose slot ended become COMPLETED
  ProcessApprovedLeaves: approved student leaves cancel the lessons they cover
  CreateRegularBookings: weekly regular slots become bookings for next week

  Every booking is processed independently; failures are aggregated and
  never stop the run.

SEE ALSO:
  - api/scheduler.go: Cron wiring
  - batch.go: Absent-period cancellation
*/
package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/warp/lesson-booking/generic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// AutoFinish completes lessons still TEACHING after their slot ended.
func (s *Service) AutoFinish(ctx context.Context) (*BatchResult, error) {
	now := s.now()
	teaching, err := s.store.ListBookings(ctx, generic.BookingFilter{
		Statuses: []generic.Status{generic.StatusTeaching},
		To:       now,
	})
	if err != nil {
		return nil, s.fail("auto finish", fmt.Errorf("list bookings: %w", err))
	}

	res := &BatchResult{}
	for _, b := range teaching {
		if b.SlotEnd() > now {
			continue
		}
		_, err := s.ChangeStatus(ctx, StatusRequest{
			BookingID:      b.ID,
			To:             generic.StatusCompleted,
			ExpectedStatus: generic.StatusTeaching,
			Actor:          generic.SystemActor,
		})
		if err != nil {
			res.Failed = append(res.Failed, b.ID)
			res.Err = multierr.Append(res.Err, fmt.Errorf("booking %d: %w", b.ID, err))
			continue
		}
		res.Succeeded = append(res.Succeeded, b.ID)
	}
	if len(teaching) > 0 {
		s.log.Info("auto finish", zap.Int("completed", len(res.Succeeded)), zap.Int("failed", len(res.Failed)))
	}
	return res, nil
}

// ProcessApprovedLeaves cancels lessons covered by approved leaves that have
// not been processed yet.
func (s *Service) ProcessApprovedLeaves(ctx context.Context) (*BatchResult, error) {
	leaves, err := s.store.ListUnprocessedLeaves(ctx, generic.LeaveApproved)
	if err != nil {
		return nil, s.fail("process leaves", fmt.Errorf("list leaves: %w", err))
	}

	total := &BatchResult{}
	for _, l := range leaves {
		reason := l.Reason
		if reason == "" {
			reason = "student leave"
		}
		res, err := s.cancelWindow(ctx, AbsentPeriodRequest{
			StudentID: l.StudentID,
			StartTime: l.StartTime,
			EndTime:   l.EndTime,
			Reason:    reason,
			Actor:     generic.SystemActor,
		})
		if err != nil {
			total.Err = multierr.Append(total.Err, fmt.Errorf("leave %d: %w", l.ID, err))
			continue
		}
		total.Succeeded = append(total.Succeeded, res.Succeeded...)
		total.Failed = append(total.Failed, res.Failed...)
		if res.Err != nil {
			total.Err = multierr.Append(total.Err, fmt.Errorf("leave %d: %w", l.ID, res.Err))
			continue
		}
		if err := s.store.MarkLeaveProcessed(ctx, l.ID); err != nil {
			total.Err = multierr.Append(total.Err, fmt.Errorf("leave %d: %w", l.ID, err))
		}
	}
	return total, nil
}

// CreateRegularBookings books every active regular slot in the week starting
// at weekStart (Monday 00:00 local). Slots already booked are skipped.
func (s *Service) CreateRegularBookings(ctx context.Context, weekStart int64) (*BatchResult, error) {
	slots, err := s.store.ListActiveRegularSlots(ctx)
	if err != nil {
		return nil, s.fail("regular bookings", fmt.Errorf("list regular slots: %w", err))
	}

	res := &BatchResult{}
	for _, rs := range slots {
		start := weekStart + rs.WeekOffset
		b, err := s.CreateBooking(ctx, CreateRequest{
			StudentID:        rs.StudentID,
			TeacherID:        rs.TeacherID,
			StartTime:        start,
			EndTime:          start + generic.SlotMs,
			CourseID:         rs.CourseID,
			UnitID:           rs.UnitID,
			PackageID:        rs.OrderedPackageID,
			IsRegularBooking: true,
			Source:           generic.SourceCronjob,
			Status:           generic.StatusConfirmed,
			Actor:            generic.SystemActor,
		})
		if errors.Is(err, generic.ErrConflict) {
			continue
		}
		if err != nil {
			res.Err = multierr.Append(res.Err, fmt.Errorf("regular slot %d: %w", rs.ID, err))
			continue
		}
		res.Succeeded = append(res.Succeeded, b.ID)
	}
	s.log.Info("regular bookings created",
		zap.Int("created", len(res.Succeeded)),
		zap.Int("errors", len(multierr.Errors(res.Err))),
	)
	return res, nil
}

// NextWeekStart returns Monday 00:00 local of the week after now.
func (s *Service) NextWeekStart() int64 {
	return generic.StartOfWeek(s.now(), generic.LocalZone) + generic.WeekMs
}
