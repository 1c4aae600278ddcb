/*
scheduler.go - Cron-driven booking maintenance

PURPOSE:
  Runs the booking service's batch jobs on cron schedules:

  auto_finish:      TEACHING lessons whose slot ended become COMPLETED
  approved_leaves:  approved student leaves cancel the lessons they cover
  regular_bookings: weekly regular slots become next week's bookings

  A job never overlaps itself; a run still in progress makes the next tick
  skip. Panics are recovered and logged. Per-booking failures are logged
  at Warn and never stop a run.

USAGE:
  s, err := NewScheduler(svc, SchedulerConfig{...}, log)
  s.Start()
  defer s.Stop(ctx)

SEE ALSO:
  - booking/jobs.go: Job implementations
  - handlers.go: POST /api/jobs/{name} runs a job on demand
*/
package api

import (
	"context"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/warp/lesson-booking/booking"
	"github.com/warp/lesson-booking/generic"
	"go.uber.org/zap"
)

const (
	JobAutoFinish      = "auto_finish"
	JobApprovedLeaves  = "approved_leaves"
	JobRegularBookings = "regular_bookings"
)

// jobTimeout bounds one run.
const jobTimeout = 5 * time.Minute

// SchedulerConfig holds cron specs. An empty spec leaves the job
// registered for on-demand runs only.
type SchedulerConfig struct {
	AutoFinish      string
	ApprovedLeaves  string
	RegularBookings string
	Location        *time.Location
}

type job func(ctx context.Context) (*booking.BatchResult, error)

type Scheduler struct {
	cron *cron.Cron
	jobs map[string]job
	log  *zap.Logger
}

func NewScheduler(svc *booking.Service, cfg SchedulerConfig, log *zap.Logger) (*Scheduler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = generic.LocalZone
	}

	regular := func(ctx context.Context) (*booking.BatchResult, error) {
		return svc.CreateRegularBookings(ctx, svc.NextWeekStart())
	}
	cl := cronLogger{log.Sugar()}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(cfg.Location),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
			cron.WithLogger(cl),
		),
		jobs: map[string]job{
			JobAutoFinish:      svc.AutoFinish,
			JobApprovedLeaves:  svc.ProcessApprovedLeaves,
			JobRegularBookings: regular,
		},
		log: log,
	}

	specs := map[string]string{
		JobAutoFinish:      cfg.AutoFinish,
		JobApprovedLeaves:  cfg.ApprovedLeaves,
		JobRegularBookings: cfg.RegularBookings,
	}
	for name, spec := range specs {
		if spec == "" {
			continue
		}
		name := name
		if _, err := s.cron.AddFunc(spec, func() { s.runScheduled(name) }); err != nil {
			return nil, generic.Invalid("cron_spec", "job %s: %v", name, err)
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", zap.Strings("jobs", s.Jobs()), zap.Int("scheduled", len(s.cron.Entries())))
}

// Stop prevents new runs and waits for running ones until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Jobs lists the registered job names.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes one job now.
func (s *Scheduler) Run(ctx context.Context, name string) (*booking.BatchResult, error) {
	j, ok := s.jobs[name]
	if !ok {
		return nil, generic.NotFound("job_not_found", "unknown job %q", name)
	}

	start := time.Now()
	res, err := j(ctx)
	if err != nil {
		s.log.Error("job failed", zap.String("job", name), zap.Error(err))
		return nil, err
	}

	fields := []zap.Field{
		zap.String("job", name),
		zap.Int("succeeded", len(res.Succeeded)),
		zap.Int("failed", len(res.Failed)),
		zap.Duration("took", time.Since(start)),
	}
	if res.Err != nil {
		s.log.Warn("job finished with failures", append(fields, zap.Error(res.Err))...)
	} else {
		s.log.Info("job finished", fields...)
	}
	return res, nil
}

func (s *Scheduler) runScheduled(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	_, _ = s.Run(ctx, name)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
