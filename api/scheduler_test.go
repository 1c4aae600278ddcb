package api

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lesson-booking/booking"
	"github.com/warp/lesson-booking/generic"
	"github.com/warp/lesson-booking/store/sqlite"
)

func newTestScheduler(t *testing.T, cfg SchedulerConfig) (*Scheduler, error) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewScheduler(booking.NewService(store, booking.DefaultRules()), cfg, nil)
}

func TestNewScheduler_RejectsBadSpec(t *testing.T) {
	_, err := newTestScheduler(t, SchedulerConfig{AutoFinish: "every now and then"})

	require.Error(t, err)
	assert.Equal(t, generic.KindValidation, generic.KindOf(err))
}

func TestScheduler_JobsAndRun(t *testing.T) {
	s, err := newTestScheduler(t, SchedulerConfig{AutoFinish: "*/5 * * * *", RegularBookings: "0 1 * * 6"})
	require.NoError(t, err)

	assert.Equal(t, []string{JobApprovedLeaves, JobAutoFinish, JobRegularBookings}, s.Jobs())
	assert.Len(t, s.cron.Entries(), 2)

	res, err := s.Run(context.Background(), JobRegularBookings)
	require.NoError(t, err)
	assert.Empty(t, res.Succeeded)

	_, err = s.Run(context.Background(), "vacuum")
	assert.Equal(t, generic.KindNotFound, generic.KindOf(err))
}

func TestScheduler_StartStop(t *testing.T) {
	s, err := newTestScheduler(t, SchedulerConfig{ApprovedLeaves: "@every 1h"})
	require.NoError(t, err)

	s.Start()
	assert.NoError(t, s.Stop(context.Background()))
}
