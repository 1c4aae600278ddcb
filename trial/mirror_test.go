package trial_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lesson-booking/generic"
	"github.com/warp/lesson-booking/trial"
)

func TestMap_Table(t *testing.T) {
	tests := []struct {
		booking generic.Status
		want    generic.TrialStatus
	}{
		{generic.StatusConfirmed, generic.TrialCreatedForLearning},
		{generic.StatusTeaching, generic.TrialCreatedForLearning},
		{generic.StatusTeacherConfirmed, generic.TrialCreatedForLearning},
		{generic.StatusCompleted, generic.TrialSuccess},
		{generic.StatusStudentAbsent, generic.TrialFailByStudent},
		{generic.StatusCancelByStudent, generic.TrialFailByStudent},
		{generic.StatusTeacherAbsent, generic.TrialFailByTeacher},
		{generic.StatusCancelByTeacher, generic.TrialFailByTeacher},
		{generic.StatusCancelByAdmin, generic.TrialFailByTechnology},
		{generic.StatusChangeTime, generic.TrialChangeTime},
	}
	for _, tt := range tests {
		t.Run(tt.booking.String(), func(t *testing.T) {
			got, err := trial.Map(tt.booking)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMap_PendingIsIllegal(t *testing.T) {
	// GIVEN: A booking status without a trial equivalent
	// WHEN: Mapping it
	// THEN: IllegalTransition is returned

	_, err := trial.Map(generic.StatusPending)
	require.Error(t, err)
	assert.ErrorIs(t, err, generic.ErrIllegalTransition)

	_, err = trial.Map(generic.Status(42))
	assert.ErrorIs(t, err, generic.ErrIllegalTransition)
}

func TestNew_UsesMapping(t *testing.T) {
	b := generic.Booking{ID: 7, Status: generic.StatusConfirmed}
	tb, err := trial.New(b, 1000)
	require.NoError(t, err)
	assert.Equal(t, generic.BookingID(7), tb.BookingID)
	assert.Equal(t, generic.TrialCreatedForLearning, tb.Status)

	_, err = trial.New(generic.Booking{Status: generic.StatusPending}, 1000)
	assert.ErrorIs(t, err, generic.ErrIllegalTransition)
}

func TestCheckMemoEditable(t *testing.T) {
	assert.NoError(t, trial.CheckMemoEditable(nil))
	assert.NoError(t, trial.CheckMemoEditable(&generic.TrialBooking{}))

	err := trial.CheckMemoEditable(&generic.TrialBooking{RecommendationLetterLink: "https://letters/1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, generic.ErrValidation)
	e, ok := generic.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "memo_confirmed", e.Code)
}
