package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to AppointmentStatus
		want     bool
	}{
		{StatusScheduled, StatusInProgress, true},
		{StatusScheduled, StatusCancelled, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusCompleted, StatusCompleted, true},
		{StatusInProgress, StatusInProgress, true},
		{StatusScheduled, StatusCompleted, false},
		{StatusInProgress, StatusCancelled, false},
		{StatusCompleted, StatusInProgress, false},
		{StatusCancelled, StatusScheduled, false},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTimeSlots(t *testing.T) {
	slots := TimeSlots()
	assert.Len(t, slots, 21)
	assert.Equal(t, "8:00 AM", slots[0])
	assert.Equal(t, "12:30 PM", slots[9])
	assert.Equal(t, "6:00 PM", slots[len(slots)-1])
}

func TestParticipantFieldColumn(t *testing.T) {
	col, err := FieldDoctor.Column()
	assert.NoError(t, err)
	assert.Equal(t, "doctor_id", col)

	_, err = ParticipantField("nurseId").Column()
	assert.Error(t, err)
}
