package utils

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type booking struct {
	Date string `binding:"required,isodate"`
	Time string `binding:"required,timeslot"`
}

func TestValidateCustomRules(t *testing.T) {
	assert.NoError(t, Validate(booking{Date: "2030-01-02", Time: "9:30 AM"}))

	err := Validate(booking{Date: "02/01/2030", Time: "7:00 AM"})
	require.Error(t, err)
	msg := FormatValidationError(err)
	assert.Contains(t, msg, "Date must be a date in YYYY-MM-DD format")
	assert.Contains(t, msg, "Time must be one of the bookable time slots")
}

func TestMustRegisterPanicsOnRejectedRule(t *testing.T) {
	ok := func(validator.FieldLevel) bool { return true }

	assert.Panics(t, func() { mustRegister(validator.New(), "", ok) })
	assert.Panics(t, func() { mustRegister(validator.New(), "slot", nil) })
	assert.NotPanics(t, func() { mustRegister(validator.New(), "slot", ok) })
}
