package models

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// AppointmentStatus represents the status of an appointment
type AppointmentStatus string

const (
	StatusScheduled  AppointmentStatus = "scheduled"
	StatusInProgress AppointmentStatus = "in-progress"
	StatusCompleted  AppointmentStatus = "completed"
	StatusCancelled  AppointmentStatus = "cancelled"
)

// ParticipantField names the appointment column that identifies a participant.
type ParticipantField string

const (
	FieldPatient ParticipantField = "patientId"
	FieldDoctor  ParticipantField = "doctorId"
)

// Column returns the database column backing the field.
func (f ParticipantField) Column() (string, error) {
	switch f {
	case FieldPatient:
		return "patient_id", nil
	case FieldDoctor:
		return "doctor_id", nil
	}
	return "", fmt.Errorf("unknown participant field %q", f)
}

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrInvalidTransition   = errors.New("invalid appointment status transition")
	ErrSlotTaken           = errors.New("time slot already booked")
)

// allowedTransitions lists every status change an appointment may go through.
var allowedTransitions = map[AppointmentStatus][]AppointmentStatus{
	StatusScheduled:  {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted},
}

// CanTransition reports whether an appointment in status from may move to to.
// Re-writing the current status is accepted so that concurrent writers
// converging on the same status do not fail.
func CanTransition(from, to AppointmentStatus) bool {
	if from == to {
		return true
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Closed reports whether no call can take place for the appointment any more.
func (s AppointmentStatus) Closed() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Appointment represents a booked video consultation.
// Date and Time are immutable once booked.
type Appointment struct {
	BaseModel
	PatientID string            `gorm:"size:36;index" json:"patientId"`
	DoctorID  string            `gorm:"size:36;index" json:"doctorId"`
	Date      string            `gorm:"size:10;index" json:"date"`
	Time      string            `gorm:"size:8" json:"time"`
	Reason    string            `gorm:"size:255" json:"reason"`
	Status    AppointmentStatus `gorm:"size:20;default:'scheduled';index" json:"status"`
	// SlotKey holds the doctor's booked slot while the appointment is not
	// cancelled, and is NULL otherwise. Its unique index keeps two
	// appointments from sharing a slot.
	SlotKey *string `gorm:"size:64;uniqueIndex" json:"-"`

	// Relations
	Patient *User `gorm:"foreignKey:PatientID" json:"patient,omitempty"`
	Doctor  *User `gorm:"foreignKey:DoctorID" json:"doctor,omitempty"`
}

// SlotKey identifies one doctor's time slot on one date.
func SlotKey(doctorID, date, time string) string {
	return doctorID + "|" + date + "|" + time
}

// BeforeCreate assigns the id and claims the doctor's slot.
func (a *Appointment) BeforeCreate(tx *gorm.DB) error {
	if a.Status != StatusCancelled {
		key := SlotKey(a.DoctorID, a.Date, a.Time)
		a.SlotKey = &key
	}
	return a.BaseModel.BeforeCreate(tx)
}

// TimeSlots returns the bookable half-hour slots between 8:00 AM and 6:00 PM.
func TimeSlots() []string {
	slots := make([]string, 0, 21)
	for hour := 8; hour <= 18; hour++ {
		display := hour
		if hour > 12 {
			display = hour - 12
		}
		amPm := "AM"
		if hour >= 12 {
			amPm = "PM"
		}
		slots = append(slots, fmt.Sprintf("%d:00 %s", display, amPm))
		if hour < 18 {
			slots = append(slots, fmt.Sprintf("%d:30 %s", display, amPm))
		}
	}
	return slots
}
