package call

import "telehealth-server/internal/models"

// Authorize returns the caller's role on the appointment. The caller must
// match exactly one of the patient and the doctor.
func Authorize(appt *models.Appointment, participantID string) (Role, error) {
	if appt == nil || participantID == "" {
		return RoleNone, ErrUnauthorized
	}
	isPatient := appt.PatientID == participantID
	isDoctor := appt.DoctorID == participantID
	switch {
	case isPatient && !isDoctor:
		return RolePatient, nil
	case isDoctor && !isPatient:
		return RoleDoctor, nil
	}
	return RoleNone, ErrUnauthorized
}

// IsInitiator reports whether participantID originates the offer. The
// patient initiates and the doctor answers.
func IsInitiator(appt *models.Appointment, participantID string) bool {
	role, err := Authorize(appt, participantID)
	return err == nil && role == RolePatient
}
