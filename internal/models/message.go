package models

import (
	"time"
)

// Message is an asynchronous note a patient leaves in a doctor's inbox.
type Message struct {
	BaseModel
	PatientID string     `gorm:"size:36;index" json:"patientId"`
	DoctorID  string     `gorm:"size:36;index" json:"doctorId"`
	Subject   string     `gorm:"size:255" json:"subject"`
	Content   string     `gorm:"type:text" json:"content"`
	Read      bool       `gorm:"column:is_read;default:false;index" json:"read"`
	ReadAt    *time.Time `json:"readAt,omitempty"`

	// Relations
	Patient *User `gorm:"foreignKey:PatientID" json:"patient,omitempty"`
}
