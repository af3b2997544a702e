package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"gorm.io/gorm"

	"telehealth-server/internal/middleware"
	"telehealth-server/internal/models"
	"telehealth-server/internal/store"
	"telehealth-server/internal/utils"
)

// AppointmentHandler handles appointment related requests.
type AppointmentHandler struct {
	DB    *gorm.DB
	Store *store.Appointments
	now   func() time.Time
}

// NewAppointmentHandler creates a new AppointmentHandler.
func NewAppointmentHandler(db *gorm.DB, appts *store.Appointments) *AppointmentHandler {
	return &AppointmentHandler{DB: db, Store: appts, now: time.Now}
}

// CreateAppointmentRequest is what a patient submits to book a consultation.
type CreateAppointmentRequest struct {
	DoctorID string `json:"doctorId" binding:"required"`
	Date     string `json:"date" binding:"required,isodate"`
	Time     string `json:"time" binding:"required,timeslot"`
	Reason   string `json:"reason" binding:"required,max=255"`
}

// CreateAppointment books an appointment for the calling patient.
func (h *AppointmentHandler) CreateAppointment(c *gin.Context) {
	var req CreateAppointmentRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	patientID, ok := middleware.GetUserIDFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return
	}

	if req.Date < h.now().Format(utils.DateLayout) {
		utils.BadRequest(c, "Appointment date must not be in the past")
		return
	}

	var doctor models.User
	if err := h.DB.Where("id = ? AND role = ?", req.DoctorID, models.RoleDoctor).First(&doctor).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.NotFound(c, "Doctor not found or user is not a doctor")
		} else {
			utils.InternalServerError(c, "Database error verifying doctor: "+err.Error())
		}
		return
	}

	appt := models.Appointment{
		PatientID: patientID,
		DoctorID:  doctor.ID,
		Date:      req.Date,
		Time:      req.Time,
		Reason:    strings.TrimSpace(req.Reason),
	}
	if err := h.Store.Create(c.Request.Context(), &appt); err != nil {
		if errors.Is(err, models.ErrSlotTaken) {
			utils.Conflict(c, "The doctor already has an appointment at this time")
		} else {
			utils.InternalServerError(c, "Failed to create appointment: "+err.Error())
		}
		return
	}
	appt.Doctor = &doctor

	utils.Created(c, "Appointment created successfully", appt)
}

// GetAppointmentsForUser lists the caller's appointments, looked up by the
// participant field matching their role.
func (h *AppointmentHandler) GetAppointmentsForUser(c *gin.Context) {
	userID, ok := middleware.GetUserIDFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return
	}
	role, _ := middleware.GetUserRoleFromContext(c)

	var field models.ParticipantField
	switch role {
	case models.RolePatient:
		field = models.FieldPatient
	case models.RoleDoctor:
		field = models.FieldDoctor
	default:
		utils.Forbidden(c, "User role not permitted to view appointments. Role: "+string(role))
		return
	}

	appts, err := h.Store.ListByParticipant(c.Request.Context(), userID, field)
	if err != nil {
		utils.InternalServerError(c, "Failed to fetch appointments: "+err.Error())
		return
	}
	utils.Success(c, "Appointments fetched successfully", appts)
}

// GetAppointmentByID returns one appointment to either of its participants.
func (h *AppointmentHandler) GetAppointmentByID(c *gin.Context) {
	appt, ok := h.participantAppointment(c)
	if !ok {
		return
	}
	utils.Success(c, "Appointment fetched successfully", appt)
}

// UpdateAppointmentStatusRequest represents the request body for updating an appointment's status.
type UpdateAppointmentStatusRequest struct {
	Status models.AppointmentStatus `json:"status" binding:"required,oneof=in-progress completed cancelled"`
}

// UpdateAppointmentStatus moves an appointment along its lifecycle. Either
// participant may start, complete or cancel it; the transition table decides
// which moves are legal from the current status.
func (h *AppointmentHandler) UpdateAppointmentStatus(c *gin.Context) {
	var req UpdateAppointmentStatusRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	appt, ok := h.participantAppointment(c)
	if !ok {
		return
	}

	updated, err := h.Store.UpdateStatus(c.Request.Context(), appt.ID, req.Status)
	switch {
	case errors.Is(err, models.ErrAppointmentNotFound):
		utils.NotFound(c, "Appointment not found")
		return
	case errors.Is(err, models.ErrInvalidTransition):
		utils.Conflict(c, "Cannot change appointment from "+string(appt.Status)+" to "+string(req.Status))
		return
	case err != nil:
		utils.InternalServerError(c, "Failed to update appointment status: "+err.Error())
		return
	}

	utils.Success(c, "Appointment status updated successfully", updated)
}

// GetTimeSlots lists the bookable slots. With doctorId and date query
// parameters, slots the doctor already has booked that day are left out.
func (h *AppointmentHandler) GetTimeSlots(c *gin.Context) {
	slots := models.TimeSlots()

	doctorID, date := c.Query("doctorId"), c.Query("date")
	if doctorID != "" && date != "" {
		if _, err := time.Parse(utils.DateLayout, date); err != nil {
			utils.BadRequest(c, "date must be in YYYY-MM-DD format")
			return
		}
		booked, err := h.Store.BookedSlots(c.Request.Context(), doctorID, date)
		if err != nil {
			utils.InternalServerError(c, err.Error())
			return
		}
		slots, _ = lo.Difference(slots, booked)
	}

	utils.Success(c, "Time slots fetched successfully", slots)
}

// participantAppointment loads the :id appointment and checks the caller
// takes part in it, writing the error response when not.
func (h *AppointmentHandler) participantAppointment(c *gin.Context) (*models.Appointment, bool) {
	userID, ok := middleware.GetUserIDFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return nil, false
	}

	appt, err := h.Store.FetchByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, models.ErrAppointmentNotFound) {
			utils.NotFound(c, "Appointment not found")
		} else {
			utils.InternalServerError(c, "Database error: "+err.Error())
		}
		return nil, false
	}

	if userID != appt.PatientID && userID != appt.DoctorID {
		utils.Forbidden(c, "You are not authorized to access this appointment")
		return nil, false
	}
	return appt, true
}
