// Package store persists appointments and inbox messages with GORM.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm"

	"telehealth-server/internal/models"
)

// Appointments is the appointment record store. Each status write is a
// single conditional UPDATE, so concurrent writers on one appointment
// cannot interleave a read-check-write.
type Appointments struct {
	db  *gorm.DB
	now func() time.Time
}

// NewAppointments creates an appointment store on db.
func NewAppointments(db *gorm.DB) *Appointments {
	return &Appointments{db: db, now: time.Now}
}

// Create books a new appointment in the scheduled status. It returns
// models.ErrSlotTaken when the doctor already holds an appointment at that
// date and time, including one inserted concurrently.
func (s *Appointments) Create(ctx context.Context, appt *models.Appointment) error {
	if appt.PatientID == "" || appt.DoctorID == "" {
		return errors.New("appointment requires a patient and a doctor")
	}
	booked, err := s.BookedSlots(ctx, appt.DoctorID, appt.Date)
	if err != nil {
		return err
	}
	if lo.Contains(booked, appt.Time) {
		return models.ErrSlotTaken
	}

	appt.Status = models.StatusScheduled
	if err := s.db.WithContext(ctx).Create(appt).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return models.ErrSlotTaken
		}
		return fmt.Errorf("create appointment: %w", err)
	}
	return nil
}

// FetchByID returns the appointment or models.ErrAppointmentNotFound.
func (s *Appointments) FetchByID(ctx context.Context, id string) (*models.Appointment, error) {
	var appt models.Appointment
	if err := s.db.WithContext(ctx).First(&appt, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("fetch appointment %s: %w", id, err)
	}
	return &appt, nil
}

// UpdateStatus moves the appointment to status and stamps UpdatedAt.
// Writing the current status again succeeds; for an in-progress call it
// only refreshes UpdatedAt. Cancelling releases the booked slot.
func (s *Appointments) UpdateStatus(ctx context.Context, id string, status models.AppointmentStatus) (*models.Appointment, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrInvalidTransition, status)
	}

	appt, err := s.FetchByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(appt.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, appt.Status, status)
	}
	now := s.now()
	if appt.Status == status {
		if status == models.StatusInProgress {
			return s.touch(ctx, appt, now)
		}
		return appt, nil
	}

	updates := map[string]any{"status": status, "updated_at": now}
	if status == models.StatusCancelled {
		updates["slot_key"] = nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.Appointment{}).
		Where("id = ? AND status = ?", id, appt.Status).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("update appointment %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		// Someone else moved it first; re-evaluate against their status.
		current, err := s.FetchByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.Status == status {
			return current, nil
		}
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, current.Status, status)
	}

	appt.Status = status
	appt.UpdatedAt = now
	return appt, nil
}

// touch refreshes UpdatedAt on a call that is still in progress, which keeps
// it clear of CompleteStale.
func (s *Appointments) touch(ctx context.Context, appt *models.Appointment, now time.Time) (*models.Appointment, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Appointment{}).
		Where("id = ? AND status = ?", appt.ID, models.StatusInProgress).
		Update("updated_at", now)
	if res.Error != nil {
		return nil, fmt.Errorf("touch appointment %s: %w", appt.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		current, err := s.FetchByID(ctx, appt.ID)
		if err != nil {
			return nil, err
		}
		if current.Status != models.StatusInProgress {
			return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, current.Status, models.StatusInProgress)
		}
		return current, nil
	}
	appt.UpdatedAt = now
	return appt, nil
}

// ListByParticipant returns the appointments where participantID appears in
// field, ordered by date.
func (s *Appointments) ListByParticipant(ctx context.Context, participantID string, field models.ParticipantField) ([]models.Appointment, error) {
	column, err := field.Column()
	if err != nil {
		return nil, err
	}

	var appts []models.Appointment
	if err := s.db.WithContext(ctx).
		Preload("Patient").
		Preload("Doctor").
		Where(column+" = ?", participantID).
		Order("date asc, created_at asc").
		Find(&appts).Error; err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}

// CompleteStale completes appointments left in progress since before cutoff,
// which happens when a call ends without either side reaching teardown. A
// connected call refreshes UpdatedAt on every heartbeat, so only calls whose
// participants have all gone quiet are swept.
func (s *Appointments) CompleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Appointment{}).
		Where("status = ? AND updated_at < ?", models.StatusInProgress, cutoff).
		Updates(map[string]any{"status": models.StatusCompleted, "updated_at": s.now()})
	if res.Error != nil {
		return 0, fmt.Errorf("complete stale appointments: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// BookedSlots returns the time slots the doctor already has taken on date.
// Cancelled appointments free their slot.
func (s *Appointments) BookedSlots(ctx context.Context, doctorID, date string) ([]string, error) {
	var slots []string
	if err := s.db.WithContext(ctx).
		Model(&models.Appointment{}).
		Where("doctor_id = ? AND date = ? AND status <> ?", doctorID, date, models.StatusCancelled).
		Pluck("time", &slots).Error; err != nil {
		return nil, fmt.Errorf("list booked slots: %w", err)
	}
	return slots, nil
}
