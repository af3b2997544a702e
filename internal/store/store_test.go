package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"telehealth-server/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "store.db")), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))
	return db
}

func seedUser(t *testing.T, db *gorm.DB, role models.Role, email string) models.User {
	t.Helper()
	u := models.User{Email: email, FullName: email, Role: role}
	require.NoError(t, u.SetPassword("password123"))
	require.NoError(t, db.Create(&u).Error)
	return u
}

func seedAppointment(t *testing.T, s *Appointments, patientID, doctorID, date string) *models.Appointment {
	t.Helper()
	appt := &models.Appointment{
		PatientID: patientID,
		DoctorID:  doctorID,
		Date:      date,
		Time:      "9:30 AM",
		Reason:    "follow-up",
	}
	require.NoError(t, s.Create(context.Background(), appt))
	return appt
}

func TestAppointmentsCreateAndFetch(t *testing.T) {
	db := newTestDB(t)
	s := NewAppointments(db)
	p := seedUser(t, db, models.RolePatient, "p@example.com")
	d := seedUser(t, db, models.RoleDoctor, "d@example.com")
	ctx := context.Background()

	appt := seedAppointment(t, s, p.ID, d.ID, "2030-01-02")
	assert.NotEmpty(t, appt.ID)
	assert.Equal(t, models.StatusScheduled, appt.Status)

	got, err := s.FetchByID(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.PatientID)
	assert.Equal(t, d.ID, got.DoctorID)
	assert.Equal(t, "9:30 AM", got.Time)

	_, err = s.FetchByID(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrAppointmentNotFound)

	assert.Error(t, s.Create(ctx, &models.Appointment{PatientID: p.ID}))
}

func TestAppointmentsUpdateStatus(t *testing.T) {
	db := newTestDB(t)
	s := NewAppointments(db)
	p := seedUser(t, db, models.RolePatient, "p@example.com")
	d := seedUser(t, db, models.RoleDoctor, "d@example.com")
	ctx := context.Background()

	stamp := time.Date(2030, 1, 2, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return stamp }

	appt := seedAppointment(t, s, p.ID, d.ID, "2030-01-02")

	updated, err := s.UpdateStatus(ctx, appt.ID, models.StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, updated.Status)
	assert.True(t, updated.UpdatedAt.Equal(stamp))

	// Same status twice is accepted.
	_, err = s.UpdateStatus(ctx, appt.ID, models.StatusInProgress)
	require.NoError(t, err)

	_, err = s.UpdateStatus(ctx, appt.ID, models.StatusCancelled)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = s.UpdateStatus(ctx, appt.ID, models.StatusCompleted)
	require.NoError(t, err)

	got, err := s.FetchByID(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)

	_, err = s.UpdateStatus(ctx, appt.ID, "archived")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = s.UpdateStatus(ctx, "missing", models.StatusCompleted)
	assert.ErrorIs(t, err, models.ErrAppointmentNotFound)
}

func TestAppointmentsInProgressRewriteRefreshesUpdatedAt(t *testing.T) {
	db := newTestDB(t)
	s := NewAppointments(db)
	p := seedUser(t, db, models.RolePatient, "p@example.com")
	d := seedUser(t, db, models.RoleDoctor, "d@example.com")
	ctx := context.Background()

	start := time.Date(2030, 1, 2, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return start }
	appt := seedAppointment(t, s, p.ID, d.ID, "2030-01-02")
	_, err := s.UpdateStatus(ctx, appt.ID, models.StatusInProgress)
	require.NoError(t, err)

	later := start.Add(10 * time.Minute)
	s.now = func() time.Time { return later }
	updated, err := s.UpdateStatus(ctx, appt.ID, models.StatusInProgress)
	require.NoError(t, err)
	assert.True(t, updated.UpdatedAt.Equal(later))

	got, err := s.FetchByID(ctx, appt.ID)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(later), "updated_at %s", got.UpdatedAt)
}

func TestAppointmentsSlotIsExclusive(t *testing.T) {
	db := newTestDB(t)
	s := NewAppointments(db)
	p1 := seedUser(t, db, models.RolePatient, "p1@example.com")
	p2 := seedUser(t, db, models.RolePatient, "p2@example.com")
	d := seedUser(t, db, models.RoleDoctor, "d@example.com")
	ctx := context.Background()

	first := seedAppointment(t, s, p1.ID, d.ID, "2030-01-02")

	second := &models.Appointment{PatientID: p2.ID, DoctorID: d.ID, Date: "2030-01-02", Time: first.Time}
	assert.ErrorIs(t, s.Create(ctx, second), models.ErrSlotTaken)

	// An insert that raced past the booked-slot lookup still hits the index.
	raced := &models.Appointment{PatientID: p2.ID, DoctorID: d.ID, Date: "2030-01-02", Time: first.Time, Status: models.StatusScheduled}
	assert.ErrorIs(t, db.Create(raced).Error, gorm.ErrDuplicatedKey)

	_, err := s.UpdateStatus(ctx, first.ID, models.StatusCancelled)
	require.NoError(t, err)
	rebooked := &models.Appointment{PatientID: p2.ID, DoctorID: d.ID, Date: "2030-01-02", Time: first.Time}
	require.NoError(t, s.Create(ctx, rebooked))

	other := &models.Appointment{PatientID: p1.ID, DoctorID: d.ID, Date: "2030-01-02", Time: "11:00 AM"}
	assert.NoError(t, s.Create(ctx, other))
}

func TestAppointmentsListByParticipant(t *testing.T) {
	db := newTestDB(t)
	s := NewAppointments(db)
	p1 := seedUser(t, db, models.RolePatient, "p1@example.com")
	p2 := seedUser(t, db, models.RolePatient, "p2@example.com")
	d := seedUser(t, db, models.RoleDoctor, "d@example.com")
	ctx := context.Background()

	seedAppointment(t, s, p1.ID, d.ID, "2030-03-01")
	seedAppointment(t, s, p1.ID, d.ID, "2030-02-01")
	seedAppointment(t, s, p2.ID, d.ID, "2030-01-01")

	mine, err := s.ListByParticipant(ctx, p1.ID, models.FieldPatient)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "2030-02-01", mine[0].Date)
	require.NotNil(t, mine[0].Doctor)
	assert.Equal(t, d.ID, mine[0].Doctor.ID)

	theirs, err := s.ListByParticipant(ctx, d.ID, models.FieldDoctor)
	require.NoError(t, err)
	assert.Len(t, theirs, 3)

	_, err = s.ListByParticipant(ctx, d.ID, "nurseId")
	assert.Error(t, err)
}

func TestAppointmentsCompleteStale(t *testing.T) {
	db := newTestDB(t)
	s := NewAppointments(db)
	p := seedUser(t, db, models.RolePatient, "p@example.com")
	d := seedUser(t, db, models.RoleDoctor, "d@example.com")
	ctx := context.Background()

	old := time.Date(2030, 1, 1, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return old }
	stale := seedAppointment(t, s, p.ID, d.ID, "2030-01-01")
	_, err := s.UpdateStatus(ctx, stale.ID, models.StatusInProgress)
	require.NoError(t, err)

	s.now = func() time.Time { return old.Add(6 * time.Hour) }
	fresh := seedAppointment(t, s, p.ID, d.ID, "2030-01-02")
	_, err = s.UpdateStatus(ctx, fresh.ID, models.StatusInProgress)
	require.NoError(t, err)
	untouched := seedAppointment(t, s, p.ID, d.ID, "2030-01-03")

	n, err := s.CompleteStale(ctx, old.Add(4*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, _ := s.FetchByID(ctx, stale.ID)
	assert.Equal(t, models.StatusCompleted, got.Status)
	got, _ = s.FetchByID(ctx, fresh.ID)
	assert.Equal(t, models.StatusInProgress, got.Status)
	got, _ = s.FetchByID(ctx, untouched.ID)
	assert.Equal(t, models.StatusScheduled, got.Status)
}

func TestMessagesInbox(t *testing.T) {
	db := newTestDB(t)
	s := NewMessages(db)
	p := seedUser(t, db, models.RolePatient, "p@example.com")
	d := seedUser(t, db, models.RoleDoctor, "d@example.com")
	other := seedUser(t, db, models.RoleDoctor, "d2@example.com")
	ctx := context.Background()

	msg := &models.Message{PatientID: p.ID, DoctorID: d.ID, Subject: "rash", Content: "it itches"}
	require.NoError(t, s.Send(ctx, msg))
	require.NoError(t, s.Send(ctx, &models.Message{PatientID: p.ID, DoctorID: other.ID, Content: "hello"}))

	inbox, err := s.ListByDoctor(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.False(t, inbox[0].Read)
	require.NotNil(t, inbox[0].Patient)
	assert.Equal(t, p.ID, inbox[0].Patient.ID)

	unread, err := s.UnreadCount(ctx, d.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, unread)

	// Another doctor cannot mark it.
	_, err = s.MarkRead(ctx, other.ID, msg.ID)
	assert.ErrorIs(t, err, ErrMessageNotFound)

	read, err := s.MarkRead(ctx, d.ID, msg.ID)
	require.NoError(t, err)
	assert.True(t, read.Read)
	require.NotNil(t, read.ReadAt)

	again, err := s.MarkRead(ctx, d.ID, msg.ID)
	require.NoError(t, err)
	assert.True(t, again.Read)

	unread, err = s.UnreadCount(ctx, d.ID)
	require.NoError(t, err)
	assert.Zero(t, unread)
}

func TestAppointmentsBookedSlots(t *testing.T) {
	db := newTestDB(t)
	s := NewAppointments(db)
	p := seedUser(t, db, models.RolePatient, "p@example.com")
	d := seedUser(t, db, models.RoleDoctor, "d@example.com")
	ctx := context.Background()

	booked := seedAppointment(t, s, p.ID, d.ID, "2030-01-02")
	cancelled := &models.Appointment{PatientID: p.ID, DoctorID: d.ID, Date: "2030-01-02", Time: "10:00 AM"}
	require.NoError(t, s.Create(ctx, cancelled))
	_, err := s.UpdateStatus(ctx, cancelled.ID, models.StatusCancelled)
	require.NoError(t, err)
	seedAppointment(t, s, p.ID, d.ID, "2030-01-03")

	slots, err := s.BookedSlots(ctx, d.ID, "2030-01-02")
	require.NoError(t, err)
	assert.Equal(t, []string{booked.Time}, slots)

	slots, err = s.BookedSlots(ctx, p.ID, "2030-01-02")
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestStaleCallSweeper(t *testing.T) {
	db := newTestDB(t)
	s := NewAppointments(db)
	p := seedUser(t, db, models.RolePatient, "p@example.com")
	d := seedUser(t, db, models.RoleDoctor, "d@example.com")
	ctx := context.Background()

	start := time.Date(2030, 1, 1, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return start }
	appt := seedAppointment(t, s, p.ID, d.ID, "2030-01-01")
	_, err := s.UpdateStatus(ctx, appt.ID, models.StatusInProgress)
	require.NoError(t, err)

	sweeper := NewStaleCallSweeper(s, time.Hour, zerolog.Nop())

	s.now = func() time.Time { return start.Add(30 * time.Minute) }
	sweeper.Run()
	got, _ := s.FetchByID(ctx, appt.ID)
	assert.Equal(t, models.StatusInProgress, got.Status)

	// A heartbeat from the live call moves the cutoff along.
	s.now = func() time.Time { return start.Add(90 * time.Minute) }
	_, err = s.UpdateStatus(ctx, appt.ID, models.StatusInProgress)
	require.NoError(t, err)

	s.now = func() time.Time { return start.Add(2 * time.Hour) }
	sweeper.Run()
	got, _ = s.FetchByID(ctx, appt.ID)
	assert.Equal(t, models.StatusInProgress, got.Status)

	s.now = func() time.Time { return start.Add(3 * time.Hour) }
	sweeper.Run()
	got, _ = s.FetchByID(ctx, appt.ID)
	assert.Equal(t, models.StatusCompleted, got.Status)

	c := cron.New()
	_, err = sweeper.Schedule(c, "@every 15m")
	assert.NoError(t, err)
	_, err = sweeper.Schedule(c, "not a schedule")
	assert.Error(t, err)
}
