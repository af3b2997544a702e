package apiclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"telehealth-server/internal/call"
	"telehealth-server/internal/config"
	"telehealth-server/internal/models"
	"telehealth-server/internal/routes"
	"telehealth-server/internal/signaling"
	"telehealth-server/internal/store"
)

type fixture struct {
	srv  *httptest.Server
	appt *models.Appointment
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "api.db")), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))

	users := map[string]models.Role{
		"pat@example.com": models.RolePatient,
		"dr@example.com":  models.RoleDoctor,
		"sam@example.com": models.RolePatient,
	}
	ids := map[string]string{}
	for email, role := range users {
		u := models.User{Email: email, FullName: email, Role: role}
		require.NoError(t, u.SetPassword("password123"))
		require.NoError(t, db.Create(&u).Error)
		ids[email] = u.ID
	}

	appt := &models.Appointment{
		PatientID: ids["pat@example.com"],
		DoctorID:  ids["dr@example.com"],
		Date:      "2030-01-02",
		Time:      "9:00 AM",
		Reason:    "check-up",
	}
	require.NoError(t, store.NewAppointments(db).Create(context.Background(), appt))

	cfg := &config.Config{
		Environment:               "development",
		JWTSecret:                 "access-secret",
		JWTRefreshSecret:          "refresh-secret",
		JWTExpirationMinutes:      15,
		JWTRefreshExpirationHours: 1,
	}
	r := gin.New()
	routes.SetupRoutes(r, db, cfg, signaling.NewHub(8, zerolog.Nop()), zerolog.Nop())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &fixture{srv: srv, appt: appt}
}

func (f *fixture) login(t *testing.T, email string) *Client {
	t.Helper()
	c := New(f.srv.URL+"/", zerolog.Nop())
	_, err := c.Login(context.Background(), email, "password123")
	require.NoError(t, err)
	return c
}

func TestClientActsAsAppointmentStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.login(t, "pat@example.com")
	assert.Equal(t, models.RolePatient, c.User().Role)
	assert.NotEmpty(t, c.Token())

	appt, err := c.FetchByID(ctx, f.appt.ID)
	require.NoError(t, err)
	assert.Equal(t, f.appt.DoctorID, appt.DoctorID)
	assert.Equal(t, models.StatusScheduled, appt.Status)

	appt, err = c.UpdateStatus(ctx, f.appt.ID, models.StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, appt.Status)

	_, err = c.UpdateStatus(ctx, f.appt.ID, models.StatusCancelled)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = c.FetchByID(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrAppointmentNotFound)
}

func TestClientMapsForbiddenToUnauthorized(t *testing.T) {
	f := newFixture(t)
	c := f.login(t, "sam@example.com")

	_, err := c.FetchByID(context.Background(), f.appt.ID)
	assert.ErrorIs(t, err, call.ErrUnauthorized)
}

func TestClientRefreshesExpiredSession(t *testing.T) {
	f := newFixture(t)
	c := f.login(t, "dr@example.com")
	oldRefresh := c.refresh

	c.mu.Lock()
	c.access = "expired"
	c.mu.Unlock()

	_, err := c.FetchByID(context.Background(), f.appt.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "expired", c.Token())
	assert.NotEqual(t, oldRefresh, c.refresh)
}

func TestClientErrors(t *testing.T) {
	f := newFixture(t)
	c := New(f.srv.URL, zerolog.Nop())

	_, err := c.FetchByID(context.Background(), f.appt.ID)
	assert.ErrorIs(t, err, ErrNotLoggedIn)

	_, err = c.Login(context.Background(), "pat@example.com", "wrong-password")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.Equal(t, "Invalid email or password", se.Message)
}
