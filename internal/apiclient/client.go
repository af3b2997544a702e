// Package apiclient talks to the telehealth REST API on behalf of a call
// agent.
package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"telehealth-server/internal/call"
	"telehealth-server/internal/models"
)

var ErrNotLoggedIn = errors.New("not logged in")

// StatusError is a non-2xx API response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Code, e.Message)
}

type envelope struct {
	Status  int                 `json:"status"`
	Message string              `json:"message"`
	Data    jsoniter.RawMessage `json:"data"`
	Error   string              `json:"error"`
}

// Client is an authenticated API session. It implements
// call.AppointmentStore and refreshes its access token once when a request
// is rejected as unauthenticated.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	log     zerolog.Logger

	mu      sync.RWMutex
	access  string
	refresh string
	user    models.UserSanitized
}

var _ call.AppointmentStore = (*Client)(nil)

// New creates a client for the API served at baseURL.
func New(baseURL string, logger zerolog.Logger) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		HTTP:    &http.Client{Timeout: 15 * time.Second},
		log:     logger.With().Str("component", "apiclient").Logger(),
	}
}

// Login authenticates with email and password.
func (c *Client) Login(ctx context.Context, email, password string) (models.UserSanitized, error) {
	var out struct {
		AccessToken  string               `json:"accessToken"`
		RefreshToken string               `json:"refreshToken"`
		User         models.UserSanitized `json:"user"`
	}
	body := map[string]string{"email": email, "password": password}
	if err := c.send(ctx, http.MethodPost, "/auth/login", "", body, &out); err != nil {
		return models.UserSanitized{}, fmt.Errorf("login: %w", err)
	}

	c.mu.Lock()
	c.access, c.refresh, c.user = out.AccessToken, out.RefreshToken, out.User
	c.mu.Unlock()
	c.log.Info().Str("user_id", out.User.ID).Str("role", string(out.User.Role)).Msg("logged in")
	return out.User, nil
}

// Token returns the current access token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.access
}

// User returns the logged in user.
func (c *Client) User() models.UserSanitized {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

// FetchByID loads an appointment the caller takes part in.
func (c *Client) FetchByID(ctx context.Context, id string) (*models.Appointment, error) {
	var appt models.Appointment
	if err := c.authed(ctx, http.MethodGet, "/appointments/"+url.PathEscape(id), nil, &appt); err != nil {
		return nil, mapStoreError(err)
	}
	return &appt, nil
}

// UpdateStatus moves an appointment to status.
func (c *Client) UpdateStatus(ctx context.Context, id string, status models.AppointmentStatus) (*models.Appointment, error) {
	var appt models.Appointment
	body := map[string]models.AppointmentStatus{"status": status}
	if err := c.authed(ctx, http.MethodPatch, "/appointments/"+url.PathEscape(id)+"/status", body, &appt); err != nil {
		return nil, mapStoreError(err)
	}
	return &appt, nil
}

func mapStoreError(err error) error {
	var se *StatusError
	if !errors.As(err, &se) {
		return err
	}
	switch se.Code {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", models.ErrAppointmentNotFound, se.Message)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", call.ErrUnauthorized, se.Message)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", models.ErrInvalidTransition, se.Message)
	}
	return err
}

// authed sends an authenticated request, refreshing the session once on 401.
func (c *Client) authed(ctx context.Context, method, path string, body, out any) error {
	token := c.Token()
	if token == "" {
		return ErrNotLoggedIn
	}
	err := c.send(ctx, method, path, token, body, out)

	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusUnauthorized {
		return err
	}
	if rerr := c.refreshSession(ctx); rerr != nil {
		c.log.Warn().Err(rerr).Msg("session refresh failed")
		return err
	}
	return c.send(ctx, method, path, c.Token(), body, out)
}

func (c *Client) refreshSession(ctx context.Context) error {
	c.mu.RLock()
	refresh := c.refresh
	c.mu.RUnlock()

	var out struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	if err := c.send(ctx, http.MethodPost, "/auth/refresh-token", "", map[string]string{"refreshToken": refresh}, &out); err != nil {
		return err
	}

	c.mu.Lock()
	c.access, c.refresh = out.AccessToken, out.RefreshToken
	c.mu.Unlock()
	return nil
}

func (c *Client) send(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := jsoniter.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+"/api/v1"+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	var env envelope
	if err := jsoniter.NewDecoder(resp.Body).Decode(&env); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	if resp.StatusCode/100 != 2 {
		msg := env.Error
		if msg == "" {
			msg = resp.Status
		}
		return &StatusError{Code: resp.StatusCode, Message: msg}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return jsoniter.Unmarshal(env.Data, out)
}
