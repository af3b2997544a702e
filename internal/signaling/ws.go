package signaling

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"telehealth-server/internal/call"
	"telehealth-server/internal/middleware"
	"telehealth-server/internal/models"
	"telehealth-server/internal/utils"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

// AppointmentFetcher looks up the appointment a caller wants to signal on.
type AppointmentFetcher interface {
	FetchByID(ctx context.Context, id string) (*models.Appointment, error)
}

// Handler serves the websocket transport of the hub.
type Handler struct {
	hub      *Hub
	appts    AppointmentFetcher
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewHandler creates the websocket handler. Browser connections must come
// from origin; connections without an Origin header (native agents) are
// accepted.
func NewHandler(hub *Hub, appts AppointmentFetcher, origin string, logger zerolog.Logger) *Handler {
	return &Handler{
		hub:   hub,
		appts: appts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				o := r.Header.Get("Origin")
				return o == "" || o == origin
			},
		},
		log: logger.With().Str("component", "signaling").Logger(),
	}
}

// Serve handles GET /calls/:id/signal. The caller must be a participant of
// the appointment.
func (h *Handler) Serve(c *gin.Context) {
	userID, ok := middleware.GetUserIDFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return
	}
	apptID := c.Param("id")

	appt, err := h.appts.FetchByID(c.Request.Context(), apptID)
	if errors.Is(err, models.ErrAppointmentNotFound) {
		utils.NotFound(c, "Appointment not found")
		return
	}
	if err != nil {
		utils.InternalServerError(c, "Failed to load appointment")
		return
	}
	if _, err := call.Authorize(appt, userID); err != nil {
		utils.Forbidden(c, "You are not a participant of this appointment")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	l := h.log.With().Str("appointment_id", apptID).Str("participant_id", userID).Logger()
	rc, err := h.hub.Join(c.Request.Context(), apptID, userID)
	if err != nil {
		l.Warn().Err(err).Msg("join refused")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	go writePump(conn, rc, l)
	readPump(conn, rc, l)
}

// readPump forwards client frames to the hub until the socket fails, then
// leaves the room.
func readPump(conn *websocket.Conn, rc call.RelayConn, l zerolog.Logger) {
	defer rc.Close()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				l.Warn().Err(err).Msg("signaling socket closed unexpectedly")
			}
			return
		}
		var sig call.Signal
		if err := jsoniter.Unmarshal(data, &sig); err != nil {
			l.Warn().Err(err).Msg("invalid signal frame")
			continue
		}
		if err := rc.Send(context.Background(), sig); err != nil {
			l.Warn().Err(err).Str("type", string(sig.Type)).Msg("signal not delivered")
		}
	}
}

// writePump is the only writer on conn. It exits, closing the socket, when
// the hub closes the participant's receive channel.
func writePump(conn *websocket.Conn, rc call.RelayConn, l zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case sig, ok := <-rc.Receive():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "left"))
				return
			}
			data, err := jsoniter.Marshal(sig)
			if err != nil {
				l.Error().Err(err).Msg("encode signal")
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
