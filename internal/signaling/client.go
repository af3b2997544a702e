package signaling

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"telehealth-server/internal/call"
)

// Client joins call rooms on a remote server over websocket.
type Client struct {
	serverURL string
	token     func() string
	dialer    *websocket.Dialer
	queueSize int
	log       zerolog.Logger
}

// NewClient creates a relay for the server at serverURL. token returns the
// current access token.
func NewClient(serverURL string, token func() string, logger zerolog.Logger) *Client {
	return &Client{
		serverURL: serverURL,
		token:     token,
		dialer:    websocket.DefaultDialer,
		queueSize: DefaultQueueSize,
		log:       logger.With().Str("component", "signaling-client").Logger(),
	}
}

// SignalURL returns the websocket url of an appointment's room.
func SignalURL(serverURL, appointmentID string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/v1/calls/" + appointmentID + "/signal"
	return u.String(), nil
}

func (c *Client) Join(ctx context.Context, appointmentID, participantID string) (call.RelayConn, error) {
	target, err := SignalURL(c.serverURL, appointmentID)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token())

	conn, resp, err := c.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("join call room: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("join call room: %w", err)
	}

	cc := &clientConn{
		conn: conn,
		recv: make(chan call.Signal, c.queueSize),
		done: make(chan struct{}),
		log:  c.log.With().Str("appointment_id", appointmentID).Str("participant_id", participantID).Logger(),
	}
	go cc.readLoop()
	cc.log.Info().Msg("connected to call room")
	return cc, nil
}

type clientConn struct {
	conn *websocket.Conn
	recv chan call.Signal
	done chan struct{}
	log  zerolog.Logger

	writeMu sync.Mutex
	once    sync.Once
}

func (cc *clientConn) Send(ctx context.Context, sig call.Signal) error {
	data, err := jsoniter.Marshal(sig)
	if err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeWait)
	}

	cc.writeMu.Lock()
	defer cc.writeMu.Unlock()
	_ = cc.conn.SetWriteDeadline(deadline)
	return cc.conn.WriteMessage(websocket.TextMessage, data)
}

func (cc *clientConn) Receive() <-chan call.Signal { return cc.recv }

func (cc *clientConn) readLoop() {
	defer close(cc.recv)
	for {
		_, data, err := cc.conn.ReadMessage()
		if err != nil {
			select {
			case <-cc.done:
			default:
				cc.log.Warn().Err(err).Msg("call room connection lost")
			}
			return
		}
		var sig call.Signal
		if err := jsoniter.Unmarshal(data, &sig); err != nil {
			cc.log.Warn().Err(err).Msg("invalid signal frame")
			continue
		}
		select {
		case cc.recv <- sig:
		case <-cc.done:
			return
		}
	}
}

func (cc *clientConn) Close() error {
	var err error
	cc.once.Do(func() {
		close(cc.done)
		cc.writeMu.Lock()
		_ = cc.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(writeWait))
		cc.writeMu.Unlock()
		err = cc.conn.Close()
	})
	return err
}
