// Package signaling relays call signals between the two participants of an
// appointment.
package signaling

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"telehealth-server/internal/call"
)

const DefaultQueueSize = 64

var (
	ErrRoomFull  = errors.New("call room already has two participants")
	ErrConnGone  = errors.New("signaling connection closed")
	ErrQueueFull = errors.New("signal queue full")
	ErrStopped   = errors.New("signaling hub stopped")
)

type queued struct {
	from string
	sig  call.Signal
}

type room struct {
	id      string
	members map[string]*endpoint
	// backlog holds signals sent while the other participant was absent.
	backlog []queued
}

// Hub keeps one room per appointment. A room admits two participants. A
// signal from one is delivered to the other, or queued until the other joins.
type Hub struct {
	queueSize int
	log       zerolog.Logger

	mu      sync.Mutex
	rooms   map[string]*room
	stopped bool
}

// NewHub creates a hub whose rooms queue at most queueSize signals.
func NewHub(queueSize int, logger zerolog.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		queueSize: queueSize,
		log:       logger.With().Str("component", "signaling").Logger(),
		rooms:     make(map[string]*room),
	}
}

// Join enters participantID into the appointment's room. Joining again
// replaces the participant's previous connection.
func (h *Hub) Join(_ context.Context, appointmentID, participantID string) (call.RelayConn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return nil, ErrStopped
	}

	r, ok := h.rooms[appointmentID]
	if !ok {
		r = &room{id: appointmentID, members: make(map[string]*endpoint)}
		h.rooms[appointmentID] = r
	}

	if old, ok := r.members[participantID]; ok {
		h.log.Info().Str("appointment_id", appointmentID).Str("participant_id", participantID).Msg("replacing signaling connection")
		old.shut()
		delete(r.members, participantID)
	} else if len(r.members) >= 2 {
		return nil, ErrRoomFull
	}

	e := &endpoint{
		hub:         h,
		room:        r,
		participant: participantID,
		recv:        make(chan call.Signal, h.queueSize),
	}
	r.members[participantID] = e

	// Anything the participant sent before rejoining is stale.
	r.backlog = lo.Reject(r.backlog, func(q queued, _ int) bool { return q.from == participantID })
	for _, q := range r.backlog {
		e.recv <- q.sig
	}
	r.backlog = nil

	h.log.Info().
		Str("appointment_id", appointmentID).
		Str("participant_id", participantID).
		Int("members", len(r.members)).
		Msg("joined call room")
	return e, nil
}

func (h *Hub) send(e *endpoint, sig call.Signal) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e.closed {
		return ErrConnGone
	}

	sig.From = e.participant
	sig.AppointmentID = e.room.id

	for pid, other := range e.room.members {
		if pid == e.participant {
			continue
		}
		select {
		case other.recv <- sig:
			return nil
		default:
			h.log.Warn().Str("appointment_id", e.room.id).Str("participant_id", pid).Msg("signal dropped, receiver not reading")
			return ErrQueueFull
		}
	}

	if len(e.room.backlog) >= h.queueSize {
		return ErrQueueFull
	}
	e.room.backlog = append(e.room.backlog, queued{from: e.participant, sig: sig})
	return nil
}

func (h *Hub) leave(e *endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e.closed {
		return
	}
	e.shut()

	r := e.room
	if r.members[e.participant] == e {
		delete(r.members, e.participant)
	}
	r.backlog = lo.Reject(r.backlog, func(q queued, _ int) bool { return q.from == e.participant })
	if len(r.members) == 0 {
		delete(h.rooms, r.id)
	}
	h.log.Info().Str("appointment_id", r.id).Str("participant_id", e.participant).Msg("left call room")
}

// Participants returns who is currently in the appointment's room.
func (h *Hub) Participants(appointmentID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[appointmentID]
	if !ok {
		return nil
	}
	return lo.Keys(r.members)
}

// Stop disconnects everyone and refuses further joins.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	for id, r := range h.rooms {
		for _, e := range r.members {
			e.shut()
		}
		delete(h.rooms, id)
	}
}

// endpoint is a participant's connection to a room. Its fields other than
// recv are guarded by the hub's mutex.
type endpoint struct {
	hub         *Hub
	room        *room
	participant string
	recv        chan call.Signal
	closed      bool
}

func (e *endpoint) shut() {
	if !e.closed {
		e.closed = true
		close(e.recv)
	}
}

func (e *endpoint) Send(_ context.Context, sig call.Signal) error {
	return e.hub.send(e, sig)
}

func (e *endpoint) Receive() <-chan call.Signal { return e.recv }

func (e *endpoint) Close() error {
	e.hub.leave(e)
	return nil
}
