package call

import (
	"context"
	"encoding/json"

	"telehealth-server/internal/models"
)

// AppointmentStore is the slice of the appointment record store a session
// needs. Implemented by store.Appointments on the server and by
// apiclient.Client in the call agent.
type AppointmentStore interface {
	FetchByID(ctx context.Context, id string) (*models.Appointment, error)
	UpdateStatus(ctx context.Context, id string, status models.AppointmentStatus) (*models.Appointment, error)
}

// Constraints selects which devices to capture.
type Constraints struct {
	Video bool
	Audio bool
}

// TrackKind is the media kind of a local track.
type TrackKind string

const (
	KindAudio TrackKind = "audio"
	KindVideo TrackKind = "video"
)

// Track is one local device track. Stop releases the device and must be
// safe to call more than once.
type Track interface {
	ID() string
	Kind() TrackKind
	Enabled() bool
	SetEnabled(enabled bool)
	Stop()
}

// Stream is the local camera and microphone capture. The session that
// acquired it is its only owner.
type Stream interface {
	Tracks() []Track
}

// MediaSource acquires local devices.
type MediaSource interface {
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}

// RemoteStream is the media received from the other participant. The
// channel that produced it owns its lifecycle.
type RemoteStream interface {
	ID() string
}

// SignalType tags a signaling envelope.
type SignalType string

const (
	SignalOffer     SignalType = "offer"
	SignalAnswer    SignalType = "answer"
	SignalCandidate SignalType = "candidate"
	SignalHangup    SignalType = "hangup"
)

// Signal is one signaling message exchanged between the two participants of
// an appointment. It is also the wire envelope of the relay.
type Signal struct {
	ID            string          `json:"id"`
	Type          SignalType      `json:"type"`
	From          string          `json:"from"`
	AppointmentID string          `json:"appointmentId"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// ChannelEventKind tags a ChannelEvent.
type ChannelEventKind int

const (
	EventSignal ChannelEventKind = iota
	EventStream
	EventError
	EventClosed
)

func (k ChannelEventKind) String() string {
	switch k {
	case EventSignal:
		return "signal"
	case EventStream:
		return "stream"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	}
	return "unknown"
}

// ChannelEvent is emitted by a PeerChannel. Exactly one of Signal, Stream or
// Err is set, according to Kind.
type ChannelEvent struct {
	Kind   ChannelEventKind
	Signal Signal
	Stream RemoteStream
	Err    error
}

// PeerChannel is a single point-to-point media connection. Events is closed
// once the channel is closed. Close must be idempotent.
type PeerChannel interface {
	Events() <-chan ChannelEvent
	Signal(s Signal) error
	Close() error
}

// ChannelFactory opens a PeerChannel carrying local. Exactly one side of an
// appointment passes initiator=true.
type ChannelFactory interface {
	Open(ctx context.Context, local Stream, initiator bool) (PeerChannel, error)
}

// RelayConn is one participant's endpoint in an appointment's signal room.
// Receive is closed when the connection goes away.
type RelayConn interface {
	Send(ctx context.Context, s Signal) error
	Receive() <-chan Signal
	Close() error
}

// SignalRelay delivers signals between the two participants of an
// appointment.
type SignalRelay interface {
	Join(ctx context.Context, appointmentID, participantID string) (RelayConn, error)
}
