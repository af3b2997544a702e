package call

import (
	"context"
	"sync"

	"telehealth-server/internal/models"
)

type fakeStore struct {
	mu       sync.Mutex
	appts    map[string]*models.Appointment
	writes   []models.AppointmentStatus
	fetchErr error
	writeErr map[models.AppointmentStatus]error
}

func newFakeStore(appts ...models.Appointment) *fakeStore {
	s := &fakeStore{
		appts:    make(map[string]*models.Appointment),
		writeErr: make(map[models.AppointmentStatus]error),
	}
	for i := range appts {
		a := appts[i]
		s.appts[a.ID] = &a
	}
	return s
}

func (s *fakeStore) FetchByID(_ context.Context, id string) (*models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	a, ok := s.appts[id]
	if !ok {
		return nil, models.ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *fakeStore) UpdateStatus(_ context.Context, id string, status models.AppointmentStatus) (*models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, status)
	if err := s.writeErr[status]; err != nil {
		return nil, err
	}
	a, ok := s.appts[id]
	if !ok {
		return nil, models.ErrAppointmentNotFound
	}
	if !models.CanTransition(a.Status, status) {
		return nil, models.ErrInvalidTransition
	}
	a.Status = status
	cp := *a
	return &cp, nil
}

func (s *fakeStore) status(id string) models.AppointmentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appts[id].Status
}

func (s *fakeStore) writeLog() []models.AppointmentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AppointmentStatus(nil), s.writes...)
}

type fakeTrack struct {
	id   string
	kind TrackKind

	mu      sync.Mutex
	enabled bool
	stops   int
}

func (t *fakeTrack) ID() string      { return t.id }
func (t *fakeTrack) Kind() TrackKind { return t.kind }

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	t.stops++
	t.mu.Unlock()
}

func (t *fakeTrack) stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops > 0
}

type fakeStream struct {
	audio *fakeTrack
	video *fakeTrack
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		audio: &fakeTrack{id: "mic", kind: KindAudio},
		video: &fakeTrack{id: "cam", kind: KindVideo},
	}
}

func (s *fakeStream) Tracks() []Track { return []Track{s.audio, s.video} }

func (s *fakeStream) stopped() bool { return s.audio.stopped() && s.video.stopped() }

type fakeMedia struct {
	mu      sync.Mutex
	errs    []error
	gate    chan struct{}
	called  chan struct{}
	streams []*fakeStream
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{called: make(chan struct{}, 8)}
}

func (f *fakeMedia) Acquire(_ context.Context, c Constraints) (Stream, error) {
	select {
	case f.called <- struct{}{}:
	default:
	}
	if f.gate != nil {
		<-f.gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	s := newFakeStream()
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeMedia) acquired() []*fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeStream(nil), f.streams...)
}

type fakeChannel struct {
	initiator bool
	local     Stream
	events    chan ChannelEvent

	mu       sync.Mutex
	closes   int
	received []Signal
}

func (c *fakeChannel) Events() <-chan ChannelEvent { return c.events }

func (c *fakeChannel) Signal(s Signal) error {
	c.mu.Lock()
	c.received = append(c.received, s)
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	if c.closes == 1 {
		close(c.events)
	}
	return nil
}

func (c *fakeChannel) emit(ev ChannelEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closes == 0 {
		c.events <- ev
	}
}

func (c *fakeChannel) closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes > 0
}

func (c *fakeChannel) signals() []Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Signal(nil), c.received...)
}

type fakeFactory struct {
	mu       sync.Mutex
	err      error
	channels []*fakeChannel
}

func (f *fakeFactory) Open(_ context.Context, local Stream, initiator bool) (PeerChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	ch := &fakeChannel{initiator: initiator, local: local, events: make(chan ChannelEvent, 16)}
	f.channels = append(f.channels, ch)
	return ch, nil
}

func (f *fakeFactory) latest() *fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.channels) == 0 {
		return nil
	}
	return f.channels[len(f.channels)-1]
}

type fakeRemote string

func (r fakeRemote) ID() string { return string(r) }

type fakeRelay struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (r *fakeRelay) Join(_ context.Context, appointmentID, participantID string) (RelayConn, error) {
	c := &fakeConn{appointmentID: appointmentID, participantID: participantID, recv: make(chan Signal, 16)}
	r.mu.Lock()
	r.conns = append(r.conns, c)
	r.mu.Unlock()
	return c, nil
}

func (r *fakeRelay) latest() *fakeConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.conns) == 0 {
		return nil
	}
	return r.conns[len(r.conns)-1]
}

type fakeConn struct {
	appointmentID string
	participantID string
	recv          chan Signal

	mu     sync.Mutex
	sent   []Signal
	closed bool
}

func (c *fakeConn) Send(_ context.Context, s Signal) error {
	c.mu.Lock()
	c.sent = append(c.sent, s)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Receive() <-chan Signal { return c.recv }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.recv)
	}
	return nil
}

func (c *fakeConn) deliver(s Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.recv <- s
	}
}

func (c *fakeConn) sentSignals() []Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Signal(nil), c.sent...)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
