// Package call drives one video call for one appointment, from mounting the
// call view to tearing it down.
//
// A Manager owns all session state on a single loop goroutine. Store calls,
// device acquisition and channel negotiation run on their own goroutines and
// hand their results back to the loop tagged with the generation that
// started them. A result from an older generation, or one that arrives after
// Close, is dropped and whatever it carries is released.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"telehealth-server/internal/models"
)

const (
	DefaultRecoveryDelay = time.Second
	DefaultStoreTimeout  = 10 * time.Second

	signalTimeout = 5 * time.Second
)

// Config wires a Manager to its collaborators.
type Config struct {
	Store    AppointmentStore
	Media    MediaSource
	Channels ChannelFactory
	// Relay carries signals to the other participant. When nil, outbound
	// signals are logged and never delivered.
	Relay SignalRelay
	Clock clock.Clock

	RecoveryDelay time.Duration
	StoreTimeout  time.Duration
	// Heartbeat re-writes the in-progress status at this interval while
	// connected, which keeps the stale-call sweeper off a live call. Zero
	// disables it.
	Heartbeat time.Duration

	Logger *zerolog.Logger
}

// statusWrite is an in-flight or finished in-progress write.
type statusWrite struct {
	done chan struct{}
	err  error
}

func finishedWrite() *statusWrite {
	w := &statusWrite{done: make(chan struct{})}
	close(w.done)
	return w
}

type session struct {
	appointmentID string
	participantID string

	status    Status
	err       *Error
	recovery  bool
	role      Role
	initiator bool

	local   Stream
	audio   bool
	video   bool
	remote  RemoteStream
	channel PeerChannel
	relay   RelayConn

	// claim is set once the appointment is ours to complete.
	claim  *statusWrite
	ending chan struct{}
	timer  *clock.Timer
	beat   *clock.Timer
}

// Manager is the call session manager.
type Manager struct {
	cfg Config
	log zerolog.Logger

	ops       chan func()
	quit      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	snap    Snapshot
	subs    map[uint64]chan Snapshot
	nextSub uint64

	// Loop-owned.
	s        session
	gen      uint64
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	tornDown bool
}

// NewManager creates a Manager and starts its loop. Call Close when the
// call view goes away.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil || cfg.Media == nil || cfg.Channels == nil {
		return nil, ErrMissingDependency
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.RecoveryDelay <= 0 {
		cfg.RecoveryDelay = DefaultRecoveryDelay
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	m := &Manager{
		cfg:  cfg,
		log:  logger.With().Str("component", "call").Logger(),
		ops:  make(chan func()),
		quit: make(chan struct{}),
		subs: make(map[uint64]chan Snapshot),
		s:    session{status: StatusInitializing},
	}
	m.snap = m.buildSnapshot()
	go m.run()
	return m, nil
}

func (m *Manager) run() {
	defer close(m.quit)
	for {
		op := <-m.ops
		op()
		if m.tornDown {
			return
		}
	}
}

// post queues op on the loop. It reports false once the loop has exited.
// Never call it from the loop itself.
func (m *Manager) post(op func()) bool {
	select {
	case m.ops <- op:
		return true
	case <-m.quit:
		return false
	}
}

// do runs op on the loop and waits for it.
func (m *Manager) do(op func()) bool {
	done := make(chan struct{})
	if !m.post(func() {
		defer close(done)
		op()
	}) {
		return false
	}
	<-done
	return true
}

// Start mounts the session for participantID on appointmentID.
func (m *Manager) Start(appointmentID, participantID string) error {
	var err error
	if !m.do(func() {
		if m.started {
			err = ErrAlreadyStarted
			return
		}
		m.started = true
		m.log = m.log.With().
			Str("appointment_id", appointmentID).
			Str("participant_id", participantID).
			Logger()
		m.s = session{appointmentID: appointmentID, participantID: participantID}
		m.begin()
	}) {
		return ErrManagerTornDown
	}
	return err
}

// Snapshot returns the current view-facing state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Subscribe returns a channel that always holds the latest snapshot. Older
// snapshots a slow reader has not taken are replaced. The channel is closed
// after the snapshot that reports Closed.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Snapshot, 1)
	ch <- m.snap
	if m.snap.Closed {
		close(ch)
		return ch, func() {}
	}

	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(ch)
		}
	}
}

// ToggleAudio flips the microphone and returns whether it is now enabled.
func (m *Manager) ToggleAudio() (bool, error) {
	return m.toggle(KindAudio)
}

// ToggleVideo flips the camera and returns whether it is now enabled.
func (m *Manager) ToggleVideo() (bool, error) {
	return m.toggle(KindVideo)
}

func (m *Manager) toggle(kind TrackKind) (enabled bool, err error) {
	if !m.do(func() {
		if m.s.local == nil {
			err = ErrNoLocalMedia
			return
		}
		flag := &m.s.audio
		if kind == KindVideo {
			flag = &m.s.video
		}
		*flag = !*flag
		enabled = *flag
		for _, t := range lo.Filter(m.s.local.Tracks(), func(t Track, _ int) bool { return t.Kind() == kind }) {
			t.SetEnabled(enabled)
		}
		m.log.Info().Str("kind", string(kind)).Bool("enabled", enabled).Msg("local track toggled")
		m.publish()
	}) {
		return false, ErrManagerTornDown
	}
	return enabled, err
}

// EndCall hangs up. It releases local media and the channel, reports
// StatusEnded, then marks the appointment completed. A failed completion
// write is logged and ignored. Concurrent and repeated calls wait for the
// same teardown.
func (m *Manager) EndCall(ctx context.Context) error {
	var done chan struct{}
	if !m.do(func() { done = m.end(true, "local hangup") }) {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retry restarts the session from StatusInitializing. It is only available
// once a retryable error has offered recovery.
func (m *Manager) Retry() error {
	var err error
	if !m.do(func() {
		if m.s.status != StatusError || m.s.err == nil || m.s.err.Terminal() || !m.s.recovery {
			err = ErrRetryUnavailable
			return
		}
		m.log.Info().Msg("retrying call")
		if m.s.timer != nil {
			m.s.timer.Stop()
		}
		m.s = session{appointmentID: m.s.appointmentID, participantID: m.s.participantID}
		m.begin()
	}) {
		return ErrManagerTornDown
	}
	return err
}

// Close unmounts the session. Media and the channel are released before it
// returns, no appointment write is made, and nothing changes the snapshot
// afterwards.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.do(func() {
			if m.s.ending == nil {
				m.release(true)
			}
			m.invalidate()
			m.tornDown = true
			m.log.Info().Str("status", string(m.s.status)).Msg("call session closed")
			m.publishClosed()
		})
	})
}

// invalidate drops every in-flight result of the current generation.
func (m *Manager) invalidate() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.gen++
}

func (m *Manager) begin() {
	m.invalidate()
	m.ctx, m.cancel = context.WithCancel(context.Background())
	gen, ctx, id := m.gen, m.ctx, m.s.appointmentID

	m.setStatus(StatusInitializing)
	go func() {
		fctx, cancel := context.WithTimeout(ctx, m.cfg.StoreTimeout)
		defer cancel()
		appt, err := m.cfg.Store.FetchByID(fctx, id)
		m.post(func() { m.onFetched(gen, appt, err) })
	}()
}

func (m *Manager) onFetched(gen uint64, appt *models.Appointment, err error) {
	if gen != m.gen {
		return
	}
	switch {
	case errors.Is(err, models.ErrAppointmentNotFound), errors.Is(err, ErrNotFound):
		m.fail(ErrNotFound, "Appointment not found", nil)
		return
	case errors.Is(err, ErrUnauthorized):
		m.fail(ErrUnauthorized, "You are not authorized to join this call", nil)
		return
	case err != nil:
		m.fail(ErrStore, "Failed to load appointment details", err)
		return
	}

	role, err := Authorize(appt, m.s.participantID)
	if err != nil {
		m.fail(ErrUnauthorized, "You are not authorized to join this call", nil)
		return
	}
	if appt.Status.Closed() {
		m.fail(ErrAppointmentClosed, fmt.Sprintf("This appointment is already %s", appt.Status), nil)
		return
	}

	m.s.role = role
	m.s.initiator = role == RolePatient
	m.setStatus(StatusAuthorizing)

	if appt.Status == models.StatusInProgress {
		m.s.claim = finishedWrite()
		m.connect()
		return
	}

	w := &statusWrite{done: make(chan struct{})}
	m.s.claim = w
	id := m.s.appointmentID
	go func() {
		// Not tied to the generation: once issued, the write has to land so
		// that the completion write can follow it.
		wctx, cancel := context.WithTimeout(context.Background(), m.cfg.StoreTimeout)
		_, err := m.cfg.Store.UpdateStatus(wctx, id, models.StatusInProgress)
		cancel()
		w.err = err
		close(w.done)
		m.post(func() { m.onClaimed(gen, err) })
	}()
}

func (m *Manager) onClaimed(gen uint64, err error) {
	if gen != m.gen {
		return
	}
	if err != nil {
		m.fail(ErrStore, "Failed to start the call", err)
		return
	}
	m.connect()
}

func (m *Manager) connect() {
	m.setStatus(StatusConnecting)
	gen, ctx := m.gen, m.ctx
	go func() {
		stream, err := m.cfg.Media.Acquire(ctx, Constraints{Video: true, Audio: true})
		if !m.post(func() { m.onMedia(gen, stream, err) }) && stream != nil {
			stopStream(stream)
		}
	}()
}

func (m *Manager) onMedia(gen uint64, stream Stream, err error) {
	if gen != m.gen {
		if stream != nil {
			m.log.Debug().Msg("discarding late local stream")
			stopStream(stream)
		}
		return
	}
	if err != nil {
		m.fail(ErrMedia, "Failed to access camera and microphone", err)
		return
	}

	m.s.local = stream
	m.s.audio, m.s.video = true, true
	for _, t := range stream.Tracks() {
		t.SetEnabled(true)
	}
	m.log.Info().Int("tracks", len(stream.Tracks())).Msg("local media acquired")
	m.publish()

	ctx, initiator := m.ctx, m.s.initiator
	id, pid := m.s.appointmentID, m.s.participantID
	go func() {
		var rc RelayConn
		if m.cfg.Relay != nil {
			var err error
			if rc, err = m.cfg.Relay.Join(ctx, id, pid); err != nil {
				m.post(func() { m.onChannel(gen, nil, nil, err) })
				return
			}
		}
		ch, err := m.cfg.Channels.Open(ctx, stream, initiator)
		if !m.post(func() { m.onChannel(gen, rc, ch, err) }) {
			closeQuietly(rc, ch)
		}
	}()
}

func (m *Manager) onChannel(gen uint64, rc RelayConn, ch PeerChannel, err error) {
	if gen != m.gen {
		closeQuietly(rc, ch)
		return
	}
	if err != nil {
		closeQuietly(rc, ch)
		m.fail(ErrSignaling, "Video call connection error", err)
		return
	}

	m.s.channel = ch
	m.s.relay = rc
	m.log.Info().Bool("initiator", m.s.initiator).Bool("relayed", rc != nil).Msg("peer channel opened")
	go m.pumpChannel(gen, ch)
	if rc != nil {
		go m.pumpRelay(gen, rc)
	}
}

func (m *Manager) pumpChannel(gen uint64, ch PeerChannel) {
	for ev := range ch.Events() {
		if !m.post(func() { m.onChannelEvent(gen, ch, ev) }) {
			return
		}
	}
	m.post(func() {
		if gen == m.gen && m.s.channel == ch {
			m.end(false, "peer channel gone")
		}
	})
}

func (m *Manager) onChannelEvent(gen uint64, ch PeerChannel, ev ChannelEvent) {
	if gen != m.gen || m.s.channel != ch {
		return
	}
	switch ev.Kind {
	case EventSignal:
		m.sendSignal(ev.Signal)
	case EventStream:
		if m.s.status != StatusConnecting || m.s.remote != nil {
			m.log.Debug().Msg("ignoring repeated remote stream")
			return
		}
		m.s.remote = ev.Stream
		m.scheduleHeartbeat()
		m.setStatus(StatusConnected)
	case EventError:
		m.fail(ErrSignaling, "Video call connection error", ev.Err)
	case EventClosed:
		m.end(false, "remote peer closed the connection")
	}
}

// scheduleHeartbeat arms the next in-progress refresh of the current
// generation. The write itself is fire and forget; a failure is logged.
func (m *Manager) scheduleHeartbeat() {
	if m.cfg.Heartbeat <= 0 {
		return
	}
	gen := m.gen
	m.s.beat = m.cfg.Clock.AfterFunc(m.cfg.Heartbeat, func() {
		m.post(func() {
			if gen != m.gen || m.s.status != StatusConnected {
				return
			}
			m.scheduleHeartbeat()
			id, logger := m.s.appointmentID, m.log
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), m.cfg.StoreTimeout)
				defer cancel()
				if _, err := m.cfg.Store.UpdateStatus(ctx, id, models.StatusInProgress); err != nil {
					logger.Warn().Err(err).Msg("call heartbeat failed")
				}
			}()
		})
	})
}

func (m *Manager) sendSignal(sig Signal) {
	sig.ID = uuid.NewString()
	sig.From = m.s.participantID
	sig.AppointmentID = m.s.appointmentID

	if m.s.relay == nil {
		m.log.Info().Str("type", string(sig.Type)).Int("payload_bytes", len(sig.Payload)).Msg("signal not relayed")
		return
	}
	ctx, cancel := context.WithTimeout(m.ctx, signalTimeout)
	defer cancel()
	if err := m.s.relay.Send(ctx, sig); err != nil {
		m.fail(ErrSignaling, "Could not reach the other participant", err)
	}
}

func (m *Manager) pumpRelay(gen uint64, rc RelayConn) {
	for sig := range rc.Receive() {
		if !m.post(func() { m.onRelaySignal(gen, rc, sig) }) {
			return
		}
	}
	m.post(func() {
		if gen != m.gen || m.s.relay != rc {
			return
		}
		if m.s.status == StatusConnecting {
			m.fail(ErrSignaling, "Lost connection to the signaling relay", nil)
			return
		}
		m.log.Warn().Msg("signaling relay closed during call")
		m.s.relay = nil
		_ = rc.Close()
	})
}

func (m *Manager) onRelaySignal(gen uint64, rc RelayConn, sig Signal) {
	if gen != m.gen || m.s.relay != rc || sig.From == m.s.participantID {
		return
	}
	if sig.Type == SignalHangup {
		m.end(false, "remote participant hung up")
		return
	}
	if err := m.s.channel.Signal(sig); err != nil {
		m.fail(ErrSignaling, "Video call connection error", err)
	}
}

// fail parks the session in StatusError. Everything the session holds is
// released. Retryable errors offer recovery after the recovery delay.
func (m *Manager) fail(kind error, msg string, cause error) {
	e := newError(kind, msg, cause)
	m.release(false)
	m.invalidate()

	m.s.err = e
	m.s.recovery = false
	if !e.Terminal() {
		gen := m.gen
		m.s.timer = m.cfg.Clock.AfterFunc(m.cfg.RecoveryDelay, func() {
			m.post(func() {
				if gen == m.gen && m.s.status == StatusError {
					m.s.recovery = true
					m.log.Info().Msg("recovery offered")
					m.publish()
				}
			})
		})
	}
	m.log.Error().Err(e).Bool("terminal", e.Terminal()).Msg("call failed")
	m.setStatus(StatusError)
}

// end tears the call down and reports StatusEnded. The returned channel is
// closed once the best-effort completion write has finished.
func (m *Manager) end(sendHangup bool, reason string) chan struct{} {
	if m.s.ending != nil {
		return m.s.ending
	}
	done := make(chan struct{})
	m.s.ending = done

	m.release(sendHangup)
	m.invalidate()
	m.s.err = nil
	m.s.recovery = false
	m.log.Info().Str("reason", reason).Msg("call ended")
	m.setStatus(StatusEnded)

	claim, id, logger := m.s.claim, m.s.appointmentID, m.log
	go func() {
		defer close(done)
		m.complete(logger, claim, id)
	}()
	return done
}

func (m *Manager) complete(logger zerolog.Logger, claim *statusWrite, id string) {
	if claim == nil {
		return
	}
	<-claim.done
	if claim.err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.StoreTimeout)
	defer cancel()
	if _, err := m.cfg.Store.UpdateStatus(ctx, id, models.StatusCompleted); err != nil {
		logger.Warn().Err(err).Msg("failed to mark appointment completed")
		return
	}
	logger.Info().Msg("appointment completed")
}

// release stops local tracks and closes the channel and relay.
func (m *Manager) release(sendHangup bool) {
	if m.s.timer != nil {
		m.s.timer.Stop()
		m.s.timer = nil
	}
	if m.s.beat != nil {
		m.s.beat.Stop()
		m.s.beat = nil
	}
	if m.s.local != nil {
		stopStream(m.s.local)
		m.s.local = nil
	}
	m.s.audio, m.s.video = false, false
	if sendHangup && m.s.relay != nil {
		ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
		err := m.s.relay.Send(ctx, Signal{
			ID:            uuid.NewString(),
			Type:          SignalHangup,
			From:          m.s.participantID,
			AppointmentID: m.s.appointmentID,
		})
		cancel()
		if err != nil {
			m.log.Warn().Err(err).Msg("failed to send hangup")
		}
	}
	closeQuietly(m.s.relay, m.s.channel)
	m.s.relay = nil
	m.s.channel = nil
	m.s.remote = nil
}

func (m *Manager) setStatus(st Status) {
	if m.s.status != st {
		m.log.Info().Str("from", string(m.s.status)).Str("to", string(st)).Msg("call status changed")
	}
	m.s.status = st
	m.publish()
}

func (m *Manager) buildSnapshot() Snapshot {
	return Snapshot{
		AppointmentID:   m.s.appointmentID,
		ParticipantID:   m.s.participantID,
		Status:          m.s.status,
		Err:             m.s.err,
		RecoveryOffered: m.s.recovery,
		Initiator:       m.s.initiator,
		Role:            m.s.role,
		LocalMedia:      m.s.local,
		RemoteMedia:     m.s.remote,
		AudioEnabled:    m.s.audio,
		VideoEnabled:    m.s.video,
		Closed:          m.tornDown,
	}
}

func (m *Manager) publish() {
	snap := m.buildSnapshot()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

func (m *Manager) publishClosed() {
	m.publish()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.subs {
		close(ch)
		delete(m.subs, id)
	}
}

func stopStream(s Stream) {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

func closeQuietly(rc RelayConn, ch PeerChannel) {
	if ch != nil {
		_ = ch.Close()
	}
	if rc != nil {
		_ = rc.Close()
	}
}
