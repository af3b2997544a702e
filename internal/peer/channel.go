// Package peer opens the point-to-point WebRTC connection of a call.
//
// Negotiation is non-trickle: each side waits for ICE gathering to finish and
// sends its whole session description as a single signal.
package peer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	jsoniter "github.com/json-iterator/go"
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"telehealth-server/internal/call"
	"telehealth-server/internal/media"
)

const (
	pliInterval  = 3 * time.Second
	eventsBuffer = 16

	// disconnectGrace is how long a disconnected peer may take to come
	// back before the channel reports it gone.
	disconnectGrace = 10 * time.Second
)

var ErrUnexpectedSignal = errors.New("unexpected signal")

// Factory opens pion peer connections.
type Factory struct {
	iceServers []webrtc.ICEServer
	log        zerolog.Logger
	clk        clock.Clock
}

// NewFactory creates a Factory using the given STUN/TURN urls. With no urls
// only host candidates are gathered.
func NewFactory(iceServers []string, logger zerolog.Logger) *Factory {
	f := &Factory{log: logger.With().Str("component", "peer").Logger(), clk: clock.New()}
	if len(iceServers) > 0 {
		f.iceServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return f
}

func (f *Factory) newAPI() (*webrtc.API, error) {
	me := &webrtc.MediaEngine{}
	if err := media.RegisterCodecs(me); err != nil {
		return nil, err
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, err
	}

	// Generous ICE timeouts so a short NAT hiccup does not end the call.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	), nil
}

// Open creates a peer connection carrying local's tracks. The initiator
// starts negotiating right away; the other side waits for an offer.
func (f *Factory) Open(ctx context.Context, local call.Stream, initiator bool) (call.PeerChannel, error) {
	api, err := f.newAPI()
	if err != nil {
		return nil, fmt.Errorf("build webrtc api: %w", err)
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: f.iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	c := &Channel{
		pc:        pc,
		initiator: initiator,
		clk:       f.clk,
		log:       f.log.With().Bool("initiator", initiator).Logger(),
		events:    make(chan call.ChannelEvent, eventsBuffer),
		done:      make(chan struct{}),
		streams:   make(map[string]*RemoteStream),
	}

	if err := c.addLocal(local); err != nil {
		_ = c.Close()
		return nil, err
	}
	pc.OnTrack(c.onTrack)
	pc.OnConnectionStateChange(c.onStateChange)

	if initiator {
		go c.offer(ctx)
	}
	return c, nil
}

// Channel is one pion peer connection.
type Channel struct {
	pc        *webrtc.PeerConnection
	initiator bool
	clk       clock.Clock
	log       zerolog.Logger

	stateMu   sync.Mutex
	dropTimer *clock.Timer

	emitMu sync.RWMutex
	closed bool
	events chan call.ChannelEvent
	done   chan struct{}
	once   sync.Once

	streamsMu sync.Mutex
	streams   map[string]*RemoteStream
}

func (c *Channel) addLocal(local call.Stream) error {
	added := 0
	if local != nil {
		for _, t := range local.Tracks() {
			lt, ok := t.(media.LocalTrack)
			if !ok {
				continue
			}
			sender, err := c.pc.AddTrack(lt.Local())
			if err != nil {
				return fmt.Errorf("add %s track: %w", t.Kind(), err)
			}
			added++
			go drainRTCP(sender)
		}
	}
	if added > 0 {
		return nil
	}

	// Still negotiate audio and video m-lines so the remote side can send.
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		if _, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}
	c.log.Info().Msg("no local tracks, receiving only")
	return nil
}

// drainRTCP reads incoming RTCP so the interceptors see receiver reports.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (c *Channel) Events() <-chan call.ChannelEvent { return c.events }

func (c *Channel) emit(ev call.ChannelEvent) {
	c.emitMu.RLock()
	defer c.emitMu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Channel) fail(err error) {
	c.log.Error().Err(err).Msg("peer channel failed")
	c.emit(call.ChannelEvent{Kind: call.EventError, Err: err})
}

func (c *Channel) offer(ctx context.Context) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		c.fail(fmt.Errorf("create offer: %w", err))
		return
	}
	c.publishLocal(ctx, call.SignalOffer, offer)
}

func (c *Channel) answer(ctx context.Context, remote webrtc.SessionDescription) {
	if err := c.pc.SetRemoteDescription(remote); err != nil {
		c.fail(fmt.Errorf("set remote offer: %w", err))
		return
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		c.fail(fmt.Errorf("create answer: %w", err))
		return
	}
	c.publishLocal(ctx, call.SignalAnswer, answer)
}

// publishLocal applies desc, waits for ICE gathering and emits the complete
// description.
func (c *Channel) publishLocal(ctx context.Context, typ call.SignalType, desc webrtc.SessionDescription) {
	gathered := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(desc); err != nil {
		c.fail(fmt.Errorf("set local %s: %w", typ, err))
		return
	}
	select {
	case <-gathered:
	case <-c.done:
		return
	case <-ctx.Done():
		c.fail(fmt.Errorf("gather candidates: %w", ctx.Err()))
		return
	}

	payload, err := jsoniter.Marshal(c.pc.LocalDescription())
	if err != nil {
		c.fail(fmt.Errorf("encode %s: %w", typ, err))
		return
	}
	c.log.Debug().Str("type", string(typ)).Msg("local description ready")
	c.emit(call.ChannelEvent{Kind: call.EventSignal, Signal: call.Signal{Type: typ, Payload: payload}})
}

// Signal applies a signal from the other participant.
func (c *Channel) Signal(s call.Signal) error {
	switch s.Type {
	case call.SignalOffer, call.SignalAnswer:
		var desc webrtc.SessionDescription
		if err := jsoniter.Unmarshal(s.Payload, &desc); err != nil {
			return fmt.Errorf("decode %s: %w", s.Type, err)
		}
		if s.Type == call.SignalOffer {
			if c.initiator {
				return fmt.Errorf("%w: offer sent to the initiating side", ErrUnexpectedSignal)
			}
			go c.answer(context.Background(), desc)
			return nil
		}
		if !c.initiator {
			return fmt.Errorf("%w: answer sent to the answering side", ErrUnexpectedSignal)
		}
		return c.pc.SetRemoteDescription(desc)
	case call.SignalCandidate:
		var cand webrtc.ICECandidateInit
		if err := jsoniter.Unmarshal(s.Payload, &cand); err != nil {
			return fmt.Errorf("decode candidate: %w", err)
		}
		return c.pc.AddICECandidate(cand)
	}
	return fmt.Errorf("%w: %q", ErrUnexpectedSignal, s.Type)
}

func (c *Channel) onTrack(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	c.log.Info().Str("kind", remote.Kind().String()).Str("stream", remote.StreamID()).Msg("remote track")

	c.streamsMu.Lock()
	rs, seen := c.streams[remote.StreamID()]
	if !seen {
		rs = &RemoteStream{id: remote.StreamID()}
		c.streams[rs.id] = rs
	}
	rs.add(remote)
	c.streamsMu.Unlock()

	if !seen {
		c.emit(call.ChannelEvent{Kind: call.EventStream, Stream: rs})
	}
	if remote.Kind() == webrtc.RTPCodecTypeVideo {
		go c.requestKeyframes(remote.SSRC())
	}

	buf := make([]byte, 1500)
	for {
		if _, _, err := remote.Read(buf); err != nil {
			return
		}
	}
}

// requestKeyframes sends a PLI right away and then every pliInterval.
func (c *Channel) requestKeyframes(ssrc webrtc.SSRC) {
	send := func() error {
		return c.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(ssrc)}})
	}
	if send() != nil {
		return
	}
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if send() != nil {
				return
			}
		}
	}
}

// onStateChange maps pion connection states onto channel events. A remote
// peer that drops off shows up as disconnected rather than closed; it is
// reported closed once it stays disconnected past disconnectGrace.
func (c *Channel) onStateChange(state webrtc.PeerConnectionState) {
	c.log.Info().Str("state", state.String()).Msg("peer connection state")

	switch state {
	case webrtc.PeerConnectionStateDisconnected:
		c.armDropTimer()
		return
	case webrtc.PeerConnectionStateFailed:
		c.disarmDropTimer()
		c.fail(errors.New("peer connection failed"))
	case webrtc.PeerConnectionStateClosed:
		c.disarmDropTimer()
		// Reached when the remote side shuts DTLS down. After a local Close
		// the events channel is already shut and this is dropped.
		c.emit(call.ChannelEvent{Kind: call.EventClosed})
	default:
		c.disarmDropTimer()
	}
}

func (c *Channel) armDropTimer() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.dropTimer != nil {
		return
	}
	var t *clock.Timer
	t = c.clk.AfterFunc(disconnectGrace, func() {
		c.stateMu.Lock()
		current := c.dropTimer == t
		if current {
			c.dropTimer = nil
		}
		c.stateMu.Unlock()
		if current {
			c.log.Warn().Dur("grace", disconnectGrace).Msg("peer did not reconnect")
			c.emit(call.ChannelEvent{Kind: call.EventClosed})
		}
	})
	c.dropTimer = t
}

func (c *Channel) disarmDropTimer() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.dropTimer != nil {
		c.dropTimer.Stop()
		c.dropTimer = nil
	}
}

// Close closes the peer connection and the events channel. It is safe to
// call at any point and more than once.
func (c *Channel) Close() error {
	var err error
	c.once.Do(func() {
		c.disarmDropTimer()
		close(c.done)
		c.emitMu.Lock()
		c.closed = true
		close(c.events)
		c.emitMu.Unlock()
		err = c.pc.Close()
	})
	return err
}

// RemoteStream groups the remote tracks that share a stream id.
type RemoteStream struct {
	id string

	mu     sync.Mutex
	tracks []*webrtc.TrackRemote
}

func (s *RemoteStream) ID() string { return s.id }

func (s *RemoteStream) add(t *webrtc.TrackRemote) {
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
}

// Kinds lists the media kinds received so far.
func (s *RemoteStream) Kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]string, 0, len(s.tracks))
	for _, t := range s.tracks {
		kinds = append(kinds, t.Kind().String())
	}
	return kinds
}

// ParseICEServers splits a comma separated list of ICE urls.
func ParseICEServers(list string) []string {
	var out []string
	for _, s := range strings.Split(list, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
