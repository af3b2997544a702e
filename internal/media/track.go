// Package media captures the local camera and microphone for a call.
package media

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"telehealth-server/internal/call"
)

// ErrUnavailable is returned when no usable capture device could be opened.
var ErrUnavailable = errors.New("media devices unavailable")

// LocalTrack is implemented by tracks that can be attached to a peer
// connection.
type LocalTrack interface {
	Local() webrtc.TrackLocal
}

// Device is the part of a capture track a Track needs.
type Device interface {
	webrtc.TrackLocal
	Close() error
}

// Track is a local capture track. While disabled it keeps capturing but every
// RTP packet written to a bound peer connection is dropped, so muting never
// renegotiates.
type Track struct {
	dev     Device
	kind    call.TrackKind
	enabled atomic.Bool

	mu     sync.Mutex
	bound  map[string]webrtc.TrackLocalContext
	closed bool
}

// NewTrack gates dev. Tracks start enabled.
func NewTrack(dev Device) *Track {
	t := &Track{
		dev:   dev,
		kind:  kindOf(dev.Kind()),
		bound: make(map[string]webrtc.TrackLocalContext),
	}
	t.enabled.Store(true)
	return t
}

func kindOf(k webrtc.RTPCodecType) call.TrackKind {
	if k == webrtc.RTPCodecTypeAudio {
		return call.KindAudio
	}
	return call.KindVideo
}

func (t *Track) ID() string               { return t.dev.ID() }
func (t *Track) Kind() call.TrackKind     { return t.kind }
func (t *Track) Enabled() bool            { return t.enabled.Load() }
func (t *Track) SetEnabled(enabled bool)  { t.enabled.Store(enabled) }
func (t *Track) Local() webrtc.TrackLocal { return (*gatedLocal)(t) }

// Stop releases the device. Calling it again does nothing.
func (t *Track) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	_ = t.dev.Close()
}

// gatedLocal is the webrtc.TrackLocal view of a Track.
type gatedLocal Track

func (g *gatedLocal) track() *Track { return (*Track)(g) }

func (g *gatedLocal) ID() string                { return g.dev.ID() }
func (g *gatedLocal) RID() string               { return g.dev.RID() }
func (g *gatedLocal) StreamID() string          { return g.dev.StreamID() }
func (g *gatedLocal) Kind() webrtc.RTPCodecType { return g.dev.Kind() }

func (g *gatedLocal) Bind(ctx webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	t := g.track()
	wrapped := gatedContext{TrackLocalContext: ctx, track: t}
	t.mu.Lock()
	t.bound[ctx.ID()] = wrapped
	t.mu.Unlock()
	return t.dev.Bind(wrapped)
}

func (g *gatedLocal) Unbind(ctx webrtc.TrackLocalContext) error {
	t := g.track()
	t.mu.Lock()
	wrapped, ok := t.bound[ctx.ID()]
	delete(t.bound, ctx.ID())
	t.mu.Unlock()
	if !ok {
		wrapped = ctx
	}
	return t.dev.Unbind(wrapped)
}

type gatedContext struct {
	webrtc.TrackLocalContext
	track *Track
}

func (c gatedContext) WriteStream() webrtc.TrackLocalWriter {
	return gatedWriter{TrackLocalWriter: c.TrackLocalContext.WriteStream(), track: c.track}
}

type gatedWriter struct {
	webrtc.TrackLocalWriter
	track *Track
}

func (w gatedWriter) WriteRTP(header *rtp.Header, payload []byte) (int, error) {
	if !w.track.Enabled() {
		return header.MarshalSize() + len(payload), nil
	}
	return w.TrackLocalWriter.WriteRTP(header, payload)
}

func (w gatedWriter) Write(b []byte) (int, error) {
	if !w.track.Enabled() {
		return len(b), nil
	}
	return w.TrackLocalWriter.Write(b)
}

// Stream is a set of gated local tracks.
type Stream struct {
	tracks []*Track
}

// NewStream gates every device.
func NewStream(devs ...Device) *Stream {
	s := &Stream{}
	for _, d := range devs {
		s.tracks = append(s.tracks, NewTrack(d))
	}
	return s
}

func (s *Stream) Tracks() []call.Track {
	out := make([]call.Track, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

// Stop releases every device.
func (s *Stream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}
