//go:build linux

package media

import (
	"context"
	"fmt"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"telehealth-server/internal/call"
)

const videoBitRate = 1_500_000

func codecSelector() (*mediadevices.CodecSelector, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = videoBitRate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	), nil
}

// RegisterCodecs registers the capture codecs (VP8, Opus) on me.
func RegisterCodecs(me *webrtc.MediaEngine) error {
	sel, err := codecSelector()
	if err != nil {
		return err
	}
	sel.Populate(me)
	return nil
}

// DeviceSource opens the camera and microphone (V4L2 and malgo drivers).
type DeviceSource struct {
	log zerolog.Logger
}

func NewDeviceSource(logger zerolog.Logger) *DeviceSource {
	return &DeviceSource{log: logger.With().Str("component", "media").Logger()}
}

type acquired struct {
	stream *Stream
	err    error
}

// Acquire captures the requested devices. Any failure to open them
// (permission, missing device, busy device) is reported as ErrUnavailable.
func (d *DeviceSource) Acquire(ctx context.Context, c call.Constraints) (call.Stream, error) {
	sel, err := codecSelector()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	constraints := mediadevices.MediaStreamConstraints{Codec: sel}
	if c.Video {
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			// Raw formats only; MJPEG nodes on some cameras poison the encoder.
			mc.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			mc.Width = prop.IntRanged{Max: 640}
			mc.Height = prop.IntRanged{Max: 480}
		}
	}
	if c.Audio {
		constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	}

	if devices := mediadevices.EnumerateDevices(); len(devices) == 0 {
		d.log.Warn().Msg("no media devices found")
	} else {
		for _, dev := range devices {
			d.log.Debug().Str("kind", fmt.Sprint(dev.Kind)).Str("label", dev.Label).Msg("media device")
		}
	}

	result := make(chan acquired, 1)
	go func() {
		ms, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			result <- acquired{err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
			return
		}
		var devs []Device
		for _, t := range ms.GetTracks() {
			t.OnEnded(func(err error) {
				if err != nil {
					d.log.Warn().Err(err).Str("track", t.ID()).Msg("local track ended")
				}
			})
			devs = append(devs, t)
		}
		result <- acquired{stream: NewStream(devs...)}
	}()

	select {
	case r := <-result:
		if r.err != nil {
			return nil, r.err
		}
		d.log.Info().Int("tracks", len(r.stream.tracks)).Msg("local media captured")
		return r.stream, nil
	case <-ctx.Done():
		go func() {
			if r := <-result; r.stream != nil {
				r.stream.Stop()
			}
		}()
		return nil, ctx.Err()
	}
}
