//go:build !linux

package media

import (
	"context"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"telehealth-server/internal/call"
)

// RegisterCodecs registers pion's default codecs on me.
func RegisterCodecs(me *webrtc.MediaEngine) error {
	return me.RegisterDefaultCodecs()
}

// DeviceSource has no capture drivers on this platform; Acquire always fails
// with ErrUnavailable.
type DeviceSource struct {
	log zerolog.Logger
}

func NewDeviceSource(logger zerolog.Logger) *DeviceSource {
	return &DeviceSource{log: logger.With().Str("component", "media").Logger()}
}

func (d *DeviceSource) Acquire(_ context.Context, _ call.Constraints) (call.Stream, error) {
	d.log.Warn().Msg("camera and microphone capture is only supported on linux")
	return nil, ErrUnavailable
}
