package audio

import (
	"context"

	"github.com/harunnryd/lyra/pkg/frames"
)

// CaptureConfig describes how the microphone should be captured.
type CaptureConfig struct {
	SampleRate int            `mapstructure:"sample_rate"`
	Channels   int            `mapstructure:"channels"`
	FrameSize  int            `mapstructure:"frame_size"`
	Device     string         `mapstructure:"device"`
	Settings   map[string]any `mapstructure:"settings"`
}

func (c CaptureConfig) WithDefaults() CaptureConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.FrameSize <= 0 {
		// 20 ms frames at the configured rate.
		c.FrameSize = c.SampleRate / 50
	}
	return c
}

// CaptureDevice abstracts continuous microphone capture as fixed-size
// PCM16 frames on a monotonic capture clock (the frame PTS).
// The device keeps delivering frames regardless of the mic gate; gating
// is a transmission decision, not a capture decision.
type CaptureDevice interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	// Frames is closed when the device disappears or Stop is called.
	Frames() <-chan frames.AudioFrame
	// Err reports why Frames closed, nil on a clean Stop.
	Err() error
}
