// Package mock provides in-memory audio devices for tests and examples.
package mock

import (
	"context"
	"strconv"
	"sync"

	"github.com/harunnryd/lyra/pkg/audio"
	"github.com/harunnryd/lyra/pkg/errorsx"
	"github.com/harunnryd/lyra/pkg/frames"
)

// Capture is a scriptable microphone. Tests push frames with Push and can
// simulate the device disappearing with Fail.
type Capture struct {
	mu      sync.Mutex
	cfg     audio.CaptureConfig
	ch      chan frames.AudioFrame
	pts     *frames.PTSGen
	seq     int64
	err     error
	started bool
	closed  bool
}

var _ audio.CaptureDevice = (*Capture)(nil)

func NewCapture(cfg audio.CaptureConfig) *Capture {
	cfg = cfg.WithDefaults()
	return &Capture{
		cfg: cfg,
		ch:  make(chan frames.AudioFrame, 64),
		pts: frames.NewPTSGen(),
	}
}

func (c *Capture) Name() string { return "mock-capture" }

func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errorsx.Wrap(errClosed, errorsx.ReasonDeviceUnavailable)
	}
	c.started = true
	return nil
}

func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
	return nil
}

// Push delivers one captured frame, stamped on the capture clock.
func (c *Capture) Push(pcm []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.started {
		return false
	}
	c.seq++
	f := frames.NewAudioFrame("capture", c.pts.Next("capture"), pcm, c.cfg.SampleRate, c.cfg.Channels, map[string]string{
		frames.MetaSeq: strconv.FormatInt(c.seq, 10),
	})
	select {
	case c.ch <- f:
		return true
	default:
		return false
	}
}

// Fail simulates the device disappearing mid-session.
func (c *Capture) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.err = errorsx.Wrap(err, errorsx.ReasonDeviceUnavailable)
	c.closed = true
	close(c.ch)
}

func (c *Capture) Frames() <-chan frames.AudioFrame { return c.ch }

func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
