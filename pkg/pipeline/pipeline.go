package pipeline

import (
	"log/slog"
	"time"

	"github.com/harunnryd/lyra/pkg/frames"
	"github.com/harunnryd/lyra/pkg/metrics"
)

// FrameProcessor is one stage of the inbound path. A processor may expand,
// replace or absorb a frame; returning an error drops the frame.
type FrameProcessor interface {
	Process(frames.Frame) ([]frames.Frame, error)
	Name() string
}

// Chain runs processors in order, synchronously, on the caller's goroutine.
// Inbound ordering is load-bearing here (suppression must be resolved
// before the next event is dispatched), so there is no async fan-out.
type Chain struct {
	procs []FrameProcessor
	obs   metrics.Observer
	log   *slog.Logger
}

func NewChain(log *slog.Logger, procs ...FrameProcessor) *Chain {
	if log == nil {
		log = slog.Default()
	}
	return &Chain{procs: procs, log: log}
}

// SetObserver attaches per-stage timing metrics.
func (c *Chain) SetObserver(obs metrics.Observer) { c.obs = obs }

// Run pushes one frame through every stage and returns the survivors.
// A stage error drops the offending frame, releases its pooled buffer and
// never stalls the stream.
func (c *Chain) Run(f frames.Frame) []frames.Frame {
	out := []frames.Frame{f}
	for _, p := range c.procs {
		var next []frames.Frame
		for _, cur := range out {
			start := time.Now()
			r, err := p.Process(cur)
			if err != nil {
				frames.ReleaseAudioFrame(cur)
				c.log.Warn("frame_dropped",
					"stage", p.Name(),
					"kind", string(cur.Kind()),
					"error", err,
				)
				continue
			}
			c.recordStage(p.Name(), cur, start)
			next = append(next, r...)
		}
		out = next
		if out == nil {
			break
		}
	}
	return out
}

func (c *Chain) recordStage(stage string, f frames.Frame, start time.Time) {
	if c.obs == nil {
		return
	}
	c.obs.RecordEvent(metrics.MetricsEvent{
		Name:  "stage_" + stage,
		Time:  time.Now(),
		Value: float64(time.Since(start).Microseconds()),
		Tags: map[string]string{
			"stream_id": f.Meta()[frames.MetaStreamID],
			"kind":      string(f.Kind()),
		},
	})
}
