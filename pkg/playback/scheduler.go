package playback

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/lyra/pkg/errorsx"
)

// Segment is one decoded chunk of agent speech, owned exclusively by the
// Scheduler from Enqueue until it is played or flushed.
type Segment struct {
	Seq        int
	PCM        []byte // little-endian PCM16
	SampleRate int
	Channels   int
	Speed      float64 // playback-rate multiplier, 1.0 when zero
}

// Duration is the raw length of the PCM payload.
func (s Segment) Duration() time.Duration {
	if s.SampleRate <= 0 || s.Channels <= 0 {
		return 0
	}
	samples := len(s.PCM) / (2 * s.Channels)
	return time.Duration(samples) * time.Second / time.Duration(s.SampleRate)
}

// PlayedDuration is the wall-clock time the segment occupies at its rate.
func (s Segment) PlayedDuration() time.Duration {
	d := s.Duration()
	speed := s.Speed
	if speed <= 0 {
		speed = 1
	}
	return time.Duration(float64(d) / speed)
}

// Sink is the output-device collaborator. It owns the output clock domain.
//
// PlayAt schedules seg to start at the given instant on the sink clock and
// must invoke done exactly once when the segment finishes. Stop must cease
// output immediately and must not invoke done for discarded segments.
type Sink interface {
	Now() time.Duration
	PlayAt(seg Segment, at time.Duration, done func()) error
	Stop() error
}

type Config struct {
	// UnderrunSlack is added before the next start when the scheduler has
	// fallen behind the output clock, instead of catching up instantly.
	UnderrunSlack time.Duration
}

const defaultUnderrunSlack = 30 * time.Millisecond

// Scheduler owns an ordered queue of segments and a virtual play-head on
// the sink clock. Each segment starts exactly when the previous one ends:
// no gap, no overlap. Flush discards everything, including in-flight audio.
type Scheduler struct {
	mu   sync.Mutex
	sink Sink
	log  *slog.Logger

	slack     time.Duration
	queue     []Segment
	playing   bool
	started   bool // a segment was scheduled since the last flush
	nextFree  time.Duration
	gen       uint64
	onDrained func()
}

func NewScheduler(sink Sink, cfg Config, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	slack := cfg.UnderrunSlack
	if slack <= 0 {
		slack = defaultUnderrunSlack
	}
	return &Scheduler{
		sink:  sink,
		log:   log,
		slack: slack,
	}
}

// SetOnDrained registers a callback fired (outside the scheduler lock)
// whenever the queue empties and nothing is in flight.
func (s *Scheduler) SetOnDrained(fn func()) {
	s.mu.Lock()
	s.onDrained = fn
	s.mu.Unlock()
}

// Enqueue appends a segment and starts it immediately when idle.
func (s *Scheduler) Enqueue(seg Segment) {
	s.mu.Lock()
	if len(seg.PCM) == 0 || seg.SampleRate <= 0 {
		s.log.Warn("segment_dropped", "seq", seg.Seq, "reason", "empty")
		s.mu.Unlock()
		return
	}
	if seg.Channels <= 0 {
		seg.Channels = 1
	}
	s.queue = append(s.queue, seg)
	var drained func()
	if !s.playing {
		s.startNextLocked()
		if !s.playing {
			drained = s.onDrained
		}
	}
	s.mu.Unlock()
	if drained != nil {
		drained()
	}
}

// Flush discards the queue and stops in-flight output immediately. Safe to
// call concurrently with a start and idempotent from any state; after it
// returns no audio is audible and nothing remains queued.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	s.gen++
	s.queue = nil
	s.playing = false
	s.started = false
	if err := s.sink.Stop(); err != nil {
		s.log.Warn("sink_stop_failed", "error", err)
	}
	s.nextFree = s.sink.Now()
	s.mu.Unlock()
}

// QueueLen reports the number of segments waiting behind the in-flight one.
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Playing reports whether a segment is currently in flight.
func (s *Scheduler) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// NextFree exposes the play-head instant, monotonically non-decreasing
// between flushes.
func (s *Scheduler) NextFree() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextFree
}

func (s *Scheduler) startNextLocked() {
	for len(s.queue) > 0 {
		seg := s.queue[0]
		s.queue = s.queue[1:]

		now := s.sink.Now()
		start := s.nextFree
		if start < now {
			if s.started {
				// Output underrun: pad forward instead of catching up.
				start = now + s.slack
			} else {
				start = now
			}
		}
		s.nextFree = start + seg.PlayedDuration()

		gen := s.gen
		if err := s.sink.PlayAt(seg, start, func() { s.segmentDone(gen) }); err != nil {
			s.log.Error("segment_start_failed",
				"seq", seg.Seq,
				"error", errorsx.Wrap(err, errorsx.ReasonPlaybackStart),
			)
			continue
		}
		s.playing = true
		s.started = true
		return
	}
	s.playing = false
}

func (s *Scheduler) segmentDone(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		// Stale completion from before a flush.
		s.mu.Unlock()
		return
	}
	s.startNextLocked()
	var drained func()
	if !s.playing {
		drained = s.onDrained
	}
	s.mu.Unlock()
	if drained != nil {
		drained()
	}
}
