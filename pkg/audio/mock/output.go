package mock

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/harunnryd/lyra/pkg/playback"
)

var errClosed = errors.New("device closed")

// Play records one scheduled segment on the output clock.
type Play struct {
	Seg Segment
	At  time.Duration
}

// Segment mirrors the fields tests care about.
type Segment struct {
	Seq      int
	Duration time.Duration
}

type pending struct {
	endsAt time.Duration
	done   func()
}

// Output is a playback sink driven by a manual clock. Advance moves the
// clock and fires completions for segments whose end has passed, including
// ones scheduled by those completions.
type Output struct {
	mu      sync.Mutex
	now     time.Duration
	plays   []Play
	pending []pending
	stops   int
}

var _ playback.Sink = (*Output)(nil)

func NewOutput() *Output {
	return &Output{}
}

func (o *Output) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

func (o *Output) PlayAt(seg playback.Segment, at time.Duration, done func()) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.plays = append(o.plays, Play{
		Seg: Segment{Seq: seg.Seq, Duration: seg.PlayedDuration()},
		At:  at,
	})
	o.pending = append(o.pending, pending{endsAt: at + seg.PlayedDuration(), done: done})
	return nil
}

func (o *Output) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stops++
	o.pending = nil
	return nil
}

// Advance moves the output clock forward and runs due completions in end
// order. Completions run without the lock so they may schedule more audio.
func (o *Output) Advance(d time.Duration) {
	o.mu.Lock()
	o.now += d
	o.mu.Unlock()
	for {
		o.mu.Lock()
		sort.Slice(o.pending, func(i, j int) bool { return o.pending[i].endsAt < o.pending[j].endsAt })
		var due func()
		for i, p := range o.pending {
			if p.endsAt <= o.now {
				due = p.done
				o.pending = append(o.pending[:i], o.pending[i+1:]...)
				break
			}
		}
		o.mu.Unlock()
		if due == nil {
			return
		}
		due()
	}
}

// Plays returns a copy of everything scheduled so far.
func (o *Output) Plays() []Play {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Play, len(o.plays))
	copy(out, o.plays)
	return out
}

// Stops reports how many times the sink was stopped.
func (o *Output) Stops() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stops
}

// PendingCount reports segments scheduled but not yet completed.
func (o *Output) PendingCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}
