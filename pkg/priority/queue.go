package priority

import (
	"sync"
	"sync/atomic"

	"github.com/harunnryd/lyra/pkg/frames"
)

type Stats struct {
	HighPush int64
	LowPush  int64
	HighPop  int64
	LowPop   int64
}

// Queue is the outbound send queue: control traffic (interrupts) always
// preempts content audio, so barge-in signalling never waits behind mic
// frames. Pushes never block; a full lane drops.
type Queue struct {
	high chan frames.Frame
	low  chan frames.Frame

	highPush int64
	lowPush  int64
	highPop  int64
	lowPop   int64

	closed    chan struct{}
	closeOnce sync.Once
}

func New(highCap, lowCap int) *Queue {
	if highCap <= 0 {
		highCap = 64
	}
	if lowCap <= 0 {
		lowCap = 512
	}
	return &Queue{
		high:   make(chan frames.Frame, highCap),
		low:    make(chan frames.Frame, lowCap),
		closed: make(chan struct{}),
	}
}

func (q *Queue) TryPushHigh(f frames.Frame) bool {
	select {
	case q.high <- f:
		atomic.AddInt64(&q.highPush, 1)
		return true
	default:
		return false
	}
}

func (q *Queue) TryPushLow(f frames.Frame) bool {
	select {
	case q.low <- f:
		atomic.AddInt64(&q.lowPush, 1)
		return true
	default:
		return false
	}
}

// Pop blocks until a frame is available or the queue is closed. The high
// lane is drained first whenever both have frames.
func (q *Queue) Pop() (frames.Frame, bool) {
	for {
		select {
		case f := <-q.high:
			atomic.AddInt64(&q.highPop, 1)
			return f, true
		default:
		}
		select {
		case f := <-q.high:
			atomic.AddInt64(&q.highPop, 1)
			return f, true
		case f := <-q.low:
			atomic.AddInt64(&q.lowPop, 1)
			return f, true
		case <-q.closed:
			return nil, false
		}
	}
}

// Close unblocks Pop. Idempotent.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

func (q *Queue) Stats() Stats {
	return Stats{
		HighPush: atomic.LoadInt64(&q.highPush),
		LowPush:  atomic.LoadInt64(&q.lowPush),
		HighPop:  atomic.LoadInt64(&q.highPop),
		LowPop:   atomic.LoadInt64(&q.lowPop),
	}
}
