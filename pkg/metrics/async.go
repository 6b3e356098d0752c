package metrics

import (
	"sync"
	"sync/atomic"
)

// AsyncObserver decouples the audio paths from observer work. Recording
// never blocks; overflow is counted and dropped. The event channel is never
// closed, so a record racing Close can at worst be ignored, never panic.
type AsyncObserver struct {
	inner   Observer
	ch      chan MetricsEvent
	done    chan struct{}
	dropped int64
	once    sync.Once
}

func NewAsyncObserver(inner Observer, buffer int) *AsyncObserver {
	if buffer <= 0 {
		buffer = 256
	}
	a := &AsyncObserver{
		inner: inner,
		ch:    make(chan MetricsEvent, buffer),
		done:  make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *AsyncObserver) RecordEvent(ev MetricsEvent) {
	if a == nil {
		return
	}
	select {
	case <-a.done:
		return
	default:
	}
	select {
	case a.ch <- ev:
	default:
		atomic.AddInt64(&a.dropped, 1)
	}
}

func (a *AsyncObserver) Dropped() int64 {
	return atomic.LoadInt64(&a.dropped)
}

// Close stops the observer after delivering what is already buffered.
// Idempotent.
func (a *AsyncObserver) Close() {
	if a == nil {
		return
	}
	a.once.Do(func() { close(a.done) })
}

func (a *AsyncObserver) loop() {
	for {
		select {
		case ev := <-a.ch:
			a.inner.RecordEvent(ev)
		case <-a.done:
			for {
				select {
				case ev := <-a.ch:
					a.inner.RecordEvent(ev)
				default:
					return
				}
			}
		}
	}
}
