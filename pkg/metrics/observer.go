package metrics

import (
	"sync"
	"time"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// MemoryObserver collects events for inspection in tests.
type MemoryObserver struct {
	mu     sync.Mutex
	Events []MetricsEvent
}

func NewMemoryObserver() *MemoryObserver {
	return &MemoryObserver{}
}

func (m *MemoryObserver) RecordEvent(ev MetricsEvent) {
	m.mu.Lock()
	m.Events = append(m.Events, ev)
	m.mu.Unlock()
}

// Snapshot returns a copy of the recorded events.
func (m *MemoryObserver) Snapshot() []MetricsEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MetricsEvent, len(m.Events))
	copy(out, m.Events)
	return out
}
