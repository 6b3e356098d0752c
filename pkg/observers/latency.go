package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/lyra/pkg/metrics"
)

// LatencyObserver tracks per-reply turnaround: how long between the user
// content going out and the first agent audio playing, and how long a
// barge-in takes to silence the speaker.
type LatencyObserver struct {
	mu     sync.Mutex
	turns  map[string]*turnTrace
	interr *interruptTrace
	log    *slog.Logger
}

type turnTrace struct {
	contentSent time.Time
	firstAudio  time.Time
}

type interruptTrace struct {
	requested time.Time
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		turns: make(map[string]*turnTrace),
		log:   log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	streamID := ""
	if ev.Tags != nil {
		streamID = ev.Tags["stream_id"]
	}
	o.mu.Lock()
	switch ev.Name {
	case "content_sent":
		if streamID != "" {
			t := o.turns[streamID]
			if t == nil {
				t = &turnTrace{}
				o.turns[streamID] = t
			}
			if t.contentSent.IsZero() {
				t.contentSent = ev.Time
			}
		}
	case "reply_first_audio":
		if streamID != "" {
			if t := o.turns[streamID]; t != nil && t.firstAudio.IsZero() {
				t.firstAudio = ev.Time
			}
		}
	case "reply_done":
		if streamID != "" {
			if t := o.turns[streamID]; t != nil {
				o.logTurnLocked(streamID, t)
				delete(o.turns, streamID)
			}
		}
	case "interrupt":
		o.interr = &interruptTrace{requested: ev.Time}
	case "playback_flushed":
		if o.interr != nil {
			o.log.Info("latency",
				"interrupt_to_silence_ms", durationMs(o.interr.requested, ev.Time),
			)
			o.interr = nil
		}
	}
	o.mu.Unlock()
}

func (o *LatencyObserver) logTurnLocked(streamID string, t *turnTrace) {
	o.log.Info("latency",
		"stream_id", streamID,
		"reply_first_audio_ms", durationMs(t.contentSent, t.firstAudio),
	)
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}
