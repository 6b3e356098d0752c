package turn

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/lyra/pkg/errorsx"
)

// StateChange represents a state transition event.
type StateChange struct {
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// StateListener observes turn state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// Flusher discards queued and in-flight playback. It must not call back
// into the Coordinator.
type Flusher interface {
	Flush()
}

// Coordinator is the single serialization point for turn state and the mic
// gate. Both the capture path and the inbound event path funnel into it;
// every transition and gate mutation happens under one lock, so a frame can
// never slip out between "interrupt received" and "gate closed".
type Coordinator struct {
	mu         sync.Mutex
	state      State
	policy     EndOfTurnPolicy
	micEnabled bool
	drained    bool
	complete   bool

	flusher   Flusher
	listeners []StateListener
	onDevLost func(error)
	log       *slog.Logger
}

func NewCoordinator(policy EndOfTurnPolicy, flusher Flusher, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		state:      StateUserSpeaking,
		policy:     policy,
		micEnabled: true,
		drained:    true,
		flusher:    flusher,
		log:        log,
	}
}

// AddListener registers a listener for state change events.
func (c *Coordinator) AddListener(l StateListener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

// SetOnDeviceLost registers the upward report for a vanished capture device.
func (c *Coordinator) SetOnDeviceLost(fn func(error)) {
	c.mu.Lock()
	c.onDevLost = fn
	c.mu.Unlock()
}

// State returns the current turn owner.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// MicEnabled reports the mic gate. While false, captured frames may be
// measured for visualization but must not be transmitted.
func (c *Coordinator) MicEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.micEnabled
}

// OnContentSent records that user content went out before any reply audio.
func (c *Coordinator) OnContentSent() {
	c.apply(EventContentSent, "content sent")
}

// OnReplyAudio records arrival of a reply segment. The first one takes the
// floor for the agent and closes the mic gate.
func (c *Coordinator) OnReplyAudio() {
	c.mu.Lock()
	c.drained = false
	c.applyLocked(EventReplyAudio, "reply audio arrived")
}

// OnQueueDrained records that the playback queue emptied.
func (c *Coordinator) OnQueueDrained() {
	c.mu.Lock()
	c.drained = true
	c.applyLocked(EventQueueDrained, "playback queue drained")
}

// OnReplyComplete records the session's end-of-reply signal.
func (c *Coordinator) OnReplyComplete() {
	c.mu.Lock()
	c.complete = true
	c.applyLocked(EventReplyComplete, "reply complete")
}

// Interrupt handles barge-in from either party: playback is flushed and the
// mic gate reopened atomically with the transition. Idempotent.
func (c *Coordinator) Interrupt(reason string) {
	if reason == "" {
		reason = "interrupt"
	}
	c.apply(EventInterrupt, reason)
}

// OnDeviceLost forces the floor back to the user, clears the gate, and
// reports upward without tearing the session down.
func (c *Coordinator) OnDeviceLost(err error) {
	c.apply(EventDeviceLost, "capture device lost")
	c.mu.Lock()
	report := c.onDevLost
	c.mu.Unlock()
	if report != nil {
		report(errorsx.Wrap(err, errorsx.ReasonCaptureRead))
	}
}

func (c *Coordinator) apply(ev Event, reason string) {
	c.mu.Lock()
	c.applyLocked(ev, reason)
}

// applyLocked runs the transition and its effects, then releases the lock.
func (c *Coordinator) applyLocked(ev Event, reason string) {
	from := c.state
	next, effects := transition(c.state, c.policy, c.drained, c.complete, ev)

	for _, eff := range effects {
		switch eff {
		case EffectCloseMic:
			c.micEnabled = false
		case EffectOpenMic:
			c.micEnabled = true
		case EffectFlushPlayback:
			if c.flusher != nil {
				c.flusher.Flush()
			}
			c.drained = true
		}
	}

	if next == StateUserSpeaking && from != StateUserSpeaking {
		// The reply window is over; forget its signals.
		c.complete = false
	}
	if next == StateAiSpeaking && from != StateAiSpeaking {
		c.complete = false
	}

	if next == from {
		c.mu.Unlock()
		return
	}
	c.state = next

	event := StateChange{
		FromState: from,
		ToState:   next,
		Timestamp: time.Now(),
		Reason:    reason,
	}
	listeners := make([]StateListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	c.log.Debug("turn_transition",
		"from", from.String(),
		"to", next.String(),
		"event", ev.String(),
		"reason", reason,
	)
	for _, l := range listeners {
		l.OnStateChange(event)
	}
}
