package control

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harunnryd/lyra/pkg/errorsx"
	"github.com/harunnryd/lyra/pkg/frames"
)

// Emitter transmits an outbound frame to the remote session.
type Emitter interface {
	Emit(frames.Frame) error
}

// Instruction is one in-flight control directive. Its ID tags the reply
// window the suppression applies to.
type Instruction struct {
	ID       string
	Text     string
	IssuedAt time.Time
}

type Options struct {
	// ClearOnUserSpeech drops pending suppression as soon as genuine user
	// speech shows up inbound, so a coinciding real utterance is not lost.
	// Policy tie-break, on by default.
	ClearOnUserSpeech bool
}

// Dispatcher sends non-content instructions over the same outbound channel
// as content and suppresses the resulting acknowledgment reply from both
// transcript and playback. At most one instruction is in flight; a new send
// replaces the pending one.
type Dispatcher struct {
	mu      sync.Mutex
	emit    Emitter
	pending *Instruction
	opts    Options
	log     *slog.Logger
}

func NewDispatcher(emit Emitter, log *slog.Logger) *Dispatcher {
	return NewDispatcherWithOptions(emit, Options{ClearOnUserSpeech: true}, log)
}

func NewDispatcherWithOptions(emit Emitter, opts Options, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{emit: emit, opts: opts, log: log}
}

// Send transmits text as a normal content frame, marking the reply window
// for suppression before transmission so no acknowledgment can slip past.
func (d *Dispatcher) Send(text string) error {
	inst := &Instruction{
		ID:       uuid.NewString(),
		Text:     text,
		IssuedAt: time.Now(),
	}

	d.mu.Lock()
	if d.pending != nil {
		d.log.Warn("instruction_replaced",
			"previous_id", d.pending.ID,
			"instruction_id", inst.ID,
		)
	}
	d.pending = inst
	d.mu.Unlock()

	meta := map[string]string{
		frames.MetaSource:        "control",
		frames.MetaInstructionID: inst.ID,
	}
	f := frames.NewTextFrame("", time.Now().UnixNano(), text, meta)
	if err := d.emit.Emit(f); err != nil {
		// Nothing will reply; do not leave a window that eats real content.
		d.mu.Lock()
		if d.pending != nil && d.pending.ID == inst.ID {
			d.pending = nil
		}
		d.mu.Unlock()
		return errorsx.Wrap(err, errorsx.ReasonSessionSend)
	}
	return nil
}

// Pending returns the in-flight instruction, if any.
func (d *Dispatcher) Pending() (Instruction, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == nil {
		return Instruction{}, false
	}
	return *d.pending, true
}

// SuppressAudio reports whether an inbound reply segment belongs to a
// pending instruction acknowledgment and must not be played.
func (d *Dispatcher) SuppressAudio() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

// SuppressTranscript decides whether a transcript event is discarded.
// Genuine user speech arriving while suppression is pending clears the
// window early (when the policy allows) and is itself surfaced.
func (d *Dispatcher) SuppressTranscript(speaker, text string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == nil {
		return false
	}
	if speaker == frames.SpeakerUser && strings.TrimSpace(text) != "" {
		if d.opts.ClearOnUserSpeech {
			d.log.Debug("suppression_cleared_early", "instruction_id", d.pending.ID)
			d.pending = nil
		}
		return false
	}
	return true
}

// OnReplyComplete closes the tagged reply window.
func (d *Dispatcher) OnReplyComplete() {
	d.mu.Lock()
	if d.pending != nil {
		d.log.Debug("suppression_window_closed", "instruction_id", d.pending.ID)
		d.pending = nil
	}
	d.mu.Unlock()
}
