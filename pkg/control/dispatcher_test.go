package control

import (
	"errors"
	"sync"
	"testing"

	"github.com/harunnryd/lyra/pkg/errorsx"
	"github.com/harunnryd/lyra/pkg/frames"
)

type captureEmitter struct {
	mu     sync.Mutex
	frames []frames.Frame
	fail   bool
}

func (e *captureEmitter) Emit(f frames.Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return errors.New("session gone")
	}
	e.frames = append(e.frames, f)
	return nil
}

func TestSendMarksSuppressionBeforeTransmission(t *testing.T) {
	emitter := &captureEmitter{}
	d := NewDispatcher(emitter, nil)

	if err := d.Send("speak faster"); err != nil {
		t.Fatalf("send: %v", err)
	}

	inst, ok := d.Pending()
	if !ok || inst.ID == "" {
		t.Fatalf("expected a pending instruction with an id")
	}
	if !d.SuppressAudio() {
		t.Fatalf("reply audio must be suppressed while pending")
	}

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	if len(emitter.frames) != 1 {
		t.Fatalf("expected one outbound frame, got %d", len(emitter.frames))
	}
	tf, ok := emitter.frames[0].(frames.TextFrame)
	if !ok || tf.Text() != "speak faster" {
		t.Fatalf("instruction must go out as a content text frame")
	}
	if tf.Meta()[frames.MetaInstructionID] != inst.ID {
		t.Fatalf("outbound frame must carry the instruction id")
	}
}

func TestAcknowledgmentReplyIsInvisible(t *testing.T) {
	d := NewDispatcher(&captureEmitter{}, nil)
	if err := d.Send("speak slower"); err != nil {
		t.Fatalf("send: %v", err)
	}

	if !d.SuppressTranscript(frames.SpeakerAgent, "Okay, I will slow down.") {
		t.Fatalf("agent acknowledgment text must be suppressed")
	}
	if !d.SuppressAudio() {
		t.Fatalf("acknowledgment audio must be suppressed")
	}

	d.OnReplyComplete()
	if d.SuppressAudio() {
		t.Fatalf("suppression must end with the reply window")
	}
	if d.SuppressTranscript(frames.SpeakerAgent, "Here is your answer.") {
		t.Fatalf("content after the window must surface")
	}
}

func TestGenuineUserSpeechClearsSuppressionEarly(t *testing.T) {
	d := NewDispatcher(&captureEmitter{}, nil)
	if err := d.Send("speak faster"); err != nil {
		t.Fatalf("send: %v", err)
	}

	// Empty user events are not evidence of speech.
	if !d.SuppressTranscript(frames.SpeakerAgent, "ack") {
		t.Fatalf("agent text still suppressed")
	}
	if d.SuppressTranscript(frames.SpeakerUser, "   ") {
		t.Fatalf("blank user event must not be suppressed")
	}
	if !d.SuppressAudio() {
		t.Fatalf("blank user event must not clear the window")
	}

	if d.SuppressTranscript(frames.SpeakerUser, "actually, one more thing") {
		t.Fatalf("genuine user speech must surface")
	}
	if d.SuppressAudio() {
		t.Fatalf("genuine user speech must clear the window early")
	}
}

func TestClearOnUserSpeechPolicyDisabled(t *testing.T) {
	d := NewDispatcherWithOptions(&captureEmitter{}, Options{ClearOnUserSpeech: false}, nil)
	if err := d.Send("speak faster"); err != nil {
		t.Fatalf("send: %v", err)
	}

	if d.SuppressTranscript(frames.SpeakerUser, "hello again") {
		t.Fatalf("user speech itself is never suppressed")
	}
	if !d.SuppressAudio() {
		t.Fatalf("with the policy off the window stays open until reply complete")
	}
}

func TestNewInstructionReplacesPending(t *testing.T) {
	d := NewDispatcher(&captureEmitter{}, nil)
	_ = d.Send("speak faster")
	first, _ := d.Pending()

	_ = d.Send("speak slower")
	second, ok := d.Pending()
	if !ok || second.ID == first.ID {
		t.Fatalf("a new send must replace the pending instruction")
	}
}

func TestFailedSendLeavesNoWindow(t *testing.T) {
	emitter := &captureEmitter{fail: true}
	d := NewDispatcher(emitter, nil)

	err := d.Send("speak faster")
	if err == nil {
		t.Fatalf("expected send error")
	}
	if errorsx.Reason(err) != errorsx.ReasonSessionSend {
		t.Fatalf("expected session_send reason, got %q", errorsx.Reason(err))
	}
	if d.SuppressAudio() {
		t.Fatalf("failed send must not leave a suppression window")
	}
}
