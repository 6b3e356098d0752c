package lyra

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/lyra/pkg/audio"
	audiomock "github.com/harunnryd/lyra/pkg/audio/mock"
	"github.com/harunnryd/lyra/pkg/frames"
	"github.com/harunnryd/lyra/pkg/metrics"
	sessmock "github.com/harunnryd/lyra/pkg/session/mock"
	"github.com/harunnryd/lyra/pkg/turn"
)

type transcriptRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *transcriptRecorder) sink(speaker, text string, final bool) {
	r.mu.Lock()
	r.lines = append(r.lines, speaker+": "+text)
	r.mu.Unlock()
}

func (r *transcriptRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

type testRig struct {
	engine *Engine
	sess   *sessmock.Session
	cap    *audiomock.Capture
	out    *audiomock.Output
	lines  *transcriptRecorder
}

func newTestRig(t *testing.T, mutate func(*Config), obs ...metrics.Observer) *testRig {
	t.Helper()
	cfg := Config{
		Capture:  audio.CaptureConfig{}.WithDefaults(),
		Playback: PlaybackConfig{SampleRate: 24000, Channels: 1, UnderrunSlackMS: 30},
		Turn:     TurnConfig{EndOfTurnPolicy: "both", ClearSuppressionOnUserSpeech: true},
		LogLevel: "error",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	sess := sessmock.New()
	cap := audiomock.NewCapture(cfg.Capture)
	out := audiomock.NewOutput()
	lines := &transcriptRecorder{}
	var extra metrics.Observer
	if len(obs) > 0 {
		extra = obs[0]
	}
	eng, err := New(Options{
		Config:     cfg,
		Session:    sess,
		Capture:    cap,
		Output:     out,
		Transcript: lines.sink,
		Observer:   extra,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := eng.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = eng.Disconnect() })
	return &testRig{engine: eng, sess: sess, cap: cap, out: out, lines: lines}
}

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// pcm returns d of silence at 24 kHz mono.
func pcm(d time.Duration) []byte {
	samples := int(d.Seconds() * 24000)
	return make([]byte, samples*2)
}

func TestReplyAudioTakesFloorAndPlaysGapless(t *testing.T) {
	rig := newTestRig(t, nil)

	rig.sess.PushReplyChunk("r1", 0, pcm(200*time.Millisecond), 24000)
	waitFor(t, "first segment scheduled", func() bool { return len(rig.out.Plays()) == 1 })

	if got := rig.engine.Turn(); got != turn.StateAiSpeaking {
		t.Fatalf("turn = %v, want AiSpeaking", got)
	}
	if rig.engine.coord.MicEnabled() {
		t.Fatalf("mic gate must be closed while agent speaks")
	}

	rig.sess.PushReplyChunk("r1", 1, pcm(300*time.Millisecond), 24000)
	waitFor(t, "second segment scheduled", func() bool { return len(rig.out.Plays()) == 2 })

	plays := rig.out.Plays()
	if plays[0].At != 0 {
		t.Fatalf("first segment at %v, want 0", plays[0].At)
	}
	if want := 200 * time.Millisecond; plays[1].At != want {
		t.Fatalf("second segment at %v, want %v (back to back)", plays[1].At, want)
	}

	rig.sess.PushReplyComplete("r1")
	waitFor(t, "reply complete acknowledged", func() bool {
		return rig.engine.Turn() == turn.StateAiSpeaking
	})

	// Both signals required: complete alone must not end the turn.
	if got := rig.engine.Turn(); got != turn.StateAiSpeaking {
		t.Fatalf("turn ended on complete alone, got %v", got)
	}

	rig.out.Advance(time.Second)
	waitFor(t, "floor back to user", func() bool {
		return rig.engine.Turn() == turn.StateUserSpeaking
	})
	if !rig.engine.coord.MicEnabled() {
		t.Fatalf("mic gate must reopen when the turn ends")
	}
}

func TestEitherPolicyEndsTurnOnDrainAlone(t *testing.T) {
	rig := newTestRig(t, func(c *Config) { c.Turn.EndOfTurnPolicy = "either" })

	rig.sess.PushReplyChunk("r1", 0, pcm(100*time.Millisecond), 24000)
	waitFor(t, "segment scheduled", func() bool { return len(rig.out.Plays()) == 1 })

	rig.out.Advance(200 * time.Millisecond)
	waitFor(t, "turn ends on drain", func() bool {
		return rig.engine.Turn() == turn.StateUserSpeaking
	})
}

func TestInterruptMidSegment(t *testing.T) {
	rig := newTestRig(t, nil)

	rig.sess.PushReplyChunk("r1", 0, pcm(300*time.Millisecond), 24000)
	rig.sess.PushReplyChunk("r1", 1, pcm(300*time.Millisecond), 24000)
	waitFor(t, "playback started", func() bool { return len(rig.out.Plays()) == 1 })

	rig.out.Advance(100 * time.Millisecond)
	rig.engine.Interrupt()

	if got := rig.engine.Turn(); got != turn.StateUserSpeaking {
		t.Fatalf("turn = %v, want UserSpeaking after interrupt", got)
	}
	if !rig.engine.coord.MicEnabled() {
		t.Fatalf("mic gate must reopen atomically with the interrupt")
	}
	if rig.engine.sched.QueueLen() != 0 || rig.engine.sched.Playing() {
		t.Fatalf("flush must leave nothing queued or in flight")
	}
	if rig.out.Stops() == 0 {
		t.Fatalf("in-flight audio must be stopped, not just dequeued")
	}

	// The interrupt signal reaches the session ahead of queued audio.
	waitFor(t, "interrupt frame sent", func() bool {
		select {
		case f := <-rig.sess.Sent():
			cf, ok := f.(frames.ControlFrame)
			return ok && cf.Code() == frames.ControlStartInterruption
		default:
			return false
		}
	})
}

func TestMicGateBlocksTransmissionWhileAgentSpeaks(t *testing.T) {
	rig := newTestRig(t, nil)

	rig.sess.PushReplyChunk("r1", 0, pcm(500*time.Millisecond), 24000)
	waitFor(t, "agent speaking", func() bool {
		return rig.engine.Turn() == turn.StateAiSpeaking
	})

	rig.cap.Push(make([]byte, 640))
	time.Sleep(50 * time.Millisecond)
	select {
	case f := <-rig.sess.Sent():
		if f.Kind() == frames.KindAudio {
			t.Fatalf("captured audio escaped through a closed mic gate")
		}
	default:
	}

	rig.engine.Interrupt()
	waitFor(t, "gate reopened", func() bool { return rig.engine.coord.MicEnabled() })

	rig.cap.Push(make([]byte, 640))
	waitFor(t, "audio transmitted with open gate", func() bool {
		select {
		case f := <-rig.sess.Sent():
			return f.Kind() == frames.KindAudio
		default:
			return false
		}
	})
}

func TestInstructionReplySuppressed(t *testing.T) {
	rig := newTestRig(t, nil)

	if err := rig.engine.Instruct("Speak more slowly."); err != nil {
		t.Fatalf("instruct: %v", err)
	}

	rig.sess.PushTranscript(frames.SpeakerAgent, "Understood, I will slow down.")
	rig.sess.PushReplyChunk("ack", 0, pcm(100*time.Millisecond), 24000)
	rig.sess.PushReplyComplete("ack")
	waitFor(t, "suppression window closed", func() bool {
		_, pending := rig.engine.ctrl.Pending()
		return !pending
	})

	if got := rig.lines.all(); len(got) != 0 {
		t.Fatalf("acknowledgment leaked to transcript: %v", got)
	}
	if plays := rig.out.Plays(); len(plays) != 0 {
		t.Fatalf("acknowledgment audio leaked to playback: %d segments", len(plays))
	}

	// Post-window traffic flows normally.
	rig.sess.PushTranscript(frames.SpeakerAgent, "How can I help?")
	waitFor(t, "normal transcript surfaces", func() bool { return len(rig.lines.all()) == 1 })
}

func TestGenuineUserSpeechClearsSuppressionEarly(t *testing.T) {
	rig := newTestRig(t, nil)

	if err := rig.engine.Instruct("Speak more slowly."); err != nil {
		t.Fatalf("instruct: %v", err)
	}

	rig.sess.PushTranscript(frames.SpeakerUser, "Actually, one more thing.")
	waitFor(t, "user speech surfaced", func() bool { return len(rig.lines.all()) == 1 })

	if _, pending := rig.engine.ctrl.Pending(); pending {
		t.Fatalf("genuine user speech must clear the suppression window")
	}

	rig.sess.PushTranscript(frames.SpeakerAgent, "Sure, go ahead.")
	waitFor(t, "agent reply surfaces after early clear", func() bool {
		return len(rig.lines.all()) == 2
	})
}

func TestSetSpeedAppliesToFutureSegments(t *testing.T) {
	rig := newTestRig(t, nil)

	if err := rig.engine.SetSpeed(4); err != nil {
		t.Fatalf("set speed: %v", err)
	}
	// The instruction opened a suppression window; close it.
	rig.sess.PushReplyComplete("ack")
	waitFor(t, "suppression cleared", func() bool {
		_, pending := rig.engine.ctrl.Pending()
		return !pending
	})

	rig.sess.PushReplyChunk("r1", 0, pcm(300*time.Millisecond), 24000)
	waitFor(t, "segment scheduled", func() bool { return len(rig.out.Plays()) == 1 })

	if want := 200 * time.Millisecond; rig.out.Plays()[0].Seg.Duration != want {
		t.Fatalf("segment occupancy = %v, want %v at 1.5x", rig.out.Plays()[0].Seg.Duration, want)
	}
}

func TestDeviceLossKeepsSessionAlive(t *testing.T) {
	rig := newTestRig(t, nil)

	rig.sess.PushReplyChunk("r1", 0, pcm(300*time.Millisecond), 24000)
	waitFor(t, "agent speaking", func() bool {
		return rig.engine.Turn() == turn.StateAiSpeaking
	})

	rig.cap.Fail(context.DeadlineExceeded)
	waitFor(t, "floor returned to user", func() bool {
		return rig.engine.Turn() == turn.StateUserSpeaking
	})

	if rig.engine.ErrMessage() == "" {
		t.Fatalf("device loss must be reported")
	}
	if got := rig.engine.ConnectionState(); got != StateConnected {
		t.Fatalf("session must stay up after device loss, state = %v", got)
	}

	rig.sess.PushTranscript(frames.SpeakerAgent, "Are you still there?")
	waitFor(t, "session still delivers", func() bool { return len(rig.lines.all()) == 1 })
}

func TestSessionErrorIsTerminal(t *testing.T) {
	rig := newTestRig(t, nil)

	rig.sess.PushError("upstream rejected the stream")
	waitFor(t, "engine failed", func() bool {
		return rig.engine.ConnectionState() == StateFailed
	})
	if !strings.Contains(rig.engine.ErrMessage(), "upstream rejected") {
		t.Fatalf("error message = %q", rig.engine.ErrMessage())
	}
	// Teardown is idempotent.
	if err := rig.engine.Disconnect(); err != nil {
		t.Fatalf("disconnect after failure: %v", err)
	}
	if err := rig.engine.Disconnect(); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}
}

func TestRemoteCloseDisconnectsCleanly(t *testing.T) {
	rig := newTestRig(t, nil)

	rig.sess.Push(frames.NewSystemFrame("", time.Now().UnixNano(), frames.SysClosed, nil))
	waitFor(t, "clean disconnect", func() bool {
		return rig.engine.ConnectionState() == StateDisconnected
	})
	if rig.engine.ErrMessage() != "" {
		t.Fatalf("clean close must not record an error, got %q", rig.engine.ErrMessage())
	}
}

func TestInterruptResetsFirstAudioMarker(t *testing.T) {
	mem := metrics.NewMemoryObserver()
	rig := newTestRig(t, nil, mem)

	countFirstAudio := func() int {
		n := 0
		for _, ev := range mem.Snapshot() {
			if ev.Name == "reply_first_audio" {
				n++
			}
		}
		return n
	}

	rig.sess.PushReplyChunk("r1", 0, pcm(300*time.Millisecond), 24000)
	waitFor(t, "first reply playing", func() bool { return len(rig.out.Plays()) == 1 })
	waitFor(t, "first-audio marker for r1", func() bool { return countFirstAudio() == 1 })

	rig.engine.Interrupt()

	rig.sess.PushReplyChunk("r2", 0, pcm(300*time.Millisecond), 24000)
	waitFor(t, "second reply playing", func() bool { return len(rig.out.Plays()) == 2 })
	waitFor(t, "first-audio marker for r2", func() bool { return countFirstAudio() == 2 })
}

func TestConnectTwiceRejected(t *testing.T) {
	rig := newTestRig(t, nil)
	if err := rig.engine.Connect(context.Background()); err == nil {
		t.Fatalf("second connect must fail")
	}
}
