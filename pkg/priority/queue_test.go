package priority

import (
	"testing"

	"github.com/harunnryd/lyra/pkg/frames"
)

func TestControlPreemptsAudio(t *testing.T) {
	q := New(4, 4)

	for i := 0; i < 3; i++ {
		if !q.TryPushLow(frames.NewAudioFrame("s1", int64(i), []byte{0, 0}, 16000, 1, nil)) {
			t.Fatalf("push low %d failed", i)
		}
	}
	if !q.TryPushHigh(frames.NewControlFrame("s1", 99, frames.ControlStartInterruption, nil)) {
		t.Fatalf("push high failed")
	}

	f, ok := q.Pop()
	if !ok {
		t.Fatalf("pop failed")
	}
	if f.Kind() != frames.KindControl {
		t.Fatalf("control frame must preempt queued audio, got %s", f.Kind())
	}
}

func TestPushNeverBlocks(t *testing.T) {
	q := New(1, 1)
	if !q.TryPushLow(frames.NewTextFrame("s1", 1, "a", nil)) {
		t.Fatalf("first push should fit")
	}
	if q.TryPushLow(frames.NewTextFrame("s1", 2, "b", nil)) {
		t.Fatalf("full lane must drop, not block")
	}
}

func TestCloseUnblocksPop(t *testing.T) {
	q := New(1, 1)
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop()
		done <- ok
	}()
	q.Close()
	if ok := <-done; ok {
		t.Fatalf("pop after close must report not ok")
	}
	q.Close() // idempotent
}
