package mock

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/lyra/pkg/frames"
)

// Session is an in-memory realtime session for local testing and
// integration. It implements the session.Session interface without any
// network dependency.
type Session struct {
	recvCh chan frames.Frame
	sentCh chan frames.Frame
	closed atomic.Bool
	mu     sync.Mutex
}

func New() *Session {
	return &Session{
		recvCh: make(chan frames.Frame, 256),
		sentCh: make(chan frames.Frame, 256),
	}
}

func (s *Session) Name() string { return "mock" }

func (s *Session) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		<-ctx.Done()
		_ = s.Stop()
	}()
	return nil
}

func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.CompareAndSwap(false, true) {
		close(s.recvCh)
		close(s.sentCh)
	}
	return nil
}

func (s *Session) Recv() <-chan frames.Frame { return s.recvCh }

func (s *Session) Send(f frames.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return nil
	}
	select {
	case s.sentCh <- f:
	default:
	}
	return nil
}

// Sent exposes outbound frames for inspection.
func (s *Session) Sent() <-chan frames.Frame { return s.sentCh }

// Push injects an inbound frame into the session.
func (s *Session) Push(f frames.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return
	}
	select {
	case s.recvCh <- f:
	default:
	}
}

// PushReplyChunk injects one reply audio chunk.
func (s *Session) PushReplyChunk(replyID string, seq int, pcm []byte, rate int) {
	meta := map[string]string{
		frames.MetaReplyID: replyID,
		frames.MetaSeq:     strconv.Itoa(seq),
	}
	s.Push(frames.NewAudioFrame("", time.Now().UnixNano(), pcm, rate, 1, meta))
}

// PushTranscript injects one transcript event.
func (s *Session) PushTranscript(speaker, text string) {
	meta := map[string]string{frames.MetaSpeaker: speaker}
	s.Push(frames.NewTextFrame("", time.Now().UnixNano(), text, meta))
}

// PushReplyComplete signals the end of the current reply.
func (s *Session) PushReplyComplete(replyID string) {
	meta := map[string]string{frames.MetaReplyID: replyID}
	s.Push(frames.NewSystemFrame("", time.Now().UnixNano(), frames.SysReplyComplete, meta))
}

// PushInterrupted signals a remote-initiated interruption.
func (s *Session) PushInterrupted() {
	s.Push(frames.NewSystemFrame("", time.Now().UnixNano(), frames.SysInterrupted, nil))
}

// PushError signals a session-level failure.
func (s *Session) PushError(reason string) {
	meta := map[string]string{frames.MetaReason: reason}
	s.Push(frames.NewSystemFrame("", time.Now().UnixNano(), frames.SysError, meta))
}
