package session

import (
	"context"

	"github.com/harunnryd/lyra/pkg/frames"
)

// Session is the remote conversational agent boundary. Implementations own
// their network lifecycle; the engine owns turn-taking and playback.
//
// Inbound frames follow these conventions:
//   - frames.AudioFrame: one reply audio chunk; meta carries reply_id, seq
//     and optionally codec.
//   - frames.TextFrame: one transcript event; meta carries speaker
//     (frames.SpeakerUser / frames.SpeakerAgent) and final.
//   - frames.SystemFrame: reply_complete, interrupted, closed or error
//     (see frames.Sys* names); error frames carry reason in meta.
//
// Outbound frames are content audio (AudioFrame), content or control text
// (TextFrame) and interruption signals (ControlFrame).
type Session interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	// Recv is closed when the session ends, after a closed or error
	// system frame has been delivered.
	Recv() <-chan frames.Frame
	Send(frames.Frame) error
}
