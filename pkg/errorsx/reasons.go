package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	// Device acquisition failed; fatal to the session.
	ReasonDeviceUnavailable ReasonCode = "device_unavailable"
	// Capture device stopped delivering frames mid-turn.
	ReasonCaptureRead ReasonCode = "capture_read"

	// One inbound segment failed to decode; dropped, never fatal.
	ReasonDecode ReasonCode = "decode"
	// Output device refused a scheduled segment start.
	ReasonPlaybackStart ReasonCode = "playback_start"

	ReasonSessionSend   ReasonCode = "session_send"
	ReasonSessionRecv   ReasonCode = "session_recv"
	ReasonSessionClosed ReasonCode = "session_closed"
)
