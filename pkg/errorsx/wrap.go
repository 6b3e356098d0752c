package errorsx

import "errors"

// ReasonedError carries a reason code alongside the underlying error so the
// engine can decide between absorbing a failure and ending the conversation.
type ReasonedError struct {
	Err    error
	Reason ReasonCode
}

func (e ReasonedError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return e.Err.Error()
}

func (e ReasonedError) Unwrap() error { return e.Err }

// New builds a reasoned error from a bare message.
func New(reason ReasonCode, msg string) error {
	return ReasonedError{Err: errors.New(msg), Reason: reason}
}

// Wrap attaches a reason code to an error. A nil error stays nil and an
// already-reasoned error keeps its original reason.
func Wrap(err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	var re ReasonedError
	if errors.As(err, &re) {
		return err
	}
	return ReasonedError{Err: err, Reason: reason}
}

// Reason extracts the reason code, ReasonUnknown when none is attached.
func Reason(err error) ReasonCode {
	if err == nil {
		return ReasonUnknown
	}
	var re ReasonedError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ReasonUnknown
}

// HasReason reports whether err carries the given reason code.
func HasReason(err error, reason ReasonCode) bool {
	return Reason(err) == reason
}

// IsTerminal reports whether the failure ends the session. Session-level
// reasons are terminal; device and per-segment failures are survivable (the
// conversation continues, possibly without a microphone).
func IsTerminal(err error) bool {
	switch Reason(err) {
	case ReasonSessionSend, ReasonSessionRecv, ReasonSessionClosed:
		return true
	}
	return false
}
