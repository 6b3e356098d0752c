package turn

// State says who currently holds the floor. Exactly one value is live.
type State int

const (
	StateUserSpeaking State = iota
	StateAiProcessing
	StateAiSpeaking
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateUserSpeaking:
		return "USER_SPEAKING"
	case StateAiProcessing:
		return "AI_PROCESSING"
	case StateAiSpeaking:
		return "AI_SPEAKING"
	default:
		return "UNKNOWN"
	}
}

// Event is a typed input to the transition function.
type Event int

const (
	EventContentSent Event = iota
	EventReplyAudio
	EventQueueDrained
	EventReplyComplete
	EventInterrupt
	EventDeviceLost
)

func (e Event) String() string {
	switch e {
	case EventContentSent:
		return "content_sent"
	case EventReplyAudio:
		return "reply_audio"
	case EventQueueDrained:
		return "queue_drained"
	case EventReplyComplete:
		return "reply_complete"
	case EventInterrupt:
		return "interrupt"
	case EventDeviceLost:
		return "device_lost"
	default:
		return "unknown"
	}
}

// Effect is a side effect the coordinator applies, in order, under its lock.
type Effect int

const (
	EffectCloseMic Effect = iota
	EffectOpenMic
	EffectFlushPlayback
)

// EndOfTurnPolicy decides when an AI speech turn is over.
type EndOfTurnPolicy int

const (
	// PolicyQueueAndComplete hands the floor back only when the playback
	// queue is drained AND the session signalled the reply complete.
	PolicyQueueAndComplete EndOfTurnPolicy = iota
	// PolicyEitherSignal hands the floor back on whichever comes first.
	PolicyEitherSignal
)

func (p EndOfTurnPolicy) String() string {
	if p == PolicyEitherSignal {
		return "either"
	}
	return "both"
}
