package turn

// transition is the pure turn-taking function: (state, event) in, (state,
// effects) out. drained and complete reflect the current reply's playback
// queue and session completion signal; the coordinator maintains them.
//
// Every (state, event) pair is defined; events that do not apply to the
// current state leave it unchanged with no effects.
func transition(s State, policy EndOfTurnPolicy, drained, complete bool, ev Event) (State, []Effect) {
	switch ev {
	case EventContentSent:
		// Evidentiary only: content went out, nothing came back yet.
		if s == StateUserSpeaking {
			return StateAiProcessing, nil
		}
		return s, nil

	case EventReplyAudio:
		if s != StateAiSpeaking {
			return StateAiSpeaking, []Effect{EffectCloseMic}
		}
		return s, nil

	case EventQueueDrained, EventReplyComplete:
		if s != StateAiSpeaking {
			return s, nil
		}
		over := drained && complete
		if policy == PolicyEitherSignal {
			over = drained || complete
		}
		if over {
			return StateUserSpeaking, []Effect{EffectOpenMic}
		}
		return s, nil

	case EventInterrupt:
		// Barge-in bypasses the end-of-turn policy. Flush strictly before
		// the mic reopens so no agent tail is captured as input.
		return StateUserSpeaking, []Effect{EffectFlushPlayback, EffectOpenMic}

	case EventDeviceLost:
		// Force the floor back to the user and clear the gate defensively.
		return StateUserSpeaking, []Effect{EffectOpenMic}
	}
	return s, nil
}
