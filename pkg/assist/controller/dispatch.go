package controller

// State is the session lifecycle phase.
type State int

const (
	StateConnecting State = iota
	StateListening
	StateThinking
	StateSpeaking
	StateEnded
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateThinking:
		return "thinking"
	case StateSpeaking:
		return "speaking"
	case StateEnded:
		return "ended"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Terminal reports whether no transition can leave s.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateError
}

type EventKind int

const (
	EventReady EventKind = iota
	EventAudio
	EventText
	EventTurnComplete
	EventInterrupted
	EventEndSession
	EventUserTranscript
	EventUpstreamError
	EventUserEnd
)

// Event is one backend or user occurrence fed to the state machine.
type Event struct {
	Kind    EventKind
	Audio   []byte // EventAudio
	Text    string // EventText, EventUserTranscript
	Summary string // EventEndSession
	Message string // EventUpstreamError
}

type EffectKind int

const (
	EffectNotifyReady EffectKind = iota
	EffectSchedulePlayback
	EffectResetPlayback
	EffectStageFragment
	EffectCompleteTurn
	EffectStageUserFragment
	EffectCompleteUserTurn
	EffectStopHardware
	EffectArchive
	EffectSurfaceError
)

// Effect is a side effect the caller must apply after a dispatch. Dispatch
// itself touches nothing.
type Effect struct {
	Kind    EffectKind
	Audio   []byte
	Text    string
	Summary string
	Message string
}

// FallbackSummary is archived when a session ends without the backend ever
// supplying one.
const FallbackSummary = "Session ended before a summary was provided."

// Dispatch maps (state, event) to (next state, effects). It is a pure
// function so the transition table can be tested without hardware or
// network in the loop.
func Dispatch(state State, ev Event) (State, []Effect) {
	// Terminal states swallow everything, including late backend traffic
	// that races the close.
	if state.Terminal() {
		return state, nil
	}

	switch ev.Kind {
	case EventReady:
		if state == StateConnecting {
			return StateListening, []Effect{{Kind: EffectNotifyReady}}
		}
		return state, nil

	case EventAudio:
		// The agent replying closes the user's staged utterance, keeping
		// entries in chronological order.
		effects := []Effect{
			{Kind: EffectCompleteUserTurn},
			{Kind: EffectSchedulePlayback, Audio: ev.Audio},
		}
		if state == StateListening || state == StateThinking {
			return StateSpeaking, effects
		}
		return state, effects

	case EventText:
		next := state
		if state == StateListening {
			next = StateThinking
		}
		return next, []Effect{
			{Kind: EffectCompleteUserTurn},
			{Kind: EffectStageFragment, Text: ev.Text},
		}

	case EventTurnComplete:
		return state, []Effect{{Kind: EffectCompleteTurn}}

	case EventInterrupted:
		next := state
		if state == StateSpeaking {
			next = StateListening
		}
		return next, []Effect{{Kind: EffectResetPlayback}}

	case EventUserTranscript:
		return state, []Effect{{Kind: EffectStageUserFragment, Text: ev.Text}}

	case EventEndSession:
		summary := ev.Summary
		if summary == "" {
			summary = FallbackSummary
		}
		return StateEnded, []Effect{
			{Kind: EffectStopHardware},
			{Kind: EffectArchive, Summary: summary},
		}

	case EventUserEnd:
		return StateEnded, []Effect{
			{Kind: EffectStopHardware},
			{Kind: EffectArchive, Summary: FallbackSummary},
		}

	case EventUpstreamError:
		if state == StateConnecting {
			// The session never opened; there is nothing to archive.
			return StateError, []Effect{
				{Kind: EffectStopHardware},
				{Kind: EffectSurfaceError, Message: ev.Message},
			}
		}
		// Mid-session failures keep whatever transcript was collected.
		return StateEnded, []Effect{
			{Kind: EffectStopHardware},
			{Kind: EffectSurfaceError, Message: ev.Message},
			{Kind: EffectArchive, Summary: FallbackSummary},
		}
	}
	return state, nil
}

// DeriveSpeechState folds the playback scheduler's "currently speaking"
// signal into the live states. Called from the render/tick loop so the
// status decays even when no new chunk arrives.
func DeriveSpeechState(state State, speaking bool) State {
	switch state {
	case StateListening, StateThinking:
		if speaking {
			return StateSpeaking
		}
	case StateSpeaking:
		if !speaking {
			return StateListening
		}
	}
	return state
}
