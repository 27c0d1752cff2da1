package controller

// State is the controller's current activity.
type State int32

const (
	// Idle: not started, stopped, or detection disabled.
	Idle State = iota

	// Listening: scoring frames, ready to activate.
	Listening

	// Activating: a detection won the single-flight guard and is being
	// handed to the turn goroutine.
	Activating

	// Capturing: recording the utterance.
	Capturing

	// Transcribing: waiting for the transcription engine.
	Transcribing

	// Generating: waiting for the language model.
	Generating

	// Speaking: synthesising and playing the reply.
	Speaking

	// Faulted: the audio device or wake-word model failed. Only a restart
	// recovers.
	Faulted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Activating:
		return "activating"
	case Capturing:
		return "capturing"
	case Transcribing:
		return "transcribing"
	case Generating:
		return "generating"
	case Speaking:
		return "speaking"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// InTurn reports whether s belongs to a running turn.
func (s State) InTurn() bool {
	return s >= Activating && s <= Speaking
}

// Status labels published to the StatusSink.
const (
	StatusStarting     = "Starting..."
	StatusListening    = "Listening..."
	StatusRecording    = "Recording..."
	StatusTranscribing = "Transcribing..."
	StatusThinking     = "Thinking..."
	StatusSpeaking     = "Speaking..."
	StatusDisabled     = "Wake word detection disabled"
	StatusFaulted      = "Microphone unavailable"
)
