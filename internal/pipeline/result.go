package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/jarvis/internal/transcript"
)

// Stage identifies a step of the turn.
type Stage int

const (
	StageCapture Stage = iota
	StageTranscribe
	StageGenerate
	StageSpeak
)

func (s Stage) String() string {
	switch s {
	case StageCapture:
		return "capture"
	case StageTranscribe:
		return "transcribe"
	case StageGenerate:
		return "generate"
	case StageSpeak:
		return "speak"
	default:
		return "unknown"
	}
}

// Reason classifies a failed turn.
type Reason int

const (
	// ReasonNone marks a successful turn.
	ReasonNone Reason = iota

	// ReasonNoSpeech: the transcript was empty or too short.
	ReasonNoSpeech

	// ReasonCaptureFailed: recording the utterance failed.
	ReasonCaptureFailed

	// ReasonTranscriptionFailed: the transcription engine failed.
	ReasonTranscriptionFailed

	// ReasonGenerationFailed: the language model was unreachable or errored.
	ReasonGenerationFailed

	// ReasonEmptyGeneration: the language model replied with nothing.
	ReasonEmptyGeneration

	// ReasonSynthesisFailed: the reply could not be synthesised or played.
	ReasonSynthesisFailed

	// ReasonInternal: a stage panicked.
	ReasonInternal
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "ok"
	case ReasonNoSpeech:
		return "no_speech"
	case ReasonCaptureFailed:
		return "capture_failed"
	case ReasonTranscriptionFailed:
		return "transcription_failed"
	case ReasonGenerationFailed:
		return "generation_failed"
	case ReasonEmptyGeneration:
		return "empty_generation"
	case ReasonSynthesisFailed:
		return "synthesis_failed"
	case ReasonInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// TurnResult is the outcome of one [Pipeline.Run].
type TurnResult struct {
	// ID identifies the turn in logs, spans and the journal.
	ID uuid.UUID

	// Transcript is the (corrected) user utterance. Empty when capture or
	// transcription failed.
	Transcript string

	// Reply is the assistant text that was spoken, or the fallback
	// utterance when the turn failed.
	Reply string

	// OK is true when the reply was generated and spoken.
	OK bool

	// Reason classifies a failure. ReasonNone when OK.
	Reason Reason

	// Err is the underlying error of a failed turn. ReasonNoSpeech wraps
	// types.ErrNoSpeech.
	Err error

	// Corrections lists vocabulary replacements applied to the transcript.
	Corrections []transcript.Correction

	// Duration is the wall time of the whole turn.
	Duration time.Duration
}
