package types

import (
	"errors"
	"fmt"
)

// Error taxonomy. Subsystems wrap these sentinels so callers can classify
// failures with [errors.Is] regardless of which provider produced them.
var (
	// ErrConfiguration marks a missing or invalid model, executable or path.
	// The affected subsystem is disabled; the process keeps running.
	ErrConfiguration = errors.New("configuration error")

	// ErrDevice marks an audio input or output fault.
	ErrDevice = errors.New("audio device error")

	// ErrNoSpeech is returned when a capture produced no usable transcript.
	ErrNoSpeech = errors.New("no speech detected")

	// ErrEmptyGeneration is returned when the language model produced no text.
	ErrEmptyGeneration = errors.New("empty generation")

	// ErrSynthesisFailed is returned when a reply could not be spoken.
	ErrSynthesisFailed = errors.New("synthesis failed")

	// ErrCollaboratorUnavailable marks a network or process failure of an
	// external service during a turn.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

	// ErrTranscriptionFailed is returned when the transcription engine failed.
	ErrTranscriptionFailed = errors.New("transcription failed")
)

// ConfigurationError describes a missing or unusable resource required by a
// subsystem. It matches [ErrConfiguration] under [errors.Is].
type ConfigurationError struct {
	// Subsystem is the component that needs the resource (e.g. "whisper").
	Subsystem string

	// Setting names the option or environment variable that points at it.
	Setting string

	// Path is the offending filesystem path, if any.
	Path string

	// Err is the underlying cause, if any.
	Err error
}

func (e *ConfigurationError) Error() string {
	msg := e.Subsystem + ": " + ErrConfiguration.Error()
	if e.Setting != "" {
		msg += ": " + e.Setting
	}
	if e.Path != "" {
		msg += fmt.Sprintf(" (%q)", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether target is [ErrConfiguration].
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// Unwrap returns the underlying cause.
func (e *ConfigurationError) Unwrap() error { return e.Err }

// DeviceError describes an audio I/O fault. It matches [ErrDevice] under
// [errors.Is].
type DeviceError struct {
	// Op is the device operation that failed (e.g. "init capture").
	Op string

	// Err is the underlying cause.
	Err error
}

func (e *DeviceError) Error() string {
	if e.Err == nil {
		return ErrDevice.Error() + ": " + e.Op
	}
	return ErrDevice.Error() + ": " + e.Op + ": " + e.Err.Error()
}

// Is reports whether target is [ErrDevice].
func (e *DeviceError) Is(target error) bool { return target == ErrDevice }

// Unwrap returns the underlying cause.
func (e *DeviceError) Unwrap() error { return e.Err }
