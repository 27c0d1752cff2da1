// Package types defines the shared types used across Jarvis packages.
//
// Cross-cutting data structures and the error taxonomy live here so that
// providers, the pipeline, the controller and the status layer can agree on
// them without importing each other.
package types

import "time"

// Default sender labels used for transcript events.
const (
	SenderUser      = "You"
	SenderAssistant = "Jarvis"
)

// TranscriptEvent is a single (sender, message) pair emitted to observers.
// Events are append-only and ordered by emission time.
type TranscriptEvent struct {
	// Sender is the human-readable label of whoever produced the message.
	Sender string `json:"sender"`

	// Message is the text shown to observers.
	Message string `json:"message"`

	// Time is when the event was published.
	Time time.Time `json:"time"`
}
