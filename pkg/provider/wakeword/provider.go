// Package wakeword defines the boundary to a wake-word acoustic model.
//
// A [Provider] loads a [Model]; the model scores one audio frame at a time and
// returns a confidence per loaded wake-word label. Temporal smoothing and the
// detection decision live in internal/wakeword, not here.
package wakeword

import "context"

// Model scores audio frames.
type Model interface {
	// Predict scores one frame of 16 kHz mono samples and returns a
	// confidence in [0,1] for every loaded label.
	Predict(ctx context.Context, samples []int16) (map[string]float64, error)

	// Labels returns the wake-word labels the model has loaded.
	Labels() []string

	// Close releases the model.
	Close() error
}

// Provider loads a [Model]. Loading may fail when the model files or the
// inference service are unavailable.
type Provider interface {
	Load(ctx context.Context) (Model, error)
}

// ProviderFunc adapts a function to [Provider].
type ProviderFunc func(ctx context.Context) (Model, error)

// Load implements [Provider].
func (f ProviderFunc) Load(ctx context.Context) (Model, error) { return f(ctx) }
