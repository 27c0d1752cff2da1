// Package mock provides test doubles for [wakeword.Model] and
// [wakeword.Provider].
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/jarvis/pkg/provider/wakeword"
)

// Model is a scripted [wakeword.Model]. Predict pops the next entry of
// Scores; once Scores is exhausted it returns Default. It is safe for
// concurrent use.
type Model struct {
	mu sync.Mutex

	// Scores are returned by successive Predict calls.
	Scores []map[string]float64

	// Default is returned after Scores is exhausted.
	Default map[string]float64

	// ScoreFunc, when set, overrides Scores and Default.
	ScoreFunc func(samples []int16) map[string]float64

	// PredictErr is returned by Predict when non-nil.
	PredictErr error

	// LabelsResult is returned by Labels.
	LabelsResult []string

	// PredictCalls counts Predict invocations.
	PredictCalls int

	// Closed is set by Close.
	Closed bool
}

var _ wakeword.Model = (*Model)(nil)

// Predict implements [wakeword.Model].
func (m *Model) Predict(_ context.Context, samples []int16) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PredictCalls++
	if m.PredictErr != nil {
		return nil, m.PredictErr
	}
	if m.ScoreFunc != nil {
		return m.ScoreFunc(samples), nil
	}
	if len(m.Scores) > 0 {
		s := m.Scores[0]
		m.Scores = m.Scores[1:]
		return s, nil
	}
	return m.Default, nil
}

// Labels implements [wakeword.Model].
func (m *Model) Labels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LabelsResult
}

// Close implements [wakeword.Model].
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// Calls returns PredictCalls under the lock.
func (m *Model) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PredictCalls
}

// SetPredictErr replaces PredictErr under the lock.
func (m *Model) SetPredictErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PredictErr = err
}

// Provider is a [wakeword.Provider] returning Model or LoadErr.
type Provider struct {
	Model   wakeword.Model
	LoadErr error
}

var _ wakeword.Provider = (*Provider)(nil)

// Load implements [wakeword.Provider].
func (p *Provider) Load(context.Context) (wakeword.Model, error) {
	if p.LoadErr != nil {
		return nil, p.LoadErr
	}
	return p.Model, nil
}
