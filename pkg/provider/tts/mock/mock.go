// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Clip: audio.Clip{Data: pcm, Format: audio.CaptureFormat}}
//	clip, _ := p.Synthesize(ctx, "Hello.")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/provider/tts"
)

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Clip is returned by Synthesize. When its Data is nil a short silent
	// clip at audio.CaptureFormat is returned instead.
	Clip audio.Clip

	// Err, if non-nil, is returned from Synthesize.
	Err error

	// Texts records the text of every Synthesize call in order.
	Texts []string
}

// Synthesize records text and returns Clip, Err.
func (p *Provider) Synthesize(ctx context.Context, text string) (audio.Clip, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Texts = append(p.Texts, text)
	if p.Err != nil {
		return audio.Clip{}, p.Err
	}
	if p.Clip.Data == nil {
		return audio.Clip{Data: make([]byte, audio.FrameSamples*2), Format: audio.CaptureFormat}, nil
	}
	return p.Clip, nil
}

// SetErr changes the error returned by later Synthesize calls.
func (p *Provider) SetErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Err = err
}

// Spoken returns a copy of the recorded texts.
func (p *Provider) Spoken() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Texts...)
}

var _ tts.Provider = (*Provider)(nil)
