// Package oto implements [audio.Player] with github.com/ebitengine/oto/v3.
//
// oto supports a single output context per process, so [New] fails if called
// twice. Clips in other formats are converted to the context format before
// playback.
package oto

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/types"
)

var created atomic.Bool

// Compile-time interface assertion.
var _ audio.Player = (*Player)(nil)

// Option configures a [Player].
type Option func(*config)

type config struct {
	format audio.Format
	buffer time.Duration
	poll   time.Duration
}

// WithFormat sets the output context format. Default: 22050 Hz mono, the
// native rate of most piper and coqui voices.
func WithFormat(f audio.Format) Option {
	return func(c *config) { c.format = f }
}

// WithBufferSize sets the device buffer length. Default: 100ms.
func WithBufferSize(d time.Duration) Option {
	return func(c *config) { c.buffer = d }
}

// Player plays clips through the default output device. Play calls are
// serialised.
type Player struct {
	ctx    *oto.Context
	format audio.Format
	poll   time.Duration

	mu sync.Mutex
}

// New opens the output device and waits until it is ready.
func New(opts ...Option) (*Player, error) {
	cfg := config{
		format: audio.Format{SampleRate: 22050, Channels: 1},
		buffer: 100 * time.Millisecond,
		poll:   10 * time.Millisecond,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.format.Channels != 1 && cfg.format.Channels != 2 {
		return nil, errors.New("oto: channel count must be 1 or 2")
	}
	if !created.CompareAndSwap(false, true) {
		return nil, errors.New("oto: an output context already exists in this process")
	}

	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   cfg.format.SampleRate,
		ChannelCount: cfg.format.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   cfg.buffer,
	})
	if err != nil {
		created.Store(false)
		return nil, &types.DeviceError{Op: "init playback", Err: err}
	}
	<-ready

	return &Player{ctx: otoCtx, format: cfg.format, poll: cfg.poll}, nil
}

// Play implements [audio.Player]. It blocks until the clip has drained or ctx
// is cancelled, in which case playback stops immediately.
func (p *Player) Play(ctx context.Context, clip audio.Clip) error {
	if clip.Empty() {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ctx.Err(); err != nil {
		return &types.DeviceError{Op: "playback", Err: err}
	}

	pl := p.ctx.NewPlayer(bytes.NewReader(clip.Convert(p.format).Data))
	defer pl.Close()
	pl.Play()

	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()
	for pl.IsPlaying() {
		select {
		case <-ctx.Done():
			pl.Pause()
			return ctx.Err()
		case <-ticker.C:
		}
	}
	if err := pl.Err(); err != nil {
		return &types.DeviceError{Op: "playback", Err: err}
	}
	return nil
}

// Close implements [audio.Player]. The oto context cannot be destroyed, so
// it is suspended instead.
func (p *Player) Close() error {
	return p.ctx.Suspend()
}
