package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/provider/tts"
	"github.com/MrWong99/jarvis/pkg/types"
)

// Voice is a [Speaker] that synthesises text with a TTS provider and plays the
// result through an output device.
type Voice struct {
	tts    tts.Provider
	player audio.Player
}

var _ Speaker = (*Voice)(nil)

// NewVoice returns a Voice. Both arguments are required.
func NewVoice(provider tts.Provider, player audio.Player) *Voice {
	return &Voice{tts: provider, player: player}
}

// Speak synthesises text and blocks until playback finishes. Every failure
// wraps [types.ErrSynthesisFailed]; context cancellation is returned as is.
func (v *Voice) Speak(ctx context.Context, text string) error {
	if v.tts == nil || v.player == nil {
		return fmt.Errorf("voice: %w: no synthesizer or output device configured", types.ErrSynthesisFailed)
	}
	clip, err := v.tts.Synthesize(ctx, text)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return err
		}
		if errors.Is(err, types.ErrSynthesisFailed) {
			return err
		}
		return fmt.Errorf("voice: %w: %w", types.ErrSynthesisFailed, err)
	}
	if clip.Empty() {
		return nil
	}
	if err := v.player.Play(ctx, clip); err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return err
		}
		return fmt.Errorf("voice: %w: play: %w", types.ErrSynthesisFailed, err)
	}
	return nil
}
