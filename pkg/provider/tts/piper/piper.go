// Package piper provides a TTS provider that runs the Piper command-line
// synthesiser on a local ONNX voice.
//
// Each call pipes the reply into
//
//	<executable> --model <voice.onnx> --output_file <wav> --length_scale <s>
//
// and reads back the WAV file, which is removed afterwards.
package piper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/provider/tts"
	"github.com/MrWong99/jarvis/pkg/types"
)

// Environment variables that override the Piper paths.
const (
	EnvExecutable = "PIPER_EXECUTABLE"
	EnvVoicePath  = "PIPER_VOICE_PATH"
)

// Default paths, relative to the working directory.
const (
	DefaultExecutable = "tools/piper/piper"
	DefaultVoicePath  = "audio_models/tts/voice.onnx"
)

// naturalRate is the approximate speaking rate, in words per minute, of a
// Piper voice at length_scale 1.0.
const naturalRate = 170

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithExecutable overrides the piper binary path.
func WithExecutable(path string) Option {
	return func(p *Provider) {
		if path != "" {
			p.executable = path
		}
	}
}

// WithVoice overrides the ONNX voice model path. Piper expects the voice
// config next to it as "<voice>.json".
func WithVoice(path string) Option {
	return func(p *Provider) {
		if path != "" {
			p.voicePath = path
		}
	}
}

// WithRate sets the speaking rate in words per minute. Defaults to
// [tts.DefaultRate].
func WithRate(wpm int) Option {
	return func(p *Provider) { p.rate = wpm }
}

// WithSpeaker selects a speaker in multi-speaker voices.
func WithSpeaker(id int) Option {
	return func(p *Provider) { p.speaker = &id }
}

// WithTempDir sets where the output WAV is written. Defaults to [os.TempDir].
func WithTempDir(dir string) Option {
	return func(p *Provider) { p.tempDir = dir }
}

// Provider implements tts.Provider with the Piper CLI.
type Provider struct {
	executable string
	voicePath  string
	rate       int
	speaker    *int
	tempDir    string
}

// New creates a Provider. Paths are resolved from options, then from the
// PIPER_EXECUTABLE and PIPER_VOICE_PATH environment variables, then from the
// defaults. A missing executable or voice is a [types.ConfigurationError].
func New(opts ...Option) (*Provider, error) {
	p := &Provider{
		executable: envOr(EnvExecutable, DefaultExecutable),
		voicePath:  envOr(EnvVoicePath, DefaultVoicePath),
		rate:       tts.DefaultRate,
	}
	for _, o := range opts {
		o(p)
	}
	if err := p.checkPaths(); err != nil {
		return nil, err
	}
	return p, nil
}

// LengthScale converts a words-per-minute rate into Piper's length_scale,
// where larger values speak slower. The result is clamped to [0.5, 2.0];
// non-positive rates map to 1.0.
func LengthScale(wpm int) float64 {
	if wpm <= 0 {
		return 1.0
	}
	return min(max(float64(naturalRate)/float64(wpm), 0.5), 2.0)
}

// Synthesize implements [tts.Provider].
func (p *Provider) Synthesize(ctx context.Context, text string) (audio.Clip, error) {
	if err := p.checkPaths(); err != nil {
		return audio.Clip{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return audio.Clip{}, nil
	}

	f, err := os.CreateTemp(p.tempDir, "jarvis_tts_*.wav")
	if err != nil {
		return audio.Clip{}, fmt.Errorf("piper: create temp file: %w", err)
	}
	wavPath := f.Name()
	_ = f.Close()
	defer func() {
		if err := os.Remove(wavPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("piper: failed to remove temp file", "path", wavPath, "err", err)
		}
	}()

	args := []string{
		"--model", p.voicePath,
		"--output_file", wavPath,
		"--length_scale", strconv.FormatFloat(LengthScale(p.rate), 'f', 3, 64),
	}
	if p.speaker != nil {
		args = append(args, "--speaker", strconv.Itoa(*p.speaker))
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.executable, args...)
	cmd.Stdin = strings.NewReader(text + "\n")
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return audio.Clip{}, fmt.Errorf("piper: %w: %v: %s", types.ErrSynthesisFailed, err, lastLine(stderr.String()))
	}

	data, err := os.ReadFile(wavPath)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("piper: %w: read output: %w", types.ErrSynthesisFailed, err)
	}
	clip, err := audio.DecodeWAV(data)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("piper: %w: %w", types.ErrSynthesisFailed, err)
	}
	return clip, nil
}

func (p *Provider) checkPaths() error {
	if _, err := os.Stat(p.executable); err != nil {
		return &types.ConfigurationError{Subsystem: "piper", Setting: EnvExecutable, Path: p.executable, Err: err}
	}
	if _, err := os.Stat(p.voicePath); err != nil {
		return &types.ConfigurationError{Subsystem: "piper", Setting: EnvVoicePath, Path: p.voicePath, Err: err}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
