// Package whisper provides whisper.cpp-backed transcription.
//
// Three variants implement [stt.Provider]:
//
//   - [CLIProvider] runs the whisper-cli executable on a temporary WAV file.
//     It is the default and needs nothing but the binary and a ggml model.
//   - [ServerProvider] posts audio to a running whisper-server (/inference).
//   - [NativeProvider] links whisper.cpp through its CGO bindings.
//
// Captured clips are converted to 16 kHz mono before transcription.
package whisper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/provider/stt"
	"github.com/MrWong99/jarvis/pkg/types"
)

// Environment variables that override the CLI paths.
const (
	EnvExecutable = "WHISPER_CPP_EXECUTABLE"
	EnvModelPath  = "WHISPER_MODEL_PATH"
)

// Default paths, relative to the working directory.
const (
	DefaultExecutable = "tools/whisper.cpp/whisper-cli"
	DefaultModelPath  = "audio_models/stt/whisper_model.bin"
)

// Compile-time assertion that CLIProvider implements stt.Provider.
var _ stt.Provider = (*CLIProvider)(nil)

// CLIOption is a functional option for configuring a CLIProvider.
type CLIOption func(*CLIProvider)

// WithExecutable overrides the whisper-cli path.
func WithExecutable(path string) CLIOption {
	return func(p *CLIProvider) {
		if path != "" {
			p.executable = path
		}
	}
}

// WithModelPath overrides the ggml model path.
func WithModelPath(path string) CLIOption {
	return func(p *CLIProvider) {
		if path != "" {
			p.modelPath = path
		}
	}
}

// WithCLILanguage passes "-l lang" to whisper-cli. Empty leaves the
// executable's default.
func WithCLILanguage(lang string) CLIOption {
	return func(p *CLIProvider) { p.language = lang }
}

// WithTempDir sets where temporary WAV and transcript files are written.
// Defaults to [os.TempDir].
func WithTempDir(dir string) CLIOption {
	return func(p *CLIProvider) { p.tempDir = dir }
}

// WithThreads passes "-t n" to whisper-cli when n > 0.
func WithThreads(n int) CLIOption {
	return func(p *CLIProvider) { p.threads = n }
}

// CLIProvider transcribes by running the whisper.cpp command-line tool:
//
//	<executable> -m <model> -f <wav> -otxt
//
// The transcript is read from "<wav>.txt" when present, otherwise from
// standard output. Both temporary files are removed afterwards.
type CLIProvider struct {
	executable string
	modelPath  string
	language   string
	tempDir    string
	threads    int
}

// NewCLI creates a CLIProvider. Paths are resolved from options, then from
// the WHISPER_CPP_EXECUTABLE and WHISPER_MODEL_PATH environment variables,
// then from the defaults. A missing executable or model is reported as a
// [types.ConfigurationError].
func NewCLI(opts ...CLIOption) (*CLIProvider, error) {
	p := &CLIProvider{
		executable: envOr(EnvExecutable, DefaultExecutable),
		modelPath:  envOr(EnvModelPath, DefaultModelPath),
	}
	for _, o := range opts {
		o(p)
	}
	if err := p.checkPaths(); err != nil {
		return nil, err
	}
	return p, nil
}

// Transcribe implements [stt.Provider].
func (p *CLIProvider) Transcribe(ctx context.Context, clip audio.Clip) (string, error) {
	if err := p.checkPaths(); err != nil {
		return "", err
	}
	if clip.Empty() {
		return "", nil
	}

	f, err := os.CreateTemp(p.tempDir, "jarvis_stt_*.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create temp file: %w", err)
	}
	wavPath := f.Name()
	txtPath := wavPath + ".txt"
	defer func() {
		for _, path := range []string{wavPath, txtPath} {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				slog.Warn("whisper: failed to remove temp file", "path", path, "err", err)
			}
		}
	}()

	_, werr := f.Write(audio.EncodeWAV(clip.Convert(audio.CaptureFormat)))
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return "", fmt.Errorf("whisper: write temp wav: %w", werr)
	}

	args := []string{"-m", p.modelPath, "-f", wavPath, "-otxt"}
	if p.language != "" {
		args = append(args, "-l", p.language)
	}
	if p.threads > 0 {
		args = append(args, "-t", fmt.Sprint(p.threads))
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.executable, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("whisper: %w: %v: %s", types.ErrTranscriptionFailed, err, lastLine(stderr.String()))
	}

	text := stdout.String()
	if data, err := os.ReadFile(txtPath); err == nil {
		text = string(data)
	}
	return stt.CleanTranscript(text), nil
}

func (p *CLIProvider) checkPaths() error {
	if _, err := os.Stat(p.executable); err != nil {
		return &types.ConfigurationError{Subsystem: "whisper", Setting: EnvExecutable, Path: p.executable, Err: err}
	}
	if _, err := os.Stat(p.modelPath); err != nil {
		return &types.ConfigurationError{Subsystem: "whisper", Setting: EnvModelPath, Path: p.modelPath, Err: err}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// lastLine returns the last non-empty line of s, which is where whisper.cpp
// prints its fatal error.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
