// Package pipeline runs one conversational turn: capture an utterance,
// transcribe it, generate a reply and speak it.
//
// Each stage validates its output before the next one starts. Failures are
// never returned as errors or panics; [Pipeline.Run] always yields a
// [TurnResult] so the caller's state machine can reset unconditionally. Most
// failures end with a short spoken fallback so the user hears that the
// assistant gave up.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/internal/transcript"
	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/provider/stt"
	"github.com/MrWong99/jarvis/pkg/types"
)

const (
	// DefaultCaptureDuration is the fixed length of an utterance.
	DefaultCaptureDuration = 7 * time.Second

	// DefaultMinTranscriptChars is the shortest transcript, in non-whitespace
	// characters, that is sent to the language model.
	DefaultMinTranscriptChars = 2
)

// Default fallback utterances.
const (
	FallbackNoSpeech      = "I'm sorry, I didn't catch that."
	FallbackUnavailable   = "I'm sorry, I'm having trouble connecting to my brain."
	FallbackEmptyReply    = "I'm sorry, I don't have an answer for that."
	FallbackTranscription = "I'm sorry, I couldn't understand the recording."
	FallbackCapture       = "I'm sorry, I couldn't hear you."
)

// Recorder captures an utterance of fixed length.
type Recorder interface {
	Record(ctx context.Context, d time.Duration) (audio.Clip, error)
}

// Generator produces the assistant's reply to a user utterance. It owns the
// conversation history.
type Generator interface {
	Respond(ctx context.Context, text string) (string, error)
}

// Speaker renders text audibly and blocks until playback is done.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Corrector rewrites misheard vocabulary in a transcript.
type Corrector interface {
	Correct(text string) (string, []transcript.Correction)
}

// Hooks observe a running turn. Every field is optional. Hooks run on the
// turn goroutine and should return quickly.
type Hooks struct {
	// OnStage fires before each stage starts, including the speak stage of
	// a fallback utterance.
	OnStage func(Stage)

	// OnTranscript receives the accepted user utterance.
	OnTranscript func(text string)

	// OnReply receives the assistant text about to be spoken, reply or
	// fallback.
	OnReply func(text string)
}

func (h Hooks) stage(s Stage) {
	if h.OnStage != nil {
		h.OnStage(s)
	}
}

func (h Hooks) transcript(text string) {
	if h.OnTranscript != nil {
		h.OnTranscript(text)
	}
}

func (h Hooks) reply(text string) {
	if h.OnReply != nil {
		h.OnReply(text)
	}
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithCaptureDuration sets the utterance length. Default: 7s.
func WithCaptureDuration(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.captureDuration = d
		}
	}
}

// WithMinTranscriptChars sets the minimum transcript length. Default: 2.
func WithMinTranscriptChars(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.minChars = n
		}
	}
}

// WithCorrector enables vocabulary correction of transcripts.
func WithCorrector(c Corrector) Option {
	return func(p *Pipeline) { p.corrector = c }
}

// WithFallback overrides the utterance spoken when a turn fails for reason.
// An empty text disables the fallback for that reason.
func WithFallback(reason Reason, text string) Option {
	return func(p *Pipeline) { p.fallbacks[reason] = text }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline sequences the turn collaborators. A Pipeline carries no per-turn
// state; the caller guarantees Run is not invoked concurrently.
type Pipeline struct {
	recorder  Recorder
	stt       stt.Provider
	generator Generator
	speaker   Speaker
	corrector Corrector

	captureDuration time.Duration
	minChars        int
	fallbacks       map[Reason]string
	metrics         *observe.Metrics
}

// New returns a Pipeline over the given collaborators.
func New(rec Recorder, transcriber stt.Provider, gen Generator, speaker Speaker, opts ...Option) *Pipeline {
	p := &Pipeline{
		recorder:        rec,
		stt:             transcriber,
		generator:       gen,
		speaker:         speaker,
		captureDuration: DefaultCaptureDuration,
		minChars:        DefaultMinTranscriptChars,
		fallbacks: map[Reason]string{
			ReasonNoSpeech:            FallbackNoSpeech,
			ReasonCaptureFailed:       FallbackCapture,
			ReasonTranscriptionFailed: FallbackTranscription,
			ReasonGenerationFailed:    FallbackUnavailable,
			ReasonEmptyGeneration:     FallbackEmptyReply,
		},
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Run executes one turn. It never panics and never returns an error: every
// outcome, including a panic inside a collaborator, is reported in the
// returned [TurnResult].
func (p *Pipeline) Run(ctx context.Context, hooks Hooks) (res TurnResult) {
	start := time.Now()
	res.ID = uuid.New()

	ctx, span := observe.StartTurn(ctx, res.ID.String())
	log := observe.Logger(ctx)

	p.metrics.ActiveTurns.Add(ctx, 1)
	defer func() {
		if r := recover(); r != nil {
			res.OK = false
			res.Reason = ReasonInternal
			res.Err = fmt.Errorf("pipeline: panic: %v", r)
			log.Error("turn panicked", "panic", r, "stack", string(debug.Stack()))
		}
		res.Duration = time.Since(start)

		p.metrics.ActiveTurns.Add(ctx, -1)
		p.metrics.RecordTurn(ctx, res.Reason.String(), res.Duration)
		observe.EndTurn(span, res.OK, res.Reason.String(), res.Err)

		if res.OK {
			log.Info("turn completed", "duration", res.Duration, "transcript", res.Transcript)
		} else {
			log.Warn("turn failed", "reason", res.Reason.String(), "err", res.Err, "duration", res.Duration)
		}
	}()

	p.run(ctx, hooks, log, &res)
	return res
}

func (p *Pipeline) run(ctx context.Context, hooks Hooks, log *slog.Logger, res *TurnResult) {
	// Capture.
	hooks.stage(StageCapture)
	t := time.Now()
	sctx, span := observe.StartStage(ctx, StageCapture.String())
	clip, err := p.recorder.Record(sctx, p.captureDuration)
	observe.EndStage(span, err)
	p.metrics.CaptureDuration.Record(ctx, time.Since(t).Seconds())
	if err != nil {
		p.fail(ctx, hooks, log, res, ReasonCaptureFailed, fmt.Errorf("pipeline: capture: %w", err))
		return
	}

	// Transcribe.
	hooks.stage(StageTranscribe)
	t = time.Now()
	sctx, span = observe.StartStage(ctx, StageTranscribe.String())
	text, err := p.stt.Transcribe(sctx, clip)
	observe.EndStage(span, err)
	p.metrics.STTDuration.Record(ctx, time.Since(t).Seconds())
	if err != nil {
		p.fail(ctx, hooks, log, res, ReasonTranscriptionFailed, fmt.Errorf("pipeline: transcribe: %w", err))
		return
	}
	text = strings.TrimSpace(text)
	if n := countNonSpace(text); n < p.minChars {
		p.fail(ctx, hooks, log, res, ReasonNoSpeech, fmt.Errorf("pipeline: %w: %d characters transcribed", types.ErrNoSpeech, n))
		return
	}
	if p.corrector != nil {
		var corrections []transcript.Correction
		text, corrections = p.corrector.Correct(text)
		res.Corrections = corrections
		for _, c := range corrections {
			log.Debug("transcript corrected", "original", c.Original, "corrected", c.Corrected, "confidence", c.Confidence)
		}
	}
	res.Transcript = text
	hooks.transcript(text)

	// Generate.
	hooks.stage(StageGenerate)
	t = time.Now()
	sctx, span = observe.StartStage(ctx, StageGenerate.String())
	reply, err := p.generator.Respond(sctx, text)
	observe.EndStage(span, err)
	p.metrics.LLMDuration.Record(ctx, time.Since(t).Seconds())
	if err != nil {
		reason := ReasonGenerationFailed
		if errors.Is(err, types.ErrEmptyGeneration) {
			reason = ReasonEmptyGeneration
		}
		p.fail(ctx, hooks, log, res, reason, fmt.Errorf("pipeline: generate: %w", err))
		return
	}

	// Speak.
	res.Reply = reply
	hooks.reply(reply)
	hooks.stage(StageSpeak)
	t = time.Now()
	sctx, span = observe.StartStage(ctx, StageSpeak.String())
	err = p.speaker.Speak(sctx, reply)
	observe.EndStage(span, err)
	p.metrics.TTSDuration.Record(ctx, time.Since(t).Seconds())
	if err != nil {
		res.Reason = ReasonSynthesisFailed
		res.Err = fmt.Errorf("pipeline: speak: %w", err)
		return
	}
	res.OK = true
}

// fail records the failure on res and speaks the fallback for reason, if
// any. Fallbacks are skipped once ctx is done.
func (p *Pipeline) fail(ctx context.Context, hooks Hooks, log *slog.Logger, res *TurnResult, reason Reason, err error) {
	res.Reason = reason
	res.Err = err

	fallback := p.fallbacks[reason]
	if fallback == "" || ctx.Err() != nil {
		return
	}
	res.Reply = fallback
	hooks.reply(fallback)
	hooks.stage(StageSpeak)
	if serr := p.speaker.Speak(ctx, fallback); serr != nil {
		log.Warn("failed to speak fallback", "reason", reason.String(), "err", serr)
	}
}

func countNonSpace(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}
