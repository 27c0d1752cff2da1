package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/jarvis/internal/dialog"
	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/internal/pipeline"
	"github.com/MrWong99/jarvis/internal/transcript"
	"github.com/MrWong99/jarvis/pkg/audio"
	audiomock "github.com/MrWong99/jarvis/pkg/audio/mock"
	llmmock "github.com/MrWong99/jarvis/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/jarvis/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/jarvis/pkg/provider/tts/mock"
	"github.com/MrWong99/jarvis/pkg/types"
)

// fakeRecorder returns a fixed clip and records the requested durations.
type fakeRecorder struct {
	mu    sync.Mutex
	err   error
	durs  []time.Duration
	block bool
}

func (r *fakeRecorder) Record(ctx context.Context, d time.Duration) (audio.Clip, error) {
	r.mu.Lock()
	r.durs = append(r.durs, d)
	err, block := r.err, r.block
	r.mu.Unlock()
	if block {
		<-ctx.Done()
		return audio.Clip{}, ctx.Err()
	}
	if err != nil {
		return audio.Clip{}, err
	}
	return audio.Clip{Data: make([]byte, audio.CaptureFormat.Bytes(d)), Format: audio.CaptureFormat}, nil
}

func (r *fakeRecorder) calls() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.durs...)
}

type harness struct {
	rec    *fakeRecorder
	stt    *sttmock.Provider
	llm    *llmmock.Provider
	conv   *dialog.Conversation
	tts    *ttsmock.Provider
	player *audiomock.Player
	p      *pipeline.Pipeline
}

func newHarness(t *testing.T, opts ...pipeline.Option) *harness {
	t.Helper()
	met, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	h := &harness{
		rec:    &fakeRecorder{},
		stt:    &sttmock.Provider{Text: "what time is it"},
		llm:    &llmmock.Provider{},
		tts:    &ttsmock.Provider{},
		player: &audiomock.Player{},
	}
	h.llm.SetReply("It is noon.")
	h.conv = dialog.New(h.llm, dialog.Config{})
	opts = append([]pipeline.Option{pipeline.WithMetrics(met)}, opts...)
	h.p = pipeline.New(h.rec, h.stt, h.conv, pipeline.NewVoice(h.tts, h.player), opts...)
	return h
}

// events records hook invocations in order.
type events struct {
	mu  sync.Mutex
	log []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = append(e.log, s)
}

func (e *events) hooks() pipeline.Hooks {
	return pipeline.Hooks{
		OnStage:      func(s pipeline.Stage) { e.add("stage:" + s.String()) },
		OnTranscript: func(text string) { e.add("you:" + text) },
		OnReply:      func(text string) { e.add("jarvis:" + text) },
	}
}

func (e *events) String() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return strings.Join(e.log, " | ")
}

func TestRun_Success(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	var ev events
	res := h.p.Run(context.Background(), ev.hooks())

	if !res.OK || res.Reason != pipeline.ReasonNone || res.Err != nil {
		t.Fatalf("result = %+v, want OK", res)
	}
	if res.Transcript != "what time is it" || res.Reply != "It is noon." {
		t.Errorf("transcript/reply = %q/%q", res.Transcript, res.Reply)
	}
	want := "stage:capture | stage:transcribe | you:what time is it | stage:generate | jarvis:It is noon. | stage:speak"
	if got := ev.String(); got != want {
		t.Errorf("hooks =\n  %s\nwant\n  %s", got, want)
	}
	if got := h.tts.Spoken(); len(got) != 1 || got[0] != "It is noon." {
		t.Errorf("spoken = %v", got)
	}
	if h.player.PlayCount() != 1 {
		t.Errorf("play count = %d, want 1", h.player.PlayCount())
	}
	if h.conv.Len() != 2 {
		t.Errorf("history length = %d, want 2", h.conv.Len())
	}
	if res.Duration <= 0 {
		t.Errorf("duration = %v, want > 0", res.Duration)
	}
	if got := h.rec.calls(); len(got) != 1 || got[0] != pipeline.DefaultCaptureDuration {
		t.Errorf("record durations = %v, want [7s]", got)
	}
}

func TestRun_NoSpeechSkipsGeneration(t *testing.T) {
	t.Parallel()

	for _, text := range []string{"", "   ", " a ", "\n.\t"} {
		t.Run(text, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			h.stt.Text = text

			res := h.p.Run(context.Background(), pipeline.Hooks{})
			if res.OK || res.Reason != pipeline.ReasonNoSpeech {
				t.Fatalf("result = %+v, want NoSpeech", res)
			}
			if !errors.Is(res.Err, types.ErrNoSpeech) {
				t.Errorf("err = %v, want ErrNoSpeech", res.Err)
			}
			if n := h.llm.StreamCallCount(); n != 0 {
				t.Errorf("generator called %d times, want 0", n)
			}
			if got := h.tts.Spoken(); len(got) != 1 || got[0] != pipeline.FallbackNoSpeech {
				t.Errorf("spoken = %v, want fallback", got)
			}
			if res.Reply != pipeline.FallbackNoSpeech {
				t.Errorf("reply = %q", res.Reply)
			}
		})
	}
}

func TestRun_GenerationFailureRollsBackHistory(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if res := h.p.Run(context.Background(), pipeline.Hooks{}); !res.OK {
		t.Fatalf("first turn failed: %+v", res)
	}
	before := h.conv.Len()

	h.llm.SetStreamErr(errors.New("dial tcp 127.0.0.1:11434: connection refused"))
	var ev events
	res := h.p.Run(context.Background(), ev.hooks())

	if res.Reason != pipeline.ReasonGenerationFailed {
		t.Fatalf("reason = %v, want generation_failed", res.Reason)
	}
	if !errors.Is(res.Err, types.ErrCollaboratorUnavailable) {
		t.Errorf("err = %v, want ErrCollaboratorUnavailable", res.Err)
	}
	if after := h.conv.Len(); after != before {
		t.Errorf("history length = %d, want %d", after, before)
	}
	spoken := h.tts.Spoken()
	if spoken[len(spoken)-1] != pipeline.FallbackUnavailable {
		t.Errorf("last spoken = %q, want connection fallback", spoken[len(spoken)-1])
	}
	if !strings.Contains(ev.String(), "jarvis:"+pipeline.FallbackUnavailable) {
		t.Errorf("fallback not published: %s", ev.String())
	}
}

func TestRun_EmptyGeneration(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.llm.SetReply("  \n ")

	res := h.p.Run(context.Background(), pipeline.Hooks{})
	if res.Reason != pipeline.ReasonEmptyGeneration || !errors.Is(res.Err, types.ErrEmptyGeneration) {
		t.Fatalf("result = %+v, want EmptyGeneration", res)
	}
	if got := h.tts.Spoken(); len(got) != 1 || got[0] != pipeline.FallbackEmptyReply {
		t.Errorf("spoken = %v", got)
	}
	if h.conv.Len() != 0 {
		t.Errorf("history length = %d, want 0", h.conv.Len())
	}
}

func TestRun_TranscriptionFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.stt.Err = &types.ConfigurationError{Subsystem: "whisper", Setting: "WHISPER_MODEL_PATH"}

	res := h.p.Run(context.Background(), pipeline.Hooks{})
	if res.Reason != pipeline.ReasonTranscriptionFailed {
		t.Fatalf("reason = %v, want transcription_failed", res.Reason)
	}
	if !errors.Is(res.Err, types.ErrConfiguration) {
		t.Errorf("err = %v, want wrapped ConfigurationError", res.Err)
	}
	if h.llm.StreamCallCount() != 0 {
		t.Error("generator called after transcription failure")
	}
	if got := h.tts.Spoken(); len(got) != 1 || got[0] != pipeline.FallbackTranscription {
		t.Errorf("spoken = %v", got)
	}
}

func TestRun_CaptureFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.rec.err = &types.DeviceError{Op: "capture", Err: errors.New("no frames received")}

	res := h.p.Run(context.Background(), pipeline.Hooks{})
	if res.Reason != pipeline.ReasonCaptureFailed || !errors.Is(res.Err, types.ErrDevice) {
		t.Fatalf("result = %+v, want CaptureFailed wrapping ErrDevice", res)
	}
	if h.stt.CallCount() != 0 {
		t.Error("transcriber called after capture failure")
	}
}

func TestRun_SynthesisFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.tts.SetErr(errors.New("piper exited with status 1"))

	res := h.p.Run(context.Background(), pipeline.Hooks{})
	if res.OK || res.Reason != pipeline.ReasonSynthesisFailed {
		t.Fatalf("result = %+v, want SynthesisFailed", res)
	}
	if !errors.Is(res.Err, types.ErrSynthesisFailed) {
		t.Errorf("err = %v, want ErrSynthesisFailed", res.Err)
	}
	if res.Reply != "It is noon." {
		t.Errorf("reply = %q, want the generated reply", res.Reply)
	}
	if len(h.tts.Spoken()) != 1 {
		t.Errorf("spoken = %v, want only the reply attempt", h.tts.Spoken())
	}
}

func TestRun_PanicIsRecovered(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.stt.Panic = "whisper segfault"

	res := h.p.Run(context.Background(), pipeline.Hooks{})
	if res.Reason != pipeline.ReasonInternal || res.Err == nil {
		t.Fatalf("result = %+v, want Internal", res)
	}
	if !strings.Contains(res.Err.Error(), "whisper segfault") {
		t.Errorf("err = %v", res.Err)
	}
}

func TestRun_HookPanicIsRecovered(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	res := h.p.Run(context.Background(), pipeline.Hooks{
		OnTranscript: func(string) { panic("subscriber bug") },
	})
	if res.Reason != pipeline.ReasonInternal {
		t.Fatalf("reason = %v, want internal", res.Reason)
	}
}

func TestRun_CorrectsTranscript(t *testing.T) {
	t.Parallel()

	h := newHarness(t, pipeline.WithCorrector(transcript.NewCorrector([]string{"Jarvis"})))
	h.stt.Text = "jervis, what time is it"

	res := h.p.Run(context.Background(), pipeline.Hooks{})
	if !res.OK {
		t.Fatalf("result = %+v", res)
	}
	if res.Transcript != "Jarvis, what time is it" {
		t.Errorf("transcript = %q", res.Transcript)
	}
	if len(res.Corrections) != 1 {
		t.Errorf("corrections = %+v", res.Corrections)
	}
	req, ok := h.llm.LastStreamRequest()
	if !ok {
		t.Fatal("no LLM request")
	}
	if last := req.Messages[len(req.Messages)-1].Content; last != "Jarvis, what time is it" {
		t.Errorf("LLM received %q", last)
	}
}

func TestRun_FallbackDisabled(t *testing.T) {
	t.Parallel()

	h := newHarness(t, pipeline.WithFallback(pipeline.ReasonNoSpeech, ""))
	h.stt.Text = ""

	res := h.p.Run(context.Background(), pipeline.Hooks{})
	if res.Reason != pipeline.ReasonNoSpeech {
		t.Fatalf("reason = %v", res.Reason)
	}
	if got := h.tts.Spoken(); len(got) != 0 {
		t.Errorf("spoken = %v, want nothing", got)
	}
	if res.Reply != "" {
		t.Errorf("reply = %q, want empty", res.Reply)
	}
}

func TestRun_CancelledSkipsFallback(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.rec.block = true
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res := h.p.Run(ctx, pipeline.Hooks{})
	if res.Reason != pipeline.ReasonCaptureFailed || !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Fatalf("result = %+v", res)
	}
	if got := h.tts.Spoken(); len(got) != 0 {
		t.Errorf("spoken = %v, want nothing after cancellation", got)
	}
}

func TestRun_Options(t *testing.T) {
	t.Parallel()

	h := newHarness(t, pipeline.WithCaptureDuration(3*time.Second), pipeline.WithMinTranscriptChars(5))
	h.stt.Text = "hi"

	res := h.p.Run(context.Background(), pipeline.Hooks{})
	if res.Reason != pipeline.ReasonNoSpeech {
		t.Errorf("reason = %v, want no_speech below 5 characters", res.Reason)
	}
	if got := h.rec.calls(); len(got) != 1 || got[0] != 3*time.Second {
		t.Errorf("record durations = %v, want [3s]", got)
	}
}

func TestRun_UniqueIDs(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a := h.p.Run(context.Background(), pipeline.Hooks{})
	b := h.p.Run(context.Background(), pipeline.Hooks{})
	if a.ID == b.ID {
		t.Errorf("turn IDs are equal: %v", a.ID)
	}
}

func TestStageAndReasonStrings(t *testing.T) {
	t.Parallel()

	if pipeline.StageGenerate.String() != "generate" {
		t.Errorf("StageGenerate = %q", pipeline.StageGenerate.String())
	}
	if pipeline.Stage(42).String() != "unknown" {
		t.Errorf("unknown stage = %q", pipeline.Stage(42).String())
	}
	if pipeline.ReasonEmptyGeneration.String() != "empty_generation" {
		t.Errorf("ReasonEmptyGeneration = %q", pipeline.ReasonEmptyGeneration.String())
	}
}
