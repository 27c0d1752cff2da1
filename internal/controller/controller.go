// Package controller implements the activation state machine: it consumes
// the microphone frame stream, scores every frame for the wake word and, on
// detection, runs exactly one conversational turn at a time.
//
// Three goroutines share state. The capture callback feeds the recording tap
// and otherwise hands frames to the scoring goroutine over a short bounded
// queue; it never waits on a model. The scoring goroutine wins or loses the
// single-flight guard with an atomic compare-and-swap from [Listening] to
// [Activating]; only the winner hands a detection to the turn goroutine over
// a one-slot channel. The turn goroutine runs the pipeline and always returns
// the controller to [Listening] in a deferred finalizer. Detections that lose
// the guard are dropped, never queued, and so are frames that arrive while
// the scoring queue is full.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/internal/pipeline"
	"github.com/MrWong99/jarvis/internal/wakeword"
	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/types"
)

const (
	// DefaultThreshold is the minimum target score that activates a turn.
	DefaultThreshold = 0.25

	// DefaultMaxScoreFailures is the number of consecutive scoring errors
	// after which the controller faults.
	DefaultMaxScoreFailures = 25

	// DefaultScoreQueue is the number of frames (320ms of audio) buffered
	// between the capture callback and the scorer.
	DefaultScoreQueue = 4

	// DefaultGreeting is published once the controller is listening.
	DefaultGreeting = "Hello. I am online and listening."
)

// ErrAlreadyStarted is returned by [Controller.Start] when called twice.
var ErrAlreadyStarted = errors.New("controller: already started")

// Scorer scores one frame for every wake-word label.
type Scorer interface {
	Score(ctx context.Context, frame audio.AudioFrame) (wakeword.Score, error)
	Target() string
}

// Runner runs one turn. *pipeline.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, hooks pipeline.Hooks) pipeline.TurnResult
}

// StatusSink receives status labels and transcript messages. Calls must not
// block.
type StatusSink interface {
	PublishStatus(label string)
	PublishMessage(sender, text string)
}

type nopSink struct{}

func (nopSink) PublishStatus(string)          {}
func (nopSink) PublishMessage(string, string) {}

// Config wires a [Controller].
type Config struct {
	// Source delivers microphone frames. Required.
	Source audio.Source

	// Tap receives every frame before scoring so the pipeline can record
	// from the live stream. Required; it must be the pipeline's recorder.
	Tap *audio.Tap

	// Pipeline runs turns. Required.
	Pipeline Runner

	// Scorer is nil when wake-word detection is disabled. The controller
	// then stays Idle and never opens the audio device.
	Scorer Scorer

	// DisabledReason explains a nil Scorer in logs.
	DisabledReason error

	// Status receives status and transcript events. Optional.
	Status StatusSink

	// Threshold defaults to [DefaultThreshold].
	Threshold float64

	// MaxScoreFailures defaults to [DefaultMaxScoreFailures].
	MaxScoreFailures int

	// Greeting is published by the assistant once listening. Empty means
	// [DefaultGreeting]; use NoGreeting to disable.
	Greeting string

	// UserLabel and AssistantLabel name the transcript senders. Defaults:
	// "You" and "Jarvis".
	UserLabel      string
	AssistantLabel string

	// LogLevels logs the peak level of every frame at debug level.
	LogLevels bool

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// OnTransition is called after every state change. It runs on the
	// goroutine that made the change and must not block.
	OnTransition func(from, to State)

	// OnTurn receives each finished turn on the turn goroutine.
	OnTurn func(pipeline.TurnResult)

	// OnScore is called on the scoring goroutine after each queued frame has
	// been handled, with the scoring error if any.
	OnScore func(err error)
}

// NoGreeting disables the startup greeting when used as Config.Greeting.
const NoGreeting = "-"

type detection struct {
	label string
	score float64
	at    time.Time
}

// Controller is the activation state machine. Create it with [New].
type Controller struct {
	source  audio.Source
	tap     *audio.Tap
	runner  Runner
	scorer  Scorer
	reason  error
	sink    StatusSink
	metrics *observe.Metrics

	greeting       string
	userLabel      string
	assistantLabel string
	logLevels      bool
	maxFailures    int64
	onTransition   func(from, to State)
	onTurn         func(pipeline.TurnResult)
	onScore        func(error)

	state         atomic.Int32
	threshold     atomic.Uint64
	scoreFailures atomic.Int64

	frames     chan audio.AudioFrame
	detections chan detection
	fatal      chan error

	mu      sync.Mutex
	started bool
	stopped bool
	loopCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New validates cfg and returns an Idle controller.
func New(cfg Config) (*Controller, error) {
	var errs []error
	if cfg.Source == nil {
		errs = append(errs, errors.New("audio source is required"))
	}
	if cfg.Tap == nil {
		errs = append(errs, errors.New("audio tap is required"))
	}
	if cfg.Pipeline == nil {
		errs = append(errs, errors.New("pipeline is required"))
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		errs = append(errs, fmt.Errorf("threshold %v outside [0,1]", cfg.Threshold))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("controller: %w", err)
	}

	c := &Controller{
		source:         cfg.Source,
		tap:            cfg.Tap,
		runner:         cfg.Pipeline,
		scorer:         cfg.Scorer,
		reason:         cfg.DisabledReason,
		sink:           cfg.Status,
		metrics:        cfg.Metrics,
		greeting:       cfg.Greeting,
		userLabel:      cfg.UserLabel,
		assistantLabel: cfg.AssistantLabel,
		logLevels:      cfg.LogLevels,
		maxFailures:    int64(cfg.MaxScoreFailures),
		onTransition:   cfg.OnTransition,
		onTurn:         cfg.OnTurn,
		onScore:        cfg.OnScore,
		frames:         make(chan audio.AudioFrame, DefaultScoreQueue),
		detections:     make(chan detection, 1),
		fatal:          make(chan error, 1),
	}
	if c.sink == nil {
		c.sink = nopSink{}
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.greeting == "" {
		c.greeting = DefaultGreeting
	}
	if c.userLabel == "" {
		c.userLabel = types.SenderUser
	}
	if c.assistantLabel == "" {
		c.assistantLabel = types.SenderAssistant
	}
	if c.maxFailures <= 0 {
		c.maxFailures = DefaultMaxScoreFailures
	}
	threshold := cfg.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	c.threshold.Store(math.Float64bits(threshold))
	return c, nil
}

// State returns the current state.
func (c *Controller) State() State { return State(c.state.Load()) }

// Threshold returns the activation threshold.
func (c *Controller) Threshold() float64 { return math.Float64frombits(c.threshold.Load()) }

// SetThreshold changes the activation threshold at runtime.
func (c *Controller) SetThreshold(v float64) error {
	if v <= 0 || v > 1 {
		return fmt.Errorf("controller: threshold %v outside (0,1]", v)
	}
	old := c.Threshold()
	c.threshold.Store(math.Float64bits(v))
	if old != v {
		slog.Info("wake word threshold changed", "old", old, "new", v)
	}
	return nil
}

// DetectionEnabled reports whether a wake-word scorer is configured.
func (c *Controller) DetectionEnabled() bool { return c.scorer != nil }

// Start opens the audio device and begins listening. With detection
// disabled it publishes the reason and returns nil without touching the
// device. A device failure is returned as a [types.DeviceError] and the
// controller stays Idle.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true
	c.sink.PublishStatus(StatusStarting)

	if c.scorer == nil {
		slog.Warn("wake word detection disabled; the assistant cannot be activated", "reason", c.reason)
		c.sink.PublishStatus(StatusDisabled)
		return nil
	}

	c.loopCtx, c.cancel = context.WithCancel(ctx)
	if err := c.source.Start(c.loopCtx, c.onFrame); err != nil {
		c.cancel()
		c.sink.PublishStatus(StatusFaulted)
		if !errors.Is(err, types.ErrDevice) {
			err = &types.DeviceError{Op: "start capture", Err: err}
		}
		return fmt.Errorf("controller: %w", err)
	}

	c.wg.Add(3)
	go c.scoreLoop(c.loopCtx)
	go c.turnLoop(c.loopCtx)
	go c.watchFaults(c.loopCtx)

	c.transition(Idle, Listening)
	slog.Info("listening for wake word", "target", c.scorer.Target(), "threshold", c.Threshold())
	c.sink.PublishStatus(StatusListening)
	if c.greeting != NoGreeting {
		c.sink.PublishMessage(c.assistantLabel, c.greeting)
	}
	return nil
}

// Stop halts the frame loop, waits for a running turn to observe
// cancellation, and releases the audio device. It is idempotent and safe to
// call before Start.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started || c.stopped || c.cancel == nil {
		return nil
	}
	c.stopped = true

	c.cancel()
	err := c.source.Stop()
	c.wg.Wait()

	if from := c.State(); from != Faulted && from != Idle {
		c.state.Store(int32(Idle))
		c.notify(from, Idle)
	}
	if err != nil {
		return fmt.Errorf("controller: stop capture: %w", err)
	}
	return nil
}

// Run starts the controller and blocks until ctx is cancelled or the
// controller faults. It returns nil on cancellation, the fault otherwise.
// When detection is disabled Run still blocks so the rest of the process
// stays available.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return c.Stop()
	case err := <-c.fatal:
		if serr := c.Stop(); serr != nil {
			slog.Warn("failed to release audio device after fault", "err", serr)
		}
		return err
	}
}

// onFrame runs on the capture callback. It must return quickly: it never
// scores and never blocks on the other goroutines.
func (c *Controller) onFrame(frame audio.AudioFrame) {
	if c.tap.Feed(frame) {
		return
	}
	state := c.State()
	if c.logLevels {
		slog.Debug("audio level", "peak", frame.Peak(), "state", state.String())
	}
	if state == Idle || state == Faulted {
		return
	}
	select {
	case c.frames <- frame:
	default:
		c.metrics.FramesDropped.Add(c.loopCtx, 1)
	}
}

func (c *Controller) scoreLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-c.frames:
			err := c.score(ctx, frame)
			if c.onScore != nil {
				c.onScore(err)
			}
		}
	}
}

// score runs the model on one frame and claims the single-flight guard when
// the target clears the threshold.
func (c *Controller) score(ctx context.Context, frame audio.AudioFrame) error {
	if s := c.State(); s == Idle || s == Faulted {
		return nil
	}

	start := time.Now()
	score, err := c.scorer.Score(ctx, frame)
	c.metrics.ScoreDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		c.scoreFailed(ctx, err)
		return err
	}
	c.scoreFailures.Store(0)

	label := c.scorer.Target()
	v := score[label]
	if v < c.Threshold() {
		return nil
	}
	if !c.state.CompareAndSwap(int32(Listening), int32(Activating)) {
		slog.Debug("already processing, ignoring activation", "state", c.State().String(), "score", v)
		c.metrics.RecordDetection(ctx, label, false)
		return nil
	}
	c.notify(Listening, Activating)
	c.metrics.RecordDetection(ctx, label, true)
	slog.Info("wake word detected", "label", label, "score", v)
	c.sink.PublishStatus(StatusListening)

	select {
	case c.detections <- detection{label: label, score: v, at: time.Now()}:
	default:
		// Unreachable while the CAS guards entry; reset rather than wedge.
		slog.Error("detection slot occupied; dropping activation")
		c.transition(Activating, Listening)
	}
	return nil
}

func (c *Controller) scoreFailed(ctx context.Context, err error) {
	c.metrics.ScoreErrors.Add(ctx, 1)
	n := c.scoreFailures.Add(1)
	if n == 1 {
		slog.Warn("wake word scoring failed", "err", err)
	}
	if n >= c.maxFailures {
		c.fault(fmt.Errorf("controller: wake word model failed %d consecutive frames: %w", n, err))
	}
}

// fault moves the controller to Faulted and reports err to Run. It never
// calls into the audio source; Run stops it.
func (c *Controller) fault(err error) {
	from := State(c.state.Swap(int32(Faulted)))
	if from == Faulted {
		return
	}
	c.notify(from, Faulted)
	slog.Error("listening loop faulted", "err", err)
	c.sink.PublishStatus(StatusFaulted)
	select {
	case c.fatal <- err:
	default:
	}
}

func (c *Controller) watchFaults(ctx context.Context) {
	defer c.wg.Done()
	select {
	case <-ctx.Done():
	case err, ok := <-c.source.Faults():
		if !ok {
			return
		}
		if !errors.Is(err, types.ErrDevice) {
			err = &types.DeviceError{Op: "capture", Err: err}
		}
		c.fault(fmt.Errorf("controller: %w", err))
	}
}

func (c *Controller) turnLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-c.detections:
			c.runTurn(ctx, d)
		}
	}
}

// runTurn executes one turn. The deferred reset is the only way back to
// Listening.
func (c *Controller) runTurn(ctx context.Context, d detection) {
	defer c.reset()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("turn handler panicked", "panic", r)
		}
	}()

	if !c.transition(Activating, Capturing) {
		return
	}
	c.sink.PublishStatus(StatusRecording)
	slog.Debug("turn started", "label", d.label, "score", d.score, "latency", time.Since(d.at))

	res := c.runner.Run(ctx, pipeline.Hooks{
		OnStage:      c.onStage,
		OnTranscript: func(text string) { c.sink.PublishMessage(c.userLabel, text) },
		OnReply:      func(text string) { c.sink.PublishMessage(c.assistantLabel, text) },
	})
	if c.onTurn != nil {
		c.onTurn(res)
	}
}

func (c *Controller) onStage(s pipeline.Stage) {
	switch s {
	case pipeline.StageTranscribe:
		c.advance(Transcribing, StatusTranscribing)
	case pipeline.StageGenerate:
		c.advance(Generating, StatusThinking)
	case pipeline.StageSpeak:
		c.advance(Speaking, StatusSpeaking)
	}
}

// advance moves a running turn to next. It is a no-op once the controller
// has faulted or stopped.
func (c *Controller) advance(next State, status string) {
	for {
		cur := c.State()
		if !cur.InTurn() {
			return
		}
		if cur == next {
			return
		}
		if c.state.CompareAndSwap(int32(cur), int32(next)) {
			c.notify(cur, next)
			c.sink.PublishStatus(status)
			return
		}
	}
}

// reset returns a finished turn to Listening.
func (c *Controller) reset() {
	for {
		cur := c.State()
		if !cur.InTurn() {
			return
		}
		if c.state.CompareAndSwap(int32(cur), int32(Listening)) {
			c.notify(cur, Listening)
			c.sink.PublishStatus(StatusListening)
			return
		}
	}
}

func (c *Controller) transition(from, to State) bool {
	if !c.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	c.notify(from, to)
	return true
}

func (c *Controller) notify(from, to State) {
	if c.onTransition != nil {
		c.onTransition(from, to)
	}
}
