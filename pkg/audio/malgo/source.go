// Package malgo implements [audio.Source] on top of miniaudio via
// github.com/gen2brain/malgo.
//
// The capture device is opened at [audio.CaptureFormat]; miniaudio converts
// from the hardware format if needed. Device callbacks deliver variable-sized
// buffers which an [audio.Framer] turns into exact [audio.FrameSamples]
// frames. CGO is required.
package malgo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/types"
)

var errDeviceStopped = errors.New("capture device stopped unexpectedly")

// Compile-time interface assertion.
var _ audio.Source = (*Source)(nil)

// Option configures a [Source].
type Option func(*Source)

// WithDevice selects the first capture device whose name contains name
// (case-insensitive). The system default is used when empty or not found.
func WithDevice(name string) Option {
	return func(s *Source) { s.deviceName = name }
}

// WithPeriod sets the device callback period in milliseconds. Default: 20.
func WithPeriod(ms uint32) Option {
	return func(s *Source) { s.periodMs = ms }
}

// Source captures microphone audio with miniaudio.
type Source struct {
	deviceName string
	periodMs   uint32

	mu      sync.Mutex
	mctx    *malgo.AllocatedContext
	device  *malgo.Device
	running bool

	stopping atomic.Bool
	faults   chan error
}

// New creates a Source. No device is opened until [Source.Start].
func New(opts ...Option) *Source {
	s := &Source{
		periodMs: 20,
		faults:   make(chan error, 1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start implements [audio.Source].
func (s *Source) Start(ctx context.Context, handler audio.FrameHandler) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("malgo: source already started")
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{ThreadPriority: malgo.ThreadPriorityRealtime}, nil)
	if err != nil {
		return &types.DeviceError{Op: "init audio context", Err: err}
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(audio.CaptureFormat.Channels)
	cfg.SampleRate = uint32(audio.CaptureFormat.SampleRate)
	cfg.PeriodSizeInMilliseconds = s.periodMs
	if s.deviceName != "" {
		if id, name, ok := findCaptureDevice(mctx.Context, s.deviceName); ok {
			cfg.Capture.DeviceID = id.Pointer()
			slog.Info("audio capture device selected", "device", name)
		} else {
			slog.Warn("audio capture device not found, using default", "device", s.deviceName)
		}
	}

	s.drainFaults()
	framer := audio.NewFramer(audio.CaptureFormat, audio.FrameSamples, handler)
	s.stopping.Store(false)
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			if s.stopping.Load() {
				return
			}
			framer.Write(in)
		},
		Stop: func() {
			if s.stopping.Load() {
				return
			}
			s.stopping.Store(true)
			select {
			case s.faults <- &types.DeviceError{Op: "capture stream", Err: errDeviceStopped}:
			default:
			}
		},
	}

	device, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return &types.DeviceError{Op: "init capture device", Err: err}
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return &types.DeviceError{Op: "start capture device", Err: err}
	}

	s.mctx, s.device, s.running = mctx, device, true
	slog.Debug("audio capture started", "format", audio.CaptureFormat.String(), "period_ms", s.periodMs)
	return nil
}

// Stop implements [audio.Source].
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	s.stopping.Store(true)

	var errs []error
	if s.device.IsStarted() {
		if err := s.device.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("malgo: stop device: %w", err))
		}
	}
	s.device.Uninit()
	if err := s.mctx.Uninit(); err != nil {
		errs = append(errs, fmt.Errorf("malgo: uninit context: %w", err))
	}
	s.mctx.Free()
	s.device, s.mctx = nil, nil
	return errors.Join(errs...)
}

// Faults implements [audio.Source].
func (s *Source) Faults() <-chan error { return s.faults }

// drainFaults discards a fault left over from a previous run so a restarted
// source does not report it again.
func (s *Source) drainFaults() {
	for {
		select {
		case err := <-s.faults:
			slog.Debug("discarding stale capture fault", "err", err)
		default:
			return
		}
	}
}

func findCaptureDevice(mctx malgo.Context, want string) (malgo.DeviceID, string, bool) {
	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		slog.Warn("audio capture device enumeration failed", "err", err)
		return malgo.DeviceID{}, "", false
	}
	names := make([]string, len(infos))
	for i := range infos {
		names[i] = infos[i].Name()
	}
	idx := matchDevice(names, want)
	if idx < 0 {
		return malgo.DeviceID{}, "", false
	}
	return infos[idx].ID, names[idx], true
}

// matchDevice returns the index of the first name containing want,
// case-insensitively, or -1.
func matchDevice(names []string, want string) int {
	want = strings.ToLower(strings.TrimSpace(want))
	if want == "" {
		return -1
	}
	for i, n := range names {
		if strings.Contains(strings.ToLower(n), want) {
			return i
		}
	}
	return -1
}
