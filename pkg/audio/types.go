// Package audio defines the PCM primitives that flow between the microphone,
// the wake-word scorer, the transcription engine and the speaker.
//
// All PCM in Jarvis is little-endian signed 16-bit. The capture side produces
// fixed-size mono [AudioFrame] values at [SampleRate]; everything that works on
// a contiguous stretch of audio (a captured utterance, a synthesised reply)
// uses [Clip].
package audio

import (
	"context"
	"time"
)

const (
	// SampleRate is the capture rate required by the wake-word model and
	// the transcription engine.
	SampleRate = 16000

	// FrameSamples is the number of samples in one capture frame (80 ms at
	// 16 kHz).
	FrameSamples = 1280

	// FrameDuration is the length of one capture frame.
	FrameDuration = FrameSamples * time.Second / SampleRate
)

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// CaptureFormat is the format of every frame delivered by a [Source].
var CaptureFormat = Format{SampleRate: SampleRate, Channels: 1}

// BytesPerSecond returns the size of one second of int16 PCM in this format.
func (f Format) BytesPerSecond() int { return f.SampleRate * f.Channels * 2 }

// Duration returns the playback length of n bytes of PCM in this format.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// Bytes returns the number of PCM bytes needed to hold d of audio, rounded
// down to a whole sample frame.
func (f Format) Bytes(d time.Duration) int {
	frame := f.Channels * 2
	if frame == 0 {
		return 0
	}
	n := int(int64(d) * int64(f.BytesPerSecond()) / int64(time.Second))
	return n - n%frame
}

// AudioFrame is one fixed-size block of captured audio. Frames are immutable
// once handed to a [FrameHandler].
type AudioFrame struct {
	// Data holds little-endian int16 PCM.
	Data []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels is 1 for every frame produced by a capture [Source].
	Channels int

	// Timestamp is the offset of the first sample from the start of the stream.
	Timestamp time.Duration
}

// Format returns the frame's sample format.
func (f AudioFrame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// Samples decodes the frame into int16 samples.
func (f AudioFrame) Samples() []int16 { return BytesToSamples(f.Data) }

// Peak returns the largest absolute sample value in the frame.
func (f AudioFrame) Peak() int { return Peak(f.Data) }

// Clip is a contiguous stretch of PCM audio with its format.
type Clip struct {
	Data   []byte
	Format Format
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration { return c.Format.Duration(len(c.Data)) }

// Empty reports whether the clip carries no audio.
func (c Clip) Empty() bool { return len(c.Data) == 0 }

// FrameHandler receives captured frames. It is called synchronously from the
// capture context and must return well within one frame period.
type FrameHandler func(frame AudioFrame)

// Source produces a continuous stream of [CaptureFormat] frames from an input
// device.
//
// Frames are delivered to the handler in strict temporal order, exactly once
// each, never concurrently.
type Source interface {
	// Start opens the device and begins frame delivery. It returns a
	// [types.DeviceError] if the device cannot be opened.
	Start(ctx context.Context, handler FrameHandler) error

	// Stop halts delivery and releases the device. It is safe to call
	// before Start and more than once.
	Stop() error

	// Faults delivers a [types.DeviceError] when the live stream fails.
	// After a fault no more frames are delivered.
	Faults() <-chan error
}

// Player renders audio on an output device.
type Player interface {
	// Play blocks until the clip has finished playing or ctx is cancelled.
	Play(ctx context.Context, clip Clip) error

	// Close releases the output device.
	Close() error
}
