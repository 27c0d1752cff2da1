package audio

import "time"

// Framer re-chunks arbitrarily sized PCM buffers from a device callback into
// fixed-size [AudioFrame] values. Partial frames are held until enough data
// arrives. A Framer is driven from a single goroutine.
type Framer struct {
	format     Format
	frameBytes int
	frameDur   time.Duration
	handler    FrameHandler

	buf     []byte
	emitted int64
}

// NewFramer returns a Framer that emits frames of frameSamples samples per
// channel in the given format to handler.
func NewFramer(format Format, frameSamples int, handler FrameHandler) *Framer {
	fb := frameSamples * format.Channels * 2
	return &Framer{
		format:     format,
		frameBytes: fb,
		frameDur:   format.Duration(fb),
		handler:    handler,
		buf:        make([]byte, 0, fb*2),
	}
}

// Write appends p and emits every complete frame, oldest first. Each emitted
// frame owns its own copy of the data.
func (f *Framer) Write(p []byte) {
	f.buf = append(f.buf, p...)
	n := 0
	for len(f.buf)-n >= f.frameBytes {
		data := make([]byte, f.frameBytes)
		copy(data, f.buf[n:n+f.frameBytes])
		n += f.frameBytes
		f.handler(AudioFrame{
			Data:       data,
			SampleRate: f.format.SampleRate,
			Channels:   f.format.Channels,
			Timestamp:  time.Duration(f.emitted) * f.frameDur,
		})
		f.emitted++
	}
	if n > 0 {
		f.buf = append(f.buf[:0], f.buf[n:]...)
	}
}

// Buffered returns the number of bytes held for the next frame.
func (f *Framer) Buffered() int { return len(f.buf) }

// Reset discards any partial frame and restarts timestamps at zero.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
	f.emitted = 0
}
