package audio_test

import (
	"testing"
	"time"

	"github.com/MrWong99/jarvis/pkg/audio"
)

func TestFramer_RechunksInOrder(t *testing.T) {
	t.Parallel()

	var frames []audio.AudioFrame
	f := audio.NewFramer(audio.CaptureFormat, 4, func(fr audio.AudioFrame) {
		frames = append(frames, fr)
	})

	// 10 samples in uneven writes: 3, 5, 2.
	samples := []int16{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	pcm := audio.SamplesToBytes(samples)
	f.Write(pcm[:6])
	if len(frames) != 0 {
		t.Fatalf("emitted %d frames from a partial write", len(frames))
	}
	f.Write(pcm[6:16])
	f.Write(pcm[16:])

	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	for i, fr := range frames {
		got := fr.Samples()
		for j, s := range got {
			if want := int16(i*4 + j); s != want {
				t.Errorf("frame %d sample %d = %d, want %d", i, j, s, want)
			}
		}
		if fr.SampleRate != audio.SampleRate || fr.Channels != 1 {
			t.Errorf("frame %d format = %v", i, fr.Format())
		}
	}
	if frames[1].Timestamp != 250*time.Microsecond {
		t.Errorf("second timestamp = %v, want 250µs", frames[1].Timestamp)
	}
	if f.Buffered() != 4 {
		t.Errorf("buffered = %d, want 4 bytes", f.Buffered())
	}
}

func TestFramer_FramesDoNotAlias(t *testing.T) {
	t.Parallel()

	var frames []audio.AudioFrame
	f := audio.NewFramer(audio.CaptureFormat, 2, func(fr audio.AudioFrame) {
		frames = append(frames, fr)
	})
	buf := audio.SamplesToBytes([]int16{1, 2})
	f.Write(buf)
	buf[0] = 99
	f.Write(buf)

	if frames[0].Data[0] != 1 {
		t.Errorf("first frame mutated by later write: %v", frames[0].Data)
	}
}

func TestFramer_Reset(t *testing.T) {
	t.Parallel()

	var frames []audio.AudioFrame
	f := audio.NewFramer(audio.CaptureFormat, audio.FrameSamples, func(fr audio.AudioFrame) {
		frames = append(frames, fr)
	})
	f.Write(make([]byte, audio.FrameSamples*2+10))
	f.Reset()
	if f.Buffered() != 0 {
		t.Errorf("buffered after reset = %d", f.Buffered())
	}
	f.Write(make([]byte, audio.FrameSamples*2))
	if got := frames[len(frames)-1].Timestamp; got != 0 {
		t.Errorf("timestamp after reset = %v, want 0", got)
	}
}
