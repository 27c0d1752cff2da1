package audio_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/jarvis/pkg/audio"
)

func TestMonoToStereo(t *testing.T) {
	t.Parallel()

	got := audio.BytesToSamples(audio.MonoToStereo(audio.SamplesToBytes([]int16{100, 200, 300})))
	want := []int16{100, 100, 200, 200, 300, 300}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []int16
		want []int16
	}{
		{name: "average", in: []int16{100, 200, -100, -200}, want: []int16{150, -150}},
		{name: "extremes do not overflow", in: []int16{32767, 32767, -32768, -32768}, want: []int16{32767, -32768}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := audio.BytesToSamples(audio.StereoToMono(audio.SamplesToBytes(tt.in)))
			if !slices.Equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResample16(t *testing.T) {
	t.Parallel()

	mono := audio.SamplesToBytes([]int16{0, 1000, 2000, 3000})

	t.Run("same rate", func(t *testing.T) {
		t.Parallel()
		if got := audio.Resample16(mono, 1, 16000, 16000); len(got) != len(mono) {
			t.Errorf("len = %d, want %d", len(got), len(mono))
		}
	})
	t.Run("upsample doubles length and interpolates", func(t *testing.T) {
		t.Parallel()
		got := audio.BytesToSamples(audio.Resample16(mono, 1, 8000, 16000))
		if len(got) != 8 {
			t.Fatalf("len = %d, want 8", len(got))
		}
		if got[1] != 500 {
			t.Errorf("interpolated sample = %d, want 500", got[1])
		}
	})
	t.Run("downsample halves length", func(t *testing.T) {
		t.Parallel()
		got := audio.Resample16(mono, 1, 16000, 8000)
		if len(got) != 4 {
			t.Errorf("len = %d bytes, want 4", len(got))
		}
	})
	t.Run("stereo keeps channels apart", func(t *testing.T) {
		t.Parallel()
		stereo := audio.SamplesToBytes([]int16{100, -100, 100, -100})
		got := audio.BytesToSamples(audio.Resample16(stereo, 2, 8000, 16000))
		for i := 0; i < len(got); i += 2 {
			if got[i] != 100 || got[i+1] != -100 {
				t.Fatalf("frame %d = (%d,%d), want (100,-100)", i/2, got[i], got[i+1])
			}
		}
	})
	t.Run("zero rate is a no-op", func(t *testing.T) {
		t.Parallel()
		if got := audio.Resample16(mono, 1, 0, 16000); len(got) != len(mono) {
			t.Errorf("len = %d, want %d", len(got), len(mono))
		}
	})
}

func TestClipConvert(t *testing.T) {
	t.Parallel()

	t.Run("no-op keeps data", func(t *testing.T) {
		t.Parallel()
		c := audio.Clip{Data: audio.SamplesToBytes([]int16{1, 2}), Format: audio.CaptureFormat}
		got := c.Convert(audio.CaptureFormat)
		if &got.Data[0] != &c.Data[0] {
			t.Error("expected the same backing array")
		}
	})

	t.Run("22.05kHz stereo to 16kHz mono", func(t *testing.T) {
		t.Parallel()
		samples := make([]int16, 22050*2) // one second stereo
		for i := range samples {
			samples[i] = 1000
		}
		c := audio.Clip{Data: audio.SamplesToBytes(samples), Format: audio.Format{SampleRate: 22050, Channels: 2}}
		got := c.Convert(audio.CaptureFormat)
		if got.Format != audio.CaptureFormat {
			t.Fatalf("format = %v", got.Format)
		}
		if n := len(got.Data) / 2; n != 16000 {
			t.Errorf("samples = %d, want 16000", n)
		}
		for i, s := range audio.BytesToSamples(got.Data) {
			if s != 1000 {
				t.Fatalf("sample %d = %d, want 1000", i, s)
			}
		}
	})

	t.Run("odd byte count is trimmed", func(t *testing.T) {
		t.Parallel()
		c := audio.Clip{Data: []byte{1, 0, 2}, Format: audio.Format{SampleRate: 8000, Channels: 1}}
		got := c.Convert(audio.CaptureFormat)
		if len(got.Data)%2 != 0 {
			t.Errorf("len = %d, want even", len(got.Data))
		}
	})
}

func TestFormat(t *testing.T) {
	t.Parallel()

	f := audio.CaptureFormat
	if got := f.BytesPerSecond(); got != 32000 {
		t.Errorf("BytesPerSecond = %d", got)
	}
	if got := f.Bytes(audio.CaptureFormat.Duration(2560)); got != 2560 {
		t.Errorf("Bytes(Duration(2560)) = %d", got)
	}
	if got := f.String(); got != "16000Hz mono" {
		t.Errorf("String = %q", got)
	}
	if got := (audio.Format{SampleRate: 48000, Channels: 6}).String(); got != "48000Hz 6ch" {
		t.Errorf("String = %q", got)
	}
}

func TestPeak(t *testing.T) {
	t.Parallel()

	if got := audio.Peak(make([]byte, 2560)); got != 0 {
		t.Errorf("silence peak = %d", got)
	}
	frame := audio.AudioFrame{Data: audio.SamplesToBytes([]int16{3, -1200, 800})}
	if got := frame.Peak(); got != 1200 {
		t.Errorf("peak = %d, want 1200", got)
	}
	if got := frame.Samples(); !slices.Equal(got, []int16{3, -1200, 800}) {
		t.Errorf("samples = %v", got)
	}
}
