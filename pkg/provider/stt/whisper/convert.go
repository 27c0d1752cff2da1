package whisper

import "github.com/MrWong99/jarvis/pkg/audio"

// clipSamples returns clip as 16 kHz mono float32 samples in [-1.0, 1.0),
// the input whisper.cpp expects. Utterances recorded from the capture tap
// are already in [audio.CaptureFormat]; anything else is converted first.
func clipSamples(clip audio.Clip) []float32 {
	pcm := audio.BytesToSamples(clip.Convert(audio.CaptureFormat).Data)
	samples := make([]float32, len(pcm))
	for i, s := range pcm {
		samples[i] = float32(s) / 32768.0
	}
	return samples
}
