package audio

import (
	"fmt"
	"math"
)

// Convert returns the clip re-encoded in the target format. Resampling
// happens before channel conversion so stereo input destined for a mono
// target is only resampled once. A clip already in the target format is
// returned unchanged.
func (c Clip) Convert(target Format) Clip {
	if c.Format == target || len(c.Data) == 0 {
		return Clip{Data: c.Data, Format: target}
	}

	pcm := c.Data
	channels := c.Format.Channels
	if channels < 1 {
		channels = 1
	}
	if rem := len(pcm) % (channels * 2); rem != 0 {
		pcm = pcm[:len(pcm)-rem]
	}

	if c.Format.SampleRate != target.SampleRate {
		pcm = Resample16(pcm, channels, c.Format.SampleRate, target.SampleRate)
	}

	switch {
	case channels == target.Channels:
	case channels == 2 && target.Channels == 1:
		pcm = StereoToMono(pcm)
	case channels == 1 && target.Channels == 2:
		pcm = MonoToStereo(pcm)
	}

	return Clip{Data: pcm, Format: target}
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		j := i * 2
		out[j], out[j+1] = pcm[i], pcm[i+1]
		out[j+2], out[j+3] = pcm[i], pcm[i+1]
	}
	return out
}

// StereoToMono averages each L+R pair. Trailing partial frames are dropped.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(uint16(pcm[i*4]) | uint16(pcm[i*4+1])<<8))
		r := int32(int16(uint16(pcm[i*4+2]) | uint16(pcm[i*4+3])<<8))
		avg := (l + r) / 2
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// Resample16 converts interleaved int16 PCM with the given channel count from
// srcRate to dstRate by linear interpolation. Invalid rates or equal rates
// return pcm unchanged.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	frameBytes := channels * 2
	srcFrames := len(pcm) / frameBytes
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	sample := func(frame, ch int) float64 {
		off := frame*frameBytes + ch*2
		return float64(int16(uint16(pcm[off]) | uint16(pcm[off+1])<<8))
	}

	out := make([]byte, dstFrames*frameBytes)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for ch := range channels {
			v := int16(math.Round(sample(idx, ch)*(1-frac) + sample(next, ch)*frac))
			off := i*frameBytes + ch*2
			out[off] = byte(v)
			out[off+1] = byte(v >> 8)
		}
	}
	return out
}

// String renders the format as e.g. "16000Hz mono".
func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}
