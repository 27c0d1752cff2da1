package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// EncodeWAV wraps a clip in a canonical 44-byte RIFF/WAVE PCM header.
func EncodeWAV(c Clip) []byte {
	const bitsPerSample = 16
	channels := c.Format.Channels
	blockAlign := channels * bitsPerSample / 8

	buf := make([]byte, 44+len(c.Data))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(c.Data)))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(c.Format.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(c.Format.SampleRate*blockAlign))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(c.Data)))
	copy(buf[44:], c.Data)
	return buf
}

// DecodeWAV extracts the PCM payload from a 16-bit RIFF/WAVE file by walking
// its chunks, so files with LIST or other extra chunks are accepted.
func DecodeWAV(wav []byte) (Clip, error) {
	if len(wav) < 12 {
		return Clip{}, errors.New("wav: too short to be a RIFF file")
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return Clip{}, errors.New("wav: missing RIFF/WAVE header")
	}

	var (
		format   Format
		haveFmt  bool
		offset   = 12
		bitDepth = 16
	)
	for offset+8 <= len(wav) {
		id := string(wav[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))
		body := offset + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(wav) {
				return Clip{}, errors.New("wav: truncated fmt chunk")
			}
			format.Channels = int(binary.LittleEndian.Uint16(wav[body+2:]))
			format.SampleRate = int(binary.LittleEndian.Uint32(wav[body+4:]))
			bitDepth = int(binary.LittleEndian.Uint16(wav[body+14:]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return Clip{}, errors.New("wav: data chunk before fmt chunk")
			}
			if bitDepth != 16 {
				return Clip{}, fmt.Errorf("wav: unsupported bit depth %d", bitDepth)
			}
			end := body + size
			if end > len(wav) {
				// Streaming writers leave the size unset; take the rest.
				end = len(wav)
			}
			return Clip{Data: wav[body:end], Format: format}, nil
		}

		offset = body + size
		if size%2 != 0 {
			offset++
		}
	}
	return Clip{}, errors.New("wav: missing data chunk")
}
