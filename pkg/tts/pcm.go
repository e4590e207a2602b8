package tts

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// DecodePCM16 converts little-endian 16-bit samples.
func DecodePCM16(b []byte) ([]int16, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("tts: odd PCM byte count %d", len(b))
	}
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out, nil
}

// Resample converts pcm from one rate to another by linear interpolation.
func Resample(pcm []int16, from, to int) []int16 {
	if from == to || from <= 0 || to <= 0 || len(pcm) == 0 {
		return pcm
	}
	n := int(int64(len(pcm)) * int64(to) / int64(from))
	out := make([]int16, n)
	step := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(pcm)-1 {
			out[i] = pcm[len(pcm)-1]
			continue
		}
		frac := pos - float64(j)
		out[i] = int16(float64(pcm[j])*(1-frac) + float64(pcm[j+1])*frac)
	}
	return out
}

// StripWAV returns the data chunk of a RIFF/WAVE file, or b unchanged when
// it carries no WAV header.
func StripWAV(b []byte) []byte {
	if len(b) < 12 || !bytes.Equal(b[:4], []byte("RIFF")) || !bytes.Equal(b[8:12], []byte("WAVE")) {
		return b
	}
	for off := 12; off+8 <= len(b); {
		id := b[off : off+4]
		size := int(binary.LittleEndian.Uint32(b[off+4:]))
		body := off + 8
		if bytes.Equal(id, []byte("data")) {
			end := body + size
			if end > len(b) || end < body {
				end = len(b)
			}
			return b[body:end]
		}
		off = body + size + size%2
	}
	return nil
}
