package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

// Chunk tags. Each is followed by a 4-byte big-endian length and the
// payload, except TIM which carries a fixed 8-byte float64.
const (
	TagTimestamp = "TIM"
	TagSpeaker   = "SPK"
	TagRequest   = "REQ"
	TagAnswer    = "ANS"
	TagImage     = "IMG"
	TagPCM       = "PCM"
)

const (
	tagLen    = 3
	lenLen    = 4
	headerLen = tagLen + lenLen
	timLen    = tagLen + 8
)

var (
	// ErrShortBuffer means the buffer does not hold a complete frame yet.
	// It is not a failure: append more bytes and decode again.
	ErrShortBuffer = errors.New("protocol: insufficient data")

	// ErrCorruptFrame means the bytes cannot be a valid frame.
	ErrCorruptFrame = errors.New("protocol: corrupt frame")
)

// Frame is one multi-part answer unit sent to clients.
type Frame struct {
	// Timestamp is seconds since the Unix epoch on the shared clock.
	Timestamp float64
	// Index is the answer sequence number, truncated to a byte.
	Index   uint8
	Speaker string
	Request string
	Answer  string
	// PCM holds 16-bit mono samples.
	PCM []int16
	// Image holds JPEG bytes, nil when the frame carries no image.
	Image []byte
}

// Encode serializes f. PCM is always the last chunk and closes the frame.
func Encode(f Frame) []byte {
	size := timLen + 4*headerLen + len(f.Speaker) + len(f.Request) + 1 + len(f.Answer) + 2*len(f.PCM)
	if len(f.Image) > 0 {
		size += headerLen + len(f.Image)
	}
	return AppendFrame(make([]byte, 0, size), f)
}

// AppendFrame appends the encoding of f to dst.
func AppendFrame(dst []byte, f Frame) []byte {
	dst = append(dst, TagTimestamp...)
	dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(f.Timestamp))

	dst = appendChunk(dst, TagSpeaker, []byte(f.Speaker))
	dst = appendChunk(dst, TagRequest, []byte(f.Request))

	dst = append(dst, TagAnswer...)
	dst = binary.BigEndian.AppendUint32(dst, uint32(1+len(f.Answer)))
	dst = append(dst, f.Index)
	dst = append(dst, f.Answer...)

	if len(f.Image) > 0 {
		dst = appendChunk(dst, TagImage, f.Image)
	}

	dst = append(dst, TagPCM...)
	dst = binary.BigEndian.AppendUint32(dst, uint32(2*len(f.PCM)))
	for _, s := range f.PCM {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s))
	}
	return dst
}

func appendChunk(dst []byte, tag string, payload []byte) []byte {
	dst = append(dst, tag...)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// Decode reads the first frame in buf and returns it with the unconsumed
// remainder. It returns ErrShortBuffer until a whole frame is present.
// The returned frame never aliases buf.
func Decode(buf []byte) (Frame, []byte, error) {
	var f Frame
	rest := buf
	for {
		if len(rest) < tagLen {
			return Frame{}, buf, ErrShortBuffer
		}
		tag := string(rest[:tagLen])

		if tag == TagTimestamp {
			if len(rest) < timLen {
				return Frame{}, buf, ErrShortBuffer
			}
			f.Timestamp = math.Float64frombits(binary.LittleEndian.Uint64(rest[tagLen:timLen]))
			rest = rest[timLen:]
			continue
		}

		if !knownTag(tag) {
			return Frame{}, buf, fmt.Errorf("%w: unknown chunk %q", ErrCorruptFrame, tag)
		}
		if len(rest) < headerLen {
			return Frame{}, buf, ErrShortBuffer
		}
		size := int(binary.BigEndian.Uint32(rest[tagLen:headerLen]))
		if len(rest)-headerLen < size {
			return Frame{}, buf, ErrShortBuffer
		}
		payload := rest[headerLen : headerLen+size]
		rest = rest[headerLen+size:]

		switch tag {
		case TagSpeaker:
			f.Speaker = string(payload)
		case TagRequest:
			f.Request = string(payload)
		case TagAnswer:
			if size < 1 {
				return Frame{}, buf, fmt.Errorf("%w: empty answer chunk", ErrCorruptFrame)
			}
			if !utf8.Valid(payload[1:]) {
				return Frame{}, buf, fmt.Errorf("%w: answer is not utf-8", ErrCorruptFrame)
			}
			f.Index = payload[0]
			f.Answer = string(payload[1:])
		case TagImage:
			f.Image = append([]byte(nil), payload...)
		case TagPCM:
			if size%2 != 0 {
				return Frame{}, buf, fmt.Errorf("%w: odd pcm length %d", ErrCorruptFrame, size)
			}
			f.PCM = make([]int16, size/2)
			for i := range f.PCM {
				f.PCM[i] = int16(binary.LittleEndian.Uint16(payload[2*i:]))
			}
			return f, rest, nil
		}
	}
}

func knownTag(tag string) bool {
	switch tag {
	case TagSpeaker, TagRequest, TagAnswer, TagImage, TagPCM:
		return true
	}
	return false
}

// Decoder accumulates bytes from a stream and yields whole frames.
// HTTP chunked bodies and websocket messages may split or merge frames.
type Decoder struct {
	buf []byte
}

// Write appends p to the pending bytes. It never fails.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Next returns the next complete frame. ok is false when more bytes are
// needed. A corrupt stream returns an error and drops the pending bytes.
func (d *Decoder) Next() (f Frame, ok bool, err error) {
	f, rest, err := Decode(d.buf)
	switch {
	case errors.Is(err, ErrShortBuffer):
		return Frame{}, false, nil
	case err != nil:
		d.buf = nil
		return Frame{}, false, err
	}
	// Compact so the buffer does not grow without bound on long streams.
	d.buf = append(d.buf[:0], rest...)
	return f, true, nil
}

// Buffered returns the number of bytes waiting for a complete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}
