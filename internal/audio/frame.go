package audio

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/talkie-dictation/talkie/internal/energy"
)

// Frame is a contiguous block of samples of one channel in one known
// encoding, produced by the capture ring buffer and consumed exactly once.
// Invariant: len(Data) == SampleCount() * bytesPerSample(Encoding).
type Frame struct {
	Data       []byte
	Encoding   energy.Encoding
	SampleRate int
	Timestamp  time.Duration // monotonic, relative to stream start
}

// SampleCount returns the number of samples this frame carries.
func (f Frame) SampleCount() int {
	switch f.Encoding {
	case energy.Int16:
		return len(f.Data) / 2
	case energy.Float32:
		return len(f.Data) / 4
	default:
		return 0
	}
}

// Float32Samples decodes the frame into normalized float32 samples in
// [-1, 1], regardless of source encoding. The VAD hands this
// representation to every recognizer backend, pre-roll frames included.
func (f Frame) Float32Samples() []float32 {
	switch f.Encoding {
	case energy.Float32:
		n := len(f.Data) / 4
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			bits := binary.LittleEndian.Uint32(f.Data[4*i:])
			out[i] = math.Float32frombits(bits)
		}
		return out
	case energy.Int16:
		n := len(f.Data) / 2
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			s := int16(binary.LittleEndian.Uint16(f.Data[2*i:]))
			out[i] = float32(s) / 32768.0
		}
		return out
	default:
		return nil
	}
}

// Int16Samples decodes the frame into s16le samples, converting from
// float32 if necessary. The Vosk backend takes float32 samples and does
// its own int16 conversion.
func (f Frame) Int16Samples() []int16 {
	switch f.Encoding {
	case energy.Int16:
		n := len(f.Data) / 2
		out := make([]int16, n)
		for i := 0; i < n; i++ {
			out[i] = int16(binary.LittleEndian.Uint16(f.Data[2*i:]))
		}
		return out
	case energy.Float32:
		samples := f.Float32Samples()
		out := make([]int16, len(samples))
		for i, s := range samples {
			v := s * 32768.0
			if v > 32767 {
				v = 32767
			} else if v < -32768 {
				v = -32768
			}
			out[i] = int16(v)
		}
		return out
	default:
		return nil
	}
}

// NewFloat32Frame builds a Frame from already-decoded float32 samples,
// encoding them to raw bytes so the byte_length invariant holds uniformly.
func NewFloat32Frame(samples []float32, sampleRate int, ts time.Duration) Frame {
	data := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(s))
	}
	return Frame{Data: data, Encoding: energy.Float32, SampleRate: sampleRate, Timestamp: ts}
}
