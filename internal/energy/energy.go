// Package energy computes per-frame energy and peak level from raw PCM,
// the pure function C2 feeds into the VAD state machine (internal/vad).
package energy

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encoding identifies the sample format of a frame.
type Encoding int

const (
	Int16 Encoding = iota
	Float32
)

// Level is the result of analyzing one frame: energy (int16: mean-abs
// scaled to [0, 1000]; float32: RMS x 100) and peak in [0, 100]. Used only for VAD decisions and level
// metering — never retained past one VAD step.
type Level struct {
	Energy  float64
	Peak    float64
	Samples int
	Format  Encoding
}

// Analyze computes Level from raw bytes in the given encoding.
//
// int16: energy = mean(|s|) / 32768 * 1000; peak = max(|s|) / 32768 * 100.
// The mean-abs metric (not RMS) is deliberate, for compatibility with
// historical calibration — tests assert the exact scaling.
//
// float32: energy = RMS(s) * 100; peak = max(|s|) * 100.
func Analyze(data []byte, enc Encoding) (Level, error) {
	switch enc {
	case Int16:
		return analyzeInt16(data)
	case Float32:
		return analyzeFloat32(data)
	default:
		return Level{}, fmt.Errorf("energy: unknown encoding %d", enc)
	}
}

func analyzeInt16(data []byte) (Level, error) {
	if len(data)%2 != 0 {
		return Level{}, fmt.Errorf("energy: int16 buffer has odd length %d", len(data))
	}
	n := len(data) / 2
	if n == 0 {
		return Level{Format: Int16}, nil
	}

	var sumAbs float64
	var maxAbs int32
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(data[2*i:]))
		abs := int32(s)
		if abs < 0 {
			abs = -abs
		}
		sumAbs += float64(abs)
		if abs > maxAbs {
			maxAbs = abs
		}
	}

	return Level{
		Energy:  (sumAbs / float64(n)) / 32768 * 1000,
		Peak:    float64(maxAbs) / 32768 * 100,
		Samples: n,
		Format:  Int16,
	}, nil
}

func analyzeFloat32(data []byte) (Level, error) {
	if len(data)%4 != 0 {
		return Level{}, fmt.Errorf("energy: float32 buffer has odd length %d", len(data))
	}
	n := len(data) / 4
	if n == 0 {
		return Level{Format: Float32}, nil
	}

	var sumSq float64
	var maxAbs float32
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(data[4*i:])
		s := math.Float32frombits(bits)
		sumSq += float64(s) * float64(s)
		abs := s
		if abs < 0 {
			abs = -abs
		}
		if abs > maxAbs {
			maxAbs = abs
		}
	}

	rms := math.Sqrt(sumSq / float64(n))

	return Level{
		Energy:  rms * 100,
		Peak:    float64(maxAbs) * 100,
		Samples: n,
		Format:  Float32,
	}, nil
}
