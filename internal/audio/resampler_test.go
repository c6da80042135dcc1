package audio

import "testing"

func TestResampleIdentityRatio(t *testing.T) {
	r := NewResampler(16000, 16000)
	in := []float32{0.1, 0.2, 0.3}
	out := r.Resample(in)
	if len(out) != len(in) {
		t.Fatalf("identity resample changed length: %d -> %d", len(in), len(out))
	}
}

func TestResampleUpsampleLength(t *testing.T) {
	r := NewResampler(8000, 16000)
	in := make([]float32, 100)
	out := r.Resample(in)
	if out == nil || len(out) != 200 {
		t.Fatalf("len(out) = %d, want 200", len(out))
	}
}

func TestResampleConstantSignalStaysConstant(t *testing.T) {
	in := make([]float32, 50)
	for i := range in {
		in[i] = 0.5
	}
	r := NewResampler(8000, 16000)
	out := r.Resample(in)
	for i, v := range out {
		if v < 0.49 || v > 0.51 {
			t.Fatalf("out[%d] = %v, want ~0.5 for a constant input", i, v)
		}
	}
}

func TestPolyphaseDownsampleLength(t *testing.T) {
	r := NewPolyphaseResampler(48000, 16000)
	in := make([]float32, 3000)
	out := r.Resample(in)
	if len(out) != 1000 {
		t.Fatalf("len(out) = %d, want 1000", len(out))
	}
}

func TestPolyphaseDownsampleAttenuatesNothingOnDC(t *testing.T) {
	r := NewPolyphaseResampler(48000, 16000)
	in := make([]float32, 3000)
	for i := range in {
		in[i] = 1.0
	}
	// Prime the filter history so edge effects from the zero-initialized
	// history buffer don't show up in this chunk.
	r.Resample(in)
	out := r.Resample(in)
	for i, v := range out {
		if v < 0.95 || v > 1.05 {
			t.Fatalf("out[%d] = %v, want ~1.0 for a steady DC input", i, v)
		}
	}
}
