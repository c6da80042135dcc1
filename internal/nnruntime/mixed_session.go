package nnruntime

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// MixedIOSpec names a session input that may be either int64 (token ids)
// or float32 (encoder hidden states fed into a cross-attention decoder).
// C11's decoder graph is the only consumer that needs both kinds on the
// same session; C9/C10 and C11's encoder use Session instead.
type MixedIOSpec struct {
	Name  string
	Shape []int64
	Float bool
}

// MixedSession is Session generalized to mixed-dtype inputs, for the
// incremental seq2seq decoder: decoder_input_ids (int64) is a fixed-length
// padded buffer refilled every step while encoder_hidden_states (float32)
// stays fixed, so tensors of both
// kinds are allocated once and reused across Run calls exactly like
// Session does for the simpler single-dtype case.
type MixedSession struct {
	mu      sync.Mutex
	session *ort.AdvancedSession

	intTensors   map[int]*ort.Tensor[int64]
	floatTensors map[int]*ort.Tensor[float32]
	inputOrder   []bool // true = float32 at this input index

	outputTensors []*ort.Tensor[float32]

	closed bool
}

func NewMixedSession(modelPath string, inputs []MixedIOSpec, outputs []MixedIOSpec, provider Provider) (_ *MixedSession, err error) {
	if provider == NPU {
		return nil, ErrProviderUnavailable
	}

	if err := acquireEnvironment(); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			releaseEnvironment()
		}
	}()

	s := &MixedSession{
		intTensors:   make(map[int]*ort.Tensor[int64]),
		floatTensors: make(map[int]*ort.Tensor[float32]),
	}
	defer func() {
		if err != nil {
			for _, t := range s.intTensors {
				t.Destroy()
			}
			for _, t := range s.floatTensors {
				t.Destroy()
			}
			for _, t := range s.outputTensors {
				t.Destroy()
			}
		}
	}()

	inputValues := make([]ort.Value, len(inputs))
	inNames := make([]string, len(inputs))
	for i, spec := range inputs {
		inNames[i] = spec.Name
		s.inputOrder = append(s.inputOrder, spec.Float)
		if spec.Float {
			t, terr := ort.NewEmptyTensor[float32](ort.NewShape(spec.Shape...))
			if terr != nil {
				return nil, fmt.Errorf("nnruntime: allocate input %q: %w", spec.Name, terr)
			}
			s.floatTensors[i] = t
			inputValues[i] = t
		} else {
			t, terr := ort.NewEmptyTensor[int64](ort.NewShape(spec.Shape...))
			if terr != nil {
				return nil, fmt.Errorf("nnruntime: allocate input %q: %w", spec.Name, terr)
			}
			s.intTensors[i] = t
			inputValues[i] = t
		}
	}

	outNames := make([]string, len(outputs))
	outputValues := make([]ort.Value, len(outputs))
	for i, spec := range outputs {
		t, terr := ort.NewEmptyTensor[float32](ort.NewShape(spec.Shape...))
		if terr != nil {
			return nil, fmt.Errorf("nnruntime: allocate output %q: %w", spec.Name, terr)
		}
		s.outputTensors = append(s.outputTensors, t)
		outputValues[i] = t
		outNames[i] = spec.Name
	}

	session, serr := ort.NewAdvancedSession(modelPath, inNames, outNames, inputValues, outputValues, nil)
	if serr != nil {
		return nil, fmt.Errorf("nnruntime: load model %s: %w", modelPath, serr)
	}
	s.session = session

	return s, nil
}

// Run takes one value per input in construction order — a []int64 for
// int-kind slots, a []float32 for float-kind slots — and returns copies of
// every output tensor's data.
func (s *MixedSession) Run(inputs []any) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("nnruntime: session closed")
	}
	if len(inputs) != len(s.inputOrder) {
		return nil, fmt.Errorf("nnruntime: got %d inputs, session expects %d", len(inputs), len(s.inputOrder))
	}

	for i, want := range s.inputOrder {
		if want {
			data, ok := inputs[i].([]float32)
			if !ok {
				return nil, fmt.Errorf("nnruntime: input %d expects []float32", i)
			}
			dst := s.floatTensors[i].GetData()
			if len(data) != len(dst) {
				return nil, fmt.Errorf("nnruntime: input %d has %d elements, tensor expects %d", i, len(data), len(dst))
			}
			copy(dst, data)
		} else {
			data, ok := inputs[i].([]int64)
			if !ok {
				return nil, fmt.Errorf("nnruntime: input %d expects []int64", i)
			}
			dst := s.intTensors[i].GetData()
			if len(data) != len(dst) {
				return nil, fmt.Errorf("nnruntime: input %d has %d elements, tensor expects %d", i, len(data), len(dst))
			}
			copy(dst, data)
		}
	}

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("nnruntime: run: %w", err)
	}

	results := make([][]float32, len(s.outputTensors))
	for i, t := range s.outputTensors {
		src := t.GetData()
		out := make([]float32, len(src))
		copy(out, src)
		results[i] = out
	}
	return results, nil
}

func (s *MixedSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if s.session != nil {
		err = s.session.Destroy()
	}
	for _, t := range s.intTensors {
		t.Destroy()
	}
	for _, t := range s.floatTensors {
		t.Destroy()
	}
	for _, t := range s.outputTensors {
		t.Destroy()
	}
	releaseEnvironment()
	return err
}
