package nnruntime

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// IOSpec names one session input or output and its fixed tensor shape.
type IOSpec struct {
	Name  string
	Shape []int64
}

// Session wraps one loaded ONNX graph with int64 inputs (token ids,
// attention masks) and float32 outputs (logits or hidden states) — the
// shape shared by C9's masked-LM, C10's token classifier, and C11's
// encoder. Tensors are allocated once and reused across Run calls, the
// same allocate-once-reuse-forever discipline as the Silero VAD wrapper
// this package is modeled on.
type Session struct {
	mu      sync.Mutex
	session *ort.AdvancedSession

	inputTensors  []*ort.Tensor[int64]
	outputTensors []*ort.Tensor[float32]
	outputShapes  [][]int64

	closed bool
}

// NewSession loads modelPath and binds it to the given input/output specs.
// provider selects the execution backend; NPU is rejected until a binding
// exists in this pack.
func NewSession(modelPath string, inputs, outputs []IOSpec, provider Provider) (_ *Session, err error) {
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

	s := &Session{}
	inputValues := make([]ort.Value, 0, len(inputs))
	outputValues := make([]ort.Value, 0, len(outputs))

	defer func() {
		if err != nil {
			for _, t := range s.inputTensors {
				t.Destroy()
			}
			for _, t := range s.outputTensors {
				t.Destroy()
			}
		}
	}()

	inNames := make([]string, len(inputs))
	for i, spec := range inputs {
		t, terr := ort.NewEmptyTensor[int64](ort.NewShape(spec.Shape...))
		if terr != nil {
			return nil, fmt.Errorf("nnruntime: allocate input %q: %w", spec.Name, terr)
		}
		s.inputTensors = append(s.inputTensors, t)
		inputValues = append(inputValues, t)
		inNames[i] = spec.Name
	}

	outNames := make([]string, len(outputs))
	for i, spec := range outputs {
		t, terr := ort.NewEmptyTensor[float32](ort.NewShape(spec.Shape...))
		if terr != nil {
			return nil, fmt.Errorf("nnruntime: allocate output %q: %w", spec.Name, terr)
		}
		s.outputTensors = append(s.outputTensors, t)
		s.outputShapes = append(s.outputShapes, spec.Shape)
		outputValues = append(outputValues, t)
		outNames[i] = spec.Name
	}

	session, serr := ort.NewAdvancedSession(modelPath, inNames, outNames, inputValues, outputValues, nil)
	if serr != nil {
		return nil, fmt.Errorf("nnruntime: load model %s: %w", modelPath, serr)
	}
	s.session = session

	return s, nil
}

// Run copies inputData into the bound input tensors in order, executes the
// graph, and returns copies of the output tensors' data (safe to retain,
// unlike the tensors themselves which are reused on the next call).
func (s *Session) Run(inputData [][]int64) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("nnruntime: session closed")
	}
	if len(inputData) != len(s.inputTensors) {
		return nil, fmt.Errorf("nnruntime: got %d inputs, session expects %d", len(inputData), len(s.inputTensors))
	}

	for i, data := range inputData {
		dst := s.inputTensors[i].GetData()
		if len(data) != len(dst) {
			return nil, fmt.Errorf("nnruntime: input %d has %d elements, tensor expects %d", i, len(data), len(dst))
		}
		copy(dst, data)
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

// Close destroys the session's tensors and releases the shared runtime
// reference. Idempotent.
func (s *Session) Close() error {
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
	for _, t := range s.inputTensors {
		t.Destroy()
	}
	for _, t := range s.outputTensors {
		t.Destroy()
	}
	releaseEnvironment()
	return err
}
