// Package sherpastt implements engine.Model/Recognizer (C6) on top of
// sherpa-onnx's streaming (online) transducer recognizer, re-exported
// platform-specifically by internal/sherpa.
package sherpastt

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/talkie-dictation/talkie/internal/engine"
	"github.com/talkie-dictation/talkie/internal/sherpa"
)

// model owns one loaded streaming transducer graph (encoder/decoder/joiner
// triple); CreateRecognizer spawns independent *recognizer streams from it.
type model struct {
	mu   sync.Mutex
	rec  *sherpa.OnlineRecognizer
	opts engine.Options
}

// Load builds the transducer model config from path, which is
// expected to hold encoder.onnx/decoder.onnx/joiner.onnx/tokens.txt.
// Matches engine.Loader.
func Load(path string, opts engine.Options) (engine.Model, error) {
	cfg := sherpa.OnlineRecognizerConfig{}
	cfg.ModelConfig.Transducer.Encoder = path + "/encoder.onnx"
	cfg.ModelConfig.Transducer.Decoder = path + "/decoder.onnx"
	cfg.ModelConfig.Transducer.Joiner = path + "/joiner.onnx"
	cfg.ModelConfig.Tokens = path + "/tokens.txt"
	cfg.ModelConfig.Provider = opts.Provider
	if cfg.ModelConfig.Provider == "" {
		cfg.ModelConfig.Provider = sherpa.DefaultProvider()
	}
	cfg.ModelConfig.NumThreads = 2
	cfg.FeatConfig.SampleRate = opts.SampleRate
	if cfg.FeatConfig.SampleRate == 0 {
		cfg.FeatConfig.SampleRate = 16000
	}
	cfg.FeatConfig.FeatureDim = 80

	method := "greedy_search"
	if opts.MaxActivePaths > 1 {
		method = "modified_beam_search"
	}
	cfg.DecodingMethod = method
	cfg.MaxActivePaths = opts.MaxActivePaths
	if cfg.MaxActivePaths == 0 {
		cfg.MaxActivePaths = 4
	}

	if opts.EndpointDetect {
		cfg.EnableEndpoint = 1
	}

	rec := sherpa.NewOnlineRecognizer(&cfg)
	if rec == nil {
		return nil, fmt.Errorf("sherpastt: failed to create online recognizer from %s", path)
	}

	return &model{rec: rec, opts: opts}, nil
}

func (m *model) CreateRecognizer(opts engine.Options) (engine.Recognizer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stream := sherpa.NewOnlineStream(m.rec)
	if stream == nil {
		return nil, fmt.Errorf("sherpastt: failed to create online stream")
	}

	sampleRate := opts.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}

	return &recognizer{model: m, stream: stream, sampleRate: sampleRate}, nil
}

func (m *model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec != nil {
		sherpa.DeleteOnlineRecognizer(m.rec)
		m.rec = nil
	}
	return nil
}

// recognizer is one streaming decode session bound to one OnlineStream.
// The underlying recognizer object is not safe for concurrent decode calls
// across streams, so every call takes the model's lock.
type recognizer struct {
	model      *model
	stream     *sherpa.OnlineStream
	sampleRate int
	lastText   string
}

func (r *recognizer) Accept(ctx context.Context, samples []float32) (engine.Hypothesis, bool, error) {
	r.model.mu.Lock()
	defer r.model.mu.Unlock()

	r.stream.AcceptWaveform(r.sampleRate, samples)
	for r.model.rec.IsReady(r.stream) {
		r.model.rec.Decode(r.stream)
	}

	result := r.model.rec.GetResult(r.stream)
	text := strings.TrimSpace(result.Text)
	if text == "" || text == r.lastText {
		return engine.Hypothesis{}, false, nil
	}
	r.lastText = text
	return engine.Hypothesis{Kind: engine.Partial, Text: text}, true, nil
}

func (r *recognizer) Final(ctx context.Context) (engine.Hypothesis, error) {
	r.model.mu.Lock()
	defer r.model.mu.Unlock()

	r.stream.InputFinished()
	for r.model.rec.IsReady(r.stream) {
		r.model.rec.Decode(r.stream)
	}

	result := r.model.rec.GetResult(r.stream)
	text := strings.TrimSpace(result.Text)
	r.lastText = ""
	return engine.Hypothesis{Kind: engine.Final, Text: text}, nil
}

func (r *recognizer) Reset() error {
	r.model.mu.Lock()
	defer r.model.mu.Unlock()
	r.model.rec.Reset(r.stream)
	r.lastText = ""
	return nil
}

func (r *recognizer) Configure(opts engine.Options) error {
	// The transducer graph and decoding method are fixed at Load time;
	// per-utterance options (confidence threshold) are applied by callers
	// after Final returns, not inside the recognizer.
	return nil
}

func (r *recognizer) Close() error {
	r.model.mu.Lock()
	defer r.model.mu.Unlock()
	sherpa.DeleteOnlineStream(r.stream)
	r.stream = nil
	return nil
}
