// Package vosk implements engine.Model/Recognizer (C5) on top of the
// Kaldi-based alphacep/vosk-api/go binding.
package vosk

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	vapi "github.com/alphacep/vosk-api/go"

	"github.com/talkie-dictation/talkie/internal/engine"
)

// model wraps a loaded Vosk model directory; CreateRecognizer spawns
// independent *recognizer sessions from it without reloading the graph.
type model struct {
	mu  sync.Mutex
	m   *vapi.VoskModel
	ref int
}

// Load opens a Vosk model directory and returns an engine.Model. Matches
// engine.Loader, the same shape as the Sherpa backend's Load.
func Load(path string, opts engine.Options) (engine.Model, error) {
	vapi.SetLogLevel(-1) // silence Kaldi's own stderr chatter; errors still surface via returned error values
	m, err := vapi.NewModel(path)
	if err != nil {
		return nil, fmt.Errorf("vosk: load model %s: %w", path, err)
	}
	return &model{m: m}, nil
}

func (d *model) CreateRecognizer(opts engine.Options) (engine.Recognizer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sampleRate := opts.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}

	rec, err := vapi.NewRecognizer(d.m, float64(sampleRate))
	if err != nil {
		return nil, fmt.Errorf("vosk: create recognizer: %w", err)
	}
	rec.SetWords(0)
	if opts.Alternatives > 0 {
		rec.SetMaxAlternatives(opts.Alternatives)
	}

	d.ref++
	return &recognizer{model: d, rec: rec, sampleRate: sampleRate}, nil
}

func (d *model) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.m != nil {
		d.m.Free()
		d.m = nil
	}
	return nil
}

// recognizer is one streaming session. Vosk itself has no concept of
// "partial vs accept" frame-by-frame like an online transducer: each
// AcceptWaveform call returns either a natural final (silence detected
// internally) or an updated partial, which recognizer.Accept surfaces
// through the shared engine.Hypothesis contract.
type recognizer struct {
	model      *model
	rec        *vapi.VoskRecognizer
	sampleRate int
}

type voskResult struct {
	Text        string         `json:"text"`
	Alternatives []voskAlt     `json:"alternatives,omitempty"`
	Confidence  float64        `json:"confidence"`
}

type voskAlt struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type voskPartial struct {
	Partial string `json:"partial"`
}

func (r *recognizer) Accept(ctx context.Context, samples []float32) (engine.Hypothesis, bool, error) {
	pcm := make([]int16, len(samples))
	for i, s := range samples {
		v := s * 32768.0
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		pcm[i] = int16(v)
	}

	status := r.rec.AcceptWaveform(pcm)
	if status < 0 {
		return engine.Hypothesis{}, false, fmt.Errorf("vosk: accept waveform failed")
	}

	if status == 1 {
		// Vosk decided internally that an utterance boundary occurred;
		// surface it as a final so callers (normally the VAD state
		// machine, which owns utterance boundaries) see it immediately.
		var res voskResult
		if err := json.Unmarshal([]byte(r.rec.Result()), &res); err != nil {
			return engine.Hypothesis{}, false, fmt.Errorf("vosk: decode result: %w", err)
		}
		return hypothesisFromResult(res, engine.Final), true, nil
	}

	var partial voskPartial
	if err := json.Unmarshal([]byte(r.rec.PartialResult()), &partial); err != nil {
		return engine.Hypothesis{}, false, fmt.Errorf("vosk: decode partial: %w", err)
	}
	if partial.Partial == "" {
		return engine.Hypothesis{}, false, nil
	}
	return engine.Hypothesis{Kind: engine.Partial, Text: partial.Partial}, true, nil
}

func (r *recognizer) Final(ctx context.Context) (engine.Hypothesis, error) {
	var res voskResult
	if err := json.Unmarshal([]byte(r.rec.FinalResult()), &res); err != nil {
		return engine.Hypothesis{}, fmt.Errorf("vosk: decode final result: %w", err)
	}
	return hypothesisFromResult(res, engine.Final), nil
}

func hypothesisFromResult(res voskResult, kind engine.HypothesisKind) engine.Hypothesis {
	text := res.Text
	confidence := res.Confidence
	if len(res.Alternatives) > 0 {
		// Vosk reports results under "alternatives" whenever max
		// alternatives is set (Alternatives >= 1); Alternatives[0] is the
		// top choice and carries its confidence.
		text = res.Alternatives[0].Text
		confidence = res.Alternatives[0].Confidence
	}
	return engine.Hypothesis{Kind: kind, Text: text, Confidence: confidence}
}

func (r *recognizer) Reset() error {
	r.rec.Reset()
	return nil
}

func (r *recognizer) Configure(opts engine.Options) error {
	r.rec.SetWords(0)
	if opts.Alternatives > 0 {
		r.rec.SetMaxAlternatives(opts.Alternatives)
	}
	return nil
}

func (r *recognizer) Close() error {
	r.rec.Free()
	r.model.mu.Lock()
	r.model.ref--
	r.model.mu.Unlock()
	return nil
}
