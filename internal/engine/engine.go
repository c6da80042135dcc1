// Package engine defines the polymorphic model+recognizer contract (C4)
// shared by the Vosk and Sherpa backends, so the rest of the pipeline is
// indifferent to which speech engine is loaded.
package engine

import "context"

// HypothesisKind distinguishes an ephemeral partial result from a settled
// final one.
type HypothesisKind int

const (
	Partial HypothesisKind = iota
	Final
)

// Hypothesis is a single recognizer output. Confidence is engine-specific;
// callers compare it against Config.ConfidenceThreshold only after the
// backend has normalized it onto a comparable scale.
type Hypothesis struct {
	Kind       HypothesisKind
	Text       string
	Confidence float64
}

// Options carries engine-selection parameters validated at Load. Fields not
// meaningful to a given backend are ignored by it.
type Options struct {
	SampleRate int

	// Vosk
	Beam          int
	LatticeBeam   int
	Alternatives  int // fixed at 1: utterance-level confidence required

	// Sherpa
	MaxActivePaths int
	EndpointDetect bool

	// Shared
	ConfidenceThreshold float64
	ModelPath           string
	Provider            string // sherpa execution provider for C6 (empty: sherpa.DefaultProvider()); ignored by C5; the NN-backed stages do not read it
}

// Model owns a loaded engine model and can spawn recognizers from it.
type Model interface {
	CreateRecognizer(opts Options) (Recognizer, error)
	Close() error
}

// Recognizer is a single streaming recognition session over one utterance's
// worth of audio at a time. Accept is called once per AudioFrame in capture
// order; Final must be called exactly once at end-of-utterance before Reset
// or Close.
type Recognizer interface {
	// Accept ingests one frame of samples. It returns ok=true with the
	// current best partial text when the engine has an updated guess, or
	// ok=false when it is still accumulating.
	Accept(ctx context.Context, samples []float32) (partial Hypothesis, ok bool, err error)

	// Final flushes any buffered audio and returns the settled hypothesis
	// for the utterance. Must be called before accepting frames of the
	// next utterance.
	Final(ctx context.Context) (Hypothesis, error)

	// Reset clears recognizer state so the instance can be reused for a
	// new utterance without reallocating engine handles.
	Reset() error

	Configure(opts Options) error

	Close() error
}

// Loader validates Options and loads a Model from path. Each backend package
// (vosk, sherpa) provides one.
type Loader func(path string, opts Options) (Model, error)
