// Package vad implements the adaptive dual-threshold voice activity
// detector (C3): a calibrating/idle/speaking/trailing state machine that
// forwards speech frames to a recognizer and discards silence.
package vad

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/talkie-dictation/talkie/internal/audio"
	"github.com/talkie-dictation/talkie/internal/energy"
	"github.com/talkie-dictation/talkie/internal/engine"
)

// Phase is one state of the detector's state machine.
type Phase int

const (
	Calibrating Phase = iota
	Idle
	Speaking
	Trailing
	Disabled
)

func (p Phase) String() string {
	switch p {
	case Calibrating:
		return "calibrating"
	case Idle:
		return "idle"
	case Speaking:
		return "speaking"
	case Trailing:
		return "trailing"
	case Disabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Config tunes calibration and hysteresis. Zero-value fields are replaced
// with the documented defaults by NewDetector.
type Config struct {
	Encoding energy.Encoding

	// InitializationFrames is how many frames are collected before the
	// noise/speech floors are first computed.
	InitializationFrames int
	NoiseFloorPercentile   float64 // default 10
	SpeechFloorPercentile  float64 // default 70
	SpeechMinMultiplier    float64 // default 0.6, applied to speech_floor
	AudioThresholdMultiplier float64 // default 2.5, applied to noise_floor during Speaking and Trailing
	SpeechFloorMaxMultiplier float64 // default 1.3, clamps speech_floor to noise_floor * this

	SilenceDuration          time.Duration // default 300ms: Speaking -> Trailing
	SpikeSuppressionDuration time.Duration // default 300ms: Trailing -> finalize
	MinUtteranceDuration     time.Duration // default 300ms: shorter utterances are discarded
	LookbackDuration         time.Duration // default 500ms: pre-roll retained before speech onset

	FloorRecomputeInterval time.Duration // default 3s: idle-phase floor drift correction
	IdleWindowSize         int           // default 200: rolling idle-energy sample count
}

func (c *Config) setDefaults() {
	if c.InitializationFrames == 0 {
		c.InitializationFrames = 50
	}
	if c.NoiseFloorPercentile == 0 {
		c.NoiseFloorPercentile = 10
	}
	if c.SpeechFloorPercentile == 0 {
		c.SpeechFloorPercentile = 70
	}
	if c.SpeechMinMultiplier == 0 {
		c.SpeechMinMultiplier = 0.6
	}
	if c.AudioThresholdMultiplier == 0 {
		c.AudioThresholdMultiplier = 2.5
	}
	if c.SpeechFloorMaxMultiplier == 0 {
		c.SpeechFloorMaxMultiplier = 1.3
	}
	if c.SilenceDuration == 0 {
		c.SilenceDuration = 300 * time.Millisecond
	}
	if c.SpikeSuppressionDuration == 0 {
		c.SpikeSuppressionDuration = 300 * time.Millisecond
	}
	if c.MinUtteranceDuration == 0 {
		c.MinUtteranceDuration = 300 * time.Millisecond
	}
	if c.LookbackDuration == 0 {
		c.LookbackDuration = 500 * time.Millisecond
	}
	if c.FloorRecomputeInterval == 0 {
		c.FloorRecomputeInterval = 3 * time.Second
	}
	if c.IdleWindowSize == 0 {
		c.IdleWindowSize = 200
	}
}

// State is a snapshot of the detector, useful for diagnostics and tests.
type State struct {
	Phase       Phase
	NoiseFloor  float64
	SpeechFloor float64
}

// Detector runs the state machine described by spec.md's VAD invariants:
// preroll is non-empty only outside Speaking, noise_floor <= speech_floor
// always holds, and an utterance shorter than MinUtteranceDuration never
// reaches the recognizer's Final.
type Detector struct {
	cfg Config
	rec engine.Recognizer

	phase       Phase
	noiseFloor  float64
	speechFloor float64

	calibEnergies []float64

	idleEnergies     []float64
	lastFloorRecompute time.Duration

	preroll       []audio.Frame
	prerollBudget time.Duration

	speakingStart  time.Duration
	lastSpeechTime time.Duration
	trailingStart  time.Duration

	onUtterance func(engine.Hypothesis)
	onPartial   func(engine.Hypothesis)

	preSuspendPhase Phase
}

// NewDetector builds a Detector forwarding speech audio to rec.
func NewDetector(cfg Config, rec engine.Recognizer) *Detector {
	cfg.setDefaults()
	return &Detector{cfg: cfg, rec: rec, phase: Calibrating}
}

// OnUtterance registers the callback invoked with each finalized hypothesis.
func (d *Detector) OnUtterance(fn func(engine.Hypothesis)) { d.onUtterance = fn }

// OnPartial registers the callback invoked with each partial hypothesis
// while Speaking or Trailing.
func (d *Detector) OnPartial(fn func(engine.Hypothesis)) { d.onPartial = fn }

// State returns the current phase and floors.
func (d *Detector) State() State {
	return State{Phase: d.phase, NoiseFloor: d.noiseFloor, SpeechFloor: d.speechFloor}
}

// Suspend transitions the detector to Disabled, discarding frames until
// Resume, per spec.md §4.13's "suspend the VAD (idle -> disabled)" step of
// a supervisor-driven config hot-swap. Suspending while Speaking or
// Trailing keeps the in-progress utterance open: frames delivered in
// between are dropped, and Resume returns to that phase.
func (d *Detector) Suspend() {
	if d.phase == Disabled {
		return
	}
	d.preSuspendPhase = d.phase
	d.phase = Disabled
}

// Resume restores the phase Suspend captured, re-entering calibration if
// the detector was never calibrated in this process.
func (d *Detector) Resume() {
	if d.phase != Disabled {
		return
	}
	d.phase = d.preSuspendPhase
}

// Process feeds one captured frame through the state machine. It may call
// rec.Accept, rec.Final, or rec.Reset depending on the resulting transition.
// Frames delivered while Disabled are dropped.
func (d *Detector) Process(ctx context.Context, f audio.Frame) error {
	if d.phase == Disabled {
		return nil
	}

	lvl, err := energy.Analyze(f.Data, f.Encoding)
	if err != nil {
		return fmt.Errorf("vad: %w", err)
	}

	switch d.phase {
	case Calibrating:
		return d.processCalibrating(f, lvl)
	case Idle:
		return d.processIdle(ctx, f, lvl)
	case Speaking:
		return d.processSpeaking(ctx, f, lvl)
	case Trailing:
		return d.processTrailing(ctx, f, lvl)
	default:
		return fmt.Errorf("vad: unknown phase %v", d.phase)
	}
}

func (d *Detector) processCalibrating(f audio.Frame, lvl energy.Level) error {
	d.calibEnergies = append(d.calibEnergies, lvl.Energy)
	d.pushPreroll(f)

	if len(d.calibEnergies) < d.cfg.InitializationFrames {
		return nil
	}

	d.recomputeFloors(d.calibEnergies)
	d.lastFloorRecompute = f.Timestamp
	d.phase = Idle
	return nil
}

func (d *Detector) processIdle(ctx context.Context, f audio.Frame, lvl energy.Level) error {
	d.idleEnergies = append(d.idleEnergies, lvl.Energy)
	if len(d.idleEnergies) > d.cfg.IdleWindowSize {
		d.idleEnergies = d.idleEnergies[len(d.idleEnergies)-d.cfg.IdleWindowSize:]
	}
	if f.Timestamp-d.lastFloorRecompute >= d.cfg.FloorRecomputeInterval && len(d.idleEnergies) >= d.cfg.InitializationFrames {
		d.recomputeFloors(d.idleEnergies)
		d.lastFloorRecompute = f.Timestamp
	}

	if lvl.Energy >= d.speechFloor*d.cfg.SpeechMinMultiplier {
		return d.enterSpeaking(ctx, f)
	}

	d.pushPreroll(f)
	return nil
}

func (d *Detector) enterSpeaking(ctx context.Context, f audio.Frame) error {
	d.phase = Speaking
	// Utterance duration is measured from the onset frame; pre-roll does not
	// count toward MinUtteranceDuration.
	d.speakingStart = f.Timestamp
	d.lastSpeechTime = f.Timestamp

	for _, pf := range d.preroll {
		if _, _, err := d.rec.Accept(ctx, pf.Float32Samples()); err != nil {
			return fmt.Errorf("vad: accept preroll frame: %w", err)
		}
	}
	d.preroll = d.preroll[:0]

	return d.forward(ctx, f)
}

func (d *Detector) processSpeaking(ctx context.Context, f audio.Frame, lvl energy.Level) error {
	if err := d.forward(ctx, f); err != nil {
		return err
	}

	if lvl.Energy >= d.noiseFloor*d.cfg.AudioThresholdMultiplier {
		d.lastSpeechTime = f.Timestamp
	}

	if f.Timestamp-d.lastSpeechTime >= d.cfg.SilenceDuration {
		d.phase = Trailing
		d.trailingStart = f.Timestamp
	}
	return nil
}

func (d *Detector) processTrailing(ctx context.Context, f audio.Frame, lvl energy.Level) error {
	if err := d.forward(ctx, f); err != nil {
		return err
	}

	if lvl.Energy >= d.noiseFloor*d.cfg.AudioThresholdMultiplier {
		d.phase = Speaking
		d.lastSpeechTime = f.Timestamp
		return nil
	}

	if f.Timestamp-d.trailingStart >= d.cfg.SpikeSuppressionDuration {
		return d.finalize(ctx, f)
	}
	return nil
}

func (d *Detector) finalize(ctx context.Context, f audio.Frame) error {
	duration := f.Timestamp - d.speakingStart
	d.phase = Idle
	d.idleEnergies = d.idleEnergies[:0]
	d.lastFloorRecompute = f.Timestamp

	if duration < d.cfg.MinUtteranceDuration {
		return d.rec.Reset()
	}

	hyp, err := d.rec.Final(ctx)
	if err != nil {
		return fmt.Errorf("vad: final: %w", err)
	}
	if d.onUtterance != nil {
		d.onUtterance(hyp)
	}
	return nil
}

func (d *Detector) forward(ctx context.Context, f audio.Frame) error {
	hyp, ok, err := d.rec.Accept(ctx, f.Float32Samples())
	if err != nil {
		return fmt.Errorf("vad: accept: %w", err)
	}
	if !ok {
		return nil
	}
	// A backend (Vosk) may detect an endpoint internally and hand back a
	// settled Final hypothesis mid-stream, ahead of this VAD's own silence
	// timers; it must reach onUtterance directly or the segment's text is
	// silently lost, since onPartial is never wired to anything durable.
	if hyp.Kind == engine.Final {
		if d.onUtterance != nil {
			d.onUtterance(hyp)
		}
		return nil
	}
	if d.onPartial != nil {
		d.onPartial(hyp)
	}
	return nil
}

// pushPreroll appends f to the lookback ring, dropping frames older than
// LookbackDuration relative to f.
func (d *Detector) pushPreroll(f audio.Frame) {
	d.preroll = append(d.preroll, f)
	cutoff := f.Timestamp - d.cfg.LookbackDuration
	i := 0
	for i < len(d.preroll) && d.preroll[i].Timestamp < cutoff {
		i++
	}
	if i > 0 {
		d.preroll = append(d.preroll[:0], d.preroll[i:]...)
	}
}

// recomputeFloors sets noise_floor/speech_floor from percentiles of
// energies, clamping speech_floor so noise_floor <= speech_floor always
// holds even on a near-silent calibration window.
func (d *Detector) recomputeFloors(energies []float64) {
	noise := percentile(energies, d.cfg.NoiseFloorPercentile)
	speech := percentile(energies, d.cfg.SpeechFloorPercentile)

	maxSpeech := noise * d.cfg.SpeechFloorMaxMultiplier
	if speech > maxSpeech {
		speech = maxSpeech
	}
	if speech < noise {
		speech = noise
	}

	d.noiseFloor = noise
	d.speechFloor = speech
}

// percentile returns the p-th percentile (0-100) of data via linear
// interpolation between closest ranks, without mutating the input.
func percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100) * float64(len(sorted)-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
