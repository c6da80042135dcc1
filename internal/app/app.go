// Package app wires C1-C13 into the runnable pipeline cmd/talkie drives:
// capture -> VAD -> recognizer -> GEC -> keystroke sink, under a
// supervisor that owns the config and hot-swaps components on change.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/talkie-dictation/talkie/internal/audio"
	"github.com/talkie-dictation/talkie/internal/config"
	"github.com/talkie-dictation/talkie/internal/engine"
	"github.com/talkie-dictation/talkie/internal/gec"
	"github.com/talkie-dictation/talkie/internal/grammar"
	"github.com/talkie-dictation/talkie/internal/homophone"
	"github.com/talkie-dictation/talkie/internal/keystroke"
	"github.com/talkie-dictation/talkie/internal/nnruntime"
	"github.com/talkie-dictation/talkie/internal/punctcap"
	"github.com/talkie-dictation/talkie/internal/sherpa"
	"github.com/talkie-dictation/talkie/internal/sherpastt"
	"github.com/talkie-dictation/talkie/internal/supervisor"
	"github.com/talkie-dictation/talkie/internal/tokenizer"
	"github.com/talkie-dictation/talkie/internal/vad"
	"github.com/talkie-dictation/talkie/internal/vosk"
)

const sampleRate = 16000

// ModelPaths locates the on-disk layout the app expects under one model
// root directory, per spec.md §6's "Model files (consumed on load)".
type ModelPaths struct {
	Root string
}

func (m ModelPaths) vocab() string         { return filepath.Join(m.Root, "vocab.txt") }
func (m ModelPaths) homophoneModel() string { return filepath.Join(m.Root, "homophone", "model.onnx") }
func (m ModelPaths) homophoneGroups() string {
	return filepath.Join(m.Root, "homophone", "groups.json")
}
func (m ModelPaths) punctcapModel() string { return filepath.Join(m.Root, "punctcap", "model.onnx") }
func (m ModelPaths) grammarEncoder() string {
	return filepath.Join(m.Root, "grammar", "encoder.onnx")
}
func (m ModelPaths) grammarDecoder() string {
	return filepath.Join(m.Root, "grammar", "decoder.onnx")
}
func (m ModelPaths) voskModel(cfg config.Config) string {
	return filepath.Join(m.Root, "vosk", cfg.VoskModelFile)
}
func (m ModelPaths) sherpaModel(cfg config.Config) string {
	return filepath.Join(m.Root, "sherpa", cfg.SherpaModelFile)
}

const (
	maxSeqLen    = 64
	vocabSize    = 30522
	numPunctCaps = punctcap.NumClasses
)

// App owns every live component for one run of the pipeline.
type App struct {
	sup        *supervisor.Supervisor
	modelPaths ModelPaths
	statePath  string

	capturer    *audio.Capturer
	detector    *vad.Detector
	engineModel engine.Model
	gecPipe     *gec.Pipeline
	gecSessions []io.Closer // NN sessions backing gecPipe's stages, closed in order on Close
	sink        keystroke.Sink

	tok *tokenizer.Tokenizer
}

// New builds every component from cfg and modelPaths, but does not start
// capture. Call Run to start the pipeline.
func New(store *config.Store, modelPaths ModelPaths, statePath string) (*App, error) {
	cfg, err := store.Get()
	if err != nil {
		return nil, err
	}
	logDetectedAcceleration(cfg)

	tok, err := tokenizer.Load(modelPaths.vocab(), maxSeqLen)
	if err != nil {
		return nil, fmt.Errorf("app: load tokenizer: %w", err)
	}

	gecPipe, gecSessions, err := buildGEC(tok, modelPaths, cfg)
	if err != nil {
		return nil, fmt.Errorf("app: build GEC pipeline: %w", err)
	}

	engineModel, err := loadEngine(cfg, modelPaths)
	if err != nil {
		return nil, fmt.Errorf("app: load recognizer engine: %w", err)
	}

	sink := keystroke.New(time.Duration(cfg.TypingDelayMs) * time.Millisecond)

	a := &App{
		modelPaths:  modelPaths,
		statePath:   statePath,
		engineModel: engineModel,
		gecPipe:     gecPipe,
		gecSessions: gecSessions,
		sink:        sink,
		tok:         tok,
	}

	rec, err := engineModel.CreateRecognizer(recognizerOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("app: create recognizer: %w", err)
	}

	detector := vad.NewDetector(vadConfig(cfg), rec)
	detector.OnUtterance(a.onUtterance)
	a.detector = detector

	capturer, err := audio.NewCapturer(sampleRate, func(f audio.Frame) {
		if err := detector.Process(context.Background(), f); err != nil {
			slog.Warn("app: vad process error", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("app: create capturer: %w", err)
	}
	a.capturer = capturer

	sup, err := supervisor.New(store, detector, statePath)
	if err != nil {
		return nil, fmt.Errorf("app: create supervisor: %w", err)
	}
	a.sup = sup
	sup.RegisterSwapper("speech_engine", engineSwapper{app: a})
	sup.RegisterSwapper("typing_delay_ms", typingDelaySwapper{app: a})

	return a, nil
}

// logDetectedAcceleration reports what hardware acceleration this machine
// could offer the sherpa backend, the same auto-detection the teacher ran
// for its CUDA/CoreML providers. It logs nothing when a provider is set
// explicitly. nnruntime's C8 stages run on CPU either way (no NPU binding
// exists in this pack, see DESIGN.md), so this is diagnostic only.
func logDetectedAcceleration(cfg config.Config) {
	if cfg.Provider != "" {
		return
	}
	detected := sherpa.DefaultProvider()
	if sherpa.HasNvidiaGPU() {
		slog.Info("app: hardware acceleration detected", "provider", detected)
	} else {
		slog.Info("app: no hardware accelerator detected, using cpu", "platform_default", detected)
	}
}

func recognizerOptions(cfg config.Config) engine.Options {
	return engine.Options{
		SampleRate:          sampleRate,
		Beam:                cfg.VoskBeam,
		LatticeBeam:         cfg.VoskLattice,
		Alternatives:        1,
		MaxActivePaths:      cfg.SherpaMaxActivePaths,
		EndpointDetect:      true,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		Provider:            cfg.Provider,
	}
}

func vadConfig(cfg config.Config) vad.Config {
	return vad.Config{
		SilenceDuration:          durationSeconds(cfg.SilenceSeconds),
		MinUtteranceDuration:     durationSeconds(cfg.MinDuration),
		LookbackDuration:         durationSeconds(cfg.LookbackSeconds),
		SpikeSuppressionDuration: durationSeconds(cfg.SpikeSuppressionSeconds),
		InitializationFrames:     cfg.InitializationSamples,
		NoiseFloorPercentile:     cfg.NoiseFloorPercentile,
		SpeechFloorPercentile:    cfg.SpeechFloorPercentile,
		SpeechMinMultiplier:      cfg.SpeechMinMultiplier,
		SpeechFloorMaxMultiplier: cfg.SpeechMaxMultiplier,
		AudioThresholdMultiplier: cfg.AudioThresholdMultiplier,
	}
}

func durationSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func loadEngine(cfg config.Config, paths ModelPaths) (engine.Model, error) {
	opts := recognizerOptions(cfg)
	switch cfg.SpeechEngine {
	case "vosk":
		return vosk.Load(paths.voskModel(cfg), opts)
	case "sherpa":
		return sherpastt.Load(paths.sherpaModel(cfg), opts)
	default:
		return nil, fmt.Errorf("app: unknown speech_engine %q", cfg.SpeechEngine)
	}
}

// buildGEC loads the three GEC stages' NN sessions and returns the
// assembled pipeline alongside the sessions backing it, so the caller can
// release every native handle on Close (spec.md §5 Resources: every
// native handle is scoped to an owner that guarantees release).
func buildGEC(tok *tokenizer.Tokenizer, paths ModelPaths, cfg config.Config) (*gec.Pipeline, []io.Closer, error) {
	groups, err := loadHomophoneGroups(paths.homophoneGroups())
	if err != nil {
		return nil, nil, fmt.Errorf("load homophone groups: %w", err)
	}

	ioShape := []int64{1, int64(maxSeqLen)}
	homophoneSess, err := nnruntime.NewSession(paths.homophoneModel(),
		[]nnruntime.IOSpec{{Name: "input_ids", Shape: ioShape}, {Name: "attention_mask", Shape: ioShape}},
		[]nnruntime.IOSpec{{Name: "logits", Shape: []int64{1, int64(maxSeqLen), int64(vocabSize)}}},
		nnruntime.CPU)
	if err != nil {
		return nil, nil, fmt.Errorf("load homophone model: %w", err)
	}
	// marginThreshold 0: a replacement wins as soon as it strictly beats the
	// original word's log-probability, per the default margin.
	homophoneStage := homophone.New(homophoneSess, tok, vocabSize, groups, 0)

	punctcapSess, err := nnruntime.NewSession(paths.punctcapModel(),
		[]nnruntime.IOSpec{{Name: "input_ids", Shape: ioShape}, {Name: "attention_mask", Shape: ioShape}},
		[]nnruntime.IOSpec{{Name: "logits", Shape: []int64{1, int64(maxSeqLen), int64(numPunctCaps)}}},
		nnruntime.CPU)
	if err != nil {
		homophoneSess.Close()
		return nil, nil, fmt.Errorf("load punctcap model: %w", err)
	}
	punctcapStage := punctcap.New(punctcapSess, tok)

	grammarCfg := grammar.Config{
		MaxSourceLen: maxSeqLen,
		MaxTargetLen: maxSeqLen,
		HiddenDim:    768,
		VocabSize:    vocabSize,
		MaxEditRatio: 0.5,
	}
	encoderSess, err := nnruntime.NewSession(paths.grammarEncoder(),
		[]nnruntime.IOSpec{{Name: "input_ids", Shape: ioShape}, {Name: "attention_mask", Shape: ioShape}},
		[]nnruntime.IOSpec{{Name: "hidden_states", Shape: []int64{1, int64(maxSeqLen), int64(grammarCfg.HiddenDim)}}},
		nnruntime.CPU)
	if err != nil {
		homophoneSess.Close()
		punctcapSess.Close()
		return nil, nil, fmt.Errorf("load grammar encoder: %w", err)
	}
	decoderSess, err := nnruntime.NewMixedSession(paths.grammarDecoder(),
		[]nnruntime.MixedIOSpec{
			{Name: "decoder_input_ids", Shape: []int64{1, int64(maxSeqLen)}, Float: false},
			{Name: "encoder_hidden_states", Shape: []int64{1, int64(maxSeqLen), int64(grammarCfg.HiddenDim)}, Float: true},
		},
		[]nnruntime.MixedIOSpec{{Name: "logits", Shape: []int64{1, int64(maxSeqLen), int64(vocabSize)}, Float: true}},
		nnruntime.CPU)
	if err != nil {
		homophoneSess.Close()
		punctcapSess.Close()
		encoderSess.Close()
		return nil, nil, fmt.Errorf("load grammar decoder: %w", err)
	}
	grammarStage := grammar.New(encoderSess, decoderSess, tok, grammarCfg)

	toggles := gec.Toggles{Homophone: cfg.GecHomophone, PunctCap: cfg.GecPunctCap, Grammar: cfg.GecGrammar}
	sessions := []io.Closer{homophoneSess, punctcapSess, encoderSess, decoderSess}
	return gec.New(homophoneStage, punctcapStage, grammarStage, toggles), sessions, nil
}

func loadHomophoneGroups(path string) ([]homophone.Group, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw [][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	groups := make([]homophone.Group, len(raw))
	for i, g := range raw {
		groups[i] = homophone.Group(g)
	}
	return groups, nil
}

func (a *App) onUtterance(h engine.Hypothesis) {
	if h.Text == "" {
		return
	}
	if h.Confidence < a.sup.Current().ConfidenceThreshold {
		slog.Debug("app: utterance below confidence threshold, dropped", "confidence", h.Confidence)
		return
	}
	result, err := a.gecPipe.Process(context.Background(), h.Text)
	if err != nil {
		slog.Warn("app: gec pipeline error", "error", err)
		return
	}
	if !a.sup.Transcribing() {
		return
	}
	if err := a.sink.Type(result.Output); err != nil {
		slog.Warn("app: keystroke sink error", "error", err)
	}
}

// Run opens the capture device and blocks, draining ctx.Done to shut down
// cleanly. Call from the "talkie run" command.
func (a *App) Run(ctx context.Context) error {
	if err := a.sink.Init(); err != nil {
		return fmt.Errorf("app: keystroke sink init: %w", err)
	}
	defer a.sink.Cleanup()

	if err := a.capturer.Start(); err != nil {
		return fmt.Errorf("app: start capture: %w", err)
	}
	defer a.capturer.Close()

	if err := a.sup.SetTranscribing(true); err != nil {
		slog.Warn("app: write initial state file failed", "error", err)
	}

	stop := make(chan struct{})
	go supervisor.PollState(a.statePath, 500*time.Millisecond, stop, func(on bool) {
		slog.Info("app: transcribing state changed externally", "transcribing", on)
		a.sup.ObserveTranscribing(on)
	})
	defer close(stop)

	a.sup.WatchConfigFile()

	<-ctx.Done()
	return a.sup.SetTranscribing(false)
}

// Stats reports the capture device's health counters.
func (a *App) Stats() audio.Stats { return a.capturer.Stats() }

// Close releases every native handle the app holds: the capture stream,
// the engine model, and the NN sessions backing the GEC pipeline. It
// keeps closing the rest even if an earlier Close call fails, and
// returns the first error encountered.
func (a *App) Close() error {
	a.capturer.Close()
	var firstErr error
	for _, sess := range a.gecSessions {
		if err := sess.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := a.engineModel.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

type engineSwapper struct{ app *App }

func (s engineSwapper) Swap(cfg config.Config) error {
	// Different engine backends (Vosk's Kaldi runtime vs sherpa-onnx) cannot
	// coexist safely in one process once either has initialized its native
	// library, so an engine swap always asks the supervisor to re-exec.
	return supervisor.ErrRequiresRestart
}

type typingDelaySwapper struct{ app *App }

func (s typingDelaySwapper) Swap(cfg config.Config) error {
	s.app.sink.SetDelay(time.Duration(cfg.TypingDelayMs) * time.Millisecond)
	return nil
}
