// Package config loads and persists Talkie's process-wide configuration
// record (spec.md §6) and watches the config file for external edits on
// the supervisor's behalf.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the full recognized option table from spec.md §6. Mutated only
// by the supervisor; every other component sees a read-only snapshot.
type Config struct {
	SpeechEngine string `mapstructure:"speech_engine"`

	VoskModelFile   string `mapstructure:"vosk_modelfile"`
	SherpaModelFile string `mapstructure:"sherpa_modelfile"`

	VoskBeam        int `mapstructure:"vosk_beam"`
	VoskLattice     int `mapstructure:"vosk_lattice"`
	SherpaMaxActivePaths int `mapstructure:"sherpa_max_active_paths"`

	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`

	InputDevice string `mapstructure:"input_device"`

	SilenceSeconds           float64 `mapstructure:"silence_seconds"`
	MinDuration              float64 `mapstructure:"min_duration"`
	LookbackSeconds          float64 `mapstructure:"lookback_seconds"`
	SpikeSuppressionSeconds  float64 `mapstructure:"spike_suppression_seconds"`
	InitializationSamples    int     `mapstructure:"initialization_samples"`
	NoiseFloorPercentile     float64 `mapstructure:"noise_floor_percentile"`
	SpeechFloorPercentile    float64 `mapstructure:"speech_floor_percentile"`
	SpeechMinMultiplier      float64 `mapstructure:"speech_min_multiplier"`
	SpeechMaxMultiplier      float64 `mapstructure:"speech_max_multiplier"`
	AudioThresholdMultiplier float64 `mapstructure:"audio_threshold_multiplier"`

	TypingDelayMs int `mapstructure:"typing_delay_ms"`

	GecHomophone bool `mapstructure:"gec_homophone"`
	GecPunctCap  bool `mapstructure:"gec_punctcap"`
	GecGrammar   bool `mapstructure:"gec_grammar"`

	Provider string `mapstructure:"provider"`
}

const envPrefix = "TALKIE"

func defaults() Config {
	return Config{
		SpeechEngine:             "vosk",
		VoskModelFile:            "vosk-model-small-en-us",
		SherpaModelFile:          "sherpa-streaming-zipformer",
		VoskBeam:                 20,
		VoskLattice:              8,
		SherpaMaxActivePaths:     4,
		ConfidenceThreshold:      100,
		InputDevice:              "default",
		SilenceSeconds:           0.3,
		MinDuration:              0.30,
		LookbackSeconds:          0.5,
		SpikeSuppressionSeconds:  0.3,
		InitializationSamples:    50,
		NoiseFloorPercentile:     10,
		SpeechFloorPercentile:    70,
		SpeechMinMultiplier:      0.6,
		SpeechMaxMultiplier:      1.3,
		AudioThresholdMultiplier: 2.5,
		TypingDelayMs:            5,
		GecHomophone:             true,
		GecPunctCap:              true,
		GecGrammar:               false,
		Provider:                 "",
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/talkie.conf, falling back to
// $HOME/.config/talkie.conf when XDG_CONFIG_HOME is unset.
func DefaultPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "talkie.conf")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "talkie.conf"
	}
	return filepath.Join(home, ".config", "talkie.conf")
}

// Store wraps a viper instance bound to one config file, with environment
// overrides and a pending-change watch for the supervisor.
type Store struct {
	v    *viper.Viper
	path string
}

// Load reads path (JSON), applying defaults for unset keys and TALKIE_*
// environment overrides. A missing file is not an error: Load falls back
// to defaults and Save will create it on first write.
func Load(path string) (*Store, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	d := defaults()
	v.SetDefault("speech_engine", d.SpeechEngine)
	v.SetDefault("vosk_modelfile", d.VoskModelFile)
	v.SetDefault("sherpa_modelfile", d.SherpaModelFile)
	v.SetDefault("vosk_beam", d.VoskBeam)
	v.SetDefault("vosk_lattice", d.VoskLattice)
	v.SetDefault("sherpa_max_active_paths", d.SherpaMaxActivePaths)
	v.SetDefault("confidence_threshold", d.ConfidenceThreshold)
	v.SetDefault("input_device", d.InputDevice)
	v.SetDefault("silence_seconds", d.SilenceSeconds)
	v.SetDefault("min_duration", d.MinDuration)
	v.SetDefault("lookback_seconds", d.LookbackSeconds)
	v.SetDefault("spike_suppression_seconds", d.SpikeSuppressionSeconds)
	v.SetDefault("initialization_samples", d.InitializationSamples)
	v.SetDefault("noise_floor_percentile", d.NoiseFloorPercentile)
	v.SetDefault("speech_floor_percentile", d.SpeechFloorPercentile)
	v.SetDefault("speech_min_multiplier", d.SpeechMinMultiplier)
	v.SetDefault("speech_max_multiplier", d.SpeechMaxMultiplier)
	v.SetDefault("audio_threshold_multiplier", d.AudioThresholdMultiplier)
	v.SetDefault("typing_delay_ms", d.TypingDelayMs)
	v.SetDefault("gec_homophone", d.GecHomophone)
	v.SetDefault("gec_punctcap", d.GecPunctCap)
	v.SetDefault("gec_grammar", d.GecGrammar)
	v.SetDefault("provider", d.Provider)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	return &Store{v: v, path: path}, nil
}

// Get unmarshals the current view into a Config and validates it.
func (s *Store) Get() (Config, error) {
	var cfg Config
	if err := s.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save persists cfg back to the store's file as JSON, creating parent
// directories as needed.
func (s *Store) Save(cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("config: create config dir: %w", err)
	}
	fields := map[string]any{
		"speech_engine":              cfg.SpeechEngine,
		"vosk_modelfile":             cfg.VoskModelFile,
		"sherpa_modelfile":           cfg.SherpaModelFile,
		"vosk_beam":                  cfg.VoskBeam,
		"vosk_lattice":               cfg.VoskLattice,
		"sherpa_max_active_paths":    cfg.SherpaMaxActivePaths,
		"confidence_threshold":       cfg.ConfidenceThreshold,
		"input_device":               cfg.InputDevice,
		"silence_seconds":            cfg.SilenceSeconds,
		"min_duration":               cfg.MinDuration,
		"lookback_seconds":           cfg.LookbackSeconds,
		"spike_suppression_seconds":  cfg.SpikeSuppressionSeconds,
		"initialization_samples":     cfg.InitializationSamples,
		"noise_floor_percentile":     cfg.NoiseFloorPercentile,
		"speech_floor_percentile":    cfg.SpeechFloorPercentile,
		"speech_min_multiplier":      cfg.SpeechMinMultiplier,
		"speech_max_multiplier":      cfg.SpeechMaxMultiplier,
		"audio_threshold_multiplier": cfg.AudioThresholdMultiplier,
		"typing_delay_ms":            cfg.TypingDelayMs,
		"gec_homophone":              cfg.GecHomophone,
		"gec_punctcap":               cfg.GecPunctCap,
		"gec_grammar":                cfg.GecGrammar,
		"provider":                   cfg.Provider,
	}
	for k, v := range fields {
		s.v.Set(k, v)
	}
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("config: write %s: %w", s.path, err)
	}
	return nil
}

// Watch installs fn to run whenever the config file changes on disk. It
// returns immediately; fn is invoked from viper's fsnotify goroutine, so
// implementations (the supervisor) must treat it as a different goroutine
// than the caller's.
func (s *Store) Watch(fn func()) {
	s.v.OnConfigChange(func(_ fsnotify.Event) { fn() })
	s.v.WatchConfig()
}

// Validate checks the invariants spec.md §6 implies even though it does not
// spell them out as a validation table: engine name is one of the two
// supported backends, the percentile fields are in range and ordered, and
// typing_delay_ms is not negative. Multiplier fields are not checked.
func (c Config) Validate() error {
	if c.SpeechEngine != "vosk" && c.SpeechEngine != "sherpa" {
		return fmt.Errorf("config: speech_engine must be \"vosk\" or \"sherpa\", got %q", c.SpeechEngine)
	}
	if c.NoiseFloorPercentile < 0 || c.NoiseFloorPercentile > 100 {
		return fmt.Errorf("config: noise_floor_percentile out of range: %v", c.NoiseFloorPercentile)
	}
	if c.SpeechFloorPercentile < 0 || c.SpeechFloorPercentile > 100 {
		return fmt.Errorf("config: speech_floor_percentile out of range: %v", c.SpeechFloorPercentile)
	}
	if c.NoiseFloorPercentile > c.SpeechFloorPercentile {
		return fmt.Errorf("config: noise_floor_percentile (%v) must not exceed speech_floor_percentile (%v)", c.NoiseFloorPercentile, c.SpeechFloorPercentile)
	}
	if c.TypingDelayMs < 0 {
		return fmt.Errorf("config: typing_delay_ms must be >= 0, got %d", c.TypingDelayMs)
	}
	return nil
}
