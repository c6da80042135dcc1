// Package keystroke implements the external keystroke-synthesis contract:
// turning a finalized, GEC-corrected utterance into keyboard input at the
// focused window. Platform adapters are tagged-stub selected at build
// time, the way nupi's Silero engine picks a native-or-stub backend.
package keystroke

import (
	"errors"
	"log"
	"time"
)

// ErrUnavailable is returned by a platform adapter's constructor when this
// build has no usable backend (wrong OS, missing device permissions).
var ErrUnavailable = errors.New("keystroke: no platform sink available")

// Sink is the external contract: Init before the first Type, Cleanup once
// at shutdown, Type once per finalized utterance. SetDelay adjusts the
// inter-keystroke pause (the typing_delay_ms config option) without
// requiring the sink to be recreated, so the supervisor can hot-swap it.
type Sink interface {
	Init() error
	Type(text string) error
	Cleanup() error
	SetDelay(d time.Duration)
}

// New returns the best available Sink for the current platform, falling
// back to a logging no-op when no platform adapter can attach (missing
// /dev/uinput permissions, unsupported OS, running under a test harness).
// delay is the initial inter-keystroke pause (typing_delay_ms).
func New(delay time.Duration) Sink {
	if LinuxAvailable() {
		sink, err := NewLinuxSink(delay)
		if err == nil {
			return sink
		}
		log.Printf("keystroke: linux sink unavailable, falling back to no-op: %v", err)
	}
	return noopSink{}
}

type noopSink struct{}

func (noopSink) Init() error { return nil }

func (noopSink) Type(text string) error {
	log.Printf("keystroke: (no-op sink) %q", text)
	return nil
}

func (noopSink) Cleanup() error { return nil }

func (noopSink) SetDelay(time.Duration) {}
