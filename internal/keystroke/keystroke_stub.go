//go:build !linux

package keystroke

import "time"

// LinuxAvailable is false on every non-Linux build; New falls back to the
// logging no-op sink.
func LinuxAvailable() bool { return false }

// NewLinuxSink always fails outside Linux.
func NewLinuxSink(delay time.Duration) (Sink, error) { return nil, ErrUnavailable }
