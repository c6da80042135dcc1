package keystroke

import (
	"testing"
	"time"
)

func TestNoopSinkNeverErrors(t *testing.T) {
	var s noopSink
	if err := s.Init(); err != nil {
		t.Fatalf("Init() = %v, want nil", err)
	}
	if err := s.Type("hello world"); err != nil {
		t.Fatalf("Type() = %v, want nil", err)
	}
	s.SetDelay(10 * time.Millisecond)
	if err := s.Cleanup(); err != nil {
		t.Fatalf("Cleanup() = %v, want nil", err)
	}
}

func TestNewFallsBackWhenPlatformUnavailable(t *testing.T) {
	if LinuxAvailable() {
		t.Skip("platform sink available, fallback path not exercised")
	}
	sink := New(5 * time.Millisecond)
	if _, ok := sink.(noopSink); !ok {
		t.Fatalf("New() = %T, want noopSink when no platform sink is available", sink)
	}
}
