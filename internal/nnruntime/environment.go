package nnruntime

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	ort "github.com/yalue/onnxruntime_go"
)

// Provider selects the execution backend for a Session. NPU is accepted by
// Options (spec.md's device-selection knob) but has no binding in this
// pack; NewSession and NewMixedSession return ErrProviderUnavailable for it so callers
// fall back to CPU explicitly rather than silently.
type Provider string

const (
	CPU Provider = "cpu"
	NPU Provider = "npu"
)

var ErrProviderUnavailable = fmt.Errorf("nnruntime: provider unavailable")

// environment is the process-wide ONNX Runtime handle. Every model (C9
// homophone, C10 punct/caps, C11 grammar encoder+decoder) shares one
// initialized runtime; it is torn down only once the last Session using it
// closes, mirroring the lifecycle nupi's silero engine manages per-model
// but generalized across several concurrently loaded graphs.
var (
	envOnce sync.Once
	envErr  error
	envRefs atomic.Int64
)

func acquireEnvironment() error {
	envOnce.Do(func() {
		if libPath := os.Getenv(libPathEnvVar); libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		} else if resolved, err := resolveORTLibPath(exePathOrEmpty(), os.Getenv, os.Getwd); err == nil {
			ort.SetSharedLibraryPath(resolved)
		}
		envErr = ort.InitializeEnvironment()
	})
	if envErr != nil {
		return fmt.Errorf("nnruntime: initialize environment: %w", envErr)
	}
	envRefs.Add(1)
	return nil
}

func releaseEnvironment() {
	if envRefs.Add(-1) == 0 {
		_ = ort.DestroyEnvironment()
		// Allow a later acquire (e.g. after a config hot-swap that closed
		// every session) to re-initialize cleanly.
		envOnce = sync.Once{}
		envErr = nil
	}
}

func exePathOrEmpty() string {
	p, err := os.Executable()
	if err != nil {
		return ""
	}
	return p
}
