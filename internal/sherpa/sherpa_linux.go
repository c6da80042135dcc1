//go:build linux

// Package sherpa provides platform-specific sherpa-onnx bindings for the
// streaming transducer recognizer backend (C6).
//
// By default, this uses the pre-built CPU-only sherpa-onnx-go-linux package.
// For CUDA builds, a build script compiling sherpa-onnx from source with a
// matching SHERPA_VERSION would be needed — left to deployment tooling.
package sherpa

import (
	"os"
	"strings"

	impl "github.com/k2-fsa/sherpa-onnx-go-linux"
)

// Re-export the sherpa-onnx streaming (online) recognizer types and
// functions for cross-platform use. The actual implementation comes from
// the platform-specific package.

type OnlineRecognizer = impl.OnlineRecognizer
type OnlineRecognizerConfig = impl.OnlineRecognizerConfig
type OnlineStream = impl.OnlineStream
type OnlineRecognizerResult = impl.OnlineRecognizerResult

var NewOnlineRecognizer = impl.NewOnlineRecognizer
var DeleteOnlineRecognizer = impl.DeleteOnlineRecognizer
var NewOnlineStream = impl.NewOnlineStream
var DeleteOnlineStream = impl.DeleteOnlineStream

// DefaultProvider returns the recommended provider for this platform.
func DefaultProvider() string {
	if HasNvidiaGPU() {
		return "cuda"
	}
	return "cpu"
}

// AvailableProviders returns the list of available providers on this platform.
func AvailableProviders() []string {
	return []string{"cpu", "cuda"}
}

// HasNvidiaGPU checks for NVIDIA GPU availability on Linux.
// Supports both discrete GPUs and Jetson SOC devices (Nano, Orin, etc.).
func HasNvidiaGPU() bool {
	nvidiaSmiPaths := []string{
		"/usr/bin/nvidia-smi",
		"/usr/local/bin/nvidia-smi",
		"/opt/nvidia/bin/nvidia-smi",
	}
	for _, path := range nvidiaSmiPaths {
		if fileExists(path) {
			return true
		}
	}

	if fileExists("/dev/nvidia0") {
		return true
	}

	jetsonIndicators := []string{
		"/dev/nvhost-gpu",
		"/dev/nvhost-ctrl-gpu",
		"/dev/nvmap",
		"/etc/nv_tegra_release",
		"/sys/devices/gpu.0",
		"/sys/devices/17000000.ga10b",
		"/sys/devices/17000000.gv11b",
	}
	for _, path := range jetsonIndicators {
		if fileExists(path) {
			return true
		}
	}

	if data, err := os.ReadFile("/proc/device-tree/compatible"); err == nil {
		compatible := string(data)
		if strings.Contains(compatible, "nvidia,tegra") || strings.Contains(compatible, "nvidia,jetson") {
			return true
		}
	}

	return false
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
