package nnruntime

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const (
	libPathEnvVar = "TALKIE_ORT_LIB_PATH"
	devModeEnvVar = "TALKIE_DEV_MODE"
)

// resolveORTLibPath finds the onnxruntime shared library, in order:
//  1. libPathEnvVar, if set, used verbatim (the operator knows best).
//  2. lib/<os>-<arch>/<filename> next to the running executable.
//  3. filename in the current working directory, but only when devModeEnvVar
//     is "1" — an unqualified CWD lookup is how shared-library hijacking
//     happens, so it is opt-in outside development.
//
// exePath, getenv and getwd are injected so this stays unit-testable
// without touching the real process environment or filesystem layout.
func resolveORTLibPath(exePath string, getenv func(string) string, getwd func() (string, error)) (string, error) {
	if p := getenv(libPathEnvVar); p != "" {
		return p, nil
	}

	filename := ortLibFilename(runtime.GOOS)

	if exePath != "" {
		candidate := filepath.Join(filepath.Dir(exePath), "lib", ortLibDir(runtime.GOOS, runtime.GOARCH), filename)
		if fileExists(candidate) {
			return candidate, nil
		}
	}

	if getenv(devModeEnvVar) == "1" {
		cwd, err := getwd()
		if err == nil {
			candidate := filepath.Join(cwd, filename)
			if fileExists(candidate) {
				return candidate, nil
			}
		}
	}

	return "", fmt.Errorf("nnruntime: could not locate %s: set %s or place it under exe-relative lib/%s/",
		filename, libPathEnvVar, ortLibDir(runtime.GOOS, runtime.GOARCH))
}

func ortLibFilename(goos string) string {
	switch goos {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

func ortLibDir(goos, goarch string) string {
	return goos + "-" + goarch
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
