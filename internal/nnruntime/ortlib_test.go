package nnruntime

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestResolveORTLibPathEnvVarWins(t *testing.T) {
	getenv := func(k string) string {
		if k == libPathEnvVar {
			return "/opt/custom/libonnxruntime.so"
		}
		return ""
	}
	getwd := func() (string, error) { return "", errors.New("should not be called") }

	path, err := resolveORTLibPath("/usr/bin/talkie", getenv, getwd)
	if err != nil {
		t.Fatal(err)
	}
	if path != "/opt/custom/libonnxruntime.so" {
		t.Errorf("path = %q, want env var value", path)
	}
}

func TestResolveORTLibPathExeRelative(t *testing.T) {
	dir := t.TempDir()
	libDir := filepath.Join(dir, "lib", ortLibDir(runtime.GOOS, runtime.GOARCH))
	if err := os.MkdirAll(libDir, 0o755); err != nil {
		t.Fatal(err)
	}
	libFile := filepath.Join(libDir, ortLibFilename(runtime.GOOS))
	if err := os.WriteFile(libFile, []byte{}, 0o644); err != nil {
		t.Fatal(err)
	}

	getenv := func(string) string { return "" }
	getwd := func() (string, error) { return "", errors.New("should not be reached") }

	exePath := filepath.Join(dir, "talkie")
	path, err := resolveORTLibPath(exePath, getenv, getwd)
	if err != nil {
		t.Fatal(err)
	}
	if path != libFile {
		t.Errorf("path = %q, want %q", path, libFile)
	}
}

func TestResolveORTLibPathCWDRequiresDevMode(t *testing.T) {
	dir := t.TempDir()
	libFile := filepath.Join(dir, ortLibFilename(runtime.GOOS))
	if err := os.WriteFile(libFile, []byte{}, 0o644); err != nil {
		t.Fatal(err)
	}

	getwd := func() (string, error) { return dir, nil }

	getenvNoDev := func(string) string { return "" }
	if _, err := resolveORTLibPath("/nonexistent/talkie", getenvNoDev, getwd); err == nil {
		t.Error("expected error without dev mode set, CWD fallback must not be used silently")
	}

	getenvDev := func(k string) string {
		if k == devModeEnvVar {
			return "1"
		}
		return ""
	}
	path, err := resolveORTLibPath("/nonexistent/talkie", getenvDev, getwd)
	if err != nil {
		t.Fatal(err)
	}
	if path != libFile {
		t.Errorf("path = %q, want %q", path, libFile)
	}
}

func TestResolveORTLibPathNotFound(t *testing.T) {
	getenv := func(string) string { return "" }
	getwd := func() (string, error) { return "", errors.New("no cwd") }
	if _, err := resolveORTLibPath("/nonexistent/talkie", getenv, getwd); err == nil {
		t.Error("expected error when the library cannot be found anywhere")
	}
}
