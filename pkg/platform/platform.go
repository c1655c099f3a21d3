package platform

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Normalized operating system names used in release archive filenames.
const (
	Windows = "windows"
	Linux   = "linux"
	MacOS   = "macOS"
)

// Normalized architecture names used in release archive filenames.
const (
	AMD64 = "amd64"
	ARM64 = "arm64"
)

// ErrUnsupported is matched by every error returned from Map.
var ErrUnsupported = errors.New("unsupported platform")

// UnsupportedError reports which half of a platform pair could not be mapped.
type UnsupportedError struct {
	Kind  string // "operating system" or "architecture"
	Value string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported %s: %s", e.Kind, e.Value)
}

func (e *UnsupportedError) Is(target error) bool {
	return target == ErrUnsupported
}

// Target is a normalized {os, arch} pair.
type Target struct {
	OS   string
	Arch string
}

func (t Target) String() string {
	return t.OS + "/" + t.Arch
}

// IsWindows reports whether executables for this target carry an .exe suffix.
func (t Target) IsWindows() bool {
	return t.OS == Windows
}

// Map converts host-reported platform and architecture strings into a Target.
// Both GOOS/GOARCH spellings (darwin, amd64) and the win32/x64 aliases are accepted.
func Map(rawOS, rawArch string) (Target, error) {
	osName, err := mapOS(rawOS)
	if err != nil {
		return Target{}, err
	}
	arch, err := mapArch(rawArch)
	if err != nil {
		return Target{}, err
	}
	return Target{OS: osName, Arch: arch}, nil
}

// Host returns the Target of the running process.
func Host() (Target, error) {
	return Map(runtime.GOOS, runtime.GOARCH)
}

func mapOS(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "windows", "win32":
		return Windows, nil
	case "linux":
		return Linux, nil
	case "darwin", "macos":
		return MacOS, nil
	default:
		return "", &UnsupportedError{Kind: "operating system", Value: raw}
	}
}

func mapArch(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "amd64", "x64", "x86_64":
		return AMD64, nil
	case "arm64", "aarch64":
		return ARM64, nil
	default:
		return "", &UnsupportedError{Kind: "architecture", Value: raw}
	}
}
