package install

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/apex/log"
	"github.com/pkg/errors"
)

const (
	// InstallDirEnv overrides the install directory.
	InstallDirEnv = "DEFANG_LAUNCHER_INSTALL_DIR"
	// DefaultDirName is the install directory created next to the launcher.
	DefaultDirName = ".defang"
)

// ResolveInstallDir resolves the installation directory, handling defaults and
// expansions. Without an explicit directory the InstallDirEnv variable is
// consulted, then a directory beside launcherPath is used.
func ResolveInstallDir(dir, launcherPath string) (string, error) {
	if dir == "" {
		if envDir := os.Getenv(InstallDirEnv); envDir != "" {
			dir = envDir
		} else if launcherPath != "" {
			dir = filepath.Join(filepath.Dir(launcherPath), DefaultDirName)
		} else {
			return "", fmt.Errorf("could not determine install directory: launcher path unknown and %s not set", InstallDirEnv)
		}
	}

	// Expand path (handles ~ and environment variables)
	dir = expandPath(dir)

	absPath, err := filepath.Abs(dir)
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve install directory")
	}

	return absPath, nil
}

// ExecutableName adds the .exe suffix for windows targets.
func ExecutableName(name string, windows bool) string {
	if windows && !strings.HasSuffix(strings.ToLower(name), ".exe") {
		return name + ".exe"
	}
	return name
}

// HostExecutableName is ExecutableName for the running operating system.
func HostExecutableName(name string) string {
	return ExecutableName(name, runtime.GOOS == "windows")
}

// Locate returns the path of the installed executable inside dir and whether
// it exists.
func Locate(dir, executable string) (string, bool) {
	path := filepath.Join(dir, executable)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", false
	}
	return path, true
}

// CheckExecutable confirms path is a regular file the current platform can execute.
func CheckExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrap(err, "executable missing")
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0111 == 0 {
		return fmt.Errorf("%s is not executable (mode %v)", path, info.Mode().Perm())
	}
	return nil
}

// WriteExecutable streams r into targetDir/targetName with the given mode.
// Content is written to a temporary file first and renamed into place, so the
// target either keeps its previous content or holds the complete new file.
func WriteExecutable(r io.Reader, targetDir, targetName string, mode os.FileMode) (string, error) {
	targetPath := filepath.Join(targetDir, targetName)

	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return "", errors.Wrap(err, "failed to create install directory")
	}

	// Create temporary file in target directory for atomic replacement
	tmpFile, err := os.CreateTemp(targetDir, "."+targetName+"-*")
	if err != nil {
		return "", errors.Wrap(err, "failed to create temporary file")
	}
	tmpPath := tmpFile.Name()

	// Clean up on error
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmpFile, r); err != nil {
		tmpFile.Close()
		return "", errors.Wrap(err, "failed to write executable")
	}

	if err := tmpFile.Chmod(mode | 0111); err != nil && runtime.GOOS != "windows" {
		tmpFile.Close()
		return "", errors.Wrap(err, "failed to set permissions")
	}

	if err := tmpFile.Close(); err != nil {
		return "", errors.Wrap(err, "failed to close temporary file")
	}

	if err := atomicInstall(tmpPath, targetPath); err != nil {
		return "", err
	}

	success = true
	return targetPath, nil
}

// Remove deletes path, logging rather than returning failures. A missing file is not an error.
func Remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warnf("Failed to remove %s", path)
	}
}

// atomicInstall performs an atomic file replacement
func atomicInstall(sourcePath, targetPath string) error {
	// On Unix, rename is atomic
	if err := os.Rename(sourcePath, targetPath); err != nil {
		// On Windows or cross-device, fall back to remove + rename
		if runtime.GOOS == "windows" || os.IsExist(err) {
			if err := os.Remove(targetPath); err != nil && !os.IsNotExist(err) {
				return errors.Wrap(err, "failed to remove existing file")
			}
			if err := os.Rename(sourcePath, targetPath); err != nil {
				return errors.Wrap(err, "failed to install executable")
			}
		} else {
			return errors.Wrap(err, "failed to install executable")
		}
	}
	return nil
}

// expandPath expands ~ and environment variables in a path
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil && home != "" {
			path = filepath.Join(home, path[2:])
		}
	}

	return os.ExpandEnv(path)
}
