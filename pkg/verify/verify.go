package verify

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/pkg/errors"
)

// Entry is one "<digest> <filename>" line of a checksum manifest.
type Entry struct {
	Digest   string
	Filename string
}

// Verifier checks archives against checksum manifests with SHA-256.
type Verifier struct{}

// Verify implements the launcher's verifier contract. See the package-level Verify.
func (Verifier) Verify(archivePath, manifestPath string) bool {
	return Verify(archivePath, manifestPath)
}

// Verify reports whether the SHA-256 digest of archivePath matches the entry
// for its base name in manifestPath. A missing entry, a mismatch and any I/O
// failure all yield false; the reason is logged.
func Verify(archivePath, manifestPath string) bool {
	filename := filepath.Base(archivePath)
	logger := log.WithField("file", filename)

	expected, err := findChecksumInFile(manifestPath, filename)
	if err != nil {
		logger.WithError(err).Warn("Checksum not available")
		return false
	}

	actual, err := ComputeChecksum(archivePath)
	if err != nil {
		logger.WithError(err).Error("Error verifying checksum")
		return false
	}

	if normalize(actual) != normalize(expected) {
		logger.WithFields(log.Fields{
			"expected": expected,
			"actual":   actual,
		}).Error("Checksum verification failed")
		return false
	}

	logger.Info("Checksum verification passed")
	return true
}

// ComputeChecksum computes the hex encoded SHA-256 digest of a file
func ComputeChecksum(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", errors.Wrap(err, "failed to open file")
	}
	defer file.Close()

	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", errors.Wrap(err, "failed to compute checksum")
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// ParseManifest reads checksum manifest entries in file order.
func ParseManifest(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if entry, ok := parseChecksumLine(scanner.Text()); ok {
			entries = append(entries, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read checksum file")
	}
	return entries, nil
}

// Lookup returns the digest of the first entry for filename.
func Lookup(entries []Entry, filename string) (string, bool) {
	for _, e := range entries {
		if e.Filename == filename {
			return e.Digest, true
		}
	}
	return "", false
}

// findChecksumInFile finds the checksum for a specific file in a checksum file
func findChecksumInFile(checksumFile, targetFilename string) (string, error) {
	file, err := os.Open(checksumFile)
	if err != nil {
		return "", errors.Wrap(err, "failed to open checksum file")
	}
	defer file.Close()

	entries, err := ParseManifest(file)
	if err != nil {
		return "", err
	}

	checksum, ok := Lookup(entries, targetFilename)
	if !ok {
		return "", fmt.Errorf("checksum for %s not found in checksum file", targetFilename)
	}
	return checksum, nil
}

// parseChecksumLine parses a line from a checksum file
// Supports formats like:
// - "abc123  filename.tar.gz" (two spaces)
// - "abc123 filename.tar.gz" (one space)
// - "abc123	filename.tar.gz" (tab)
// - "abc123 *filename.tar.gz" (binary mode marker)
// The digest is the first field and the filename the last.
func parseChecksumLine(line string) (Entry, bool) {
	line = strings.TrimSpace(line)

	// Skip empty lines and comments
	if line == "" || strings.HasPrefix(line, "#") {
		return Entry{}, false
	}

	parts := strings.Fields(line)
	if len(parts) < 2 {
		return Entry{}, false
	}

	return Entry{
		Digest:   parts[0],
		Filename: strings.TrimPrefix(parts[len(parts)-1], "*"),
	}, true
}

func normalize(digest string) string {
	return strings.ToLower(strings.TrimSpace(digest))
}
