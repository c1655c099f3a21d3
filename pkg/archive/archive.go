package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/DefangLabs/defang-launcher/pkg/install"
	"github.com/apex/log"
	"github.com/pkg/errors"
)

// Format represents the archive format
type Format string

const (
	FormatTarGz   Format = "tar.gz"
	FormatZip     Format = "zip"
	FormatUnknown Format = ""
)

// ErrEntryNotFound is returned when the archive has no entry for the executable.
var ErrEntryNotFound = errors.New("executable not found in archive")

// DetectFormat detects the archive format based on the filename
func DetectFormat(filename string) Format {
	lower := strings.ToLower(filename)

	switch {
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip
	case strings.HasSuffix(lower, ".gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz
	default:
		return FormatUnknown
	}
}

// Extractor pulls a single executable out of a release archive.
type Extractor struct {
	// Executable is the entry name to extract, including any .exe suffix.
	Executable string
}

// NewExtractor creates an extractor for the named executable.
func NewExtractor(executable string) *Extractor {
	return &Extractor{Executable: executable}
}

// Extract writes the executable entry of archivePath into outputDir and
// reports whether it now holds a usable executable. Failures are logged.
func (e *Extractor) Extract(archivePath, outputDir string) bool {
	logger := log.WithField("archive", path.Base(strings.ReplaceAll(archivePath, "\\", "/")))
	logger.Infof("Extracting %s", e.Executable)

	target, err := e.extract(archivePath, outputDir)
	if err != nil {
		logger.WithError(err).Error("An error occurred during extraction")
		return false
	}

	if err := install.CheckExecutable(target); err != nil {
		logger.WithError(err).Error("Extracted file is not usable")
		install.Remove(target)
		return false
	}
	return true
}

func (e *Extractor) extract(archivePath, outputDir string) (string, error) {
	switch format := DetectFormat(archivePath); format {
	case FormatZip:
		return e.extractZip(archivePath, outputDir)
	case FormatTarGz:
		return e.extractTarGz(archivePath, outputDir)
	default:
		return "", fmt.Errorf("unsupported archive extension: %s", path.Ext(archivePath))
	}
}

// entryMatches compares an archive entry name with the executable name.
// Entries are matched at the archive root only.
func (e *Extractor) entryMatches(name string) bool {
	name = strings.ReplaceAll(name, "\\", "/")
	if strings.Contains(name, "..") {
		return false
	}
	return path.Clean(name) == e.Executable
}

// extractTarGz extracts the executable from a tar.gz archive
func (e *Extractor) extractTarGz(archivePath, outputDir string) (string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return "", errors.Wrap(err, "failed to open archive")
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return "", errors.Wrap(err, "failed to create gzip reader")
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", errors.Wrap(err, "failed to read tar header")
		}

		if header.Typeflag != tar.TypeReg || !e.entryMatches(header.Name) {
			continue
		}

		return install.WriteExecutable(tarReader, outputDir, e.Executable, os.FileMode(header.Mode).Perm())
	}

	return "", errors.Wrap(ErrEntryNotFound, e.Executable)
}

// extractZip extracts the executable from a zip archive
func (e *Extractor) extractZip(archivePath, outputDir string) (string, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", errors.Wrap(err, "failed to open zip archive")
	}
	defer reader.Close()

	for _, file := range reader.File {
		if file.FileInfo().IsDir() || !e.entryMatches(file.Name) {
			continue
		}

		fileReader, err := file.Open()
		if err != nil {
			return "", errors.Wrap(err, "failed to open file in archive")
		}
		defer fileReader.Close()

		// zip entries rarely carry unix modes, so always install as rwxr-xr-x.
		return install.WriteExecutable(fileReader, outputDir, e.Executable, 0755)
	}

	return "", errors.Wrap(ErrEntryNotFound, e.Executable)
}
