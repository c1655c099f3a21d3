package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/DefangLabs/defang-launcher/pkg/asset"
	"github.com/DefangLabs/defang-launcher/pkg/install"
	"github.com/DefangLabs/defang-launcher/pkg/platform"
	"github.com/apex/log"
	"github.com/pkg/errors"
)

// ErrEmptyBody is returned when a download completes without any content.
var ErrEmptyBody = errors.New("no content downloaded")

// StatusError reports a non-200 response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d from %s", e.StatusCode, e.URL)
}

// ProgressFunc is a callback for download progress
type ProgressFunc func(downloaded, total int64)

// Download downloads a file from the given URL to the destination path
func Download(ctx context.Context, client *http.Client, url, destPath string) error {
	return DownloadWithProgress(ctx, client, url, destPath, nil)
}

// DownloadWithProgress downloads a file with optional progress callback.
// The content is staged in a temporary file next to destPath and only renamed
// into place once it is complete, so destPath never holds a partial download.
func DownloadWithProgress(ctx context.Context, client *http.Client, url, destPath string, progress ProgressFunc) error {
	if client == nil {
		client = http.DefaultClient
	}

	// Create destination directory if needed
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return errors.Wrap(err, "failed to create destination directory")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "application/octet-stream")

	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "failed to download %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".download-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary file")
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)
	defer tmpFile.Close()

	written, err := copyWithProgress(tmpFile, resp.Body, resp.ContentLength, progress)
	if err != nil {
		return errors.Wrapf(err, "failed to read response from %s", url)
	}
	if written == 0 {
		return errors.Wrapf(ErrEmptyBody, "%s", url)
	}

	if err := tmpFile.Close(); err != nil {
		return errors.Wrap(err, "failed to close temporary file")
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return errors.Wrap(err, "failed to move downloaded file")
	}
	return nil
}

// copyWithProgress copies data and reports progress
func copyWithProgress(dst io.Writer, src io.Reader, total int64, progress ProgressFunc) (int64, error) {
	var written int64
	buf := make([]byte, 32*1024) // 32KB buffer

	for {
		nr, readErr := src.Read(buf)
		if nr > 0 {
			nw, writeErr := dst.Write(buf[0:nr])
			if writeErr != nil {
				return written, writeErr
			}
			written += int64(nw)

			if progress != nil {
				progress(written, total)
			}
		}

		if readErr != nil {
			if readErr == io.EOF {
				return written, nil
			}
			return written, readErr
		}
	}
}

// Fetcher downloads release archives and checksum manifests from the
// distribution endpoint into Dir.
type Fetcher struct {
	Client           *http.Client
	BaseURL          string
	Dir              string
	Name             string
	Template         string
	ChecksumTemplate string
}

func (f *Fetcher) generator(version string) *asset.FilenameGenerator {
	g := asset.NewFilenameGenerator(f.Name, version)
	if f.Template != "" && f.Template != g.Template {
		// A custom template applies on every OS; rules only pick the extension.
		g.Template = f.Template
		rules := make([]asset.Rule, len(g.Rules))
		for i, rule := range g.Rules {
			rules[i] = asset.Rule{OS: rule.OS, EXT: rule.EXT}
		}
		g.Rules = rules
	}
	if f.ChecksumTemplate != "" {
		g.ChecksumTemplate = f.ChecksumTemplate
	}
	return g
}

// FetchArchive downloads the release archive for version and target.
//
// Invalid versions and unsupported platforms are returned as errors before any
// request is made. A failed download is not an error: it is logged and a nil
// descriptor is returned, meaning no archive is available.
func (f *Fetcher) FetchArchive(ctx context.Context, version string, target platform.Target) (*asset.Descriptor, error) {
	d, err := f.generator(version).NewDescriptor(target, f.BaseURL, f.Dir)
	if err != nil {
		return nil, err
	}

	log.Infof("Downloading %s", d.URL)
	if err := DownloadWithProgress(ctx, f.Client, d.URL, d.LocalPath, debugProgress(d.Filename)); err != nil {
		log.WithError(err).Errorf("Failed to download %s", d.Filename)
		install.Remove(d.LocalPath)
		return nil, nil
	}
	return &d, nil
}

// FetchChecksums downloads the checksum manifest for version. It reports false
// when the manifest is unavailable for any reason.
func (f *Fetcher) FetchChecksums(ctx context.Context, version string) (string, bool) {
	filename, err := f.generator(version).ChecksumFilename()
	if err != nil {
		log.WithError(err).Warn("Cannot derive checksum filename")
		return "", false
	}
	d, err := asset.Locate(filename, f.BaseURL, f.Dir)
	if err != nil {
		log.WithError(err).Warn("Cannot locate checksum file")
		return "", false
	}

	log.Debugf("Downloading %s", d.URL)
	if err := Download(ctx, f.Client, d.URL, d.LocalPath); err != nil {
		log.WithError(err).Debugf("Checksum file %s unavailable", filename)
		install.Remove(d.LocalPath)
		return "", false
	}
	return d.LocalPath, true
}

func debugProgress(name string) ProgressFunc {
	lastDecile := int64(-1)
	return func(downloaded, total int64) {
		if total <= 0 {
			return
		}
		decile := downloaded * 10 / total
		if decile != lastDecile {
			lastDecile = decile
			log.WithField("file", name).Debugf("%d%% (%d/%d bytes)", decile*10, downloaded, total)
		}
	}
}
