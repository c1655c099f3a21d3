package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/DefangLabs/defang-launcher/pkg/asset"
	"github.com/DefangLabs/defang-launcher/pkg/platform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownload(t *testing.T) {
	tests := []struct {
		name        string
		setupServer func() *httptest.Server
		wantErr     bool
		wantIs      error
		validate    func(t *testing.T, path string)
	}{
		{
			name: "successful download",
			setupServer: func() *httptest.Server {
				return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.Header().Set("Content-Type", "application/octet-stream")
					w.WriteHeader(http.StatusOK)
					fmt.Fprint(w, "test binary content")
				}))
			},
			validate: func(t *testing.T, path string) {
				content, err := os.ReadFile(path)
				require.NoError(t, err)
				assert.Equal(t, "test binary content", string(content))
			},
		},
		{
			name: "download with redirect",
			setupServer: func() *httptest.Server {
				return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					if r.URL.Path != "/redirected" {
						http.Redirect(w, r, "/redirected", http.StatusFound)
						return
					}
					w.WriteHeader(http.StatusOK)
					fmt.Fprint(w, "redirected content")
				}))
			},
			validate: func(t *testing.T, path string) {
				content, err := os.ReadFile(path)
				require.NoError(t, err)
				assert.Equal(t, "redirected content", string(content))
			},
		},
		{
			name: "download failure - 404",
			setupServer: func() *httptest.Server {
				return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusNotFound)
				}))
			},
			wantErr: true,
		},
		{
			name: "empty body",
			setupServer: func() *httptest.Server {
				return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusOK)
				}))
			},
			wantErr: true,
			wantIs:  ErrEmptyBody,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := tt.setupServer()
			defer server.Close()

			tmpDir := t.TempDir()
			destPath := filepath.Join(tmpDir, "downloaded-file")

			err := Download(context.Background(), server.Client(), server.URL, destPath)
			if tt.wantErr {
				assert.Error(t, err)
				if tt.wantIs != nil {
					assert.True(t, errors.Is(err, tt.wantIs))
				}
				assert.NoFileExists(t, destPath)
				entries, _ := os.ReadDir(tmpDir)
				assert.Empty(t, entries, "temporary files must be cleaned up")
				return
			}

			require.NoError(t, err)
			assert.FileExists(t, destPath)

			if tt.validate != nil {
				tt.validate(t, destPath)
			}
		})
	}
}

func TestDownloadStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	err := Download(context.Background(), server.Client(), server.URL, filepath.Join(t.TempDir(), "f"))
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
}

func TestDownloadCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "content")
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Download(ctx, server.Client(), server.URL, filepath.Join(t.TempDir(), "f"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDownloadWithProgress(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content := make([]byte, 1024*10) // 10KB
		for i := range content {
			content[i] = byte(i % 256)
		}

		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(content)))
		w.WriteHeader(http.StatusOK)

		chunkSize := 1024
		for i := 0; i < len(content); i += chunkSize {
			w.Write(content[i : i+chunkSize])
			w.(http.Flusher).Flush()
		}
	}))
	defer server.Close()

	destPath := filepath.Join(t.TempDir(), "large-file")

	progressCalled := false
	err := DownloadWithProgress(context.Background(), server.Client(), server.URL, destPath, func(downloaded, total int64) {
		progressCalled = true
		assert.True(t, downloaded <= total)
		assert.True(t, total > 0)
	})

	require.NoError(t, err)
	assert.True(t, progressCalled, "progress callback should have been called")

	info, err := os.Stat(destPath)
	require.NoError(t, err)
	assert.Equal(t, int64(1024*10), info.Size())
}

func TestCopyWithProgress(t *testing.T) {
	content := []byte("test content")

	t.Run("successful copy", func(t *testing.T) {
		src := &mockReader{data: content}
		dst := &mockWriter{}

		n, err := copyWithProgress(dst, src, int64(len(content)), nil)
		require.NoError(t, err)
		assert.Equal(t, int64(len(content)), n)
		assert.Equal(t, content, dst.data)
	})

	t.Run("read error", func(t *testing.T) {
		src := &mockReader{data: content, failCount: 1}
		dst := &mockWriter{}

		_, err := copyWithProgress(dst, src, 0, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "temporary error")
	})
}

func newFetcher(serverURL, dir string) *Fetcher {
	return &Fetcher{
		Client:  http.DefaultClient,
		BaseURL: serverURL,
		Dir:     dir,
		Name:    "defang",
	}
}

func TestFetchArchive(t *testing.T) {
	var gotPath atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		fmt.Fprint(w, "archive bytes")
	}))
	defer server.Close()

	dir := t.TempDir()
	f := newFetcher(server.URL, dir)

	d, err := f.FetchArchive(context.Background(), "1.2.0", platform.Target{OS: platform.Linux, Arch: platform.AMD64})
	require.NoError(t, err)
	require.NotNil(t, d)

	assert.Equal(t, "/defang_1.2.0_linux_amd64.tar.gz", gotPath.Load())
	assert.Equal(t, filepath.Join(dir, "defang_1.2.0_linux_amd64.tar.gz"), d.LocalPath)
	content, err := os.ReadFile(d.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "archive bytes", string(content))
}

func TestFetchArchiveUnavailable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"not found", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) }},
		{"empty body", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			dir := t.TempDir()
			// A stale archive from an earlier run is cleaned up too.
			stale := filepath.Join(dir, "defang_1.2.0_windows_amd64.zip")
			require.NoError(t, os.WriteFile(stale, []byte("stale"), 0644))

			d, err := newFetcher(server.URL, dir).FetchArchive(context.Background(), "1.2.0", platform.Target{OS: platform.Windows, Arch: platform.AMD64})
			require.NoError(t, err)
			assert.Nil(t, d)
			assert.NoFileExists(t, stale)
		})
	}
}

func TestFetchArchiveInvalidInputMakesNoRequest(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		fmt.Fprint(w, "x")
	}))
	defer server.Close()

	f := newFetcher(server.URL, t.TempDir())

	_, err := f.FetchArchive(context.Background(), "not-a-version", platform.Target{OS: platform.Linux, Arch: platform.AMD64})
	assert.ErrorIs(t, err, asset.ErrInvalidVersion)

	_, err = f.FetchArchive(context.Background(), "1.0.0", platform.Target{OS: "solaris", Arch: platform.AMD64})
	assert.ErrorIs(t, err, platform.ErrUnsupported)

	assert.Equal(t, int32(0), requests.Load())
}

func TestFetchChecksums(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/defang_v1.2.0_checksums.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, "abc  defang_1.2.0_linux_amd64.tar.gz\n")
	}))
	defer server.Close()

	dir := t.TempDir()
	f := newFetcher(server.URL, dir)

	path, ok := f.FetchChecksums(context.Background(), "1.2.0")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "defang_v1.2.0_checksums.txt"), path)

	_, ok = f.FetchChecksums(context.Background(), "1.3.0")
	assert.False(t, ok)
	assert.NoFileExists(t, filepath.Join(dir, "defang_v1.3.0_checksums.txt"))

	_, ok = f.FetchChecksums(context.Background(), "garbage")
	assert.False(t, ok)
}

// Mock reader for testing read failures
type mockReader struct {
	data      []byte
	pos       int
	attempts  int
	failCount int
}

func (m *mockReader) Read(p []byte) (n int, err error) {
	m.attempts++
	if m.attempts <= m.failCount {
		return 0, fmt.Errorf("temporary error")
	}

	if m.pos >= len(m.data) {
		return 0, io.EOF
	}

	n = copy(p, m.data[m.pos:])
	m.pos += n
	return n, nil
}

// Mock writer for testing
type mockWriter struct {
	data []byte
}

func (m *mockWriter) Write(p []byte) (n int, err error) {
	m.data = append(m.data, p...)
	return len(p), nil
}

func TestFetchArchiveCustomTemplate(t *testing.T) {
	var gotPath atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		fmt.Fprint(w, "archive bytes")
	}))
	defer server.Close()

	tests := []struct {
		target platform.Target
		want   string
	}{
		{platform.Target{OS: platform.MacOS, Arch: platform.ARM64}, "/defang-1.2.0-macOS-arm64.zip"},
		{platform.Target{OS: platform.Linux, Arch: platform.AMD64}, "/defang-1.2.0-linux-amd64.tar.gz"},
	}

	for _, tt := range tests {
		t.Run(tt.target.String(), func(t *testing.T) {
			f := newFetcher(server.URL, t.TempDir())
			f.Template = "${NAME}-${VERSION}-${OS}-${ARCH}.${EXT}"

			d, err := f.FetchArchive(context.Background(), "1.2.0", tt.target)
			require.NoError(t, err)
			require.NotNil(t, d)
			assert.Equal(t, tt.want, gotPath.Load())
		})
	}
}
