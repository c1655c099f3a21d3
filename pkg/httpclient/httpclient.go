package httpclient

import (
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Options configures the launcher HTTP client.
type Options struct {
	// Timeout bounds a whole request including reading the body. Zero means none.
	Timeout time.Duration
	// UserAgent is sent on requests that carry none. go-github sets its own,
	// so API clients override it there.
	UserAgent string
	// SourceParam and Source name the attribution query parameter added to
	// requests for SourceHost, e.g. x-defang-source=launcher.
	SourceParam string
	Source      string
	SourceHost  string
}

// New creates an HTTP client that authenticates GitHub requests from
// GITHUB_TOKEN and tags distribution requests with the attribution parameter.
func New(opts Options) *http.Client {
	return &http.Client{
		Timeout: opts.Timeout,
		Transport: &launcherTransport{
			Base: http.DefaultTransport,
			opts: opts,
		},
	}
}

// HostOf returns the host of rawURL, or "" when it does not parse.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// launcherTransport is a RoundTripper that decorates outgoing requests.
type launcherTransport struct {
	Base http.RoundTripper
	opts Options
}

// RoundTrip implements the http.RoundTripper interface
func (t *launcherTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid modifying the original
	req2 := req.Clone(req.Context())

	if t.opts.UserAgent != "" && req2.Header.Get("User-Agent") == "" {
		req2.Header.Set("User-Agent", t.opts.UserAgent)
	}

	if isGitHubHost(req2.URL.Host) && req2.Header.Get("Authorization") == "" {
		if token := os.Getenv("GITHUB_TOKEN"); token != "" {
			req2.Header.Set("Authorization", "Bearer "+token)
		}
	}

	if t.opts.SourceParam != "" && t.opts.Source != "" && t.opts.SourceHost != "" &&
		strings.EqualFold(req2.URL.Host, t.opts.SourceHost) {
		q := req2.URL.Query()
		if q.Get(t.opts.SourceParam) == "" {
			q.Set(t.opts.SourceParam, t.opts.Source)
			req2.URL.RawQuery = q.Encode()
		}
	}

	return t.Base.RoundTrip(req2)
}

// isGitHubHost checks if a host belongs to GitHub
func isGitHubHost(host string) bool {
	host = strings.ToLower(host)
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	return host == "github.com" || strings.HasSuffix(host, ".github.com") || strings.HasSuffix(host, ".githubusercontent.com")
}
