package resolve

import (
	"context"
	"net/http"
	"net/url"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/DefangLabs/defang-launcher/pkg/asset"
	"github.com/DefangLabs/defang-launcher/pkg/install"
	"github.com/apex/log"
	"github.com/google/go-github/v60/github"
	"github.com/pkg/errors"
)

const (
	// DefaultOwner and DefaultRepo identify the release feed of the Defang CLI.
	DefaultOwner = "DefangLabs"
	DefaultRepo  = "defang"

	currentLabel = "defang cli"
	latestLabel  = "latest cli"
)

// bannerPattern matches "Label: v1.2.3[-pre]" lines of the version banner.
var bannerPattern = regexp.MustCompile(`(?m)^([A-Za-z ]+):\s*v?(\d+\.\d+\.\d+(?:-[\w.-]+)?)\s*$`)

// ansiPattern matches SGR color sequences; the CLI colors its labels when it
// believes it writes to a terminal.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// VersionInfo holds the installed and latest known versions. A nil field
// means the version is unknown.
type VersionInfo struct {
	Current *string
	Latest  *string
}

// BannerFunc runs the installed executable's version command and returns its
// combined output.
type BannerFunc func(ctx context.Context, executable string) ([]byte, error)

// Resolver determines the installed and latest versions of the CLI.
type Resolver struct {
	// Client is used for the GitHub API. nil means http.DefaultClient.
	Client *http.Client
	// APIURL overrides the GitHub API base URL.
	APIURL string
	Owner  string
	Repo   string

	// UserAgent replaces go-github's default user agent when set.
	UserAgent string

	InstallDir string
	Executable string

	MetadataTimeout time.Duration
	VersionTimeout  time.Duration

	// Banner runs "<executable> version". nil means RunBanner.
	Banner BannerFunc
}

// Resolve reports the current and latest versions. Without an installed
// executable only Latest is filled, from the GitHub release feed; otherwise
// both come from the executable's version banner. Failures are logged and
// leave the affected fields nil.
func (r *Resolver) Resolve(ctx context.Context) VersionInfo {
	exe, ok := install.Locate(r.InstallDir, r.Executable)
	if !ok {
		log.WithField("dir", r.InstallDir).Debug("No installed executable found")

		latest, err := r.LatestVersion(ctx)
		if err != nil {
			log.WithError(err).Error("Failed to get latest version from GitHub")
			return VersionInfo{}
		}
		if latest == "" {
			return VersionInfo{}
		}
		return VersionInfo{Latest: &latest}
	}

	if r.VersionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.VersionTimeout)
		defer cancel()
	}

	banner := r.Banner
	if banner == nil {
		banner = RunBanner
	}

	output, err := banner(ctx, exe)
	if err != nil {
		log.WithError(err).Warnf("Failed to run %s version", r.Executable)
	}

	info := ParseBanner(string(output))
	if info.Current == nil {
		log.Warn("Defang CLI version not found")
	}
	if info.Latest == nil {
		log.Warn("Latest CLI version not found")
	}
	return info
}

// LatestVersion queries the latest GitHub release and returns its tag without
// the leading "v". A missing or malformed tag yields an empty version and a
// warning; transport and HTTP status failures are returned as errors.
func (r *Resolver) LatestVersion(ctx context.Context) (string, error) {
	client := github.NewClient(r.Client)
	if r.APIURL != "" {
		baseURL, err := url.Parse(strings.TrimSuffix(r.APIURL, "/") + "/")
		if err != nil {
			return "", errors.Wrapf(err, "invalid GitHub API URL %q", r.APIURL)
		}
		client.BaseURL = baseURL
	}
	if r.UserAgent != "" {
		client.UserAgent = r.UserAgent
	}

	if r.MetadataTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.MetadataTimeout)
		defer cancel()
	}

	owner, repo := r.Owner, r.Repo
	if owner == "" || repo == "" {
		owner, repo = DefaultOwner, DefaultRepo
	}

	release, _, err := client.Repositories.GetLatestRelease(ctx, owner, repo)
	if err != nil {
		return "", errors.Wrapf(err, "failed to fetch latest release of %s/%s", owner, repo)
	}

	tag := strings.TrimPrefix(strings.TrimSpace(release.GetTagName()), "v")
	if tag == "" {
		log.Warnf("Latest release of %s/%s has no tag", owner, repo)
		return "", nil
	}
	if err := asset.ValidateVersion(tag); err != nil {
		log.WithError(err).Warnf("Ignoring latest release of %s/%s", owner, repo)
		return "", nil
	}

	log.WithField("version", tag).Debug("Resolved latest release")
	return tag, nil
}

// ParseBanner extracts the "Defang CLI" and "Latest CLI" versions from the
// output of the version command. Labels are matched case-insensitively; when
// a label repeats the last occurrence wins. Versions that are not valid
// release versions are ignored.
func ParseBanner(output string) VersionInfo {
	var info VersionInfo
	output = ansiPattern.ReplaceAllString(output, "")
	for _, match := range bannerPattern.FindAllStringSubmatch(output, -1) {
		label, version := strings.ToLower(strings.TrimSpace(match[1])), match[2]

		var field **string
		switch label {
		case currentLabel:
			field = &info.Current
		case latestLabel:
			field = &info.Latest
		default:
			continue
		}

		if err := asset.ValidateVersion(version); err != nil {
			log.WithError(err).Debugf("Ignoring %s version", label)
			continue
		}
		v := version
		*field = &v
	}
	return info
}

// RunBanner runs "<executable> version" and returns stdout and stderr combined.
// Output produced before a failure is still returned.
func RunBanner(ctx context.Context, executable string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, executable, "version")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, errors.Wrapf(err, "%s version", executable)
	}
	return output, nil
}
