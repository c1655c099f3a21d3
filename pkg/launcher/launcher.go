package launcher

import (
	"context"
	"os"
	"strings"

	"github.com/DefangLabs/defang-launcher/pkg/asset"
	"github.com/DefangLabs/defang-launcher/pkg/install"
	"github.com/DefangLabs/defang-launcher/pkg/platform"
	"github.com/DefangLabs/defang-launcher/pkg/resolve"
	"github.com/Masterminds/semver/v3"
	"github.com/apex/log"
	"github.com/pkg/errors"
)

const (
	// ExitNotInstalled is returned when no executable could be started.
	ExitNotInstalled = 127
	// ExitInternal is returned when the launcher itself fails.
	ExitInternal = 125

	// ExecutorEnv tells the child which command launched it.
	ExecutorEnv = "DEFANG_COMMAND_EXECUTOR"

	useLatestFlag = "--use-latest"
)

var (
	ErrDownloadFailed   = errors.New("failed to download the release archive")
	ErrChecksumMismatch = errors.New("checksum verification failed: the downloaded file may be corrupted or tampered with")
	ErrExtractFailed    = errors.New("failed to install the executable from the release archive")
)

// VersionResolver reports the installed and latest versions.
type VersionResolver interface {
	Resolve(ctx context.Context) resolve.VersionInfo
}

// ArchiveFetcher downloads release archives and their checksum manifests.
type ArchiveFetcher interface {
	FetchArchive(ctx context.Context, version string, target platform.Target) (*asset.Descriptor, error)
	FetchChecksums(ctx context.Context, version string) (string, bool)
}

// Verifier checks an archive against a checksum manifest.
type Verifier interface {
	Verify(archivePath, manifestPath string) bool
}

// Extractor installs the executable contained in an archive.
type Extractor interface {
	Extract(archivePath, outputDir string) bool
}

// Runner runs the installed executable and returns its exit status.
type Runner interface {
	Run(ctx context.Context, executable string, args, env []string) (int, error)
}

// Invocation is the command line split into launcher options and the
// arguments forwarded to the executable.
type Invocation struct {
	Args      []string
	UseLatest bool
}

// ParseArgs removes the launcher's --use-latest option from args. The option
// is matched case-insensitively with spaces ignored; only an explicit
// "=false" disables updating. All other arguments are kept in order.
func ParseArgs(args []string) Invocation {
	inv := Invocation{Args: []string{}, UseLatest: true}
	for _, arg := range args {
		normalized := strings.ReplaceAll(strings.ToLower(arg), " ", "")
		if !strings.HasPrefix(normalized, useLatestFlag) {
			inv.Args = append(inv.Args, arg)
			continue
		}
		if _, value, ok := strings.Cut(normalized, "="); ok && value == "false" {
			inv.UseLatest = false
		}
	}
	return inv
}

// NeedsUpdate reports whether the latest version should be installed. Versions
// are compared as plain strings.
func NeedsUpdate(useLatest bool, info resolve.VersionInfo) bool {
	if !useLatest || info.Latest == nil {
		return false
	}
	return info.Current == nil || *info.Current != *info.Latest
}

// Launcher keeps the executable up to date and runs it.
type Launcher struct {
	Resolver  VersionResolver
	Fetcher   ArchiveFetcher
	Verifier  Verifier
	Extractor Extractor
	Runner    Runner

	// Target is the platform whose release archive is installed.
	Target platform.Target
	// InstallDir holds the executable.
	InstallDir string
	// Executable is the file name of the executable inside InstallDir.
	Executable string
	// ExecutorName is passed to the child in ExecutorEnv.
	ExecutorName string
}

// Update downloads, verifies and installs version. Invalid versions and
// unsupported platforms are returned as is; pipeline failures are reported
// through ErrDownloadFailed, ErrChecksumMismatch and ErrExtractFailed.
func (l *Launcher) Update(ctx context.Context, version string) error {
	logger := log.WithField("version", version)
	logger.Infof("Getting %s %s", l.Executable, version)

	d, err := l.Fetcher.FetchArchive(ctx, version, l.Target)
	if err != nil {
		return err
	}
	if d == nil {
		return errors.Wrapf(ErrDownloadFailed, "version %s for %s", version, l.Target)
	}

	if manifest, ok := l.Fetcher.FetchChecksums(ctx, version); ok {
		logger.Debug("Verifying checksum")
		verified := l.Verifier.Verify(d.LocalPath, manifest)
		install.Remove(manifest)
		if !verified {
			install.Remove(d.LocalPath)
			return errors.Wrap(ErrChecksumMismatch, d.Filename)
		}
	} else {
		logger.Warn("Could not download checksum file, skipping checksum verification")
	}

	extracted := l.Extractor.Extract(d.LocalPath, l.InstallDir)
	install.Remove(d.LocalPath)
	if !extracted {
		return errors.Wrap(ErrExtractFailed, d.Filename)
	}

	logger.Infof("Installed %s", l.Executable)
	return nil
}

// Run updates the executable when needed, runs it with the forwarded
// arguments and returns the exit status for the launcher process. Update
// failures are logged and the installed executable, if any, is used instead.
func (l *Launcher) Run(ctx context.Context, args []string) int {
	inv := ParseArgs(args)

	if inv.UseLatest {
		info := l.Resolver.Resolve(ctx)
		if NeedsUpdate(inv.UseLatest, info) {
			warnDowngrade(info)
			if err := l.Update(ctx, *info.Latest); err != nil {
				log.WithError(err).Errorf("Failed to update %s", l.Executable)
			}
		}
	} else {
		log.Debug("Update check disabled")
	}

	exe, ok := install.Locate(l.InstallDir, l.Executable)
	if !ok {
		log.Errorf("Could not find the %s executable in %s", l.Executable, l.InstallDir)
		return ExitNotInstalled
	}

	env := append(os.Environ(), ExecutorEnv+"="+l.ExecutorName)
	code, err := l.Runner.Run(ctx, exe, inv.Args, env)
	if err != nil {
		log.WithError(err).Errorf("Failed to run %s", exe)
	}
	return code
}

// warnDowngrade logs when the release being installed is older than the
// installed one.
func warnDowngrade(info resolve.VersionInfo) {
	if info.Current == nil || info.Latest == nil {
		return
	}
	current, err := semver.NewVersion(*info.Current)
	if err != nil {
		return
	}
	latest, err := semver.NewVersion(*info.Latest)
	if err != nil {
		return
	}
	if latest.LessThan(current) {
		log.WithFields(log.Fields{
			"current": current.String(),
			"latest":  latest.String(),
		}).Warn("Latest release is older than the installed version")
	}
}

// ExecutorName derives the ExecutorEnv value from the launcher path: its base
// name without extension.
func ExecutorName(launcherPath string) string {
	base := launcherPath
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.Index(base, "."); i > 0 {
		base = base[:i]
	}
	return base
}
