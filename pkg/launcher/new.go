package launcher

import (
	"runtime"

	"github.com/DefangLabs/defang-launcher/pkg/archive"
	"github.com/DefangLabs/defang-launcher/pkg/config"
	"github.com/DefangLabs/defang-launcher/pkg/fetch"
	"github.com/DefangLabs/defang-launcher/pkg/httpclient"
	"github.com/DefangLabs/defang-launcher/pkg/install"
	"github.com/DefangLabs/defang-launcher/pkg/platform"
	"github.com/DefangLabs/defang-launcher/pkg/resolve"
	"github.com/DefangLabs/defang-launcher/pkg/verify"
	"github.com/apex/log"
)

const (
	// SourceParam is the attribution query parameter added to downloads.
	SourceParam = "x-defang-source"
	// UserAgent identifies the launcher to GitHub and the download host.
	UserAgent = "defang-launcher"
)

// New wires a Launcher for the host platform from cfg. launcherPath is the
// resolved path of the running launcher and anchors the default install
// directory. invokedAs is the path the user ran (os.Args[0]) and names the
// executor; an empty value falls back to launcherPath.
func New(cfg *config.Config, launcherPath, invokedAs string) (*Launcher, error) {
	target, err := platform.Host()
	if err != nil {
		// Keep going: an executable installed by other means can still run.
		log.WithError(err).Warn("Releases are not published for this platform")
		target = platform.Target{OS: runtime.GOOS, Arch: runtime.GOARCH}
	}

	dir, err := install.ResolveInstallDir(cfg.InstallDir, launcherPath)
	if err != nil {
		return nil, err
	}
	executable := install.HostExecutableName(cfg.Name)
	if invokedAs == "" {
		invokedAs = launcherPath
	}

	opts := httpclient.Options{
		UserAgent:   UserAgent,
		SourceParam: SourceParam,
		Source:      cfg.Source,
		SourceHost:  httpclient.HostOf(cfg.DownloadBaseURL),
	}
	metadataOpts, downloadOpts := opts, opts
	metadataOpts.Timeout = cfg.MetadataTimeout
	downloadOpts.Timeout = cfg.DownloadTimeout

	log.WithFields(log.Fields{
		"target": target.String(),
		"dir":    dir,
	}).Debug("Launcher configured")

	return &Launcher{
		Resolver: &resolve.Resolver{
			Client:          httpclient.New(metadataOpts),
			APIURL:          cfg.GitHubAPIURL,
			Owner:           cfg.Owner(),
			Repo:            cfg.RepoName(),
			UserAgent:       UserAgent,
			InstallDir:      dir,
			Executable:      executable,
			MetadataTimeout: cfg.MetadataTimeout,
			VersionTimeout:  cfg.VersionTimeout,
		},
		Fetcher: &fetch.Fetcher{
			Client:           httpclient.New(downloadOpts),
			BaseURL:          cfg.DownloadBaseURL,
			Dir:              dir,
			Name:             cfg.Name,
			Template:         cfg.AssetTemplate,
			ChecksumTemplate: cfg.ChecksumTemplate,
		},
		Verifier:     verify.Verifier{},
		Extractor:    archive.NewExtractor(executable),
		Runner:       ExecRunner{},
		Target:       target,
		InstallDir:   dir,
		Executable:   executable,
		ExecutorName: ExecutorName(invokedAs),
	}, nil
}
