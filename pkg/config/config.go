package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/DefangLabs/defang-launcher/pkg/asset"
	"github.com/DefangLabs/defang-launcher/pkg/install"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigEnv points at an explicit config file.
	ConfigEnv = "DEFANG_LAUNCHER_CONFIG"
	// DefaultFilename is looked up next to the launcher executable.
	DefaultFilename = "launcher.yml"

	DefaultName            = "defang"
	DefaultRepo            = "DefangLabs/defang"
	DefaultGitHubAPIURL    = "https://api.github.com/"
	DefaultDownloadBaseURL = "https://s.defang.io"
	DefaultSource          = "launcher"

	DefaultMetadataTimeout = 30 * time.Second
	DefaultDownloadTimeout = 5 * time.Minute
	DefaultVersionTimeout  = 30 * time.Second
)

// Config holds the launcher settings. Every field is optional in the file.
type Config struct {
	// Name of the product executable and archive prefix
	Name string `yaml:"name,omitempty"`
	// Repo is the GitHub "owner/name" publishing releases
	Repo string `yaml:"repo,omitempty"`

	GitHubAPIURL    string `yaml:"github_api_url,omitempty"`
	DownloadBaseURL string `yaml:"download_base_url,omitempty"`
	// Source is sent as the x-defang-source attribution parameter
	Source string `yaml:"source,omitempty"`

	AssetTemplate    string `yaml:"asset_template,omitempty"`
	ChecksumTemplate string `yaml:"checksum_template,omitempty"`

	// InstallDir defaults to a directory beside the launcher
	InstallDir string `yaml:"install_dir,omitempty"`

	MetadataTimeout time.Duration `yaml:"metadata_timeout,omitempty"`
	DownloadTimeout time.Duration `yaml:"download_timeout,omitempty"`
	VersionTimeout  time.Duration `yaml:"version_timeout,omitempty"`
}

// Default returns the built-in configuration with environment overrides applied.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	cfg.ApplyEnv()
	return cfg
}

// SetDefaults fills every blank field with its built-in value.
func (c *Config) SetDefaults() {
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.Repo == "" {
		c.Repo = DefaultRepo
	}
	if c.GitHubAPIURL == "" {
		c.GitHubAPIURL = DefaultGitHubAPIURL
	}
	if c.DownloadBaseURL == "" {
		c.DownloadBaseURL = DefaultDownloadBaseURL
	}
	if c.Source == "" {
		c.Source = DefaultSource
	}
	if c.AssetTemplate == "" {
		c.AssetTemplate = asset.DefaultTemplate
	}
	if c.ChecksumTemplate == "" {
		c.ChecksumTemplate = asset.DefaultChecksumTemplate
	}
	if c.MetadataTimeout <= 0 {
		c.MetadataTimeout = DefaultMetadataTimeout
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = DefaultDownloadTimeout
	}
	if c.VersionTimeout <= 0 {
		c.VersionTimeout = DefaultVersionTimeout
	}
}

// ApplyEnv overrides file settings from the environment.
func (c *Config) ApplyEnv() {
	if dir := os.Getenv(install.InstallDirEnv); dir != "" {
		c.InstallDir = dir
	}
}

// Validate checks the repository, URLs and templates.
func (c *Config) Validate() error {
	if _, _, err := splitRepo(c.Repo); err != nil {
		return err
	}
	for field, raw := range map[string]string{
		"github_api_url":    c.GitHubAPIURL,
		"download_base_url": c.DownloadBaseURL,
	} {
		u, err := url.Parse(raw)
		if err != nil {
			return errors.Wrapf(err, "invalid %s", field)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid %s %q: must be an absolute http(s) URL", field, raw)
		}
	}
	if err := validateTemplate("asset_template", c.AssetTemplate); err != nil {
		return err
	}
	if err := validateTemplate("checksum_template", c.ChecksumTemplate); err != nil {
		return err
	}
	if strings.ContainsAny(c.Name, `/\`) || c.Name == "." || c.Name == ".." {
		return fmt.Errorf("invalid name %q", c.Name)
	}
	return nil
}

// Owner returns the owner part of Repo.
func (c *Config) Owner() string {
	owner, _, _ := splitRepo(c.Repo)
	return owner
}

// RepoName returns the repository part of Repo.
func (c *Config) RepoName() string {
	_, name, _ := splitRepo(c.Repo)
	return name
}

func splitRepo(repo string) (string, string, error) {
	parts := strings.Split(repo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository format %q: expected owner/name", repo)
	}
	return parts[0], parts[1], nil
}

// validateTemplate rejects templates that could expand outside the install
// directory once joined with it.
func validateTemplate(field, template string) error {
	if strings.ContainsAny(template, `/\`) {
		return fmt.Errorf("%s must not contain path separators: %s", field, template)
	}
	if strings.Contains(template, "..") {
		return fmt.Errorf("%s must not contain '..': %s", field, template)
	}
	return nil
}

// Load reads and parses a launcher config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file: %s", path)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config file: %s", path)
	}

	// Apply defaults
	cfg.SetDefaults()
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config file: %s", path)
	}

	return &cfg, nil
}

// Discover returns the config file to use: ConfigEnv when set, otherwise
// DefaultFilename inside launcherDir if it exists.
func Discover(launcherDir string) (string, bool) {
	if path := os.Getenv(ConfigEnv); path != "" {
		return path, true
	}
	if launcherDir == "" {
		return "", false
	}

	path := filepath.Join(launcherDir, DefaultFilename)
	if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
		return path, true
	}
	return "", false
}

// LoadOrDefault loads the discovered config file, or returns the built-in
// defaults when there is none. The returned path is empty for defaults.
func LoadOrDefault(launcherDir string) (*Config, string, error) {
	path, ok := Discover(launcherDir)
	if !ok {
		return Default(), "", nil
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}
