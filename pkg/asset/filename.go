package asset

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/DefangLabs/defang-launcher/pkg/platform"
	"github.com/buildkite/interpolate"
	"github.com/pkg/errors"
)

const (
	// DefaultTemplate names the release archive for a platform.
	DefaultTemplate = "${NAME}_${VERSION}_${OS}_${ARCH}.${EXT}"
	// DefaultChecksumTemplate names the checksum manifest published with a release.
	DefaultChecksumTemplate = "${NAME}_v${VERSION}_checksums.txt"
	// DefaultExtension is used unless a rule overrides it.
	DefaultExtension = "zip"
)

// ErrInvalidVersion is returned for versions that are not strict semver.
var ErrInvalidVersion = errors.New("unsupported version")

// semverPattern is the grammar published at semver.org.
var semverPattern = regexp.MustCompile(`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)(?:-((?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*)(?:\.(?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*))*))?(?:\+([0-9a-zA-Z-]+(?:\.[0-9a-zA-Z-]+)*))?$`)

// Rule overrides the template or extension for one operating system.
type Rule struct {
	OS       string
	Template string
	EXT      string
}

// DefaultRules holds the release naming conventions: linux ships tarballs and
// macOS ships a single universal archive without an arch token.
var DefaultRules = []Rule{
	{OS: platform.Linux, EXT: "tar.gz"},
	{OS: platform.MacOS, Template: "${NAME}_${VERSION}_${OS}.${EXT}"},
}

// Descriptor locates one release archive both remotely and on disk.
type Descriptor struct {
	Filename  string
	URL       string
	LocalPath string
}

// FilenameGenerator derives release filenames for a product version.
type FilenameGenerator struct {
	Name             string
	Version          string
	Template         string
	ChecksumTemplate string
	Rules            []Rule
}

// NewFilenameGenerator creates a generator with the default naming rules.
func NewFilenameGenerator(name, version string) *FilenameGenerator {
	return &FilenameGenerator{
		Name:             name,
		Version:          version,
		Template:         DefaultTemplate,
		ChecksumTemplate: DefaultChecksumTemplate,
		Rules:            DefaultRules,
	}
}

// ValidateVersion checks that version is a bare semantic version such as
// 1.2.3, 1.2.3-rc.1 or 1.2.3+build.5.
func ValidateVersion(version string) error {
	if !semverPattern.MatchString(version) {
		return errors.Wrapf(ErrInvalidVersion, "%q", version)
	}
	return nil
}

// GenerateFilename returns the archive filename for target.
func (g *FilenameGenerator) GenerateFilename(target platform.Target) (string, error) {
	if err := ValidateVersion(g.Version); err != nil {
		return "", err
	}
	// Re-map so hand-built targets are held to the same rules as Host().
	target, err := platform.Map(target.OS, target.Arch)
	if err != nil {
		return "", err
	}

	template := g.Template
	if template == "" {
		template = DefaultTemplate
	}
	ext := DefaultExtension
	for _, rule := range g.Rules {
		if rule.OS != target.OS {
			continue
		}
		if rule.Template != "" {
			template = rule.Template
		}
		if rule.EXT != "" {
			ext = rule.EXT
		}
	}

	filename, err := g.interpolateTemplate(template, map[string]string{
		"OS":   target.OS,
		"ARCH": target.Arch,
		"EXT":  ext,
	})
	if err != nil {
		return "", fmt.Errorf("failed to interpolate asset template: %w", err)
	}
	return filename, nil
}

// ChecksumFilename returns the checksum manifest filename for the version.
func (g *FilenameGenerator) ChecksumFilename() (string, error) {
	if err := ValidateVersion(g.Version); err != nil {
		return "", err
	}
	template := g.ChecksumTemplate
	if template == "" {
		template = DefaultChecksumTemplate
	}
	filename, err := g.interpolateTemplate(template, nil)
	if err != nil {
		return "", fmt.Errorf("failed to interpolate checksum template: %w", err)
	}
	return filename, nil
}

// NewDescriptor resolves the archive for target under baseURL and dir.
func (g *FilenameGenerator) NewDescriptor(target platform.Target, baseURL, dir string) (Descriptor, error) {
	filename, err := g.GenerateFilename(target)
	if err != nil {
		return Descriptor{}, err
	}
	return Locate(filename, baseURL, dir)
}

// Locate builds a Descriptor for an already derived filename.
func Locate(filename, baseURL, dir string) (Descriptor, error) {
	u, err := url.JoinPath(baseURL, filename)
	if err != nil {
		return Descriptor{}, errors.Wrapf(err, "invalid download base URL %q", baseURL)
	}
	return Descriptor{
		Filename:  filename,
		URL:       u,
		LocalPath: filepath.Join(dir, filename),
	}, nil
}

func (g *FilenameGenerator) interpolateTemplate(template string, additionalVars map[string]string) (string, error) {
	envMap := map[string]string{
		"NAME":    g.Name,
		"VERSION": strings.TrimSpace(g.Version),
	}
	for k, v := range additionalVars {
		envMap[k] = v
	}
	env := interpolate.NewMapEnv(envMap)
	return interpolate.Interpolate(env, template)
}
