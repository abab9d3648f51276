package inspector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/italolelis/apphub_installer/internal/logctx"
	"github.com/italolelis/apphub_installer/internal/platform"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the file every installed bundle carries at its root.
const ManifestFile = "manifest.yaml"

var (
	// ErrNotInstalled is returned when no bundle exists for the requested id.
	ErrNotInstalled = errors.New("app is not installed")
	// ErrInvalidBundleID is returned for ids that would escape the apps directory.
	ErrInvalidBundleID = errors.New("invalid bundle id")
)

// Manifest describes an installed bundle.
type Manifest struct {
	BundleID   string `yaml:"bundle_id"`
	Name       string `yaml:"name"`
	Version    string `yaml:"version"`
	Executable string `yaml:"executable"`
}

// Directory inspects an apps directory where every installed app lives in
// <root>/<bundleID>/ with a manifest.yaml describing it.
type Directory struct {
	root   string
	opener platform.Opener
}

func NewDirectory(root string, opener platform.Opener) *Directory {
	return &Directory{root: root, opener: opener}
}

// Root returns the watched apps directory.
func (d *Directory) Root() string {
	return d.root
}

// InstalledVersion reports whether bundleID is installed and which version.
// A bundle without a readable version is installed with version "".
func (d *Directory) InstalledVersion(ctx context.Context, bundleID string) (string, bool, error) {
	logger := logctx.LoggerFromContext(ctx)

	dir, err := d.bundleDir(bundleID)
	if err != nil {
		return "", false, err
	}

	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("failed to stat bundle %s: %w", bundleID, err)
	}

	if !info.IsDir() {
		return "", false, nil
	}

	m, err := d.manifest(dir)
	if err != nil {
		logger.WarnContext(ctx, "installed bundle has no readable manifest", "bundle_id", bundleID, "err", err)

		return "", true, nil
	}

	return strings.TrimSpace(m.Version), true, nil
}

// Launch opens the bundle's executable, or the bundle itself when the
// manifest names none.
func (d *Directory) Launch(ctx context.Context, bundleID string) error {
	dir, err := d.installedDir(bundleID)
	if err != nil {
		return err
	}

	target := dir
	if m, err := d.manifest(dir); err == nil && m.Executable != "" {
		target = filepath.Join(dir, filepath.Clean("/"+m.Executable))
	}

	return d.opener.Open(ctx, target)
}

// Reveal opens the directory holding the bundle.
func (d *Directory) Reveal(ctx context.Context, bundleID string) error {
	dir, err := d.installedDir(bundleID)
	if err != nil {
		return err
	}

	return d.opener.Open(ctx, dir)
}

func (d *Directory) installedDir(bundleID string) (string, error) {
	dir, err := d.bundleDir(bundleID)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) || (err == nil && !info.IsDir()) {
		return "", fmt.Errorf("%s: %w", bundleID, ErrNotInstalled)
	}

	if err != nil {
		return "", fmt.Errorf("failed to stat bundle %s: %w", bundleID, err)
	}

	return dir, nil
}

func (d *Directory) bundleDir(bundleID string) (string, error) {
	if bundleID == "" || bundleID == "." || bundleID == ".." || strings.ContainsAny(bundleID, `/\`) {
		return "", fmt.Errorf("%q: %w", bundleID, ErrInvalidBundleID)
	}

	return filepath.Join(d.root, bundleID), nil
}

func (d *Directory) manifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", ManifestFile, err)
	}

	return &m, nil
}
