// Package provision sequences the steps of one image build layer: packages,
// plugins, assets, ownership and a final smoke test.
package provision

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/franksops/assetdock/manifest"
)

// Plugin is a source repository cloned into the plugins directory.
type Plugin struct {
	URL string `yaml:"url"`
	// Dir overrides the checkout directory. Relative dirs are joined to
	// the layer's plugins_dir.
	Dir string `yaml:"dir,omitempty"`
}

// Target returns the checkout directory for p.
func (p Plugin) Target(pluginsDir string) string {
	dir := p.Dir
	if dir == "" {
		dir = path.Base(strings.TrimSuffix(strings.TrimRight(p.URL, "/"), ".git"))
	}
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}
	return filepath.Join(pluginsDir, dir)
}

// SmokeTest is the command that proves the provisioned environment starts.
type SmokeTest struct {
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args,omitempty"`
	Dir     string        `yaml:"dir,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Layer is the declarative description of one build layer.
type Layer struct {
	Name        string          `yaml:"name"`
	StorageRoot string          `yaml:"storage_root,omitempty"`
	Packages    []string        `yaml:"packages,omitempty"`
	PluginsDir  string          `yaml:"plugins_dir,omitempty"`
	Plugins     []Plugin        `yaml:"plugins,omitempty"`
	Manifests   []manifest.Spec `yaml:"manifests,omitempty"`
	SmokeTest   *SmokeTest      `yaml:"smoke_test,omitempty"`
	// Owner is "uid:gid" or a user name applied to the storage root.
	Owner string `yaml:"owner,omitempty"`
}

// LoadLayer reads and validates a layer file.
func LoadLayer(path string) (*Layer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read layer file: %w", err)
	}

	var l Layer
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("failed to parse layer file %s: %w", path, err)
	}
	if l.Name == "" {
		l.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("layer %s: %w", path, err)
	}
	return &l, nil
}

// Validate checks the parts of a layer that would otherwise fail halfway
// through a build.
func (l *Layer) Validate() error {
	var errs []error
	if len(l.Plugins) > 0 && l.PluginsDir == "" {
		for _, p := range l.Plugins {
			if !filepath.IsAbs(p.Dir) {
				errs = append(errs, errors.New("plugins_dir is required for plugins without an absolute dir"))
				break
			}
		}
	}
	for i, p := range l.Plugins {
		if strings.TrimSpace(p.URL) == "" {
			errs = append(errs, fmt.Errorf("plugin %d has no url", i))
		}
	}
	if l.SmokeTest != nil && l.SmokeTest.Command == "" {
		errs = append(errs, errors.New("smoke_test needs a command"))
	}
	if l.StorageRoot != "" && !filepath.IsAbs(l.StorageRoot) {
		errs = append(errs, fmt.Errorf("storage_root %q must be absolute", l.StorageRoot))
	}
	return errors.Join(errs...)
}

// ManifestSet builds the layer's manifests. The layer's own storage_root
// wins over root.
func (l *Layer) ManifestSet(root string) (manifest.Set, error) {
	if l.StorageRoot != "" {
		root = l.StorageRoot
	}
	return manifest.Build(root, l.Manifests)
}
