package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Manifest is an ordered list of descriptors bound to one target directory.
// Order only affects log output.
type Manifest struct {
	Name        string
	TargetDir   string
	Descriptors []Descriptor
}

// Len returns the number of descriptors.
func (m Manifest) Len() int {
	return len(m.Descriptors)
}

// Empty reports whether the manifest has nothing to fetch.
func (m Manifest) Empty() bool {
	return len(m.Descriptors) == 0
}

// Set is an ordered collection of manifests.
type Set []Manifest

// Total returns the number of descriptors across all manifests.
func (s Set) Total() int {
	n := 0
	for _, m := range s {
		n += m.Len()
	}
	return n
}

// Spec is the on-disk form of a manifest.
type Spec struct {
	Name    string   `yaml:"name"`
	Dir     string   `yaml:"dir,omitempty"`
	Entries []string `yaml:"entries"`
}

// File is the on-disk form of a manifest set.
type File struct {
	StorageRoot string `yaml:"storage_root,omitempty"`
	Manifests   []Spec `yaml:"manifests"`
}

// Build turns specs into a Set rooted at root. Blank entries are dropped.
func Build(root string, specs []Spec) (Set, error) {
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("storage root %q must be absolute", root)
	}

	seen := make(map[string]struct{}, len(specs))
	set := make(Set, 0, len(specs))
	for _, spec := range specs {
		if spec.Name == "" {
			return nil, errors.New("manifest without a name")
		}
		if _, dup := seen[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate manifest %q", spec.Name)
		}
		seen[spec.Name] = struct{}{}

		dir, err := targetDir(root, spec)
		if err != nil {
			return nil, err
		}

		m := Manifest{Name: spec.Name, TargetDir: dir}
		for i, entry := range spec.Entries {
			d, err := ParseDescriptor(entry)
			if errors.Is(err, ErrBlankDescriptor) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("manifest %q entry %d: %w", spec.Name, i, err)
			}
			m.Descriptors = append(m.Descriptors, d)
		}
		set = append(set, m)
	}
	return set, nil
}

func targetDir(root string, spec Spec) (string, error) {
	dir := spec.Dir
	if dir == "" {
		def, ok := CategoryDir(spec.Name)
		if !ok {
			return "", fmt.Errorf("manifest %q: no dir and no default for that category", spec.Name)
		}
		dir = def
	}
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir), nil
	}
	return filepath.Join(root, dir), nil
}

// Load reads a manifest set file. A storage_root in the file wins over root.
func Load(path, root string) (Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse manifest file %s: %w", path, err)
	}
	if f.StorageRoot != "" {
		root = f.StorageRoot
	}
	return Build(root, f.Manifests)
}
