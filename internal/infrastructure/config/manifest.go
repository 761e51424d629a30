package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// Mount types.
const (
	MountHost = "host"
	MountMem  = "mem"
)

var ErrManifestFormat = errors.New("unsupported manifest format")

// Manifest describes what a kernel boots with: the filesystem layout, the
// base environment and the first command.
type Manifest struct {
	Dirs   []string          `yaml:"dirs" toml:"dirs"`
	Mounts []Mount           `yaml:"mounts" toml:"mounts"`
	Env    map[string]string `yaml:"env" toml:"env"`
	Init   Init              `yaml:"init" toml:"init"`
}

// Mount attaches a backend at Path. Host mounts expose Source from the host
// filesystem.
type Mount struct {
	Path     string `yaml:"path" toml:"path"`
	Type     string `yaml:"type" toml:"type"`
	Source   string `yaml:"source" toml:"source"`
	ReadOnly bool   `yaml:"read_only" toml:"read_only"`
}

// Init is the command started on the console at boot.
type Init struct {
	Cmd []string `yaml:"cmd" toml:"cmd"`
	Cwd string   `yaml:"cwd" toml:"cwd"`
}

// DefaultManifest is used when no manifest file is configured.
func DefaultManifest() *Manifest {
	return &Manifest{
		Dirs: []string{"/tmp", "/home"},
		Env:  map[string]string{"HOME": "/home"},
		Init: Init{Cwd: "/home"},
	}
}

// LoadManifest reads a YAML or TOML manifest, chosen by extension. An empty
// path yields DefaultManifest.
func LoadManifest(path string) (*Manifest, error) {
	if path == "" {
		return DefaultManifest(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := ParseManifest(data, strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// ParseManifest decodes data in format ("yaml", "yml" or "toml") and
// validates it.
func ParseManifest(data []byte, format string) (*Manifest, error) {
	var m Manifest
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, err
		}
	case "toml":
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrManifestFormat, format)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks paths and mount types.
func (m *Manifest) Validate() error {
	for _, dir := range m.Dirs {
		if !strings.HasPrefix(dir, "/") {
			return fmt.Errorf("dir %q is not absolute", dir)
		}
	}
	seen := make(map[string]bool, len(m.Mounts))
	for i, mt := range m.Mounts {
		if !strings.HasPrefix(mt.Path, "/") || mt.Path == "/" {
			return fmt.Errorf("mount %d: bad path %q", i, mt.Path)
		}
		if seen[mt.Path] {
			return fmt.Errorf("mount %d: %s mounted twice", i, mt.Path)
		}
		seen[mt.Path] = true

		switch mt.Type {
		case MountHost:
			if mt.Source == "" {
				return fmt.Errorf("mount %s: host mount needs a source", mt.Path)
			}
		case MountMem:
		default:
			return fmt.Errorf("mount %s: unknown type %q", mt.Path, mt.Type)
		}
	}
	if m.Init.Cwd != "" && !strings.HasPrefix(m.Init.Cwd, "/") {
		return fmt.Errorf("init cwd %q is not absolute", m.Init.Cwd)
	}
	return nil
}
