package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pithecene-io/hearth/types"
)

// ManifestName is the manifest file inside every package directory.
const ManifestName = "package.yaml"

// PackageType classifies a package.
type PackageType string

// Package types.
const (
	PackageApp     PackageType = "app"
	PackageService PackageType = "service"
	// PackageBundled packages ship with the system. They are trusted and
	// bypass the password gate.
	PackageBundled PackageType = "bundled"
)

// Package is the read-only metadata of an installed package.
type Package struct {
	// Path is the cleaned package directory; it identifies the package.
	Path string
	Name string
	Type PackageType
	// Binary is the foreground executable, resolved against Path.
	Binary string
	// ServiceBinary is the executable run when the package is a user
	// service, resolved against Path.
	ServiceBinary string
	// ProtocolVersion is the event protocol version the package speaks, as
	// declared. It is validated at launch, not at load.
	ProtocolVersion uint32
	Permissions     map[types.Category]types.Bitmask
	UID             *uint32
	GID             *uint32
	// StopDisabled packages ignore user stop requests.
	StopDisabled bool
}

// Trusted reports whether the package is auto-verified for the password
// gate.
func (p *Package) Trusted() bool {
	return p.Type == PackageBundled
}

// manifest is the on-disk package.yaml layout.
type manifest struct {
	Name            string              `yaml:"name"`
	Type            PackageType         `yaml:"type"`
	Binary          string              `yaml:"binary"`
	ServiceBinary   string              `yaml:"service_binary"`
	ProtocolVersion uint32              `yaml:"protocol_version"`
	Permissions     map[string][]string `yaml:"permissions"`
	UID             *uint32             `yaml:"uid"`
	GID             *uint32             `yaml:"gid"`
	StopDisabled    bool                `yaml:"stop_disabled"`
}

// LoadPackage reads dir/package.yaml. Unknown permission categories and bit
// names are skipped with a warning, leaving the package without them.
func LoadPackage(dir string, warn WarnFunc) (*Package, error) {
	warn = orNop(warn)
	dir = filepath.Clean(dir)

	var m manifest
	if err := decodeFile(filepath.Join(dir, ManifestName), &m); err != nil {
		return nil, err
	}
	if m.Name == "" {
		m.Name = filepath.Base(dir)
	}
	switch m.Type {
	case PackageApp, PackageService, PackageBundled:
	case "":
		m.Type = PackageApp
	default:
		return nil, fmt.Errorf("package %s: unknown type %q", dir, m.Type)
	}
	if m.Binary == "" && m.ServiceBinary == "" {
		return nil, fmt.Errorf("package %s: binary or service_binary is required", dir)
	}
	if m.ProtocolVersion == 0 {
		m.ProtocolVersion = 1
	}

	pkg := &Package{
		Path:            dir,
		Name:            m.Name,
		Type:            m.Type,
		Binary:          resolve(dir, m.Binary),
		ServiceBinary:   resolve(dir, m.ServiceBinary),
		ProtocolVersion: m.ProtocolVersion,
		Permissions:     make(map[types.Category]types.Bitmask, len(m.Permissions)),
		UID:             m.UID,
		GID:             m.GID,
		StopDisabled:    m.StopDisabled,
	}
	for categoryName, bits := range m.Permissions {
		category, err := types.ParseCategory(categoryName)
		if err != nil {
			warn("skipping unknown permission category", map[string]any{"package": pkg.Name, "error": err.Error()})
			continue
		}
		for _, bitName := range bits {
			bit, err := types.ParsePermission(category, bitName)
			if err != nil {
				warn("skipping unknown permission", map[string]any{"package": pkg.Name, "error": err.Error()})
				continue
			}
			pkg.Permissions[category] |= bit
		}
	}
	return pkg, nil
}

func resolve(dir, binary string) string {
	if binary == "" || filepath.IsAbs(binary) {
		return binary
	}
	return filepath.Join(dir, binary)
}

// Index is a package container keyed by package directory. Packages found
// under the configured package dirs are loaded up front; other paths are
// loaded on first lookup. It is safe for concurrent use.
type Index struct {
	mu       sync.RWMutex
	packages map[string]*Package
	warn     WarnFunc
}

// LoadIndex scans every immediate subdirectory of dirs for a manifest.
// Malformed manifests are skipped with a warning.
func LoadIndex(dirs []string, warn WarnFunc) *Index {
	idx := &Index{packages: make(map[string]*Package), warn: orNop(warn)}
	for _, root := range dirs {
		entries, err := os.ReadDir(root)
		if err != nil {
			idx.warn("cannot read package dir", map[string]any{"dir": root, "error": err.Error()})
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			dir := filepath.Join(root, entry.Name())
			if _, err := os.Stat(filepath.Join(dir, ManifestName)); err != nil {
				continue
			}
			pkg, err := LoadPackage(dir, idx.warn)
			if err != nil {
				idx.warn("skipping malformed package", map[string]any{"dir": dir, "error": err.Error()})
				continue
			}
			idx.packages[pkg.Path] = pkg
		}
	}
	return idx
}

// NewIndex builds an index from already-loaded packages.
func NewIndex(pkgs ...*Package) *Index {
	idx := &Index{packages: make(map[string]*Package, len(pkgs)), warn: orNop(nil)}
	for _, pkg := range pkgs {
		idx.packages[filepath.Clean(pkg.Path)] = pkg
	}
	return idx
}

// Lookup returns the package at path.
func (i *Index) Lookup(path string) (*Package, bool) {
	path = filepath.Clean(path)
	i.mu.RLock()
	pkg, ok := i.packages[path]
	i.mu.RUnlock()
	if ok {
		return pkg, true
	}

	pkg, err := LoadPackage(path, i.warn)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			i.warn("skipping malformed package", map[string]any{"dir": path, "error": err.Error()})
		}
		return nil, false
	}
	i.mu.Lock()
	i.packages[path] = pkg
	i.mu.Unlock()
	return pkg, true
}

// Exists reports whether a package is installed at path.
func (i *Index) Exists(path string) bool {
	_, ok := i.Lookup(path)
	return ok
}

// Packages returns the indexed packages sorted by path.
func (i *Index) Packages() []*Package {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]*Package, 0, len(i.packages))
	for _, pkg := range i.packages {
		out = append(out, pkg)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Path < out[b].Path })
	return out
}
