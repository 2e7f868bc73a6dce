// Package manifest discovers module directories under the modules root,
// parses their manifest.json files, and resolves load order by dependency.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Manifest describes a single module as declared by its manifest.json.
type Manifest struct {
	Name          string   `json:"name"`
	Version       string   `json:"version,omitempty"`
	Author        string   `json:"author,omitempty"`
	Description   string   `json:"description,omitempty"`
	EntryPoint    string   `json:"entryPoint,omitempty"`
	Dependencies  []string `json:"dependencies,omitempty"`
	License       string   `json:"license,omitempty"`
	Repo          string   `json:"repo,omitempty"`
	MultiInstance bool     `json:"multiInstanceSpawning"`

	// Path is the absolute directory the manifest was loaded from. Not
	// part of the JSON wire shape; populated by the scanner.
	Path string `json:"-"`
}

const defaultEntryPoint = "dist/index.js"

var (
	ErrEmptyName       = errors.New("manifest: name is required")
	ErrDuplicateName   = errors.New("manifest: duplicate module name")
	ErrMissingManifest = errors.New("manifest: referenced module has no manifest")
)

// resolvedEntryPoint returns the configured entry point or the default.
func (m *Manifest) resolvedEntryPoint() string {
	if m.EntryPoint == "" {
		return defaultEntryPoint
	}
	return m.EntryPoint
}

// EntryPointPath is the absolute path to the module's launchable entry file.
func (m *Manifest) EntryPointPath() string {
	return filepath.Join(m.Path, m.resolvedEntryPoint())
}

// parseManifestFile reads and unmarshals a single manifest.json.
func parseManifestFile(dir string) (*Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("manifest: parse %s: %w", dir, err)
	}
	if strings.TrimSpace(m.Name) == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyName, dir)
	}
	// MultiInstanceSpawning defaults to true per §6.3; json.Unmarshal leaves
	// a missing bool field at its zero value, so detect that case explicitly.
	if !strings.Contains(string(raw), "multiInstanceSpawning") {
		m.MultiInstance = true
	}
	m.Path = dir
	return &m, nil
}

// qualifies reports whether dir contains a manifest.json file. The
// non-empty name check happens later, in parseManifestFile.
func qualifies(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, "manifest.json"))
	return err == nil && !info.IsDir()
}
