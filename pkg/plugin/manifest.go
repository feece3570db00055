package plugin

import (
	"github.com/Masterminds/semver/v3"
)

// ManifestFile is the name of the manifest inside a plugin directory
const ManifestFile = "plugin.json"

// Manifest is the validated plugin.json document. It is never mutated after
// validation.
type Manifest struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Version      string      `json:"version"`
	Description  string      `json:"description"`
	Author       string      `json:"author"`
	License      string      `json:"license"`
	Permissions  Permissions `json:"permissions"`
	Entrypoint   string      `json:"entrypoint"`
	Dependencies []string    `json:"dependencies,omitempty"`

	// dir is the directory the manifest was read from; empty for builtins
	dir string
}

// Permissions declares the capabilities a plugin requests
type Permissions struct {
	Network *NetworkPermissions `json:"network,omitempty"`
	Storage *StoragePermissions `json:"storage,omitempty"`
	Hooks   []string            `json:"hooks,omitempty"`
}

// NetworkPermissions lists the domains a plugin may reach
type NetworkPermissions struct {
	AllowedDomains []string `json:"allowedDomains"`
}

// StoragePermissions bounds plugin storage
type StoragePermissions struct {
	MaxSize *int64 `json:"maxSize,omitempty"`
}

// Dir returns the plugin directory the manifest was scanned from.
func (m *Manifest) Dir() string {
	return m.dir
}

// Hooks returns the declared hook patterns.
func (m *Manifest) Hooks() []string {
	return m.Permissions.Hooks
}

// StorageMaxSize returns the declared storage quota, or nil.
func (m *Manifest) StorageMaxSize() *int64 {
	if m.Permissions.Storage == nil {
		return nil
	}
	return m.Permissions.Storage.MaxSize
}

// SemVer parses Version. Validated manifests always parse.
func (m *Manifest) SemVer() (*semver.Version, error) {
	return semver.StrictNewVersion(m.Version)
}

// withDir returns a copy of m recording dir as its source directory.
func (m *Manifest) withDir(dir string) *Manifest {
	c := *m
	c.dir = dir
	return &c
}
