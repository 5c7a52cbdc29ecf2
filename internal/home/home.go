// Package home manages the Ordinance home directory layout.
//
// The home directory owns all persistent state: the configuration file,
// the plugin bundle root, and the IPv4 set store files.
//
// Layout:
//
//	<root>/
//	  ordinance.yaml                         (config file)
//	  extensions/                            (plugin bundle root)
//	    <qname>/
//	      plugin.yaml
//	      ...
//	    disabled/                            (reserved, skipped by discovery)
//	  storage/
//	    core.network.blacklist.database
//	    core.network.whitelist.database
package home

import (
	"fmt"
	"os"
	"path/filepath"
)

// Dir represents an Ordinance home directory.
type Dir struct {
	root string
}

// New creates a Dir with an explicit root path.
func New(root string) Dir {
	return Dir{root: root}
}

// Default returns a Dir using the platform-appropriate default location.
func Default() (Dir, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return Dir{}, fmt.Errorf("determine config directory: %w", err)
	}
	return Dir{root: filepath.Join(base, "ordinance")}, nil
}

// Root returns the home directory path.
func (d Dir) Root() string {
	return d.root
}

// ConfigPath returns the path to the daemon's configuration file.
func (d Dir) ConfigPath() string {
	return filepath.Join(d.root, "ordinance.yaml")
}

// PluginRoot returns the directory bundles are discovered under.
func (d Dir) PluginRoot() string {
	return filepath.Join(d.root, "extensions")
}

// StorageDir returns the directory backing the IPv4 set stores.
func (d Dir) StorageDir() string {
	return filepath.Join(d.root, "storage")
}

// BlacklistPath returns the backing file path for the blacklist store.
func (d Dir) BlacklistPath() string {
	return filepath.Join(d.StorageDir(), "core.network.blacklist.database")
}

// WhitelistPath returns the backing file path for the whitelist store.
func (d Dir) WhitelistPath() string {
	return filepath.Join(d.StorageDir(), "core.network.whitelist.database")
}

// EnsureExists creates the home directory, plugin root, and storage
// directory (and parents) if they don't exist.
func (d Dir) EnsureExists() error {
	for _, dir := range []string{d.root, d.PluginRoot(), d.StorageDir()} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
