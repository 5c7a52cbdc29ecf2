// Package discovery enumerates plugin bundles on disk, validates their
// manifests, and resolves them to an ahead-of-time-registered
// plugin.SetupFunc (see internal/plugin). It preserves the original
// filesystem layout and validation rules; only the "evaluate the
// entry source" step changes for a compiled host.
package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/bmatcuk/doublestar/v4"

	"ordinance/internal/errs"
	"ordinance/internal/manifest"
	"ordinance/internal/plugin"
)

// reservedDisabled is the one directory name discovery silently skips.
const reservedDisabled = "disabled"

// qnamePattern is the alphabet a bundle's directory name must match.
var qnamePattern = regexp.MustCompile(`^[a-z0-9.\-_+]+$`)

// Bundle is one discovered, validated-at-the-filesystem-level plugin
// directory: its qname, its parsed manifest, and the path to its
// manifest-declared entry file (used only for validation and the
// status view — it is never evaluated as source).
type Bundle struct {
	QName     string
	Root      string
	Manifest  *manifest.Manifest
	EntryPath string
}

// Scan walks root's immediate children, filters to qname-alphabet
// directory names (skipping "disabled"), and validates each candidate's
// manifest. Bundles whose qname collides with another bundle in the
// same scan are all invalidated and omitted from the result, with an
// error describing the collision returned alongside any successfully
// discovered bundles.
func Scan(root string) ([]*Bundle, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Newf(errs.PluginInvalid, err, "read plugin root %s", root)
	}

	seen := make(map[string][]string) // qname -> bundle dirs claiming it
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name == reservedDisabled {
			continue
		}
		if !qnamePattern.MatchString(name) {
			continue
		}
		seen[name] = append(seen[name], filepath.Join(root, name))
	}

	var bundles []*Bundle
	var collisionErr error
	for qname, dirs := range seen {
		if len(dirs) > 1 {
			if collisionErr == nil {
				collisionErr = errs.Newf(errs.PluginInvalid, nil, "qname %q claimed by %d bundles", qname, len(dirs))
			}
			continue
		}

		bundle, err := loadBundle(qname, dirs[0])
		if err != nil {
			// An individual bundle's validation failure does not abort
			// the scan; it is simply absent from the result. The caller
			// (lifecycle) surfaces PluginInvalid on an explicit Load of
			// that qname.
			continue
		}
		bundles = append(bundles, bundle)
	}

	return bundles, collisionErr
}

func loadBundle(qname, root string) (*Bundle, error) {
	manifestPath := filepath.Join(root, "plugin.yaml")
	m, err := manifest.Load(manifestPath)
	if err != nil {
		return nil, err
	}

	entryPath := filepath.Join(root, m.EntryFile)
	// Surface a PluginInvalid detail if the entry file itself is absent,
	// then enumerate the bundle's tree and reject a bundle with no files.
	// File sizes are not checked.
	if _, err := os.Stat(entryPath); err != nil {
		return nil, errs.Newf(errs.PluginInvalid, err, "entry file %s for qname %s", m.EntryFile, qname)
	}
	matches, err := doublestar.FilepathGlob(filepath.Join(root, "**", "*"))
	if err != nil {
		return nil, errs.Newf(errs.PluginInvalid, err, "enumerate bundle %s", qname)
	}
	if len(matches) == 0 {
		return nil, errs.New(errs.PluginInvalid, fmt.Sprintf("bundle %s has no files", qname), nil)
	}

	return &Bundle{QName: qname, Root: root, Manifest: m, EntryPath: entryPath}, nil
}

// Resolve looks up the SetupFunc registered for b.QName. A bundle with
// no registered factory fails exactly as a Python bundle missing
// setup() would: PluginEntryPointMissing.
func Resolve(b *Bundle) (plugin.SetupFunc, error) {
	setup, ok := plugin.Lookup(b.QName)
	if !ok {
		return nil, errs.New(errs.PluginEntryPointMissing, b.QName, nil)
	}
	return setup, nil
}
