// Package plugin defines the bundle registry, the host API a bundle's
// setup function uses to register scheduled callbacks and commands, and
// the runtime representation of a loaded plugin instance.
//
// Go cannot evaluate arbitrary source discovered on disk the way the
// original daemon does, so plugin code ships as ordinary compiled-in Go
// packages that call Register from an init() function — the same
// ahead-of-time pattern database/sql drivers use. Filesystem discovery
// (internal/discovery) still walks the bundle root and validates each
// plugin.yaml; it looks up the already-registered SetupFunc by qname
// instead of dynamically loading source.
package plugin

import (
	"fmt"
	"sync"
)

// SetupFunc is a bundle's entry point. It receives a Host for
// registering scheduled callbacks and commands and the bundle's merged
// configuration, and returns an opaque instance value the host retains
// for the plugin's lifetime (and passes back into each fired callback).
type SetupFunc func(h *Host, config map[string]any) (instance any, err error)

var (
	registryMu sync.Mutex
	registry   = make(map[string]SetupFunc)
)

// Register adds a qname's SetupFunc to the process-wide bundle
// registry. Intended to be called from a bundle package's init().
// Calling Register twice for the same qname panics at program init
// time, the same failure mode database/sql driver registration uses
// for a duplicate driver name.
func Register(qname string, setup SetupFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[qname]; exists {
		panic(fmt.Sprintf("plugin: Register called twice for qname %q", qname))
	}
	registry[qname] = setup
}

// Lookup returns the registered SetupFunc for qname, if any.
func Lookup(qname string) (SetupFunc, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	setup, ok := registry[qname]
	return setup, ok
}

// Registered returns the qnames with a registered SetupFunc, for
// diagnostics and the status view.
func Registered() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	out := make([]string, 0, len(registry))
	for qname := range registry {
		out = append(out, qname)
	}
	return out
}
