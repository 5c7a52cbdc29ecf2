// Package lifecycle implements Ordinance's Plugin Lifecycle (§4.8): the
// only path by which a discovered bundle becomes a running Instance
// registered with the scheduler, and by which a running Instance is
// torn down again. Every other subsystem reaches a plugin's triggers,
// commands, and instance value only through the registries Lifecycle
// installs into and evicts from. Lifecycle's mutex guards only its
// bundle and loaded maps and is not held while Setup runs; concurrent
// Loads of one qname are serialized through loadGroup instead.
package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ordinance/internal/callgroup"
	"ordinance/internal/discovery"
	"ordinance/internal/errs"
	"ordinance/internal/event"
	"ordinance/internal/logging"
	"ordinance/internal/manifest"
	"ordinance/internal/plugin"
	"ordinance/internal/scheduler"
)

const stopDrainTimeout = 5 * time.Second

// Lifecycle owns the set of currently loaded plugins and the most
// recent Rescan snapshot of bundles known on disk.
type Lifecycle struct {
	pluginRoot string
	sched      *scheduler.Scheduler
	dispatcher *event.Dispatcher
	logger     *slog.Logger

	mu      sync.Mutex
	bundles map[string]*discovery.Bundle
	loaded  map[string]*plugin.Instance

	loadGroup callgroup.Group[string]
}

// New constructs a Lifecycle bound to pluginRoot. Callers must call
// Rescan at least once before Load will find any bundle "known".
func New(pluginRoot string, sched *scheduler.Scheduler, dispatcher *event.Dispatcher, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{
		pluginRoot: pluginRoot,
		sched:      sched,
		dispatcher: dispatcher,
		logger:     logging.Default(logger).With("component", "lifecycle"),
		bundles:    make(map[string]*discovery.Bundle),
		loaded:     make(map[string]*plugin.Instance),
	}
}

// Rescan re-enumerates pluginRoot and replaces the known-bundle
// snapshot. It does not affect already-loaded plugins, which remain
// loaded even if their bundle directory has since disappeared.
func (l *Lifecycle) Rescan() error {
	bundles, err := discovery.Scan(l.pluginRoot)
	if err != nil && len(bundles) == 0 {
		return err
	}

	byQName := make(map[string]*discovery.Bundle, len(bundles))
	for _, b := range bundles {
		byQName[b.QName] = b
	}

	l.mu.Lock()
	l.bundles = byQName
	l.mu.Unlock()
	return err
}

// Known reports whether qname was present in the most recent Rescan.
func (l *Lifecycle) Known(qname string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.bundles[qname]
	return ok
}

// KnownQNames returns the qnames discovered by the most recent Rescan,
// regardless of whether they are currently loaded.
func (l *Lifecycle) KnownQNames() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.bundles))
	for qname := range l.bundles {
		out = append(out, qname)
	}
	return out
}

// Loaded reports whether qname currently has a running Instance.
func (l *Lifecycle) Loaded(qname string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.loaded[qname]
	return ok
}

// LoadedQNames returns the qnames of every currently loaded plugin, for
// the status view.
func (l *Lifecycle) LoadedQNames() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.loaded))
	for qname := range l.loaded {
		out = append(out, qname)
	}
	return out
}

// Instance returns qname's running Instance, if loaded.
func (l *Lifecycle) Instance(qname string) (*plugin.Instance, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	inst, ok := l.loaded[qname]
	return inst, ok
}

// Load resolves qname's bundle to its registered factory, runs Setup,
// and installs the resulting Instance into the scheduler. On success it
// dispatches plugin.start scoped to qname. Preconditions: qname must be
// known (from the last Rescan) and not already loaded.
//
// Concurrent Load calls for the same qname are deduplicated through
// loadGroup so Setup never runs twice for one bundle: the first caller
// does the work and every other caller waits for its result instead of
// starting a second, independent Instance.
func (l *Lifecycle) Load(ctx context.Context, qname string, overrideConfig map[string]any) error {
	l.mu.Lock()
	bundle, known := l.bundles[qname]
	_, alreadyLoaded := l.loaded[qname]
	l.mu.Unlock()

	if !known {
		return errs.New(errs.PluginNotFound, qname, nil)
	}
	if alreadyLoaded {
		return errs.New(errs.PluginAlreadyLoaded, qname, nil)
	}

	return <-l.loadGroup.DoChan(qname, func() error {
		// A caller that passed the check above after an earlier Load had
		// finished (and left loadGroup) must not run Setup again.
		l.mu.Lock()
		_, loadedNow := l.loaded[qname]
		l.mu.Unlock()
		if loadedNow {
			return errs.New(errs.PluginAlreadyLoaded, qname, nil)
		}

		setup, err := discovery.Resolve(bundle)
		if err != nil {
			l.logger.Error("plugin resolution failed", "qname", qname, "error", err)
			return err
		}

		config := manifest.Merge(bundle.Manifest.DefaultConfig, overrideConfig)
		meta := plugin.Metadata{
			Name:        bundle.Manifest.Name,
			Author:      bundle.Manifest.Author,
			Description: bundle.Manifest.Description,
			Version:     bundle.Manifest.Version,
		}

		inst, err := plugin.Load(qname, setup, config, meta)
		if err != nil {
			l.logger.Error("plugin setup failed", "qname", qname, "error", err)
			return errs.Newf(errs.PluginLoadingFailed, err, "setup for %s", qname)
		}

		l.mu.Lock()
		l.loaded[qname] = inst
		l.mu.Unlock()
		l.sched.RegisterPlugin(qname, inst)

		l.dispatcher.FireScoped(ctx, event.PluginStart, qname)
		l.logger.Info("plugin loaded", "qname", qname)
		return nil
	})
}

// Unload dispatches plugin.stop scoped to qname, joins the spawned
// workers with a 5-second drain timeout (dropping stragglers with a
// warn log), then evicts qname's triggers, commands, and instance.
// Preconditions: qname must be known and currently loaded. Unload is
// final — a subsequent Load re-invokes Setup from scratch.
func (l *Lifecycle) Unload(ctx context.Context, qname string) error {
	l.mu.Lock()
	_, loaded := l.loaded[qname]
	l.mu.Unlock()
	if !loaded {
		return errs.New(errs.PluginNotFound, qname, nil)
	}

	handles := l.dispatcher.FireScoped(ctx, event.PluginStop, qname)
	for _, h := range handles {
		if !h.Join(stopDrainTimeout) {
			l.logger.Warn("dropping plugin.stop worker at unload drain timeout", "qname", qname)
		}
	}

	l.sched.UnregisterPlugin(qname)
	l.mu.Lock()
	delete(l.loaded, qname)
	l.mu.Unlock()

	l.logger.Info("plugin unloaded", "qname", qname)
	return nil
}
