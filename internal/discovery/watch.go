package discovery

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"

	"ordinance/internal/logging"
	"ordinance/internal/notify"
)

// Watcher watches a plugin root for bundles appearing or disappearing
// and raises a Signal so the Core Orchestrator can rescan. It never
// triggers a rescan of an already-running plugin's callback code —
// hot-reloading loaded callbacks remains out of scope.
type Watcher struct {
	watcher *fsnotify.Watcher
	changed *notify.Signal
	logger  *slog.Logger
	done    chan struct{}
}

// NewWatcher starts watching root for entries being created, removed,
// or renamed. Only root itself is watched; changes inside an existing
// bundle directory do not raise the Signal.
func NewWatcher(root string, logger *slog.Logger) (*Watcher, error) {
	logger = logging.Default(logger).With("component", "discovery.watcher")

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(root); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		watcher: fw,
		changed: notify.NewSignal(),
		logger:  logger,
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.logger.Debug("plugin root changed, signaling rescan", "event", event.String())
				w.changed.Notify()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// Changed returns a channel closed the next time the plugin root
// changes. Callers should re-call Changed after each wakeup.
func (w *Watcher) Changed() <-chan struct{} {
	return w.changed.C()
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
