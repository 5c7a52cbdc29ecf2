package config

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"

	"ordinance/internal/logging"
	"ordinance/internal/notify"
)

// Watcher watches a configuration file for changes and reloads it,
// publishing only the two hot-reloadable sections: writers.* and
// plugin.<qname>. Core's scheduler cadence and the API bind address are
// read once at boot and are not live-reloaded, since they govern
// already-running goroutines and listeners.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	changed *notify.Signal
	logger  *slog.Logger

	latest *Config
	done   chan struct{}
}

// NewWatcher starts watching path. The initial parse result is
// returned so callers don't need a separate Load call.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, *Config, error) {
	logger = logging.Default(logger).With("component", "config.watcher")

	cfg, err := Load(path)
	if err != nil {
		return nil, nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, nil, err
	}

	w := &Watcher{
		path:    path,
		watcher: fw,
		changed: notify.NewSignal(),
		logger:  logger,
		latest:  cfg,
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, cfg, nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warn("config reload failed, keeping previous configuration", "error", err)
				continue
			}
			w.latest = cfg
			w.logger.Info("configuration reloaded", "path", w.path)
			w.changed.Notify()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// Writers returns the most recently reloaded writers section.
func (w *Watcher) Writers() WritersConfig {
	return w.latest.Writers
}

// PluginConfig returns the most recently reloaded override mapping for
// qname.
func (w *Watcher) PluginConfig(qname string) map[string]any {
	return w.latest.PluginConfig(qname)
}

// Changed returns a channel closed the next time the file is reloaded.
func (w *Watcher) Changed() <-chan struct{} {
	return w.changed.C()
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
