// Package logbus implements Ordinance's plugin-facing log bus: a
// multi-sink fan-out distinct from the daemon's own internal diagnostic
// logger (see internal/logging). Plugins and core components send
// Messages to a Bus; the Bus forwards each to every enabled Sink. The
// Bus applies no level filter: every enabled sink receives every
// message, whatever its Level.
//
// No concrete sinks live in this package — only the contract, the
// named-sink registry, and the fan-out engine. Concrete sinks (file,
// syslog, desktop notification, email, stdout) are out of scope and
// register themselves into a Bus's registry the same way a plugin
// registers a factory: by name, ahead of time.
package logbus

import (
	"sync"
	"time"

	"ordinance/internal/errs"
)

// Level is a bitmask severity: each level is a distinct bit. The Bus
// carries the Level on each Message but does not filter on it.
type Level uint8

const (
	Debug    Level = 1 << iota // 1
	Info                       // 2
	Success                    // 4
	Warn                       // 8
	Error                      // 16
	Critical                   // 32
	Alert                      // 64
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Success:
		return "success"
	case Warn:
		return "warn"
	case Error:
		return "error"
	case Critical:
		return "critical"
	case Alert:
		return "alert"
	default:
		return "unknown"
	}
}

// Message is one entry fanned out to every enabled sink.
type Message struct {
	Level   Level
	Source  string // qname of the emitting plugin, or "core"
	Text    string
	Time    time.Time
}

// Sink receives fanned-out messages. Handle is called once per message
// under the sink's own lock, so implementations see a totally ordered
// stream and need not synchronize internally for ordering (though they
// may still need locks for other shared state). Close releases any
// resources the sink holds; it is called at most once.
type Sink interface {
	Handle(Message) error
	Close() error
}

// Factory constructs a Sink from a per-sink configuration map, the
// shape every concrete sink registers under its name.
type Factory func(config map[string]any) (Sink, error)

type enabledSink struct {
	mu   sync.Mutex
	sink Sink
}

// Bus fans out messages to a set of enabled sinks, each under its own
// lock so concurrent producers never interleave writes within a single
// sink.
type Bus struct {
	mu        sync.RWMutex
	factories map[string]Factory
	enabled   map[string]*enabledSink
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{
		factories: make(map[string]Factory),
		enabled:   make(map[string]*enabledSink),
	}
}

// Register adds a named sink constructor to the bus's known-types map.
// Concrete sink packages call this from an init() function, mirroring
// the bundle registry in internal/plugin.
func (b *Bus) Register(name string, factory Factory) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.factories[name] = factory
}

// Enable constructs and activates the named sink with the given
// configuration. Enabling an already-enabled sink fails with
// SinkAlreadyEnabled; enabling an unregistered name fails with
// SinkNotFound.
func (b *Bus) Enable(name string, config map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.enabled[name]; ok {
		return errs.New(errs.SinkAlreadyEnabled, name, nil)
	}
	factory, ok := b.factories[name]
	if !ok {
		return errs.New(errs.SinkNotFound, name, nil)
	}
	sink, err := factory(config)
	if err != nil {
		return errs.Newf(errs.SinkNotFound, err, "construct sink %s", name)
	}
	b.enabled[name] = &enabledSink{sink: sink}
	return nil
}

// Disable closes and removes the named sink. Disabling a name with no
// registered factory fails with SinkNotFound; disabling a registered
// but not-currently-enabled sink fails with SinkAlreadyDisabled.
func (b *Bus) Disable(name string) error {
	b.mu.Lock()
	es, ok := b.enabled[name]
	if !ok {
		_, registered := b.factories[name]
		b.mu.Unlock()
		if registered {
			return errs.New(errs.SinkAlreadyDisabled, name, nil)
		}
		return errs.New(errs.SinkNotFound, name, nil)
	}
	delete(b.enabled, name)
	b.mu.Unlock()

	es.mu.Lock()
	defer es.mu.Unlock()
	return es.sink.Close()
}

// Enabled reports the names of currently enabled sinks.
func (b *Bus) Enabled() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.enabled))
	for name := range b.enabled {
		names = append(names, name)
	}
	return names
}

// Publish fans Message out to every enabled sink. A sink error is
// swallowed into the bus's own diagnostic path by the caller (the Core
// Orchestrator logs sink failures at warn); Publish itself returns the
// first error encountered, after attempting every sink.
func (b *Bus) Publish(msg Message) error {
	b.mu.RLock()
	sinks := make([]*enabledSink, 0, len(b.enabled))
	for _, es := range b.enabled {
		sinks = append(sinks, es)
	}
	b.mu.RUnlock()

	var first error
	for _, es := range sinks {
		es.mu.Lock()
		err := es.sink.Handle(msg)
		es.mu.Unlock()
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close closes every enabled sink, collecting and returning the first
// error encountered while still attempting every sink. Called during
// Core shutdown.
func (b *Bus) Close() error {
	b.mu.Lock()
	sinks := b.enabled
	b.enabled = make(map[string]*enabledSink)
	b.mu.Unlock()

	var first error
	for _, es := range sinks {
		es.mu.Lock()
		err := es.sink.Close()
		es.mu.Unlock()
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}
