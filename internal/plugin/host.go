package plugin

import (
	"context"
	"sync"

	"ordinance/internal/errs"
	"ordinance/internal/trigger"
)

// CallbackFunc is a scheduled callback body. It receives the plugin's
// own instance value (as attached by the host) so the callback can
// reach whatever state Setup constructed.
type CallbackFunc func(ctx context.Context, instance any) error

// CommandFunc implements one of a plugin's command-bearing callbacks.
// Registered commands are carried on the loaded Instance; the Core
// Orchestrator's command grammar does not dispatch to them.
type CommandFunc func(ctx context.Context, instance any, args []string) (string, error)

// ScheduledCallback pairs a callback with the mutable indexed set of
// Triggers that fire it — the target of the host's fluent
// registration API, replacing the Python decorator pattern.
type ScheduledCallback struct {
	Name     string
	Fn       CallbackFunc
	Triggers *trigger.Registry
}

func newScheduledCallback(name string, fn CallbackFunc) *ScheduledCallback {
	return &ScheduledCallback{Name: name, Fn: fn, Triggers: trigger.NewRegistry()}
}

// AddCalendar registers a Calendar trigger on this callback.
func (s *ScheduledCallback) AddCalendar(alignTo trigger.Align, secondsInto float64, id string, daemonic bool) (string, error) {
	t, err := trigger.NewCalendar(alignTo, secondsInto, id, daemonic)
	if err != nil {
		return "", err
	}
	return s.Triggers.Add(t)
}

// AddDelay registers a one-shot Delay trigger on this callback.
func (s *ScheduledCallback) AddDelay(delaySec float64, id string, daemonic bool) (string, error) {
	return s.Triggers.Add(trigger.NewDelay(delaySec, id, daemonic))
}

// AddPeriodic registers a Periodic trigger on this callback.
func (s *ScheduledCallback) AddPeriodic(periodSec float64, id string, daemonic bool) (string, error) {
	return s.Triggers.Add(trigger.NewPeriodic(periodSec, id, daemonic))
}

// AddEvent registers an Event trigger on this callback.
func (s *ScheduledCallback) AddEvent(event string, id string, daemonic bool) (string, error) {
	return s.Triggers.Add(trigger.NewEvent(event, id, daemonic))
}

// Host is the narrow API a bundle's SetupFunc uses to register
// scheduled callbacks and commands during construction, replacing the
// reflection-and-decorator extraction step of the source
// implementation with explicit calls.
type Host struct {
	qname string

	mu        sync.Mutex
	scheduled []*ScheduledCallback
	commands  map[string]CommandFunc
}

func newHost(qname string) *Host {
	return &Host{qname: qname, commands: make(map[string]CommandFunc)}
}

// QName returns the bundle's qname, useful for a plugin that wants to
// namespace its own log lines or state.
func (h *Host) QName() string { return h.qname }

// Schedule creates and registers a new ScheduledCallback named name
// wrapping fn. The returned value is used to attach Triggers.
func (h *Host) Schedule(name string, fn CallbackFunc) *ScheduledCallback {
	sc := newScheduledCallback(name, fn)
	h.mu.Lock()
	h.scheduled = append(h.scheduled, sc)
	h.mu.Unlock()
	return sc
}

// Command registers a named command-bearing callback. Registering the
// same name twice for one bundle fails with PluginInvalid.
func (h *Host) Command(name string, fn CommandFunc) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.commands[name]; exists {
		return errs.Newf(errs.PluginInvalid, nil, "command %q already registered", name)
	}
	h.commands[name] = fn
	return nil
}

func (h *Host) scheduledCallbacks() []*ScheduledCallback {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*ScheduledCallback, len(h.scheduled))
	copy(out, h.scheduled)
	return out
}

func (h *Host) commandSet() map[string]CommandFunc {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]CommandFunc, len(h.commands))
	for k, v := range h.commands {
		out[k] = v
	}
	return out
}
