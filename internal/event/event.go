// Package event names the reserved events the Plugin Lifecycle
// dispatches against a plugin's own Event Triggers, and wraps the
// scheduler's worker fabric behind the name the design gives this
// component: the Event Dispatcher. Firing itself reuses
// internal/scheduler.Scheduler.FireEvent, which already owns the
// loaded-plugin snapshot and the bounded worker fabric the dispatcher
// must share rather than duplicate.
package event

import (
	"context"

	"ordinance/internal/scheduler"
)

// Reserved event names the host fires on every plugin load and unload.
// Any other event name is caller-defined — typically fired by one
// plugin's callback to notify another's Event Triggers.
const (
	PluginStart = "plugin.start"
	PluginStop  = "plugin.stop"
)

// Dispatcher fires named events by iterating a stable snapshot of
// loaded plugins' Event Triggers and spawning a worker per match,
// exactly as the tick loop fires a Calendar/Delay/Periodic trigger.
// Enumeration is synchronous; execution is asynchronous — callers join
// the returned handles with their own timeout.
type Dispatcher struct {
	scheduler *scheduler.Scheduler
}

// New wraps sched as an Event Dispatcher.
func New(sched *scheduler.Scheduler) *Dispatcher {
	return &Dispatcher{scheduler: sched}
}

// Fire dispatches name against every loaded plugin's Event Triggers.
func (d *Dispatcher) Fire(ctx context.Context, name string) []*scheduler.WorkerRecord {
	return d.scheduler.FireEvent(ctx, name, "")
}

// FireScoped dispatches name against only qname's Event Triggers, used
// by the Plugin Lifecycle to target plugin.start/plugin.stop at the
// plugin being loaded or unloaded.
func (d *Dispatcher) FireScoped(ctx context.Context, name string, qname string) []*scheduler.WorkerRecord {
	return d.scheduler.FireEvent(ctx, name, qname)
}
