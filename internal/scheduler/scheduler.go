// Package scheduler implements Ordinance's tick-driven trigger
// scheduler: a single dedicated tick-loop goroutine that evaluates
// every loaded plugin's registered Triggers each tick and spawns a
// bounded worker per firing.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"ordinance/internal/logging"
	"ordinance/internal/plugin"
	"ordinance/internal/trigger"
)

// DefaultTickInterval and DefaultSubtickInterval match the source
// implementation's defaults.
const (
	DefaultTickInterval    = 30 * time.Second
	DefaultSubtickInterval = 5 * time.Second
	// DefaultMaxConcurrentFirings bounds the worker fabric; a firing
	// that cannot acquire a slot is dropped with a warn log rather than
	// spawning an unbounded goroutine, per the design note.
	DefaultMaxConcurrentFirings = 256
	drainTimeout                = 5 * time.Second
)

// WorkerRecord represents one in-flight firing.
type WorkerRecord struct {
	ID        uuid.UUID
	TriggerID string
	Daemonic  bool
	done      chan struct{}
}

// entry is one loaded plugin's contribution to the scheduler: its
// instance (passed to every fired callback) and its scheduled
// callbacks (each with its own trigger registry).
type entry struct {
	instance  *plugin.Instance
	scheduled []*plugin.ScheduledCallback
}

// Scheduler runs the tick loop and owns the active-worker list.
type Scheduler struct {
	tickInterval    time.Duration
	subtickInterval time.Duration
	granularity     time.Duration

	now func() time.Time

	sem *semaphore.Weighted

	logger *slog.Logger

	mu      sync.Mutex
	plugins map[string]*entry

	activeMu sync.Mutex
	active   []*WorkerRecord

	delayFiredMu sync.Mutex
	delayFired   map[string]bool

	running chan struct{} // closed once the tick loop has exited
	stop    chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTickInterval overrides the coarse firing cadence.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.tickInterval = d; s.granularity = d / 2 }
}

// WithSubtickInterval overrides the loop's polling granularity.
func WithSubtickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.subtickInterval = d }
}

// WithMaxConcurrentFirings overrides the worker fabric's bound.
func WithMaxConcurrentFirings(n int64) Option {
	return func(s *Scheduler) { s.sem = semaphore.NewWeighted(n) }
}

// WithClock overrides the wall-clock source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLogger overrides the scheduler's diagnostic logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// New constructs a Scheduler with the given options applied over the
// source implementation's defaults.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		tickInterval:    DefaultTickInterval,
		subtickInterval: DefaultSubtickInterval,
		granularity:     DefaultTickInterval / 2,
		now:             time.Now,
		sem:             semaphore.NewWeighted(DefaultMaxConcurrentFirings),
		logger:          logging.Discard(),
		plugins:         make(map[string]*entry),
		delayFired:      make(map[string]bool),
		running:         make(chan struct{}),
		stop:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterPlugin installs a loaded plugin's scheduled callbacks into
// the tick loop. Called by the Plugin Lifecycle after a successful
// Load.
func (s *Scheduler) RegisterPlugin(qname string, inst *plugin.Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plugins[qname] = &entry{instance: inst, scheduled: inst.Scheduled}
}

// UnregisterPlugin removes qname's scheduled callbacks from the tick
// loop. After this returns, no future tick will fire a Trigger
// belonging to qname, satisfying the post-unload invariant.
func (s *Scheduler) UnregisterPlugin(qname string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.plugins, qname)
}

// loadedEntries returns a stable snapshot of currently loaded plugins.
func (s *Scheduler) loadedEntries() map[string]*entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*entry, len(s.plugins))
	for k, v := range s.plugins {
		out[k] = v
	}
	return out
}

// Run starts the tick loop. It blocks until Stop is called or ctx is
// canceled; callers typically run it in its own goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.running)

	schedulerStart := s.now()
	lastTick := time.Now() // monotonic reference; time.Since uses the monotonic reading

	for {
		select {
		case <-s.stop:
			s.drain()
			return
		case <-ctx.Done():
			s.drain()
			return
		case <-time.After(s.subtickInterval):
		}

		if time.Since(lastTick) < s.tickInterval {
			continue
		}
		lastTick = time.Now()

		tickWorkStart := time.Now()
		nowT := s.now()
		totalElapsed := nowT.Sub(schedulerStart)

		s.pruneActive()
		s.fireTick(ctx, nowT, totalElapsed)

		tickWorkElapsed := time.Since(tickWorkStart)
		sleepFor := s.subtickInterval - tickWorkElapsed
		if sleepFor < 0 {
			sleepFor = 0
		}
		select {
		case <-s.stop:
			s.drain()
			return
		case <-ctx.Done():
			s.drain()
			return
		case <-time.After(sleepFor):
		}
	}
}

// Stop signals the tick loop to exit after draining active workers. It
// returns once the loop has fully exited.
func (s *Scheduler) Stop() {
	select {
	case <-s.stop:
		// already stopped
	default:
		close(s.stop)
	}
	<-s.running
}

func (s *Scheduler) fireTick(ctx context.Context, now time.Time, totalElapsed time.Duration) {
	for qname, e := range s.loadedEntries() {
		for _, sc := range e.scheduled {
			for _, t := range sc.Triggers.All() {
				fire, err := s.shouldFire(t, now, totalElapsed)
				if err != nil {
					s.logger.Warn("should-fire predicate failed", "qname", qname, "trigger", t.ID, "error", err)
					continue
				}
				if !fire {
					continue
				}
				s.spawn(ctx, qname, e.instance, sc, t)
			}
		}
	}
}

func (s *Scheduler) shouldFire(t *trigger.Trigger, now time.Time, totalElapsed time.Duration) (bool, error) {
	switch t.Kind {
	case trigger.Calendar:
		return t.ShouldFireCalendar(now, s.granularity)
	case trigger.Delay:
		s.delayFiredMu.Lock()
		defer s.delayFiredMu.Unlock()
		if s.delayFired[t.ID] {
			return false, nil
		}
		// The first tick is the only one with totalElapsed under two tick
		// intervals. A delay of at most one granularity already lies before
		// that tick's window, so it fires on the first tick instead.
		target := time.Duration(t.DelaySec * float64(time.Second))
		firstTick := totalElapsed < 2*s.tickInterval
		if t.ShouldFireDelay(totalElapsed, s.granularity) || (target <= s.granularity && firstTick) {
			s.delayFired[t.ID] = true
			return true, nil
		}
		return false, nil
	case trigger.Periodic:
		return t.ShouldFirePeriodic(totalElapsed, s.granularity), nil
	case trigger.Event:
		return false, nil // event triggers never fire from the tick loop
	default:
		return false, nil
	}
}

// spawn fires one callback in a bounded worker. If the worker fabric
// is saturated, the firing is dropped with a warn log rather than
// spawning an unbounded goroutine.
func (s *Scheduler) spawn(ctx context.Context, qname string, inst *plugin.Instance, sc *plugin.ScheduledCallback, t *trigger.Trigger) *WorkerRecord {
	if !s.sem.TryAcquire(1) {
		s.logger.Warn("worker fabric saturated, dropping firing", "qname", qname, "trigger", t.ID, "callback", sc.Name)
		return nil
	}

	rec := &WorkerRecord{ID: uuid.New(), TriggerID: t.ID, Daemonic: t.Daemonic, done: make(chan struct{})}
	s.activeMu.Lock()
	s.active = append(s.active, rec)
	s.activeMu.Unlock()

	s.logger.Info("firing trigger", "qname", qname, "trigger", t.ID, "callback", sc.Name, "daemonic", t.Daemonic)

	go func() {
		defer s.sem.Release(1)
		defer close(rec.done)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("scheduled callback panicked", "qname", qname, "callback", sc.Name, "panic", fmt.Sprint(r))
			}
		}()
		if err := sc.Fn(ctx, inst.Value); err != nil {
			s.logger.Error("scheduled callback failed", "qname", qname, "callback", sc.Name, "error", err)
		}
	}()

	return rec
}

func (s *Scheduler) pruneActive() {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	alive := s.active[:0]
	for _, rec := range s.active {
		select {
		case <-rec.done:
			// completed; drop it
		default:
			alive = append(alive, rec)
		}
	}
	s.active = alive
}

// drain joins each surviving worker with a bounded timeout and drops
// any that do not finish in time.
func (s *Scheduler) drain() {
	s.activeMu.Lock()
	survivors := s.active
	s.active = nil
	s.activeMu.Unlock()

	deadline := time.After(drainTimeout)
	for _, rec := range survivors {
		select {
		case <-rec.done:
		case <-deadline:
			if rec.Daemonic {
				s.logger.Info("dropping daemonic worker at shutdown", "trigger", rec.TriggerID)
			} else {
				s.logger.Warn("dropping non-daemonic worker at shutdown", "trigger", rec.TriggerID)
			}
		}
	}
}

// ActiveWorkers returns the number of currently tracked in-flight
// firings, for the status view.
func (s *Scheduler) ActiveWorkers() int {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	return len(s.active)
}

// Join blocks until the worker completes or timeout elapses, reporting
// which happened.
func (rec *WorkerRecord) Join(timeout time.Duration) (completed bool) {
	select {
	case <-rec.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// FireEvent implements the Event Dispatcher (spec §4.7): it iterates a
// stable snapshot of loaded plugins' Event Triggers whose Event name
// matches, spawning a worker per match exactly as the tick loop does,
// and returns the spawned handles for the caller to join. When
// scopeQName is non-empty, only that plugin's triggers are considered —
// used by the Plugin Lifecycle to target plugin.start/plugin.stop at a
// single qname.
func (s *Scheduler) FireEvent(ctx context.Context, event string, scopeQName string) []*WorkerRecord {
	var handles []*WorkerRecord
	for qname, e := range s.loadedEntries() {
		if scopeQName != "" && qname != scopeQName {
			continue
		}
		for _, sc := range e.scheduled {
			for _, t := range sc.Triggers.All() {
				if t.Kind != trigger.Event || t.Event != event {
					continue
				}
				if rec := s.spawn(ctx, qname, e.instance, sc, t); rec != nil {
					handles = append(handles, rec)
				}
			}
		}
	}
	return handles
}
