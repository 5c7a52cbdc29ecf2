package trigger

import (
	"sync"

	"ordinance/internal/errs"
)

// Registry is the mutable indexed set of Triggers belonging to one
// Scheduled Callback. It enforces unique IDs and rejects structurally
// duplicate triggers of the same kind.
type Registry struct {
	mu       sync.Mutex
	byID     map[string]*Trigger
	ordering []string // insertion order, for stable iteration
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Trigger)}
}

// Add registers t, assigning an auto-generated ID if t.ID is empty.
// Fails with DuplicateTrigger if t.ID collides with an existing
// trigger, or if a structurally-equal trigger of the same kind is
// already registered.
func (r *Registry) Add(t *Trigger) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.ID == "" {
		t.ID = GenerateID()
		for _, exists := r.byID[t.ID]; exists; _, exists = r.byID[t.ID] {
			t.ID = GenerateID()
		}
	} else if _, exists := r.byID[t.ID]; exists {
		return "", errs.Newf(errs.DuplicateTrigger, nil, "trigger id %q already registered", t.ID)
	}

	for _, existing := range r.byID {
		if existing.StructurallyEqual(t) {
			return "", errs.Newf(errs.DuplicateTrigger, nil, "trigger %s already registered", t)
		}
	}

	r.byID[t.ID] = t
	r.ordering = append(r.ordering, t.ID)
	return t.ID, nil
}

// Get returns the trigger with the given ID.
func (r *Registry) Get(id string) (*Trigger, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	return t, ok
}

// All returns a stable-ordered snapshot of every registered trigger.
func (r *Registry) All() []*Trigger {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Trigger, 0, len(r.ordering))
	for _, id := range r.ordering {
		if t, ok := r.byID[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// IDIsUnique reports whether id is not currently registered.
func (r *Registry) IDIsUnique(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.byID[id]
	return !exists
}
