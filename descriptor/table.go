package descriptor

import (
	"sync"
)

// Table is the gateway's routing table: path → resource descriptor.
// Handlers only read it; refreshes after a Thing restart replace a thing's
// descriptors wholesale so no reader observes a partial update.
type Table struct {
	mu      sync.RWMutex
	byPath  map[string]*Resource
	byThing map[string][]string
}

// NewTable creates an empty routing table
func NewTable() *Table {
	return &Table{
		byPath:  make(map[string]*Resource),
		byThing: make(map[string][]string),
	}
}

// Lookup returns the descriptor routed at path
func (t *Table) Lookup(path string) (*Resource, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.byPath[path]
	return r, ok
}

// Add validates and routes one descriptor. An existing route at the same
// path is replaced.
func (t *Table) Add(r *Resource) error {
	if err := r.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.byPath[r.Path]; ok {
		t.dropFromThing(old.ThingID, r.Path)
	}
	t.byPath[r.Path] = r
	t.byThing[r.ThingID] = append(t.byThing[r.ThingID], r.Path)
	return nil
}

// ReplaceThing atomically swaps every route belonging to one thing for a
// fresh descriptor set, as produced by a routing refresh after restart.
func (t *Table) ReplaceThing(thingID string, resources []*Resource) error {
	for _, r := range resources {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, path := range t.byThing[thingID] {
		delete(t.byPath, path)
	}
	delete(t.byThing, thingID)
	for _, r := range resources {
		t.byPath[r.Path] = r
		t.byThing[thingID] = append(t.byThing[thingID], r.Path)
	}
	return nil
}

// RemoveThing drops every route belonging to one thing
func (t *Table) RemoveThing(thingID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, path := range t.byThing[thingID] {
		delete(t.byPath, path)
	}
	delete(t.byThing, thingID)
}

// Paths returns the routed paths for one thing
func (t *Table) Paths(thingID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	paths := make([]string, len(t.byThing[thingID]))
	copy(paths, t.byThing[thingID])
	return paths
}

// Len returns the number of routed descriptors
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byPath)
}

// caller holds t.mu
func (t *Table) dropFromThing(thingID, path string) {
	paths := t.byThing[thingID]
	for i, p := range paths {
		if p == path {
			t.byThing[thingID] = append(paths[:i], paths[i+1:]...)
			return
		}
	}
}
