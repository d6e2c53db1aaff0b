package engine

import (
	"sort"
	"sync"

	"github.com/regygeorge/nx-workflow/internal/process"
)

// Definitions caches deployed process definitions by id. Each Engine owns one,
// so engines in the same process never see each other's deployments.
type Definitions struct {
	mu   sync.RWMutex
	defs map[string]*process.Definition
}

// NewDefinitions creates an empty cache.
func NewDefinitions() *Definitions {
	return &Definitions{defs: make(map[string]*process.Definition)}
}

// Put stores def, replacing any definition with the same id.
func (d *Definitions) Put(def *process.Definition) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.defs[def.ID] = def
}

// Get returns the definition deployed under id.
func (d *Definitions) Get(id string) (*process.Definition, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	def, ok := d.defs[id]
	return def, ok
}

// IDs returns the deployed ids in sorted order.
func (d *Definitions) IDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.defs))
	for id := range d.defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of cached definitions.
func (d *Definitions) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.defs)
}
