package journal

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Registry is the set of journals mounted by a process.
type Registry struct {
	mu       sync.RWMutex
	journals map[uuid.UUID]*Journal
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{journals: make(map[uuid.UUID]*Journal)}
}

// Add registers j under its id.
func (r *Registry) Add(j *Journal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.journals[j.ID()] = j
}

// Remove forgets the journal with the given id.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.journals, id)
}

// Get returns the journal with the given id.
func (r *Registry) Get(id uuid.UUID) (*Journal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.journals[id]
	return j, ok
}

// List returns all registered journals ordered by mount time.
func (r *Registry) List() []*Journal {
	r.mu.RLock()
	list := make([]*Journal, 0, len(r.journals))
	for _, j := range r.journals {
		list = append(list, j)
	}
	r.mu.RUnlock()
	sort.Slice(list, func(a, b int) bool {
		return list[a].mounted.Before(list[b].mounted)
	})
	return list
}
