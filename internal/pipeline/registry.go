package pipeline

import "sync"

// Registry tracks the live orchestrator of each project
type Registry struct {
	mu    sync.Mutex
	items map[string]*Orchestrator
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]*Orchestrator)}
}

// Reserve registers the orchestrator built by create for projectID. It
// returns ErrAlreadyRunning when one is already registered; create is not
// called in that case.
func (r *Registry) Reserve(projectID string, create func() *Orchestrator) (*Orchestrator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[projectID]; ok {
		return nil, ErrAlreadyRunning
	}
	o := create()
	r.items[projectID] = o
	return o, nil
}

// Get returns the live orchestrator for projectID, if any
func (r *Registry) Get(projectID string) (*Orchestrator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.items[projectID]
	return o, ok
}

// Release removes o if it is still the registered orchestrator
func (r *Registry) Release(projectID string, o *Orchestrator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.items[projectID] == o {
		delete(r.items, projectID)
	}
}

// Len returns the number of live orchestrators
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// AbortAll aborts every live orchestrator
func (r *Registry) AbortAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.items {
		o.Abort()
	}
}
