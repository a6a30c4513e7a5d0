package channel

import "sync"

// Registry maps a recording id to the handles currently watching it.
// It only tracks membership; transports own the handle lifetime.
type Registry struct {
	mu      sync.Mutex
	handles map[string]map[string]Handle
}

func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]map[string]Handle)}
}

// Add registers h under recordingID.
func (r *Registry) Add(recordingID string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.handles[recordingID]
	if !ok {
		set = make(map[string]Handle)
		r.handles[recordingID] = set
	}
	set[h.ID()] = h
}

// Remove drops h and reports whether it was registered. The recording entry
// is kept even when it becomes empty.
func (r *Registry) Remove(recordingID string, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.handles[recordingID]
	if !ok {
		return false
	}
	if _, ok := set[h.ID()]; !ok {
		return false
	}
	delete(set, h.ID())
	return true
}

// RemoveAll deletes the recording entry and returns the handles it held.
func (r *Registry) RemoveAll(recordingID string) []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.handles[recordingID]
	delete(r.handles, recordingID)
	return values(set)
}

// Snapshot returns the handles registered for recordingID.
func (r *Registry) Snapshot(recordingID string) []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return values(r.handles[recordingID])
}

// Drain removes every entry and returns all handles.
func (r *Registry) Drain() []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []Handle
	for id, set := range r.handles {
		all = append(all, values(set)...)
		delete(r.handles, id)
	}
	return all
}

func values(set map[string]Handle) []Handle {
	out := make([]Handle, 0, len(set))
	for _, h := range set {
		out = append(out, h)
	}
	return out
}
