// Package registry holds the shared coordinate frame tree.
package registry

import (
	"sort"
	"sync"

	"github.com/OCAP2/teachingmarkers/pkg/core"
)

// Registry maps child frame ids to their frame entries.
// The lock is held only while copying or replacing entries.
type Registry struct {
	mu     sync.RWMutex
	frames map[string]core.FrameEntry
}

// New creates a registry seeded with the given frames.
func New(seed ...core.FrameEntry) *Registry {
	r := &Registry{
		frames: make(map[string]core.FrameEntry, len(seed)),
	}
	for _, f := range seed {
		r.frames[f.ChildFrameID] = f
	}
	return r
}

// Insert stores the entry under its child frame id, replacing any previous entry.
func (r *Registry) Insert(entry core.FrameEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames[entry.ChildFrameID] = entry
}

// Get retrieves a frame by child id
func (r *Registry) Get(child string) (core.FrameEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.frames[child]
	return f, ok
}

// Len returns the number of frames.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.frames)
}

// Snapshot returns an independent copy of all frames.
func (r *Registry) Snapshot() map[string]core.FrameEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]core.FrameEntry, len(r.frames))
	for k, v := range r.frames {
		out[k] = v
	}
	return out
}

// List returns a snapshot ordered by child frame id.
func (r *Registry) List() []core.FrameEntry {
	return sorted(r.Snapshot(), func(core.FrameEntry) bool { return true })
}

// Static returns the snapshot entries eligible for static broadcast,
// ordered by child frame id.
func Static(snapshot map[string]core.FrameEntry) []core.FrameEntry {
	return sorted(snapshot, core.FrameEntry.Static)
}

func sorted(frames map[string]core.FrameEntry, keep func(core.FrameEntry) bool) []core.FrameEntry {
	out := make([]core.FrameEntry, 0, len(frames))
	for _, f := range frames {
		if keep(f) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ChildFrameID < out[j].ChildFrameID
	})
	return out
}
