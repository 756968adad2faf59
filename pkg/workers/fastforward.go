package workers

import (
	"sync"

	"github.com/cuemby/flux/pkg/document"
	"github.com/cuemby/flux/pkg/textindex"
)

// FastForwardRegistry drives every search index's textindex.Worker so
// flushing and compaction stay off the commit path while fast-forward still
// advances an idle index's snapshot timestamp instead of leaving it stuck.
// Register is called once per text index as it transitions to Enabled;
// Unregister stops its worker when the index is dropped.
type FastForwardRegistry struct {
	mu      sync.Mutex
	workers map[document.IndexID]*textindex.Worker
}

func NewFastForwardRegistry() *FastForwardRegistry {
	return &FastForwardRegistry{workers: make(map[document.IndexID]*textindex.Worker)}
}

func (r *FastForwardRegistry) Register(id document.IndexID, w *textindex.Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.workers[id]; ok {
		existing.Stop()
	}
	r.workers[id] = w
	w.Start()
}

func (r *FastForwardRegistry) Unregister(id document.IndexID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[id]; ok {
		w.Stop()
		delete(r.workers, id)
	}
}

// StopAll stops every registered worker, for clean shutdown.
func (r *FastForwardRegistry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, w := range r.workers {
		w.Stop()
		delete(r.workers, id)
	}
}
