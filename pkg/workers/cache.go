package workers

import (
	"sync"
	"time"

	"github.com/cuemby/flux/pkg/document"
)

// IndexLoader fetches an index's current metadata document, typically from
// the system tablet via the persistence log.
type IndexLoader func(id document.IndexID) (document.IndexDefinition, bool, error)

// IndexCache keeps a bounded set of index metadata documents warm in
// memory, so beginning a transaction doesn't cost a metadata-tablet read on
// every call. Entries are refreshed on a timer rather than invalidated
// per-commit, trading a bounded staleness window for a much simpler cache.
type IndexCache struct {
	mu      sync.RWMutex
	entries map[document.IndexID]document.IndexDefinition
	loader  IndexLoader

	refresh time.Duration
	stopCh  chan struct{}
}

func NewIndexCache(loader IndexLoader, refresh time.Duration) *IndexCache {
	return &IndexCache{
		entries: make(map[document.IndexID]document.IndexDefinition),
		loader:  loader,
		refresh: refresh,
		stopCh:  make(chan struct{}),
	}
}

// Get returns a cached definition if present, loading and caching it
// otherwise.
func (c *IndexCache) Get(id document.IndexID) (document.IndexDefinition, bool, error) {
	c.mu.RLock()
	def, ok := c.entries[id]
	c.mu.RUnlock()
	if ok {
		return def, true, nil
	}

	def, found, err := c.loader(id)
	if err != nil || !found {
		return document.IndexDefinition{}, found, err
	}
	c.mu.Lock()
	c.entries[id] = def
	c.mu.Unlock()
	return def, true, nil
}

// Invalidate drops a single entry, forcing the next Get to reload it. Used
// right after an index's own metadata document commits (state transition,
// snapshot update) so the cache never has to wait out refresh to see it.
func (c *IndexCache) Invalidate(id document.IndexID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

func (c *IndexCache) Start() {
	if c.refresh <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(c.refresh)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.refreshAll()
			case <-c.stopCh:
				return
			}
		}
	}()
}

func (c *IndexCache) refreshAll() {
	c.mu.RLock()
	ids := make([]document.IndexID, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	for _, id := range ids {
		def, found, err := c.loader(id)
		if err != nil {
			continue
		}
		c.mu.Lock()
		if found {
			c.entries[id] = def
		} else {
			delete(c.entries, id)
		}
		c.mu.Unlock()
	}
}

func (c *IndexCache) Stop() { close(c.stopCh) }
