package api

import (
	"sync"

	"github.com/cuemby/flux/pkg/document"
	"github.com/cuemby/flux/pkg/ferrors"
)

// indexSet is the live, in-memory set of index definitions, keyed by
// tablet for the committer's lookups and by id for direct access from
// CreateDatabaseIndex/CreateTextIndex and the text search path. It is the
// committer.IndexProvider implementation.
type indexSet struct {
	mu       sync.RWMutex
	byTablet map[document.TabletID][]document.IndexDefinition
	byID     map[document.IndexID]document.IndexDefinition
}

func newIndexSet() *indexSet {
	return &indexSet{
		byTablet: make(map[document.TabletID][]document.IndexDefinition),
		byID:     make(map[document.IndexID]document.IndexDefinition),
	}
}

// Indexes implements committer.IndexProvider.
func (s *indexSet) Indexes(tablet document.TabletID) []document.IndexDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]document.IndexDefinition(nil), s.byTablet[tablet]...)
}

func (s *indexSet) Get(id document.IndexID) (document.IndexDefinition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.byID[id]
	return def, ok
}

// Add registers a new index definition, starting in Backfilling state
// regardless of what the caller set, since a freshly created index has by
// definition not backfilled anything yet.
func (s *indexSet) Add(def document.IndexDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[def.ID]; exists {
		return ferrors.New(ferrors.BadRequest, "index %s already exists", def.ID)
	}
	def.State = document.Backfilling
	s.byID[def.ID] = def
	s.byTablet[def.Tablet] = append(s.byTablet[def.Tablet], def)
	return nil
}

// SetState transitions an index's lifecycle state (Backfilling ->
// Backfilled -> Enabled), updating both lookup maps in lockstep.
func (s *indexSet) SetState(id document.IndexID, state document.IndexState) error {
	return s.update(id, func(def *document.IndexDefinition) { def.State = state })
}

// SetOnDisk records a text/vector index's on-disk snapshot pointer, called
// by the flusher's IndexSnapshotSink after every flush/fast-forward.
func (s *indexSet) SetOnDisk(id document.IndexID, state document.OnDiskIndexState) error {
	return s.update(id, func(def *document.IndexDefinition) { def.OnDisk = &state })
}

func (s *indexSet) update(id document.IndexID, mutate func(*document.IndexDefinition)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.byID[id]
	if !ok {
		return ferrors.New(ferrors.NotFound, "index %s not found", id)
	}
	mutate(&def)
	s.byID[id] = def
	rows := s.byTablet[def.Tablet]
	for i := range rows {
		if rows[i].ID == id {
			rows[i] = def
		}
	}
	return nil
}

// Remove drops an index definition entirely.
func (s *indexSet) Remove(id document.IndexID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.byID[id]
	if !ok {
		return
	}
	delete(s.byID, id)
	rows := s.byTablet[def.Tablet]
	for i, row := range rows {
		if row.ID == id {
			s.byTablet[def.Tablet] = append(rows[:i], rows[i+1:]...)
			break
		}
	}
}
