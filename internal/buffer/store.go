// Package buffer holds the latest text and syntax tree of every known
// document.
package buffer

import (
	"sort"
	"sync"

	"github.com/samvidmistry/Armls/internal/cst"
)

// Document is one known file. Text and Tree are replaced together on every
// edit and never mutated in place.
type Document struct {
	Path  string
	Text  string
	Tree  *cst.Tree
	Dirty bool
}

// Store maps document paths to their latest Document. Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	docs map[string]*Document
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{docs: make(map[string]*Document)}
}

// Put inserts or replaces the document at path and marks it dirty.
func (s *Store) Put(path, text string, tree *cst.Tree) {
	doc := &Document{Path: path, Text: text, Tree: tree, Dirty: true}
	s.mu.Lock()
	s.docs[path] = doc
	s.mu.Unlock()
}

// Get returns the document at path. ok is false for unknown paths.
func (s *Store) Get(path string) (doc Document, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[path]
	if !ok {
		return Document{}, false
	}
	return *d, true
}

// Delete forgets the document at path.
func (s *Store) Delete(path string) {
	s.mu.Lock()
	delete(s.docs, path)
	s.mu.Unlock()
}

// AllDirty returns a snapshot of every document not yet analyzed.
func (s *Store) AllDirty() map[string]Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Document)
	for path, d := range s.docs {
		if d.Dirty {
			out[path] = *d
		}
	}
	return out
}

// ClearDirty marks every document analyzed.
func (s *Store) ClearDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.docs {
		d.Dirty = false
	}
}

// MarkAnalyzed clears the dirty flag for the given snapshot only. Documents
// replaced since the snapshot was taken stay dirty.
func (s *Store) MarkAnalyzed(snapshot map[string]Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for path, seen := range snapshot {
		if d, ok := s.docs[path]; ok && d.Tree == seen.Tree {
			d.Dirty = false
		}
	}
}

// Paths returns every known path in sorted order.
func (s *Store) Paths() []string {
	s.mu.RLock()
	paths := make([]string, 0, len(s.docs))
	for p := range s.docs {
		paths = append(paths, p)
	}
	s.mu.RUnlock()
	sort.Strings(paths)
	return paths
}
