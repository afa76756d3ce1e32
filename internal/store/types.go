package store

import "time"

// Entry is one cataloged provider schema.
type Entry struct {
	URL       string
	Path      string
	Hash      string
	IndexedAt time.Time
}

// Stats summarizes one indexing run.
type Stats struct {
	Indexed   int
	Unchanged int
	Removed   int
}
