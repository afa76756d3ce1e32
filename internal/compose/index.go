package compose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
)

// ErrNotIndexed is returned by an Index for URLs it holds no content for.
var ErrNotIndexed = errors.New("compose: url not indexed")

// Index resolves provider schema URLs to locally stored content.
type Index interface {
	Lookup(ctx context.Context, url string) ([]byte, error)
}

// IndexFileName is the URL-to-file map expected at the root of a schema
// directory.
const IndexFileName = "schema_index.json"

// DirIndex serves provider schemas from a directory carrying a
// schema_index.json that maps each URL to a file name relative to the
// directory.
type DirIndex struct {
	fsys    fs.FS
	entries map[string]string
}

// OpenDirIndex reads schema_index.json from fsys.
func OpenDirIndex(fsys fs.FS) (*DirIndex, error) {
	data, err := fs.ReadFile(fsys, IndexFileName)
	if err != nil {
		return nil, fmt.Errorf("compose: read %s: %w", IndexFileName, err)
	}
	var entries map[string]string
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("compose: parse %s: %w", IndexFileName, err)
	}
	return &DirIndex{fsys: fsys, entries: entries}, nil
}

// Entries returns the number of indexed URLs.
func (d *DirIndex) Entries() int {
	return len(d.entries)
}

// Each calls fn for every indexed URL and its file name.
func (d *DirIndex) Each(fn func(url, file string)) {
	for u, f := range d.entries {
		fn(u, f)
	}
}

func (d *DirIndex) Lookup(_ context.Context, url string) ([]byte, error) {
	name, ok := d.entries[stripFragment(url)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotIndexed, url)
	}
	data, err := fs.ReadFile(d.fsys, path.Clean(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s (missing %s)", ErrNotIndexed, url, name)
	}
	return data, err
}
