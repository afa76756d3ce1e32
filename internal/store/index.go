package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samvidmistry/Armls/internal/compose"
)

// workItem is one schema file waiting to be hashed.
type workItem struct {
	path string
	rel  string
	old  *Entry
}

type result struct {
	entry     *Entry
	unchanged bool
	err       error
}

// IndexDirectory catalogs every *.json schema under root. A schema's URL is
// its own id when it declares one, otherwise baseURL joined with its path
// relative to root. Files whose content hash is unchanged are skipped, and
// entries for files under root that no longer exist are removed.
func (s *Store) IndexDirectory(ctx context.Context, root, baseURL string) (Stats, error) {
	var stats Stats
	root, err := filepath.Abs(root)
	if err != nil {
		return stats, fmt.Errorf("index %s: %w", root, err)
	}

	// ---- Phase A: Serial discovery ----
	existing, err := s.Schemas()
	if err != nil {
		return stats, err
	}
	byPath := make(map[string]*Entry, len(existing))
	for _, e := range existing {
		byPath[e.Path] = e
	}

	var items []workItem
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".json" || d.Name() == compose.IndexFileName {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		items = append(items, workItem{path: path, rel: filepath.ToSlash(rel), old: byPath[path]})
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("walk directory: %w", err)
	}

	// ---- Phase B: Parallel hashing ----
	numWorkers := max(min(runtime.NumCPU(), len(items)), 1)

	workCh := make(chan workItem, len(items))
	for _, item := range items {
		workCh <- item
	}
	close(workCh)

	resultCh := make(chan result, len(items))
	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range workCh {
				if ctx.Err() != nil {
					resultCh <- result{err: ctx.Err()}
					continue
				}
				resultCh <- hashSchema(item, baseURL)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	var (
		errs    []error
		changed []*Entry
	)
	for res := range resultCh {
		switch {
		case res.err != nil:
			errs = append(errs, res.err)
		case res.unchanged:
			stats.Unchanged++
		default:
			changed = append(changed, res.entry)
		}
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	// ---- Phase C: Serial commit ----
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		seen[item.path] = true
	}
	var stale []string
	prefix := root + string(filepath.Separator)
	for path, e := range byPath {
		if strings.HasPrefix(path, prefix) && !seen[path] {
			stale = append(stale, e.URL)
		}
	}
	sort.Strings(stale)

	tx, err := s.db.Begin()
	if err != nil {
		return stats, fmt.Errorf("index: begin: %w", err)
	}
	defer tx.Rollback()
	for _, e := range changed {
		if err := upsertSchemaTx(tx, e); err != nil {
			return stats, fmt.Errorf("index: upsert %s: %w", e.URL, err)
		}
	}
	for _, url := range stale {
		if _, err := tx.Exec("DELETE FROM schemas WHERE url = ?", url); err != nil {
			return stats, fmt.Errorf("index: delete %s: %w", url, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("index: commit: %w", err)
	}
	stats.Indexed = len(changed)
	stats.Removed = len(stale)
	log.Infof("indexed %s: %d new or changed, %d unchanged, %d removed", root, stats.Indexed, stats.Unchanged, stats.Removed)

	if len(errs) > 0 {
		return stats, fmt.Errorf("indexing had %d error(s): %w", len(errs), errs[0])
	}
	return stats, nil
}

// hashSchema reads one file and derives its catalog entry.
func hashSchema(item workItem, baseURL string) result {
	content, err := os.ReadFile(item.path)
	if err != nil {
		return result{err: fmt.Errorf("read %s: %w", item.path, err)}
	}
	hash := ContentHash(content)
	if item.old != nil && item.old.Hash == hash {
		return result{unchanged: true}
	}

	var header struct {
		ID       string `json:"id"`
		SchemaID string `json:"$id"`
	}
	if err := json.Unmarshal(content, &header); err != nil {
		return result{err: fmt.Errorf("parse %s: %w", item.path, err)}
	}
	url := header.SchemaID
	if url == "" {
		url = header.ID
	}
	if url == "" {
		url = baseURL + item.rel
	}
	return result{entry: &Entry{
		URL:       normalizeURL(url),
		Path:      item.path,
		Hash:      hash,
		IndexedAt: time.Now(),
	}}
}

// ImportIndex catalogs the URL-to-file map of a schema_index.json found in
// dir. Entries whose file is missing are skipped.
func (s *Store) ImportIndex(ctx context.Context, dir string) (Stats, error) {
	var stats Stats
	dir, err := filepath.Abs(dir)
	if err != nil {
		return stats, fmt.Errorf("import %s: %w", dir, err)
	}
	idx, err := compose.OpenDirIndex(os.DirFS(dir))
	if err != nil {
		return stats, err
	}

	var entries []*Entry
	idx.Each(func(url, file string) {
		path := filepath.Join(dir, filepath.FromSlash(file))
		content, err := os.ReadFile(path)
		if err != nil {
			log.Warningf("skipping %s: %v", url, err)
			return
		}
		entries = append(entries, &Entry{URL: url, Path: path, Hash: ContentHash(content), IndexedAt: time.Now()})
	})
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return stats, fmt.Errorf("import: begin: %w", err)
	}
	defer tx.Rollback()
	for _, e := range entries {
		if err := upsertSchemaTx(tx, e); err != nil {
			return stats, fmt.Errorf("import: upsert %s: %w", e.URL, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("import: commit: %w", err)
	}
	stats.Indexed = len(entries)
	return stats, nil
}
