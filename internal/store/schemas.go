package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/samvidmistry/Armls/internal/compose"
)

// Compile-time check: *Store resolves provider URLs for the composer.
var _ compose.Index = (*Store)(nil)

// --- Schema operations ---

const upsertSchemaSQL = `INSERT INTO schemas (url, path, hash, indexed_at) VALUES (?, ?, ?, ?)
ON CONFLICT(url) DO UPDATE SET path = excluded.path, hash = excluded.hash, indexed_at = excluded.indexed_at`

func (s *Store) UpsertSchema(e *Entry) error {
	e.URL = normalizeURL(e.URL)
	if _, err := s.db.Exec(upsertSchemaSQL, e.URL, e.Path, e.Hash, e.IndexedAt); err != nil {
		return fmt.Errorf("upsert schema: %w", err)
	}
	return nil
}

func upsertSchemaTx(tx *sql.Tx, e *Entry) error {
	e.URL = normalizeURL(e.URL)
	_, err := tx.Exec(upsertSchemaSQL, e.URL, e.Path, e.Hash, e.IndexedAt)
	return err
}

func (s *Store) SchemaByURL(url string) (*Entry, error) {
	e := &Entry{}
	err := s.db.QueryRow(
		"SELECT url, path, hash, indexed_at FROM schemas WHERE url = ?", normalizeURL(url),
	).Scan(&e.URL, &e.Path, &e.Hash, &e.IndexedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("schema by url: %w", err)
	}
	return e, nil
}

// Schemas returns every cataloged entry ordered by URL.
func (s *Store) Schemas() ([]*Entry, error) {
	rows, err := s.db.Query("SELECT url, path, hash, indexed_at FROM schemas ORDER BY url")
	if err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	defer rows.Close()
	var out []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.URL, &e.Path, &e.Hash, &e.IndexedAt); err != nil {
			return nil, fmt.Errorf("scan schema: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSchema(url string) error {
	if _, err := s.db.Exec("DELETE FROM schemas WHERE url = ?", normalizeURL(url)); err != nil {
		return fmt.Errorf("delete schema: %w", err)
	}
	return nil
}

// Lookup reads the file cataloged for url. URLs without an entry, or whose
// file has since disappeared, report compose.ErrNotIndexed.
func (s *Store) Lookup(ctx context.Context, url string) ([]byte, error) {
	var path string
	err := s.db.QueryRowContext(ctx, "SELECT path FROM schemas WHERE url = ?", normalizeURL(url)).Scan(&path)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", compose.ErrNotIndexed, url)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", url, err)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Debugf("cataloged file vanished: %s", path)
		return nil, fmt.Errorf("%w: %s (missing %s)", compose.ErrNotIndexed, url, path)
	}
	return data, err
}

// normalizeURL drops the fragment, including the empty "#" schema ids carry.
func normalizeURL(url string) string {
	if i := strings.IndexByte(url, '#'); i >= 0 {
		return url[:i]
	}
	return url
}
