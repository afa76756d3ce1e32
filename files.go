package armls

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"sort"
	"strings"
	"sync"

	"github.com/samvidmistry/Armls/internal/cst"
)

// templateExts are the file extensions treated as template documents.
var templateExts = map[string]bool{
	".json":  true,
	".jsonc": true,
}

// IsTemplateFile reports whether path has a template extension.
func IsTemplateFile(path string) bool {
	return templateExts[strings.ToLower(filepath.Ext(path))]
}

// loadItem holds one file between the read and parse phases.
type loadItem struct {
	path string
	text string
	tree *cst.Tree
	err  error
}

// LoadFiles opens every file in paths as a document, keyed by its absolute
// path, using a three-phase pipeline:
//
//	Phase A (serial):   Read file contents.
//	Phase B (parallel): Parse via worker pool.
//	Phase C (serial):   Record parsed documents.
//
// Errors on individual files are collected and do not stop the others. The
// returned keys are those of the files that were opened, in input order.
func (e *Engine) LoadFiles(ctx context.Context, paths []string) ([]string, error) {
	var errs []error

	// ---- Phase A: Serial read ----
	items := make([]*loadItem, 0, len(paths))
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("read %s: %w", path, err))
			continue
		}
		items = append(items, &loadItem{path: absPath(path), text: string(content)})
	}

	// ---- Phase B: Parallel parse ----
	if len(items) > 0 {
		numWorkers := max(min(goruntime.NumCPU(), len(items)), 1)
		workCh := make(chan *loadItem, len(items))
		for _, item := range items {
			workCh <- item
		}
		close(workCh)

		var wg sync.WaitGroup
		for range numWorkers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for item := range workCh {
					item.tree, item.err = cst.ParseString(ctx, item.text)
				}
			}()
		}
		wg.Wait()
	}

	// ---- Phase C: Serial record ----
	var opened []string
	for _, item := range items {
		if item.err != nil {
			errs = append(errs, fmt.Errorf("parse %s: %w", item.path, item.err))
			continue
		}
		e.docs.Put(item.path, item.text, item.tree)
		opened = append(opened, item.path)
	}

	if len(errs) > 0 {
		return opened, fmt.Errorf("loading had %d error(s): %w", len(errs), errs[0])
	}
	return opened, nil
}

// skipDirs are excluded from directory walks.
var skipDirs = map[string]bool{
	"node_modules": true,
	"bin":          true,
	"obj":          true,
}

// ListFiles returns the template files under root, sorted. Inside a git
// repository git ls-files is used so .gitignore is respected; otherwise the
// filesystem is walked, skipping hidden directories and build output.
func ListFiles(root string) ([]string, error) {
	paths, err := gitListFiles(root)
	if err != nil {
		log.Debugf("git ls-files in %s: %v", root, err)
		paths, err = walkListFiles(root)
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// gitListFiles lists tracked and untracked, non-ignored template files.
func gitListFiles(root string) ([]string, error) {
	cmd := exec.Command("git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git ls-files: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var paths []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if IsTemplateFile(line) {
			paths = append(paths, filepath.Join(root, line))
		}
	}
	return paths, nil
}

func walkListFiles(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (strings.HasPrefix(name, ".") || skipDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		if IsTemplateFile(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}
	return paths, nil
}
